// Package transform defines the supported geometric models, the landmark
// correspondences that parameterise them and the closed-form solver turning
// landmarks into a 2x3 matrix.
package transform

import (
	"strings"

	"github.com/pkg/errors"
)

// Type selects the geometric model of a registration
type Type int

const (
	Translation Type = iota
	RigidBody
	ScaledRotation
	Affine
)

// ErrUnknownTransform is returned for names or values outside the enumeration
var ErrUnknownTransform = errors.New("unknown transformation")

var typeNames = map[Type]string{
	Translation:    "translation",
	RigidBody:      "rigid-body",
	ScaledRotation: "scaled-rotation",
	Affine:         "affine",
}

// Types lists every supported model
func Types() []Type {
	return []Type{Translation, RigidBody, ScaledRotation, Affine}
}

// Valid reports whether t is a supported model
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// Params returns the number of degrees of freedom of the model
func (t Type) Params() int {
	switch t {
	case Translation:
		return 2
	case RigidBody:
		return 3
	case ScaledRotation:
		return 4
	case Affine:
		return 6
	}
	return 0
}

// Points returns the number of landmark pairs the model needs. Rigid-body
// transforms use a pivot plus two points fixing the orientation.
func (t Type) Points() int {
	switch t {
	case Translation:
		return 1
	case RigidBody:
		return 3
	case ScaledRotation:
		return 2
	case Affine:
		return 3
	}
	return 0
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseType accepts the canonical names plus a few common aliases
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "translation", "translate":
		return Translation, nil
	case "rigid-body", "rigid_body", "rigidbody", "rigid":
		return RigidBody, nil
	case "scaled-rotation", "scaled_rotation", "scaledrotation", "similarity":
		return ScaledRotation, nil
	case "affine":
		return Affine, nil
	}
	return 0, errors.Wrapf(ErrUnknownTransform, "%q", s)
}

// MarshalText implements encoding.TextMarshaler
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, errors.Wrapf(ErrUnknownTransform, "%d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
