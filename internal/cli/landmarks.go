package cli

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"turboreg/pkg/transform"
)

// landmarkFile is the YAML document written after a registration. It can be
// fed back as the initial landmarks of another run.
type landmarkFile struct {
	Source      string                 `yaml:"source,omitempty"`
	Target      string                 `yaml:"target,omitempty"`
	Landmarks   *transform.LandmarkSet `yaml:"landmarks"`
	Matrix      transform.Matrix       `yaml:"matrix"`
	MeanSquares float64                `yaml:"meanSquares"`
}

// stackTransforms is the YAML document written after a stack alignment
type stackTransforms struct {
	Transform string           `yaml:"transform"`
	Mode      string           `yaml:"mode"`
	Reference int              `yaml:"reference"`
	Slices    []sliceTransform `yaml:"slices"`
}

type sliceTransform struct {
	Index       int              `yaml:"index"`
	File        string           `yaml:"file"`
	Matrix      transform.Matrix `yaml:"matrix"`
	MeanSquares float64          `yaml:"meanSquares,omitempty"`
}

func readLandmarks(path string) (*landmarkFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read landmarks")
	}
	var file landmarkFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "parse landmarks %s", filepath.Base(path))
	}
	if file.Landmarks == nil {
		return nil, errors.Errorf("%s has no landmarks section", filepath.Base(path))
	}
	if err := file.Landmarks.Validate(); err != nil {
		return nil, errors.Wrap(err, filepath.Base(path))
	}
	return &file, nil
}

func writeYAML(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "write")
}

func writeLandmarks(path string, file *landmarkFile) error {
	return errors.Wrap(writeYAML(path, file), "landmarks")
}
