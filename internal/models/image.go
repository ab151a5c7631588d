package models

// Image is a single-channel grid of floating-point samples in row-major order.
// Depending on the stage of processing it holds raw pixel values, B-spline
// coefficients or directional gradients.
type Image struct {
	// Width is the number of columns
	Width int

	// Height is the number of rows
	Height int

	// Pix holds Width*Height samples, row after row
	Pix []float64
}

// NewImage allocates a zero-filled image
func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height),
	}
}

// At returns the sample at (x, y)
func (img *Image) At(x, y int) float64 {
	return img.Pix[y*img.Width+x]
}

// Set stores a sample at (x, y)
func (img *Image) Set(x, y int, v float64) {
	img.Pix[y*img.Width+x] = v
}

// Clone returns a deep copy
func (img *Image) Clone() *Image {
	out := NewImage(img.Width, img.Height)
	copy(out.Pix, img.Pix)
	return out
}

// Valid reports whether the buffer matches the declared dimensions
func (img *Image) Valid() bool {
	return img != nil && img.Width > 0 && img.Height > 0 && len(img.Pix) == img.Width*img.Height
}

// Mask marks which pixels of an Image take part in registration.
// A zero weight excludes the pixel; any nonzero weight includes it.
type Mask struct {
	Width  int
	Height int
	Pix    []float64
}

// NewMask allocates an all-zero (fully excluded) mask
func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height),
	}
}

// FullMask allocates a mask in which every pixel is valid
func FullMask(width, height int) *Mask {
	m := NewMask(width, height)
	for i := range m.Pix {
		m.Pix[i] = 1.0
	}
	return m
}

// Valid reports whether the buffer matches the declared dimensions
func (m *Mask) Valid() bool {
	return m != nil && m.Width > 0 && m.Height > 0 && len(m.Pix) == m.Width*m.Height
}

// Stack represents an ordered sequence of equally sized slices
type Stack struct {
	// Width and Height are shared by every slice
	Width  int
	Height int

	// Slices holds the slice images in acquisition order
	Slices []*Image
}

// NewStack allocates a stack of zero-filled slices
func NewStack(width, height, depth int) *Stack {
	s := &Stack{Width: width, Height: height, Slices: make([]*Image, depth)}
	for i := range s.Slices {
		s.Slices[i] = NewImage(width, height)
	}
	return s
}

// Depth returns the number of slices
func (s *Stack) Depth() int {
	return len(s.Slices)
}
