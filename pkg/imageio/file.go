package imageio

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"

	"turboreg/internal/models"
)

// Format is an image file format
type Format string

// Supported formats
const (
	FormatTIFF Format = "tiff"
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// FormatFromPath infers the format from the file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return FormatTIFF, nil
	case ".png":
		return FormatPNG, nil
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	}
	return "", errors.Wrapf(ErrUnsupportedFormat, "%q", filepath.Base(path))
}

// Extension returns the file extension written for f
func (f Format) Extension() string {
	switch f {
	case FormatTIFF:
		return ".tif"
	case FormatJPEG:
		return ".jpg"
	}
	return ".png"
}

// SaveOptions control how float grids are written
type SaveOptions struct {
	// Rescale stretches the sample range to the full output range
	Rescale bool

	// Signed16 adds the 32768 bias before writing 16-bit samples
	Signed16 bool

	// Quality is the JPEG quality, 90 when zero
	Quality int

	// Float32 writes TIFF samples as unscaled 32-bit floats; Rescale and
	// Signed16 are then ignored. Other formats ignore it.
	Float32 bool
}

// Decode reads an image in the given format
func Decode(r io.Reader, f Format) (image.Image, error) {
	switch f {
	case FormatTIFF:
		return tiff.Decode(r)
	case FormatPNG:
		return png.Decode(r)
	case FormatJPEG:
		return jpeg.Decode(r)
	}
	return nil, errors.Wrapf(ErrUnsupportedFormat, "%q", string(f))
}

// Load reads a grayscale image file as a float grid. 32-bit float TIFFs keep
// their samples unchanged and ignore signed16.
func Load(path string, signed16 bool) (*models.Image, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}

	if f == FormatTIFF {
		if out, ok, err := decodeFloatTIFF(data); ok {
			if err != nil {
				return nil, errors.Wrapf(err, "decode %s", filepath.Base(path))
			}
			return out, nil
		}
	}

	img, err := Decode(bytes.NewReader(data), f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", filepath.Base(path))
	}
	out, err := FromImage(img, signed16)
	if err != nil {
		return nil, errors.Wrap(err, filepath.Base(path))
	}
	return out, nil
}

// Encode writes img in the given format. TIFF and PNG are written with
// 16-bit samples, or TIFF with 32-bit float samples when opts.Float32 is set,
// and JPEG with 8-bit samples.
func Encode(w io.Writer, img *models.Image, f Format, opts SaveOptions) error {
	switch f {
	case FormatTIFF:
		if opts.Float32 {
			return encodeFloatTIFF(w, img)
		}
		return tiff.Encode(w, ToGray16(img, opts.Rescale, opts.Signed16), &tiff.Options{Compression: tiff.Deflate})
	case FormatPNG:
		return png.Encode(w, ToGray16(img, opts.Rescale, opts.Signed16))
	case FormatJPEG:
		quality := opts.Quality
		if quality <= 0 {
			quality = 90
		}
		return jpeg.Encode(w, ToGray(img, opts.Rescale), &jpeg.Options{Quality: quality})
	}
	return errors.Wrapf(ErrUnsupportedFormat, "%q", string(f))
}

// Save writes img to path, creating the parent directory and choosing the
// format from the extension.
func Save(path string, img *models.Image, opts SaveOptions) error {
	f, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create image file")
	}
	if err := Encode(file, img, f, opts); err != nil {
		file.Close()
		return errors.Wrapf(err, "encode %s", filepath.Base(path))
	}
	return file.Close()
}

// LoadMask reads a mask image; every nonzero pixel is valid
func LoadMask(path string) (*models.Mask, error) {
	img, err := Load(path, false)
	if err != nil {
		return nil, err
	}
	m := models.NewMask(img.Width, img.Height)
	for i, v := range img.Pix {
		if v != 0 {
			m.Pix[i] = 1
		}
	}
	return m, nil
}

// MaskImage converts a mask to an image with 0 and 255 samples
func MaskImage(m *models.Mask) *models.Image {
	img := models.NewImage(m.Width, m.Height)
	for i, v := range m.Pix {
		if v != 0 {
			img.Pix[i] = 255
		}
	}
	return img
}
