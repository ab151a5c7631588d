package imageio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"turboreg/internal/models"
)

// ErrNoSlices is returned when a directory holds no readable slice
var ErrNoSlices = errors.New("no slice images found")

// ListSlices returns the image files of dir, ordered by the number embedded
// in their names so that slice_2 precedes slice_10.
func ListSlices(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read slice directory")
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, err := FormatFromPath(entry.Name()); err == nil {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(ErrNoSlices, "in %s", dir)
	}

	sort.SliceStable(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})
	return files, nil
}

// extractNumber concatenates the digits of a file name
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}
	if numStr != "" {
		if num, err := strconv.Atoi(numStr); err == nil {
			return num
		}
	}
	return 0
}

// LoadStack reads every slice of dir into a stack. All slices must share
// the dimensions of the first one.
func LoadStack(dir string, signed16 bool) (*models.Stack, []string, error) {
	files, err := ListSlices(dir)
	if err != nil {
		return nil, nil, err
	}

	st := &models.Stack{}
	for _, name := range files {
		img, err := Load(filepath.Join(dir, name), signed16)
		if err != nil {
			return nil, nil, err
		}
		if len(st.Slices) == 0 {
			st.Width, st.Height = img.Width, img.Height
		} else if img.Width != st.Width || img.Height != st.Height {
			return nil, nil, errors.Wrapf(ErrUnsupportedImage, "%s is %dx%d, stack is %dx%d",
				name, img.Width, img.Height, st.Width, st.Height)
		}
		st.Slices = append(st.Slices, img)
	}
	return st, files, nil
}

// SaveStack writes each slice as dir/prefix_NNN with the format's extension
func SaveStack(dir, prefix string, st *models.Stack, f Format, opts SaveOptions) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create stack directory")
	}
	paths := make([]string, 0, st.Depth())
	for i, slice := range st.Slices {
		path := filepath.Join(dir, fmt.Sprintf("%s_%03d%s", prefix, i, f.Extension()))
		if err := Save(path, slice, opts); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Reslice extracts an orthogonal view of a stack. Axis "x" returns the
// depth x height plane at column pos, axis "y" the width x depth plane at
// row pos and axis "z" a copy of slice pos.
func Reslice(st *models.Stack, axis string, pos int) (*models.Image, error) {
	if pos < 0 {
		return nil, errors.Errorf("position must be non-negative, got %d", pos)
	}
	depth := st.Depth()

	switch axis {
	case "x", "X":
		if pos >= st.Width {
			return nil, errors.Errorf("position %d exceeds width %d", pos, st.Width)
		}
		img := models.NewImage(depth, st.Height)
		for z, slice := range st.Slices {
			for y := 0; y < st.Height; y++ {
				img.Set(z, y, slice.At(pos, y))
			}
		}
		return img, nil

	case "y", "Y":
		if pos >= st.Height {
			return nil, errors.Errorf("position %d exceeds height %d", pos, st.Height)
		}
		img := models.NewImage(st.Width, depth)
		for z, slice := range st.Slices {
			copy(img.Pix[z*st.Width:(z+1)*st.Width], slice.Pix[pos*st.Width:(pos+1)*st.Width])
		}
		return img, nil

	case "z", "Z":
		if pos >= depth {
			return nil, errors.Errorf("position %d exceeds depth %d", pos, depth)
		}
		return st.Slices[pos].Clone(), nil
	}
	return nil, errors.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// SaveOrthogonalViews writes the central x and y reslices of a stack, which
// show residual drift as jagged edges.
func SaveOrthogonalViews(dir, prefix string, st *models.Stack, f Format, opts SaveOptions) ([]string, error) {
	var paths []string
	for _, view := range []struct {
		axis string
		pos  int
	}{
		{"x", st.Width / 2},
		{"y", st.Height / 2},
	} {
		img, err := Reslice(st, view.axis, view.pos)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s_%03d%s", prefix, view.axis, view.pos, f.Extension()))
		if err := Save(path, img, opts); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
