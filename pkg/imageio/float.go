package imageio

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"turboreg/internal/models"
)

// TIFF tags and field types read or written for float grids
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339

	typeShort = 3
	typeLong  = 4

	sampleFormatFloat = 3
)

// ifdEntry is one 12-byte directory entry. Values of four bytes or less are
// stored inline in Value.
type ifdEntry struct {
	Tag   uint16
	Type  uint16
	Count uint32
	Value uint32
}

// floatHeader is the fixed part of a little-endian TIFF file
type floatHeader struct {
	Order  [2]byte
	Magic  uint16
	Offset uint32
}

// tiffDirectory is the first image file directory of a TIFF file
type tiffDirectory struct {
	data    []byte
	order   binary.ByteOrder
	entries map[uint16]ifdEntry
	raw     map[uint16][4]byte
}

func readDirectory(data []byte) (*tiffDirectory, error) {
	if len(data) < 8 {
		return nil, errors.New("tiff header truncated")
	}
	d := &tiffDirectory{data: data, entries: map[uint16]ifdEntry{}, raw: map[uint16][4]byte{}}
	switch string(data[:2]) {
	case "II":
		d.order = binary.LittleEndian
	case "MM":
		d.order = binary.BigEndian
	default:
		return nil, errors.New("not a tiff file")
	}
	if d.order.Uint16(data[2:4]) != 42 {
		return nil, errors.New("not a tiff file")
	}

	r := bytes.NewReader(data)
	if _, err := r.Seek(int64(d.order.Uint32(data[4:8])), io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek tiff directory")
	}
	var n uint16
	if err := binary.Read(r, d.order, &n); err != nil {
		return nil, errors.Wrap(err, "read tiff directory")
	}
	for i := 0; i < int(n); i++ {
		var e struct {
			Tag   uint16
			Type  uint16
			Count uint32
			Raw   [4]byte
		}
		if err := binary.Read(r, d.order, &e); err != nil {
			return nil, errors.Wrap(err, "read tiff directory entry")
		}
		d.entries[e.Tag] = ifdEntry{Tag: e.Tag, Type: e.Type, Count: e.Count}
		d.raw[e.Tag] = e.Raw
	}
	return d, nil
}

// values returns every element of a SHORT or LONG field, def when absent
func (d *tiffDirectory) values(tag uint16, def uint32) ([]uint32, error) {
	e, ok := d.entries[tag]
	if !ok {
		return []uint32{def}, nil
	}
	size := 2
	switch e.Type {
	case typeShort:
	case typeLong:
		size = 4
	default:
		return nil, errors.Errorf("tiff tag %d has field type %d", tag, e.Type)
	}
	raw := d.raw[tag]
	src := raw[:]
	if n := int(e.Count) * size; n > 4 {
		off := int(d.order.Uint32(raw[:]))
		if off < 0 || off+n > len(d.data) {
			return nil, errors.Errorf("tiff tag %d points outside the file", tag)
		}
		src = d.data[off : off+n]
	}
	out := make([]uint32, e.Count)
	for i := range out {
		if size == 2 {
			out[i] = uint32(d.order.Uint16(src[2*i:]))
		} else {
			out[i] = d.order.Uint32(src[4*i:])
		}
	}
	return out, nil
}

func (d *tiffDirectory) value(tag uint16, def uint32) (uint32, error) {
	v, err := d.values(tag, def)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, errors.Errorf("tiff tag %d is empty", tag)
	}
	return v[0], nil
}

// decodeFloatTIFF reads an uncompressed single-channel 32-bit float TIFF.
// ok is false when data holds a TIFF with integer samples.
func decodeFloatTIFF(data []byte) (img *models.Image, ok bool, err error) {
	d, err := readDirectory(data)
	if err != nil {
		return nil, false, err
	}
	format, err := d.value(tagSampleFormat, 1)
	if err != nil || format != sampleFormatFloat {
		return nil, false, err
	}

	var width, height, bits, compression, samples uint32
	for _, f := range []struct {
		tag uint16
		def uint32
		dst *uint32
	}{
		{tagImageWidth, 0, &width},
		{tagImageLength, 0, &height},
		{tagBitsPerSample, 1, &bits},
		{tagCompression, 1, &compression},
		{tagSamplesPerPixel, 1, &samples},
	} {
		if *f.dst, err = d.value(f.tag, f.def); err != nil {
			return nil, true, err
		}
	}
	if bits != 32 || samples != 1 || compression != 1 {
		return nil, true, errors.Wrapf(ErrUnsupportedImage,
			"float tiff with %d bits, %d samples and compression %d", bits, samples, compression)
	}

	offsets, err := d.values(tagStripOffsets, 0)
	if err != nil {
		return nil, true, err
	}
	counts, err := d.values(tagStripByteCounts, 0)
	if err != nil {
		return nil, true, err
	}
	if len(offsets) != len(counts) {
		return nil, true, errors.New("tiff strip offsets and byte counts differ in length")
	}

	need := int(width) * int(height) * 4
	pix := make([]byte, 0, need)
	for i, off := range offsets {
		start, end := int(off), int(off)+int(counts[i])
		if end > len(data) {
			return nil, true, errors.Errorf("tiff strip %d points outside the file", i)
		}
		pix = append(pix, data[start:end]...)
	}
	if len(pix) < need {
		return nil, true, errors.Errorf("tiff holds %d sample bytes, %dx%d needs %d", len(pix), width, height, need)
	}

	grid := make([]float32, int(width)*int(height))
	for i := range grid {
		grid[i] = math.Float32frombits(d.order.Uint32(pix[4*i:]))
	}
	img, err = FromFloat32(int(width), int(height), grid)
	return img, true, err
}

// encodeFloatTIFF writes img as an uncompressed little-endian 32-bit float
// TIFF with a single strip. Samples are written unchanged.
func encodeFloatTIFF(w io.Writer, img *models.Image) error {
	n := uint32(4 * img.Width * img.Height)
	grid := make([]float32, len(img.Pix))
	for i, v := range img.Pix {
		grid[i] = float32(v)
	}

	entries := []ifdEntry{
		{tagImageWidth, typeLong, 1, uint32(img.Width)},
		{tagImageLength, typeLong, 1, uint32(img.Height)},
		{tagBitsPerSample, typeShort, 1, 32},
		{tagCompression, typeShort, 1, 1},
		{tagPhotometric, typeShort, 1, 1},
		{tagStripOffsets, typeLong, 1, 8},
		{tagSamplesPerPixel, typeShort, 1, 1},
		{tagRowsPerStrip, typeLong, 1, uint32(img.Height)},
		{tagStripByteCounts, typeLong, 1, n},
		{tagPlanarConfig, typeShort, 1, 1},
		{tagSampleFormat, typeShort, 1, sampleFormatFloat},
	}

	for _, part := range []interface{}{
		floatHeader{Order: [2]byte{'I', 'I'}, Magic: 42, Offset: 8 + n},
		grid,
		uint16(len(entries)),
		entries,
		uint32(0),
	} {
		if err := binary.Write(w, binary.LittleEndian, part); err != nil {
			return errors.Wrap(err, "write float tiff")
		}
	}
	return nil
}
