package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"
)

// GeoTIFF tags carrying the pixel-to-geographic mapping. A pixel scale plus
// one tiepoint is the layout Earth Engine and most exporters write.
const (
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
)

const tiffTypeDouble = 12

var ErrNoGeoreference = errors.New("tiff carries no georeferencing tags")

// OpenGeoTIFF loads a georeferenced TIFF as a Raster. Pixel data is decoded
// with the standard TIFF decoder, so band count follows the image color
// model: grayscale becomes one band, color becomes three.
func OpenGeoTIFF(path string) (*Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	transform, err := parseGeoTags(data)
	if err != nil {
		return nil, fmt.Errorf("georeference %s: %w", path, err)
	}
	return fromImage(filepath.Base(path), img, transform)
}

func fromImage(tileID string, img image.Image, transform Affine) (*Raster, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch m := img.(type) {
	case *image.Gray:
		r, err := New(tileID, 1, w, h, transform)
		if err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r.Set(0, y, x, float64(m.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
		return r, nil
	case *image.Gray16:
		r, err := New(tileID, 1, w, h, transform)
		if err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r.Set(0, y, x, float64(m.Gray16At(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
		return r, nil
	default:
		r, err := New(tileID, 3, w, h, transform)
		if err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				cr, cg, cb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				r.Set(0, y, x, float64(cr>>8))
				r.Set(1, y, x, float64(cg>>8))
				r.Set(2, y, x, float64(cb>>8))
			}
		}
		return r, nil
	}
}

// parseGeoTags walks the first IFD of a TIFF byte stream and builds the
// affine transform from the ModelPixelScale and ModelTiepoint tags.
func parseGeoTags(data []byte) (Affine, error) {
	if len(data) < 8 {
		return Affine{}, errors.New("truncated tiff header")
	}
	var order binary.ByteOrder
	switch {
	case data[0] == 'I' && data[1] == 'I':
		order = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		order = binary.BigEndian
	default:
		return Affine{}, errors.New("not a tiff stream")
	}
	if order.Uint16(data[2:4]) != 42 {
		return Affine{}, errors.New("bad tiff magic")
	}

	ifd := int(order.Uint32(data[4:8]))
	if ifd+2 > len(data) {
		return Affine{}, errors.New("ifd offset out of range")
	}
	count := int(order.Uint16(data[ifd : ifd+2]))

	var scale, tiepoint []float64
	for i := 0; i < count; i++ {
		entry := ifd + 2 + i*12
		if entry+12 > len(data) {
			return Affine{}, errors.New("truncated ifd entry")
		}
		tag := order.Uint16(data[entry : entry+2])
		typ := order.Uint16(data[entry+2 : entry+4])
		n := int(order.Uint32(data[entry+4 : entry+8]))
		if typ != tiffTypeDouble {
			continue
		}
		switch tag {
		case tagModelPixelScale, tagModelTiepoint:
			off := int(order.Uint32(data[entry+8 : entry+12]))
			values, err := readDoubles(data, order, off, n)
			if err != nil {
				return Affine{}, err
			}
			if tag == tagModelPixelScale {
				scale = values
			} else {
				tiepoint = values
			}
		}
	}

	if len(scale) < 2 || len(tiepoint) < 6 {
		return Affine{}, ErrNoGeoreference
	}

	// Tiepoint maps raster point (i,j) to geographic (x,y); latitude rows
	// grow downward, hence the negated Y scale.
	i, j := tiepoint[0], tiepoint[1]
	x, y := tiepoint[3], tiepoint[4]
	return Affine{
		A: scale[0], B: 0, C: x - i*scale[0],
		D: 0, E: -scale[1], F: y + j*scale[1],
	}, nil
}

func readDoubles(data []byte, order binary.ByteOrder, off, n int) ([]float64, error) {
	if n <= 0 || off < 0 || off+8*n > len(data) {
		return nil, errors.New("double values out of range")
	}
	out := make([]float64, n)
	if err := binary.Read(bytes.NewReader(data[off:off+8*n]), order, out); err != nil {
		return nil, err
	}
	return out, nil
}
