package raster

import "fmt"

// Affine maps a pixel index to a geographic coordinate:
//
//	lon = A*col + B*row + C
//	lat = D*col + E*row + F
type Affine struct {
	A, B, C float64
	D, E, F float64
}

func (t Affine) Apply(col, row float64) (lon, lat float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Raster is a multi-band pixel grid with a georeference. Values are stored
// band-major so a window copy is a straight slice walk per band.
type Raster struct {
	TileID    string
	Bands     int
	Width     int
	Height    int
	Transform Affine

	data []float64
}

func New(tileID string, bands, width, height int, transform Affine) (*Raster, error) {
	if bands <= 0 || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid raster shape %dx%dx%d", bands, width, height)
	}
	return &Raster{
		TileID:    tileID,
		Bands:     bands,
		Width:     width,
		Height:    height,
		Transform: transform,
		data:      make([]float64, bands*width*height),
	}, nil
}

func (r *Raster) At(band, row, col int) float64 {
	return r.data[band*r.Width*r.Height+row*r.Width+col]
}

func (r *Raster) Set(band, row, col int, v float64) {
	r.data[band*r.Width*r.Height+row*r.Width+col] = v
}

// Fill sets every value of one band.
func (r *Raster) Fill(band int, v float64) {
	base := band * r.Width * r.Height
	for i := 0; i < r.Width*r.Height; i++ {
		r.data[base+i] = v
	}
}

// Patch copies one square window. The window must lie fully inside the
// raster; the scanner never requests one that does not.
func (r *Raster) Patch(row, col, size int) (*Patch, error) {
	if row < 0 || col < 0 || row+size > r.Height || col+size > r.Width {
		return nil, fmt.Errorf("patch %dx%d at (%d,%d) exceeds raster %dx%d", size, size, row, col, r.Width, r.Height)
	}
	p := &Patch{Bands: r.Bands, Size: size, Data: make([]float64, r.Bands*size*size)}
	for b := 0; b < r.Bands; b++ {
		for y := 0; y < size; y++ {
			src := b*r.Width*r.Height + (row+y)*r.Width + col
			dst := b*size*size + y*size
			copy(p.Data[dst:dst+size], r.data[src:src+size])
		}
	}
	return p, nil
}

// Patch is a fixed-size multi-band window prepared for one classifier call.
type Patch struct {
	Bands int
	Size  int
	Data  []float64
}

func (p *Patch) At(band, row, col int) float64 {
	return p.Data[band*p.Size*p.Size+row*p.Size+col]
}

func (p *Patch) Max() float64 {
	max := 0.0
	for i, v := range p.Data {
		if i == 0 || v > max {
			max = v
		}
	}
	return max
}

// Rescale divides every value by scale, bringing digital-number encoded
// reflectance into the unit range the classifier expects.
func (p *Patch) Rescale(scale float64) {
	if scale == 0 {
		return
	}
	for i := range p.Data {
		p.Data[i] /= scale
	}
}

// BandMean averages one band of the patch.
func (p *Patch) BandMean(band int) (float64, error) {
	if band < 0 || band >= p.Bands {
		return 0, fmt.Errorf("band %d out of range, patch has %d bands", band, p.Bands)
	}
	base := band * p.Size * p.Size
	sum := 0.0
	for i := 0; i < p.Size*p.Size; i++ {
		sum += p.Data[base+i]
	}
	return sum / float64(p.Size*p.Size), nil
}
