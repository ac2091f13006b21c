package raster

import "testing"

func TestAffineApply(t *testing.T) {
	tf := Affine{A: 0.0001, C: -2.1734, E: -0.0001, F: 6.8311}
	lon, lat := tf.Apply(0, 0)
	if lon != -2.1734 || lat != 6.8311 {
		t.Fatalf("origin maps to (%v,%v)", lon, lat)
	}
	lon, lat = tf.Apply(100, 200)
	if lon != -2.1734+0.01 {
		t.Fatalf("lon %v", lon)
	}
	if lat != 6.8311-0.02 {
		t.Fatalf("lat %v", lat)
	}
}

func TestPatchExtraction(t *testing.T) {
	r, err := New("t.tif", 2, 10, 10, Affine{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for row := 0; row < 10; row++ {
		for col := 0; col < 10; col++ {
			r.Set(0, row, col, float64(row*10+col))
			r.Set(1, row, col, 1)
		}
	}
	p, err := r.Patch(2, 3, 4)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if p.Bands != 2 || p.Size != 4 {
		t.Fatalf("patch shape %dx%d", p.Bands, p.Size)
	}
	if got := p.At(0, 0, 0); got != 23 {
		t.Fatalf("patch origin %v, want 23", got)
	}
	if got := p.At(0, 3, 3); got != 56 {
		t.Fatalf("patch corner %v, want 56", got)
	}
	if got := p.At(1, 2, 2); got != 1 {
		t.Fatalf("band 1 value %v, want 1", got)
	}
}

func TestPatchOutOfBounds(t *testing.T) {
	r, _ := New("t.tif", 1, 10, 10, Affine{})
	if _, err := r.Patch(8, 8, 4); err == nil {
		t.Fatalf("expected out of bounds error")
	}
}

func TestPatchMaxAndRescale(t *testing.T) {
	r, _ := New("t.tif", 1, 4, 4, Affine{})
	r.Fill(0, 2500)
	r.Set(0, 1, 1, 7500)
	p, err := r.Patch(0, 0, 4)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if p.Max() != 7500 {
		t.Fatalf("max %v, want 7500", p.Max())
	}
	p.Rescale(10000)
	if p.Max() != 0.75 {
		t.Fatalf("max after rescale %v, want 0.75", p.Max())
	}
	if got := p.At(0, 0, 0); got != 0.25 {
		t.Fatalf("value after rescale %v, want 0.25", got)
	}
}

func TestBandMean(t *testing.T) {
	r, _ := New("t.tif", 2, 2, 2, Affine{})
	r.Fill(0, 2)
	r.Fill(1, 6)
	p, _ := r.Patch(0, 0, 2)
	if m, err := p.BandMean(0); err != nil || m != 2 {
		t.Fatalf("band 0 mean %v (%v)", m, err)
	}
	if m, err := p.BandMean(1); err != nil || m != 6 {
		t.Fatalf("band 1 mean %v (%v)", m, err)
	}
	if _, err := p.BandMean(5); err == nil {
		t.Fatalf("expected out of range error")
	}
}
