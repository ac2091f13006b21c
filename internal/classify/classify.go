package classify

import (
	"fmt"

	"asmwatch/internal/raster"
)

// Classifier is the capability boundary around the pretrained model: a
// normalized multi-band patch in, a probability of an active mining site
// out. Everything behind it is opaque to the pipeline.
type Classifier interface {
	Probability(patch *raster.Patch) (float64, error)
}

// Func adapts a plain function to the Classifier interface.
type Func func(patch *raster.Patch) (float64, error)

func (f Func) Probability(patch *raster.Patch) (float64, error) {
	return f(patch)
}

// Fixed returns a classifier that answers the same probability for every
// patch. Test and dry-run use only.
func Fixed(p float64) Func {
	return func(*raster.Patch) (float64, error) {
		return p, nil
	}
}

// BareSoil is a spectral-index baseline classifier: vegetation suppresses
// NDVI, freshly cleared and excavated ground raises the score. It stands in
// at the classifier boundary when no model runtime is wired; it is not a
// trained model and its output is only useful for demos and plumbing tests.
type BareSoil struct {
	RedBand int
	NIRBand int
	// Pivot is the NDVI at which the score crosses 0.5.
	Pivot float64
	// Slope controls how fast the score saturates around the pivot.
	Slope float64
}

func NewBareSoil(redBand, nirBand int) *BareSoil {
	return &BareSoil{RedBand: redBand, NIRBand: nirBand, Pivot: 0.25, Slope: 2.0}
}

// RequiredBands reports how many raster bands the classifier reads, so a
// band-layout mismatch surfaces before any window is classified.
func (c *BareSoil) RequiredBands() int {
	n := c.RedBand
	if c.NIRBand > n {
		n = c.NIRBand
	}
	return n + 1
}

func (c *BareSoil) Probability(patch *raster.Patch) (float64, error) {
	red, err := patch.BandMean(c.RedBand)
	if err != nil {
		return 0, fmt.Errorf("bare-soil classifier: %w", err)
	}
	nir, err := patch.BandMean(c.NIRBand)
	if err != nil {
		return 0, fmt.Errorf("bare-soil classifier: %w", err)
	}
	denom := nir + red
	if denom == 0 {
		return 0, nil
	}
	ndvi := (nir - red) / denom
	score := 0.5 + (c.Pivot-ndvi)*c.Slope
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}
