package model

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type Level string

const (
	LevelHigh   Level = "HIGH"
	LevelMedium Level = "MEDIUM"
	LevelLow    Level = "LOW"
)

// DateFormat is the acquisition-date layout used everywhere in the catalog.
const DateFormat = "2006-01-02"

// Classify maps a classifier confidence to an alert level. The thresholds
// are calibrated against the model's precision/recall behaviour and are the
// only alert threshold table in the repository.
func Classify(confidence float64) Level {
	switch {
	case confidence > 0.8:
		return LevelHigh
	case confidence > 0.5:
		return LevelMedium
	default:
		return LevelLow
	}
}

type Detection struct {
	Point      orb.Point `json:"point"`
	Confidence float64   `json:"confidence"`
	District   string    `json:"district"`
	Region     string    `json:"region"`
	Date       string    `json:"date"`
	AreaHa     float64   `json:"area_ha"`
	TileID     string    `json:"tile_id"`
	AlertLevel Level     `json:"alert_level"`
}

// Key is the dedup key: a tile is classified in full on each run, so one
// (tile, acquisition date) pair identifies a unit of processed imagery.
func (d Detection) Key() string {
	return d.TileID + "|" + d.Date
}

func (d Detection) ValidDate() bool {
	_, err := time.Parse(DateFormat, d.Date)
	return err == nil
}

func (d Detection) Feature() *geojson.Feature {
	f := geojson.NewFeature(d.Point)
	f.Properties = geojson.Properties{
		"confidence":  d.Confidence,
		"district":    d.District,
		"region":      d.Region,
		"date":        d.Date,
		"area_ha":     d.AreaHa,
		"tile_id":     d.TileID,
		"alert_level": string(d.AlertLevel),
	}
	return f
}

// DetectionFromFeature converts a catalog feature back into a Detection.
// It is tolerant about numeric encodings but requires a point geometry,
// the full property set and a well-formed date.
func DetectionFromFeature(f *geojson.Feature) (Detection, bool) {
	if f == nil {
		return Detection{}, false
	}
	pt, ok := f.Geometry.(orb.Point)
	if !ok {
		return Detection{}, false
	}
	for _, key := range []string{"confidence", "district", "region", "date", "area_ha", "tile_id", "alert_level"} {
		if _, present := f.Properties[key]; !present {
			return Detection{}, false
		}
	}
	d := Detection{
		Point:      pt,
		Confidence: f.Properties.MustFloat64("confidence", 0),
		District:   f.Properties.MustString("district", ""),
		Region:     f.Properties.MustString("region", ""),
		Date:       f.Properties.MustString("date", ""),
		AreaHa:     f.Properties.MustFloat64("area_ha", 0),
		TileID:     f.Properties.MustString("tile_id", ""),
		AlertLevel: Level(f.Properties.MustString("alert_level", "")),
	}
	if !d.ValidDate() {
		return Detection{}, false
	}
	return d, true
}

func Collection(detections []Detection) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, d := range detections {
		fc.Append(d.Feature())
	}
	return fc
}
