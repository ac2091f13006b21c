package boundary

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

const UnknownName = "Unknown"

type layerFeature struct {
	name string
	geom orb.Geometry
}

// Layer is one administrative boundary level: named polygons answering
// containment queries in document order, first match wins.
type Layer struct {
	features []layerFeature
}

func LoadLayer(path, nameProperty string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse boundary layer %s: %w", path, err)
	}
	if nameProperty == "" {
		nameProperty = "shapeName"
	}
	layer := &Layer{}
	for _, f := range fc.Features {
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			continue
		}
		layer.features = append(layer.features, layerFeature{
			name: f.Properties.MustString(nameProperty, UnknownName),
			geom: f.Geometry,
		})
	}
	return layer, nil
}

func (l *Layer) Find(pt orb.Point) (string, bool) {
	if l == nil {
		return UnknownName, false
	}
	for _, f := range l.features {
		switch g := f.geom.(type) {
		case orb.Polygon:
			if planar.PolygonContains(g, pt) {
				return f.name, true
			}
		case orb.MultiPolygon:
			if planar.MultiPolygonContains(g, pt) {
				return f.name, true
			}
		}
	}
	return UnknownName, false
}

func (l *Layer) Len() int {
	if l == nil {
		return 0
	}
	return len(l.features)
}

// Index holds the two administrative levels used for geolocation. Either
// layer may be nil; lookups then degrade to "Unknown" instead of failing.
type Index struct {
	Regions   *Layer
	Districts *Layer
}

// Locate resolves the containing district and region names for a point.
func (ix *Index) Locate(pt orb.Point) (district, region string) {
	district, region = UnknownName, UnknownName
	if ix == nil {
		return district, region
	}
	if name, ok := ix.Regions.Find(pt); ok {
		region = name
	}
	if name, ok := ix.Districts.Find(pt); ok {
		district = name
	}
	return district, region
}

// LoadIndex loads both boundary layers, treating a missing or unreadable
// layer as absent rather than fatal.
func LoadIndex(regionsPath, districtsPath, nameProperty string, logger *slog.Logger) *Index {
	ix := &Index{}
	if regionsPath != "" {
		layer, err := LoadLayer(regionsPath, nameProperty)
		if err != nil {
			if logger != nil {
				logger.Warn("region boundary layer unavailable, region will be Unknown", "path", regionsPath, "err", err)
			}
		} else {
			ix.Regions = layer
		}
	}
	if districtsPath != "" {
		layer, err := LoadLayer(districtsPath, nameProperty)
		if err != nil {
			if logger != nil {
				logger.Warn("district boundary layer unavailable, district will be Unknown", "path", districtsPath, "err", err)
			}
		} else {
			ix.Districts = layer
		}
	}
	return ix
}
