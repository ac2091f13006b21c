package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"asmwatch/internal/model"
)

type ReasonCode string

const (
	ReasonMissingFields   ReasonCode = "missing_fields"
	ReasonInvalidGeometry ReasonCode = "invalid_geometry"
	ReasonInvalidDate     ReasonCode = "invalid_date"
)

// Fix counter names, reported so operators can see what upstream keeps
// getting wrong.
const (
	FixAlertRemapped     = "alert_remapped"
	FixDistrictCased     = "district_cased"
	FixRegionSuffixAdded = "region_suffix_added"
	FixRegionFallback    = "region_fallback"
)

var requiredFields = []string{
	"confidence", "district", "region",
	"date", "area_ha", "tile_id", "alert_level",
}

type Rejection struct {
	Index  int        `json:"index"`
	Code   ReasonCode `json:"code"`
	Detail string     `json:"detail"`
}

type Report struct {
	Raw        int                 `json:"raw"`
	Kept       int                 `json:"kept"`
	Rejections []Rejection         `json:"rejections,omitempty"`
	Fixes      map[string]int      `json:"fixes"`
	Alerts     map[model.Level]int `json:"alerts"`
	Regions    map[string]int      `json:"regions"`
}

func newReport() *Report {
	return &Report{
		Fixes:   make(map[string]int),
		Alerts:  make(map[model.Level]int),
		Regions: make(map[string]int),
	}
}

// RejectionCounts aggregates rejections by reason for the run summary.
func (r *Report) RejectionCounts() map[ReasonCode]int {
	out := make(map[ReasonCode]int)
	for _, rej := range r.Rejections {
		out[rej.Code]++
	}
	return out
}

// FallbackRule maps a district-name substring (matched case-insensitively)
// to a canonical region name. Order matters: first match wins.
type FallbackRule struct {
	Match  string
	Region string
}

// DefaultFallback is the safety-net table for tiles whose center misses the
// region layer: known mining district substrings and the region they sit in.
func DefaultFallback() []FallbackRule {
	return []FallbackRule{
		{"Kwabre", "Ashanti Region"},
		{"Obuasi", "Ashanti Region"},
		{"Amansie", "Ashanti Region"},
		{"Adansi", "Ashanti Region"},
		{"Bekwai", "Ashanti Region"},
		{"Tarkwa", "Western Region"},
		{"Prestea", "Western Region"},
		{"Wassa", "Western Region"},
		{"Bibiani", "Western Region"},
		{"Mfantseman", "Central Region"},
		{"Komenda", "Central Region"},
		{"Cape Coast", "Central Region"},
		{"Abura", "Central Region"},
		{"Atiwa", "Eastern Region"},
		{"Birim", "Eastern Region"},
		{"Denkyembour", "Eastern Region"},
		{"West Akim", "Eastern Region"},
		{"East Akim", "Eastern Region"},
	}
}

type Validator struct {
	fallback []FallbackRule
}

// New builds a validator with the given region fallback table; nil means
// the default table.
func New(fallback []FallbackRule) *Validator {
	if fallback == nil {
		fallback = DefaultFallback()
	}
	return &Validator{fallback: fallback}
}

// rawFeature tolerates malformed features: a broken geometry or property
// set must reject one record, never abort the document.
type rawFeature struct {
	Geometry struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	} `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type rawCollection struct {
	Type     string       `json:"type"`
	Features []rawFeature `json:"features"`
}

// Collection validates a raw detection FeatureCollection document. The
// returned error is non-nil only when the document itself cannot be parsed;
// per-feature problems end up in the report.
func (v *Validator) Collection(data []byte) ([]model.Detection, *Report, error) {
	var doc rawCollection
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse detections: %w", err)
	}
	report := newReport()
	report.Raw = len(doc.Features)

	var kept []model.Detection
	for i, f := range doc.Features {
		det, rej := v.feature(i, f, report)
		if rej != nil {
			report.Rejections = append(report.Rejections, *rej)
			continue
		}
		kept = append(kept, det)
		report.Alerts[det.AlertLevel]++
		report.Regions[det.Region]++
	}
	report.Kept = len(kept)
	return kept, report, nil
}

func (v *Validator) feature(index int, f rawFeature, report *Report) (model.Detection, *Rejection) {
	var missing []string
	for _, field := range requiredFields {
		if _, ok := f.Properties[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return model.Detection{}, &Rejection{
			Index:  index,
			Code:   ReasonMissingFields,
			Detail: "missing: " + strings.Join(missing, ", "),
		}
	}

	var coords []float64
	if len(f.Geometry.Coordinates) > 0 {
		// Tolerate junk here: a failed unmarshal just leaves too few
		// coordinates and rejects below.
		_ = json.Unmarshal(f.Geometry.Coordinates, &coords)
	}
	if len(coords) < 2 {
		return model.Detection{}, &Rejection{Index: index, Code: ReasonInvalidGeometry, Detail: "geometry needs at least 2 coordinates"}
	}

	confidence, ok := toFloat(f.Properties["confidence"])
	if !ok {
		return model.Detection{}, &Rejection{Index: index, Code: ReasonMissingFields, Detail: "confidence is not numeric"}
	}
	areaHa, ok := toFloat(f.Properties["area_ha"])
	if !ok {
		return model.Detection{}, &Rejection{Index: index, Code: ReasonMissingFields, Detail: "area_ha is not numeric"}
	}
	district := strings.TrimSpace(toString(f.Properties["district"]))
	region := strings.TrimSpace(toString(f.Properties["region"]))
	dateStr := strings.TrimSpace(toString(f.Properties["date"]))
	tileID := strings.TrimSpace(toString(f.Properties["tile_id"]))
	alertIn := strings.TrimSpace(toString(f.Properties["alert_level"]))

	if _, err := time.Parse(model.DateFormat, dateStr); err != nil {
		return model.Detection{}, &Rejection{Index: index, Code: ReasonInvalidDate, Detail: fmt.Sprintf("bad date %q", dateStr)}
	}

	// Alert level is never trusted from upstream.
	alertOut := model.Classify(confidence)
	if string(alertOut) != alertIn {
		report.Fixes[FixAlertRemapped]++
	}

	cased := TitleCaseDistrict(district)
	if cased != district {
		report.Fixes[FixDistrictCased]++
	}
	district = cased

	if region != "" && region != "Unknown" && !strings.HasSuffix(region, "Region") {
		region += " Region"
		report.Fixes[FixRegionSuffixAdded]++
	}

	if region == "" || region == "Unknown" || region == "Unknown Region" {
		if fb, ok := v.fallbackRegion(district); ok {
			region = fb
			report.Fixes[FixRegionFallback]++
		} else {
			region = "Unknown Region"
		}
	}

	return model.Detection{
		Point:      orb.Point{coords[0], coords[1]},
		Confidence: round(confidence, 4),
		District:   district,
		Region:     region,
		Date:       dateStr,
		AreaHa:     round(areaHa, 2),
		TileID:     tileID,
		AlertLevel: alertOut,
	}, nil
}

func (v *Validator) fallbackRegion(district string) (string, bool) {
	lower := strings.ToLower(district)
	for _, rule := range v.fallback {
		if strings.Contains(lower, strings.ToLower(rule.Match)) {
			return rule.Region, true
		}
	}
	return "", false
}

// TitleCaseDistrict capitalizes each space- and hyphen-delimited token
// independently, leaving the rest of every token untouched.
func TitleCaseDistrict(name string) string {
	words := strings.Split(name, " ")
	for wi, word := range words {
		parts := strings.Split(word, "-")
		for pi, part := range parts {
			parts[pi] = capitalize(part)
		}
		words[wi] = strings.Join(parts, "-")
	}
	return strings.Join(words, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// SortedRegions lists report regions in name order for stable logging.
func (r *Report) SortedRegions() []string {
	out := make([]string, 0, len(r.Regions))
	for name := range r.Regions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
