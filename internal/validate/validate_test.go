package validate

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"asmwatch/internal/model"
)

func feature(props map[string]any, coords []float64) map[string]any {
	return map[string]any{
		"type":       "Feature",
		"geometry":   map[string]any{"type": "Point", "coordinates": coords},
		"properties": props,
	}
}

func props(overrides map[string]any) map[string]any {
	base := map[string]any{
		"confidence":  0.9,
		"district":    "Tarkwa-Nsuaem",
		"region":      "Western Region",
		"date":        "2025-01-28",
		"area_ha":     2.3,
		"tile_id":     "tileA.tif",
		"alert_level": "HIGH",
	}
	for k, v := range overrides {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	return base
}

func collect(t *testing.T, features ...map[string]any) ([]model.Detection, *Report) {
	t.Helper()
	doc := map[string]any{"type": "FeatureCollection", "features": features}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	kept, report, err := New(nil).Collection(data)
	if err != nil {
		t.Fatalf("unexpected document error: %v", err)
	}
	return kept, report
}

func TestValidFeaturePasses(t *testing.T) {
	kept, report := collect(t, feature(props(nil), []float64{-2.0, 6.0}))
	if len(kept) != 1 || len(report.Rejections) != 0 {
		t.Fatalf("expected 1 kept, got %d kept %d rejected", len(kept), len(report.Rejections))
	}
	if kept[0].AlertLevel != model.LevelHigh {
		t.Fatalf("unexpected alert level %s", kept[0].AlertLevel)
	}
}

func TestMissingFieldRejectedWithFieldName(t *testing.T) {
	kept, report := collect(t, feature(props(map[string]any{"area_ha": nil}), []float64{-2.0, 6.0}))
	if len(kept) != 0 {
		t.Fatalf("expected rejection, got %d kept", len(kept))
	}
	if len(report.Rejections) != 1 {
		t.Fatalf("expected 1 rejection, got %d", len(report.Rejections))
	}
	rej := report.Rejections[0]
	if rej.Code != ReasonMissingFields {
		t.Fatalf("unexpected reason %s", rej.Code)
	}
	if !strings.Contains(rej.Detail, "area_ha") {
		t.Fatalf("rejection detail %q does not name the missing field", rej.Detail)
	}
}

func TestInvalidGeometryRejected(t *testing.T) {
	_, report := collect(t, feature(props(nil), []float64{-2.0}))
	if len(report.Rejections) != 1 || report.Rejections[0].Code != ReasonInvalidGeometry {
		t.Fatalf("expected invalid_geometry, got %+v", report.Rejections)
	}
}

func TestInvalidDateRejected(t *testing.T) {
	for _, bad := range []string{"28-01-2025", "2025-13-01", "2025-01-32", "yesterday", ""} {
		_, report := collect(t, feature(props(map[string]any{"date": bad}), []float64{-2.0, 6.0}))
		if len(report.Rejections) != 1 || report.Rejections[0].Code != ReasonInvalidDate {
			t.Fatalf("date %q: expected invalid_date, got %+v", bad, report.Rejections)
		}
	}
}

func TestAlertLevelAlwaysRecomputed(t *testing.T) {
	cases := []struct {
		confidence float64
		upstream   string
		want       model.Level
	}{
		{0.81, "LOW", model.LevelHigh},
		{0.80, "HIGH", model.LevelMedium},
		{0.51, "LOW", model.LevelMedium},
		{0.50, "HIGH", model.LevelLow},
	}
	for _, tc := range cases {
		kept, report := collect(t, feature(props(map[string]any{
			"confidence":  tc.confidence,
			"alert_level": tc.upstream,
		}), []float64{-2.0, 6.0}))
		if len(kept) != 1 {
			t.Fatalf("confidence %v: expected 1 kept", tc.confidence)
		}
		if kept[0].AlertLevel != tc.want {
			t.Fatalf("confidence %v: alert %s, want %s", tc.confidence, kept[0].AlertLevel, tc.want)
		}
		if report.Fixes[FixAlertRemapped] != 1 {
			t.Fatalf("confidence %v: expected alert_remapped fix", tc.confidence)
		}
	}
}

func TestDistrictTitleCased(t *testing.T) {
	kept, report := collect(t, feature(props(map[string]any{"district": "tarkwa-nsuaem"}), []float64{-2.0, 6.0}))
	if kept[0].District != "Tarkwa-Nsuaem" {
		t.Fatalf("district %q, want Tarkwa-Nsuaem", kept[0].District)
	}
	if report.Fixes[FixDistrictCased] != 1 {
		t.Fatalf("expected district_cased fix, got %v", report.Fixes)
	}
}

func TestRegionSuffixAppended(t *testing.T) {
	kept, report := collect(t, feature(props(map[string]any{"region": "Ashanti"}), []float64{-2.0, 6.0}))
	if kept[0].Region != "Ashanti Region" {
		t.Fatalf("region %q, want Ashanti Region", kept[0].Region)
	}
	if report.Fixes[FixRegionSuffixAdded] != 1 {
		t.Fatalf("expected region_suffix_added fix, got %v", report.Fixes)
	}
}

func TestRegionFallbackFromDistrict(t *testing.T) {
	kept, report := collect(t, feature(props(map[string]any{
		"region":   "",
		"district": "Obuasi Municipal",
	}), []float64{-2.0, 6.0}))
	if kept[0].Region != "Ashanti Region" {
		t.Fatalf("region %q, want Ashanti Region via fallback", kept[0].Region)
	}
	if report.Fixes[FixRegionFallback] != 1 {
		t.Fatalf("expected region_fallback fix, got %v", report.Fixes)
	}
}

func TestRegionFallbackMissGetsUnknown(t *testing.T) {
	kept, _ := collect(t, feature(props(map[string]any{
		"region":   "Unknown",
		"district": "Nowhere Special",
	}), []float64{-2.0, 6.0}))
	if kept[0].Region != "Unknown Region" {
		t.Fatalf("region %q, want Unknown Region", kept[0].Region)
	}
}

func TestRounding(t *testing.T) {
	kept, _ := collect(t, feature(props(map[string]any{
		"confidence": 0.123456,
		"area_ha":    2.345678,
	}), []float64{-2.0, 6.0}))
	if kept[0].Confidence != 0.1235 {
		t.Fatalf("confidence %v, want 0.1235", kept[0].Confidence)
	}
	if kept[0].AreaHa != 2.35 {
		t.Fatalf("area %v, want 2.35", kept[0].AreaHa)
	}
}

func TestCustomFallbackOrderFirstMatchWins(t *testing.T) {
	v := New([]FallbackRule{
		{Match: "akim", Region: "First Region"},
		{Match: "west akim", Region: "Second Region"},
	})
	doc := map[string]any{"type": "FeatureCollection", "features": []map[string]any{
		feature(props(map[string]any{"region": "", "district": "West Akim"}), []float64{-0.7, 6.0}),
	}}
	data, _ := json.Marshal(doc)
	kept, _, err := v.Collection(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kept[0].Region != "First Region" {
		t.Fatalf("region %q, want First Region (first rule wins)", kept[0].Region)
	}
}

func TestRejectionCountsByReason(t *testing.T) {
	_, report := collect(t,
		feature(props(map[string]any{"tile_id": nil}), []float64{-2.0, 6.0}),
		feature(props(map[string]any{"area_ha": nil}), []float64{-2.0, 6.0}),
		feature(props(map[string]any{"date": "never"}), []float64{-2.0, 6.0}),
		feature(props(nil), []float64{-2.0}),
	)
	counts := report.RejectionCounts()
	if counts[ReasonMissingFields] != 2 {
		t.Fatalf("missing_fields = %d, want 2", counts[ReasonMissingFields])
	}
	if counts[ReasonInvalidDate] != 1 {
		t.Fatalf("invalid_date = %d, want 1", counts[ReasonInvalidDate])
	}
	if counts[ReasonInvalidGeometry] != 1 {
		t.Fatalf("invalid_geometry = %d, want 1", counts[ReasonInvalidGeometry])
	}
}

func TestMalformedDocumentFails(t *testing.T) {
	if _, _, err := New(nil).Collection([]byte("{not json")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestMalformedFeatureDoesNotAbortBatch(t *testing.T) {
	doc := fmt.Sprintf(`{"type":"FeatureCollection","features":[
		{"geometry":{"type":"Point","coordinates":"garbage"},"properties":%s},
		{"type":"Feature","geometry":{"type":"Point","coordinates":[-2.0,6.0]},"properties":%s}
	]}`, mustJSON(props(nil)), mustJSON(props(nil)))
	kept, report, err := New(nil).Collection([]byte(doc))
	if err != nil {
		t.Fatalf("batch should survive one bad feature: %v", err)
	}
	if len(kept) != 1 || len(report.Rejections) != 1 {
		t.Fatalf("expected 1 kept and 1 rejected, got %d/%d", len(kept), len(report.Rejections))
	}
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
