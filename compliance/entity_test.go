package compliance_test

import (
	"context"
	"math"
	"testing"

	"github.com/labelkit/labelkit/compliance"
	"github.com/labelkit/labelkit/fusion"
)

func checkEntity(t *testing.T, m *compliance.EntityMatcher, rec compliance.Record, tokens []fusion.Token) map[compliance.Feature]compliance.FeatureResult {
	t.Helper()
	results, err := m.Check(context.Background(), rec, tokens)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	byFeature := make(map[compliance.Feature]compliance.FeatureResult, len(results))
	for _, r := range results {
		byFeature[r.Feature] = r
	}
	return byFeature
}

func TestEntityMatcherExactPhrase(t *testing.T) {
	rec := compliance.Record{BottlerName: "Golden Gate Brewing"}
	tokens := line(10, 10, "EST.", "1898", "GOLDEN", "GATE", "BREWING", "CO.")

	results := checkEntity(t, &compliance.EntityMatcher{}, rec, tokens)

	r := results[compliance.FeatureBottlerName]
	if !r.Found() {
		t.Fatal("Expected bottler name found")
	}
	if r.Text != "GOLDEN GATE BREWING" {
		t.Errorf("Text = %q", r.Text)
	}
	if r.Bounds == nil {
		t.Fatal("Expected bounds")
	}
	if r.Bounds.X != 110 || r.Bounds.MaxX() != 250 {
		t.Errorf("Bounds = %+v", *r.Bounds)
	}
	if math.Abs(r.Confidence-0.9) > 1e-9 {
		t.Errorf("Confidence = %v", r.Confidence)
	}
}

func TestEntityMatcherToleratesOCRNoise(t *testing.T) {
	rec := compliance.Record{BottlerName: "Golden Gate Brewing"}
	tokens := line(10, 10, "G0LDEN", "GATE", "BREWlNG")

	results := checkEntity(t, &compliance.EntityMatcher{}, rec, tokens)

	if r := results[compliance.FeatureBottlerName]; !r.Found() {
		t.Error("Expected fuzzy match to absorb character substitutions")
	}
}

func TestEntityMatcherWindowAbsorbsSplitTokens(t *testing.T) {
	rec := compliance.Record{BrandName: "Sunrise"}
	tokens := line(10, 10, "SUN", "RISE", "LAGER")

	results := checkEntity(t, &compliance.EntityMatcher{}, rec, tokens)

	r := results[compliance.FeatureBrandName]
	if !r.Found() {
		t.Fatal("Expected split brand name found")
	}
	if r.Text != "SUN RISE" {
		t.Errorf("Text = %q", r.Text)
	}
}

func TestEntityMatcherRejectsUnrelatedText(t *testing.T) {
	rec := compliance.Record{BrandName: "Sunrise"}
	tokens := line(10, 10, "MOONLIGHT", "STOUT")

	results := checkEntity(t, &compliance.EntityMatcher{}, rec, tokens)

	r := results[compliance.FeatureBrandName]
	if r.Found() {
		t.Fatalf("Expected no match, got %q", r.Text)
	}
	if r.Text != "" || r.Bounds != nil {
		t.Errorf("Missing result should carry no match, got %+v", r)
	}
	if !r.Required {
		t.Error("Brand name is always required")
	}
}

func TestEntityMatcherEmptyFields(t *testing.T) {
	tokens := line(10, 10, "SUNRISE")

	results := checkEntity(t, &compliance.EntityMatcher{}, compliance.Record{}, tokens)

	if r := results[compliance.FeatureBrandName]; r.Found() || !r.Required {
		t.Errorf("Empty brand name should stay required and missing, got %+v", r)
	}
	if r := results[compliance.FeatureFancifulName]; r.Found() || r.Required {
		t.Errorf("Empty fanciful name should be optional, got %+v", r)
	}
}

func TestEntityMatcherThreshold(t *testing.T) {
	rec := compliance.Record{BrandName: "Sunrise"}
	tokens := line(10, 10, "SUNRIZE")

	strict := checkEntity(t, &compliance.EntityMatcher{Threshold: 0.99}, rec, tokens)
	if r := strict[compliance.FeatureBrandName]; r.Found() {
		t.Error("Expected one substitution rejected at 0.99")
	}

	lax := checkEntity(t, &compliance.EntityMatcher{}, rec, tokens)
	if r := lax[compliance.FeatureBrandName]; !r.Found() {
		t.Error("Expected one substitution accepted at the default threshold")
	}
}

func TestEntityMatcherChecksAllRecordFeatures(t *testing.T) {
	results := checkEntity(t, &compliance.EntityMatcher{}, sampleRecord(), sampleLabel())

	want := []compliance.Feature{
		compliance.FeatureBrandName,
		compliance.FeatureClassType,
		compliance.FeatureFancifulName,
		compliance.FeatureBottlerName,
		compliance.FeatureBottlerAddress,
	}
	if len(results) != len(want) {
		t.Fatalf("Expected %d results, got %d", len(want), len(results))
	}
	for _, f := range want {
		if _, ok := results[f]; !ok {
			t.Errorf("No result for %v", f)
		}
	}
}
