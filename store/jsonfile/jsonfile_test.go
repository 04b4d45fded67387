package jsonfile_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/labelkit/labelkit/compliance"
	"github.com/labelkit/labelkit/ocr"
	"github.com/labelkit/labelkit/store"
	"github.com/labelkit/labelkit/store/jsonfile"
)

func openStore(t *testing.T) (*jsonfile.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	s, err := jsonfile.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s, path
}

func sampleRecords() []compliance.Record {
	return []compliance.Record{
		{
			ApplicationNum: "25001001000001",
			BrandName:      "Sunrise",
			ClassType:      "Lager",
			BottlerName:    "Golden Gate Brewing",
			BottlerAddress: "San Francisco, CA",
		},
		{
			ApplicationNum: "25001001000002",
			BrandName:      "Moonlight",
			ClassType:      "Stout",
			FancifulName:   "Midnight Run",
			BottlerName:    "Harbor Brewing Co",
			BottlerAddress: "Portland, OR",
		},
	}
}

func seed(t *testing.T, s *jsonfile.Store, recs []compliance.Record) {
	t.Helper()
	if err := s.Seed(context.Background(), recs); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func sampleVerdict(appNum string, compliant bool) compliance.Verdict {
	results := make([]compliance.FeatureResult, 0, compliance.NumFeatures)
	for _, f := range compliance.Features() {
		r := compliance.FeatureResult{
			Feature:    f,
			Status:     compliance.StatusFound,
			Text:       "sample",
			Bounds:     &ocr.Region{X: 10, Y: 20, Width: 100, Height: 30},
			Confidence: 0.9,
			Required:   true,
		}
		if !compliant && f == compliance.FeatureGovernmentWarning {
			r = compliance.FeatureResult{
				Feature:  f,
				Status:   compliance.StatusMissing,
				Required: true,
			}
		}
		results = append(results, r)
	}
	return compliance.Verdict{
		ApplicationNum: appNum,
		Results:        results,
		Compliant:      compliant,
		ScannedAt:      time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC),
		RunID:          "run-1",
	}
}

// rawEntries reads the backing file without going through the store.
func rawEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return entries
}

func TestOpenMissingFile(t *testing.T) {
	s, _ := openStore(t)
	recs, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records from missing file, want 0", len(recs))
	}
}

func TestOpenRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := jsonfile.Open(path); err == nil {
		t.Fatal("expected error opening malformed file")
	}
}

func TestSeedAndListPreservesOrder(t *testing.T) {
	s, path := openStore(t)
	recs := sampleRecords()
	seed(t, s, recs)

	got, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff(recs, got); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}

	// The file keeps the flat export layout.
	raw := rawEntries(t, path)
	if len(raw) != 2 {
		t.Fatalf("file holds %d entries, want 2", len(raw))
	}
	if raw[0]["application_num"] != "25001001000001" {
		t.Errorf("first entry application_num = %v", raw[0]["application_num"])
	}
	if raw[0]["brand_name"] != "Sunrise" {
		t.Errorf("first entry brand_name = %v", raw[0]["brand_name"])
	}
	if _, ok := raw[0]["verdict"]; ok {
		t.Error("unscanned entry should not carry a verdict")
	}
}

func TestRecordNotFound(t *testing.T) {
	s, _ := openStore(t)
	seed(t, s, sampleRecords())

	_, err := s.Record(context.Background(), "99999999999999")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestSearch(t *testing.T) {
	s, _ := openStore(t)
	seed(t, s, sampleRecords())
	ctx := context.Background()

	got, err := s.Search(ctx, "HARBOR")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ApplicationNum != "25001001000002" {
		t.Errorf("search %q returned %+v", "HARBOR", got)
	}

	got, err = s.Search(ctx, "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("empty search returned %d records, want 2", len(got))
	}
}

func TestSaveVerdictWritesProcessingResult(t *testing.T) {
	s, path := openStore(t)
	seed(t, s, sampleRecords())
	ctx := context.Background()

	if err := s.SaveVerdict(ctx, sampleVerdict("25001001000001", false)); err != nil {
		t.Fatalf("save verdict: %v", err)
	}

	raw := rawEntries(t, path)
	pr, ok := raw[0]["processing_result"].(map[string]any)
	if !ok {
		t.Fatalf("entry has no processing_result: %v", raw[0])
	}
	if pr["status"] != "failed" {
		t.Errorf("status = %v, want failed", pr["status"])
	}
	failures, ok := pr["failures"].([]any)
	if !ok || len(failures) != 1 || failures[0] != "government warning" {
		t.Errorf("failures = %v, want [government warning]", pr["failures"])
	}
	if _, ok := raw[0]["verdict"]; !ok {
		t.Error("entry should carry the full verdict")
	}
	if _, ok := raw[1]["processing_result"]; ok {
		t.Error("unscanned entry should not carry a processing_result")
	}
}

func TestSaveVerdictPassedSummary(t *testing.T) {
	s, path := openStore(t)
	seed(t, s, sampleRecords())

	if err := s.SaveVerdict(context.Background(), sampleVerdict("25001001000001", true)); err != nil {
		t.Fatalf("save verdict: %v", err)
	}

	raw := rawEntries(t, path)
	pr, ok := raw[0]["processing_result"].(map[string]any)
	if !ok {
		t.Fatalf("entry has no processing_result: %v", raw[0])
	}
	if pr["status"] != "passed" {
		t.Errorf("status = %v, want passed", pr["status"])
	}
	failures, ok := pr["failures"].([]any)
	if !ok || len(failures) != 0 {
		t.Errorf("failures = %v, want empty list", pr["failures"])
	}
}

func TestSaveVerdictUnknownApplication(t *testing.T) {
	s, _ := openStore(t)
	seed(t, s, sampleRecords())

	err := s.SaveVerdict(context.Background(), sampleVerdict("99999999999999", true))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestVerdictRoundTrip(t *testing.T) {
	s, path := openStore(t)
	seed(t, s, sampleRecords())
	ctx := context.Background()

	want := sampleVerdict("25001001000002", false)
	want.Degraded = []string{"onnx"}
	if err := s.SaveVerdict(ctx, want); err != nil {
		t.Fatalf("save verdict: %v", err)
	}

	// Reopen to prove the verdict survives a restart.
	reopened, err := jsonfile.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Verdict(ctx, want.ApplicationNum)
	if err != nil {
		t.Fatalf("verdict: %v", err)
	}
	if got.Compliant != want.Compliant || got.RunID != want.RunID {
		t.Errorf("got compliant=%v run=%q, want compliant=%v run=%q",
			got.Compliant, got.RunID, want.Compliant, want.RunID)
	}
	if !got.ScannedAt.Equal(want.ScannedAt) {
		t.Errorf("scanned at = %v, want %v", got.ScannedAt, want.ScannedAt)
	}
	if diff := cmp.Diff(want.Degraded, got.Degraded); diff != "" {
		t.Errorf("degraded mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Results, got.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}

	if _, err := reopened.Verdict(ctx, "25001001000001"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestClearVerdicts(t *testing.T) {
	s, path := openStore(t)
	seed(t, s, sampleRecords())
	ctx := context.Background()

	if err := s.SaveVerdict(ctx, sampleVerdict("25001001000001", true)); err != nil {
		t.Fatalf("save verdict: %v", err)
	}
	if err := s.ClearVerdicts(ctx); err != nil {
		t.Fatalf("clear verdicts: %v", err)
	}

	all, err := s.Verdicts(ctx)
	if err != nil {
		t.Fatalf("verdicts: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("got %d verdicts after clear, want 0", len(all))
	}

	raw := rawEntries(t, path)
	if _, ok := raw[0]["processing_result"]; ok {
		t.Error("processing_result should be cleared")
	}
	if _, ok := raw[0]["verdict"]; ok {
		t.Error("verdict should be cleared")
	}
	if raw[0]["brand_name"] != "Sunrise" {
		t.Error("records must survive a verdict reset")
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s, path := openStore(t)
	seed(t, s, sampleRecords())

	if err := s.SaveVerdict(context.Background(), sampleVerdict("25001001000001", true)); err != nil {
		t.Fatalf("save verdict: %v", err)
	}

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".data-*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestLoadsLegacyExport(t *testing.T) {
	// A hand-written export in the historical layout, including the
	// misspelled fanciful name key some records carry.
	const export = `[
    {
        "application_num": "25001001000003",
        "brand_name": "Riverbend",
        "class": "Pale Ale",
        "fancifcul_name": "Summer Haze",
        "bottler_name": "Riverbend Brewing",
        "bottler_address": "Austin, TX",
        "processing_result": {
            "status": "failed",
            "failures": ["government warning"]
        }
    },
    {
        "application_num": "25001001000004",
        "brand_name": "Stonewall",
        "class": "Porter",
        "fanciful_name": "Night Watch",
        "bottler_name": "Stonewall Beverage Co",
        "bottler_address": "Denver, CO"
    }
]`
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte(export), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := jsonfile.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	recs, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].FancifulName != "Summer Haze" {
		t.Errorf("legacy fanciful name = %q, want %q", recs[0].FancifulName, "Summer Haze")
	}
	if recs[1].FancifulName != "Night Watch" {
		t.Errorf("fanciful name = %q, want %q", recs[1].FancifulName, "Night Watch")
	}

	// A processing_result alone is not a verdict.
	verdicts, err := s.Verdicts(context.Background())
	if err != nil {
		t.Fatalf("verdicts: %v", err)
	}
	if len(verdicts) != 0 {
		t.Errorf("got %d verdicts from summary-only export, want 0", len(verdicts))
	}
}
