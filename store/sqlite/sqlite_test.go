package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/labelkit/labelkit/compliance"
	"github.com/labelkit/labelkit/ocr"
	"github.com/labelkit/labelkit/store"
	"github.com/labelkit/labelkit/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "labels.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
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
			NetContents:    "12 FL OZ",
		},
	}
}

func seed(t *testing.T, s *sqlite.Store, recs []compliance.Record) {
	t.Helper()
	if err := s.Seed(context.Background(), recs); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// sampleVerdict builds a verdict with one result per feature, failing
// only the government warning when compliant is false.
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
		ScannedAt:      time.Date(2026, 8, 20, 9, 30, 0, 123456789, time.UTC),
		RunID:          "run-1",
	}
}

func TestSeedAndList(t *testing.T) {
	s := openStore(t)
	recs := sampleRecords()
	seed(t, s, recs)

	got, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff(recs, got); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestSeedReplacesExisting(t *testing.T) {
	s := openStore(t)
	recs := sampleRecords()
	seed(t, s, recs)

	recs[0].BrandName = "Sunset"
	seed(t, s, recs[:1])

	got, err := s.Record(context.Background(), recs[0].ApplicationNum)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if got.BrandName != "Sunset" {
		t.Errorf("brand name = %q, want %q", got.BrandName, "Sunset")
	}
	all, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d records, want 2", len(all))
	}
}

func TestSeedRejectsEmptyApplicationNum(t *testing.T) {
	s := openStore(t)
	err := s.Seed(context.Background(), []compliance.Record{{BrandName: "Nameless"}})
	if err == nil {
		t.Fatal("expected error for record without application number")
	}
}

func TestRecordNotFound(t *testing.T) {
	s := openStore(t)
	seed(t, s, sampleRecords())

	_, err := s.Record(context.Background(), "99999999999999")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestSearch(t *testing.T) {
	s := openStore(t)
	seed(t, s, sampleRecords())
	ctx := context.Background()

	got, err := s.Search(ctx, "moonlight")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ApplicationNum != "25001001000002" {
		t.Errorf("search %q returned %+v", "moonlight", got)
	}

	// Matches any field, not just the brand name.
	got, err = s.Search(ctx, "golden gate")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ApplicationNum != "25001001000001" {
		t.Errorf("search %q returned %+v", "golden gate", got)
	}

	// Empty query lists everything.
	got, err = s.Search(ctx, "  ")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("empty search returned %d records, want 2", len(got))
	}

	got, err = s.Search(ctx, "tequila")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("search %q returned %+v, want none", "tequila", got)
	}
}

func TestVerdictRoundTrip(t *testing.T) {
	s := openStore(t)
	seed(t, s, sampleRecords())
	ctx := context.Background()

	want := sampleVerdict("25001001000001", false)
	want.Degraded = []string{"onnx"}
	if err := s.SaveVerdict(ctx, want); err != nil {
		t.Fatalf("save verdict: %v", err)
	}

	got, err := s.Verdict(ctx, want.ApplicationNum)
	if err != nil {
		t.Fatalf("verdict: %v", err)
	}
	if got.ApplicationNum != want.ApplicationNum {
		t.Errorf("application num = %q, want %q", got.ApplicationNum, want.ApplicationNum)
	}
	if got.Compliant != want.Compliant {
		t.Errorf("compliant = %v, want %v", got.Compliant, want.Compliant)
	}
	if got.RunID != want.RunID {
		t.Errorf("run id = %q, want %q", got.RunID, want.RunID)
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
	if got.Compliant {
		t.Error("verdict should not be compliant")
	}
	if failures := got.Failures(); len(failures) != 1 || failures[0] != "government warning" {
		t.Errorf("failures = %v, want [government warning]", failures)
	}
}

func TestSaveVerdictOverwrites(t *testing.T) {
	s := openStore(t)
	seed(t, s, sampleRecords())
	ctx := context.Background()

	if err := s.SaveVerdict(ctx, sampleVerdict("25001001000001", false)); err != nil {
		t.Fatalf("save verdict: %v", err)
	}
	rescan := sampleVerdict("25001001000001", true)
	rescan.RunID = "run-2"
	if err := s.SaveVerdict(ctx, rescan); err != nil {
		t.Fatalf("save verdict again: %v", err)
	}

	got, err := s.Verdict(ctx, "25001001000001")
	if err != nil {
		t.Fatalf("verdict: %v", err)
	}
	if !got.Compliant || got.RunID != "run-2" {
		t.Errorf("got compliant=%v run=%q, want rescan to win", got.Compliant, got.RunID)
	}
}

func TestSaveVerdictRequiresRecord(t *testing.T) {
	s := openStore(t)
	seed(t, s, sampleRecords())

	err := s.SaveVerdict(context.Background(), sampleVerdict("99999999999999", true))
	if err == nil {
		t.Fatal("expected error saving verdict for unknown application")
	}
}

func TestVerdictNotFound(t *testing.T) {
	s := openStore(t)
	seed(t, s, sampleRecords())

	_, err := s.Verdict(context.Background(), "25001001000001")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestVerdictsAndClear(t *testing.T) {
	s := openStore(t)
	seed(t, s, sampleRecords())
	ctx := context.Background()

	if err := s.SaveVerdict(ctx, sampleVerdict("25001001000001", true)); err != nil {
		t.Fatalf("save verdict: %v", err)
	}
	if err := s.SaveVerdict(ctx, sampleVerdict("25001001000002", false)); err != nil {
		t.Fatalf("save verdict: %v", err)
	}

	all, err := s.Verdicts(ctx)
	if err != nil {
		t.Fatalf("verdicts: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d verdicts, want 2", len(all))
	}
	if !all["25001001000001"].Compliant || all["25001001000002"].Compliant {
		t.Errorf("verdict map has wrong outcomes: %+v", all)
	}

	if err := s.ClearVerdicts(ctx); err != nil {
		t.Fatalf("clear verdicts: %v", err)
	}
	all, err = s.Verdicts(ctx)
	if err != nil {
		t.Fatalf("verdicts after clear: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("got %d verdicts after clear, want 0", len(all))
	}
	if _, err := s.Verdict(ctx, "25001001000001"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want %v", err, store.ErrNotFound)
	}

	// Records survive a verdict reset.
	recs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("got %d records after clear, want 2", len(recs))
	}
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.db")

	s, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	seed(t, s, sampleRecords())
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	recs, err := reopened.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("got %d records after reopen, want 2", len(recs))
	}
}
