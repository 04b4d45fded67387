package ocr

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeEngine returns canned tokens, optionally failing or stalling first.
type fakeEngine struct {
	name   string
	tokens []Token
	err    error
	delay  time.Duration
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return Result{}, f.err
	}
	return Adapt(Result{InputID: in.ID, Engine: f.name, Tokens: f.tokens}), nil
}

func TestPairRecognizeBothSucceed(t *testing.T) {
	a := &fakeEngine{name: "alpha", tokens: []Token{{Text: "ALE", Bounds: Region{Width: 20, Height: 10}, Confidence: 0.9}}}
	b := &fakeEngine{name: "beta", tokens: []Token{{Text: "ALE", Bounds: Region{Width: 20, Height: 10}, Confidence: 0.7}}}

	got, err := Pair{A: a, B: b}.Recognize(context.Background(), Input{ID: "x"})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if got.A.Engine != "alpha" || got.B.Engine != "beta" {
		t.Fatalf("slot mixup: A=%s B=%s", got.A.Engine, got.B.Engine)
	}
	if len(got.A.Tokens) != 1 || len(got.B.Tokens) != 1 {
		t.Fatalf("expected one token per side, got %d/%d", len(got.A.Tokens), len(got.B.Tokens))
	}
	if len(got.Failures) != 0 {
		t.Fatalf("unexpected failures: %+v", got.Failures)
	}
}

func TestPairRecognizeDegradesFailedEngine(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeEngine{name: "alpha", err: boom}
	b := &fakeEngine{name: "beta", tokens: []Token{{Text: "LAGER", Bounds: Region{Width: 30, Height: 10}, Confidence: 0.8}}}

	got, err := Pair{A: a, B: b}.Recognize(context.Background(), Input{ID: "x"})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if len(got.A.Tokens) != 0 {
		t.Fatalf("failed engine should contribute no tokens, got %+v", got.A.Tokens)
	}
	if len(got.B.Tokens) != 1 {
		t.Fatalf("healthy engine output lost: %+v", got.B)
	}
	if len(got.Failures) != 1 || got.Failures[0].Engine != "alpha" {
		t.Fatalf("unexpected failures: %+v", got.Failures)
	}
	if !errors.Is(got.Failures[0].Err, boom) {
		t.Fatalf("failure should wrap the engine error, got %v", got.Failures[0].Err)
	}
	var engErr *EngineError
	if !errors.As(got.Failures[0].Err, &engErr) || engErr.Engine != "alpha" {
		t.Fatalf("failure should carry the engine name, got %v", got.Failures[0].Err)
	}
	if want := []string{"alpha"}; len(got.DegradedEngines()) != 1 || got.DegradedEngines()[0] != want[0] {
		t.Fatalf("unexpected degraded list: %v", got.DegradedEngines())
	}
}

func TestPairRecognizeTimesOutSlowEngine(t *testing.T) {
	a := &fakeEngine{name: "alpha", delay: 5 * time.Second}
	b := &fakeEngine{name: "beta", tokens: []Token{{Text: "STOUT", Bounds: Region{Width: 30, Height: 10}, Confidence: 0.8}}}

	start := time.Now()
	got, err := Pair{A: a, B: b, Timeout: 20 * time.Millisecond}.Recognize(context.Background(), Input{ID: "x"})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout did not bound the slow engine: %v", elapsed)
	}
	if len(got.Failures) != 1 || got.Failures[0].Engine != "alpha" {
		t.Fatalf("expected alpha to time out, got %+v", got.Failures)
	}
	if !errors.Is(got.Failures[0].Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", got.Failures[0].Err)
	}
	if len(got.B.Tokens) != 1 {
		t.Fatalf("healthy engine output lost: %+v", got.B)
	}
}

func TestPairRecognizeBothFailIsStillValid(t *testing.T) {
	a := &fakeEngine{name: "alpha", err: errors.New("a down")}
	b := &fakeEngine{name: "beta", err: errors.New("b down")}

	got, err := Pair{A: a, B: b}.Recognize(context.Background(), Input{ID: "x"})
	if err != nil {
		t.Fatalf("both engines failing must not fail the scan: %v", err)
	}
	if len(got.A.Tokens) != 0 || len(got.B.Tokens) != 0 {
		t.Fatalf("expected empty evidence, got %+v", got)
	}
	if len(got.Failures) != 2 {
		t.Fatalf("expected two failures, got %+v", got.Failures)
	}
	// Failures stay in slot order regardless of completion order.
	if got.Failures[0].Engine != "alpha" || got.Failures[1].Engine != "beta" {
		t.Fatalf("failures out of slot order: %+v", got.Failures)
	}
}

func TestPairRecognizeNoEngines(t *testing.T) {
	_, err := Pair{}.Recognize(context.Background(), Input{})
	if !errors.Is(err, ErrNoEngine) {
		t.Fatalf("expected ErrNoEngine, got %v", err)
	}
}

func TestPairRecognizeParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &fakeEngine{name: "alpha", delay: 10 * time.Millisecond}
	_, err := Pair{A: a, B: a}.Recognize(ctx, Input{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
