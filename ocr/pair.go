package ocr

import (
	"context"
	"fmt"
	"time"
)

// EngineFailure records a detector that produced no usable output for a scan.
type EngineFailure struct {
	Engine string
	Err    error
}

func (f EngineFailure) String() string {
	return fmt.Sprintf("%s: %v", f.Engine, f.Err)
}

// Pair invokes two independent engines against the same input concurrently.
// An engine error or timeout degrades that side to an empty result instead of
// aborting the scan: one provider outage narrows the evidence, the fusion and
// verification stages decide what the remaining evidence supports.
type Pair struct {
	A, B Engine
	// Timeout bounds each engine invocation. Zero means the caller's context
	// is the only limit.
	Timeout time.Duration
}

// PairResult carries the adapted output of both engines plus any failures
// that were degraded to empty results.
type PairResult struct {
	A, B     Result
	Failures []EngineFailure
}

// DegradedEngines lists the names of engines that failed, in slot order.
func (r PairResult) DegradedEngines() []string {
	if len(r.Failures) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		names = append(names, f.Engine)
	}
	return names
}

// Recognize runs both engines in parallel and never fails on engine errors:
// a side that errors or times out contributes an empty token list and is
// reported in Failures. The returned error is non-nil only when no engine is
// configured or the parent context ends before both sides finish.
func (p Pair) Recognize(ctx context.Context, in Input) (PairResult, error) {
	if p.A == nil && p.B == nil {
		return PairResult{}, ErrNoEngine
	}

	type slot struct {
		idx int
		res Result
		err error
	}
	engines := [2]Engine{p.A, p.B}
	ch := make(chan slot, 2)
	launched := 0
	for i, eng := range engines {
		if eng == nil {
			continue
		}
		launched++
		go func(idx int, eng Engine) {
			runCtx := ctx
			cancel := func() {}
			if p.Timeout > 0 {
				runCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			}
			defer cancel()
			res, err := eng.Recognize(runCtx, in)
			if err == nil && runCtx.Err() != nil {
				err = runCtx.Err()
			}
			ch <- slot{idx: idx, res: res, err: err}
		}(i, eng)
	}

	var out PairResult
	var failures [2]*EngineFailure
	for done := 0; done < launched; done++ {
		s := <-ch
		res := s.res
		if s.err != nil {
			name := engines[s.idx].Name()
			res = Result{InputID: in.ID, Engine: name}
			failures[s.idx] = &EngineFailure{
				Engine: name,
				Err:    &EngineError{Engine: name, Err: s.err},
			}
		}
		if s.idx == 0 {
			out.A = res
		} else {
			out.B = res
		}
	}
	for _, f := range failures {
		if f != nil {
			out.Failures = append(out.Failures, *f)
		}
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}
