// Package pipeline runs the end-to-end label scan: look up the
// application record, load the label artwork, run both detectors, fuse
// their tokens, verify the mandated features and persist the verdict.
// Batch runs fan the same scan out over a bounded worker set; a single
// unprocessable label never fails the batch.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/labelkit/labelkit/compliance"
	"github.com/labelkit/labelkit/fusion"
	"github.com/labelkit/labelkit/imageio"
	"github.com/labelkit/labelkit/observability"
	"github.com/labelkit/labelkit/ocr"
	"github.com/labelkit/labelkit/store"
)

// DefaultWorkers bounds batch concurrency when no override is given.
const DefaultWorkers = 4

// Runner wires the scan stages together. Build one with New and share
// it freely; Runner is safe for concurrent use.
type Runner struct {
	store     store.Store
	images    imageio.Source
	engines   ocr.Pair
	fuse      fusion.Options
	eval      *compliance.Evaluator
	inputOpts []ocr.InputOption
	workers   int
	logger    observability.Logger
	tracer    observability.Tracer
}

// Option configures a Runner.
type Option func(*Runner, *compliance.Options)

// WithFusion overrides the token fusion tuning.
func WithFusion(opts fusion.Options) Option {
	return func(r *Runner, _ *compliance.Options) { r.fuse = opts }
}

// WithVerification overrides the feature verification tuning.
func WithVerification(opts compliance.Options) Option {
	return func(_ *Runner, v *compliance.Options) { *v = opts }
}

// WithWorkers sets the batch concurrency limit.
func WithWorkers(n int) Option {
	return func(r *Runner, _ *compliance.Options) { r.workers = n }
}

// WithLogger routes scan diagnostics to the given logger.
func WithLogger(l observability.Logger) Option {
	return func(r *Runner, _ *compliance.Options) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracer attaches a tracer to every scan.
func WithTracer(t observability.Tracer) Option {
	return func(r *Runner, _ *compliance.Options) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithInputOptions forwards engine input options (DPI, languages,
// provider knobs) to every recognition call.
func WithInputOptions(opts ...ocr.InputOption) Option {
	return func(r *Runner, _ *compliance.Options) {
		r.inputOpts = append([]ocr.InputOption(nil), opts...)
	}
}

// New builds a Runner over the given store, image source and detector
// pair.
func New(st store.Store, images imageio.Source, engines ocr.Pair, opts ...Option) *Runner {
	r := &Runner{
		store:   st,
		images:  images,
		engines: engines,
		fuse:    fusion.DefaultOptions(),
		workers: DefaultWorkers,
		logger:  observability.NopLogger{},
		tracer:  observability.NopTracer(),
	}
	verify := compliance.DefaultOptions()
	for _, opt := range opts {
		opt(r, &verify)
	}
	if r.workers <= 0 {
		r.workers = DefaultWorkers
	}
	r.eval = compliance.NewEvaluator(verify)
	return r
}

// LabelOutcome is the result of scanning one application's label.
// Err is set when the label could not be processed at all (unknown
// application, unreadable image, cancelled scan); a non-compliant label
// is a successful scan with Verdict.Compliant false, never an Err.
type LabelOutcome struct {
	AppNum   string
	Verdict  *compliance.Verdict
	Err      error
	Degraded []string
	Elapsed  time.Duration
}

// ProcessLabel scans a single application's label and stores the
// verdict. The outcome carries its own run id.
func (r *Runner) ProcessLabel(ctx context.Context, appNum string) LabelOutcome {
	return r.process(ctx, appNum, uuid.NewString())
}

func (r *Runner) process(ctx context.Context, appNum, runID string) LabelOutcome {
	started := time.Now()
	out := LabelOutcome{AppNum: appNum}
	log := r.logger.With(
		observability.String("app", appNum),
		observability.String("run", runID))

	ctx, span := r.tracer.StartSpan(ctx, "label.scan")
	defer span.Finish()
	span.SetTag("application_num", appNum)

	fail := func(err error) LabelOutcome {
		out.Err = err
		out.Elapsed = time.Since(started)
		span.SetError(err)
		log.Warn("scan failed", observability.Error("error", err))
		return out
	}

	rec, err := r.store.Record(ctx, appNum)
	if err != nil {
		return fail(fmt.Errorf("application %s: %w", appNum, err))
	}

	img, err := r.images.Load(ctx, appNum)
	if err != nil {
		return fail(err)
	}

	in := ocr.NewInput(appNum, img.Data, ocr.ImageFormat(img.Format), r.inputOpts...)
	detectStarted := time.Now()
	pr, err := r.engines.Recognize(ctx, in)
	if err != nil {
		return fail(fmt.Errorf("detect %s: %w", appNum, err))
	}
	out.Degraded = pr.DegradedEngines()
	for _, f := range pr.Failures {
		log.Warn("detector degraded",
			observability.String("engine", f.Engine),
			observability.Error("error", f.Err))
	}

	tokens := fusion.Fuse(pr.A, pr.B, r.fuse)
	log.Debug("tokens fused",
		observability.Duration(observability.MetricDetectTime, time.Since(detectStarted)),
		observability.Int(observability.MetricFusedTokens, len(tokens)),
		observability.Int(observability.MetricImageBytes, len(img.Data)))

	verdict, err := r.eval.Evaluate(ctx, rec, tokens)
	if err != nil {
		return fail(fmt.Errorf("verify %s: %w", appNum, err))
	}
	verdict.ScannedAt = time.Now().UTC()
	verdict.RunID = runID
	verdict.Degraded = out.Degraded

	saveStarted := time.Now()
	if err := r.store.SaveVerdict(ctx, verdict); err != nil {
		out.Verdict = &verdict
		return fail(fmt.Errorf("save verdict %s: %w", appNum, err))
	}

	status := "compliant"
	if !verdict.Compliant {
		status = "non-compliant"
	}
	out.Verdict = &verdict
	out.Elapsed = time.Since(started)
	log.Info("scan complete",
		observability.String("status", status),
		observability.Duration(observability.MetricScanTime, out.Elapsed),
		observability.Duration(observability.MetricStoreTime, time.Since(saveStarted)))
	return out
}

// BatchResult is the outcome of one batch run. Outcomes is index-aligned
// with the application numbers the batch processed.
type BatchResult struct {
	RunID    string
	Outcomes []LabelOutcome
	Started  time.Time
	Finished time.Time
}

// Elapsed returns the wall-clock duration of the batch.
func (b BatchResult) Elapsed() time.Duration { return b.Finished.Sub(b.Started) }

// Summary aggregates a batch into counts.
type Summary struct {
	Total         int `json:"total"`
	Compliant     int `json:"compliant"`
	NonCompliant  int `json:"non_compliant"`
	Unprocessable int `json:"unprocessable"`
	// Degraded counts completed scans that lost a detector along the way.
	Degraded int `json:"degraded"`
}

// Summary tallies the batch outcomes.
func (b BatchResult) Summary() Summary {
	s := Summary{Total: len(b.Outcomes)}
	for _, o := range b.Outcomes {
		switch {
		case o.Err != nil:
			s.Unprocessable++
		case o.Verdict != nil && o.Verdict.Compliant:
			s.Compliant++
		default:
			s.NonCompliant++
		}
		if o.Err == nil && len(o.Degraded) > 0 {
			s.Degraded++
		}
	}
	return s
}

// ProcessBatch scans the given applications under a shared run id with
// at most the configured number of labels in flight. An empty appNums
// scans every application in the store. Per-label failures surface in
// the outcomes; the returned error is non-nil only when listing the
// store fails or the context ends before the batch completes.
func (r *Runner) ProcessBatch(ctx context.Context, appNums []string) (BatchResult, error) {
	res := BatchResult{RunID: uuid.NewString(), Started: time.Now().UTC()}
	if len(appNums) == 0 {
		recs, err := r.store.List(ctx)
		if err != nil {
			return res, fmt.Errorf("list applications: %w", err)
		}
		appNums = make([]string, len(recs))
		for i, rec := range recs {
			appNums[i] = rec.ApplicationNum
		}
	}
	res.Outcomes = make([]LabelOutcome, len(appNums))

	r.logger.Info("batch started",
		observability.String("run", res.RunID),
		observability.Int(observability.MetricBatchSize, len(appNums)),
		observability.Int("workers", r.workers))

	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, appNum := range appNums {
		// Stop scheduling once the context ends; in-flight scans wind
		// down on their own.
		if err := ctx.Err(); err != nil {
			res.Outcomes[i] = LabelOutcome{AppNum: appNum, Err: err}
			continue
		}
		g.Go(func() error {
			res.Outcomes[i] = r.process(ctx, appNum, res.RunID)
			return nil
		})
	}
	_ = g.Wait()
	res.Finished = time.Now().UTC()

	s := res.Summary()
	r.logger.Info("batch complete",
		observability.String("run", res.RunID),
		observability.Duration(observability.MetricBatchTime, res.Elapsed()),
		observability.Int("compliant", s.Compliant),
		observability.Int("noncompliant", s.NonCompliant),
		observability.Int("unprocessable", s.Unprocessable))

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}
