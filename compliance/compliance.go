package compliance

import (
	"context"
	"time"

	"github.com/labelkit/labelkit/cluster"
	"github.com/labelkit/labelkit/fusion"
	"github.com/labelkit/labelkit/ocr"
)

// Context is an alias for context.Context to allow for future expansion.
type Context = context.Context

// Status is the outcome of one feature check.
type Status string

const (
	// StatusFound means the feature is present and satisfies its format
	// and placement rules.
	StatusFound Status = "found"
	// StatusMissing means the feature could not be verified. Missing is a
	// normal verdict, not an error.
	StatusMissing Status = "missing"
)

// FeatureResult is the outcome of verifying a single mandated feature.
// Text, Bounds and Confidence are populated only when Status is StatusFound.
type FeatureResult struct {
	Feature    Feature     `json:"feature"`
	Status     Status      `json:"status"`
	Text       string      `json:"text,omitempty"`
	Bounds     *ocr.Region `json:"bounds,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	// Required reports whether this feature counts toward compliance.
	// Only a fanciful name absent from the application record is optional.
	Required bool `json:"required"`
}

// Found reports whether the feature was verified on the label.
func (r FeatureResult) Found() bool { return r.Status == StatusFound }

// Verdict is the full verification outcome for one label. Results always
// holds one entry per Feature, in Feature order.
type Verdict struct {
	ApplicationNum string          `json:"application_num"`
	Results        []FeatureResult `json:"results"`
	Compliant      bool            `json:"compliant"`
	ScannedAt      time.Time       `json:"scanned_at"`
	RunID          string          `json:"run_id,omitempty"`
	// Degraded names detector engines that failed during the scan; the
	// verdict was produced from the surviving engine's output alone.
	Degraded []string `json:"degraded,omitempty"`
}

// Result returns the outcome recorded for f.
func (v Verdict) Result(f Feature) (FeatureResult, bool) {
	for _, r := range v.Results {
		if r.Feature == f {
			return r, true
		}
	}
	return FeatureResult{}, false
}

// Failures lists the names of required features that were not found.
func (v Verdict) Failures() []string {
	var failed []string
	for _, r := range v.Results {
		if r.Required && !r.Found() {
			failed = append(failed, r.Feature.String())
		}
	}
	return failed
}

// Checker verifies a subset of the mandated features against the fused
// label text. Implementations must return one FeatureResult per feature
// they own and must not report the same feature twice.
type Checker interface {
	Check(ctx Context, rec Record, tokens []fusion.Token) ([]FeatureResult, error)
}

// Options tunes the verification stages. Zero values select the defaults.
type Options struct {
	// MatchThreshold is the minimum fuzzy-match similarity for record
	// fields, in [0,1].
	MatchThreshold float64
	// Cluster controls the DBSCAN grouping used by the spatial and
	// warning checks.
	Cluster cluster.Params
	// Proximity is the maximum per-axis distance in pixels between a
	// number token and a unit token for them to form a net-contents
	// statement.
	Proximity float64
}

// DefaultOptions returns the tuning the verifier ships with.
func DefaultOptions() Options {
	return Options{
		MatchThreshold: DefaultMatchThreshold,
		Cluster:        cluster.DefaultParams(),
		Proximity:      DefaultProximity,
	}
}

// Evaluator runs the verification stages over a fused token set.
type Evaluator struct {
	checkers []Checker
}

// NewEvaluator builds an Evaluator from the standard three stages: entity
// matching, spatial format checks and the government warning check.
func NewEvaluator(opts Options) *Evaluator {
	if opts.MatchThreshold <= 0 {
		opts.MatchThreshold = DefaultMatchThreshold
	}
	if opts.Cluster.Eps <= 0 {
		opts.Cluster.Eps = cluster.DefaultEps
	}
	if opts.Cluster.MinPoints <= 0 {
		opts.Cluster.MinPoints = cluster.DefaultMinPoints
	}
	if opts.Proximity <= 0 {
		opts.Proximity = DefaultProximity
	}
	return &Evaluator{checkers: []Checker{
		&EntityMatcher{Threshold: opts.MatchThreshold},
		&SpatialVerifier{Cluster: opts.Cluster, Proximity: opts.Proximity},
		&WarningVerifier{Cluster: opts.Cluster},
	}}
}

// Evaluate verifies every mandated feature and assembles the verdict.
// Features no checker reported stay missing and required, so a partial
// checker set still yields a complete verdict. The verdict is compliant
// when every required feature was found.
func (e *Evaluator) Evaluate(ctx Context, rec Record, tokens []fusion.Token) (Verdict, error) {
	results := make([]FeatureResult, NumFeatures)
	for i := range results {
		results[i] = FeatureResult{
			Feature:  Feature(i),
			Status:   StatusMissing,
			Required: true,
		}
	}

	for _, c := range e.checkers {
		if err := checkCancelled(ctx); err != nil {
			return Verdict{}, err
		}
		rs, err := c.Check(ctx, rec, tokens)
		if err != nil {
			return Verdict{}, err
		}
		for _, r := range rs {
			if r.Feature < 0 || int(r.Feature) >= NumFeatures {
				continue
			}
			results[r.Feature] = r
		}
	}

	compliant := true
	for _, r := range results {
		if r.Required && !r.Found() {
			compliant = false
		}
	}

	return Verdict{
		ApplicationNum: rec.ApplicationNum,
		Results:        results,
		Compliant:      compliant,
	}, nil
}

// Evaluate verifies rec against tokens with the standard stages.
func Evaluate(ctx Context, rec Record, tokens []fusion.Token, opts Options) (Verdict, error) {
	return NewEvaluator(opts).Evaluate(ctx, rec, tokens)
}

func checkCancelled(ctx Context) error {
	select {
	case <-ctx.Done():
		return &VerificationCancelledError{}
	default:
		return nil
	}
}

// VerificationCancelledError reports that the caller's context expired
// while a label was being verified.
type VerificationCancelledError struct{}

func (e *VerificationCancelledError) Error() string { return "verification cancelled" }
