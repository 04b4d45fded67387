package compliance

import (
	"strings"

	"github.com/labelkit/labelkit/fusion"
	"github.com/labelkit/labelkit/ocr"
	"github.com/labelkit/labelkit/textutil"
)

// DefaultMatchThreshold is the minimum similarity between an expected
// phrase and a token span. Tuned conservatively: a false "missing" costs
// a manual review, a false "found" approves a bad label.
const DefaultMatchThreshold = 0.75

// entityFeatures are the features verified against the application
// record, in verdict order.
var entityFeatures = []Feature{
	FeatureBrandName,
	FeatureClassType,
	FeatureFancifulName,
	FeatureBottlerName,
	FeatureBottlerAddress,
}

// EntityMatcher locates record fields on the label by fuzzy phrase
// matching over contiguous token spans.
type EntityMatcher struct {
	// Threshold is the minimum accepted similarity in [0,1].
	Threshold float64
}

// Check matches every record-backed feature against the token stream.
// A feature with no expected value in the record is missing; for the
// fanciful name, which many applications legitimately omit, it is also
// not required.
func (m *EntityMatcher) Check(ctx Context, rec Record, tokens []fusion.Token) ([]FeatureResult, error) {
	threshold := m.Threshold
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}

	// Tokens whose text normalizes to nothing (stray punctuation) carry
	// no matchable content and would only pad the spans.
	words := make([]fusion.Token, 0, len(tokens))
	for _, t := range tokens {
		if tokenNorm(t) != "" {
			words = append(words, t)
		}
	}

	results := make([]FeatureResult, 0, len(entityFeatures))
	for _, f := range entityFeatures {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		results = append(results, m.matchField(f, rec.Field(f), words, threshold))
	}
	return results, nil
}

func (m *EntityMatcher) matchField(f Feature, expected string, words []fusion.Token, threshold float64) FeatureResult {
	res := FeatureResult{
		Feature:  f,
		Status:   StatusMissing,
		Required: f != FeatureFancifulName || strings.TrimSpace(expected) != "",
	}

	target := textutil.NormalizePhrase(expected)
	if target == "" {
		return res
	}

	// Expected phrases rarely survive OCR tokenization intact: words
	// merge and split. Searching spans one shorter and one longer than
	// the expected word count absorbs both cases.
	k := len(strings.Fields(target))
	best := 0.0
	var span []fusion.Token
	for _, size := range spanSizes(k) {
		for i := 0; i+size <= len(words); i++ {
			w := words[i : i+size]
			sim := textutil.Similarity(joinNorms(w), target)
			if sim > best {
				best = sim
				span = w
			}
		}
	}
	if best < threshold {
		return res
	}

	res.Status = StatusFound
	res.Text = joinTexts(span)
	res.Bounds = unionBounds(span)
	res.Confidence = meanConfidence(span)
	return res
}

func spanSizes(k int) []int {
	sizes := make([]int, 0, 3)
	if k > 1 {
		sizes = append(sizes, k-1)
	}
	return append(sizes, k, k+1)
}

// tokenNorm returns the cached normalized form, computing it for tokens
// that did not come through the fusion engine.
func tokenNorm(t fusion.Token) string {
	if t.Norm != "" {
		return t.Norm
	}
	return textutil.NormalizeWord(t.Text)
}

func joinNorms(tokens []fusion.Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = tokenNorm(t)
	}
	return strings.Join(parts, " ")
}

func joinTexts(tokens []fusion.Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.Text
	}
	return strings.Join(parts, " ")
}

func unionBounds(tokens []fusion.Token) *ocr.Region {
	var u ocr.Region
	for _, t := range tokens {
		u = u.Union(t.Bounds)
	}
	if u.IsEmpty() {
		return nil
	}
	return &u
}

func meanConfidence(tokens []fusion.Token) float64 {
	if len(tokens) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range tokens {
		sum += t.Confidence
	}
	return sum / float64(len(tokens))
}
