package compliance

import (
	"strings"

	"github.com/labelkit/labelkit/cluster"
	"github.com/labelkit/labelkit/fusion"
)

// WarningText is the health warning statement mandated by 27 CFR part 16.
// Wording, capitalization and punctuation are fixed by regulation.
const WarningText = "GOVERNMENT WARNING: (1) According to the Surgeon General, " +
	"women should not drink alcoholic beverages during pregnancy because of " +
	"the risk of birth defects. (2) Consumption of alcoholic beverages impairs " +
	"your ability to drive a car or operate machinery, and may cause health problems."

// warningWords is the statement token by token; the check is exact, so a
// word only counts when its capitalization and punctuation survive OCR.
var warningWords = strings.Fields(WarningText)

// WarningVerifier checks the government health warning against
// WarningText. Matching is strict where every other check is fuzzy. Bold
// typography cannot be observed in OCR output and is a documented
// limitation.
type WarningVerifier struct {
	// Cluster supplies the neighborhood radius used to require the
	// GOVERNMENT and WARNING: anchors to sit together.
	Cluster cluster.Params
}

// Check verifies that every word of the statement appears with exact
// case and punctuation, duplicates counted, and that the two opening
// anchor words are printed next to each other.
func (w *WarningVerifier) Check(ctx Context, rec Record, tokens []fusion.Token) ([]FeatureResult, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	eps := w.Cluster.Eps
	if eps <= 0 {
		eps = cluster.DefaultEps
	}

	res := FeatureResult{Feature: FeatureGovernmentWarning, Status: StatusMissing, Required: true}

	need := make(map[string]int, len(warningWords))
	for _, word := range warningWords {
		need[word]++
	}

	var witnesses []int
	govIdx, warnIdx := -1, -1
	for i, t := range tokens {
		text := strings.TrimSpace(t.Text)
		if need[text] == 0 {
			continue
		}
		need[text]--
		witnesses = append(witnesses, i)
		switch text {
		case "GOVERNMENT":
			govIdx = i
		case "WARNING:":
			warnIdx = i
		}
	}
	for _, count := range need {
		if count > 0 {
			return []FeatureResult{res}, nil
		}
	}

	// Common words like "to" or "a" occur all over label art, so word
	// presence alone could assemble a phantom warning from scattered
	// text. The opening anchors must at least be printed together.
	gov, warn := tokens[govIdx].Bounds, tokens[warnIdx].Bounds
	if !gov.IsEmpty() && !warn.IsEmpty() && gov.CenterDistance(warn) > eps {
		return []FeatureResult{res}, nil
	}

	span := witnessTokens(tokens, witnesses...)
	return []FeatureResult{foundResult(res, span)}, nil
}
