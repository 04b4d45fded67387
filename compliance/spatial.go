package compliance

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/labelkit/labelkit/cluster"
	"github.com/labelkit/labelkit/fusion"
)

// DefaultProximity is the maximum per-axis distance in pixels between a
// quantity token and its unit token within a net-contents statement.
const DefaultProximity = 60

var (
	alcoholRe = regexp.MustCompile(`alc(ohol)?\.?`)
	volumeRe  = regexp.MustCompile(`vol(ume)?\.?`)
	percentRe = regexp.MustCompile(`\d+\.?\d*%`)
	digitRe   = regexp.MustCompile(`\d`)

	// combinedNetRe matches a quantity fused with its unit into a single
	// token ("12floz", "1pt") after normalization strips punctuation.
	combinedNetRe = regexp.MustCompile(`^\d+(floz|fl|oz|pints?|pt|quarts?|qt|gallons?|gal)$`)
)

// netUnits are the accepted US customary units, in normalized form.
var netUnits = map[string]bool{
	"fl": true, "floz": true, "oz": true,
	"pint": true, "pints": true, "pt": true,
	"quart": true, "quarts": true, "qt": true,
	"gallon": true, "gallons": true, "gal": true,
}

// SpatialVerifier checks the statements whose correct value is not in the
// application record: alcohol content and net contents. Both are verified
// by formatting convention inside a recovered text block, since the label
// itself is the authority for what they say.
type SpatialVerifier struct {
	// Cluster controls the DBSCAN pass that recovers text blocks.
	Cluster cluster.Params
	// Proximity is the maximum per-axis center distance between a
	// quantity token and a unit token.
	Proximity float64
}

// Check recovers text blocks from token positions and scans each block
// for a well-formed alcohol-content statement and a net-contents
// statement. Blocks are visited top to bottom; the first satisfying
// block wins.
func (s *SpatialVerifier) Check(ctx Context, rec Record, tokens []fusion.Token) ([]FeatureResult, error) {
	params := s.Cluster
	if params.Eps <= 0 {
		params.Eps = cluster.DefaultEps
	}
	if params.MinPoints <= 0 {
		params.MinPoints = cluster.DefaultMinPoints
	}
	proximity := s.Proximity
	if proximity <= 0 {
		proximity = DefaultProximity
	}

	groups := clusterTokens(tokens, params)

	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	alcohol := findAlcohol(tokens, groups)

	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	net := findNetContents(tokens, groups, proximity)

	return []FeatureResult{alcohol, net}, nil
}

// findAlcohol scans each block for the three parts of an alcohol
// statement: an "alc"/"alcohol" token, a "vol"/"volume" token and a
// percentage figure. The parts may share tokens ("ALC/VOL") and appear
// in any order, and the percent sign may be detected apart from its
// number ("5.0" next to "% ALC/VOL"), which keeps the check robust to
// tokenization differences.
func findAlcohol(tokens []fusion.Token, groups [][]int) FeatureResult {
	res := FeatureResult{Feature: FeatureAlcoholContent, Status: StatusMissing, Required: true}
	for _, group := range groups {
		alc, vol, pct := -1, -1, -1
		sign, num := -1, -1
		for _, i := range group {
			word := strings.ToLower(strings.TrimSpace(tokens[i].Text))
			if alc < 0 && alcoholRe.MatchString(word) {
				alc = i
			}
			if vol < 0 && volumeRe.MatchString(word) {
				vol = i
			}
			if pct < 0 && percentRe.MatchString(word) {
				pct = i
			}
			if sign < 0 && strings.Contains(word, "%") {
				sign = i
			}
			if num < 0 && digitRe.MatchString(word) {
				num = i
			}
		}
		if alc < 0 || vol < 0 {
			continue
		}
		if pct >= 0 {
			return foundResult(res, witnessTokens(tokens, alc, vol, pct))
		}
		if sign >= 0 && num >= 0 && sign != num {
			return foundResult(res, witnessTokens(tokens, alc, vol, num, sign))
		}
	}
	return res
}

// findNetContents scans each block for a quantity with a US customary
// unit: either fused into one token or as a number token printed next to
// a unit token.
func findNetContents(tokens []fusion.Token, groups [][]int, proximity float64) FeatureResult {
	res := FeatureResult{Feature: FeatureNetContents, Status: StatusMissing, Required: true}
	for _, group := range groups {
		for _, i := range group {
			if combinedNetRe.MatchString(tokenNorm(tokens[i])) {
				return foundResult(res, witnessTokens(tokens, i))
			}
		}

		var numbers, units []int
		for _, i := range group {
			if digitRe.MatchString(tokens[i].Text) {
				numbers = append(numbers, i)
			}
			if netUnits[tokenNorm(tokens[i])] {
				units = append(units, i)
			}
		}
		for _, n := range numbers {
			for _, u := range units {
				if n == u {
					continue
				}
				nx, ny := tokens[n].Bounds.Center()
				ux, uy := tokens[u].Bounds.Center()
				if math.Abs(nx-ux) < proximity && math.Abs(ny-uy) < proximity {
					return foundResult(res, witnessTokens(tokens, n, u))
				}
			}
		}
	}
	return res
}

func foundResult(res FeatureResult, span []fusion.Token) FeatureResult {
	res.Status = StatusFound
	res.Text = joinTexts(span)
	res.Bounds = unionBounds(span)
	res.Confidence = meanConfidence(span)
	return res
}

// witnessTokens collects the distinct tokens at the given indices in
// reading order.
func witnessTokens(tokens []fusion.Token, idxs ...int) []fusion.Token {
	seen := make(map[int]bool, len(idxs))
	distinct := make([]int, 0, len(idxs))
	for _, i := range idxs {
		if !seen[i] {
			seen[i] = true
			distinct = append(distinct, i)
		}
	}
	sort.Ints(distinct)
	span := make([]fusion.Token, len(distinct))
	for k, i := range distinct {
		span[k] = tokens[i]
	}
	return span
}

// clusterTokens groups tokens into text blocks by density-clustering
// their centers. Group member indices point back into tokens; groups
// come back ordered top to bottom.
func clusterTokens(tokens []fusion.Token, params cluster.Params) [][]int {
	if len(tokens) == 0 {
		return nil
	}
	pts := make([]cluster.Point, len(tokens))
	for i, t := range tokens {
		cx, cy := t.Bounds.Center()
		pts[i] = cluster.Point{X: cx, Y: cy, Weight: t.Confidence, Index: i}
	}
	clusters := cluster.DBSCAN(pts, params)
	groups := make([][]int, len(clusters))
	for i, c := range clusters {
		groups[i] = c.Members
	}
	return groups
}
