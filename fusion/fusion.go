// Package fusion reconciles the token streams of two independent detectors
// into a single evidence list. The stage is deliberately greedy about keeping
// evidence: tokens seen by only one engine pass through unchanged, and
// rejection is deferred to verification, where a wrong token simply fails to
// match anything. A false negative here would silently erase a label element;
// a false positive costs nothing.
package fusion

import (
	"sort"

	"github.com/labelkit/labelkit/ocr"
	"github.com/labelkit/labelkit/textutil"
)

// TieBreak selects the winner when paired tokens carry equal confidence.
type TieBreak int

const (
	// PreferA wins ties for the first (primary) detector slot.
	PreferA TieBreak = iota
	// PreferB wins ties for the second detector slot.
	PreferB
)

// Options tunes pairing and voting.
type Options struct {
	// Overlap is the minimum bounding-box IoU for two tokens to pair on
	// geometry alone. Values above 1 disable geometric pairing.
	Overlap float64
	// Similarity is the minimum text ratio (0-100 scale) for two tokens to
	// pair on text, provided they sit within LineTolerance vertically.
	Similarity float64
	// LineTolerance is the maximum vertical center distance in pixels for
	// text-based pairing. Zero derives it from the median token height.
	LineTolerance float64
	// TieBreak resolves equal-confidence disagreements.
	TieBreak TieBreak
}

// DefaultOptions mirrors the tuning the verifier ships with.
func DefaultOptions() Options {
	return Options{Overlap: 0.4, Similarity: 60, LineTolerance: 25}
}

// Token is a fused token: the resolved word plus provenance.
type Token struct {
	ocr.Token
	// Sources lists the engines that contributed, in slot order.
	Sources []string
	// Agreed reports that both engines produced the same normalized text.
	Agreed bool
	// Norm caches the normalized form used for pairing and matching.
	Norm string
}

// Fuse reconciles the outputs of detector slots A and B. Every input token is
// represented in the output exactly once: as an agreement, as the winner of a
// disagreement vote, or as a single-source pass-through. Near-duplicates
// (same normalized text, overlapping bounds) collapse to the strongest
// instance. Output is in reading order and deterministic for equal inputs.
func Fuse(a, b ocr.Result, opts Options) []Token {
	if opts.Overlap == 0 && opts.Similarity == 0 {
		def := DefaultOptions()
		def.LineTolerance = opts.LineTolerance
		def.TieBreak = opts.TieBreak
		opts = def
	}
	lineTol := opts.LineTolerance
	if lineTol <= 0 {
		all := make([]ocr.Token, 0, len(a.Tokens)+len(b.Tokens))
		all = append(all, a.Tokens...)
		all = append(all, b.Tokens...)
		lineTol = ocr.MedianHeight(all)
		if lineTol < 4 {
			lineTol = 4
		}
	}

	normsA := normalizeAll(a.Tokens)
	normsB := normalizeAll(b.Tokens)

	type candidate struct {
		i, j int
		sim  float64
		iou  float64
	}
	var candidates []candidate
	for i, ta := range a.Tokens {
		_, ya := ta.Bounds.Center()
		for j, tb := range b.Tokens {
			iou := ta.Bounds.IoU(tb.Bounds)
			sim := textutil.Ratio(normsA[i], normsB[j])
			_, yb := tb.Bounds.Center()
			dy := ya - yb
			if dy < 0 {
				dy = -dy
			}
			// A zero threshold disables that pairing channel.
			geo := opts.Overlap > 0 && iou >= opts.Overlap
			textual := opts.Similarity > 0 && sim >= opts.Similarity && dy < lineTol
			if geo || textual {
				candidates = append(candidates, candidate{i: i, j: j, sim: sim, iou: iou})
			}
		}
	}
	// Best matches claim their partners first; index order breaks the rest.
	sort.SliceStable(candidates, func(x, y int) bool {
		cx, cy := candidates[x], candidates[y]
		if cx.sim != cy.sim {
			return cx.sim > cy.sim
		}
		if cx.iou != cy.iou {
			return cx.iou > cy.iou
		}
		if cx.i != cy.i {
			return cx.i < cy.i
		}
		return cx.j < cy.j
	})

	usedA := make([]bool, len(a.Tokens))
	usedB := make([]bool, len(b.Tokens))
	fused := make([]Token, 0, len(a.Tokens)+len(b.Tokens))
	for _, c := range candidates {
		if usedA[c.i] || usedB[c.j] {
			continue
		}
		usedA[c.i] = true
		usedB[c.j] = true
		fused = append(fused, resolve(a.Tokens[c.i], b.Tokens[c.j], normsA[c.i], normsB[c.j], opts.TieBreak))
	}
	for i, tok := range a.Tokens {
		if !usedA[i] {
			fused = append(fused, passthrough(tok, normsA[i]))
		}
	}
	for j, tok := range b.Tokens {
		if !usedB[j] {
			fused = append(fused, passthrough(tok, normsB[j]))
		}
	}

	dedupeOverlap := opts.Overlap
	if dedupeOverlap <= 0 {
		dedupeOverlap = DefaultOptions().Overlap
	}
	fused = dedupe(fused, dedupeOverlap)
	orderTokens(fused)
	return fused
}

func normalizeAll(tokens []ocr.Token) []string {
	norms := make([]string, len(tokens))
	for i, tok := range tokens {
		norms[i] = textutil.NormalizeWord(tok.Text)
	}
	return norms
}

// resolve votes between two paired tokens. Agreement keeps the
// higher-confidence rendering and the union of both boxes, which tracks the
// word extent better than either box alone. Disagreement keeps the winner's
// text and box outright: mixing geometry from a token we rejected would
// misplace the evidence.
func resolve(ta, tb ocr.Token, normA, normB string, tie TieBreak) Token {
	winner, loser := ta, tb
	winnerNorm := normA
	if tb.Confidence > ta.Confidence || (tb.Confidence == ta.Confidence && tie == PreferB) {
		winner, loser = tb, ta
		winnerNorm = normB
	}
	out := Token{
		Token:   winner,
		Sources: mergeSources([]string{ta.Source}, []string{tb.Source}),
		Agreed:  normA == normB,
		Norm:    winnerNorm,
	}
	if out.Agreed {
		out.Bounds = winner.Bounds.Union(loser.Bounds)
	}
	return out
}

func passthrough(tok ocr.Token, norm string) Token {
	return Token{Token: tok, Sources: []string{tok.Source}, Norm: norm}
}

// dedupe collapses tokens that read the same and sit on the same spot,
// keeping the strongest instance and merging provenance.
func dedupe(tokens []Token, overlap float64) []Token {
	if len(tokens) < 2 {
		return tokens
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		if tokens[i].Confidence != tokens[j].Confidence {
			return tokens[i].Confidence > tokens[j].Confidence
		}
		if tokens[i].Bounds.Y != tokens[j].Bounds.Y {
			return tokens[i].Bounds.Y < tokens[j].Bounds.Y
		}
		return tokens[i].Bounds.X < tokens[j].Bounds.X
	})
	kept := tokens[:0:0]
	for _, tok := range tokens {
		merged := false
		for k := range kept {
			if tok.Norm != "" && tok.Norm == kept[k].Norm && tok.Bounds.IoU(kept[k].Bounds) >= overlap {
				kept[k].Sources = mergeSources(kept[k].Sources, tok.Sources)
				kept[k].Agreed = kept[k].Agreed || tok.Agreed
				merged = true
				break
			}
		}
		if !merged {
			kept = append(kept, tok)
		}
	}
	return kept
}

func mergeSources(a, b []string) []string {
	out := a
	for _, s := range b {
		found := false
		for _, have := range out {
			if have == s {
				found = true
				break
			}
		}
		if !found {
			out = append(out, s)
		}
	}
	return out
}

// orderTokens sorts into reading order with the same line bucketing the
// adapter applies to single-engine output.
func orderTokens(tokens []Token) {
	if len(tokens) < 2 {
		return
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		_, yi := tokens[i].Bounds.Center()
		_, yj := tokens[j].Bounds.Center()
		return yi < yj
	})
	plain := make([]ocr.Token, len(tokens))
	for i, tok := range tokens {
		plain[i] = tok.Token
	}
	tol := ocr.MedianHeight(plain) / 2
	if tol < 4 {
		tol = 4
	}
	start := 0
	for i := 1; i <= len(tokens); i++ {
		lineBreak := i == len(tokens)
		if !lineBreak {
			_, y := tokens[i].Bounds.Center()
			_, anchor := tokens[start].Bounds.Center()
			lineBreak = y-anchor > tol
		}
		if !lineBreak {
			continue
		}
		line := tokens[start:i]
		sort.SliceStable(line, func(a, b int) bool { return line[a].Bounds.X < line[b].Bounds.X })
		start = i
	}
}

// Text joins the fused tokens in their current order.
func Text(tokens []Token) string {
	if len(tokens) == 0 {
		return ""
	}
	n := 0
	for _, tok := range tokens {
		n += len(tok.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, tok := range tokens {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, tok.Text...)
	}
	return string(buf)
}
