package ocr

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"gonum.org/v1/gonum/stat"
)

// Runs of three or more single characters separated by single spaces, the
// typical detector rendering of letter-spaced text such as "B O T T L E D".
var spacedLetters = regexp.MustCompile(`\b[A-Za-z0-9]( [A-Za-z0-9]){2,}\b`)

// Adapt normalizes raw engine output into the form every downstream stage
// relies on: confidence clamped to [0,1], spaced-letter runs collapsed,
// multi-word strings split into word tokens with proportional bounds, blank
// tokens dropped, and the remainder sorted into reading order. Engines call
// Adapt before returning so provider quirks never leak past this boundary.
func Adapt(res Result) Result {
	out := Result{InputID: res.InputID, Engine: res.Engine}
	if len(res.Tokens) == 0 {
		return out
	}
	tokens := make([]Token, 0, len(res.Tokens))
	for _, tok := range res.Tokens {
		tok.Text = collapseSpacedLetters(strings.TrimSpace(tok.Text))
		if tok.Text == "" {
			continue
		}
		tok.Confidence = clamp01(tok.Confidence)
		if tok.Source == "" {
			tok.Source = res.Engine
		}
		tokens = append(tokens, splitToken(tok)...)
	}
	SortReadingOrder(tokens)
	out.Tokens = tokens
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func collapseSpacedLetters(s string) string {
	if !strings.Contains(s, " ") {
		return s
	}
	return spacedLetters.ReplaceAllStringFunc(s, func(m string) string {
		return strings.ReplaceAll(m, " ", "")
	})
}

// splitToken breaks a multi-word detection into word tokens, distributing the
// original bounds across words in proportion to their rune counts. Line-level
// providers (hOCR lines, vision APIs) produce these; word-level providers pass
// through untouched.
func splitToken(tok Token) []Token {
	fields := strings.Fields(tok.Text)
	if len(fields) == 0 {
		return nil
	}
	if len(fields) == 1 {
		tok.Text = fields[0]
		return []Token{tok}
	}
	total := len(fields) - 1
	for _, f := range fields {
		total += utf8.RuneCountInString(f)
	}
	perRune := tok.Bounds.Width / float64(total)
	out := make([]Token, 0, len(fields))
	x := tok.Bounds.X
	for _, f := range fields {
		w := perRune * float64(utf8.RuneCountInString(f))
		out = append(out, Token{
			Text:       f,
			Bounds:     Region{X: x, Y: tok.Bounds.Y, Width: w, Height: tok.Bounds.Height},
			Confidence: tok.Confidence,
			Source:     tok.Source,
		})
		x += w + perRune
	}
	return out
}

// SortReadingOrder orders tokens top to bottom, then left to right. Tokens
// whose vertical centers fall within half a median token height of the first
// token on a line are treated as the same line.
func SortReadingOrder(tokens []Token) {
	if len(tokens) < 2 {
		return
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		_, yi := tokens[i].Bounds.Center()
		_, yj := tokens[j].Bounds.Center()
		return yi < yj
	})
	tol := MedianHeight(tokens) / 2
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

// MedianHeight returns the median token height in pixels, or zero when no
// token carries usable bounds. Fusion uses it to derive an adaptive line
// tolerance when none is configured.
func MedianHeight(tokens []Token) float64 {
	heights := make([]float64, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Bounds.Height > 0 {
			heights = append(heights, tok.Bounds.Height)
		}
	}
	if len(heights) == 0 {
		return 0
	}
	sort.Float64s(heights)
	return stat.Quantile(0.5, stat.Empirical, heights, nil)
}
