package ocr

import (
	"context"
	"math"
)

// ImageFormat identifies the content type of an OCR input image.
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "image/png"
	ImageFormatJPEG ImageFormat = "image/jpeg"
	ImageFormatTIFF ImageFormat = "image/tiff"
	ImageFormatBMP  ImageFormat = "image/bmp"
)

// Region describes a rectangular area in pixel coordinates with the origin in
// the upper-left corner of the image.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsEmpty reports whether the region has non-positive dimensions.
func (r Region) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// MaxX returns the right edge of the region.
func (r Region) MaxX() float64 { return r.X + r.Width }

// MaxY returns the bottom edge of the region.
func (r Region) MaxY() float64 { return r.Y + r.Height }

// Center returns the midpoint of the region.
func (r Region) Center() (x, y float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Union returns the smallest region containing both r and o. Empty operands
// are ignored so a zero Region acts as an identity value.
func (r Region) Union(o Region) Region {
	if r.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return r
	}
	minX := math.Min(r.X, o.X)
	minY := math.Min(r.Y, o.Y)
	maxX := math.Max(r.MaxX(), o.MaxX())
	maxY := math.Max(r.MaxY(), o.MaxY())
	return Region{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Intersect returns the overlapping area of r and o, or a zero Region when
// they are disjoint.
func (r Region) Intersect(o Region) Region {
	minX := math.Max(r.X, o.X)
	minY := math.Max(r.Y, o.Y)
	maxX := math.Min(r.MaxX(), o.MaxX())
	maxY := math.Min(r.MaxY(), o.MaxY())
	if maxX <= minX || maxY <= minY {
		return Region{}
	}
	return Region{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// IoU returns the intersection-over-union overlap ratio in [0,1].
func (r Region) IoU(o Region) float64 {
	inter := r.Intersect(o)
	if inter.IsEmpty() {
		return 0
	}
	interArea := inter.Width * inter.Height
	union := r.Width*r.Height + o.Width*o.Height - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}

// CenterDistance returns the Euclidean distance between the centers of r and o.
func (r Region) CenterDistance(o Region) float64 {
	rx, ry := r.Center()
	ox, oy := o.Center()
	return math.Hypot(rx-ox, ry-oy)
}

// Input encapsulates a single label image submitted for recognition.
type Input struct {
	// ID is an optional caller-provided identifier (typically the TTB
	// application number) that is echoed back in the corresponding Result.
	ID string
	// Image is the encoded image payload in the format specified by Format.
	Image []byte
	// Format declares the image content type (e.g., image/png).
	Format ImageFormat
	// DPI carries the effective dots-per-inch for the image. Providers such as
	// Tesseract use this for scaling and layout heuristics; zero means unknown.
	DPI int
	// Languages is a list of language hints (e.g., "eng") that providers can
	// use to select trained data.
	Languages []string
	// Metadata allows callers to pass through engine-specific knobs (e.g.,
	// "tessedit_pageseg_mode" for Tesseract) without hard-coding them into the
	// API surface.
	Metadata map[string]string
}

// Token represents a single recognized word with its location and adapted
// confidence. Past the adapter boundary Confidence is always in [0,1] and
// Text contains no interior whitespace.
type Token struct {
	Text       string
	Bounds     Region
	Confidence float64
	// Source names the engine that produced the token.
	Source string
}

// Result captures adapted recognition output for a single input image.
type Result struct {
	// InputID mirrors the Input.ID that produced this result.
	InputID string
	// Engine names the provider that produced the tokens.
	Engine string
	// Tokens holds the recognized words in reading order. An empty slice is a
	// valid result: a blank or unreadable label simply yields no evidence.
	Tokens []Token
}

// Text returns the tokens joined by single spaces in reading order.
func (r Result) Text() string {
	if len(r.Tokens) == 0 {
		return ""
	}
	n := 0
	for _, tok := range r.Tokens {
		n += len(tok.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, tok := range r.Tokens {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, tok.Text...)
	}
	return string(buf)
}

// Engine is the detector contract: one image in, one token list out.
// Implementations return raw provider output already passed through Adapt so
// callers can fuse and verify without provider-specific handling.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, input Input) (Result, error)
}

// BatchEngine handles multiple images in a single call, enabling providers
// that amortize setup costs or remote round-trips.
type BatchEngine interface {
	Engine
	RecognizeBatch(ctx context.Context, inputs []Input) ([]Result, error)
}
