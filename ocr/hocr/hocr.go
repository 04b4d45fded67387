package hocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/labelkit/labelkit/ocr"
)

func init() {
	ocr.Register("hocr", func(cfg ocr.Settings) (ocr.Engine, error) {
		cmd := cfg.Get("command", "")
		if cmd == "" {
			return nil, fmt.Errorf("hocr: command is required (e.g. %q)", "tesseract {input} stdout -l eng hocr")
		}
		return NewEngine(cmd), nil
	})
}

// Engine shells out to any OCR tool that emits hOCR, the de-facto XHTML
// microformat for layout-preserving OCR output. It lets an external binary
// act as one side of a detector pair without a native binding.
type Engine struct {
	// Command is the command line to run; the {input} placeholder is replaced
	// with the path of a temporary image file.
	Command string
}

// NewEngine constructs an engine around an hOCR-emitting command line.
func NewEngine(command string) *Engine {
	return &Engine{Command: command}
}

func (e *Engine) Name() string { return "hocr" }

// Recognize writes the image to a temporary file, runs the configured command
// and parses the hOCR it prints to stdout.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if len(in.Image) == 0 {
		return ocr.Result{}, ocr.ErrEmptyImage
	}
	dir, err := os.MkdirTemp("", "labelkit-hocr-")
	if err != nil {
		return ocr.Result{}, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "input"+extensionFor(in.Format))
	if err := os.WriteFile(path, in.Image, 0o600); err != nil {
		return ocr.Result{}, fmt.Errorf("write temp image: %w", err)
	}

	fields := strings.Fields(e.Command)
	if len(fields) == 0 {
		return ocr.Result{}, fmt.Errorf("hocr: empty command")
	}
	args := make([]string, 0, len(fields)-1)
	for _, f := range fields[1:] {
		args = append(args, strings.ReplaceAll(f, "{input}", path))
	}
	cmd := exec.CommandContext(ctx, fields[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return ocr.Result{}, fmt.Errorf("run %s: %w (%s)", fields[0], err, strings.TrimSpace(stderr.String()))
	}

	tokens, err := Parse(&stdout)
	if err != nil {
		return ocr.Result{}, err
	}
	for i := range tokens {
		tokens[i].Source = e.Name()
	}
	return ocr.Adapt(ocr.Result{InputID: in.ID, Engine: e.Name(), Tokens: tokens}), nil
}

// Parse extracts word tokens from an hOCR document. Words are span elements
// with class ocrx_word; the bounding box and confidence ride in the title
// attribute as "bbox x0 y0 x1 y1; x_wconf NN".
func Parse(r io.Reader) ([]ocr.Token, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse hocr: %w", err)
	}
	var tokens []ocr.Token
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "ocrx_word") {
			if tok, ok := wordToken(n); ok {
				tokens = append(tokens, tok)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return tokens, nil
}

func wordToken(n *html.Node) (ocr.Token, bool) {
	text := strings.TrimSpace(nodeText(n))
	if text == "" {
		return ocr.Token{}, false
	}
	bounds, conf := parseTitle(attr(n, "title"))
	return ocr.Token{Text: text, Bounds: bounds, Confidence: conf}, true
}

// parseTitle reads the hOCR title properties. Unknown properties are ignored;
// a missing x_wconf defaults to zero confidence so downstream voting treats
// the word as weak evidence rather than rejecting it.
func parseTitle(title string) (ocr.Region, float64) {
	var region ocr.Region
	var conf float64
	for _, part := range strings.Split(title, ";") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "bbox":
			if len(fields) != 5 {
				continue
			}
			coords := make([]float64, 4)
			valid := true
			for i, f := range fields[1:] {
				v, err := strconv.ParseFloat(f, 64)
				if err != nil {
					valid = false
					break
				}
				coords[i] = v
			}
			if valid {
				region = ocr.Region{
					X:      coords[0],
					Y:      coords[1],
					Width:  coords[2] - coords[0],
					Height: coords[3] - coords[1],
				}
			}
		case "x_wconf":
			if len(fields) == 2 {
				if v, err := strconv.ParseFloat(fields[1], 64); err == nil {
					// hOCR confidence is 0-100.
					conf = v / 100.0
				}
			}
		}
	}
	return region, conf
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}

func extensionFor(format ocr.ImageFormat) string {
	switch format {
	case ocr.ImageFormatJPEG:
		return ".jpg"
	case ocr.ImageFormatTIFF:
		return ".tif"
	case ocr.ImageFormatBMP:
		return ".bmp"
	default:
		return ".png"
	}
}
