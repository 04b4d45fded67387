package tesseract

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/labelkit/labelkit/ocr"
)

// ensureTesseractAvailable checks that the tesseract binary is reachable.
func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

// renderLabel draws text onto a small white canvas, the same way the
// integration fixtures fabricate label images.
func renderLabel(t *testing.T, lines ...string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 40+30*len(lines)))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	for i, line := range lines {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.Black,
			Face: basicfont.Face7x13,
			Dot:  fixed.P(10, 30+30*i),
		}
		d.DrawString(line)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestEngineRecognize(t *testing.T) {
	ensureTesseractAvailable(t)

	data := renderLabel(t, "SUNRISE LAGER")
	in := ocr.NewInput("24001001000001", data, ocr.ImageFormatPNG,
		ocr.WithLanguages("eng"), ocr.WithDPI(300))

	res, err := NewEngine().Recognize(context.Background(), in)
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if res.InputID != "24001001000001" {
		t.Fatalf("unexpected input id: %s", res.InputID)
	}
	if res.Engine != "tesseract" {
		t.Fatalf("unexpected engine: %s", res.Engine)
	}
	got := strings.ToLower(res.Text())
	if !strings.Contains(got, "sunrise") || !strings.Contains(got, "lager") {
		t.Fatalf("unexpected OCR output: %q", res.Text())
	}
	for _, tok := range res.Tokens {
		if tok.Confidence < 0 || tok.Confidence > 1 {
			t.Fatalf("confidence outside [0,1]: %+v", tok)
		}
		if tok.Bounds.IsEmpty() {
			t.Fatalf("token without bounds: %+v", tok)
		}
		if tok.Source != "tesseract" {
			t.Fatalf("token without source: %+v", tok)
		}
	}
}

func TestEngineRejectsEmptyImage(t *testing.T) {
	ensureTesseractAvailable(t)
	_, err := NewEngine().Recognize(context.Background(), ocr.Input{ID: "x"})
	if err == nil {
		t.Fatalf("expected error for empty image")
	}
}

func TestEngineRegistered(t *testing.T) {
	eng, err := ocr.New("tesseract", ocr.Settings{"languages": "eng"})
	if err != nil {
		t.Fatalf("New(tesseract) error = %v", err)
	}
	if eng.Name() != "tesseract" {
		t.Fatalf("unexpected name: %s", eng.Name())
	}
}
