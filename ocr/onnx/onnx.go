package onnx

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	xdraw "golang.org/x/image/draw"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/labelkit/labelkit/ocr"
)

func init() {
	ocr.Register("onnx", func(cfg ocr.Settings) (ocr.Engine, error) {
		return NewEngine(Config{
			DetectionModel:   cfg.Get("detection_model", ""),
			RecognitionModel: cfg.Get("recognition_model", ""),
			CharsetPath:      cfg.Get("charset", ""),
			LibraryPath:      cfg.Get("library", ""),
		})
	})
}

const (
	detMaxSide  = 960
	detThresh   = 0.3
	boxPadding  = 4.0
	recHeight   = 48
	recMaxWidth = 320
)

// Config locates the exported text detection and recognition models plus the
// character set the recognizer was trained on (one character per line, CTC
// blank implied at index zero).
type Config struct {
	DetectionModel   string
	RecognitionModel string
	CharsetPath      string
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default lookup.
	LibraryPath string
}

// Engine runs a two-stage detector: a DB-style segmentation model proposes
// text boxes, a CTC recognition model reads each crop. It is the second,
// independent pair member next to Tesseract, so the two never share a failure
// mode.
type Engine struct {
	cfg Config

	initOnce sync.Once
	initErr  error

	// onnxruntime sessions are not safe for concurrent Run calls.
	mu      sync.Mutex
	det     *ort.DynamicAdvancedSession
	rec     *ort.DynamicAdvancedSession
	charset []string
}

// NewEngine validates the configuration; model loading is deferred to the
// first Recognize call so constructing the engine stays cheap.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.DetectionModel == "" || cfg.RecognitionModel == "" {
		return nil, fmt.Errorf("onnx: detection and recognition model paths are required")
	}
	if cfg.CharsetPath == "" {
		return nil, fmt.Errorf("onnx: charset path is required")
	}
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) Name() string { return "onnx" }

func (e *Engine) initialize() error {
	e.initOnce.Do(func() {
		if e.cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(e.cfg.LibraryPath)
		}
		if !ort.IsInitialized() {
			if err := ort.InitializeEnvironment(); err != nil {
				e.initErr = fmt.Errorf("initialize onnxruntime: %w", err)
				return
			}
		}
		charset, err := loadCharset(e.cfg.CharsetPath)
		if err != nil {
			e.initErr = err
			return
		}
		e.charset = charset
		det, err := ort.NewDynamicAdvancedSession(e.cfg.DetectionModel,
			[]string{"x"}, []string{"sigmoid_0.tmp_0"}, nil)
		if err != nil {
			e.initErr = fmt.Errorf("load detection model: %w", err)
			return
		}
		rec, err := ort.NewDynamicAdvancedSession(e.cfg.RecognitionModel,
			[]string{"x"}, []string{"softmax_0.tmp_0"}, nil)
		if err != nil {
			det.Destroy()
			e.initErr = fmt.Errorf("load recognition model: %w", err)
			return
		}
		e.det = det
		e.rec = rec
	})
	return e.initErr
}

// Close releases the runtime sessions.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.det != nil {
		e.det.Destroy()
		e.det = nil
	}
	if e.rec != nil {
		e.rec.Destroy()
		e.rec = nil
	}
	return nil
}

// Recognize detects text boxes and reads each one.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if len(in.Image) == 0 {
		return ocr.Result{}, ocr.ErrEmptyImage
	}
	if err := e.initialize(); err != nil {
		return ocr.Result{}, err
	}
	img, _, err := image.Decode(bytes.NewReader(in.Image))
	if err != nil {
		return ocr.Result{}, fmt.Errorf("decode image: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	boxes, err := e.detectBoxes(ctx, img)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("detect text: %w", err)
	}
	tokens := make([]ocr.Token, 0, len(boxes))
	for _, box := range boxes {
		select {
		case <-ctx.Done():
			return ocr.Result{}, ctx.Err()
		default:
		}
		text, conf, err := e.readBox(img, box)
		if err != nil {
			return ocr.Result{}, fmt.Errorf("read box at (%.0f,%.0f): %w", box.X, box.Y, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		tokens = append(tokens, ocr.Token{
			Text:       text,
			Bounds:     box,
			Confidence: conf,
			Source:     e.Name(),
		})
	}
	return ocr.Adapt(ocr.Result{InputID: in.ID, Engine: e.Name(), Tokens: tokens}), nil
}

// detectBoxes runs the segmentation model and turns the probability map into
// axis-aligned boxes in original image coordinates.
func (e *Engine) detectBoxes(ctx context.Context, img image.Image) ([]ocr.Region, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	srcW := img.Bounds().Dx()
	srcH := img.Bounds().Dy()
	if srcW == 0 || srcH == 0 {
		return nil, fmt.Errorf("zero-sized image")
	}
	detW, detH := detShape(srcW, srcH)
	resized := image.NewRGBA(image.Rect(0, 0, detW, detH))
	xdraw.ApproxBiLinear.Scale(resized, resized.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(detH), int64(detW)), chwNormalize(resized))
	if err != nil {
		return nil, fmt.Errorf("build input tensor: %w", err)
	}
	defer input.Destroy()
	outputs := []ort.Value{nil}
	if err := e.det.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}
	probs, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected detection output type %T", outputs[0])
	}
	defer probs.Destroy()

	mask := make([]bool, detW*detH)
	for i, p := range probs.GetData() {
		if i >= len(mask) {
			break
		}
		mask[i] = p > detThresh
	}
	comps := connectedComponents(mask, detW, detH)

	scaleX := float64(srcW) / float64(detW)
	scaleY := float64(srcH) / float64(detH)
	boxes := make([]ocr.Region, 0, len(comps))
	for _, c := range comps {
		// Skip speckle the size of a few pixels.
		if (c.maxX-c.minX) < 3 || (c.maxY-c.minY) < 3 {
			continue
		}
		boxes = append(boxes, ocr.Region{
			X:      math.Max(0, float64(c.minX)*scaleX-boxPadding),
			Y:      math.Max(0, float64(c.minY)*scaleY-boxPadding),
			Width:  math.Min(float64(srcW), float64(c.maxX-c.minX+1)*scaleX+2*boxPadding),
			Height: math.Min(float64(srcH), float64(c.maxY-c.minY+1)*scaleY+2*boxPadding),
		})
	}
	sort.Slice(boxes, func(i, j int) bool {
		if boxes[i].Y != boxes[j].Y {
			return boxes[i].Y < boxes[j].Y
		}
		return boxes[i].X < boxes[j].X
	})
	return boxes, nil
}

// readBox crops one detected region, rescales it to the recognizer geometry
// and greedy-decodes the CTC output.
func (e *Engine) readBox(img image.Image, box ocr.Region) (string, float64, error) {
	crop := image.Rect(int(box.X), int(box.Y), int(box.MaxX()), int(box.MaxY())).
		Intersect(img.Bounds())
	if crop.Empty() {
		return "", 0, nil
	}
	aspect := float64(crop.Dx()) / float64(crop.Dy())
	w := int(math.Ceil(aspect * recHeight))
	if w < 8 {
		w = 8
	}
	if w > recMaxWidth {
		w = recMaxWidth
	}
	resized := image.NewRGBA(image.Rect(0, 0, recMaxWidth, recHeight))
	xdraw.ApproxBiLinear.Scale(resized, image.Rect(0, 0, w, recHeight), img, crop, xdraw.Src, nil)

	input, err := ort.NewTensor(ort.NewShape(1, 3, recHeight, recMaxWidth), chwNormalize(resized))
	if err != nil {
		return "", 0, fmt.Errorf("build input tensor: %w", err)
	}
	defer input.Destroy()
	outputs := []ort.Value{nil}
	if err := e.rec.Run([]ort.Value{input}, outputs); err != nil {
		return "", 0, fmt.Errorf("run recognition: %w", err)
	}
	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return "", 0, fmt.Errorf("unexpected recognition output type %T", outputs[0])
	}
	defer logits.Destroy()

	shape := logits.GetShape()
	if len(shape) != 3 {
		return "", 0, fmt.Errorf("unexpected recognition output shape %v", shape)
	}
	steps := int(shape[1])
	classes := int(shape[2])
	text, conf := ctcDecode(logits.GetData(), steps, classes, e.charset)
	return text, conf, nil
}

// ctcDecode collapses repeated argmax classes and drops the blank at index
// zero. Confidence is the mean probability of the kept steps.
func ctcDecode(data []float32, steps, classes int, charset []string) (string, float64) {
	var sb strings.Builder
	prev := -1
	var confSum float64
	var kept int
	for t := 0; t < steps; t++ {
		row := data[t*classes : (t+1)*classes]
		best := 0
		for c := 1; c < classes; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		if best != prev && best != 0 {
			idx := best - 1
			if idx < len(charset) {
				sb.WriteString(charset[idx])
				confSum += float64(row[best])
				kept++
			}
		}
		prev = best
	}
	if kept == 0 {
		return "", 0
	}
	return sb.String(), confSum / float64(kept)
}

// detShape clamps the longer side to detMaxSide and rounds both sides to the
// multiple of 32 the segmentation backbone expects.
func detShape(w, h int) (int, int) {
	scale := 1.0
	if longer := math.Max(float64(w), float64(h)); longer > detMaxSide {
		scale = detMaxSide / longer
	}
	round32 := func(v float64) int {
		r := int(math.Round(v/32)) * 32
		if r < 32 {
			r = 32
		}
		return r
	}
	return round32(float64(w) * scale), round32(float64(h) * scale)
}

// chwNormalize converts an RGBA image into CHW float32 data normalized with
// the ImageNet mean and scale the PaddleOCR exports were trained with.
func chwNormalize(img *image.RGBA) []float32 {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	mean := [3]float32{0.485, 0.456, 0.406}
	std := [3]float32{0.229, 0.224, 0.225}
	out := make([]float32, 3*w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := img.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := float32(img.Pix[off+c]) / 255.0
				out[c*w*h+y*w+x] = (v - mean[c]) / std[c]
			}
		}
	}
	return out
}

type component struct {
	minX, minY, maxX, maxY int
}

// connectedComponents labels 4-connected true pixels and returns one bounding
// box per component.
func connectedComponents(mask []bool, w, h int) []component {
	seen := make([]bool, len(mask))
	var comps []component
	queue := make([]int, 0, 256)
	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		seen[start] = true
		queue = append(queue[:0], start)
		c := component{minX: w, minY: h, maxX: -1, maxY: -1}
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := idx%w, idx/w
			if x < c.minX {
				c.minX = x
			}
			if y < c.minY {
				c.minY = y
			}
			if x > c.maxX {
				c.maxX = x
			}
			if y > c.maxY {
				c.maxY = y
			}
			for _, n := range [4]int{idx - 1, idx + 1, idx - w, idx + w} {
				if n < 0 || n >= len(mask) {
					continue
				}
				// Keep horizontal neighbors on the same row.
				if (n == idx-1 || n == idx+1) && n/w != y {
					continue
				}
				if mask[n] && !seen[n] {
					seen[n] = true
					queue = append(queue, n)
				}
			}
		}
		comps = append(comps, c)
	}
	return comps
}

func loadCharset(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read charset: %w", err)
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	charset := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		charset = append(charset, line)
	}
	if len(charset) == 0 {
		return nil, fmt.Errorf("charset %s is empty", path)
	}
	// PaddleOCR charsets omit the literal space, which labels need for
	// multi-word lines.
	charset = append(charset, " ")
	return charset, nil
}
