package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/labelkit/labelkit/ocr"
)

func init() {
	ocr.Register("gemini", func(cfg ocr.Settings) (ocr.Engine, error) {
		key := cfg.Get("api_key", "")
		if key == "" {
			key = os.Getenv(cfg.Get("api_key_env", "GEMINI_API_KEY"))
		}
		return New(key, cfg.Get("model", DefaultModel)), nil
	})
}

// DefaultModel is the vision model used when none is configured.
const DefaultModel = "gemini-1.5-flash"

const systemPrompt = `You read scanned beverage label images. Extract every visible word exactly as printed,
keeping capitalization and punctuation. Report each word's position on a 0-1000 grid where
(0,0) is the top-left corner of the image and (1000,1000) the bottom-right, plus a confidence
between 0 and 1. Do not merge words, do not correct spelling, do not add words you cannot see.
Respond with JSON only, matching:
{"words":[{"text":"GOVERNMENT","x":12,"y":840,"w":180,"h":22,"confidence":0.97}]}`

// Engine extracts label words via the Gemini vision API. It exists for labels
// that defeat both local detectors; it never runs unless selected by config.
type Engine struct {
	APIKey string
	Model  string
}

// New constructs a Gemini-backed OCR engine.
func New(apiKey, model string) *Engine {
	if model == "" {
		model = DefaultModel
	}
	return &Engine{APIKey: strings.TrimSpace(apiKey), Model: strings.TrimSpace(model)}
}

func (e *Engine) Name() string { return "gemini" }

type wireWord struct {
	Text       string  `json:"text"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Confidence float64 `json:"confidence"`
}

type wireResponse struct {
	Words []wireWord `json:"words"`
}

// Recognize sends the image once per call and maps the model's 0-1000 grid
// back to pixel coordinates.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if len(in.Image) == 0 {
		return ocr.Result{}, ocr.ErrEmptyImage
	}
	if e.APIKey == "" {
		return ocr.Result{}, errors.New("gemini: API key is empty")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(in.Image))
	if err != nil {
		return ocr.Result{}, fmt.Errorf("decode image: %w", err)
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return ocr.Result{}, err
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}

	mime := string(in.Format)
	if mime == "" {
		mime = "image/png"
	}
	parts := []genai.Part{
		genai.Text("Extract all words with positions. JSON only."),
		&genai.Blob{MIMEType: mime, Data: in.Image},
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ocr.Result{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
			continue
		}
		txt := stripCodeFences(firstText(resp))
		if txt == "" {
			return ocr.Result{}, fmt.Errorf("gemini: empty response")
		}
		var out wireResponse
		if err := json.Unmarshal([]byte(txt), &out); err != nil {
			return ocr.Result{}, fmt.Errorf("gemini: bad JSON: %w", err)
		}
		return e.toResult(in.ID, out, cfg.Width, cfg.Height), nil
	}
	return ocr.Result{}, lastErr
}

func (e *Engine) toResult(inputID string, out wireResponse, width, height int) ocr.Result {
	sx := float64(width) / 1000.0
	sy := float64(height) / 1000.0
	tokens := make([]ocr.Token, 0, len(out.Words))
	for _, w := range out.Words {
		tokens = append(tokens, ocr.Token{
			Text: w.Text,
			Bounds: ocr.Region{
				X:      w.X * sx,
				Y:      w.Y * sy,
				Width:  w.W * sx,
				Height: w.H * sy,
			},
			Confidence: w.Confidence,
			Source:     e.Name(),
		})
	}
	return ocr.Adapt(ocr.Result{InputID: inputID, Engine: e.Name(), Tokens: tokens})
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func ptrFloat32(v float32) *float32 { return &v }
