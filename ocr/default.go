package ocr

import "context"

var defaultEngine Engine = noopEngine{}

// DefaultEngine returns the library's default OCR engine. It is a no-op until
// a provider package (typically ocr/tesseract) is imported.
func DefaultEngine() Engine {
	return defaultEngine
}

// SetDefaultEngine sets the library's default OCR engine.
func SetDefaultEngine(engine Engine) {
	defaultEngine = engine
}

type noopEngine struct{}

func (n noopEngine) Name() string {
	return "noop"
}

func (n noopEngine) Recognize(ctx context.Context, input Input) (Result, error) {
	return Result{InputID: input.ID, Engine: n.Name()}, nil
}
