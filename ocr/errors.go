package ocr

import (
	"errors"
	"fmt"
)

// ErrNoEngine is returned when recognition is requested with no engine
// configured.
var ErrNoEngine = errors.New("ocr: no engine configured")

// ErrEmptyImage is returned by engines handed a nil or zero-length payload.
var ErrEmptyImage = errors.New("ocr: empty image payload")

// EngineError wraps a provider failure with the engine name attached so
// degraded scans can report which detector dropped out.
type EngineError struct {
	Engine string
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("ocr engine %s: %v", e.Engine, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }
