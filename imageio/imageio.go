// Package imageio locates and validates label artwork. A Dir source
// searches a fixed list of directories for one image file per
// application number, probing a handful of raster formats in a fixed
// order.
package imageio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/labelkit/labelkit/observability"
)

// ErrNoImage reports that no image file exists for an application. The
// caller decides whether that makes the application unprocessable; the
// source only knows the file is absent.
var ErrNoImage = errors.New("imageio: no image for application")

// FormatError reports an image file that exists but cannot be decoded
// or uses a format no verification engine accepts.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("imageio: bad image %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Image is a validated, still-encoded label image.
type Image struct {
	// Data is the raw encoded file content.
	Data []byte
	// Format is the MIME content type (e.g. image/png).
	Format string
	// Width and Height come from the image header.
	Width  int
	Height int
}

// Source yields the label image for an application number.
type Source interface {
	Load(ctx context.Context, appNum string) (Image, error)
}

// extensions lists the file suffixes probed per directory, in order.
var extensions = []string{".png", ".jpg", ".jpeg", ".tiff", ".bmp"}

// mimeTypes maps image.DecodeConfig format names to content types.
var mimeTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"tiff": "image/tiff",
	"bmp":  "image/bmp",
}

// Dir loads images from a fixed list of directories. The first
// directory containing a file for the application wins, and within a
// directory the extension order decides.
type Dir struct {
	dirs   []string
	logger observability.Logger
}

// Option configures a Dir.
type Option func(*Dir)

// WithLogger routes lookup diagnostics to the given logger.
func WithLogger(l observability.Logger) Option {
	return func(d *Dir) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDir builds a directory source over the given search path.
func NewDir(dirs []string, opts ...Option) *Dir {
	d := &Dir{
		dirs:   append([]string(nil), dirs...),
		logger: observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load finds, reads, and header-validates the image for appNum.
// A missing file yields ErrNoImage; an unreadable or unsupported file
// yields a *FormatError.
func (d *Dir) Load(ctx context.Context, appNum string) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	if err := validateAppNum(appNum); err != nil {
		return Image{}, err
	}
	for _, dir := range d.dirs {
		for _, ext := range extensions {
			path := filepath.Join(dir, appNum+ext)
			data, err := os.ReadFile(path)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return Image{}, fmt.Errorf("imageio: read %s: %w", path, err)
			}
			return d.validate(path, data)
		}
	}
	return Image{}, fmt.Errorf("%w: %s", ErrNoImage, appNum)
}

func (d *Dir) validate(path string, data []byte) (Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, &FormatError{Path: path, Err: err}
	}
	mime, ok := mimeTypes[format]
	if !ok {
		return Image{}, &FormatError{Path: path, Err: fmt.Errorf("unsupported format %q", format)}
	}
	d.logger.Debug("image loaded",
		observability.String("path", path),
		observability.String("format", mime),
		observability.Int("bytes", len(data)))
	return Image{Data: data, Format: mime, Width: cfg.Width, Height: cfg.Height}, nil
}

// validateAppNum rejects application numbers that could name a file
// outside the search directories. Lookups build paths from the number,
// so it must stay a single plain path element.
func validateAppNum(appNum string) error {
	if appNum == "" {
		return errors.New("imageio: empty application number")
	}
	for _, r := range appNum {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return fmt.Errorf("imageio: invalid application number %q", appNum)
		}
	}
	return nil
}
