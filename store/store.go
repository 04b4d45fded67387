// Package store defines persistence for application records and label
// verdicts. Implementations live in subpackages; the verification
// pipeline only sees this interface.
package store

import (
	"context"
	"errors"

	"github.com/labelkit/labelkit/compliance"
)

// ErrNotFound reports that no entry exists for the requested
// application number.
var ErrNotFound = errors.New("store: not found")

// Store persists application records and the verdicts attached to them.
// Records are externally owned ground truth and read-only to the
// verification pipeline; verdicts are written by it.
type Store interface {
	// Record returns the application record for appNum, or ErrNotFound.
	Record(ctx context.Context, appNum string) (compliance.Record, error)

	// List returns every record, ordered by application number.
	List(ctx context.Context) ([]compliance.Record, error)

	// Search returns records with query as a case-insensitive substring
	// of any field. An empty query returns every record.
	Search(ctx context.Context, query string) ([]compliance.Record, error)

	// SaveVerdict attaches v to its application record, replacing any
	// earlier verdict for the same application number.
	SaveVerdict(ctx context.Context, v compliance.Verdict) error

	// Verdict returns the stored verdict for appNum, or ErrNotFound when
	// the label was never scanned.
	Verdict(ctx context.Context, appNum string) (compliance.Verdict, error)

	// Verdicts returns all stored verdicts keyed by application number.
	Verdicts(ctx context.Context) (map[string]compliance.Verdict, error)

	// ClearVerdicts removes every stored verdict, returning the data set
	// to its unscanned state.
	ClearVerdicts(ctx context.Context) error

	Close() error
}

// Seeder is implemented by stores that can bulk-load application
// records, replacing existing entries with the same application number.
type Seeder interface {
	Seed(ctx context.Context, records []compliance.Record) error
}
