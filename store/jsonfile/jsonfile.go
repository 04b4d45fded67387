// Package jsonfile persists records and verdicts in the flat data.json
// layout COLA export files use: a single JSON array of application
// objects, each optionally carrying its processing result. Writes
// replace the whole file atomically.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/labelkit/labelkit/compliance"
	"github.com/labelkit/labelkit/observability"
	"github.com/labelkit/labelkit/store"
)

// processingResult is the compact summary blob other consumers of
// data.json read. It is derived from the verdict on every save so
// those consumers keep working.
type processingResult struct {
	Status   string   `json:"status"`
	Failures []string `json:"failures"`
}

// entry is one stored application. Record fields flatten into the
// object; the verdict is an extension other consumers can ignore.
type entry struct {
	compliance.Record
	ProcessingResult *processingResult   `json:"processing_result,omitempty"`
	Verdict          *compliance.Verdict `json:"verdict,omitempty"`
}

// Store is a data.json-backed store.Store.
type Store struct {
	path   string
	logger observability.Logger

	mu sync.Mutex
}

// Option configures Open.
type Option func(*Store)

// WithLogger routes store logging to l.
func WithLogger(l observability.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open returns a store over the JSON file at path. A missing file is an
// empty store; it is created on the first write.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, logger: observability.NopLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	// Validate eagerly so a corrupt file surfaces at startup, not in
	// the middle of a batch.
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) load() ([]entry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}

	// Some historical exports carry the fanciful name under a
	// misspelled key. Honor it so those files keep loading.
	var legacy []struct {
		FancifculName string `json:"fancifcul_name"`
	}
	if err := json.Unmarshal(data, &legacy); err == nil {
		for i := range entries {
			if entries[i].FancifulName == "" && i < len(legacy) {
				entries[i].FancifulName = legacy[i].FancifculName
			}
		}
	}
	return entries, nil
}

func (s *Store) save(entries []entry) error {
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".data-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (s *Store) Record(ctx context.Context, appNum string) (compliance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return compliance.Record{}, err
	}
	for _, e := range entries {
		if e.ApplicationNum == appNum {
			return e.Record, nil
		}
	}
	return compliance.Record{}, store.ErrNotFound
}

// List returns records in file order, the canonical display order for
// exports.
func (s *Store) List(ctx context.Context) ([]compliance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	records := make([]compliance.Record, len(entries))
	for i, e := range entries {
		records[i] = e.Record
	}
	return records, nil
}

func (s *Store) Search(ctx context.Context, query string) ([]compliance.Record, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	records, err := s.List(ctx)
	if err != nil || q == "" {
		return records, err
	}

	var matched []compliance.Record
	for _, rec := range records {
		searchable := strings.ToLower(strings.Join([]string{
			rec.ApplicationNum,
			rec.BrandName,
			rec.ClassType,
			rec.FancifulName,
			rec.BottlerName,
			rec.BottlerAddress,
		}, " "))
		if strings.Contains(searchable, q) {
			matched = append(matched, rec)
		}
	}
	return matched, nil
}

func (s *Store) SaveVerdict(ctx context.Context, v compliance.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].ApplicationNum != v.ApplicationNum {
			continue
		}
		verdict := v
		entries[i].Verdict = &verdict
		entries[i].ProcessingResult = summarize(v)
		return s.save(entries)
	}
	return store.ErrNotFound
}

func summarize(v compliance.Verdict) *processingResult {
	if v.Compliant {
		return &processingResult{Status: "passed", Failures: []string{}}
	}
	failures := v.Failures()
	if failures == nil {
		failures = []string{}
	}
	return &processingResult{Status: "failed", Failures: failures}
}

func (s *Store) Verdict(ctx context.Context, appNum string) (compliance.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return compliance.Verdict{}, err
	}
	for _, e := range entries {
		if e.ApplicationNum == appNum && e.Verdict != nil {
			return *e.Verdict, nil
		}
	}
	return compliance.Verdict{}, store.ErrNotFound
}

func (s *Store) Verdicts(ctx context.Context) (map[string]compliance.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	verdicts := make(map[string]compliance.Verdict)
	for _, e := range entries {
		if e.Verdict != nil {
			verdicts[e.ApplicationNum] = *e.Verdict
		}
	}
	return verdicts, nil
}

func (s *Store) ClearVerdicts(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	for i := range entries {
		entries[i].Verdict = nil
		entries[i].ProcessingResult = nil
	}
	return s.save(entries)
}

// Seed inserts records, replacing entries with the same application
// number in place and appending new ones in the order given.
func (s *Store) Seed(ctx context.Context, records []compliance.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		index[e.ApplicationNum] = i
	}
	for _, rec := range records {
		if rec.ApplicationNum == "" {
			return fmt.Errorf("record without application number: %+v", rec)
		}
		if i, ok := index[rec.ApplicationNum]; ok {
			entries[i].Record = rec
		} else {
			index[rec.ApplicationNum] = len(entries)
			entries = append(entries, entry{Record: rec})
		}
	}
	if err := s.save(entries); err != nil {
		return err
	}
	s.logger.Info("seeded applications", observability.Int("count", len(records)))
	return nil
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)
