// Package runlog persists one record per invocation, successful or not.
package runlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for unknown run IDs.
var ErrNotFound = errors.New("run not found")

// Retention limits
const (
	DefaultMaxRecords = 1000
	PreviewLength     = 500
)

// Record is one persisted run.
type Record struct {
	ID            string         `json:"id"`
	TaskType      string         `json:"taskType"`
	Model         string         `json:"model"`
	AgentName     string         `json:"agentName,omitempty"`
	SessionID     string         `json:"sessionId,omitempty"`
	TokensIn      *int           `json:"tokensIn,omitempty"`
	TokensOut     *int           `json:"tokensOut,omitempty"`
	CostUSD       *float64       `json:"costUsd,omitempty"`
	DurationMs    int64          `json:"durationMs"`
	Attempts      int            `json:"attempts,omitempty"`
	Success       bool           `json:"success"`
	ErrorCode     string         `json:"errorCode,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	ReferenceType string         `json:"referenceType,omitempty"`
	ReferenceID   string         `json:"referenceId,omitempty"`
	InputPreview  string         `json:"inputPreview,omitempty"`
	OutputPreview string         `json:"outputPreview,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Cost returns the recorded cost, zero when none was reported.
func (r *Record) Cost() float64 {
	if r.CostUSD == nil {
		return 0
	}
	return *r.CostUSD
}

// Run describes the request side of a run, shared by success and error records.
type Run struct {
	ID            string // Optional UUID; generated when empty
	TaskType      string
	Model         string
	AgentName     string
	ReferenceType string
	ReferenceID   string
	Prompt        string
	Metadata      map[string]any
	Attempts      int
	Duration      time.Duration
}

// Success is the payload side of a successful run.
type Success struct {
	SessionID string
	TokensIn  int
	TokensOut int
	CostUSD   float64
	Output    string
}

// Store manages run record persistence.
type Store struct {
	dir        string // Base directory for record files
	maxRecords int
	now        func() time.Time

	mu      sync.RWMutex
	records map[string]*Record // In-memory cache keyed by run ID
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMaxRecords bounds how many records are kept on disk.
func WithMaxRecords(n int) Option {
	return func(s *Store) { s.maxRecords = n }
}

// NewStore creates a store at dir and loads any records already there.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating runs directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		maxRecords: DefaultMaxRecords,
		now:        time.Now,
		records:    make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("loading runs: %w", err)
	}
	return s, nil
}

// LogSuccess records a run that produced a payload.
func (s *Store) LogSuccess(run Run, out Success) (*Record, error) {
	rec := s.newRecord(run)
	rec.Success = true
	rec.SessionID = out.SessionID
	rec.TokensIn = &out.TokensIn
	rec.TokensOut = &out.TokensOut
	rec.CostUSD = &out.CostUSD
	rec.OutputPreview = truncate(out.Output, PreviewLength)
	return rec, s.save(rec)
}

// LogError records a failed run.
func (s *Store) LogError(run Run, code, message string) (*Record, error) {
	rec := s.newRecord(run)
	rec.ErrorCode = code
	rec.ErrorMessage = message
	return rec, s.save(rec)
}

func (s *Store) newRecord(run Run) *Record {
	id := run.ID
	if id == "" {
		id = uuid.New().String()
	}
	return &Record{
		ID:            id,
		TaskType:      run.TaskType,
		Model:         run.Model,
		AgentName:     run.AgentName,
		DurationMs:    run.Duration.Milliseconds(),
		Attempts:      run.Attempts,
		ReferenceType: run.ReferenceType,
		ReferenceID:   run.ReferenceID,
		InputPreview:  truncate(run.Prompt, PreviewLength),
		Metadata:      run.Metadata,
		CreatedAt:     s.now().UTC(),
	}
}

func (s *Store) save(rec *Record) error {
	if _, err := uuid.Parse(rec.ID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", rec.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(s.recordPath(rec.ID), rec); err != nil {
		return fmt.Errorf("saving run %s: %w", rec.ID, err)
	}
	s.records[rec.ID] = rec
	s.pruneUnlocked()
	return nil
}

// Get retrieves a record by ID.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *rec
	return &cp, nil
}

// ListOptions controls pagination for List.
type ListOptions struct {
	Page  int // 1-indexed page number
	Limit int // Items per page (max 100)
}

// ListResult contains paginated records.
type ListResult struct {
	Runs       []Record `json:"runs"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	Total      int      `json:"total"`
	TotalPages int      `json:"totalPages"`
}

// List returns paginated records, newest first.
func (s *Store) List(opts ListOptions) ListResult {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}

	s.mu.RLock()
	sorted := s.sortedUnlocked()
	s.mu.RUnlock()

	total := len(sorted)
	start := min((opts.Page-1)*opts.Limit, total)
	end := min(start+opts.Limit, total)

	runs := make([]Record, 0, end-start)
	for _, r := range sorted[start:end] {
		runs = append(runs, *r)
	}

	return ListResult{
		Runs:       runs,
		Page:       opts.Page,
		Limit:      opts.Limit,
		Total:      total,
		TotalPages: (total + opts.Limit - 1) / opts.Limit,
	}
}

// Since returns copies of all records created at or after t, newest first.
func (s *Store) Since(t time.Time) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.sortedUnlocked() {
		if r.CreatedAt.Before(t) {
			break
		}
		out = append(out, *r)
	}
	return out
}

// sortedUnlocked returns records newest first. Must be called with lock held.
func (s *Store) sortedUnlocked() []*Record {
	sorted := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return sorted
}

// load reads all existing records from disk.
func (s *Store) load() error {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return err
	}

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue // Skip unreadable files
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil || rec.ID == "" {
			continue // Skip invalid JSON
		}
		s.records[rec.ID] = &rec
	}

	s.pruneUnlocked()
	return nil
}

// pruneUnlocked removes the oldest records beyond maxRecords.
// Must be called with lock held.
func (s *Store) pruneUnlocked() {
	if s.maxRecords < 1 || len(s.records) <= s.maxRecords {
		return
	}
	sorted := s.sortedUnlocked()
	for _, r := range sorted[s.maxRecords:] {
		os.Remove(s.recordPath(r.ID))
		delete(s.records, r.ID)
	}
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// truncate keeps the first maxLen characters of s.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	// Write to a temp file and rename so readers never see a partial record.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
