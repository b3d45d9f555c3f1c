// Package logging writes JSON log lines and keeps a bounded window of recent
// entries that the service exposes for querying.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levels = [...]Level{LevelDebug, LevelInfo, LevelWarn, LevelError}

// rank orders levels; unknown levels rank as info.
func (l Level) rank() int {
	for i, lv := range levels {
		if lv == l {
			return i
		}
	}
	return 1
}

// ParseLevel maps a config string to a Level. Unknown values yield LevelInfo
// and ok=false.
func ParseLevel(s string) (level Level, ok bool) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "":
		return LevelInfo, true
	case "warning":
		return LevelWarn, true
	default:
		for _, lv := range levels {
			if string(lv) == v {
				return lv, true
			}
		}
	}
	return LevelInfo, false
}

// Entry is one log record as written and as returned by Query.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// ring holds the most recent entries. next is the slot the next push fills.
type ring struct {
	buf  []Entry
	next int
	full bool
}

func newRing(size int) ring {
	return ring{buf: make([]Entry, size)}
}

func (r *ring) push(e Entry) {
	r.buf[r.next] = e
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// each visits entries oldest first.
func (r *ring) each(fn func(Entry)) {
	if r.full {
		for _, e := range r.buf[r.next:] {
			fn(e)
		}
	}
	for _, e := range r.buf[:r.next] {
		fn(e)
	}
}

func (r *ring) reset() {
	clear(r.buf)
	r.next, r.full = 0, false
}

// Logger writes entries to an io.Writer and retains the last MaxEntries of
// them. Per-level counts cover everything logged since the last Clear, not
// just what is retained.
type Logger struct {
	mu        sync.Mutex
	out       io.Writer
	min       Level
	component string
	now       func() time.Time
	recent    ring
	counts    [len(levels)]int64
}

// Config holds logger configuration.
type Config struct {
	Output     io.Writer        // default os.Stderr
	Level      Level            // minimum level written and retained; default info
	Component  string           // stamped on every entry
	MaxEntries int              // retained window; default 1000
	Now        func() time.Time // clock; default time.Now
}

// New creates a logger.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Level == "" {
		cfg.Level = LevelInfo
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Logger{
		out:       cfg.Output,
		min:       cfg.Level,
		component: cfg.Component,
		now:       cfg.Now,
		recent:    newRing(cfg.MaxEntries),
	}
}

// SetLevel changes the minimum level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.min = level
	l.mu.Unlock()
}

// mergeFields flattens the variadic field maps. Later maps win on key clashes.
func mergeFields(fields []map[string]any) map[string]any {
	switch len(fields) {
	case 0:
		return nil
	case 1:
		return fields[0]
	}
	out := make(map[string]any)
	for _, f := range fields {
		for k, v := range f {
			out[k] = v
		}
	}
	return out
}

func (l *Logger) log(level Level, runID, msg string, fields []map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level.rank() < l.min.rank() {
		return
	}
	e := Entry{
		Timestamp: l.now().UTC(),
		Level:     level,
		Message:   msg,
		Component: l.component,
		RunID:     runID,
		Fields:    mergeFields(fields),
	}
	l.counts[level.rank()]++
	l.recent.push(e)

	line, err := json.Marshal(e)
	if err != nil {
		// Fields held something unencodable; keep the message.
		fmt.Fprintf(l.out, "{\"level\":%q,\"message\":%q,\"error\":%q}\n", level, msg, err.Error())
		return
	}
	l.out.Write(append(line, '\n'))
}

func (l *Logger) Debug(msg string, fields ...map[string]any) { l.log(LevelDebug, "", msg, fields) }
func (l *Logger) Info(msg string, fields ...map[string]any)  { l.log(LevelInfo, "", msg, fields) }
func (l *Logger) Warn(msg string, fields ...map[string]any)  { l.log(LevelWarn, "", msg, fields) }
func (l *Logger) Error(msg string, fields ...map[string]any) { l.log(LevelError, "", msg, fields) }

// WithRun returns a logger that tags every entry with runID.
func (l *Logger) WithRun(runID string) *RunLogger {
	return &RunLogger{parent: l, runID: runID}
}

// RunLogger is a Logger scoped to one run.
type RunLogger struct {
	parent *Logger
	runID  string
}

func (r *RunLogger) Debug(msg string, fields ...map[string]any) {
	r.parent.log(LevelDebug, r.runID, msg, fields)
}

func (r *RunLogger) Info(msg string, fields ...map[string]any) {
	r.parent.log(LevelInfo, r.runID, msg, fields)
}

func (r *RunLogger) Warn(msg string, fields ...map[string]any) {
	r.parent.log(LevelWarn, r.runID, msg, fields)
}

func (r *RunLogger) Error(msg string, fields ...map[string]any) {
	r.parent.log(LevelError, r.runID, msg, fields)
}

// Query filters retained entries. Zero values match everything.
type Query struct {
	Level     Level     // minimum level
	RunID     string
	Component string
	Contains  string    // case-insensitive substring of Message
	Since     time.Time // inclusive
	Until     time.Time // inclusive
	Limit     int       // keep the newest Limit matches; 0 keeps all
}

func (q Query) match(e Entry) bool {
	switch {
	case q.Level != "" && e.Level.rank() < q.Level.rank():
		return false
	case q.RunID != "" && e.RunID != q.RunID:
		return false
	case q.Component != "" && e.Component != q.Component:
		return false
	case !q.Since.IsZero() && e.Timestamp.Before(q.Since):
		return false
	case !q.Until.IsZero() && e.Timestamp.After(q.Until):
		return false
	case q.Contains != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(q.Contains)):
		return false
	}
	return true
}

// QueryResult is the answer to a Query, oldest entry first.
type QueryResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`  // matches before Limit
	Counts  Stats   `json:"counts"` // all-time per-level counts
}

// Stats counts entries logged per level since the last Clear.
type Stats struct {
	Debug    int64 `json:"debug"`
	Info     int64 `json:"info"`
	Warn     int64 `json:"warn"`
	Error    int64 `json:"error"`
	Total    int64 `json:"total"`
	Retained int   `json:"retained"`
}

func (l *Logger) statsLocked() Stats {
	s := Stats{
		Debug:    l.counts[0],
		Info:     l.counts[1],
		Warn:     l.counts[2],
		Error:    l.counts[3],
		Retained: l.recent.len(),
	}
	s.Total = s.Debug + s.Info + s.Warn + s.Error
	return s
}

// Query returns retained entries matching q.
func (l *Logger) Query(q Query) QueryResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	matched := []Entry{}
	l.recent.each(func(e Entry) {
		if q.match(e) {
			matched = append(matched, e)
		}
	})

	total := len(matched)
	if q.Limit > 0 && total > q.Limit {
		matched = matched[total-q.Limit:]
	}
	return QueryResult{Entries: matched, Total: total, Counts: l.statsLocked()}
}

// Stats returns per-level counts.
func (l *Logger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statsLocked()
}

// Clear drops retained entries and resets counts.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recent.reset()
	l.counts = [len(levels)]int64{}
}
