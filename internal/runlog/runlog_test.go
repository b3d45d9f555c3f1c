package runlog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Second)
		return t
	}
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStore_LogSuccessAndGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(dir, WithClock(stepClock(epoch)))
	require.NoError(t, err)

	rec, err := store.LogSuccess(Run{
		TaskType:      "summarize",
		Model:         "sonnet",
		AgentName:     "writer",
		ReferenceType: "document",
		ReferenceID:   "doc-1",
		Prompt:        "Summarize this",
		Metadata:      map[string]any{"source": "test"},
		Attempts:      2,
		Duration:      1500 * time.Millisecond,
	}, Success{
		SessionID: "session-1",
		TokensIn:  100,
		TokensOut: 50,
		CostUSD:   0.02,
		Output:    `{"summary":"short"}`,
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	// Check file was created
	_, err = os.Stat(filepath.Join(dir, rec.ID+".json"))
	require.NoError(t, err)

	got, err := store.Get(rec.ID)
	require.NoError(t, err)
	require.True(t, got.Success)
	require.Equal(t, "summarize", got.TaskType)
	require.Equal(t, "session-1", got.SessionID)
	require.Equal(t, 100, *got.TokensIn)
	require.Equal(t, 50, *got.TokensOut)
	require.Equal(t, 0.02, got.Cost())
	require.Equal(t, int64(1500), got.DurationMs)
	require.Equal(t, 2, got.Attempts)
	require.Equal(t, "Summarize this", got.InputPreview)
	require.Equal(t, `{"summary":"short"}`, got.OutputPreview)
	require.Equal(t, epoch, got.CreatedAt)
	require.Empty(t, got.ErrorCode)
}

func TestStore_LogError(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	rec, err := store.LogError(Run{TaskType: "t", Model: "haiku", Prompt: "p"}, "CLI_TIMEOUT", "Claude CLI timeout after 1000ms")
	require.NoError(t, err)

	got, err := store.Get(rec.ID)
	require.NoError(t, err)
	require.False(t, got.Success)
	require.Equal(t, "CLI_TIMEOUT", got.ErrorCode)
	require.Equal(t, "Claude CLI timeout after 1000ms", got.ErrorMessage)
	require.Nil(t, got.TokensIn)
	require.Nil(t, got.CostUSD)
	require.Zero(t, got.Cost())
	require.Empty(t, got.OutputPreview)
}

func TestStore_PreviewTruncation(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	long := strings.Repeat("é", 600)
	rec, err := store.LogSuccess(Run{Prompt: long}, Success{Output: long})
	require.NoError(t, err)

	require.Equal(t, PreviewLength, len([]rune(rec.InputPreview)))
	require.Equal(t, PreviewLength, len([]rune(rec.OutputPreview)))
}

func TestStore_List(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir(), WithClock(stepClock(epoch)))
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 5; i++ {
		rec, err := store.LogError(Run{TaskType: "t"}, "CLI_ERROR", "x")
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	page1 := store.List(ListOptions{Page: 1, Limit: 2})
	require.Equal(t, 5, page1.Total)
	require.Equal(t, 3, page1.TotalPages)
	require.Len(t, page1.Runs, 2)
	require.Equal(t, ids[4], page1.Runs[0].ID) // Newest first
	require.Equal(t, ids[3], page1.Runs[1].ID)

	page3 := store.List(ListOptions{Page: 3, Limit: 2})
	require.Len(t, page3.Runs, 1)
	require.Equal(t, ids[0], page3.Runs[0].ID)

	beyond := store.List(ListOptions{Page: 10, Limit: 2})
	require.Empty(t, beyond.Runs)

	defaults := store.List(ListOptions{})
	require.Equal(t, 1, defaults.Page)
	require.Equal(t, 20, defaults.Limit)
}

func TestStore_Since(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir(), WithClock(stepClock(epoch)))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := store.LogError(Run{}, "CLI_ERROR", "x")
		require.NoError(t, err)
	}

	// Records at epoch+0s..3s; the last two are at or after epoch+2s.
	got := store.Since(epoch.Add(2 * time.Second))
	require.Len(t, got, 2)
	require.Equal(t, epoch.Add(3*time.Second), got[0].CreatedAt)
}

func TestStore_Pruning(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(dir, WithClock(stepClock(epoch)), WithMaxRecords(3))
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 5; i++ {
		rec, err := store.LogError(Run{}, "CLI_ERROR", "x")
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	require.Equal(t, 3, store.List(ListOptions{}).Total)
	_, err = store.Get(ids[0])
	require.ErrorIs(t, err, ErrNotFound)
	_, err = os.Stat(filepath.Join(dir, ids[0]+".json"))
	require.True(t, os.IsNotExist(err))

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 3)
}

func TestStore_Load(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	rec, err := store.LogSuccess(Run{TaskType: "persisted"}, Success{SessionID: "s"})
	require.NoError(t, err)

	// Invalid files are ignored on load.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("{nope"), 0644))

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	got, err := reopened.Get(rec.ID)
	require.NoError(t, err)
	require.Equal(t, "persisted", got.TaskType)
	require.Equal(t, 1, reopened.List(ListOptions{}).Total)
}

func TestStore_NotFound(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get("nonexistent")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	rec, err := store.LogError(Run{TaskType: "first"}, "CLI_ERROR", "x")
	require.NoError(t, err)

	got, err := store.Get(rec.ID)
	require.NoError(t, err)
	got.TaskType = "changed"

	again, err := store.Get(rec.ID)
	require.NoError(t, err)
	require.Equal(t, "first", again.TaskType)
}

func TestStore_CallerSuppliedID(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	id := "3f1c8a52-7f7e-4a43-9d2c-1d0f5f4b8e11"
	rec, err := store.LogError(Run{ID: id}, "CLI_ERROR", "x")
	require.NoError(t, err)
	require.Equal(t, id, rec.ID)

	_, err = store.LogError(Run{ID: "../escape"}, "CLI_ERROR", "x")
	require.Error(t, err)
}
