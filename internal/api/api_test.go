package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int
		wantErr string
	}{
		{"", 7, ""},
		{"1", 1, ""},
		{"10", 10, ""},
		{"0", 0, "must be between 1 and 10"},
		{"11", 0, "must be between 1 and 10"},
		{"ten", 0, "must be a valid integer"},
	}
	for _, tt := range tests {
		got, err := ParseIntParam(tt.in, 1, 10, 7)
		if tt.wantErr != "" {
			assert.EqualError(t, err, tt.wantErr, "input %q", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseTimeParam(t *testing.T) {
	t.Parallel()

	got, err := ParseTimeParam("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = ParseTimeParam("2026-03-01T12:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), got)

	_, err = ParseTimeParam("yesterday")
	assert.EqualError(t, err, "must be an RFC3339 timestamp")
}

func TestParsePage(t *testing.T) {
	t.Parallel()

	page, limit, err := ParsePage(url.Values{}, 20, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, page)
	assert.Equal(t, 20, limit)

	page, limit, err = ParsePage(url.Values{"page": {"3"}, "limit": {"50"}}, 20, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, page)
	assert.Equal(t, 50, limit)

	_, _, err = ParsePage(url.Values{"page": {"0"}}, 20, 100)
	assert.ErrorContains(t, err, "page must be between")

	_, _, err = ParsePage(url.Values{"limit": {"101"}}, 20, 100)
	assert.ErrorContains(t, err, "limit must be between")
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()

	type body struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		in      string
		limit   int64
		wantErr string
	}{
		{"ok", `{"name":"a"}`, 1024, ""},
		{"trailing whitespace", "{\"name\":\"a\"}\n", 1024, ""},
		{"unknown field", `{"name":"a","x":1}`, 1024, "unknown field"},
		{"trailing value", `{"name":"a"}{}`, 1024, "single JSON object"},
		{"too large", `{"name":"` + strings.Repeat("a", 64) + `"}`, 16, "body exceeds 16 bytes"},
		{"empty", ``, 1024, "EOF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.in))
			var got body
			err := DecodeStrict(httptest.NewRecorder(), r, tt.limit, &got)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a", got.Name)
		})
	}
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusNotFound, ErrorNotFound, "gone")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"not_found","message":"gone"}`, rec.Body.String())
}

func TestWriteRaw(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteRaw(rec, http.StatusOK, []byte(`{"type":"object"}`))

	assert.Equal(t, `{"type":"object"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
