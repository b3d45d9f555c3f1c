package invoke

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeStructuredOutput(t *testing.T) {
	t.Parallel()

	stdout := `[{"type":"result","total_cost_usd":0.02,"usage":{"input_tokens":10,"output_tokens":5},"session_id":"abc","structured_output":{"x":1}}]`

	got, err := Decode([]byte(stdout))
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1}`, string(got.Data))
	require.Equal(t, 0.02, got.CostUSD)
	require.Equal(t, Usage{InputTokens: 10, OutputTokens: 5}, got.Usage)
	require.Equal(t, "abc", got.SessionID)
}

func TestDecodePayloadPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stdout string
		want   string
	}{
		{
			name:   "structured output wins over result",
			stdout: `[{"type":"result","result":"{\"from\":\"text\"}","structured_output":{"from":"structured"}}]`,
			want:   `{"from":"structured"}`,
		},
		{
			name:   "null structured output falls back to result",
			stdout: `[{"type":"result","result":"{\"from\":\"text\"}","structured_output":null}]`,
			want:   `{"from":"text"}`,
		},
		{
			name:   "fenced block inside result",
			stdout: "[{\"type\":\"result\",\"result\":\"Here you go:\\n```json\\n{\\\"a\\\": [1, 2]}\\n```\\nDone.\"}]",
			want:   `{"a":[1,2]}`,
		},
		{
			name:   "whole result as json",
			stdout: `[{"type":"result","result":"  [1, 2, 3]  "}]`,
			want:   `[1,2,3]`,
		},
		{
			name:   "first result message is used",
			stdout: `[{"type":"assistant"},{"type":"result","structured_output":{"n":1}},{"type":"result","structured_output":{"n":2}}]`,
			want:   `{"n":1}`,
		},
		{
			name:   "non-object elements are skipped",
			stdout: `["banner",42,null,{"type":"result","structured_output":{"x":1}}]`,
			want:   `{"x":1}`,
		},
		{
			name:   "other messages may reuse field names with other types",
			stdout: `[{"type":"system","result":{"k":1},"usage":"n/a","total_cost_usd":"free"},{"type":"result","structured_output":{"x":1}}]`,
			want:   `{"x":1}`,
		},
		{
			name:   "non-string type is not a result",
			stdout: `[{"type":{"name":"result"}},{"type":"result","structured_output":{"x":2}}]`,
			want:   `{"x":2}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Decode([]byte(tt.stdout))
			require.NoError(t, err)
			require.Equal(t, tt.want, string(got.Data))
		})
	}
}

func TestDecodeFencedEqualsStructured(t *testing.T) {
	t.Parallel()

	structured, err := Decode([]byte(`[{"type":"result","structured_output":{"name":"x","tags":["a","b"]}}]`))
	require.NoError(t, err)

	fenced, err := Decode([]byte("[{\"type\":\"result\",\"result\":\"```json\\n{\\n  \\\"name\\\": \\\"x\\\",\\n  \\\"tags\\\": [\\\"a\\\", \\\"b\\\"]\\n}\\n```\"}]"))
	require.NoError(t, err)

	require.Equal(t, string(structured.Data), string(fenced.Data))
}

func TestDecodeMissingFieldsDefaultToZero(t *testing.T) {
	t.Parallel()

	got, err := Decode([]byte(`[{"type":"result","structured_output":{"ok":true}}]`))
	require.NoError(t, err)
	require.Zero(t, got.CostUSD)
	require.Zero(t, got.Usage)
	require.Empty(t, got.SessionID)
}

func TestDecodeFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stdout string
		reason string
	}{
		{"empty stdout", ``, "stdout is not a JSON message array"},
		{"not an array", `{"type":"result"}`, "stdout is not a JSON message array"},
		{"no result message", `[{"type":"system"},{"type":"assistant"}]`, "no result message in CLI response"},
		{"only non-objects", `["banner",1]`, "no result message in CLI response"},
		{"malformed result message", `[{"type":"result","result":{"k":1}}]`, "malformed result message"},
		{"empty result", `[{"type":"result","result":""}]`, "no structured_output or result in response"},
		{"prose result", `[{"type":"result","result":"I could not do that."}]`, "invalid JSON in result text"},
		{"broken fenced block", "[{\"type\":\"result\",\"result\":\"```json\\n{broken\\n```\"}]", "invalid JSON in fenced json block"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Decode([]byte(tt.stdout))
			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr), "got %v", err)
			require.Equal(t, tt.reason, decodeErr.Reason)

			classified := Classify(err)
			require.Equal(t, KindDecodeFailed, classified.Kind)
			require.False(t, classified.Retriable)
		})
	}
}
