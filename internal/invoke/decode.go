package invoke

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Usage captures token consumption reported by the CLI.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Decoded is the typed content of a successful attempt.
type Decoded struct {
	Data      json.RawMessage // Compact JSON
	Usage     Usage
	CostUSD   float64
	SessionID string
}

// DecodeError reports stdout that does not follow the CLI's JSON protocol.
type DecodeError struct {
	Reason string
	Err    error // Underlying parser error, if any
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// message is one element of the --output-format json array.
type message struct {
	Type             string          `json:"type"`
	Subtype          string          `json:"subtype"`
	Result           *string         `json:"result"`
	StructuredOutput json.RawMessage `json:"structured_output"`
	SessionID        string          `json:"session_id"`
	TotalCostUSD     float64         `json:"total_cost_usd"`
	Usage            *Usage          `json:"usage"`
}

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// Decode parses the CLI's stdout into a Decoded payload.
//
// The payload is taken from the result message's structured_output when
// present; otherwise from a ```json fenced block inside result; otherwise
// from result parsed as JSON in its entirety.
func Decode(stdout []byte) (*Decoded, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(stdout, &elems); err != nil {
		return nil, &DecodeError{Reason: "stdout is not a JSON message array", Err: err}
	}

	raw := findResult(elems)
	if raw == nil {
		return nil, &DecodeError{Reason: "no result message in CLI response"}
	}
	result := &message{}
	if err := json.Unmarshal(raw, result); err != nil {
		return nil, &DecodeError{Reason: "malformed result message", Err: err}
	}

	data, err := resolvePayload(result)
	if err != nil {
		return nil, err
	}

	out := &Decoded{
		Data:      data,
		CostUSD:   result.TotalCostUSD,
		SessionID: result.SessionID,
	}
	if result.Usage != nil {
		out.Usage = *result.Usage
	}
	return out, nil
}

// findResult returns the first element whose type is "result". Other
// elements are heterogeneous and may not be objects at all; they are skipped
// without being decoded further.
func findResult(elems []json.RawMessage) json.RawMessage {
	for _, elem := range elems {
		var head struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(elem, &head) != nil {
			continue
		}
		if head.Type == "result" {
			return elem
		}
	}
	return nil
}

func resolvePayload(m *message) (json.RawMessage, error) {
	if len(m.StructuredOutput) > 0 && !bytes.Equal(m.StructuredOutput, []byte("null")) {
		return compact(m.StructuredOutput, "structured_output")
	}

	if m.Result == nil || *m.Result == "" {
		return nil, &DecodeError{Reason: "no structured_output or result in response"}
	}

	text := *m.Result
	if match := fencedJSON.FindStringSubmatch(text); match != nil {
		if block := strings.TrimSpace(match[1]); block != "" {
			return compact([]byte(block), "fenced json block")
		}
	}
	return compact([]byte(text), "result text")
}

func compact(raw []byte, source string) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, bytes.TrimSpace(raw)); err != nil {
		return nil, &DecodeError{Reason: "invalid JSON in " + source, Err: err}
	}
	return json.RawMessage(buf.Bytes()), nil
}
