package invoke

import (
	"fmt"
	"time"
)

// Model is a Claude model alias accepted by the CLI.
type Model string

const (
	ModelHaiku  Model = "haiku"
	ModelSonnet Model = "sonnet"
	ModelOpus   Model = "opus"
)

// ParseModel validates a model alias. An empty string is returned as-is so
// callers can fall back to the configured default.
func ParseModel(s string) (Model, error) {
	switch m := Model(s); m {
	case "", ModelHaiku, ModelSonnet, ModelOpus:
		return m, nil
	default:
		return "", fmt.Errorf("invalid model %q: must be opus, sonnet, or haiku", s)
	}
}

// Request is one invocation of the CLI.
type Request struct {
	Prompt       string
	Schema       map[string]any // JSON Schema the CLI must conform its output to
	Model        Model          // Empty means the configured default
	Timeout      time.Duration  // Per-attempt limit; zero means the configured default
	AllowedTools []string
}
