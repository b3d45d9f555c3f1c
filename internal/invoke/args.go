package invoke

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BuildArgs assembles the CLI argument vector. The prompt is passed as a
// single argument and never through a shell.
func BuildArgs(model Model, schema map[string]any, prompt string, allowedTools []string) ([]string, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("serializing schema: %w", err)
	}

	args := []string{
		"--print",
		"--model", string(model),
		"--output-format", "json",
		"--json-schema", string(schemaJSON),
		"-p", prompt,
	}
	if len(allowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(allowedTools, ","))
	}
	return args, nil
}
