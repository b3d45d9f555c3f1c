// Package api defines the wire types shared by the executor HTTP surface and its clients.
package api

// Error codes that are not part of the invocation taxonomy.
const (
	ErrorValidation     = "validation_error"
	ErrorNotFound       = "not_found"
	ErrorUnauthorized   = "unauthorized"
	ErrorSchemaNotFound = "SCHEMA_NOT_FOUND"
	ErrorUnknown        = "UNKNOWN_ERROR"
)

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	TaskType      string         `json:"taskType"`
	Prompt        string         `json:"prompt"`
	Schema        map[string]any `json:"schema,omitempty"`
	SchemaName    string         `json:"schemaName,omitempty"`
	Agent         string         `json:"agent,omitempty"`
	Model         string         `json:"model,omitempty"`
	TimeoutMs     *int           `json:"timeout,omitempty"`
	AllowedTools  []string       `json:"allowedTools,omitempty"`
	ReferenceType string         `json:"referenceType,omitempty"`
	ReferenceID   string         `json:"referenceId,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Usage reports token consumption for a run.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// ExecuteSuccess is returned when an invocation produced a payload.
type ExecuteSuccess struct {
	Success    bool    `json:"success"`
	Data       any     `json:"data"`
	RunID      string  `json:"runId"`
	SessionID  string  `json:"sessionId"`
	DurationMs int64   `json:"durationMs"`
	Usage      Usage   `json:"usage"`
	CostUSD    float64 `json:"costUsd"`
}

// ErrorDetails carries the classified failure.
type ErrorDetails struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

// ExecuteFailure is returned when an invocation failed, before or after spawning.
type ExecuteFailure struct {
	Success    bool         `json:"success"`
	Error      ErrorDetails `json:"error"`
	RunID      string       `json:"runId,omitempty"`
	DurationMs int64        `json:"durationMs"`
}

// SchemaInfo describes one registered schema.
type SchemaInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// ListSchemasResponse is the body of GET /schemas.
type ListSchemasResponse struct {
	Schemas []SchemaInfo `json:"schemas"`
}
