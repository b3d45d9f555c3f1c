package invoke

import (
	"errors"
	"fmt"
	"time"
)

// Kind is a member of the closed failure taxonomy. Its string value is the
// stable error code reported to callers.
type Kind string

const (
	KindExecutableNotFound Kind = "CLI_NOT_FOUND"
	KindTimeout            Kind = "CLI_TIMEOUT"
	KindProcessError       Kind = "CLI_ERROR"
	KindDecodeFailed       Kind = "PARSE_ERROR"
	KindSchemaInvalid      Kind = "SCHEMA_INVALID"
	KindPromptTooLong      Kind = "PROMPT_TOO_LONG"
	KindRateLimited        Kind = "RATE_LIMIT"
	KindModelError         Kind = "MODEL_ERROR"
	KindWorkspaceError     Kind = "WORKSPACE_ERROR"
	KindCancelled          Kind = "CANCELLED"
)

// Severity is a transport-agnostic grouping of kinds.
type Severity string

const (
	SeverityInvalidRequest Severity = "invalid_request"
	SeverityTimeout        Severity = "timeout"
	SeverityThrottled      Severity = "throttled"
	SeverityUpstream       Severity = "upstream"
	SeverityInternal       Severity = "internal"
	SeverityCancelled      Severity = "cancelled"
)

type kindInfo struct {
	retriable bool
	severity  Severity
}

// kinds is the only place retry eligibility is decided.
var kinds = map[Kind]kindInfo{
	KindExecutableNotFound: {retriable: false, severity: SeverityInternal},
	KindTimeout:            {retriable: true, severity: SeverityTimeout},
	KindProcessError:       {retriable: true, severity: SeverityInternal},
	KindDecodeFailed:       {retriable: false, severity: SeverityInternal},
	KindSchemaInvalid:      {retriable: false, severity: SeverityInvalidRequest},
	KindPromptTooLong:      {retriable: false, severity: SeverityInvalidRequest},
	KindRateLimited:        {retriable: true, severity: SeverityThrottled},
	KindModelError:         {retriable: true, severity: SeverityUpstream},
	KindWorkspaceError:     {retriable: false, severity: SeverityInternal},
	KindCancelled:          {retriable: false, severity: SeverityCancelled},
}

// Kinds returns every member of the taxonomy.
func Kinds() []Kind {
	return []Kind{
		KindExecutableNotFound,
		KindTimeout,
		KindProcessError,
		KindDecodeFailed,
		KindSchemaInvalid,
		KindPromptTooLong,
		KindRateLimited,
		KindModelError,
		KindWorkspaceError,
		KindCancelled,
	}
}

func isKnown(k Kind) bool {
	_, ok := kinds[k]
	return ok
}

// Retriable reports whether a failure of this kind may succeed on another attempt.
func (k Kind) Retriable() bool {
	return kinds[k].retriable
}

// Severity returns the kind's severity; unknown kinds are internal.
func (k Kind) Severity() Severity {
	if info, ok := kinds[k]; ok {
		return info.severity
	}
	return SeverityInternal
}

func (k Kind) String() string {
	return string(k)
}

// Error is a classified invocation failure.
type Error struct {
	Kind      Kind
	Message   string
	Retriable bool

	// Duration is the total elapsed time of the invocation, set once the
	// invocation resolves. Zero for pre-flight failures.
	Duration time.Duration

	err error
}

// NewError builds an Error whose retriability comes from the kind table.
func NewError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retriable: kind.Retriable(),
		err:       cause,
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// withDuration returns a copy of e carrying the elapsed time.
func (e *Error) withDuration(d time.Duration) *Error {
	cp := *e
	cp.Duration = d
	return &cp
}

// KindOf returns the kind of err if it is, or wraps, an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
