package quote

import (
    "context"
    "errors"
    "fmt"
    "net"
    "strings"
)

// FailKind classifies an adapter failure. Adapters never surface anything
// outside this taxonomy.
type FailKind string

const (
    FailTimeout           FailKind = "timeout"
    FailMalformedResponse FailKind = "malformed_response"
    FailHTTPError         FailKind = "http_error"
    FailUnreachable       FailKind = "unreachable"
)

// SourceError is a classified failure from a single source adapter.
type SourceError struct {
    Source string
    Kind   FailKind
    Status int // HTTP status for FailHTTPError, zero otherwise
    Err    error
}

func (e *SourceError) Error() string {
    if e.Kind == FailHTTPError {
        return fmt.Sprintf("%s: http status %d", e.Source, e.Status)
    }
    if e.Err != nil {
        return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
    }
    return fmt.Sprintf("%s: %s", e.Source, e.Kind)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Malformed builds a parse failure for a source.
func Malformed(source string, err error) *SourceError {
    return &SourceError{Source: source, Kind: FailMalformedResponse, Err: err}
}

// HTTPStatus builds a non-2xx failure for a source.
func HTTPStatus(source string, status int) *SourceError {
    return &SourceError{Source: source, Kind: FailHTTPError, Status: status}
}

// ClassifyTransport maps a transport-level error (from http.Client.Do) to a
// SourceError. Context deadlines and net timeouts become FailTimeout,
// everything else FailUnreachable.
func ClassifyTransport(source string, err error) *SourceError {
    kind := FailUnreachable
    var nerr net.Error
    switch {
    case errors.Is(err, context.DeadlineExceeded):
        kind = FailTimeout
    case errors.As(err, &nerr) && nerr.Timeout():
        kind = FailTimeout
    }
    return &SourceError{Source: source, Kind: kind, Err: err}
}

// AllSourcesFailed is the orchestrator's aggregate failure for one refresh
// tick. It carries the per-source reasons for diagnostics.
type AllSourcesFailed struct {
    Reasons []*SourceError
    Muted   []string // sources skipped because their breaker was open
}

func (e *AllSourcesFailed) Error() string {
    parts := make([]string, 0, len(e.Reasons)+1)
    for _, r := range e.Reasons {
        parts = append(parts, r.Error())
    }
    if len(e.Muted) > 0 {
        parts = append(parts, "muted: "+strings.Join(e.Muted, ","))
    }
    return "all sources failed: " + strings.Join(parts, "; ")
}
