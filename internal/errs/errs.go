// Package errs defines the error taxonomy shared across the ingestion
// pipeline so callers can branch on Kind instead of matching strings.
package errs

import "fmt"

// Kind classifies an error by how the system must react to it. The comment
// on each constant below states the propagation policy attached to it.
type Kind int

const (
	// Configuration errors surface to the process exit at startup.
	Configuration Kind = iota
	// Transport errors on a single connection are counted and trigger a
	// local reconnect with backoff; never propagated out of a Connection
	// Task.
	Transport
	// Protocol errors (malformed subscription ack, unexpected frame) are
	// handled the same way as Transport.
	Protocol
	// Parse errors on a single message are counted and the field is
	// replaced with a sentinel or the message dropped; the stream
	// continues.
	Parse
	// Validation errors are the same as Parse but for semantic rather
	// than syntactic failures (e.g. a non-positive trade id).
	Validation
	// Shutdown is cooperative and must never be logged as an error.
	Shutdown
	// Internal marks an invariant violation; debug builds should panic,
	// release builds log and restart the affected task.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Parse:
		return "parse"
	case Validation:
		return "validation"
	case Shutdown:
		return "shutdown"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// IngestError wraps an underlying error with a Kind plus the agent/symbol
// context needed for structured logging and metrics labeling.
type IngestError struct {
	Kind   Kind
	Agent  string
	Symbol string
	Err    error
}

func (e *IngestError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Agent, e.Symbol, e.Err)
	}
	if e.Agent != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Agent, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// New constructs an IngestError of the given kind with no agent/symbol
// context.
func New(kind Kind, err error) *IngestError {
	return &IngestError{Kind: kind, Err: err}
}

// Newf constructs an Internal-style formatted error without an underlying
// cause, analogous to the Rust Other(String) variant.
func Newf(kind Kind, format string, args ...any) *IngestError {
	return &IngestError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WithContext annotates err with agent/symbol labels for logging. Returns a
// *IngestError with the same Kind if err already is one, or wraps err as
// Internal otherwise.
func WithContext(err error, agent, symbol string) *IngestError {
	if ie, ok := err.(*IngestError); ok {
		ie.Agent = agent
		ie.Symbol = symbol
		return ie
	}
	return &IngestError{Kind: Internal, Agent: agent, Symbol: symbol, Err: err}
}

// Is reports whether err is an *IngestError of the given kind, unwrapping as
// needed.
func Is(err error, kind Kind) bool {
	ie, ok := AsIngestError(err)
	return ok && ie.Kind == kind
}

// AsIngestError unwraps err looking for an *IngestError.
func AsIngestError(err error) (*IngestError, bool) {
	for err != nil {
		if ie, ok := err.(*IngestError); ok {
			return ie, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
