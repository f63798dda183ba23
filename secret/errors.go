package secret

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jonwraymond/secretops/resilience"
)

// Kind classifies a backend failure.
type Kind int

const (
	// KindUnknown is any failure that does not fit another kind.
	KindUnknown Kind = iota
	// KindNotFound means the backend has no such secret or version.
	KindNotFound
	// KindUnauthorized means the backend rejected the caller's credentials.
	KindUnauthorized
	// KindUnavailable means the backend could not be reached or was
	// throttling. It is the only retryable kind.
	KindUnavailable
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "not_found", "notfound":
		return KindNotFound, nil
	case "unauthorized":
		return KindUnauthorized, nil
	case "unavailable":
		return KindUnavailable, nil
	case "unknown":
		return KindUnknown, nil
	default:
		return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Sentinel errors. The kind sentinels match any *Error of that kind via
// errors.Is.
var (
	ErrNotFound     = errors.New("secret: not found")
	ErrUnauthorized = errors.New("secret: unauthorized")
	ErrUnavailable  = errors.New("secret: backend unavailable")
	ErrUnknown      = errors.New("secret: backend failure")

	ErrInvalidName     = errors.New("secret: name is required")
	ErrNoProviders     = errors.New("secret: no providers configured")
	ErrNilBackend      = errors.New("secret: backend is nil")
	ErrNilProvider     = errors.New("secret: provider is nil")
	ErrExhausted       = errors.New("secret: all providers failed")
	ErrUnknownKind     = errors.New("secret: unknown failure kind")
	ErrInvalidRef      = errors.New("secret: invalid secret reference")
	ErrEmptyValue      = errors.New("secret: empty secret value")
	ErrUnknownProvider = errors.New("secret: unknown provider")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindUnauthorized:
		return ErrUnauthorized
	case KindUnavailable:
		return ErrUnavailable
	default:
		return ErrUnknown
	}
}

// Error is a classified failure from one provider.
type Error struct {
	Kind     Kind
	Provider string
	Name     string
	Version  string
	Err      error
}

// NewError builds an unannotated *Error for backends to return.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("secret: ")
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	if e.Name != "" {
		b.WriteString(e.Name)
		if e.Version != "" {
			b.WriteByte('@')
			b.WriteString(e.Version)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Err != nil && e.Err != e.Kind.sentinel() {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindUnavailable
}

// ErrorKind returns the kind name for metrics and logs.
func (e *Error) ErrorKind() string {
	return e.Kind.String()
}

// KindOf classifies err. A *Error anywhere in the chain wins; otherwise kind
// sentinels, timeouts and resilience guard rejections are recognized.
// Everything else is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, resilience.ErrTimeout),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrBulkheadFull),
		errors.Is(err, resilience.ErrRateLimited):
		return KindUnavailable
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindUnavailable
	}
	return KindUnknown
}

// annotate returns err as a *Error carrying the provider identity and the
// requested name and version.
func annotate(err error, provider, name, version string) *Error {
	var se *Error
	if errors.As(err, &se) {
		out := *se
		out.Provider = provider
		if out.Name == "" {
			out.Name = name
		}
		if out.Version == "" {
			out.Version = version
		}
		return &out
	}
	return &Error{
		Kind:     KindOf(err),
		Provider: provider,
		Name:     name,
		Version:  version,
		Err:      err,
	}
}

// ExhaustedError reports that every provider failed recoverably.
//
// errors.Is(err, ErrExhausted) is always true. errors.Is with a kind sentinel
// is true when any provider failed with that kind.
type ExhaustedError struct {
	Name     string
	Version  string
	Failures []*Error
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString("secret: all providers failed for ")
	fmt.Fprintf(&b, "%q", e.Name)
	if e.Version != "" {
		b.WriteString(" version ")
		b.WriteString(e.Version)
	}
	for i, f := range e.Failures {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.Provider)
		b.WriteString(": ")
		b.WriteString(f.Kind.String())
	}
	return b.String()
}

// Is matches ErrExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Unwrap exposes each provider's failure in provider order.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Kinds returns each provider's failure kind in provider order.
func (e *ExhaustedError) Kinds() []Kind {
	kinds := make([]Kind, len(e.Failures))
	for i, f := range e.Failures {
		kinds[i] = f.Kind
	}
	return kinds
}

// ErrorKind returns "exhausted" for metrics and logs.
func (e *ExhaustedError) ErrorKind() string {
	return "exhausted"
}
