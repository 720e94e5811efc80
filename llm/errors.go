package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a model-layer failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindAccessDenied
	KindNotFound
	KindInvalidRequest
	KindContextLength
	KindContentFilter
	KindRateLimit
	KindServer
	KindTimeout
	KindNetwork
	KindAborted
	KindConfiguration
	KindUnavailable
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindAuthentication: "authentication",
	KindAccessDenied:   "access denied",
	KindNotFound:       "not found",
	KindInvalidRequest: "invalid request",
	KindContextLength:  "context length",
	KindContentFilter:  "content filter",
	KindRateLimit:      "rate limit",
	KindServer:         "server",
	KindTimeout:        "timeout",
	KindNetwork:        "network",
	KindAborted:        "aborted",
	KindConfiguration:  "configuration",
	KindUnavailable:    "unavailable",
	KindInternal:       "internal",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Transient reports whether a failure of this kind may succeed on retry
// against the same provider.
func (k Kind) Transient() bool {
	switch k {
	case KindUnknown, KindRateLimit, KindServer, KindTimeout, KindNetwork:
		return true
	}
	return false
}

// Error is the error type returned by the model layer.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	// RetryAfter is the server's requested wait; zero when not given.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Provider != "" {
		fmt.Fprintf(&sb, "%s: ", e.Provider)
	}
	sb.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (%d)", e.StatusCode)
	}
	if e.Message != "" {
		sb.WriteString(": " + e.Message)
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so sentinels such as
// ErrUnavailable work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Provider == "" && t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrUnavailable   = &Error{Kind: KindUnavailable}
	ErrRateLimited   = &Error{Kind: KindRateLimit}
	ErrAuthorization = &Error{Kind: KindAuthentication}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrAborted       = &Error{Kind: KindAborted}
)

func newError(kind Kind, provider, message string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Err: cause}
}

// NewUnavailableError reports that provider cannot serve requests,
// typically because its credentials are missing.
func NewUnavailableError(provider string) error {
	return newError(KindUnavailable, provider, "provider is not available", nil)
}

var statusKinds = map[int]Kind{
	400: KindInvalidRequest,
	401: KindAuthentication,
	403: KindAccessDenied,
	404: KindNotFound,
	408: KindTimeout,
	413: KindContextLength,
	422: KindInvalidRequest,
	429: KindRateLimit,
	500: KindServer,
	502: KindServer,
	503: KindServer,
	504: KindServer,
}

// ErrorFromStatusCode classifies an HTTP failure from provider. Statuses
// without a mapping are KindUnknown.
func ErrorFromStatusCode(statusCode int, message, provider string, retryAfter time.Duration) *Error {
	e := newError(statusKinds[statusCode], provider, message, nil)
	e.StatusCode = statusCode
	e.RetryAfter = retryAfter
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is worth retrying against the same
// provider. Errors from outside this package are assumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Transient()
}

// IsUnavailable reports whether err signals a provider that cannot serve
// requests at all.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
