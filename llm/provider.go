package llm

import "context"

// Provider is the interface every model backend must implement.
//
// Complete must not retain state between calls beyond what the caller supplies
// in Request.Messages.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Available reports whether the provider can serve requests, typically
	// because its credentials are present.
	Available() bool

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by providers that hold resources.
type Closer interface {
	Close() error
}

// ModelReporter is implemented by providers configured with a specific model.
type ModelReporter interface {
	Model() string
}
