package llm

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Handler performs one reasoning call.
type Handler func(ctx context.Context, req Request) (*Response, error)

// Middleware wraps a provider call. It receives the request and the next
// handler in the chain.
type Middleware func(ctx context.Context, req Request, next Handler) (*Response, error)

// Client holds named providers and routes requests to them through the
// configured middleware.
type Client struct {
	providers       map[string]Provider
	defaultProvider string
	middleware      []Middleware
	mu              sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider under its own name.
func WithProvider(p Provider) ClientOption {
	return func(c *Client) {
		c.providers[p.Name()] = p
	}
}

// WithDefaultProvider sets the provider used when a request names none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware adds middleware to the client. The first registered runs
// outermost.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]Provider),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds a provider to the client.
func (c *Client) RegisterProvider(p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[p.Name()] = p
	if c.defaultProvider == "" {
		c.defaultProvider = p.Name()
	}
}

// DefaultProvider returns the name of the default provider, if any.
func (c *Client) DefaultProvider() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultProvider
}

// Names returns the registered provider names in sorted order.
func (c *Client) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Provider returns the named provider, or nil if it is not registered.
func (c *Client) Provider(name string) Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.providers[name]
}

// Available reports whether the named provider is registered and available.
func (c *Client) Available(name string) bool {
	p := c.Provider(name)
	return p != nil && p.Available()
}

func (c *Client) resolveProvider(req Request) (Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			name = info.Provider
		}
	}
	if name == "" {
		return nil, newError(KindConfiguration, "", "no provider specified and no default provider configured", nil)
	}

	p, ok := c.providers[name]
	if !ok {
		return nil, newError(KindConfiguration, name, "provider is not registered", nil)
	}
	return p, nil
}

// Complete sends a blocking request through middleware to the resolved
// provider. Unavailable providers fail fast with a KindUnavailable error without
// entering the middleware chain.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	p, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if !p.Available() {
		return nil, NewUnavailableError(p.Name())
	}
	if req.Provider == "" {
		req.Provider = p.Name()
	}

	handler := Handler(p.Complete)
	c.mu.RLock()
	middleware := c.middleware
	c.mu.RUnlock()
	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	resp, err := handler(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, newError(KindInternal, p.Name(), "provider returned no response", nil)
	}
	if resp.Provider == "" {
		resp.Provider = p.Name()
	}
	return resp, nil
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var errs []error
	for _, p := range c.providers {
		if closer, ok := p.(Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
