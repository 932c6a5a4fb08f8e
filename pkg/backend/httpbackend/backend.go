// Package httpbackend adapts an HTTP endpoint to the engine's Backend interface.
package httpbackend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jzx17/gorelay/pkg/types"
)

// DefaultMaxBodyBytes caps how much of a reply body is read
const DefaultMaxBodyBytes = 4 << 20

// Config configures an HTTP backend.
type Config struct {
	// Name is the provider name requests use to select this backend.
	Name string `yaml:"name" mapstructure:"name"`
	// BaseURL is prefixed to every request path.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// Timeout bounds the whole exchange; per-attempt timeouts come from request options.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// Headers are sent on every request unless the request overrides them.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`
	// MaxBodyBytes caps the reply body kept in the outcome.
	MaxBodyBytes int64 `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// ApplyDefaults fills in unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("httpbackend: name is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("httpbackend: base_url must be an http(s) URL (got: %q)", c.BaseURL)
	}
	if c.Timeout < 0 {
		return errors.New("httpbackend: timeout must not be negative")
	}
	return nil
}

// Backend sends requests over HTTP. A 2xx status is success; transport
// failures are returned as errors so the executor classifies them as network errors.
type Backend struct {
	config Config
	client *http.Client
}

// Option configures a Backend
type Option func(*Backend)

// WithHTTPClient replaces the underlying client
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) {
		if c != nil {
			b.client = c
		}
	}
}

// New creates an HTTP backend.
func New(cfg Config, opts ...Option) (*Backend, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	b := &Backend{
		config: cfg,
		client: &http.Client{Transport: transport, Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Name returns the provider name.
func (b *Backend) Name() string {
	return b.config.Name
}

// Send performs one HTTP exchange.
func (b *Backend) Send(ctx context.Context, req *types.Request) (types.Outcome, error) {
	httpReq, err := b.buildRequest(ctx, req)
	if err != nil {
		// a request that cannot be built will never succeed
		return types.Outcome{StatusCode: http.StatusBadRequest, Message: err.Error(), Err: err}, nil
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return types.Outcome{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, b.config.MaxBodyBytes))
	if err != nil {
		return types.Outcome{}, fmt.Errorf("read response body: %w", err)
	}

	out := types.Outcome{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Payload:    body,
	}
	if !out.Success {
		out.Message = fmt.Sprintf("%s %s: %s", httpReq.Method, httpReq.URL.Path, http.StatusText(resp.StatusCode))
	}
	return out, nil
}

func (b *Backend) buildRequest(ctx context.Context, req *types.Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, b.config.BaseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for _, headers := range []map[string]string{b.config.Headers, req.Options.Headers, req.Headers} {
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}
	}
	return httpReq, nil
}
