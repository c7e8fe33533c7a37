package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taskscheduler/internal/platform/httpclient"
	"taskscheduler/internal/shared"
)

var httpMethods = map[string]struct{}{
	http.MethodGet:    {},
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodDelete: {},
	http.MethodPatch:  {},
	http.MethodHead:   {},
}

// HTTPConfig configures an HTTP request executor.
type HTTPConfig struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
	// Retries are transport-level retries for idempotent methods.
	Retries int
	// MaxBodyBytes caps the response body kept as output.
	MaxBodyBytes int
}

// HTTP issues one request per execution.
type HTTP struct {
	cfg    HTTPConfig
	client *httpclient.Client
}

// NewHTTP validates cfg and builds the executor. opts are applied to the
// underlying client after the executor's own options.
func NewHTTP(cfg HTTPConfig, opts ...httpclient.Option) (*HTTP, error) {
	cfg.Method = strings.ToUpper(strings.TrimSpace(cfg.Method))
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if _, ok := httpMethods[cfg.Method]; !ok {
		return nil, shared.Errorf(shared.KindValidation, "unsupported HTTP method %q", cfg.Method)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, shared.Errorf(shared.KindValidation, "invalid url: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, shared.Errorf(shared.KindValidation, "url must be absolute http(s), got %q", u.Redacted())
	}
	if cfg.Timeout < 0 {
		return nil, shared.Errorf(shared.KindValidation, "timeout cannot be negative")
	}
	if cfg.Retries < 0 {
		return nil, shared.Errorf(shared.KindValidation, "retries cannot be negative")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxOutput
	}

	clientOpts := []httpclient.Option{httpclient.WithRetries(cfg.Retries, 0)}
	clientOpts = append(clientOpts, opts...)
	return &HTTP{cfg: cfg, client: httpclient.New(clientOpts...)}, nil
}

// Kind implements Executor.
func (h *HTTP) Kind() Kind { return KindHTTP }

// Timeout implements Timeouter.
func (h *HTTP) Timeout() time.Duration { return h.cfg.Timeout }

// Config returns a copy of the validated config.
func (h *HTTP) Config() HTTPConfig { return h.cfg }

// Execute implements Executor.
func (h *HTTP) Execute(ctx context.Context) Outcome {
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(h.cfg.Body) > 0 {
		body = bytes.NewReader(h.cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, h.cfg.Method, h.cfg.URL, body)
	if err != nil {
		return Failure(fmt.Errorf("build request: %w", err), nil)
	}
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(ctx, req)
	if err != nil {
		if o, ok := Interrupted(ctx, err); ok {
			return o
		}
		if shared.IsTimeout(err) {
			return Outcome{Status: StatusTimedOut, Err: shared.MarkKind(err, shared.KindTimeout)}
		}
		return Failure(err, nil)
	}
	defer resp.Body.Close()

	out, readErr := io.ReadAll(io.LimitReader(resp.Body, int64(h.cfg.MaxBodyBytes)))
	if len(out) == h.cfg.MaxBodyBytes {
		out = trimPartialRune(out)
	}
	if readErr != nil {
		if o, ok := Interrupted(ctx, readErr); ok {
			o.Output = out
			return o
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(Text(truncate(out, 512)))
		if snippet == "" {
			snippet = http.StatusText(resp.StatusCode)
		}
		return Failure(fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet), out)
	}
	if readErr != nil {
		return Failure(fmt.Errorf("read response body: %w", readErr), out)
	}
	return Success(out)
}
