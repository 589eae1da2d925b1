// Package smartpass is a thin client for the SmartPass inventory, payment and
// season-pass endpoints, plus the purchase orchestration built on top of them.
package smartpass

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Recorder receives the outcome of every request and response check.
type Recorder interface {
	RecordRequest(name string, status int, d time.Duration, err error)
	Check(name string, ok bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, int, time.Duration, error) {}
func (nopRecorder) Check(string, bool)                              {}

// Response is one completed HTTP exchange.
type Response struct {
	Name     string
	Status   int
	Body     []byte
	Duration time.Duration
}

// Field looks up a gjson path in the body.
func (r *Response) Field(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// HasField reports whether the body is valid JSON with a non-null value at path.
func (r *Response) HasField(path string) bool {
	if !gjson.ValidBytes(r.Body) {
		return false
	}
	v := r.Field(path)
	return v.Exists() && v.Type != gjson.Null
}

type Client struct {
	baseURL  string
	headers  http.Header
	http     *http.Client
	recorder Recorder
	logger   *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL string, headers http.Header, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		headers:  headers,
		recorder: nopRecorder{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = NewHTTPClient(60 * time.Second)
	}
	return c
}

// NewHTTPClient returns a client tuned for many concurrent virtual users
// sharing one host. Outgoing requests carry the active trace context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 1000,
		MaxConnsPerHost:     0,
		IdleConnTimeout:     90 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

func (c *Client) do(ctx context.Context, method, name, path string, payload any) (*Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode %s payload", name)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build %s request", name)
	}
	req.Header = c.headers.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.recorder.RecordRequest(name, 0, time.Since(start), err)
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		c.recorder.RecordRequest(name, resp.StatusCode, elapsed, err)
		return nil, errors.Wrapf(err, "failed to read %s response", name)
	}
	c.recorder.RecordRequest(name, resp.StatusCode, elapsed, nil)

	c.logger.Debug("request completed",
		zap.String("name", name),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", elapsed),
	)

	return &Response{
		Name:     name,
		Status:   resp.StatusCode,
		Body:     data,
		Duration: elapsed,
	}, nil
}

func (c *Client) post(ctx context.Context, name, path string, payload any) (*Response, error) {
	return c.do(ctx, http.MethodPost, name, path, payload)
}

func (c *Client) get(ctx context.Context, name, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, name, path, nil)
}

// check is a named assertion on a response.
type check struct {
	name string
	fn   func(*Response) bool
}

func statusIs(name string, codes ...int) check {
	return check{name: name, fn: func(r *Response) bool {
		for _, code := range codes {
			if r.Status == code {
				return true
			}
		}
		return false
	}}
}

func hasField(name, path string) check {
	return check{name: name, fn: func(r *Response) bool { return r.HasField(path) }}
}

func hasBody(name string) check {
	return check{name: name, fn: func(r *Response) bool { return len(r.Body) > 0 }}
}

func (c *Client) check(resp *Response, checks ...check) bool {
	all := true
	for _, ch := range checks {
		ok := ch.fn(resp)
		c.recorder.Check(ch.name, ok)
		all = all && ok
	}
	return all
}
