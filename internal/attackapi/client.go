// Package attackapi talks to the MITRE ATT&CK matrix API.
package attackapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/msalah0e/attackgraph/internal/jsonvalue"
)

const (
	DefaultBaseURL      = "http://localhost:8008/api"
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 32 << 20
)

// Options configures a Client. Zero fields take their defaults.
type Options struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	MaxBodyBytes int64
	MaxDepth     int
	UserAgent    string

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client issues read-only queries against the API. It is safe for
// concurrent use.
type Client struct {
	base *url.URL
	opts Options
	http *http.Client
	log  *zap.Logger
}

// Response is one decoded API answer.
type Response struct {
	// URL is the request URL with the token redacted.
	URL string

	// Body is the raw response body, kept for error messages.
	Body []byte

	Value jsonvalue.Value
}

// Empty reports whether the API found nothing. The API answers a miss with
// null, the JSON string "null", an empty body or an empty object.
func (r *Response) Empty() bool {
	switch r.Value.Kind() {
	case jsonvalue.KindNull:
		return true
	case jsonvalue.KindString:
		s, _ := r.Value.Str()
		return s == "null"
	case jsonvalue.KindObject:
		return r.Value.Len() == 0
	}
	return false
}

// New creates a client. It fails when the base URL cannot be parsed.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "attackgraph"
	}

	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse API base URL")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("API base URL %q must be http or https", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{base: base, opts: opts, http: hc, log: log.Named("attackapi")}, nil
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Explore fetches a matrix subtree. Empty trailing path parts are dropped, so
// Explore(ctx, "", "", "") lists the matrices.
func (c *Client) Explore(ctx context.Context, matrix, category, id string) (*Response, error) {
	parts := []string{"explore"}
	for _, p := range []string{matrix, category, id} {
		if p == "" {
			break
		}
		parts = append(parts, escapeSegment(p))
	}
	return c.get(ctx, "explore", strings.Join(parts, "/")+"/", nil)
}

// TTPOverlap fetches the actors, malware and tools sharing all given
// techniques.
func (c *Client) TTPOverlap(ctx context.Context, ttps []string) (*Response, error) {
	q := url.Values{}
	for _, t := range ttps {
		q.Add("ttp", t)
	}
	return c.get(ctx, "ttpoverlap", "ttpoverlap/", q)
}

// ActorOverlap fetches the techniques, malware and tools shared by all given
// actors.
func (c *Client) ActorOverlap(ctx context.Context, actors []string) (*Response, error) {
	q := url.Values{}
	for _, a := range actors {
		q.Add("actor", a)
	}
	return c.get(ctx, "actoroverlap", "actoroverlap/", q)
}

// Search runs a free-text search. A nil matrices slice searches all
// matrices.
func (c *Client) Search(ctx context.Context, params []string, matrices []string) (*Response, error) {
	q := url.Values{}
	for _, p := range params {
		q.Add("params", p)
	}
	for _, m := range matrices {
		q.Add("matrix", m)
	}
	return c.get(ctx, "search", "search/", q)
}

// escapeSegment keeps a caller-supplied value inside one path segment.
func escapeSegment(s string) string {
	if s == "." || s == ".." {
		return strings.Repeat("%2E", len(s))
	}
	return url.PathEscape(s)
}

// endpoint joins an already escaped path onto the base URL.
func (c *Client) endpoint(path string, q url.Values) *url.URL {
	u := *c.base
	u.RawPath = strings.TrimRight(c.base.EscapedPath(), "/") + "/" + path
	if unescaped, err := url.PathUnescape(u.RawPath); err == nil {
		u.Path = unescaped
	} else {
		u.Path = u.RawPath
	}
	if c.opts.Token != "" {
		if q == nil {
			q = url.Values{}
		}
		q.Set("token", c.opts.Token)
	}
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return &u
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values) (*Response, error) {
	u := c.endpoint(path, q)
	shown := redact(u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &UpstreamError{Op: op, URL: shown, Err: errors.Wrap(err, "build request")}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: op, URL: shown, Err: errors.Wrap(err, "send request")}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, &UpstreamError{Op: op, URL: shown, StatusCode: resp.StatusCode, Err: errors.Wrap(err, "read body")}
	}

	c.log.Debug("api response",
		zap.String("op", op),
		zap.String("url", shown),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{
			Op:         op,
			URL:        shown,
			StatusCode: resp.StatusCode,
			Err:        errors.Errorf("unexpected status %s: %s", resp.Status, snippet(body)),
		}
	}
	if int64(len(body)) > c.opts.MaxBodyBytes {
		return nil, &UpstreamError{
			Op:         op,
			URL:        shown,
			StatusCode: resp.StatusCode,
			Err:        errors.Errorf("response body exceeds %d bytes", c.opts.MaxBodyBytes),
		}
	}

	v, err := jsonvalue.Parse(body, c.opts.MaxDepth)
	if err != nil {
		if errors.Is(err, jsonvalue.ErrTooDeep) {
			return nil, errors.Wrapf(err, "%s response", op)
		}
		return nil, &UpstreamError{Op: op, URL: shown, StatusCode: resp.StatusCode, Err: errors.Wrap(err, "decode body")}
	}

	return &Response{URL: shown, Body: body, Value: v}, nil
}

func redact(u *url.URL) string {
	q := u.Query()
	if q.Get("token") == "" {
		return u.String()
	}
	q.Set("token", "REDACTED")
	r := *u
	r.RawQuery = q.Encode()
	return r.String()
}

func snippet(body []byte) string {
	const limit = 200
	b := bytes.TrimSpace(body)
	if len(b) > limit {
		return fmt.Sprintf("%s...", b[:limit])
	}
	return string(b)
}
