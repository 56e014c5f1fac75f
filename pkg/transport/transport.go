package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodySnippet = 4096
	maxBody        = 16 << 20
)

// Response is the raw outcome of a successful GET.
type Response struct {
	StatusCode int
	StatusLine string
	Body       []byte
}

// Client issues GET requests against remote partner endpoints.
type Client struct {
	http    *http.Client
	timeout time.Duration
	maxBody int64

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter // keyed by host
}

type Option func(*Client)

// WithTimeout sets the per-call timeout budget.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit throttles requests per remote host. perSecond <= 0 disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limit = rate.Inf
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limit = rate.Limit(perSecond)
		c.burst = burst
	}
}

// WithMaxBody caps the size of a successful response body.
func WithMaxBody(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		timeout:  defaultTimeout,
		maxBody:  maxBody,
		limit:    rate.Inf,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = newHTTPClient()
	}
	return c
}

func newHTTPClient() *http.Client {
	tr := &http.Transport{
		MaxIdleConns:          20,
		MaxConnsPerHost:       20,
		IdleConnTimeout:       30 * time.Second,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &http.Client{Transport: otelhttp.NewTransport(tr)}
}

func (c *Client) limiter(host string) *rate.Limiter {
	if c.limit == rate.Inf {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.limit, c.burst)
		c.limiters[host] = l
	}
	return l
}

// Get performs an HTTP GET on rawURL with query merged into its query
// string. Any non-2xx answer or network failure is returned as *Error.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: KindOther, URL: rawURL, Err: fmt.Errorf("invalid url: %w", err)}
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	target := u.String()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if l := c.limiter(u.Host); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, &Error{Kind: Classify(err), URL: target, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &Error{Kind: KindOther, URL: target, Err: err}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: Classify(err), URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
		return nil, &Error{
			Kind:       KindHTTPStatus,
			URL:        target,
			StatusCode: resp.StatusCode,
			StatusLine: resp.Status,
			Body:       string(b),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, &Error{Kind: Classify(err), URL: target, Err: fmt.Errorf("reading body: %w", err)}
	}
	if int64(len(body)) > c.maxBody {
		return nil, &Error{Kind: KindOther, URL: target, Err: fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, c.maxBody)}
	}

	slog.Debug("remote GET completed", "host", u.Host, "status", resp.StatusCode, "latency_ms", time.Since(start).Milliseconds())
	return &Response{
		StatusCode: resp.StatusCode,
		StatusLine: resp.Status,
		Body:       body,
	}, nil
}
