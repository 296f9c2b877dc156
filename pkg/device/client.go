package device

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultRate    = 10
	DefaultBurst   = 4

	retryDelay    = 500 * time.Millisecond
	retryMaxDelay = 5 * time.Second
)

// Getter fetches a single endpoint from the device.
type Getter interface {
	Get(ctx context.Context, p Path, params map[string]string) (*Response, error)
}

// Response is what the device answered. Path is relative to the target with the
// placeholders filled in. Body is fully read.
type Response struct {
	URL         string
	Path        string
	Status      int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

type Client struct {
	base     *url.URL
	http     *http.Client
	rest     *resty.Client
	limit    *rate.Limiter
	log      *zap.Logger
	timeout  time.Duration
	attempts uint
}

type Option func(c *Client) error

// NewClient creates a client for the device at target (see ParseTarget).
func NewClient(target string, opts ...Option) (*Client, error) {
	base, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}

	c := &Client{
		base:     base,
		log:      zap.L(),
		limit:    rate.NewLimiter(rate.Limit(DefaultRate), DefaultBurst),
		http:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout:  DefaultTimeout,
		attempts: 1,
	}

	// apply the options
	for _, o := range opts {
		err := o(c)
		if err != nil {
			return nil, err
		}
	}

	c.rest = resty.NewWithClient(c.http).
		SetBaseURL(base.String()).
		SetLogger(c.log.Sugar()).
		SetHeader("Accept", "application/json, application/javascript")

	return c, nil
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

// WithHTTPClient replaces the traced default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.http = hc
		return nil
	}
}

// WithTimeout bounds every single request, including the wait on the rate limiter.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.timeout = d
		return nil
	}
}

// WithRateLimit throttles requests to perSecond with the given burst. A
// non-positive rate disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) error {
		if perSecond <= 0 {
			c.limit = rate.NewLimiter(rate.Inf, 1)
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		c.limit = rate.NewLimiter(rate.Limit(perSecond), burst)
		return nil
	}
}

// WithAttempts sets how many times a request is tried when the device cannot be
// reached. HTTP responses are never retried, whatever their status.
func WithAttempts(n uint) Option {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("attempts must be at least 1, got %d", n)
		}
		c.attempts = n
		return nil
	}
}

// URL returns the absolute URL of a resolved path on the device.
func (c *Client) URL(path string) string {
	return c.base.String() + path
}

// Get fills the placeholders of p with params and fetches it.
func (c *Client) Get(ctx context.Context, p Path, params map[string]string) (*Response, error) {
	if err := p.Check(params); err != nil {
		return nil, err
	}

	var (
		resp    *Response
		lastErr error
	)
	err := retry.Do(func() error {
		if err := ctx.Err(); err != nil {
			lastErr = err
			return nil
		}
		r, err := c.get(ctx, p, params)
		if err != nil {
			lastErr = err
			return err
		}
		resp, lastErr = r, nil
		return nil
	}, retry.Attempts(c.attempts), retry.Delay(retryDelay), retry.MaxDelay(retryMaxDelay))
	if lastErr != nil {
		return nil, lastErr
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, p Path, params map[string]string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// apply the ratelimit
	err := c.limit.Wait(ctx)
	if err != nil {
		c.log.Error("cannot await rate limit", zap.String("path", string(p)), zap.Error(err))
		return nil, fmt.Errorf("GET %s: %w", p, err)
	}

	c.log.Debug("requesting", zap.String("path", string(p)), zap.Any("params", params))
	r, err := c.rest.R().SetContext(ctx).SetPathParams(params).Get(string(p))
	if err != nil {
		c.log.Warn("request failed", zap.String("path", string(p)), zap.Any("params", params), zap.Error(err))
		return nil, fmt.Errorf("GET %s: %w", p, err)
	}

	u := r.Request.RawRequest.URL
	resp := &Response{
		URL:         u.String(),
		Path:        strings.TrimPrefix(u.EscapedPath(), c.base.EscapedPath()),
		Status:      r.StatusCode(),
		ContentType: r.Header().Get("Content-Type"),
		Body:        r.Body(),
		Duration:    r.Time(),
	}
	c.log.Debug("response",
		zap.String("url", resp.URL),
		zap.Int("status", resp.Status),
		zap.String("contentType", resp.ContentType),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("duration", resp.Duration),
	)
	return resp, nil
}
