package robusthttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// leveledSlog adapts slog to retryablehttp.LeveledLogger.
type leveledSlog struct {
	inner *slog.Logger
}

// intermediate failures are retried, so they are logged at WARN instead of ERROR
func (l leveledSlog) Error(msg string, keysAndValues ...any) { l.inner.Warn(msg, keysAndValues...) }
func (l leveledSlog) Warn(msg string, keysAndValues ...any)  { l.inner.Warn(msg, keysAndValues...) }
func (l leveledSlog) Info(msg string, keysAndValues ...any)  { l.inner.Info(msg, keysAndValues...) }
func (l leveledSlog) Debug(msg string, keysAndValues ...any) { l.inner.Debug(msg, keysAndValues...) }

type options struct {
	retry   *retryablehttp.Client
	timeout time.Duration
}

type Option func(*options)

func WithMaxRetries(n int) Option {
	return func(o *options) { o.retry.RetryMax = n }
}

func WithRetryWait(waitMin, waitMax time.Duration) Option {
	return func(o *options) {
		o.retry.RetryWaitMin = waitMin
		o.retry.RetryWaitMax = waitMax
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.retry.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: logger}) }
}

// WithTimeout bounds each call, retries included.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.retry.HTTPClient.Transport = rt }
}

// NewClient returns a stdlib *http.Client which retries connection errors and 5xx responses (except 501)
// with backoff. Requests are traced with otelhttp.
//
// Detector calls sit on the request path, so the defaults are tighter than a general purpose
// inter-service client: two retries, and a ten second overall timeout.
func NewClient(opts ...Option) *http.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Transport = otelhttp.NewTransport(cleanhttp.DefaultPooledTransport())
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: slog.Default().With("subsystem", "robusthttp")})
	rc.CheckRetry = RetryPolicy

	o := &options{retry: rc, timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(o)
	}

	client := rc.StandardClient()
	client.Timeout = o.timeout
	return client
}

// RetryPolicy wraps retryablehttp.DefaultRetryPolicy, treating 429 as final so the caller sees the rate
// limit instead of waiting it out.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
