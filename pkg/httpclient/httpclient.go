// Package httpclient builds the outbound clients used for provider and webhook calls.
package httpclient

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// New returns a client bounded by timeout whose requests carry trace context.
// With no tracer provider configured the transport only adds negligible overhead.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// NoRedirects is New, but 3xx answers are returned to the caller as-is.
// Webhook targets must answer directly.
func NoRedirects(timeout time.Duration) *http.Client {
	c := New(timeout)
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return c
}
