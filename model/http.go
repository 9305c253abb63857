package model

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewHTTPClient returns a client whose transport is traced with otelhttp.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// StatusError reads a bounded part of a failed response body into an error.
// 429 is mapped to ErrRateLimited so the Embedder can back off.
func StatusError(service string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s status %d: %s", ErrRateLimited, service, resp.StatusCode, string(body))
	}
	return fmt.Errorf("%s API error: status %d, body: %s", service, resp.StatusCode, string(body))
}
