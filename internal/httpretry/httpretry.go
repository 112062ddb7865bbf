// Package httpretry is the retrying HTTP wrapper the advisor clients use, so
// their retry policy is parameterised in one place instead of scattered
// inline loops. The news source builds its own retryablehttp client, and the
// Binance price source uses the go-binance client's own HTTP transport.
package httpretry

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/koshedutech/candlewatch/internal/logging"
)

// Client retries 5xx/network errors twice with the 500ms/1000ms backoff
// the error-handling design calls for, and treats 4xx as permanent.
type Client struct {
	inner *retryablehttp.Client
}

// New builds a Client. logger receives one Warn per retry attempt.
func New(logger *logging.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 1000 * time.Millisecond
	rc.Logger = nil
	rc.CheckRetry = retryPolicy
	if logger != nil {
		rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			if attempt > 0 {
				logger.Warn("retrying HTTP request", "url", req.URL.String(), "attempt", attempt)
			}
		}
	}
	return &Client{inner: rc}
}

// retryPolicy retries on network errors and 5xx responses only; 4xx
// responses are permanent failures to the attempt.
func retryPolicy(_ context.Context, resp *http.Response, err error) (bool, error) {
	if err != nil {
		return true, nil
	}
	if resp == nil {
		return true, nil
	}
	if resp.StatusCode == 0 {
		return false, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	if resp.StatusCode >= 400 {
		return false, nil
	}
	return false, nil
}

// StandardClient returns a *http.Client backed by the retry policy above,
// for libraries that want a plain http.Client rather than retryablehttp's
// own Do signature.
func (c *Client) StandardClient() *http.Client {
	return c.inner.StandardClient()
}
