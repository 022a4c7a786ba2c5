package http

import (
	"context"
	"crypto/tls"
	nethttp "net/http"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http2"

	"github.com/dedupfs/dupview/internal/config"
	"github.com/dedupfs/dupview/internal/constants"
	"github.com/dedupfs/dupview/internal/logging"
)

// NewClient creates the HTTP client used for every catalog API call.
//
// Key features:
//   - Proxy support (no-proxy, system, basic, ntlm) with a no_proxy bypass list
//   - HTTP/2 when talking to the server directly (DISABLE_HTTP2=true forces HTTP/1.1)
//   - Transport-level retries of connection errors and 5xx responses via go-retryablehttp
//
// 429 and 503 are never retried here. Those are admission signals that the
// thumbnail request layer backs off from itself, and list loads surface them
// to the caller so the "load more" affordance can retry.
func NewClient(cfg *config.Config, logger *logging.Logger) (*nethttp.Client, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	tr := newTransport()
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	proxyActive := cfg.ProxyMode != "" && cfg.ProxyMode != "no-proxy"
	if os.Getenv("DISABLE_HTTP2") == "true" || proxyActive {
		// Proxies often mishandle HTTP/2 multiplexing
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	rt, err := configureProxy(cfg, tr, logger)
	if err != nil {
		return nil, err
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &nethttp.Client{
		Transport: rt,
		Timeout:   constants.HTTPRequestTimeout,
	}
	retryClient.RetryMax = constants.TransportRetryMax
	retryClient.RetryWaitMin = constants.TransportRetryWaitMin
	retryClient.RetryWaitMax = constants.TransportRetryWaitMax
	retryClient.CheckRetry = CheckRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = logger.KV()

	return retryClient.StandardClient(), nil
}

// CheckRetry is the transport retry policy: the default go-retryablehttp policy
// minus the admission statuses (429, 503) that callers handle themselves.
func CheckRetry(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil && IsAdmissionStatus(resp.StatusCode) {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// IsAdmissionStatus reports the statuses the server uses to refuse work for now.
func IsAdmissionStatus(code int) bool {
	return code == nethttp.StatusTooManyRequests || code == nethttp.StatusServiceUnavailable
}
