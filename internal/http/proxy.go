package http

import (
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strings"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"golang.org/x/net/http/httpproxy"

	"github.com/dedupfs/dupview/internal/config"
	"github.com/dedupfs/dupview/internal/constants"
	"github.com/dedupfs/dupview/internal/logging"
)

// newTransport returns the base transport shared by every proxy mode.
func newTransport() *nethttp.Transport {
	return &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   32, // thumbnail polling keeps several requests per host open
		MaxConnsPerHost:       32,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
	}
}

// configureProxy applies the configured proxy mode to transport and returns the
// round tripper to use (NTLM wraps the transport in a negotiator).
func configureProxy(cfg *config.Config, transport *nethttp.Transport, logger *logging.Logger) (nethttp.RoundTripper, error) {
	switch strings.ToLower(cfg.ProxyMode) {
	case "no-proxy", "":
		transport.Proxy = nil
		return transport, nil

	case "system":
		transport.Proxy = nethttp.ProxyFromEnvironment
		return transport, nil

	case "basic", "ntlm":
		// Fall back to a direct connection if the saved config is incomplete
		if cfg.ProxyHost == "" {
			logger.Warnf("proxy mode is %s but host is missing - falling back to no-proxy mode", cfg.ProxyMode)
			transport.Proxy = nil
			return transport, nil
		}
		if cfg.ProxyUser != "" && cfg.ProxyPassword == "" {
			logger.Warnf("proxy user configured but password missing - proxy auth disabled until password is set")
		}

		transport.Proxy = proxyFuncWithBypass(buildProxyURL(cfg), cfg.NoProxy, logger)
		if strings.EqualFold(cfg.ProxyMode, "ntlm") {
			return ntlmssp.Negotiator{RoundTripper: transport}, nil
		}
		return transport, nil

	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", cfg.ProxyMode)
	}
}

// buildProxyURL constructs a proxy URL from config
func buildProxyURL(cfg *config.Config) *url.URL {
	port := cfg.ProxyPort
	if port == 0 {
		port = 8080
	}

	proxyURL := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", cfg.ProxyHost, port),
	}

	// Only embed credentials if both user AND password are provided
	if cfg.ProxyUser != "" && cfg.ProxyPassword != "" {
		proxyURL.User = url.UserPassword(cfg.ProxyUser, cfg.ProxyPassword)
	}

	return proxyURL
}

// proxyFuncWithBypass returns a proxy function that respects the NoProxy bypass list.
// If noProxy is empty, behaves identically to nethttp.ProxyURL.
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string, logger *logging.Logger) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *nethttp.Request) (*url.URL, error) {
		result, err := proxyFunc(req.URL)
		if logger != nil {
			if result == nil {
				logger.Debug().Str("host", req.URL.Host).Msg("proxy bypass (direct connection)")
			} else {
				logger.Debug().Str("host", req.URL.Host).Str("proxy", result.Host).Msg("proxied")
			}
		}
		return result, err
	}
}

// NeedsProxyPassword returns true if the proxy configuration requires a password
// but one has not been provided. Used by the CLI to decide whether to prompt.
func NeedsProxyPassword(cfg *config.Config) bool {
	mode := strings.ToLower(cfg.ProxyMode)
	if mode != "basic" && mode != "ntlm" {
		return false
	}
	return cfg.ProxyUser != "" && cfg.ProxyPassword == ""
}
