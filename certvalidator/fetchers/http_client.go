package fetchers

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// HTTPClientConfig holds the transport settings for revocation endpoints.
type HTTPClientConfig struct {
	// Timeout is the overall request timeout.
	Timeout time.Duration

	// ProxyURL overrides the proxy taken from the environment.
	ProxyURL string

	// MinTLSVersion defaults to TLS 1.2.
	MinTLSVersion uint16

	DialTimeout time.Duration

	// MaxRedirects bounds redirects per request; CRL distribution
	// points frequently redirect to a CDN. Zero means 5.
	MaxRedirects int
}

// DefaultHTTPClientConfig returns the settings used when none are given.
func DefaultHTTPClientConfig() *HTTPClientConfig {
	return &HTTPClientConfig{
		Timeout:       30 * time.Second,
		MinTLSVersion: tls.VersionTLS12,
		DialTimeout:   10 * time.Second,
		MaxRedirects:  5,
	}
}

var errRedirect = errors.New("redirect rejected")

// checkRedirect allows at most max hops and only to http or https.
func checkRedirect(max int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return fmt.Errorf("%w: more than %d redirects", errRedirect, max)
		}
		if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
			return fmt.Errorf("%w: scheme %q", errRedirect, req.URL.Scheme)
		}
		return nil
	}
}

// NewHTTPClient builds the client used for CRL and OCSP endpoints.
func NewHTTPClient(config *HTTPClientConfig) (*http.Client, error) {
	if config == nil {
		config = DefaultHTTPClientConfig()
	}
	minVersion := config.MinTLSVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}

	dialer := &net.Dialer{
		Timeout:   config.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: minVersion},
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if config.ProxyURL != "" {
		proxyURL, err := url.Parse(config.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		if proxyURL.Scheme == "" || proxyURL.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q", config.ProxyURL)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	maxRedirects := config.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 5
	}
	return &http.Client{
		Transport:     transport,
		Timeout:       config.Timeout,
		CheckRedirect: checkRedirect(maxRedirects),
	}, nil
}
