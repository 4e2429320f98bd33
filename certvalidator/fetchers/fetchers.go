// Package fetchers retrieves CRLs and OCSP responses from the endpoints
// named in certificates, for use when a document carries no revocation
// evidence of its own.
package fetchers

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/georgepadayatti/pdfcrypt/certvalidator/revinfo"
)

// Common errors
var (
	ErrFetchFailed          = errors.New("fetch failed")
	ErrResponseTooLarge     = errors.New("response exceeds size limit")
	ErrNoDistributionPoints = errors.New("no CRL distribution points")
	ErrNoOCSPServers        = errors.New("no OCSP servers")
)

// FetcherConfig configures the fetcher behavior.
type FetcherConfig struct {
	// Timeout applies to a default client; ignored when HTTPClient is set.
	Timeout time.Duration
	// Maximum response size in bytes
	MaxResponseSize int64
	// User-Agent header
	UserAgent string

	// Retry controls how often a failing endpoint is retried. A nil value
	// uses DefaultRetryConfig.
	Retry *RetryConfig

	// HTTPClient allows using a custom HTTP client, for instance one made
	// by NewHTTPClient with a proxy.
	HTTPClient *http.Client

	Logger *logrus.Logger
	Clock  clockwork.Clock
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() *FetcherConfig {
	return &FetcherConfig{
		Timeout:         30 * time.Second,
		MaxResponseSize: 10 * 1024 * 1024, // 10 MB
		UserAgent:       "pdfcrypt-certvalidator/1.0",
	}
}

// Fetcher provides HTTP fetching of revocation material.
type Fetcher struct {
	config *FetcherConfig
	client *http.Client
	log    *logrus.Logger
	clock  clockwork.Clock
}

// NewFetcher creates a new fetcher. Zero fields of config take their
// defaults.
func NewFetcher(config *FetcherConfig) *Fetcher {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = defaults.MaxResponseSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryConfig()
	}

	f := &Fetcher{config: &cfg, client: cfg.HTTPClient, log: cfg.Logger, clock: cfg.Clock}
	if f.client == nil {
		f.client = &http.Client{Timeout: cfg.Timeout}
	}
	if f.log == nil {
		f.log = logrus.New()
		f.log.SetOutput(io.Discard)
	}
	if f.clock == nil {
		f.clock = clockwork.NewRealClock()
	}
	return f
}

// Fetch performs a GET of urlStr, retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) ([]byte, error) {
	if err := checkURL(urlStr); err != nil {
		return nil, err
	}
	return Retry(ctx, f.clock, f.config.Retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, Permanent(fmt.Errorf("%w: %v", ErrFetchFailed, err))
		}
		return f.do(req)
	})
}

// post sends body to urlStr, retrying transient failures.
func (f *Fetcher) post(ctx context.Context, urlStr, contentType string, body []byte) ([]byte, error) {
	if err := checkURL(urlStr); err != nil {
		return nil, err
	}
	return Retry(ctx, f.clock, f.config.Retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(body))
		if err != nil {
			return nil, Permanent(fmt.Errorf("%w: %v", ErrFetchFailed, err))
		}
		req.Header.Set("Content-Type", contentType)
		return f.do(req)
	})
}

func (f *Fetcher) do(req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", f.config.UserAgent)
	f.log.WithFields(logrus.Fields{"method": req.Method, "url": req.URL.String()}).Debug("fetching")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: HTTP %d", ErrFetchFailed, resp.StatusCode)
		// 4xx other than throttling will not improve on retry
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, Permanent(err)
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if int64(len(data)) > f.config.MaxResponseSize {
		return nil, Permanent(ErrResponseTooLarge)
	}
	return data, nil
}

func checkURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", ErrFetchFailed, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme: %s", ErrFetchFailed, parsed.Scheme)
	}
	return nil
}

// FetchCRLs downloads the CRL from every distribution point of cert. It
// fails only when no distribution point yields a parseable CRL.
func (f *Fetcher) FetchCRLs(ctx context.Context, cert *x509.Certificate) ([]*revinfo.CRLInfo, error) {
	if len(cert.CRLDistributionPoints) == 0 {
		return nil, ErrNoDistributionPoints
	}

	var crls []*revinfo.CRLInfo
	var errs error
	for _, dp := range cert.CRLDistributionPoints {
		data, err := f.Fetch(ctx, dp)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", dp, err))
			continue
		}
		crl, err := revinfo.ParseCRL(data)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", dp, err))
			continue
		}
		crls = append(crls, crl)
	}
	if len(crls) == 0 {
		return nil, errs
	}
	if errs != nil {
		f.log.WithError(errs).Warn("some CRL distribution points failed")
	}
	return crls, nil
}

// FetchOCSP queries the OCSP responders of cert in order and returns the
// first parseable response. The response is not checked here.
func (f *Fetcher) FetchOCSP(ctx context.Context, cert, issuer *x509.Certificate) (*revinfo.OCSPInfo, error) {
	if len(cert.OCSPServer) == 0 {
		return nil, ErrNoOCSPServers
	}
	req, err := revinfo.CreateOCSPRequest(cert, issuer, crypto.SHA256)
	if err != nil {
		return nil, err
	}

	var errs error
	for _, server := range cert.OCSPServer {
		data, err := f.post(ctx, server, "application/ocsp-request", req)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		resp, err := revinfo.ParseOCSPResponse(data)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		return resp, nil
	}
	return nil, errs
}

// Collect gathers revocation evidence for every certificate of chain that
// has its issuer in the chain, adding it and the chain itself to archive.
// OCSP is tried first; CRLs are only downloaded when no OCSP response could
// be obtained. Certificates for which nothing could be fetched are reported
// in the returned error, while evidence that was found is kept.
func (f *Fetcher) Collect(ctx context.Context, chain []*x509.Certificate, archive *revinfo.Archive) error {
	var errs error
	for i, cert := range chain {
		archive.AddCertificate(cert)
		if i+1 >= len(chain) {
			break
		}
		issuer := chain[i+1]
		log := f.log.WithField("subject", cert.Subject.String())

		resp, ocspErr := f.FetchOCSP(ctx, cert, issuer)
		if ocspErr == nil {
			log.Debug("fetched OCSP response")
			archive.AddOCSP(resp)
			continue
		}
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}

		crls, crlErr := f.FetchCRLs(ctx, cert)
		if crlErr == nil {
			log.WithField("count", len(crls)).Debug("fetched CRLs")
			for _, crl := range crls {
				archive.AddCRL(crl)
			}
			continue
		}
		log.WithError(multierr.Combine(ocspErr, crlErr)).Warn("no revocation material could be fetched")
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", cert.Subject.CommonName, multierr.Combine(ocspErr, crlErr)))
	}
	return errs
}
