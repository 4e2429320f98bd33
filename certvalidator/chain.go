package certvalidator

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// ChainVerifier checks ordered chains, leaf first, against a fixed set of
// trust anchors. It holds no per-call state and may be shared.
type ChainVerifier struct {
	anchors   []*x509.Certificate
	supported map[string]bool
	log       *logrus.Logger
}

// Option configures a ChainVerifier.
type Option func(*ChainVerifier)

// WithLogger sets the logger used for debug tracing.
func WithLogger(log *logrus.Logger) Option {
	return func(v *ChainVerifier) {
		if log != nil {
			v.log = log
		}
	}
}

// WithSupportedExtensions marks critical extensions the caller handles
// itself, on top of those crypto/x509 understands.
func WithSupportedExtensions(oids ...asn1.ObjectIdentifier) Option {
	return func(v *ChainVerifier) {
		for _, oid := range oids {
			v.supported[oid.String()] = true
		}
	}
}

// NewChainVerifier creates a verifier trusting exactly anchors.
func NewChainVerifier(anchors []*x509.Certificate, opts ...Option) *ChainVerifier {
	log := logrus.New()
	log.SetOutput(io.Discard)
	v := &ChainVerifier{
		anchors:   anchors,
		supported: map[string]bool{},
		log:       log,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Anchors returns the trusted certificates.
func (v *ChainVerifier) Anchors() []*x509.Certificate { return v.anchors }

// IsAnchor reports whether cert is byte-for-byte one of the anchors.
func (v *ChainVerifier) IsAnchor(cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	for _, a := range v.anchors {
		if bytes.Equal(a.Raw, cert.Raw) {
			return true
		}
	}
	return false
}

// Verify walks chain at the reference time and returns one outcome per
// defect found. An empty result means the chain is trusted. Checking does
// not stop at the first failure. An empty chain yields a single UNVERIFIED
// outcome.
func (v *ChainVerifier) Verify(chain []*x509.Certificate, at time.Time) Outcomes {
	if len(chain) == 0 {
		return Outcomes{{
			Result:  ResultUnverified,
			Message: "no certificates to verify",
			Err:     fmt.Errorf("%w: empty chain", ErrUnverifiableChain),
		}}
	}

	var out Outcomes
	fail := func(i int, result Result, err error) {
		v.log.WithFields(logrus.Fields{
			"index":   i,
			"subject": chain[i].Subject.String(),
			"result":  result,
		}).Debug(err)
		out = append(out, VerificationOutcome{
			Certificate: chain[i],
			Result:      result,
			Message:     err.Error(),
			Err:         &ChainError{Index: i, Certificate: chain[i], Err: err},
		})
	}

	last := len(chain) - 1
	for i := 0; i < last; i++ {
		cert := chain[i]
		if err := checkValidity(cert, at); err != nil {
			fail(i, ResultExpired, err)
		}
		for _, err := range checkIssuer(chain, i) {
			fail(i, ResultUntrusted, err)
		}
		for _, oid := range v.unsupportedCritical(cert) {
			fail(i, ResultUnsupportedExtension, fmt.Errorf("%w: %s", ErrUnsupportedCriticalExtension, oid))
		}
	}

	if !v.IsAnchor(chain[last]) {
		fail(last, ResultUntrusted, ErrUntrustedRoot)
	}
	return out
}

// checkIssuer reports every reason chain[i+1] cannot have issued chain[i].
func checkIssuer(chain []*x509.Certificate, i int) []error {
	cert, issuer := chain[i], chain[i+1]
	var errs []error
	if !bytes.Equal(cert.RawIssuer, issuer.RawSubject) {
		errs = append(errs, fmt.Errorf("%w: issuer name %q does not match %s",
			ErrUnverifiableChain, cert.Issuer.String(), DescribeCert(issuer)))
	}
	if !issuer.BasicConstraintsValid || !issuer.IsCA {
		errs = append(errs, fmt.Errorf("%w: %s is not a CA", ErrUnverifiableChain, DescribeCert(issuer)))
	}
	if issuer.KeyUsage != 0 && issuer.KeyUsage&x509.KeyUsageCertSign == 0 {
		errs = append(errs, fmt.Errorf("%w: %s may not sign certificates", ErrUnverifiableChain, DescribeCert(issuer)))
	}
	if issuer.MaxPathLen > 0 || issuer.MaxPathLenZero {
		// intermediates between the leaf and issuer, self-issued ones excluded
		depth := 0
		for _, c := range chain[1 : i+1] {
			if !bytes.Equal(c.RawIssuer, c.RawSubject) {
				depth++
			}
		}
		if depth > issuer.MaxPathLen {
			errs = append(errs, fmt.Errorf("%w: path length %d exceeds %d allowed by %s",
				ErrUnverifiableChain, depth, issuer.MaxPathLen, DescribeCert(issuer)))
		}
	}
	if err := issuer.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		errs = append(errs, fmt.Errorf("%w: not signed by %s: %v", ErrUnverifiableChain, DescribeCert(issuer), err))
	}
	return errs
}

func checkValidity(cert *x509.Certificate, at time.Time) error {
	if at.Before(cert.NotBefore) {
		return &NotYetValidError{ValidFrom: cert.NotBefore}
	}
	if at.After(cert.NotAfter) {
		return &ExpiredError{ExpiredDt: cert.NotAfter}
	}
	return nil
}

func (v *ChainVerifier) unsupportedCritical(cert *x509.Certificate) []asn1.ObjectIdentifier {
	var out []asn1.ObjectIdentifier
	for _, oid := range cert.UnhandledCriticalExtensions {
		if !v.supported[oid.String()] {
			out = append(out, oid)
		}
	}
	return out
}

// ResultFor maps an error from this package or revinfo onto a Result.
func ResultFor(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrRevokedCertificate):
		return ResultRevoked
	case errors.Is(err, ErrExpiredCertificate), errors.Is(err, ErrNotYetValidCertificate):
		return ResultExpired
	case errors.Is(err, ErrUnsupportedCriticalExtension):
		return ResultUnsupportedExtension
	case errors.Is(err, ErrUnverifiableChain), errors.Is(err, ErrUntrustedRoot):
		return ResultUntrusted
	default:
		return ResultUnverified
	}
}
