// Package ltv combines chain and revocation checks into a long-term
// validation report, using evidence embedded in a document security store
// or supplied alongside it.
package ltv

import (
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/georgepadayatti/pdfcrypt/certvalidator"
	"github.com/georgepadayatti/pdfcrypt/certvalidator/revinfo"
)

// LTVStatus summarises a report.
type LTVStatus int

const (
	// LTVStatusUnknown indicates nothing was checked
	LTVStatusUnknown LTVStatus = iota
	// LTVStatusEnabled indicates every certificate passed
	LTVStatusEnabled
	// LTVStatusPartial indicates only missing revocation evidence
	LTVStatusPartial
	// LTVStatusExpired indicates a certificate in the chain had expired
	LTVStatusExpired
	// LTVStatusInvalid indicates revocation, a broken chain or an
	// unsupported extension
	LTVStatusInvalid
)

// String returns the string representation of LTV status.
func (s LTVStatus) String() string {
	switch s {
	case LTVStatusEnabled:
		return "enabled"
	case LTVStatusPartial:
		return "partial"
	case LTVStatusExpired:
		return "expired"
	case LTVStatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Assess derives the overall status of an outcome list.
func Assess(outcomes certvalidator.Outcomes) LTVStatus {
	if len(outcomes) == 0 {
		return LTVStatusUnknown
	}
	failures := outcomes.Failures()
	switch {
	case len(failures) == 0:
		return LTVStatusEnabled
	case len(failures) == failures.Count(certvalidator.ResultUnverified):
		return LTVStatusPartial
	case failures.Count(certvalidator.ResultExpired) > 0 &&
		failures.Count(certvalidator.ResultRevoked) == 0 &&
		failures.Count(certvalidator.ResultUntrusted) == 0:
		return LTVStatusExpired
	default:
		return LTVStatusInvalid
	}
}

// Verifier runs chain and revocation checks for every certificate of a
// chain.
type Verifier struct {
	chain *certvalidator.ChainVerifier
	log   *logrus.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger used for debug tracing.
func WithLogger(log *logrus.Logger) Option {
	return func(v *Verifier) {
		if log != nil {
			v.log = log
		}
	}
}

// NewVerifier creates a verifier that checks chains with chain.
func NewVerifier(chain *certvalidator.ChainVerifier, opts ...Option) *Verifier {
	log := logrus.New()
	log.SetOutput(io.Discard)
	v := &Verifier{chain: chain, log: log}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks chain, leaf first, at the reference time and returns the
// outcomes in chain order. Each certificate contributes its chain defects
// followed by its revocation verdict; a certificate with no defects and a
// good revocation status contributes a single OK outcome. Trust anchors
// need no revocation evidence. OCSP evidence is preferred to CRLs; with
// neither the certificate is UNVERIFIED. material may be nil.
func (v *Verifier) Verify(chain []*x509.Certificate, material *revinfo.Archive, at time.Time) certvalidator.Outcomes {
	failures := v.chain.Verify(chain, at)
	if len(chain) == 0 {
		return failures
	}
	if material == nil {
		material = revinfo.NewArchive()
	}

	byIndex := make(map[int]certvalidator.Outcomes)
	for _, f := range failures {
		var chainErr *certvalidator.ChainError
		if errors.As(f.Err, &chainErr) {
			byIndex[chainErr.Index] = append(byIndex[chainErr.Index], f)
		}
	}

	var out certvalidator.Outcomes
	for i, cert := range chain {
		defects := byIndex[i]
		out = append(out, defects...)

		if v.chain.IsAnchor(cert) {
			if len(defects) == 0 {
				out = append(out, certvalidator.VerificationOutcome{
					Certificate: cert,
					Result:      certvalidator.ResultOK,
					Message:     "trust anchor",
				})
			}
			continue
		}

		var issuer *x509.Certificate
		if i+1 < len(chain) {
			issuer = chain[i+1]
		} else if len(defects) > 0 {
			continue
		}
		rev := v.revocation(cert, issuer, material, at)
		if !rev.OK() || len(defects) == 0 {
			out = append(out, rev)
		}
	}
	return out
}

// revocation decides the revocation verdict for cert.
func (v *Verifier) revocation(cert, issuer *x509.Certificate, material *revinfo.Archive, at time.Time) certvalidator.VerificationOutcome {
	log := v.log.WithField("subject", cert.Subject.String())
	if issuer == nil {
		return certvalidator.NewOutcome(cert, fmt.Errorf("%w: issuer not in chain", revinfo.ErrNoRevocationInfo))
	}

	var rejected error
	for _, resp := range material.OCSPFor(cert) {
		info, err := revinfo.CheckOCSP(resp, cert, issuer, at)
		if err == nil {
			log.Debug("OCSP response confirms good status")
			return okOutcome(cert, info)
		}
		if errors.Is(err, certvalidator.ErrRevokedCertificate) {
			log.WithError(err).Debug("OCSP response reports revocation")
			return certvalidator.NewOutcome(cert, err)
		}
		rejected = multierr.Append(rejected, fmt.Errorf("OCSP: %w", err))
	}

	for _, crl := range material.CRLsFor(cert) {
		info, err := revinfo.CheckCRL(crl, cert, issuer, at)
		if err == nil {
			log.Debug("CRL confirms good status")
			return okOutcome(cert, info)
		}
		if errors.Is(err, certvalidator.ErrRevokedCertificate) {
			log.WithError(err).Debug("CRL lists certificate")
			return certvalidator.NewOutcome(cert, err)
		}
		rejected = multierr.Append(rejected, fmt.Errorf("CRL: %w", err))
	}

	if rejected != nil {
		log.WithError(rejected).Debug("no usable revocation evidence")
		return certvalidator.NewOutcome(cert, fmt.Errorf("%w: %v", revinfo.ErrNoRevocationInfo, rejected))
	}
	log.Debug("no revocation evidence")
	return certvalidator.NewOutcome(cert, revinfo.ErrNoRevocationInfo)
}

func okOutcome(cert *x509.Certificate, info *revinfo.RevocationInfo) certvalidator.VerificationOutcome {
	return certvalidator.VerificationOutcome{
		Certificate: cert,
		Result:      certvalidator.ResultOK,
		Message:     fmt.Sprintf("%s reports %s", info.Source, info.Status),
	}
}
