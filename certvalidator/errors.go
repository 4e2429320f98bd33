// Package certvalidator checks X.509 certificate chains against a set of
// trust anchors and reports every defect it finds as a VerificationOutcome.
package certvalidator

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Failure kinds. Outcome errors wrap one of these.
var (
	ErrExpiredCertificate           = errors.New("certificate expired")
	ErrNotYetValidCertificate       = errors.New("certificate not yet valid")
	ErrUnsupportedCriticalExtension = errors.New("unsupported critical extension")
	ErrRevokedCertificate           = errors.New("certificate revoked")
	ErrUnverifiableChain            = errors.New("unverifiable chain")
	ErrUntrustedRoot                = errors.New("chain does not end in a trust anchor")
)

// CRLReason represents the reason for certificate revocation.
type CRLReason int

const (
	CRLReasonUnspecified          CRLReason = 0
	CRLReasonKeyCompromise        CRLReason = 1
	CRLReasonCACompromise         CRLReason = 2
	CRLReasonAffiliationChanged   CRLReason = 3
	CRLReasonSuperseded           CRLReason = 4
	CRLReasonCessationOfOperation CRLReason = 5
	CRLReasonCertificateHold      CRLReason = 6
	CRLReasonRemoveFromCRL        CRLReason = 8
	CRLReasonPrivilegeWithdrawn   CRLReason = 9
	CRLReasonAACompromise         CRLReason = 10
)

// String returns a human-readable representation of the CRL reason.
func (r CRLReason) String() string {
	switch r {
	case CRLReasonUnspecified:
		return "unspecified"
	case CRLReasonKeyCompromise:
		return "key compromise"
	case CRLReasonCACompromise:
		return "CA compromise"
	case CRLReasonAffiliationChanged:
		return "affiliation changed"
	case CRLReasonSuperseded:
		return "superseded"
	case CRLReasonCessationOfOperation:
		return "cessation of operation"
	case CRLReasonCertificateHold:
		return "certificate hold"
	case CRLReasonRemoveFromCRL:
		return "remove from CRL"
	case CRLReasonPrivilegeWithdrawn:
		return "privilege withdrawn"
	case CRLReasonAACompromise:
		return "AA compromise"
	default:
		return fmt.Sprintf("unknown reason (%d)", r)
	}
}

// ChainError locates a failure at one position of a chain.
type ChainError struct {
	Index       int
	Certificate *x509.Certificate
	Err         error
}

func (e *ChainError) Error() string {
	if e.Certificate == nil {
		return fmt.Sprintf("chain[%d]: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("chain[%d] %s: %v", e.Index, DescribeCert(e.Certificate), e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }

// RevokedError indicates a certificate has been revoked.
type RevokedError struct {
	Reason       CRLReason
	RevocationDt time.Time
	// Source names the evidence kind, "CRL" or "OCSP".
	Source string
}

// NewRevokedError creates a new RevokedError.
func NewRevokedError(source string, reason CRLReason, revocationDt time.Time) *RevokedError {
	return &RevokedError{Reason: reason, RevocationDt: revocationDt, Source: source}
}

func (e *RevokedError) Error() string {
	return fmt.Sprintf("%s indicates the certificate was revoked at %s on %s, due to %s",
		e.Source, e.RevocationDt.Format("15:04:05"), e.RevocationDt.Format("2006-01-02"), e.Reason)
}

func (e *RevokedError) Unwrap() error { return ErrRevokedCertificate }

// ExpiredError indicates a certificate's validity window closed before the
// reference time.
type ExpiredError struct {
	ExpiredDt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("certificate expired %s", e.ExpiredDt.UTC().Format("2006-01-02 15:04:05Z"))
}

func (e *ExpiredError) Unwrap() error { return ErrExpiredCertificate }

// NotYetValidError indicates a certificate is not yet valid.
type NotYetValidError struct {
	ValidFrom time.Time
}

func (e *NotYetValidError) Error() string {
	return fmt.Sprintf("certificate is not valid until %s", e.ValidFrom.UTC().Format("2006-01-02 15:04:05Z"))
}

func (e *NotYetValidError) Unwrap() error { return ErrNotYetValidCertificate }

// DescribeCert returns a short label for log lines and messages.
func DescribeCert(cert *x509.Certificate) string {
	if cert == nil {
		return "<nil>"
	}
	name := cert.Subject.CommonName
	if name == "" {
		name = cert.Subject.String()
	}
	return fmt.Sprintf("%q (serial %s)", name, cert.SerialNumber)
}
