// Package revinfo checks certificate revocation status against CRLs and
// OCSP responses. The checks are pure functions of their inputs; fetching
// the evidence is left to the caller.
package revinfo

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/pdfcrypt/certvalidator"
)

// Common errors
var (
	ErrCRLExpired             = errors.New("CRL has expired")
	ErrCRLNotYetValid         = errors.New("CRL is not yet valid")
	ErrOCSPExpired            = errors.New("OCSP response has expired")
	ErrOCSPNotYetValid        = errors.New("OCSP response is not yet valid")
	ErrOCSPUnknown            = errors.New("OCSP responder does not know the certificate")
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrIssuerMismatch         = errors.New("issuer mismatch")
	ErrSerialMismatch         = errors.New("response is for a different certificate")
	ErrResponderNotAuthorized = errors.New("OCSP responder is not authorized by the issuer")
	ErrNoRevocationInfo       = errors.New("no revocation information available")
	ErrDeltaCRL               = errors.New("delta CRL is incomplete without its base CRL")
)

var (
	oidCRLNumber         = asn1.ObjectIdentifier{2, 5, 29, 20}
	oidDeltaCRLIndicator = asn1.ObjectIdentifier{2, 5, 29, 27}
)

// RevocationStatus represents the revocation status of a certificate.
type RevocationStatus int

const (
	StatusUnknown RevocationStatus = iota
	StatusGood
	StatusRevoked
)

// String returns the string representation of a revocation status.
func (s RevocationStatus) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// RevocationInfo contains information about a certificate's revocation status.
type RevocationInfo struct {
	// Status is the revocation status
	Status RevocationStatus
	// RevocationTime is when the certificate was revoked (if revoked)
	RevocationTime *time.Time
	// Reason is the revocation reason (if revoked)
	Reason certvalidator.CRLReason
	// Source indicates where the info came from ("CRL" or "OCSP")
	Source string
	// ProducedAt is when the OCSP response was signed
	ProducedAt time.Time
	ThisUpdate time.Time
	// NextUpdate is nil when the evidence carries none
	NextUpdate *time.Time
	// RawData is the DER of the CRL or OCSP response
	RawData []byte
}

// IsValid reports whether at falls in [ThisUpdate, NextUpdate). Evidence
// without a NextUpdate is never fresh.
func (ri *RevocationInfo) IsValid(at time.Time) bool {
	return freshness(ri.Source, ri.ThisUpdate, ri.NextUpdate, at) == nil
}

// Err returns nil for good status, a *certvalidator.RevokedError for
// revoked status and ErrOCSPUnknown otherwise.
func (ri *RevocationInfo) Err() error {
	switch ri.Status {
	case StatusGood:
		return nil
	case StatusRevoked:
		var at time.Time
		if ri.RevocationTime != nil {
			at = *ri.RevocationTime
		}
		return certvalidator.NewRevokedError(ri.Source, ri.Reason, at)
	default:
		return ErrOCSPUnknown
	}
}

func freshness(source string, thisUpdate time.Time, nextUpdate *time.Time, at time.Time) error {
	notYet, expired := ErrCRLNotYetValid, ErrCRLExpired
	if source == "OCSP" {
		notYet, expired = ErrOCSPNotYetValid, ErrOCSPExpired
	}
	if at.Before(thisUpdate) {
		return fmt.Errorf("%w: thisUpdate %s", notYet, thisUpdate.UTC().Format(time.RFC3339))
	}
	if nextUpdate == nil {
		return fmt.Errorf("%w: no nextUpdate", expired)
	}
	if !at.Before(*nextUpdate) {
		return fmt.Errorf("%w: nextUpdate %s", expired, nextUpdate.UTC().Format(time.RFC3339))
	}
	return nil
}

// CRLInfo contains parsed CRL information.
type CRLInfo struct {
	Raw []byte
	CRL *x509.RevocationList
	// Whether this is a delta CRL
	IsDelta bool
	// Base CRL number (for delta CRLs)
	BaseCRLNumber *big.Int
}

// ParseCRL parses a DER CRL.
func ParseCRL(raw []byte) (*CRLInfo, error) {
	crl, err := x509.ParseRevocationList(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL: %w", err)
	}

	info := &CRLInfo{Raw: raw, CRL: crl}
	for _, ext := range crl.Extensions {
		if ext.Id.Equal(oidDeltaCRLIndicator) {
			info.IsDelta = true
			var base big.Int
			if _, err := asn1.Unmarshal(ext.Value, &base); err == nil {
				info.BaseCRLNumber = &base
			}
			break
		}
	}
	return info, nil
}

func (ci *CRLInfo) nextUpdate() *time.Time {
	if ci.CRL.NextUpdate.IsZero() {
		return nil
	}
	return &ci.CRL.NextUpdate
}

// CheckSignature verifies that issuer signed the CRL.
func (ci *CRLInfo) CheckSignature(issuer *x509.Certificate) error {
	if !bytes.Equal(ci.CRL.RawIssuer, issuer.RawSubject) {
		return fmt.Errorf("%w: CRL issued by %s", ErrIssuerMismatch, ci.CRL.Issuer)
	}
	if err := ci.CRL.CheckSignatureFrom(issuer); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// CheckCertificate looks cert up in the revoked entries.
func (ci *CRLInfo) CheckCertificate(cert *x509.Certificate) *RevocationInfo {
	info := &RevocationInfo{
		Status:     StatusGood,
		Source:     "CRL",
		ThisUpdate: ci.CRL.ThisUpdate,
		NextUpdate: ci.nextUpdate(),
		RawData:    ci.Raw,
	}
	if entry := FindRevokedCertificate(ci.CRL, cert.SerialNumber); entry != nil {
		revTime := entry.RevocationTime
		info.Status = StatusRevoked
		info.RevocationTime = &revTime
		info.Reason = entry.ReasonCode
	}
	return info
}

// CheckCRL reports cert's status according to crl at the reference time.
// The CRL must be signed by issuer. A listed serial number is reported as
// revoked whether or not the CRL is fresh; an unlisted one is good only
// while at lies in [thisUpdate, nextUpdate). Delta CRLs are rejected.
func CheckCRL(crl *CRLInfo, cert, issuer *x509.Certificate, at time.Time) (*RevocationInfo, error) {
	if crl.IsDelta {
		return nil, fmt.Errorf("%w: base CRL number %v", ErrDeltaCRL, crl.BaseCRLNumber)
	}
	if err := crl.CheckSignature(issuer); err != nil {
		return nil, err
	}
	info := crl.CheckCertificate(cert)
	if info.Status == StatusRevoked {
		return info, info.Err()
	}
	if err := freshness("CRL", info.ThisUpdate, info.NextUpdate, at); err != nil {
		return info, err
	}
	return info, nil
}

// VerifyCRL reports whether crl proves cert unrevoked at the reference time.
func VerifyCRL(crl *CRLInfo, cert, issuer *x509.Certificate, at time.Time) bool {
	_, err := CheckCRL(crl, cert, issuer, at)
	return err == nil
}

// OCSPInfo contains a parsed OCSP response.
type OCSPInfo struct {
	Raw      []byte
	Response *ocsp.Response
}

// ParseOCSPResponse parses a DER OCSP response without checking who
// signed it. An embedded responder certificate must have signed the
// response.
func ParseOCSPResponse(raw []byte) (*OCSPInfo, error) {
	resp, err := ocsp.ParseResponse(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OCSP response: %w", err)
	}
	return &OCSPInfo{Raw: raw, Response: resp}, nil
}

// ToRevocationInfo converts the OCSP response to RevocationInfo.
func (oi *OCSPInfo) ToRevocationInfo() *RevocationInfo {
	info := &RevocationInfo{
		Source:     "OCSP",
		ProducedAt: oi.Response.ProducedAt,
		ThisUpdate: oi.Response.ThisUpdate,
		RawData:    oi.Raw,
	}
	if !oi.Response.NextUpdate.IsZero() {
		next := oi.Response.NextUpdate
		info.NextUpdate = &next
	}

	switch oi.Response.Status {
	case ocsp.Good:
		info.Status = StatusGood
	case ocsp.Revoked:
		revokedAt := oi.Response.RevokedAt
		info.Status = StatusRevoked
		info.RevocationTime = &revokedAt
		info.Reason = certvalidator.CRLReason(oi.Response.RevocationReason)
	default:
		info.Status = StatusUnknown
	}
	return info
}

// CheckSigner verifies that the response was signed by issuer, or by a
// delegated responder certificate that issuer issued for OCSP signing and
// that is itself valid at the reference time.
func (oi *OCSPInfo) CheckSigner(issuer *x509.Certificate, at time.Time) error {
	resp := oi.Response
	responder := resp.Certificate
	if responder == nil || bytes.Equal(responder.Raw, issuer.Raw) {
		if err := resp.CheckSignatureFrom(issuer); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil
	}

	if !hasOCSPSigning(responder) {
		return fmt.Errorf("%w: %s lacks the OCSP signing usage", ErrResponderNotAuthorized, certvalidator.DescribeCert(responder))
	}
	outcomes := certvalidator.NewChainVerifier([]*x509.Certificate{issuer}).
		Verify([]*x509.Certificate{responder, issuer}, at)
	if err := outcomes.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrResponderNotAuthorized, err)
	}
	if err := resp.CheckSignatureFrom(responder); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// The parts of ResponseData needed to read back each CertID. Trailing
// fields of a SingleResponse are skipped by encoding/asn1.
type ocspCertID struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	NameHash      []byte
	IssuerKeyHash []byte
	SerialNumber  *big.Int
}

type ocspSingleResponse struct {
	CertID ocspCertID
}

type ocspResponseData struct {
	Version     int `asn1:"optional,default:0,explicit,tag:0"`
	ResponderID asn1.RawValue
	ProducedAt  time.Time `asn1:"generalized"`
	Responses   []ocspSingleResponse
}

// CheckIssuer verifies that the CertID of the response names issuer,
// by both the issuer name hash and the issuer key hash.
func (oi *OCSPInfo) CheckIssuer(issuer *x509.Certificate) error {
	var data ocspResponseData
	if _, err := asn1.Unmarshal(oi.Response.TBSResponseData, &data); err != nil {
		return fmt.Errorf("failed to parse OCSP response data: %w", err)
	}
	var id *ocspCertID
	for i := range data.Responses {
		if data.Responses[i].CertID.SerialNumber.Cmp(oi.Response.SerialNumber) == 0 {
			id = &data.Responses[i].CertID
			break
		}
	}
	if id == nil {
		return ErrSerialMismatch
	}

	hash := oi.Response.IssuerHash
	if !hash.Available() {
		return fmt.Errorf("%w: hash %v not available", ErrIssuerMismatch, hash)
	}
	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(issuer.RawSubjectPublicKeyInfo, &spki); err != nil {
		return fmt.Errorf("failed to parse issuer public key: %w", err)
	}
	h := hash.New()
	h.Write(issuer.RawSubject)
	nameHash := h.Sum(nil)
	h.Reset()
	h.Write(spki.PublicKey.RightAlign())
	keyHash := h.Sum(nil)

	if !bytes.Equal(id.NameHash, nameHash) || !bytes.Equal(id.IssuerKeyHash, keyHash) {
		return fmt.Errorf("%w: response is about a certificate issued by another CA than %s",
			ErrIssuerMismatch, certvalidator.DescribeCert(issuer))
	}
	return nil
}

func hasOCSPSigning(cert *x509.Certificate) bool {
	for _, eku := range cert.ExtKeyUsage {
		if eku == x509.ExtKeyUsageOCSPSigning {
			return true
		}
	}
	return false
}

// CheckOCSP reports cert's status according to resp at the reference time.
// The response must name cert's serial and issuer. Only a good status inside [thisUpdate, nextUpdate) passes; revoked and
// unknown statuses are errors.
func CheckOCSP(resp *OCSPInfo, cert, issuer *x509.Certificate, at time.Time) (*RevocationInfo, error) {
	if resp.Response.SerialNumber == nil || resp.Response.SerialNumber.Cmp(cert.SerialNumber) != 0 {
		return nil, ErrSerialMismatch
	}
	if err := resp.CheckSigner(issuer, at); err != nil {
		return nil, err
	}
	if err := resp.CheckIssuer(issuer); err != nil {
		return nil, err
	}
	info := resp.ToRevocationInfo()
	if info.Status != StatusGood {
		return info, info.Err()
	}
	if err := freshness("OCSP", info.ThisUpdate, info.NextUpdate, at); err != nil {
		return info, err
	}
	return info, nil
}

// VerifyOCSP reports whether resp proves cert good at the reference time.
func VerifyOCSP(resp *OCSPInfo, cert, issuer *x509.Certificate, at time.Time) bool {
	_, err := CheckOCSP(resp, cert, issuer, at)
	return err == nil
}

// CreateOCSPRequest creates an OCSP request for a certificate.
func CreateOCSPRequest(cert, issuer *x509.Certificate, hash crypto.Hash) ([]byte, error) {
	if hash == 0 {
		hash = crypto.SHA256
	}
	return ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: hash})
}

// CRLNumber returns the CRL number from a CRL.
func CRLNumber(crl *x509.RevocationList) *big.Int {
	if crl.Number != nil {
		return crl.Number
	}
	for _, ext := range crl.Extensions {
		if ext.Id.Equal(oidCRLNumber) {
			var num big.Int
			if _, err := asn1.Unmarshal(ext.Value, &num); err == nil {
				return &num
			}
		}
	}
	return nil
}

// RevocationEntry represents a single revocation entry.
type RevocationEntry struct {
	SerialNumber   *big.Int
	RevocationTime time.Time
	ReasonCode     certvalidator.CRLReason
}

// FindRevokedCertificate searches for a certificate in a CRL.
func FindRevokedCertificate(crl *x509.RevocationList, serial *big.Int) *RevocationEntry {
	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(serial) == 0 {
			return &RevocationEntry{
				SerialNumber:   entry.SerialNumber,
				RevocationTime: entry.RevocationTime,
				ReasonCode:     certvalidator.CRLReason(entry.ReasonCode),
			}
		}
	}
	return nil
}
