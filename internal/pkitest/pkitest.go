// Package pkitest builds throwaway certificate hierarchies, CRLs and OCSP
// responses for tests.
package pkitest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"
)

var serial atomic.Int64

func nextSerial() *big.Int { return big.NewInt(1000 + serial.Add(1)) }

// Epoch is a fixed reference time; default validity windows are centred
// on it.
var Epoch = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

// Entity is a certificate with its private key.
type Entity struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// Option adjusts a certificate template before signing.
type Option func(*x509.Certificate)

// Validity sets the certificate's validity window.
func Validity(notBefore, notAfter time.Time) Option {
	return func(c *x509.Certificate) {
		c.NotBefore, c.NotAfter = notBefore, notAfter
	}
}

// CA makes the certificate a CA able to sign certificates and CRLs.
func CA() Option {
	return func(c *x509.Certificate) {
		c.IsCA = true
		c.BasicConstraintsValid = true
		c.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	}
}

// OCSPSigning adds the OCSP signing extended key usage.
func OCSPSigning() Option {
	return func(c *x509.Certificate) {
		c.ExtKeyUsage = append(c.ExtKeyUsage, x509.ExtKeyUsageOCSPSigning)
	}
}

// Extension adds an extra extension.
func Extension(ext pkix.Extension) Option {
	return func(c *x509.Certificate) {
		c.ExtraExtensions = append(c.ExtraExtensions, ext)
	}
}

// Endpoints sets the CRL distribution point and OCSP server URLs.
func Endpoints(crlURL, ocspURL string) Option {
	return func(c *x509.Certificate) {
		if crlURL != "" {
			c.CRLDistributionPoints = []string{crlURL}
		}
		if ocspURL != "" {
			c.OCSPServer = []string{ocspURL}
		}
	}
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func template(cn string, opts []Option) *x509.Certificate {
	tmpl := &x509.Certificate{
		SerialNumber: nextSerial(),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"pdfcrypt test"}},
		NotBefore:    Epoch.AddDate(-1, 0, 0),
		NotAfter:     Epoch.AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	for _, opt := range opts {
		opt(tmpl)
	}
	return tmpl
}

// NewRoot creates a self-signed CA.
func NewRoot(t testing.TB, cn string, opts ...Option) *Entity {
	t.Helper()
	key := newKey(t)
	tmpl := template(cn, append([]Option{CA()}, opts...))
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		t.Fatalf("create root %s: %v", cn, err)
	}
	return &Entity{Cert: mustParse(t, der), Key: key}
}

// Issue creates a certificate signed by e.
func (e *Entity) Issue(t testing.TB, cn string, opts ...Option) *Entity {
	t.Helper()
	key := newKey(t)
	der, err := x509.CreateCertificate(rand.Reader, template(cn, opts), e.Cert, key.Public(), e.Key)
	if err != nil {
		t.Fatalf("issue %s: %v", cn, err)
	}
	return &Entity{Cert: mustParse(t, der), Key: key}
}

func mustParse(t testing.TB, der []byte) *x509.Certificate {
	t.Helper()
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert
}

// Revoked describes a CRL entry.
func Revoked(cert *x509.Certificate, at time.Time, reason int) x509.RevocationListEntry {
	return x509.RevocationListEntry{SerialNumber: cert.SerialNumber, RevocationTime: at, ReasonCode: reason}
}

// CRL issues a DER revocation list signed by e.
func (e *Entity) CRL(t testing.TB, thisUpdate, nextUpdate time.Time, entries ...x509.RevocationListEntry) []byte {
	t.Helper()
	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    nextSerial(),
		ThisUpdate:                thisUpdate,
		NextUpdate:                nextUpdate,
		RevokedCertificateEntries: entries,
	}, e.Cert, e.Key)
	if err != nil {
		t.Fatalf("create CRL: %v", err)
	}
	return der
}

// OCSPTemplate starts an OCSP response for cert.
func OCSPTemplate(cert *x509.Certificate, status int, thisUpdate, nextUpdate time.Time) ocsp.Response {
	return ocsp.Response{
		Status:       status,
		SerialNumber: cert.SerialNumber,
		ThisUpdate:   thisUpdate,
		NextUpdate:   nextUpdate,
		RevokedAt:    thisUpdate,
	}
}

// OCSP signs tmpl as issuer e. A non-nil responder signs instead, and its
// certificate is embedded as a delegated responder.
func (e *Entity) OCSP(t testing.TB, tmpl ocsp.Response, responder *Entity) []byte {
	t.Helper()
	signer, signerCert := e.Key, e.Cert
	if responder != nil {
		signer, signerCert = responder.Key, responder.Cert
		tmpl.Certificate = responder.Cert
	}
	der, err := ocsp.CreateResponse(e.Cert, signerCert, tmpl, signer)
	if err != nil {
		t.Fatalf("create OCSP response: %v", err)
	}
	return der
}
