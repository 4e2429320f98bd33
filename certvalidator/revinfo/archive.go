package revinfo

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"sync"
)

// Archive stores parsed revocation evidence and extra certificates, such as
// the contents of a document security store. It is safe for concurrent use.
type Archive struct {
	mu    sync.RWMutex
	crls  []*CRLInfo
	ocsps []*OCSPInfo
	certs map[string]*x509.Certificate
	order []string
}

// NewArchive creates an empty archive.
func NewArchive() *Archive {
	return &Archive{certs: make(map[string]*x509.Certificate)}
}

// AddCRL adds a parsed CRL.
func (a *Archive) AddCRL(info *CRLInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.crls = append(a.crls, info)
}

// AddOCSP adds a parsed OCSP response.
func (a *Archive) AddOCSP(info *OCSPInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ocsps = append(a.ocsps, info)
}

// AddCertificate adds a certificate; duplicates are ignored.
func (a *Archive) AddCertificate(cert *x509.Certificate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := certKey(cert)
	if _, ok := a.certs[key]; ok {
		return
	}
	a.certs[key] = cert
	a.order = append(a.order, key)
}

// AddRaw parses and adds DER certificates, CRLs and OCSP responses. It stops
// at the first item that does not parse.
func (a *Archive) AddRaw(certs, crls, ocsps [][]byte) error {
	for i, der := range certs {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return fmt.Errorf("certificate %d: %w", i, err)
		}
		a.AddCertificate(cert)
	}
	for i, der := range crls {
		info, err := ParseCRL(der)
		if err != nil {
			return fmt.Errorf("CRL %d: %w", i, err)
		}
		a.AddCRL(info)
	}
	for i, der := range ocsps {
		info, err := ParseOCSPResponse(der)
		if err != nil {
			return fmt.Errorf("OCSP response %d: %w", i, err)
		}
		a.AddOCSP(info)
	}
	return nil
}

// CRLsFor returns the CRLs whose issuer name is cert's issuer.
func (a *Archive) CRLsFor(cert *x509.Certificate) []*CRLInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*CRLInfo
	for _, c := range a.crls {
		if bytes.Equal(c.CRL.RawIssuer, cert.RawIssuer) {
			out = append(out, c)
		}
	}
	return out
}

// OCSPFor returns the responses whose serial number is cert's. Whether the
// right issuer signed them is for CheckOCSP to decide.
func (a *Archive) OCSPFor(cert *x509.Certificate) []*OCSPInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*OCSPInfo
	for _, o := range a.ocsps {
		if o.Response.SerialNumber != nil && o.Response.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			out = append(out, o)
		}
	}
	return out
}

// AllCertificates returns the certificates in insertion order.
func (a *Archive) AllCertificates() []*x509.Certificate {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*x509.Certificate, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, a.certs[key])
	}
	return out
}

// RawCRLs returns the DER of every stored CRL.
func (a *Archive) RawCRLs() [][]byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([][]byte, 0, len(a.crls))
	for _, c := range a.crls {
		out = append(out, c.Raw)
	}
	return out
}

// RawOCSPs returns the DER of every stored OCSP response.
func (a *Archive) RawOCSPs() [][]byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([][]byte, 0, len(a.ocsps))
	for _, o := range a.ocsps {
		out = append(out, o.Raw)
	}
	return out
}

func certKey(cert *x509.Certificate) string {
	return fmt.Sprintf("%x:%s", cert.RawIssuer, cert.SerialNumber.String())
}
