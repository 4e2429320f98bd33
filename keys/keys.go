// Package keys loads certificates, private keys and PKCS#12 credentials for
// public-key decryption and for building the chains handed to the verifier.
package keys

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"go.mozilla.org/pkcs7"
	"software.sslmate.com/src/go-pkcs12"
)

// Common errors
var (
	ErrNoCertFound      = errors.New("no certificate found in data")
	ErrNoKeyFound       = errors.New("no private key found in data")
	ErrUnknownKeyType   = errors.New("unknown private key type")
	ErrInvalidPEMBlock  = errors.New("invalid PEM block")
	ErrDecryptionFailed = errors.New("failed to decrypt private key")
	ErrMultipleCerts    = errors.New("expected exactly one certificate")
	ErrKeyMismatch      = errors.New("private key does not match certificate")
)

// PrivateKey represents a private key usable for decryption or signing.
type PrivateKey interface {
	crypto.Signer
}

// LoadCertFromPemDer loads a single certificate from a PEM or DER encoded file.
func LoadCertFromPemDer(filename string) (*x509.Certificate, error) {
	certs, err := LoadCertsFromPemDer(filename)
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%w: found %d certificates in %s", ErrMultipleCerts, len(certs), filename)
	}
	return certs[0], nil
}

// LoadCertsFromPemDer loads certificates from a PEM, DER or PKCS#7 file.
func LoadCertsFromPemDer(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCertsFromPemDerData(data)
}

// LoadCertsFromPemDerData loads certificates from PEM or DER encoded data.
// Both forms may hold a PKCS#7 certificate bundle instead of bare
// certificates.
func LoadCertsFromPemDerData(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}

			switch block.Type {
			case "CERTIFICATE":
				cert, err := x509.ParseCertificate(block.Bytes)
				if err != nil {
					return nil, fmt.Errorf("failed to parse certificate: %w", err)
				}
				certs = append(certs, cert)
			case "PKCS7", "CERTIFICATES":
				bundle, err := parseBundle(block.Bytes)
				if err != nil {
					return nil, err
				}
				certs = append(certs, bundle...)
			}
		}
	} else if len(data) > 0 {
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			bundle, bundleErr := parseBundle(data)
			if bundleErr != nil {
				return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
			}
			parsed = bundle
		}
		certs = parsed
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

func parseBundle(der []byte) ([]*x509.Certificate, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKCS#7 bundle: %w", err)
	}
	return p7.Certificates, nil
}

// LoadCertsFromPemDerFiles loads certificates from multiple files.
func LoadCertsFromPemDerFiles(filenames []string) ([]*x509.Certificate, error) {
	var allCerts []*x509.Certificate
	for _, filename := range filenames {
		certs, err := LoadCertsFromPemDer(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load certs from %s: %w", filename, err)
		}
		allCerts = append(allCerts, certs...)
	}
	return allCerts, nil
}

// LoadPrivateKeyFromPemDer loads a private key from a PEM or DER encoded file.
func LoadPrivateKeyFromPemDer(filename string, passphrase []byte) (PrivateKey, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadPrivateKeyFromPemDerData(data, passphrase)
}

// LoadPrivateKeyFromPemDerData loads a private key from PEM or DER encoded data.
func LoadPrivateKeyFromPemDerData(data []byte, passphrase []byte) (PrivateKey, error) {
	if isPEM(data) {
		return loadPrivateKeyFromPEM(data, passphrase)
	}
	return loadPrivateKeyFromDER(data)
}

func loadPrivateKeyFromPEM(data []byte, passphrase []byte) (PrivateKey, error) {
	rest := data
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			continue
		}

		keyBytes := block.Bytes
		if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
			if passphrase == nil {
				return nil, fmt.Errorf("%w: key is encrypted but no passphrase provided", ErrDecryptionFailed)
			}
			var err error
			keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
			}
		}
		return parsePrivateKeyByType(block.Type, keyBytes)
	}
	return nil, ErrInvalidPEMBlock
}

func loadPrivateKeyFromDER(data []byte) (PrivateKey, error) {
	if key, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		return toPrivateKey(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(data); err == nil {
		return key, nil
	}
	return nil, ErrNoKeyFound
}

func parsePrivateKeyByType(blockType string, keyBytes []byte) (PrivateKey, error) {
	switch blockType {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(keyBytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(keyBytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		return toPrivateKey(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, blockType)
	}
}

func toPrivateKey(key interface{}) (PrivateKey, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
}

func isPEM(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("-----BEGIN"))
}

// KeyInfo contains information about a private key.
type KeyInfo struct {
	// Algorithm is the key algorithm (RSA, ECDSA, Ed25519)
	Algorithm string

	// BitSize is the key size in bits (for RSA)
	BitSize int

	// Curve is the elliptic curve name (for ECDSA)
	Curve string
}

// String renders the info for log output.
func (ki KeyInfo) String() string {
	switch {
	case ki.BitSize > 0:
		return fmt.Sprintf("%s-%d", ki.Algorithm, ki.BitSize)
	case ki.Curve != "":
		return fmt.Sprintf("%s %s", ki.Algorithm, ki.Curve)
	default:
		return ki.Algorithm
	}
}

// GetKeyInfo returns information about a private key.
func GetKeyInfo(key crypto.PrivateKey) KeyInfo {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return KeyInfo{Algorithm: "RSA", BitSize: k.N.BitLen()}
	case *ecdsa.PrivateKey:
		return KeyInfo{Algorithm: "ECDSA", Curve: k.Curve.Params().Name}
	case ed25519.PrivateKey:
		return KeyInfo{Algorithm: "Ed25519"}
	default:
		return KeyInfo{Algorithm: "Unknown"}
	}
}

// Credential is a recipient certificate with its private key, as needed to
// open a public-key encrypted document.
type Credential struct {
	Certificate *x509.Certificate
	PrivateKey  PrivateKey
	// CACerts are any further certificates shipped with the credential.
	CACerts []*x509.Certificate
}

// Chain returns the certificate followed by CACerts.
func (c *Credential) Chain() []*x509.Certificate {
	return append([]*x509.Certificate{c.Certificate}, c.CACerts...)
}

// LoadPKCS12 loads a credential from a PKCS#12 (.p12/.pfx) file.
func LoadPKCS12(filename, password string) (*Credential, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadPKCS12Data(data, password)
}

// LoadPKCS12Data decodes a PKCS#12 archive.
func LoadPKCS12Data(data []byte, password string) (*Credential, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
		return nil, fmt.Errorf("failed to decode PKCS#12: %w", err)
	}
	signer, err := toPrivateKey(key)
	if err != nil {
		return nil, err
	}
	cred := &Credential{Certificate: cert, PrivateKey: signer, CACerts: caCerts}
	if err := cred.check(); err != nil {
		return nil, err
	}
	return cred, nil
}

// LoadCredential loads a certificate and matching private key from
// separate PEM or DER files.
func LoadCredential(certFile, keyFile string, passphrase []byte) (*Credential, error) {
	certs, err := LoadCertsFromPemDer(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	key, err := LoadPrivateKeyFromPemDer(keyFile, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	cred := &Credential{Certificate: certs[0], PrivateKey: key, CACerts: certs[1:]}
	if err := cred.check(); err != nil {
		return nil, err
	}
	return cred, nil
}

func (c *Credential) check() error {
	pub, ok := c.PrivateKey.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(c.Certificate.PublicKey) {
		return fmt.Errorf("%w: %s", ErrKeyMismatch, c.Certificate.Subject)
	}
	return nil
}

// BuildChain orders a chain from leaf towards its root using the loose
// certificates in pool. Each link must carry a valid signature from the
// next certificate. The walk stops at a self-signed certificate or when no
// issuer can be found, so the result may be incomplete.
func BuildChain(leaf *x509.Certificate, pool []*x509.Certificate) []*x509.Certificate {
	chain := []*x509.Certificate{leaf}
	seen := map[string]bool{string(leaf.Raw): true}
	for current := leaf; !isSelfSigned(current); {
		var next *x509.Certificate
		for _, candidate := range pool {
			if seen[string(candidate.Raw)] || !bytes.Equal(current.RawIssuer, candidate.RawSubject) {
				continue
			}
			if current.CheckSignatureFrom(candidate) == nil {
				next = candidate
				break
			}
		}
		if next == nil {
			break
		}
		chain = append(chain, next)
		seen[string(next.Raw)] = true
		current = next
	}
	return chain
}

func isSelfSigned(cert *x509.Certificate) bool {
	return bytes.Equal(cert.RawSubject, cert.RawIssuer) && cert.CheckSignatureFrom(cert) == nil
}
