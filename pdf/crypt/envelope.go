package crypt

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"go.mozilla.org/pkcs7"
)

var oidEnvelopedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 3}

// ErrInvalidEnvelope is returned for recipient blobs that are not CMS
// EnvelopedData.
var ErrInvalidEnvelope = errors.New("invalid enveloped data")

// EnvelopeOpener decrypts the content of a CMS EnvelopedData blob for one
// recipient.
type EnvelopeOpener interface {
	OpenEnvelope(envelope []byte, cert *x509.Certificate, key crypto.PrivateKey) ([]byte, error)
}

// EnvelopeSealer produces a CMS EnvelopedData blob addressed to every
// certificate in recipients.
type EnvelopeSealer interface {
	SealEnvelope(content []byte, recipients []*x509.Certificate) ([]byte, error)
}

// PKCS7Envelopes implements both directions with go.mozilla.org/pkcs7
// (RSA key transport, AES-256-CBC content encryption).
type PKCS7Envelopes struct{}

// pkcs7 selects the content cipher through a package variable.
var pkcs7Mu sync.Mutex

// OpenEnvelope implements EnvelopeOpener.
func (PKCS7Envelopes) OpenEnvelope(envelope []byte, cert *x509.Certificate, key crypto.PrivateKey) ([]byte, error) {
	p7, err := pkcs7.Parse(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	content, err := p7.Decrypt(cert, key)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}
	return content, nil
}

// SealEnvelope implements EnvelopeSealer.
func (PKCS7Envelopes) SealEnvelope(content []byte, recipients []*x509.Certificate) ([]byte, error) {
	pkcs7Mu.Lock()
	defer pkcs7Mu.Unlock()
	prev := pkcs7.ContentEncryptionAlgorithm
	pkcs7.ContentEncryptionAlgorithm = pkcs7.EncryptionAlgorithmAES256CBC
	defer func() { pkcs7.ContentEncryptionAlgorithm = prev }()

	out, err := pkcs7.Encrypt(content, recipients)
	if err != nil {
		return nil, fmt.Errorf("seal envelope: %w", err)
	}
	return out, nil
}

// RecipientID is the DER encoding of a CMS RecipientIdentifier, either an
// IssuerAndSerialNumber or a [0] SubjectKeyIdentifier.
type RecipientID []byte

// Recipient is one entry of a /Recipients array.
type Recipient struct {
	Envelope []byte
	IDs      []RecipientID
}

type issuerAndSerial struct {
	Issuer asn1.RawValue
	Serial *big.Int
}

// recipientIDsForCert returns the identifiers under which cert may appear.
func recipientIDsForCert(cert *x509.Certificate) []RecipientID {
	var ids []RecipientID
	if der, err := asn1.Marshal(issuerAndSerial{
		Issuer: asn1.RawValue{FullBytes: cert.RawIssuer},
		Serial: cert.SerialNumber,
	}); err == nil {
		ids = append(ids, der)
	}
	if len(cert.SubjectKeyId) > 0 {
		if der, err := asn1.Marshal(asn1.RawValue{
			Class: asn1.ClassContextSpecific, Tag: 0, Bytes: cert.SubjectKeyId,
		}); err == nil {
			ids = append(ids, der)
		}
	}
	return ids
}

// Matches compares the recipient identifiers byte for byte against those of
// cert. Subject names are never consulted.
func (r Recipient) Matches(cert *x509.Certificate) bool {
	for _, want := range recipientIDsForCert(cert) {
		for _, have := range r.IDs {
			if bytes.Equal(want, have) {
				return true
			}
		}
	}
	return false
}

// ParseRecipient extracts the key-transport recipient identifiers from a
// CMS EnvelopedData blob. Other RecipientInfo kinds are skipped.
func ParseRecipient(envelope []byte) (Recipient, error) {
	r := Recipient{Envelope: envelope}

	var ci asn1.RawValue
	if _, err := asn1.Unmarshal(envelope, &ci); err != nil || ci.Tag != asn1.TagSequence {
		return r, fmt.Errorf("%w: not a ContentInfo", ErrInvalidEnvelope)
	}
	var oid asn1.ObjectIdentifier
	rest, err := asn1.Unmarshal(ci.Bytes, &oid)
	if err != nil || !oid.Equal(oidEnvelopedData) {
		return r, fmt.Errorf("%w: content type is not envelopedData", ErrInvalidEnvelope)
	}
	var wrapper, env asn1.RawValue
	if _, err := asn1.Unmarshal(rest, &wrapper); err != nil || wrapper.Class != asn1.ClassContextSpecific {
		return r, fmt.Errorf("%w: missing content", ErrInvalidEnvelope)
	}
	if _, err := asn1.Unmarshal(wrapper.Bytes, &env); err != nil {
		return r, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	var version int
	rest, err = asn1.Unmarshal(env.Bytes, &version)
	if err != nil {
		return r, fmt.Errorf("%w: version: %v", ErrInvalidEnvelope, err)
	}
	var infos asn1.RawValue
	if rest, err = asn1.Unmarshal(rest, &infos); err != nil {
		return r, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if infos.Class == asn1.ClassContextSpecific && infos.Tag == 0 { // originatorInfo
		if _, err = asn1.Unmarshal(rest, &infos); err != nil {
			return r, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
	}
	if infos.Class != asn1.ClassUniversal || infos.Tag != asn1.TagSet {
		return r, fmt.Errorf("%w: recipientInfos is not a SET", ErrInvalidEnvelope)
	}

	for set := infos.Bytes; len(set) > 0; {
		var info asn1.RawValue
		if set, err = asn1.Unmarshal(set, &info); err != nil {
			return r, fmt.Errorf("%w: recipientInfo: %v", ErrInvalidEnvelope, err)
		}
		if info.Class != asn1.ClassUniversal || info.Tag != asn1.TagSequence {
			continue
		}
		var v int
		body, err := asn1.Unmarshal(info.Bytes, &v)
		if err != nil {
			continue
		}
		var rid asn1.RawValue
		if _, err := asn1.Unmarshal(body, &rid); err != nil {
			continue
		}
		r.IDs = append(r.IDs, RecipientID(rid.FullBytes))
	}
	return r, nil
}
