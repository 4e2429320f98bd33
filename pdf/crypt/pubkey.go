package crypt

import (
	"crypto"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"github.com/sirupsen/logrus"
)

// seedLength is the size of the random seed inside each envelope.
const seedLength = 20

// PubKeyHandler implements certificate-based security (/Filter
// /Adobe.PubSec).
type PubKeyHandler struct {
	dict *EncryptionDictionary
	cfg  handlerConfig
}

// NewPubKeyHandler creates a handler for a parsed dictionary.
func NewPubKeyHandler(dict *EncryptionDictionary, opts ...HandlerOption) (*PubKeyHandler, error) {
	if dict.Filter != FilterPubSec {
		return nil, fmt.Errorf("%w: /Filter %s is not public-key security", ErrUnsupportedEncryption, dict.Filter)
	}
	return &PubKeyHandler{dict: dict, cfg: newHandlerConfig(opts)}, nil
}

// Dictionary implements SecurityHandler.
func (h *PubKeyHandler) Dictionary() *EncryptionDictionary { return h.dict }

func (h *PubKeyHandler) securityHandler() {}

// Unlock finds the recipient entry addressed to cert, opens its envelope
// with key and derives the file key from the enclosed seed.
func (h *PubKeyHandler) Unlock(cert *x509.Certificate, key crypto.PrivateKey) (*DocumentKey, error) {
	method := h.dict.StreamFilter().Method
	if method == MethodNone {
		method = h.dict.StringFilter().Method
	}
	if err := h.cfg.provider.checkPubKey(method); err != nil {
		return nil, err
	}

	log := h.cfg.log.WithFields(logrus.Fields{
		"handler": FilterPubSec,
		"subject": cert.Subject.String(),
		"serial":  cert.SerialNumber.String(),
	})

	recipients := h.dict.RecipientList()
	for i, r := range recipients {
		if !r.Matches(cert) {
			continue
		}
		content, err := h.cfg.envelope.OpenEnvelope(r.Envelope, cert, key)
		if err != nil {
			return nil, fmt.Errorf("recipient %d: %w", i, err)
		}
		if len(content) < seedLength {
			return nil, fmt.Errorf("recipient %d: %w: envelope holds %d bytes", i, ErrInvalidEnvelope, len(content))
		}
		perms := h.dict.Permissions()
		if len(content) >= seedLength+4 {
			perms = PermissionsFromWire(int32(binary.BigEndian.Uint32(content[seedLength : seedLength+4])))
		}
		log.WithField("recipient", i).Debug("recipient matched")
		fileKey := derivePubKeyFileKey(h.dict, content[:seedLength], recipients)
		return newDocumentKey(fileKey, h.dict, AuthUser, perms, h.cfg.provider.random()), nil
	}

	log.Debug("no recipient entry for certificate")
	return nil, ErrNoMatchingRecipient
}

// derivePubKeyFileKey hashes the seed, every recipient blob and the metadata
// marker. SHA-256 is used from /V 5 on, SHA-1 before.
func derivePubKeyFileKey(dict *EncryptionDictionary, seed []byte, recipients []Recipient) []byte {
	var h hash.Hash
	if dict.V >= 5 {
		h = sha256.New()
	} else {
		h = sha1.New()
	}
	h.Write(seed)
	for _, r := range recipients {
		h.Write(r.Envelope)
	}
	if !dict.EncryptMetadata {
		h.Write(metadataMarker)
	}
	return h.Sum(nil)[:dict.keyLength()]
}

// PubKeyOptions describes a new certificate-secured document.
type PubKeyOptions struct {
	Permissions Permissions
	// Method defaults to AESV3.
	Method CryptMethod
	// KeyLength in bytes, for RC4 only. Defaults to 16.
	KeyLength         int
	PlaintextMetadata bool
}

// EncryptForRecipients builds the encryption dictionary and file key for a
// new document readable by every certificate in certs.
func EncryptForRecipients(certs []*x509.Certificate, opts PubKeyOptions, hopts ...HandlerOption) (*EncryptionDictionary, *DocumentKey, error) {
	if len(certs) == 0 {
		return nil, nil, fmt.Errorf("%w: no recipient certificates", ErrMalformedEncryption)
	}
	cfg := newHandlerConfig(hopts)
	rnd := cfg.provider.random()

	method := opts.Method
	if method == "" {
		method = MethodAESV3
	}
	if err := cfg.provider.checkPubKey(method); err != nil {
		return nil, nil, err
	}

	d := &EncryptionDictionary{
		Filter:          FilterPubSec,
		SubFilter:       SubFilterS5,
		P:               opts.Permissions.Wire(),
		EncryptMetadata: !opts.PlaintextMetadata,
		CryptFilters:    map[string]CryptFilter{},
	}
	keyLen := method.DefaultKeyLength()
	switch method {
	case MethodRC4:
		d.V = 4
		keyLen = opts.KeyLength
		if keyLen == 0 {
			keyLen = 16
		}
	case MethodAESV2:
		d.V = 4
	case MethodAESV3:
		d.V = 5
	case MethodAESV4:
		d.V = 6
	default:
		return nil, nil, fmt.Errorf("%w: %s for public-key security", ErrUnsupportedEncryption, method)
	}
	if err := method.CheckKeyLength(keyLen); err != nil {
		return nil, nil, err
	}
	d.Length = keyLen * 8

	content := make([]byte, seedLength+4)
	if _, err := io.ReadFull(rnd, content[:seedLength]); err != nil {
		return nil, nil, fmt.Errorf("generate seed: %w", err)
	}
	binary.BigEndian.PutUint32(content[seedLength:], uint32(d.P))
	envelope, err := cfg.envelope.SealEnvelope(content, certs)
	if err != nil {
		return nil, nil, err
	}
	recipient, err := ParseRecipient(envelope)
	if err != nil {
		return nil, nil, err
	}

	d.CryptFilters[PubKeyFilterName] = CryptFilter{
		Method:     method,
		Length:     keyLen,
		AuthEvent:  authEventDocOpen,
		Recipients: []Recipient{recipient},
	}
	d.StmF, d.StrF, d.EFF = PubKeyFilterName, PubKeyFilterName, PubKeyFilterName

	key := derivePubKeyFileKey(d, content[:seedLength], d.RecipientList())
	cfg.log.WithFields(logrus.Fields{
		"method":     method,
		"recipients": len(certs),
	}).Debug("created public-key encryption dictionary")
	return d, newDocumentKey(key, d, AuthOwner, opts.Permissions, rnd), nil
}
