package crypt

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// StandardHandler implements password-based security (/Filter /Standard).
type StandardHandler struct {
	dict   *EncryptionDictionary
	fileID []byte
	cfg    handlerConfig
}

// NewStandardHandler creates a handler for a parsed dictionary. fileID is
// required for revisions 2-4.
func NewStandardHandler(dict *EncryptionDictionary, fileID []byte, opts ...HandlerOption) (*StandardHandler, error) {
	if dict.Filter != FilterStandard {
		return nil, fmt.Errorf("%w: /Filter %s is not password security", ErrUnsupportedEncryption, dict.Filter)
	}
	if dict.R <= 4 && len(fileID) == 0 {
		return nil, fmt.Errorf("%w: revision %d needs the file identifier", ErrMalformedEncryption, dict.R)
	}
	return &StandardHandler{dict: dict, fileID: fileID, cfg: newHandlerConfig(opts)}, nil
}

// Dictionary implements SecurityHandler.
func (h *StandardHandler) Dictionary() *EncryptionDictionary { return h.dict }

func (h *StandardHandler) securityHandler() {}

func (h *StandardHandler) logger() *logrus.Entry {
	return h.cfg.log.WithFields(logrus.Fields{
		"handler":  FilterStandard,
		"revision": h.dict.R,
	})
}

// Authenticate tries password as the owner password, then as the user
// password.
func (h *StandardHandler) Authenticate(password string) (*DocumentKey, error) {
	if key, err := h.AuthenticateOwner(password); err == nil {
		return key, nil
	} else if !errors.Is(err, ErrInvalidPassword) {
		return nil, err
	}
	key, err := h.AuthenticateUser(password)
	if err != nil {
		h.logger().Debug("password rejected")
		return nil, err
	}
	return key, nil
}

// AuthenticateOwner checks an owner password.
func (h *StandardHandler) AuthenticateOwner(password string) (*DocumentKey, error) {
	if h.dict.Modern() {
		pw := modernPassword(password)
		key, ok := modernUnwrap(h.dict.R, pw, h.dict.O, h.dict.OE, h.dict.U)
		if !ok {
			return nil, ErrInvalidPassword
		}
		return h.finishModern(key, AuthOwner)
	}

	userPw := legacyUserPasswordFromOwner(legacyPassword(password), h.dict.O, h.dict.R, h.dict.keyLength())
	key, ok := h.checkLegacyUser(userPw)
	if !ok {
		return nil, ErrInvalidPassword
	}
	h.logger().Debug("owner password accepted")
	return newDocumentKey(key, h.dict, AuthOwner, h.dict.Permissions(), h.cfg.provider.random()), nil
}

// AuthenticateUser checks a user password.
func (h *StandardHandler) AuthenticateUser(password string) (*DocumentKey, error) {
	if h.dict.Modern() {
		pw := modernPassword(password)
		key, ok := modernUnwrap(h.dict.R, pw, h.dict.U, h.dict.UE, nil)
		if !ok {
			return nil, ErrInvalidPassword
		}
		return h.finishModern(key, AuthUser)
	}

	key, ok := h.checkLegacyUser(legacyPassword(password))
	if !ok {
		return nil, ErrInvalidPassword
	}
	h.logger().Debug("user password accepted")
	return newDocumentKey(key, h.dict, AuthUser, h.dict.Permissions(), h.cfg.provider.random()), nil
}

func (h *StandardHandler) checkLegacyUser(password []byte) ([]byte, bool) {
	key := legacyFileKey(password, h.legacyInput())
	expected := legacyUserValue(key, h.dict.R, h.fileID)
	n := 32
	if h.dict.R >= 3 {
		n = 16
	}
	return key, constantTimeEqual(expected[:n], h.dict.U[:n])
}

func (h *StandardHandler) legacyInput() legacyInput {
	return legacyInput{
		revision:        h.dict.R,
		keyLength:       h.dict.keyLength(),
		owner:           h.dict.O,
		permissions:     h.dict.P,
		fileID:          h.fileID,
		encryptMetadata: h.dict.EncryptMetadata,
	}
}

func (h *StandardHandler) finishModern(key []byte, status AuthStatus) (*DocumentKey, error) {
	if h.dict.R >= 6 {
		if err := checkPerms(key, h.dict.Perms, h.dict.P, h.dict.EncryptMetadata); err != nil {
			h.logger().WithError(err).Warn("/Perms check failed")
			return nil, err
		}
	}
	h.logger().WithField("status", status).Debug("password accepted")
	return newDocumentKey(key, h.dict, status, h.dict.Permissions(), h.cfg.provider.random()), nil
}

func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// StandardOptions describes a new password-secured document.
type StandardOptions struct {
	OwnerPassword string
	UserPassword  string
	Permissions   Permissions
	// Revision is 2-6, or 7 for AES-GCM.
	Revision int
	// Method overrides the revision default for revision 4 (V2 or AESV2).
	Method CryptMethod
	// KeyLength in bytes for revisions 3 and 4 with RC4. Defaults to 16.
	KeyLength int
	// PlaintextMetadata leaves the XMP metadata stream unencrypted.
	PlaintextMetadata bool
	// FileID is the first /ID element; required for revisions 2-4.
	FileID []byte
}

// EncryptNewDocument builds the encryption dictionary and file key for a
// new password-secured document.
func EncryptNewDocument(opts StandardOptions, hopts ...HandlerOption) (*EncryptionDictionary, *DocumentKey, error) {
	cfg := newHandlerConfig(hopts)
	rnd := cfg.provider.random()

	d := &EncryptionDictionary{
		Filter:          FilterStandard,
		R:               opts.Revision,
		P:               opts.Permissions.Wire(),
		EncryptMetadata: !opts.PlaintextMetadata,
		CryptFilters:    map[string]CryptFilter{},
	}

	method, keyLen, err := d.applyRevisionDefaults(opts)
	if err != nil {
		return nil, nil, err
	}

	var key []byte
	if d.R <= 4 {
		if len(opts.FileID) == 0 {
			return nil, nil, fmt.Errorf("%w: revision %d needs a file identifier", ErrMalformedEncryption, d.R)
		}
		owner, user := legacyPassword(opts.OwnerPassword), legacyPassword(opts.UserPassword)
		d.O = legacyOwnerValue(owner, user, d.R, keyLen)
		key = legacyFileKey(user, legacyInput{
			revision:        d.R,
			keyLength:       keyLen,
			owner:           d.O,
			permissions:     d.P,
			fileID:          opts.FileID,
			encryptMetadata: d.EncryptMetadata,
		})
		d.U = legacyUserValue(key, d.R, opts.FileID)
	} else {
		key = make([]byte, 32)
		if _, err := io.ReadFull(rnd, key); err != nil {
			return nil, nil, fmt.Errorf("generate file key: %w", err)
		}
		revision := min(d.R, 6)
		if d.U, d.UE, err = modernValues(rnd, revision, modernPassword(opts.UserPassword), key, nil); err != nil {
			return nil, nil, err
		}
		owner := opts.OwnerPassword
		if owner == "" {
			owner = opts.UserPassword
		}
		if d.O, d.OE, err = modernValues(rnd, revision, modernPassword(owner), key, d.U); err != nil {
			return nil, nil, err
		}
		if d.R >= 6 {
			block, err := permsBlock(rnd, d.P, d.EncryptMetadata)
			if err != nil {
				return nil, nil, err
			}
			if d.Perms, err = aesECBBlock(key, block, true); err != nil {
				return nil, nil, err
			}
		}
	}

	cfg.log.WithFields(logrus.Fields{
		"revision": d.R,
		"method":   method,
	}).Debug("created password encryption dictionary")
	return d, newDocumentKey(key, d, AuthOwner, opts.Permissions, rnd), nil
}

// applyRevisionDefaults fills V, Length and the crypt filters for a new
// dictionary and returns the method and key length in bytes.
func (d *EncryptionDictionary) applyRevisionDefaults(opts StandardOptions) (CryptMethod, int, error) {
	keyLen := opts.KeyLength
	if keyLen == 0 {
		keyLen = 16
	}
	method := opts.Method

	switch d.R {
	case 2:
		d.V, method, keyLen = 1, MethodRC4, 5
	case 3:
		d.V, method = 2, MethodRC4
	case 4:
		d.V = 4
		if method == "" {
			method = MethodAESV2
		}
		if method == MethodAESV2 {
			keyLen = 16
		}
	case 5, 6:
		d.V, method, keyLen = 5, MethodAESV3, 32
	case 7:
		d.V, method, keyLen = 6, MethodAESV4, 32
	default:
		return "", 0, fmt.Errorf("%w: revision %d", ErrUnsupportedEncryption, d.R)
	}
	if method != MethodRC4 && method != MethodAESV2 && d.R == 4 {
		return "", 0, fmt.Errorf("%w: %s with revision 4", ErrUnsupportedEncryption, method)
	}
	if err := method.CheckKeyLength(keyLen); err != nil {
		return "", 0, err
	}

	d.Length = keyLen * 8
	name := StandardFilterName
	d.CryptFilters[name] = CryptFilter{Method: method, Length: keyLen, AuthEvent: authEventDocOpen}
	d.StmF, d.StrF, d.EFF = name, name, name
	d.synthesised = d.V < 4
	return method, keyLen, nil
}
