// Package crypt implements PDF encryption: the RC4 and AES crypt filters,
// the password (Standard) and certificate (Adobe.PubSec) security handlers
// and the /Encrypt dictionary model they share.
package crypt

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// SecurityHandler is either a *StandardHandler or a *PubKeyHandler. The set
// is closed; switch on the concrete type.
type SecurityHandler interface {
	Dictionary() *EncryptionDictionary
	securityHandler()
}

// AuthStatus records which credential opened a document.
type AuthStatus int

const (
	AuthFailed AuthStatus = iota
	AuthUser
	AuthOwner
)

func (s AuthStatus) String() string {
	switch s {
	case AuthUser:
		return "user"
	case AuthOwner:
		return "owner"
	}
	return "failed"
}

type handlerConfig struct {
	provider Provider
	log      *logrus.Logger
	envelope interface {
		EnvelopeOpener
		EnvelopeSealer
	}
}

// HandlerOption configures a security handler.
type HandlerOption func(*handlerConfig)

// WithProvider sets the cryptographic provider.
func WithProvider(p Provider) HandlerOption {
	return func(c *handlerConfig) { c.provider = p }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(log *logrus.Logger) HandlerOption {
	return func(c *handlerConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// WithEnvelopes replaces the CMS implementation used by public-key security.
func WithEnvelopes(e interface {
	EnvelopeOpener
	EnvelopeSealer
}) HandlerOption {
	return func(c *handlerConfig) { c.envelope = e }
}

func newHandlerConfig(opts []HandlerOption) handlerConfig {
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := handlerConfig{provider: DefaultProvider(), log: log, envelope: PKCS7Envelopes{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewSecurityHandler picks the handler named by /Filter. fileID is the
// first element of the trailer /ID; only legacy password security uses it.
func NewSecurityHandler(dict *EncryptionDictionary, fileID []byte, opts ...HandlerOption) (SecurityHandler, error) {
	switch dict.Filter {
	case FilterStandard:
		return NewStandardHandler(dict, fileID, opts...)
	case FilterPubSec:
		return NewPubKeyHandler(dict, opts...)
	}
	return nil, fmt.Errorf("%w: security handler %q", ErrUnsupportedEncryption, dict.Filter)
}
