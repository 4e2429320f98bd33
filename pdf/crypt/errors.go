package crypt

import (
	"errors"
	"fmt"
)

// Sentinel errors. Handlers wrap these with context; test with errors.Is.
var (
	// ErrInvalidPassword is returned when neither the owner nor the user
	// check accepts a password. It never says which check failed.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrNoMatchingRecipient is returned when no recipient entry of a
	// public-key secured document was produced for the supplied certificate.
	ErrNoMatchingRecipient = errors.New("no matching recipient")

	// ErrMissingCryptFilter is returned when /CF is absent although /V
	// requires crypt filters.
	ErrMissingCryptFilter = errors.New("missing crypt filter dictionary")

	// ErrMissingDefaultCryptFilter is returned when /StmF, /StrF or /EFF
	// names a filter that /CF does not define.
	ErrMissingDefaultCryptFilter = errors.New("missing default crypt filter")

	// ErrUnsupportedEncryption marks a well-formed dictionary that asks for
	// something this package does not implement.
	ErrUnsupportedEncryption = errors.New("unsupported encryption")

	// ErrMalformedEncryption marks a dictionary that is structurally broken.
	ErrMalformedEncryption = errors.New("malformed encryption dictionary")

	// ErrUnsupportedInMode is returned when the cryptographic provider
	// disallows an otherwise valid combination.
	ErrUnsupportedInMode = errors.New("not supported by cryptographic provider")

	// ErrAuthenticationFailed is returned for tampered authenticated
	// ciphertext.
	ErrAuthenticationFailed = errors.New("authentication failed")

	ErrInvalidPadding = errors.New("invalid padding")
	ErrInvalidLength  = errors.New("invalid key or data length")
)

// DictionaryError ties an encryption dictionary failure to the offending key.
type DictionaryError struct {
	Key string
	Err error
}

func (e *DictionaryError) Error() string {
	return fmt.Sprintf("/Encrypt /%s: %v", e.Key, e.Err)
}

func (e *DictionaryError) Unwrap() error {
	return e.Err
}

func dictErr(key string, err error, format string, args ...any) error {
	return &DictionaryError{Key: key, Err: fmt.Errorf("%w: "+format, append([]any{err}, args...)...)}
}
