package crypt

import (
	"crypto/fips140"
	"crypto/rand"
	"fmt"
	"io"
)

// Provider describes the cryptographic environment a handler runs in. It is
// passed to each handler explicitly; there is no process-wide default.
type Provider struct {
	Name string
	// FIPS restricts the handler to combinations a FIPS 140 module may
	// perform.
	FIPS bool
	// Rand supplies IVs, nonces, salts and file keys. Nil means
	// crypto/rand.
	Rand io.Reader
}

// DefaultProvider reflects the running binary: FIPS mode follows
// crypto/fips140.
func DefaultProvider() Provider {
	return Provider{Name: "go", FIPS: fips140.Enabled(), Rand: rand.Reader}
}

func (p Provider) random() io.Reader {
	if p.Rand == nil {
		return rand.Reader
	}
	return p.Rand
}

// checkPubKey reports ErrUnsupportedInMode for public-key security
// combinations the provider refuses.
func (p Provider) checkPubKey(method CryptMethod) error {
	if p.FIPS && method == MethodAESV4 {
		return fmt.Errorf("%w: %s with public-key security in FIPS mode (provider %q)",
			ErrUnsupportedInMode, method, p.Name)
	}
	return nil
}
