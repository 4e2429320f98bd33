package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rc4"
	"crypto/subtle"
	"fmt"
	"io"
)

// CryptMethod is a crypt filter method as named by /CFM.
type CryptMethod string

const (
	MethodNone  CryptMethod = "None"
	MethodRC4   CryptMethod = "V2"
	MethodAESV2 CryptMethod = "AESV2" // AES-128-CBC
	MethodAESV3 CryptMethod = "AESV3" // AES-256-CBC
	MethodAESV4 CryptMethod = "AESV4" // AES-256-GCM
)

const (
	gcmNonceSize = 12
	gcmTagSize   = 16
)

// ParseCryptMethod validates a /CFM name.
func ParseCryptMethod(name string) (CryptMethod, error) {
	switch m := CryptMethod(name); m {
	case MethodNone, MethodRC4, MethodAESV2, MethodAESV3, MethodAESV4:
		return m, nil
	}
	return "", fmt.Errorf("%w: crypt filter method %q", ErrUnsupportedEncryption, name)
}

// IsAES reports whether the method is one of the AES variants.
func (m CryptMethod) IsAES() bool {
	return m == MethodAESV2 || m == MethodAESV3 || m == MethodAESV4
}

// usesObjectKeys reports whether per-object keys are derived from the file
// key for this method.
func (m CryptMethod) usesObjectKeys() bool {
	return m == MethodRC4 || m == MethodAESV2
}

// DefaultKeyLength returns the key length in bytes the method uses when
// /Length is absent.
func (m CryptMethod) DefaultKeyLength() int {
	switch m {
	case MethodRC4:
		return 5
	case MethodAESV2:
		return 16
	case MethodAESV3, MethodAESV4:
		return 32
	}
	return 0
}

// CheckKeyLength fails with ErrInvalidLength when n bytes is not a legal
// key size for the method.
func (m CryptMethod) CheckKeyLength(n int) error {
	ok := false
	switch m {
	case MethodNone:
		ok = true
	case MethodRC4:
		ok = n >= 5 && n <= 16
	case MethodAESV2:
		ok = n == 16
	case MethodAESV3, MethodAESV4:
		ok = n == 32
	}
	if !ok {
		return fmt.Errorf("%w: %d-byte key for %s", ErrInvalidLength, n, m)
	}
	return nil
}

// Encrypt encrypts plaintext with key. rnd supplies IVs and nonces.
func (m CryptMethod) Encrypt(rnd io.Reader, key, plaintext []byte) ([]byte, error) {
	if err := m.CheckKeyLength(len(key)); err != nil {
		return nil, err
	}
	switch m {
	case MethodNone:
		return append([]byte(nil), plaintext...), nil
	case MethodRC4:
		return RC4(key, plaintext)
	case MethodAESV2, MethodAESV3:
		return AESCBCEncrypt(rnd, key, plaintext)
	case MethodAESV4:
		return AESGCMEncrypt(rnd, key, plaintext)
	}
	return nil, fmt.Errorf("%w: crypt filter method %q", ErrUnsupportedEncryption, m)
}

// Decrypt reverses Encrypt.
func (m CryptMethod) Decrypt(key, data []byte) ([]byte, error) {
	if err := m.CheckKeyLength(len(key)); err != nil {
		return nil, err
	}
	switch m {
	case MethodNone:
		return append([]byte(nil), data...), nil
	case MethodRC4:
		return RC4(key, data)
	case MethodAESV2, MethodAESV3:
		return AESCBCDecrypt(key, data)
	case MethodAESV4:
		return AESGCMDecrypt(key, data)
	}
	return nil, fmt.Errorf("%w: crypt filter method %q", ErrUnsupportedEncryption, m)
}

// RC4 applies the RC4 keystream. Encryption and decryption are the same
// operation.
func RC4(key, data []byte) ([]byte, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLength, err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

// AESCBCEncrypt pads plaintext (PKCS#5) and encrypts it under a fresh random
// IV, which is prepended to the result.
func AESCBCEncrypt(rnd io.Reader, key, plaintext []byte) ([]byte, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rnd, iv); err != nil {
		return nil, fmt.Errorf("generate IV: %w", err)
	}
	return AESCBCEncryptWithIV(key, iv, plaintext)
}

// AESCBCEncryptWithIV is AESCBCEncrypt with a caller-chosen IV.
func AESCBCEncryptWithIV(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLength, err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: %d-byte IV", ErrInvalidLength, len(iv))
	}
	padded := pkcs5Pad(plaintext)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

// AESCBCDecrypt reads the IV from the first block, decrypts the rest and
// strips the padding. An empty input yields an empty output.
func AESCBCDecrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLength, err)
	}
	if len(data) == 0 {
		return []byte{}, nil
	}
	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrInvalidPadding, len(data))
	}
	out := make([]byte, len(data)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, data[:aes.BlockSize]).CryptBlocks(out, data[aes.BlockSize:])
	return pkcs5Unpad(out)
}

// AESGCMEncrypt encrypts under a random 96-bit nonce. The output is
// nonce ‖ ciphertext ‖ tag.
func AESGCMEncrypt(rnd io.Reader, key, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rnd, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// AESGCMDecrypt verifies the tag in constant time and returns the plaintext.
func AESGCMDecrypt(key, data []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(data) < gcmNonceSize+gcmTagSize {
		return nil, fmt.Errorf("%w: ciphertext too short (%d bytes)", ErrAuthenticationFailed, len(data))
	}
	out, err := aead.Open(nil, data[:gcmNonceSize], data[gcmNonceSize:], nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLength, err)
	}
	return cipher.NewGCM(block)
}

func pkcs5Pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

// pkcs5Unpad checks the last block without branching on its contents.
func pkcs5Unpad(data []byte) ([]byte, error) {
	n := len(data)
	padLen := int(data[n-1])
	good := subtle.ConstantTimeLessOrEq(1, padLen) & subtle.ConstantTimeLessOrEq(padLen, aes.BlockSize)
	for i := 0; i < aes.BlockSize; i++ {
		inPad := subtle.ConstantTimeLessOrEq(i+1, padLen)
		match := subtle.ConstantTimeByteEq(data[n-1-i], byte(padLen))
		good &= subtle.ConstantTimeSelect(inPad, match, 1)
	}
	if good != 1 {
		return nil, ErrInvalidPadding
	}
	return data[:n-padLen], nil
}

// aesCBCRaw runs AES-CBC without padding. Used by the R5/R6 key schedule.
func aesCBCRaw(key, iv, data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLength, err)
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of blocks", ErrInvalidLength, len(data))
	}
	out := make([]byte, len(data))
	if encrypt {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	} else {
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	}
	return out, nil
}

// aesECBBlock encrypts or decrypts exactly one block.
func aesECBBlock(key, data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLength, err)
	}
	if len(data) != aes.BlockSize {
		return nil, fmt.Errorf("%w: %d bytes, want one block", ErrInvalidLength, len(data))
	}
	out := make([]byte, aes.BlockSize)
	if encrypt {
		block.Encrypt(out, data)
	} else {
		block.Decrypt(out, data)
	}
	return out, nil
}
