package crypt

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(n int) []byte {
	key := make([]byte, n)
	for i := range key {
		key[i] = byte(i*7 + 1)
	}
	return key
}

func TestCryptMethodRoundTrip(t *testing.T) {
	methods := []struct {
		method CryptMethod
		keyLen int
	}{
		{MethodRC4, 5},
		{MethodRC4, 16},
		{MethodAESV2, 16},
		{MethodAESV3, 32},
		{MethodAESV4, 32},
	}
	lengths := []int{0, 1, 15, 16, 17, 4096}

	for _, m := range methods {
		for _, n := range lengths {
			plaintext := bytes.Repeat([]byte{0xA5}, n)
			key := testKey(m.keyLen)

			encrypted, err := m.method.Encrypt(rand.Reader, key, plaintext)
			require.NoError(t, err, "%s/%d", m.method, n)
			decrypted, err := m.method.Decrypt(key, encrypted)
			require.NoError(t, err, "%s/%d", m.method, n)
			assert.Equal(t, plaintext, decrypted, "%s/%d", m.method, n)
		}
	}
}

func TestCiphertextLayout(t *testing.T) {
	plaintext := []byte("seventeen bytes!!")

	cbc, err := AESCBCEncrypt(rand.Reader, testKey(16), plaintext)
	require.NoError(t, err)
	assert.Len(t, cbc, 16+32, "IV + two blocks")

	again, _ := AESCBCEncrypt(rand.Reader, testKey(16), plaintext)
	assert.NotEqual(t, cbc[:16], again[:16], "IV reused across calls")

	gcm, err := AESGCMEncrypt(rand.Reader, testKey(32), plaintext)
	require.NoError(t, err)
	assert.Len(t, gcm, 12+len(plaintext)+16, "nonce + ciphertext + tag")
}

func TestAESGCMTamper(t *testing.T) {
	key := testKey(32)
	encrypted, err := AESGCMEncrypt(rand.Reader, key, []byte("attack at dawn"))
	require.NoError(t, err)

	for i := range encrypted {
		tampered := bytes.Clone(encrypted)
		tampered[i] ^= 0x01
		_, err := AESGCMDecrypt(key, tampered)
		require.ErrorIs(t, err, ErrAuthenticationFailed, "flip at byte %d", i)
	}

	_, err = AESGCMDecrypt(key, encrypted[:20])
	assert.ErrorIs(t, err, ErrAuthenticationFailed, "truncated")
}

func TestAESCBCTamperIV(t *testing.T) {
	key := testKey(32)
	plaintext := []byte("0123456789abcdef0123")
	encrypted, err := AESCBCEncrypt(rand.Reader, key, plaintext)
	require.NoError(t, err)

	for i := 0; i < 16; i++ {
		tampered := bytes.Clone(encrypted)
		tampered[i] ^= 0x80
		decrypted, err := AESCBCDecrypt(key, tampered)
		if err == nil {
			require.NotEqual(t, plaintext, decrypted, "flip at IV byte %d returned the original plaintext", i)
		}
	}
}

func TestAESCBCBadPadding(t *testing.T) {
	key := testKey(16)
	iv := make([]byte, 16)

	tests := []struct {
		name string
		data func() []byte
	}{
		{"short", func() []byte { return make([]byte, 16) }},
		{"unaligned", func() []byte { return make([]byte, 33) }},
		{"zero pad byte", func() []byte {
			raw, _ := aesCBCRaw(key, iv, make([]byte, 16), true)
			return append(bytes.Clone(iv), raw...)
		}},
		{"pad byte too large", func() []byte {
			block := bytes.Repeat([]byte{17}, 16)
			raw, _ := aesCBCRaw(key, iv, block, true)
			return append(bytes.Clone(iv), raw...)
		}},
		{"inconsistent pad", func() []byte {
			block := append(bytes.Repeat([]byte{'x'}, 12), 1, 4, 4, 4)
			raw, _ := aesCBCRaw(key, iv, block, true)
			return append(bytes.Clone(iv), raw...)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AESCBCDecrypt(key, tt.data())
			assert.ErrorIs(t, err, ErrInvalidPadding)
		})
	}
}

func TestKeyLengthChecks(t *testing.T) {
	tests := []struct {
		method CryptMethod
		keyLen int
	}{
		{MethodRC4, 4},
		{MethodRC4, 17},
		{MethodAESV2, 32},
		{MethodAESV3, 16},
		{MethodAESV4, 24},
	}

	for _, tt := range tests {
		_, err := tt.method.Encrypt(rand.Reader, testKey(tt.keyLen), []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidLength, "%s with %d-byte key", tt.method, tt.keyLen)
		_, err = tt.method.Decrypt(testKey(tt.keyLen), make([]byte, 48))
		assert.ErrorIs(t, err, ErrInvalidLength, "%s with %d-byte key: decrypt", tt.method, tt.keyLen)
	}
}

func TestParseCryptMethod(t *testing.T) {
	for _, name := range []string{"None", "V2", "AESV2", "AESV3", "AESV4"} {
		_, err := ParseCryptMethod(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseCryptMethod("AESV5")
	assert.ErrorIs(t, err, ErrUnsupportedEncryption)
}
