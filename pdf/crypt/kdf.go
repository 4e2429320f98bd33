package crypt

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"golang.org/x/text/encoding/charmap"
)

// passwordPadding is the fixed 32-byte string used to pad legacy passwords.
var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

var metadataMarker = []byte{0xFF, 0xFF, 0xFF, 0xFF}

// legacyPassword encodes a password for R2-R4. Latin-1 covers the printable
// range of PDFDocEncoding; anything else falls back to the UTF-8 bytes.
func legacyPassword(password string) []byte {
	if enc, err := charmap.ISO8859_1.NewEncoder().String(password); err == nil {
		return []byte(enc)
	}
	return []byte(password)
}

func padPassword(pw []byte) []byte {
	out := make([]byte, 32)
	n := copy(out, pw)
	copy(out[n:], passwordPadding)
	return out
}

// legacyKeyLength is the file key size in bytes for a legacy revision.
func legacyKeyLength(revision, length int) int {
	if revision == 2 {
		return 5
	}
	return length
}

type legacyInput struct {
	revision        int
	keyLength       int // bytes
	owner           []byte
	permissions     int32
	fileID          []byte
	encryptMetadata bool
}

// legacyFileKey computes the file key from a user password (Algorithm 2).
func legacyFileKey(password []byte, in legacyInput) []byte {
	n := legacyKeyLength(in.revision, in.keyLength)
	h := md5.New()
	h.Write(padPassword(password))
	h.Write(in.owner[:32])
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(in.permissions))
	h.Write(p[:])
	h.Write(in.fileID)
	if in.revision >= 4 && !in.encryptMetadata {
		h.Write(metadataMarker)
	}
	key := h.Sum(nil)
	if in.revision >= 3 {
		for range 50 {
			sum := md5.Sum(key[:n])
			key = sum[:]
		}
	}
	return key[:n]
}

// legacyOwnerRC4Key derives the RC4 key that protects /O (Algorithm 3,
// steps a-d).
func legacyOwnerRC4Key(ownerPassword []byte, revision, keyLength int) []byte {
	sum := md5.Sum(padPassword(ownerPassword))
	digest := sum[:]
	if revision >= 3 {
		for range 50 {
			s := md5.Sum(digest)
			digest = s[:]
		}
	}
	return digest[:legacyKeyLength(revision, keyLength)]
}

// rc4Rounds runs the R3+ 20-pass RC4 loop, with the key XORed by the pass
// number. Passes run 0..19 when encrypting and 19..0 when decrypting.
func rc4Rounds(key, data []byte, decrypt bool) []byte {
	out := bytes.Clone(data)
	tmp := make([]byte, len(key))
	for j := range 20 {
		i := j
		if decrypt {
			i = 19 - j
		}
		for k := range key {
			tmp[k] = key[k] ^ byte(i)
		}
		out, _ = RC4(tmp, out)
	}
	return out
}

// legacyOwnerValue computes /O (Algorithm 3). An empty owner password is
// replaced by the user password.
func legacyOwnerValue(ownerPassword, userPassword []byte, revision, keyLength int) []byte {
	if len(ownerPassword) == 0 {
		ownerPassword = userPassword
	}
	key := legacyOwnerRC4Key(ownerPassword, revision, keyLength)
	if revision == 2 {
		out, _ := RC4(key, padPassword(userPassword))
		return out
	}
	return rc4Rounds(key, padPassword(userPassword), false)
}

// legacyUserValue computes /U from the file key (Algorithms 4 and 5). For
// R3+ only the first 16 bytes are significant; the rest is padding.
func legacyUserValue(fileKey []byte, revision int, fileID []byte) []byte {
	if revision == 2 {
		out, _ := RC4(fileKey, passwordPadding)
		return out
	}
	h := md5.New()
	h.Write(passwordPadding)
	h.Write(fileID)
	out := rc4Rounds(fileKey, h.Sum(nil), false)
	return append(out, passwordPadding[:16]...)
}

// legacyUserPasswordFromOwner recovers the padded user password from /O
// (Algorithm 7).
func legacyUserPasswordFromOwner(ownerPassword, owner []byte, revision, keyLength int) []byte {
	key := legacyOwnerRC4Key(ownerPassword, revision, keyLength)
	if revision == 2 {
		out, _ := RC4(key, owner[:32])
		return out
	}
	return rc4Rounds(key, owner[:32], true)
}

// legacyObjectKey derives the key for one object (Algorithm 1).
func legacyObjectKey(fileKey []byte, objNum, genNum int, aes bool) []byte {
	h := md5.New()
	h.Write(fileKey)
	h.Write([]byte{byte(objNum), byte(objNum >> 8), byte(objNum >> 16)})
	h.Write([]byte{byte(genNum), byte(genNum >> 8)})
	if aes {
		h.Write([]byte("sAlT"))
	}
	return h.Sum(nil)[:min(len(fileKey)+5, 16)]
}

// modernPassword prepares a password for R5 and later: SASLprep, UTF-8,
// at most 127 bytes. Strings SASLprep rejects are used as-is.
func modernPassword(password string) []byte {
	pw := []byte(password)
	if prepped, err := NormalizePassword(password); err == nil {
		pw = []byte(prepped)
	}
	if len(pw) > 127 {
		pw = pw[:127]
	}
	return pw
}

// modernHash is the R5 (plain SHA-256) or R6 (Algorithm 2.B) password hash.
// udata is the 48-byte /U value for owner computations and nil otherwise.
func modernHash(revision int, password, salt, udata []byte) []byte {
	h := sha256.New()
	h.Write(password)
	h.Write(salt)
	h.Write(udata)
	k := h.Sum(nil)
	if revision == 5 {
		return k
	}

	var e []byte
	for round := 0; round < 64 || int(e[len(e)-1]) > round-32; round++ {
		block := make([]byte, 0, len(password)+len(k)+len(udata))
		block = append(block, password...)
		block = append(block, k...)
		block = append(block, udata...)
		k1 := bytes.Repeat(block, 64)

		e, _ = aesCBCRaw(k[:16], k[16:32], k1, true)

		var sum int
		for _, b := range e[:16] {
			sum += int(b)
		}
		var next hash.Hash
		switch sum % 3 {
		case 0:
			next = sha256.New()
		case 1:
			next = sha512.New384()
		default:
			next = sha512.New()
		}
		next.Write(e)
		k = next.Sum(nil)
	}
	return k[:32]
}

// modernValues computes the 48-byte verifier (/U or /O) and the 32-byte
// wrapped file key (/UE or /OE) for one password.
func modernValues(rnd io.Reader, revision int, password, fileKey, udata []byte) ([]byte, []byte, error) {
	salts := make([]byte, 16)
	if _, err := io.ReadFull(rnd, salts); err != nil {
		return nil, nil, fmt.Errorf("generate salts: %w", err)
	}
	validationSalt, keySalt := salts[:8], salts[8:]

	verifier := append(modernHash(revision, password, validationSalt, udata), salts...)
	wrapKey := modernHash(revision, password, keySalt, udata)
	wrapped, err := aesCBCRaw(wrapKey, make([]byte, 16), fileKey, true)
	if err != nil {
		return nil, nil, err
	}
	return verifier, wrapped, nil
}

// modernUnwrap checks password against a verifier and, on success, unwraps
// the file key. ok is false on a mismatch.
func modernUnwrap(revision int, password, verifier, wrapped, udata []byte) ([]byte, bool) {
	validationSalt, keySalt := verifier[32:40], verifier[40:48]
	if !constantTimeEqual(modernHash(revision, password, validationSalt, udata), verifier[:32]) {
		return nil, false
	}
	wrapKey := modernHash(revision, password, keySalt, udata)
	key, err := aesCBCRaw(wrapKey, make([]byte, 16), wrapped[:32], false)
	if err != nil {
		return nil, false
	}
	return key, true
}

// permsBlock builds the plaintext of /Perms.
func permsBlock(rnd io.Reader, p int32, encryptMetadata bool) ([]byte, error) {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint32(out[0:4], uint32(p))
	copy(out[4:8], metadataMarker)
	out[8] = 'F'
	if encryptMetadata {
		out[8] = 'T'
	}
	copy(out[9:12], "adb")
	if _, err := io.ReadFull(rnd, out[12:]); err != nil {
		return nil, fmt.Errorf("generate /Perms filler: %w", err)
	}
	return out, nil
}

// checkPerms decrypts /Perms and compares it with /P and /EncryptMetadata.
func checkPerms(fileKey, perms []byte, p int32, encryptMetadata bool) error {
	plain, err := aesECBBlock(fileKey, perms[:16], false)
	if err != nil {
		return err
	}
	if !bytes.Equal(plain[9:12], []byte("adb")) {
		return fmt.Errorf("%w: /Perms does not decrypt under the file key", ErrAuthenticationFailed)
	}
	if int32(binary.LittleEndian.Uint32(plain[0:4])) != p {
		return fmt.Errorf("%w: /Perms disagrees with /P", ErrAuthenticationFailed)
	}
	if (plain[8] == 'T') != encryptMetadata {
		return fmt.Errorf("%w: /Perms disagrees with /EncryptMetadata", ErrAuthenticationFailed)
	}
	return nil
}
