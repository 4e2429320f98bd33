package crypt

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/pdfcrypt/pdf/generic"
)

func generateTestCertificate(t *testing.T, cn string, serial int64) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)
	return cert, key
}

func TestPubKeyRoundTrip(t *testing.T) {
	alice, aliceKey := generateTestCertificate(t, "alice", 1)
	bob, bobKey := generateTestCertificate(t, "bob", 2)

	for _, method := range []CryptMethod{MethodRC4, MethodAESV2, MethodAESV3, MethodAESV4} {
		t.Run(string(method), func(t *testing.T) {
			dict, created, err := EncryptForRecipients([]*x509.Certificate{alice, bob}, PubKeyOptions{
				Permissions: PermPrint,
				Method:      method,
			})
			require.NoError(t, err)

			h, err := NewSecurityHandler(reparse(t, dict), nil)
			require.NoError(t, err)
			pk, ok := h.(*PubKeyHandler)
			require.True(t, ok, "handler = %T", h)

			for _, who := range []struct {
				cert *x509.Certificate
				key  *rsa.PrivateKey
			}{{alice, aliceKey}, {bob, bobKey}} {
				name := who.cert.Subject.CommonName
				key, err := pk.Unlock(who.cert, who.key)
				require.NoError(t, err, name)
				assert.Equal(t, created.Bytes(), key.Bytes(), name)
				assert.Equal(t, PermPrint, key.Permissions(), name)
			}
		})
	}
}

func TestPubKeyNoMatchingRecipient(t *testing.T) {
	alice, _ := generateTestCertificate(t, "alice", 1)
	mallory, malloryKey := generateTestCertificate(t, "alice", 99)

	dict, _, err := EncryptForRecipients([]*x509.Certificate{alice}, PubKeyOptions{})
	require.NoError(t, err)
	h, _ := NewPubKeyHandler(dict)

	// same subject name, different issuer/serial
	_, err = h.Unlock(mallory, malloryKey)
	assert.ErrorIs(t, err, ErrNoMatchingRecipient)
}

func TestPubKeyFIPSRejectsGCM(t *testing.T) {
	alice, aliceKey := generateTestCertificate(t, "alice", 1)
	fips := WithProvider(Provider{Name: "test-fips", FIPS: true})

	_, _, err := EncryptForRecipients([]*x509.Certificate{alice}, PubKeyOptions{Method: MethodAESV4}, fips)
	assert.ErrorIs(t, err, ErrUnsupportedInMode)

	dict, _, err := EncryptForRecipients([]*x509.Certificate{alice}, PubKeyOptions{Method: MethodAESV4}, WithProvider(Provider{}))
	require.NoError(t, err)
	h, _ := NewPubKeyHandler(dict, fips)
	_, err = h.Unlock(alice, aliceKey)
	assert.ErrorIs(t, err, ErrUnsupportedInMode)

	// CBC stays available
	dict, _, err = EncryptForRecipients([]*x509.Certificate{alice}, PubKeyOptions{Method: MethodAESV3}, fips)
	require.NoError(t, err)
	h, _ = NewPubKeyHandler(dict, fips)
	_, err = h.Unlock(alice, aliceKey)
	assert.NoError(t, err)
}

func TestPubKeyLegacyTopLevelRecipients(t *testing.T) {
	alice, aliceKey := generateTestCertificate(t, "alice", 1)
	envelope, err := PKCS7Envelopes{}.SealEnvelope(append(bytes.Repeat([]byte{7}, seedLength), 0xFF, 0xFF, 0xFF, 0xFC), []*x509.Certificate{alice})
	require.NoError(t, err)

	wire := generic.NewDictionary()
	wire.Set("Filter", generic.NameObject(FilterPubSec))
	wire.Set("SubFilter", generic.NameObject(SubFilterS4))
	wire.Set("V", generic.IntegerObject(2))
	wire.Set("Length", generic.IntegerObject(128))
	wire.Set("Recipients", generic.NewArray(generic.NewHexString(envelope)))

	dict, err := ParseEncryptionDictionary(wire)
	require.NoError(t, err)
	h, _ := NewPubKeyHandler(dict)
	key, err := h.Unlock(alice, aliceKey)
	require.NoError(t, err)
	assert.Len(t, key.Bytes(), 16)
	assert.Equal(t, PermAll, key.Permissions())
}

func TestRecipientMatchesSubjectKeyID(t *testing.T) {
	cert, _ := generateTestCertificate(t, "carol", 5)
	cert.SubjectKeyId = []byte{1, 2, 3, 4}

	ski, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: []byte{1, 2, 3, 4}})
	require.NoError(t, err)
	r := Recipient{IDs: []RecipientID{ski}}
	assert.True(t, r.Matches(cert), "subject key identifier did not match")

	cert.SubjectKeyId = []byte{1, 2, 3, 5}
	assert.False(t, r.Matches(cert), "different subject key identifier matched")
}

func TestParseRecipientRejectsGarbage(t *testing.T) {
	_, err := ParseRecipient([]byte("not der"))
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}
