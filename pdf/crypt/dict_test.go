package crypt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/pdfcrypt/pdf/generic"
)

func parseWire(t *testing.T, src string) (*EncryptionDictionary, error) {
	t.Helper()
	obj, err := generic.Parse([]byte(src))
	require.NoError(t, err)
	return ParseEncryptionDictionary(obj.(*generic.DictionaryObject))
}

const hash32 = "<" + "0011223344556677889900112233445566778899001122334455667788990011" + ">"
const hash48 = "<" + "001122334455667788990011223344556677889900112233445566778899001122334455667788990011223344556677" + ">"

func TestParseEncryptionDictionaryErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"missing filter", `<< /V 2 /R 3 >>`, ErrMalformedEncryption},
		{"unknown handler", `<< /Filter /FooSec /V 2 >>`, ErrUnsupportedEncryption},
		{"unknown version", `<< /Filter /Standard /V 3 /R 3 /P -4 /O ` + hash32 + ` /U ` + hash32 + ` >>`, ErrUnsupportedEncryption},
		{"V4 without CF", `<< /Filter /Standard /V 4 /R 4 /P -4 /StmF /StdCF /StrF /StdCF /O ` + hash32 + ` /U ` + hash32 + ` >>`, ErrMissingCryptFilter},
		{"StmF not in CF", `<< /Filter /Standard /V 4 /R 4 /P -4 /CF << /StdCF << /CFM /AESV2 >> >> /StmF /Other /StrF /StdCF /O ` + hash32 + ` /U ` + hash32 + ` >>`, ErrMissingDefaultCryptFilter},
		{"StrF not in CF", `<< /Filter /Standard /V 5 /R 6 /P -4 /CF << /StdCF << /CFM /AESV3 >> >> /StmF /StdCF /StrF /Missing >>`, ErrMissingDefaultCryptFilter},
		{"unknown CFM", `<< /Filter /Standard /V 4 /R 4 /P -4 /CF << /StdCF << /CFM /ChaCha >> >> /StmF /StdCF /StrF /StdCF /O ` + hash32 + ` /U ` + hash32 + ` >>`, ErrUnsupportedEncryption},
		{"revision mismatch", `<< /Filter /Standard /V 2 /R 6 /Length 128 /P -4 /O ` + hash48 + ` /U ` + hash48 + ` >>`, ErrUnsupportedEncryption},
		{"short O", `<< /Filter /Standard /V 2 /R 3 /Length 128 /P -4 /O <00> /U ` + hash32 + ` >>`, ErrMalformedEncryption},
		{"missing P", `<< /Filter /Standard /V 2 /R 3 /Length 128 /O ` + hash32 + ` /U ` + hash32 + ` >>`, ErrMalformedEncryption},
		{"odd key length", `<< /Filter /Standard /V 2 /R 3 /Length 44 /P -4 /O ` + hash32 + ` /U ` + hash32 + ` >>`, ErrUnsupportedEncryption},
		{"pubsec bad subfilter", `<< /Filter /Adobe.PubSec /SubFilter /adbe.pkcs7.s9 /V 4 /CF << /DefaultCryptFilter << /CFM /AESV2 >> >> /StmF /DefaultCryptFilter /StrF /DefaultCryptFilter >>`, ErrUnsupportedEncryption},
		{"pubsec no recipients", `<< /Filter /Adobe.PubSec /SubFilter /adbe.pkcs7.s5 /V 4 /CF << /DefaultCryptFilter << /CFM /AESV2 >> >> /StmF /DefaultCryptFilter /StrF /DefaultCryptFilter >>`, ErrMalformedEncryption},
		{"pubsec garbage recipient", `<< /Filter /Adobe.PubSec /SubFilter /adbe.pkcs7.s4 /V 2 /Length 128 /Recipients [<0102>] >>`, ErrInvalidEnvelope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseWire(t, tt.src)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseEncryptionDictionaryDistinguishesKinds(t *testing.T) {
	_, missing := parseWire(t, `<< /Filter /Standard /V 4 /R 4 /P -4 /O `+hash32+` /U `+hash32+` >>`)
	_, unsupported := parseWire(t, `<< /Filter /Standard /V 4 /R 4 /P -4 /CF << /StdCF << /CFM /Foo >> >> /O `+hash32+` /U `+hash32+` >>`)
	assert.NotErrorIs(t, missing, ErrUnsupportedEncryption)
	assert.NotErrorIs(t, unsupported, ErrMissingCryptFilter)

	var de *DictionaryError
	require.True(t, errors.As(missing, &de), "missing /CF: %v", missing)
	assert.Equal(t, "CF", de.Key)
}

func TestParseEncryptionDictionaryDefaults(t *testing.T) {
	d, err := parseWire(t, `<< /Filter /Standard /V 4 /R 4 /P -3904 /CF << /StdCF << /CFM /V2 /Length 128 >> /Other << /CFM /AESV2 /Length 16 >> >> /StmF /StdCF /O `+hash32+` /U `+hash32+` >>`)
	require.NoError(t, err)
	assert.Equal(t, IdentityFilter, d.StrF)
	assert.Equal(t, "StdCF", d.EFF)
	assert.Equal(t, 16, d.CryptFilters["StdCF"].Length, "bit length converted")
	assert.Equal(t, 16, d.CryptFilters["Other"].Length, "byte length kept")
	assert.Equal(t, MethodNone, d.StringFilter().Method)
	assert.True(t, d.EncryptMetadata, "EncryptMetadata defaults to true")
	assert.Equal(t, Permissions(0), d.Permissions())
}

func TestParseEncryptionDictionaryLegacyLayout(t *testing.T) {
	d, err := parseWire(t, `<< /Filter /Standard /V 1 /R 2 /P -4 /O `+hash32+` /U `+hash32+` >>`)
	require.NoError(t, err)
	assert.Equal(t, MethodRC4, d.StreamFilter().Method)
	assert.Equal(t, 5, d.StreamFilter().Length)
	assert.False(t, d.ToPdfObject().Has("CF"), "synthesised /CF written back")
}

func TestParseEncryptionDictionaryGCMVariants(t *testing.T) {
	for _, vr := range []string{"/V 6 /R 7", "/V 5 /R 6"} {
		src := `<< /Filter /Standard ` + vr + ` /P -4 /CF << /StdCF << /CFM /AESV4 /Length 256 >> >> /StmF /StdCF /StrF /StdCF /O ` + hash48 + ` /U ` + hash48 + ` /OE ` + hash32 + ` /UE ` + hash32 + ` /Perms <00112233445566778899001122334455> >>`
		d, err := parseWire(t, src)
		require.NoError(t, err, vr)
		assert.Equal(t, MethodAESV4, d.StreamFilter().Method, vr)
		assert.Equal(t, 32, d.StreamFilter().Length, vr)
	}
}

func TestPermissionsWire(t *testing.T) {
	tests := []struct {
		perms Permissions
		wire  int32
	}{
		{0, -3904},
		{PermPrint, -3900},
		{PermAll, -4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.wire, tt.perms.Wire(), "%s.Wire()", tt.perms)
		assert.Equal(t, tt.perms, PermissionsFromWire(tt.wire), "PermissionsFromWire(%d)", tt.wire)
	}

	p, err := ParsePermissions([]string{"print", " Copy", ""})
	require.NoError(t, err)
	assert.Equal(t, PermPrint|PermCopy, p)

	_, err = ParsePermissions([]string{"teleport"})
	assert.Error(t, err, "unknown permission accepted")
}
