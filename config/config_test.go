package config

import (
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/pdfcrypt/internal/pkitest"
	"github.com/georgepadayatti/pdfcrypt/pdf/crypt"
)

func TestConfigError(t *testing.T) {
	err := NewConfigError("field", "message")
	assert.Equal(t, "config error in 'field': message", err.Error())
	assert.True(t, errors.Is(err, ErrConfigurationError))
	assert.Equal(t, "config error: general error", NewConfigError("", "general error").Error())
}

func TestParseOID(t *testing.T) {
	tests := []struct {
		input   string
		want    asn1.ObjectIdentifier
		wantErr bool
	}{
		{"1.2.840.113549.1.1.1", asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}, false},
		{"2.5.29.15", asn1.ObjectIdentifier{2, 5, 29, 15}, false},
		{"1", nil, true},
		{"1.2.abc", nil, true},
		{"", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			oid, err := ParseOID(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOID)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(oid))
		})
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "info", c.Logging.Level)
	assert.Equal(t, "text", c.Logging.Format)
	assert.Equal(t, "stderr", c.Logging.Output)
	assert.Equal(t, 6, c.Encryption.Revision)
	require.NotNil(t, c.Encryption.EncryptMetadata)
	assert.True(t, *c.Encryption.EncryptMetadata)
	assert.Equal(t, 10*time.Second, c.Validation.FetchTimeout)
	assert.NoError(t, c.Validate())
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
logging:
  level: debug
  format: json
provider:
  name: test
  fips: true
encryption:
  revision: 4
  method: AESV2
  encrypt-metadata: false
  permissions: [print, copy]
validation:
  fetch: true
  fetch-timeout: 3s
  supported-critical-extensions: ["1.3.6.1.4.1.55555.1"]
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", c.Logging.Level)
	assert.Equal(t, "stderr", c.Logging.Output)

	p := c.Provider.Provider()
	assert.Equal(t, "test", p.Name)
	assert.True(t, p.FIPS)

	opts := c.Encryption.StandardOptions("owner", "user", []byte("id"))
	assert.Equal(t, 4, opts.Revision)
	assert.Equal(t, crypt.MethodAESV2, opts.Method)
	assert.Equal(t, crypt.PermPrint|crypt.PermCopy, opts.Permissions)
	assert.True(t, opts.PlaintextMetadata)
	assert.True(t, c.Encryption.PubKeyOptions().PlaintextMetadata)

	assert.True(t, c.Validation.Fetch)
	assert.Equal(t, 3*time.Second, c.Validation.FetchTimeout)
	oids, err := c.Validation.ExtensionOIDs()
	require.NoError(t, err)
	require.Len(t, oids, 1)
	assert.True(t, oids[0].Equal(asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 55555, 1}))
}

func TestParseEmpty(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown key", "logging:\n  colour: true\n", ""},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"bad format", "logging:\n  format: xml\n", "logging.format"},
		{"bad revision", "encryption:\n  revision: 9\n", "encryption.revision"},
		{"bad method", "encryption:\n  method: DES\n", "encryption.method"},
		{"bad permission", "encryption:\n  permissions: [teleport]\n", "encryption.permissions"},
		{"bad OID", "validation:\n  supported-critical-extensions: [keyUsage]\n", "validation.supported-critical-extensions"},
		{"negative timeout", "validation:\n  fetch-timeout: -1s\n", "validation.fetch-timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %T", err)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.ErrorIs(t, err, ErrConfigurationError)
		})
	}
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdfcrypt.log")
	c := &LoggingConfig{Level: "warn", Format: "json", Output: path}

	log, closer, err := c.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log.WithField("k", "v").Warn("written")
	log.Info("filtered")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"written"`)
	assert.NotContains(t, string(data), "filtered")

	_, _, err = (&LoggingConfig{Level: "nope"}).NewLogger()
	assert.Error(t, err)
}

func TestLoadResolvesPathsAndArchive(t *testing.T) {
	dir := t.TempDir()
	root := pkitest.NewRoot(t, "Config Root")
	leaf := root.Issue(t, "Config Leaf")
	now := pkitest.Epoch

	write := func(name string, data []byte) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
	}
	write("root.pem", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Cert.Raw}))
	write("root.crl", pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: root.CRL(t, now.AddDate(0, 0, -1), now.AddDate(0, 0, 1))}))
	write("leaf.ocsp", root.OCSP(t, pkitest.OCSPTemplate(leaf.Cert, ocsp.Good, now.AddDate(0, 0, -1), now.AddDate(0, 0, 1)), nil))
	write("config.yaml", []byte(`
validation:
  trust-anchors: [root.pem]
  other-certs: [root.pem]
  crls: [root.crl]
  ocsp-responses: [leaf.ocsp]
`))

	c, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "root.pem"), c.Validation.TrustAnchors[0])

	archive, err := c.Validation.LoadArchive()
	require.NoError(t, err)
	assert.Len(t, archive.AllCertificates(), 1)
	assert.Len(t, archive.CRLsFor(leaf.Cert), 1)
	assert.Len(t, archive.OCSPFor(leaf.Cert), 1)

	c.Validation.CRLs = append(c.Validation.CRLs, filepath.Join(dir, "missing.crl"))
	_, err = c.Validation.LoadArchive()
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
