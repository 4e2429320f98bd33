// Package config loads the YAML configuration of the command-line tool.
package config

import (
	"bytes"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/pdfcrypt/certvalidator/revinfo"
	"github.com/georgepadayatti/pdfcrypt/keys"
	"github.com/georgepadayatti/pdfcrypt/pdf/crypt"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidOID           = errors.New("invalid OID")
)

// OIDRegex matches OID strings like "1.2.3.4"
var OIDRegex = regexp.MustCompile(`^\d+(\.\d+)+$`)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is makes every ConfigError match ErrConfigurationError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// ParseOID parses a dotted OID string.
func ParseOID(s string) (asn1.ObjectIdentifier, error) {
	if !OIDRegex.MatchString(s) {
		return nil, &ConfigError{Field: "oid", Message: fmt.Sprintf("%q is not a dotted OID", s), Err: ErrInvalidOID}
	}
	parts := strings.Split(s, ".")
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, &ConfigError{Field: "oid", Message: err.Error(), Err: ErrInvalidOID}
		}
		oid[i] = n
	}
	return oid, nil
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (text, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Validate validates the logging configuration.
func (c *LoggingConfig) Validate() error {
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return &ConfigError{Field: "logging.level", Message: err.Error()}
	}
	if c.Format != "text" && c.Format != "json" {
		return NewConfigError("logging.format", fmt.Sprintf("unknown format %q", c.Format))
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds a logger from the configuration. The returned closer
// releases a log file and must be called once logging is finished.
func (c *LoggingConfig) NewLogger() (*logrus.Logger, io.Closer, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, nil, &ConfigError{Field: "logging.level", Message: err.Error()}
	}

	log := logrus.New()
	log.SetLevel(level)
	if c.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	}

	var closer io.Closer = nopCloser{}
	switch c.Output {
	case "", "stderr":
		log.SetOutput(os.Stderr)
	case "stdout":
		log.SetOutput(os.Stdout)
	default:
		f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, &ConfigError{Field: "logging.output", Message: err.Error(), Err: err}
		}
		log.SetOutput(f)
		closer = f
	}
	return log, closer, nil
}

// ProviderConfig selects the cryptographic provider.
type ProviderConfig struct {
	Name string `yaml:"name" json:"name,omitempty"`

	// FIPS forces FIPS mode even when the binary does not run in it.
	FIPS bool `yaml:"fips" json:"fips,omitempty"`
}

// Provider returns the configured provider, based on crypt.DefaultProvider.
func (c *ProviderConfig) Provider() crypt.Provider {
	p := crypt.DefaultProvider()
	if c == nil {
		return p
	}
	if c.Name != "" && c.Name != "default" {
		p.Name = c.Name
	}
	p.FIPS = p.FIPS || c.FIPS
	return p
}

// EncryptionConfig holds the defaults for newly encrypted documents.
type EncryptionConfig struct {
	// Revision is 2-6 for the standard handler, 7 for AES-GCM.
	Revision int `yaml:"revision" json:"revision,omitempty"`

	// Method is a crypt filter method name (V2, AESV2, AESV3, AESV4).
	Method string `yaml:"method" json:"method,omitempty"`

	// KeyLength in bytes, for RC4.
	KeyLength int `yaml:"key-length" json:"key_length,omitempty"`

	EncryptMetadata *bool `yaml:"encrypt-metadata" json:"encrypt_metadata,omitempty"`

	// Permissions lists the granted permission names.
	Permissions []string `yaml:"permissions" json:"permissions,omitempty"`
}

// SetDefaults sets default values for encryption configuration.
func (c *EncryptionConfig) SetDefaults() {
	if c.Revision == 0 {
		c.Revision = 6
	}
	if c.EncryptMetadata == nil {
		t := true
		c.EncryptMetadata = &t
	}
}

// Validate validates the encryption configuration.
func (c *EncryptionConfig) Validate() error {
	if c.Revision < 2 || c.Revision > 7 {
		return NewConfigError("encryption.revision", fmt.Sprintf("unsupported revision %d", c.Revision))
	}
	if c.Method != "" {
		if _, err := crypt.ParseCryptMethod(c.Method); err != nil {
			return &ConfigError{Field: "encryption.method", Message: err.Error(), Err: err}
		}
	}
	if c.KeyLength < 0 {
		return NewConfigError("encryption.key-length", "must not be negative")
	}
	if _, err := crypt.ParsePermissions(c.Permissions); err != nil {
		return &ConfigError{Field: "encryption.permissions", Message: err.Error(), Err: err}
	}
	return nil
}

func (c *EncryptionConfig) permissions() crypt.Permissions {
	p, _ := crypt.ParsePermissions(c.Permissions)
	return p
}

func (c *EncryptionConfig) plaintextMetadata() bool {
	return c.EncryptMetadata != nil && !*c.EncryptMetadata
}

// StandardOptions converts the configuration into options for a
// password-secured document.
func (c *EncryptionConfig) StandardOptions(owner, user string, fileID []byte) crypt.StandardOptions {
	return crypt.StandardOptions{
		OwnerPassword:     owner,
		UserPassword:      user,
		Permissions:       c.permissions(),
		Revision:          c.Revision,
		Method:            crypt.CryptMethod(c.Method),
		KeyLength:         c.KeyLength,
		PlaintextMetadata: c.plaintextMetadata(),
		FileID:            fileID,
	}
}

// PubKeyOptions converts the configuration into options for a
// certificate-secured document. The revision is not used there.
func (c *EncryptionConfig) PubKeyOptions() crypt.PubKeyOptions {
	return crypt.PubKeyOptions{
		Permissions:       c.permissions(),
		Method:            crypt.CryptMethod(c.Method),
		KeyLength:         c.KeyLength,
		PlaintextMetadata: c.plaintextMetadata(),
	}
}

// ValidationConfig contains trust verification configuration.
type ValidationConfig struct {
	// TrustAnchors contains paths to trust anchor certificate files.
	TrustAnchors []string `yaml:"trust-anchors" json:"trust_anchors,omitempty"`

	// OtherCerts contains paths to intermediate certificate files.
	OtherCerts []string `yaml:"other-certs" json:"other_certs,omitempty"`

	// CRLs and OCSPResponses are paths to revocation evidence, PEM or DER.
	CRLs          []string `yaml:"crls" json:"crls,omitempty"`
	OCSPResponses []string `yaml:"ocsp-responses" json:"ocsp_responses,omitempty"`

	// Fetch enables downloading revocation evidence.
	Fetch        bool          `yaml:"fetch" json:"fetch,omitempty"`
	FetchTimeout time.Duration `yaml:"fetch-timeout" json:"fetch_timeout,omitempty"`
	Proxy        string        `yaml:"proxy" json:"proxy,omitempty"`

	// SupportedCriticalExtensions lists dotted OIDs the verifier accepts
	// as critical on top of those crypto/x509 handles.
	SupportedCriticalExtensions []string `yaml:"supported-critical-extensions" json:"supported_critical_extensions,omitempty"`
}

// SetDefaults sets default values for validation configuration.
func (c *ValidationConfig) SetDefaults() {
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 10 * time.Second
	}
}

// Validate validates the validation configuration.
func (c *ValidationConfig) Validate() error {
	if c.FetchTimeout < 0 {
		return NewConfigError("validation.fetch-timeout", "must not be negative")
	}
	for _, s := range c.SupportedCriticalExtensions {
		if _, err := ParseOID(s); err != nil {
			return &ConfigError{Field: "validation.supported-critical-extensions", Message: err.Error(), Err: ErrInvalidOID}
		}
	}
	return nil
}

// ExtensionOIDs returns SupportedCriticalExtensions parsed.
func (c *ValidationConfig) ExtensionOIDs() ([]asn1.ObjectIdentifier, error) {
	oids := make([]asn1.ObjectIdentifier, 0, len(c.SupportedCriticalExtensions))
	for _, s := range c.SupportedCriticalExtensions {
		oid, err := ParseOID(s)
		if err != nil {
			return nil, err
		}
		oids = append(oids, oid)
	}
	return oids, nil
}

// LoadArchive reads the configured certificates and revocation evidence
// into an archive.
func (c *ValidationConfig) LoadArchive() (*revinfo.Archive, error) {
	archive := revinfo.NewArchive()
	certs, err := keys.LoadCertsFromPemDerFiles(c.OtherCerts)
	if err != nil {
		return nil, err
	}
	for _, cert := range certs {
		archive.AddCertificate(cert)
	}

	crls, err := readBlobs(c.CRLs)
	if err != nil {
		return nil, err
	}
	ocsps, err := readBlobs(c.OCSPResponses)
	if err != nil {
		return nil, err
	}
	if err := archive.AddRaw(nil, crls, ocsps); err != nil {
		return nil, fmt.Errorf("failed to load revocation evidence: %w", err)
	}
	return archive, nil
}

// readBlobs reads DER files, unwrapping every PEM block of PEM files.
func readBlobs(paths []string) ([][]byte, error) {
	var out [][]byte
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
		if !bytes.Contains(data, []byte("-----BEGIN")) {
			out = append(out, data)
			continue
		}
		for rest := data; ; {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			out = append(out, block.Bytes)
		}
	}
	return out, nil
}

func (c *ValidationConfig) resolvePaths(dir string) {
	for _, list := range [][]string{c.TrustAnchors, c.OtherCerts, c.CRLs, c.OCSPResponses} {
		for i, p := range list {
			if p != "" && !filepath.IsAbs(p) {
				list[i] = filepath.Join(dir, p)
			}
		}
	}
}

// Config contains the complete application configuration.
type Config struct {
	Logging    *LoggingConfig    `yaml:"logging" json:"logging,omitempty"`
	Provider   *ProviderConfig   `yaml:"provider" json:"provider,omitempty"`
	Encryption *EncryptionConfig `yaml:"encryption" json:"encryption,omitempty"`
	Validation *ValidationConfig `yaml:"validation" json:"validation,omitempty"`
}

// Default returns a configuration with every section defaulted.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills missing sections and fields.
func (c *Config) SetDefaults() {
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Provider == nil {
		c.Provider = &ProviderConfig{}
	}
	if c.Encryption == nil {
		c.Encryption = &EncryptionConfig{}
	}
	if c.Validation == nil {
		c.Validation = &ValidationConfig{}
	}
	c.Logging.SetDefaults()
	c.Encryption.SetDefaults()
	c.Validation.SetDefaults()
}

// Validate validates every section.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Encryption.Validate(); err != nil {
		return err
	}
	return c.Validation.Validate()
}

// Parse parses configuration from YAML data, rejecting unknown keys, and
// applies defaults.
func Parse(data []byte) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Message: fmt.Sprintf("failed to parse config: %v", err), Err: ErrConfigurationError}
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load loads a configuration from a YAML file. Relative validation paths
// are taken relative to the file.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.Validation.resolvePaths(filepath.Dir(filename))
	return c, nil
}
