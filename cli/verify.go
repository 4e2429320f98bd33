package cli

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/georgepadayatti/pdfcrypt/certvalidator"
	"github.com/georgepadayatti/pdfcrypt/certvalidator/fetchers"
	"github.com/georgepadayatti/pdfcrypt/certvalidator/ltv"
	"github.com/georgepadayatti/pdfcrypt/certvalidator/revinfo"
	"github.com/georgepadayatti/pdfcrypt/keys"
	"github.com/georgepadayatti/pdfcrypt/pdf/reader"
)

var errNotTrusted = errors.New("certificate chain is not trusted")

// VerifyOptions contains options for the verify command.
type VerifyOptions struct {
	ConfigFile    string
	Anchors       stringList
	Certs         stringList
	CRLs          stringList
	OCSPResponses stringList
	PDFFile       string
	Password      string
	Fetch         bool
	HTTPTimeout   time.Duration
	At            string
	JSON          bool
	Verbose       bool
}

// VerifyOutput is the complete verification report.
type VerifyOutput struct {
	ReferenceTime string            `json:"reference_time"`
	Status        string            `json:"status"`
	Trusted       bool              `json:"trusted"`
	Chain         []CertificateInfo `json:"chain"`
	Outcomes      []OutcomeInfo     `json:"outcomes"`
	DSS           string            `json:"dss,omitempty"`
}

// CertificateInfo contains certificate information for JSON output.
type CertificateInfo struct {
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	Serial    string `json:"serial"`
	NotBefore string `json:"not_before"`
	NotAfter  string `json:"not_after"`
}

// OutcomeInfo is one verification outcome for JSON output.
type OutcomeInfo struct {
	Result  string `json:"result"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message,omitempty"`
}

func verifyCommand(args []string) error {
	fs := newFlagSet("verify", "[options] <certificate>",
		"Verify the chain of a certificate against trust anchors, including revocation status.\n"+
			"Further certificates in the certificate file are used to build the chain.",
		"verify -anchors root.pem -certs intermediates.pem signer.pem",
		"verify -anchors root.pem -crl root.crl -ocsp signer.ocsp signer.pem",
		"verify -anchors root.pem -pdf signed.pdf -json signer.pem",
		"verify -anchors root.pem -fetch -http-timeout 30s signer.pem")

	var opts VerifyOptions
	fs.StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	fs.Var(&opts.Anchors, "anchors", "Trust anchor certificate file; may be repeated")
	fs.Var(&opts.Certs, "certs", "Intermediate certificate file; may be repeated")
	fs.Var(&opts.CRLs, "crl", "CRL file (PEM or DER); may be repeated")
	fs.Var(&opts.OCSPResponses, "ocsp", "OCSP response file (PEM or DER); may be repeated")
	fs.StringVar(&opts.PDFFile, "pdf", "", "Read certificates and revocation evidence from the document security store of this PDF")
	fs.StringVar(&opts.Password, "password", "", "Password of an encrypted -pdf document")
	fs.BoolVar(&opts.Fetch, "fetch", false, "Fetch OCSP responses and CRLs from the URLs in the certificates")
	fs.DurationVar(&opts.HTTPTimeout, "http-timeout", 0, "Timeout for each revocation request (default from config, 10s)")
	fs.StringVar(&opts.At, "at", "", "Reference time in RFC 3339 format (default now)")
	fs.BoolVar(&opts.JSON, "json", false, "Output results in JSON format")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Enable debug logging")

	if err := parseArgs(fs, args, 1, 1); err != nil {
		return err
	}

	env, err := loadEnvironment(opts.ConfigFile, opts.Verbose)
	if err != nil {
		return err
	}
	defer env.Close()

	val := env.cfg.Validation
	val.TrustAnchors = append(val.TrustAnchors, opts.Anchors...)
	val.OtherCerts = append(val.OtherCerts, opts.Certs...)
	val.CRLs = append(val.CRLs, opts.CRLs...)
	val.OCSPResponses = append(val.OCSPResponses, opts.OCSPResponses...)
	val.Fetch = val.Fetch || opts.Fetch
	if opts.HTTPTimeout > 0 {
		val.FetchTimeout = opts.HTTPTimeout
	}
	if err := val.Validate(); err != nil {
		return err
	}

	at := clock.Now()
	if opts.At != "" {
		if at, err = time.Parse(time.RFC3339, opts.At); err != nil {
			return fmt.Errorf("invalid -at time: %w", err)
		}
	}

	certs, err := keys.LoadCertsFromPemDer(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	leaf := certs[0]

	anchors, err := keys.LoadCertsFromPemDerFiles(val.TrustAnchors)
	if err != nil {
		return fmt.Errorf("failed to load trust anchors: %w", err)
	}
	if len(anchors) == 0 {
		env.log.Warn("no trust anchors configured; the chain cannot be trusted")
	}
	material, err := val.LoadArchive()
	if err != nil {
		return err
	}
	for _, cert := range certs[1:] {
		material.AddCertificate(cert)
	}

	out := &VerifyOutput{ReferenceTime: at.UTC().Format(time.RFC3339)}
	if opts.PDFFile != "" {
		summary, err := loadDSS(env, opts, material)
		if err != nil {
			return err
		}
		out.DSS = summary
	}

	pool := append(material.AllCertificates(), anchors...)
	chain := keys.BuildChain(leaf, pool)
	env.log.WithFields(logrus.Fields{
		"subject": leaf.Subject.String(),
		"length":  len(chain),
	}).Debug("built chain")

	if val.Fetch {
		if err := fetchEvidence(env, chain, material); err != nil {
			return err
		}
	}

	oids, err := val.ExtensionOIDs()
	if err != nil {
		return err
	}
	chainVerifier := certvalidator.NewChainVerifier(anchors,
		certvalidator.WithLogger(env.log),
		certvalidator.WithSupportedExtensions(oids...))
	outcomes := ltv.NewVerifier(chainVerifier, ltv.WithLogger(env.log)).Verify(chain, material, at)

	out.Status = ltv.Assess(outcomes).String()
	out.Trusted = outcomes.OK()
	for _, cert := range chain {
		out.Chain = append(out.Chain, describeCertificate(cert))
	}
	for _, o := range outcomes {
		info := OutcomeInfo{Result: o.Result.String(), Message: o.Message}
		if o.Certificate != nil {
			info.Subject = o.Certificate.Subject.String()
		}
		out.Outcomes = append(out.Outcomes, info)
	}

	if opts.JSON {
		if err := writeJSON(out); err != nil {
			return err
		}
	} else {
		printVerify(out)
	}
	if !out.Trusted {
		return errNotTrusted
	}
	return nil
}

// loadDSS merges the document security store of the -pdf document into
// material and returns its summary. A document without one is not an error.
func loadDSS(env *environment, opts VerifyOptions, material *revinfo.Archive) (string, error) {
	doc, err := readDocument(opts.PDFFile)
	if err != nil {
		return "", err
	}
	var dssOpts []ltv.DSSOption
	var dec reader.Decrypter
	if doc.Trailer.Has("Encrypt") {
		key, _, err := openDocument(env, doc, &UnlockOptions{Password: opts.Password})
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", opts.PDFFile, err)
		}
		dssOpts = append(dssOpts, ltv.WithDecryption(key))
		dec = key
	}
	if _, err := reader.Expand(doc.Objects, dec); err != nil {
		return "", err
	}

	dss, err := ltv.ReadDSS(doc, dssOpts...)
	if errors.Is(err, ltv.ErrNoDSS) {
		env.log.WithField("file", opts.PDFFile).Warn("document has no security store")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	for _, cert := range dss.Certs {
		material.AddCertificate(cert)
	}
	if err := material.AddRaw(nil, dss.CRLs, dss.OCSPs); err != nil {
		return "", fmt.Errorf("invalid revocation evidence in %s: %w", opts.PDFFile, err)
	}
	return dss.Summary(), nil
}

// fetchEvidence downloads revocation evidence for chain into material.
// Failures to reach a responder are logged; the verdict reflects them.
func fetchEvidence(env *environment, chain []*x509.Certificate, material *revinfo.Archive) error {
	val := env.cfg.Validation
	client, err := fetchers.NewHTTPClient(&fetchers.HTTPClientConfig{
		Timeout:  val.FetchTimeout,
		ProxyURL: val.Proxy,
	})
	if err != nil {
		return err
	}
	fetcher := fetchers.NewFetcher(&fetchers.FetcherConfig{
		Timeout:    val.FetchTimeout,
		HTTPClient: client,
		Logger:     env.log,
		Clock:      clock,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := fetcher.Collect(ctx, chain, material); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		env.log.WithError(err).Warn("revocation evidence incomplete")
	}
	return nil
}

func describeCertificate(cert *x509.Certificate) CertificateInfo {
	return CertificateInfo{
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		Serial:    cert.SerialNumber.String(),
		NotBefore: cert.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:  cert.NotAfter.UTC().Format(time.RFC3339),
	}
}

func printVerify(out *VerifyOutput) {
	fmt.Fprintf(stdout, "Reference time: %s\n", out.ReferenceTime)
	if out.DSS != "" {
		fmt.Fprintf(stdout, "Security store: %s\n", out.DSS)
	}
	fmt.Fprintln(stdout, "Chain:")
	for i, c := range out.Chain {
		fmt.Fprintf(stdout, "  [%d] %s\n", i, c.Subject)
		fmt.Fprintf(stdout, "      issuer %s, serial %s, valid %s to %s\n", c.Issuer, c.Serial, c.NotBefore, c.NotAfter)
	}
	fmt.Fprintln(stdout, "Outcomes:")
	for _, o := range out.Outcomes {
		fmt.Fprintf(stdout, "  %-22s %s", o.Result, o.Subject)
		if o.Message != "" {
			fmt.Fprintf(stdout, ": %s", o.Message)
		}
		fmt.Fprintln(stdout)
	}
	verdict := "NOT TRUSTED"
	if out.Trusted {
		verdict = "TRUSTED"
	}
	fmt.Fprintf(stdout, "LTV status: %s\n", out.Status)
	fmt.Fprintf(stdout, "Result: %s\n", verdict)
}
