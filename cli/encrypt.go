package cli

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/georgepadayatti/pdfcrypt/keys"
	"github.com/georgepadayatti/pdfcrypt/pdf/crypt"
	"github.com/georgepadayatti/pdfcrypt/pdf/writer"
)

// EncryptOptions contains options for the encrypt command.
type EncryptOptions struct {
	ConfigFile        string
	OwnerPassword     string
	UserPassword      string
	Revision          int
	Method            string
	KeyLength         int
	Permissions       stringList
	Recipients        stringList
	PlaintextMetadata bool
	Verbose           bool
}

func encryptCommand(args []string) error {
	fs := newFlagSet("encrypt", "[options] <input.pdf> <output.pdf>",
		"Encrypt a PDF file with passwords, or for the holders of the given certificates.",
		"encrypt -owner secret -user reader input.pdf output.pdf",
		"encrypt -revision 4 -method AESV2 -permissions print,copy -owner secret input.pdf output.pdf",
		"encrypt -recipient alice.pem -recipient bob.pem input.pdf output.pdf")

	var opts EncryptOptions
	fs.StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	fs.StringVar(&opts.OwnerPassword, "owner", "", "Owner password (defaults to the user password for revisions 5 and up)")
	fs.StringVar(&opts.UserPassword, "user", "", "User password; empty lets anyone open the document")
	fs.IntVar(&opts.Revision, "revision", 0, "Standard security handler revision 2-7 (default from config, 6)")
	fs.StringVar(&opts.Method, "method", "", "Crypt filter method: V2, AESV2, AESV3 or AESV4")
	fs.IntVar(&opts.KeyLength, "key-length", 0, "RC4 key length in bytes")
	fs.Var(&opts.Permissions, "permissions", "Granted permissions, comma separated (print, modify, copy, annotate, fill-forms, accessibility, assemble, print-high-quality, all, none)")
	fs.Var(&opts.Recipients, "recipient", "Recipient certificate file for public-key security; may be repeated")
	fs.BoolVar(&opts.PlaintextMetadata, "plaintext-metadata", false, "Leave the XMP metadata stream unencrypted")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Enable debug logging")

	if err := parseArgs(fs, args, 2, 2); err != nil {
		return err
	}

	env, err := loadEnvironment(opts.ConfigFile, opts.Verbose)
	if err != nil {
		return err
	}
	defer env.Close()

	enc := env.cfg.Encryption
	if flagWasSet(fs, "revision") {
		enc.Revision = opts.Revision
	}
	if flagWasSet(fs, "method") {
		enc.Method = opts.Method
	}
	if flagWasSet(fs, "key-length") {
		enc.KeyLength = opts.KeyLength
	}
	if flagWasSet(fs, "permissions") {
		enc.Permissions = opts.Permissions
	}
	if opts.PlaintextMetadata {
		f := false
		enc.EncryptMetadata = &f
	}
	if err := enc.Validate(); err != nil {
		return err
	}

	doc, err := readDocument(fs.Arg(0))
	if err != nil {
		return err
	}
	w, err := writer.FromDocument(doc)
	if err != nil {
		return err
	}
	if len(w.FileID()) == 0 {
		id := make([]byte, 16)
		if _, err := io.ReadFull(randomSource(env), id); err != nil {
			return fmt.Errorf("failed to generate file identifier: %w", err)
		}
		w.SetFileID(id)
	}

	var dict *crypt.EncryptionDictionary
	var key *crypt.DocumentKey
	if len(opts.Recipients) > 0 {
		certs, err := keys.LoadCertsFromPemDerFiles(opts.Recipients)
		if err != nil {
			return err
		}
		dict, key, err = crypt.EncryptForRecipients(certs, enc.PubKeyOptions(), env.handlerOptions()...)
		if err != nil {
			return err
		}
	} else {
		dict, key, err = crypt.EncryptNewDocument(
			enc.StandardOptions(opts.OwnerPassword, opts.UserPassword, w.FileID()),
			env.handlerOptions()...)
		if err != nil {
			return err
		}
	}

	// AES-256 is native to PDF 2.0 except with the revision 5 derivation
	if dict.V >= 5 && dict.R != 5 {
		w.Version = "2.0"
	}
	if err := w.Encrypt(dict, key); err != nil {
		return err
	}
	if err := writeFile(fs.Arg(1), w); err != nil {
		return err
	}

	env.log.WithFields(logrus.Fields{
		"output":  fs.Arg(1),
		"handler": dict.Filter,
	}).Info("document encrypted")
	fmt.Fprintf(stdout, "Encrypted %s -> %s (%s)\n", fs.Arg(0), fs.Arg(1), dict)
	return nil
}

func randomSource(env *environment) io.Reader {
	if p := env.cfg.Provider.Provider(); p.Rand != nil {
		return p.Rand
	}
	return rand.Reader
}

// writeFile writes the document to path, removing a partial file on error.
func writeFile(path string, w *writer.PdfFileWriter) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	if err := w.Write(out); err != nil {
		return fmt.Errorf("failed to write PDF: %w", err)
	}
	return nil
}
