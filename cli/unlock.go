package cli

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/georgepadayatti/pdfcrypt/keys"
	"github.com/georgepadayatti/pdfcrypt/pdf/crypt"
	"github.com/georgepadayatti/pdfcrypt/pdf/generic"
	"github.com/georgepadayatti/pdfcrypt/pdf/writer"
)

var errNotEncrypted = errors.New("document is not encrypted")

// UnlockOptions contains options for the unlock command.
type UnlockOptions struct {
	ConfigFile  string
	Password    string
	PKCS12File  string
	PKCS12Pass  string
	CertFile    string
	KeyFile     string
	KeyPassword string
	Output      string
	JSON        bool
	Verbose     bool
}

// UnlockOutput describes the access obtained to a document.
type UnlockOutput struct {
	Handler     string `json:"handler"`
	Status      string `json:"status"`
	Permissions string `json:"permissions"`
	Method      string `json:"method"`
	Output      string `json:"output,omitempty"`
}

func unlockCommand(args []string) error {
	fs := newFlagSet("unlock", "[options] <input.pdf>",
		"Authenticate against an encrypted PDF file with a password or a certificate credential,\n"+
			"and optionally write a decrypted copy.",
		"unlock -password reader document.pdf",
		"unlock -password secret -o plain.pdf document.pdf",
		"unlock -p12 alice.p12 -p12-password changeit document.pdf",
		"unlock -cert alice.pem -key alice.key document.pdf")

	var opts UnlockOptions
	fs.StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	fs.StringVar(&opts.Password, "password", "", "Owner or user password")
	fs.StringVar(&opts.PKCS12File, "p12", "", "PKCS#12 file holding the recipient certificate and key")
	fs.StringVar(&opts.PKCS12Pass, "p12-password", "", "Password of the PKCS#12 file")
	fs.StringVar(&opts.CertFile, "cert", "", "Recipient certificate file (PEM or DER)")
	fs.StringVar(&opts.KeyFile, "key", "", "Recipient private key file (PEM or DER)")
	fs.StringVar(&opts.KeyPassword, "key-password", "", "Passphrase of an encrypted PEM key")
	fs.StringVar(&opts.Output, "o", "", "Write the decrypted document to this file")
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

	doc, err := readDocument(fs.Arg(0))
	if err != nil {
		return err
	}
	key, dict, err := openDocument(env, doc, &opts)
	if err != nil {
		return err
	}

	out := &UnlockOutput{
		Handler:     dict.Filter,
		Status:      key.Status().String(),
		Permissions: key.Permissions().String(),
		Method:      string(dict.StreamFilter().Method),
	}

	if opts.Output != "" {
		w, err := writer.FromDocument(doc)
		if err != nil {
			return err
		}
		if err := w.Decrypt(key); err != nil {
			return err
		}
		if err := writeFile(opts.Output, w); err != nil {
			return err
		}
		out.Output = opts.Output
		env.log.WithField("output", opts.Output).Info("document decrypted")
	}

	if opts.JSON {
		return writeJSON(out)
	}
	fmt.Fprintf(stdout, "Handler:      %s\n", out.Handler)
	fmt.Fprintf(stdout, "Access:       %s\n", out.Status)
	fmt.Fprintf(stdout, "Permissions:  %s\n", out.Permissions)
	fmt.Fprintf(stdout, "Method:       %s\n", out.Method)
	if out.Output != "" {
		fmt.Fprintf(stdout, "Decrypted:    %s\n", out.Output)
	}
	return nil
}

// openDocument authenticates against the encryption of doc with whatever
// credential opts carries.
func openDocument(env *environment, doc *generic.Document, opts *UnlockOptions) (*crypt.DocumentKey, *crypt.EncryptionDictionary, error) {
	dict, err := encryptionDictionary(doc)
	if err != nil {
		return nil, nil, err
	}
	if dict == nil {
		return nil, nil, errNotEncrypted
	}
	handler, err := crypt.NewSecurityHandler(dict, doc.FileID(), env.handlerOptions()...)
	if err != nil {
		return nil, nil, err
	}

	log := env.log.WithFields(logrus.Fields{"handler": dict.Filter, "revision": dict.R})
	switch h := handler.(type) {
	case *crypt.StandardHandler:
		key, err := h.Authenticate(opts.Password)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("status", key.Status()).Debug("password accepted")
		return key, dict, nil
	case *crypt.PubKeyHandler:
		cred, err := loadCredential(opts)
		if err != nil {
			return nil, nil, err
		}
		log = log.WithField("key", keys.GetKeyInfo(cred.PrivateKey).String())
		key, err := h.Unlock(cred.Certificate, cred.PrivateKey)
		if err != nil {
			return nil, nil, err
		}
		log.Debug("recipient matched")
		return key, dict, nil
	}
	return nil, nil, fmt.Errorf("%w: security handler %q", crypt.ErrUnsupportedEncryption, dict.Filter)
}

func loadCredential(opts *UnlockOptions) (*keys.Credential, error) {
	switch {
	case opts.PKCS12File != "":
		return keys.LoadPKCS12(opts.PKCS12File, opts.PKCS12Pass)
	case opts.CertFile != "" && opts.KeyFile != "":
		var passphrase []byte
		if opts.KeyPassword != "" {
			passphrase = []byte(opts.KeyPassword)
		}
		return keys.LoadCredential(opts.CertFile, opts.KeyFile, passphrase)
	}
	return nil, errors.New("public-key security needs -p12, or -cert and -key")
}
