// Package cli provides the command-line interface for PDF encryption and
// certificate trust verification.
package cli

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/georgepadayatti/pdfcrypt/config"
	"github.com/georgepadayatti/pdfcrypt/pdf/crypt"
	"github.com/georgepadayatti/pdfcrypt/pdf/generic"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Replaced in tests.
var (
	osExit           = os.Exit
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	clock            = clockwork.NewRealClock()
)

const programName = "pdfcrypt"

// Run executes the CLI with the given arguments.
// This is the main entry point for the CLI.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	command := args[1]

	switch command {
	case "inspect":
		runCommand(inspectCommand, args)
	case "encrypt":
		runCommand(encryptCommand, args)
	case "unlock":
		runCommand(unlockCommand, args)
	case "verify":
		runCommand(verifyCommand, args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		Usage()
		osExit(2)
	}
}

func runCommand(cmd func(args []string) error, args []string) {
	err := cmd(args[2:])
	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
		osExit(0)
	case errors.Is(err, errUsage):
		osExit(2)
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		osExit(1)
	}
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Fprintf(stdout, "%s - PDF encryption and certificate trust tool\n\n", programName)
	fmt.Fprintf(stdout, "Usage: %s <command> [options] <args>\n\n", programName)
	fmt.Fprintln(stdout, "Commands:")
	fmt.Fprintln(stdout, "  inspect  Show the encryption dictionary of a PDF file")
	fmt.Fprintln(stdout, "  encrypt  Encrypt a PDF file with passwords or for certificate recipients")
	fmt.Fprintln(stdout, "  unlock   Authenticate against an encrypted PDF file and optionally decrypt it")
	fmt.Fprintln(stdout, "  verify   Verify a certificate chain including revocation status")
	fmt.Fprintln(stdout, "  version  Show version information")
	fmt.Fprintln(stdout, "  help     Show this help message")
	fmt.Fprintln(stdout, "")
	fmt.Fprintf(stdout, "Use '%s <command> -h' for command-specific help\n", programName)
	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, "Examples:")
	fmt.Fprintf(stdout, "  %s inspect -json document.pdf\n", programName)
	fmt.Fprintf(stdout, "  %s encrypt -owner secret -user reader input.pdf output.pdf\n", programName)
	fmt.Fprintf(stdout, "  %s unlock -password reader -o plain.pdf output.pdf\n", programName)
	fmt.Fprintf(stdout, "  %s verify -anchors root.pem -certs chain.pem -fetch signer.pem\n", programName)
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Fprintf(stdout, "%s version %s\n", programName, Version)
	fmt.Fprintf(stdout, "Build time: %s\n", BuildTime)
}

var errUsage = errors.New("usage")

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name, synopsis, description string, examples ...string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage: %s %s %s\n\n", programName, name, synopsis)
		fmt.Fprintln(out, description)
		fmt.Fprintln(out, "")
		fmt.Fprintln(out, "Options:")
		fs.PrintDefaults()
		if len(examples) > 0 {
			fmt.Fprintln(out, "")
			fmt.Fprintln(out, "Examples:")
			for _, ex := range examples {
				fmt.Fprintf(out, "  %s %s\n", programName, ex)
			}
		}
	}
	return fs
}

// parseArgs parses flags and checks the positional argument count.
func parseArgs(fs *flag.FlagSet, args []string, minArgs, maxArgs int) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if n := fs.NArg(); n < minArgs || n > maxArgs {
		fs.Usage()
		return errUsage
	}
	return nil
}

// stringList is a repeatable flag; values may also be comma separated.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// flagWasSet reports whether name was given on the command line.
func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// environment is the configuration and logger shared by the commands.
type environment struct {
	cfg    *config.Config
	log    *logrus.Logger
	closer io.Closer
}

// loadEnvironment reads the optional configuration file and builds the
// logger. verbose forces debug output.
func loadEnvironment(path string, verbose bool) (*environment, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	log, closer, err := cfg.Logging.NewLogger()
	if err != nil {
		return nil, err
	}
	switch cfg.Logging.Output {
	case "", "stderr":
		log.SetOutput(stderr)
	case "stdout":
		log.SetOutput(stdout)
	}
	return &environment{cfg: cfg, log: log, closer: closer}, nil
}

func (e *environment) Close() error { return e.closer.Close() }

func (e *environment) handlerOptions() []crypt.HandlerOption {
	return []crypt.HandlerOption{
		crypt.WithProvider(e.cfg.Provider.Provider()),
		crypt.WithLogger(e.log),
	}
}

// readDocument scans a PDF file.
func readDocument(path string) (*generic.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	doc, err := generic.ScanDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	return doc, nil
}

// encryptionDictionary returns the parsed /Encrypt dictionary of doc, or
// nil when the document is not encrypted.
func encryptionDictionary(doc *generic.Document) (*crypt.EncryptionDictionary, error) {
	raw := doc.Trailer.Get("Encrypt")
	if raw == nil {
		return nil, nil
	}
	dict, err := doc.ResolveDict(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve /Encrypt: %w", err)
	}
	return crypt.ParseEncryptionDictionary(dict)
}

func writeJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
