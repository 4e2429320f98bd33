// Command pdfcrypt encrypts and decrypts PDF files and verifies
// certificate chains with their revocation status.
//
// Usage:
//
//	pdfcrypt <command> [options] <args>
//
// Commands:
//
//	inspect  Show the encryption dictionary of a PDF file
//	encrypt  Encrypt a PDF file with passwords or for certificate recipients
//	unlock   Authenticate against an encrypted PDF file and optionally decrypt it
//	verify   Verify a certificate chain including revocation status
//	version  Show version information
//	help     Show help message
//
// Examples:
//
//	# Encrypt with an owner and a user password
//	pdfcrypt encrypt -owner secret -user reader input.pdf output.pdf
//
//	# Decrypt with the user password
//	pdfcrypt unlock -password reader -o plain.pdf output.pdf
//
//	# Verify a certificate, fetching revocation evidence
//	pdfcrypt verify -anchors root.pem -fetch signer.pem
package main

import (
	"os"

	"github.com/georgepadayatti/pdfcrypt/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/pdfcrypt
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	cli.Run(os.Args)
}
