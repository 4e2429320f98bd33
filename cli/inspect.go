package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/georgepadayatti/pdfcrypt/pdf/crypt"
)

// InspectOutput describes the encryption of a document.
type InspectOutput struct {
	Encrypted       bool            `json:"encrypted"`
	FileID          string          `json:"file_id,omitempty"`
	Filter          string          `json:"filter,omitempty"`
	SubFilter       string          `json:"sub_filter,omitempty"`
	V               int             `json:"v,omitempty"`
	R               int             `json:"r,omitempty"`
	StreamFilter    string          `json:"stream_filter,omitempty"`
	StringFilter    string          `json:"string_filter,omitempty"`
	KeyLength       int             `json:"key_length,omitempty"`
	EncryptMetadata bool            `json:"encrypt_metadata,omitempty"`
	Permissions     string          `json:"permissions,omitempty"`
	Recipients      []RecipientInfo `json:"recipients,omitempty"`
	Summary         string          `json:"summary,omitempty"`
}

// RecipientInfo describes one public-key recipient entry.
type RecipientInfo struct {
	EnvelopeSize int      `json:"envelope_size"`
	IDs          []string `json:"ids,omitempty"`
}

func inspectCommand(args []string) error {
	fs := newFlagSet("inspect", "[options] <input.pdf>",
		"Show the encryption dictionary of a PDF file.",
		"inspect document.pdf", "inspect -json document.pdf")
	asJSON := fs.Bool("json", false, "Output results in JSON format")
	if err := parseArgs(fs, args, 1, 1); err != nil {
		return err
	}

	doc, err := readDocument(fs.Arg(0))
	if err != nil {
		return err
	}
	dict, err := encryptionDictionary(doc)
	if err != nil {
		return err
	}

	out := describeEncryption(dict, doc.FileID())
	if *asJSON {
		return writeJSON(out)
	}
	printInspect(out)
	return nil
}

func describeEncryption(dict *crypt.EncryptionDictionary, fileID []byte) *InspectOutput {
	out := &InspectOutput{FileID: hex.EncodeToString(fileID)}
	if dict == nil {
		return out
	}
	out.Encrypted = true
	out.Filter = dict.Filter
	out.SubFilter = dict.SubFilter
	out.V = dict.V
	out.R = dict.R
	out.StreamFilter = string(dict.StreamFilter().Method)
	out.StringFilter = string(dict.StringFilter().Method)
	out.KeyLength = dict.Length
	if cf := dict.StreamFilter(); cf.Length > 0 {
		out.KeyLength = cf.Length * 8
	}
	out.EncryptMetadata = dict.EncryptMetadata
	out.Permissions = dict.Permissions().String()
	out.Summary = dict.String()
	for _, r := range dict.RecipientList() {
		info := RecipientInfo{EnvelopeSize: len(r.Envelope)}
		for _, id := range r.IDs {
			info.IDs = append(info.IDs, hex.EncodeToString(id))
		}
		out.Recipients = append(out.Recipients, info)
	}
	return out
}

func printInspect(out *InspectOutput) {
	if out.FileID != "" {
		fmt.Fprintf(stdout, "File ID:      %s\n", out.FileID)
	}
	if !out.Encrypted {
		fmt.Fprintln(stdout, "Encrypted:    no")
		return
	}
	fmt.Fprintln(stdout, "Encrypted:    yes")
	fmt.Fprintf(stdout, "Handler:      %s", out.Filter)
	if out.SubFilter != "" {
		fmt.Fprintf(stdout, " (%s)", out.SubFilter)
	}
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "Version:      V%d R%d\n", out.V, out.R)
	fmt.Fprintf(stdout, "Streams:      %s\n", out.StreamFilter)
	fmt.Fprintf(stdout, "Strings:      %s\n", out.StringFilter)
	if out.KeyLength > 0 {
		fmt.Fprintf(stdout, "Key length:   %d bits\n", out.KeyLength)
	}
	fmt.Fprintf(stdout, "Metadata:     %s\n", map[bool]string{true: "encrypted", false: "plaintext"}[out.EncryptMetadata])
	fmt.Fprintf(stdout, "Permissions:  %s\n", out.Permissions)
	if len(out.Recipients) > 0 {
		fmt.Fprintf(stdout, "Recipients:   %d\n", len(out.Recipients))
		for i, r := range out.Recipients {
			fmt.Fprintf(stdout, "  [%d] envelope %d bytes, %d identifiers\n", i, r.EnvelopeSize, len(r.IDs))
		}
	}
}
