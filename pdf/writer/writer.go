// Package writer rewrites a scanned document as a complete file with a
// classic cross-reference table, applying or removing encryption on the
// way. Object streams are unpacked whenever the encryption changes.
package writer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/georgepadayatti/pdfcrypt/pdf/crypt"
	"github.com/georgepadayatti/pdfcrypt/pdf/extensions"
	"github.com/georgepadayatti/pdfcrypt/pdf/generic"
	"github.com/georgepadayatti/pdfcrypt/pdf/reader"
)

// Errors reported while preparing a rewrite.
var (
	ErrAlreadyEncrypted = errors.New("document is already encrypted")
	ErrNotEncrypted     = errors.New("document is not encrypted")
)

// trailer entries carried over to the rewritten file
var keptTrailerKeys = []string{"Root", "Info", "ID"}

// PdfFileWriter holds the objects of a file being rewritten.
type PdfFileWriter struct {
	Version string
	Objects map[generic.Reference]generic.PdfObject
	Trailer *generic.DictionaryObject
}

// FromDocument prepares doc for rewriting. Cross-reference streams are
// dropped since the output uses a table.
func FromDocument(doc *generic.Document) (*PdfFileWriter, error) {
	w := &PdfFileWriter{
		Version: "1.7",
		Objects: make(map[generic.Reference]generic.PdfObject, len(doc.Objects)),
		Trailer: generic.NewDictionary(),
	}
	for ref, obj := range doc.Objects {
		if s, ok := obj.(*generic.StreamObject); ok && s.Dictionary.GetName("Type") == "XRef" {
			continue
		}
		w.Objects[ref] = obj
	}
	for _, key := range keptTrailerKeys {
		if v := doc.Trailer.Get(key); v != nil {
			w.Trailer.Set(key, v)
		}
	}
	if v := doc.Trailer.Get("Encrypt"); v != nil {
		w.Trailer.Set("Encrypt", v)
	}
	return w, nil
}

// AddObject stores obj under the next free object number.
func (w *PdfFileWriter) AddObject(obj generic.PdfObject) generic.Reference {
	ref := generic.NewReference(w.size(), 0)
	w.Objects[ref] = obj
	return ref
}

// SetFileID sets both elements of the trailer /ID.
func (w *PdfFileWriter) SetFileID(id []byte) {
	w.Trailer.Set("ID", generic.NewArray(generic.NewHexString(id), generic.NewHexString(id)))
}

// FileID returns the first /ID element, or nil.
func (w *PdfFileWriter) FileID() []byte {
	return (&generic.Document{Trailer: w.Trailer}).FileID()
}

// Encrypt encrypts every object with key and adds dict as the encryption
// dictionary. The catalog gets the developer extension markers dict needs
// for the current Version, so set Version first.
func (w *PdfFileWriter) Encrypt(dict *crypt.EncryptionDictionary, key *crypt.DocumentKey) error {
	if w.Trailer.Has("Encrypt") {
		return ErrAlreadyEncrypted
	}
	if _, err := reader.Expand(w.Objects, nil); err != nil {
		return err
	}
	if catalog, err := w.resolve(w.Trailer.Get("Root")); err == nil {
		if _, err := extensions.Apply(catalog, w.resolve, extensions.ForEncryption(dict, w.Version)...); err != nil {
			return err
		}
	}
	for _, ref := range w.refs() {
		if err := key.EncryptObject(w.Objects[ref], ref); err != nil {
			return fmt.Errorf("object %s: %w", ref, err)
		}
	}
	w.Trailer.Set("Encrypt", w.AddObject(dict.ToPdfObject()))
	return nil
}

// Decrypt decrypts every object with key and removes the encryption
// dictionary.
func (w *PdfFileWriter) Decrypt(key *crypt.DocumentKey) error {
	encrypt := w.Trailer.Get("Encrypt")
	if encrypt == nil {
		return ErrNotEncrypted
	}
	if ref, ok := encrypt.(generic.Reference); ok {
		delete(w.Objects, ref)
	}
	w.Trailer.Delete("Encrypt")
	for _, ref := range w.refs() {
		if err := key.DecryptObject(w.Objects[ref], ref); err != nil {
			return fmt.Errorf("object %s: %w", ref, err)
		}
	}
	_, err := reader.Expand(w.Objects, nil)
	return err
}

// resolve returns the dictionary obj is or refers to.
func (w *PdfFileWriter) resolve(obj generic.PdfObject) (*generic.DictionaryObject, error) {
	if ref, ok := obj.(generic.Reference); ok {
		obj = w.Objects[ref]
	}
	d, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("expected a dictionary, got %T", obj)
	}
	return d, nil
}

// refs returns the object references in file order.
func (w *PdfFileWriter) refs() []generic.Reference {
	refs := make([]generic.Reference, 0, len(w.Objects))
	for ref := range w.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].ObjectNumber != refs[j].ObjectNumber {
			return refs[i].ObjectNumber < refs[j].ObjectNumber
		}
		return refs[i].GenerationNumber < refs[j].GenerationNumber
	})
	return refs
}

func (w *PdfFileWriter) size() int {
	size := 1
	for ref := range w.Objects {
		if ref.ObjectNumber >= size {
			size = ref.ObjectNumber + 1
		}
	}
	return size
}

// Write writes the PDF to the given writer.
func (w *PdfFileWriter) Write(out io.Writer) error {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%%PDF-%s\n", w.Version)
	// binary marker comment
	buf.Write([]byte{0x25, 0xE2, 0xE3, 0xCF, 0xD3, 0x0A})

	// one entry per object number; the highest generation wins
	type entry struct {
		offset int
		gen    int
	}
	entries := make(map[int]entry)
	for _, ref := range w.refs() {
		offset := buf.Len()
		obj := &generic.IndirectObject{Reference: ref, Object: w.Objects[ref]}
		if err := obj.Write(&buf); err != nil {
			return fmt.Errorf("object %s: %w", ref, err)
		}
		entries[ref.ObjectNumber] = entry{offset: offset, gen: ref.GenerationNumber}
	}

	size := w.size()
	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", size)
	fmt.Fprintf(&buf, "0000000000 65535 f \n")
	for n := 1; n < size; n++ {
		if e, ok := entries[n]; ok {
			fmt.Fprintf(&buf, "%010d %05d n \n", e.offset, e.gen)
		} else {
			fmt.Fprintf(&buf, "0000000000 00001 f \n")
		}
	}

	w.Trailer.Set("Size", generic.IntegerObject(size))
	buf.WriteString("trailer\n")
	if err := w.Trailer.Write(&buf); err != nil {
		return err
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	_, err := out.Write(buf.Bytes())
	return err
}
