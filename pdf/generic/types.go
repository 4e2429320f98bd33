// Package generic provides the PDF object model consumed by the encryption
// and validation layers: names, strings, numbers, arrays, dictionaries,
// streams and indirect references.
package generic

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
)

// PdfObject is the base interface for all PDF objects.
type PdfObject interface {
	// Write serializes the object to PDF syntax.
	Write(w io.Writer) error
	// Clone creates a deep copy of the object.
	Clone() PdfObject
}

// Reference represents an indirect reference to a PDF object.
type Reference struct {
	ObjectNumber     int
	GenerationNumber int
}

// NewReference creates a new reference.
func NewReference(objNum, genNum int) Reference {
	return Reference{ObjectNumber: objNum, GenerationNumber: genNum}
}

// Write implements PdfObject.
func (r Reference) Write(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%d %d R", r.ObjectNumber, r.GenerationNumber)
	return err
}

// Clone implements PdfObject.
func (r Reference) Clone() PdfObject { return r }

func (r Reference) String() string {
	return fmt.Sprintf("%d %d R", r.ObjectNumber, r.GenerationNumber)
}

// IndirectObject is a numbered object as it appears in a file body.
type IndirectObject struct {
	Reference
	Object PdfObject
}

// Write implements PdfObject.
func (i *IndirectObject) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%d %d obj\n", i.ObjectNumber, i.GenerationNumber); err != nil {
		return err
	}
	if i.Object != nil {
		if err := i.Object.Write(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\nendobj\n")
	return err
}

// Clone implements PdfObject.
func (i *IndirectObject) Clone() PdfObject {
	out := &IndirectObject{Reference: i.Reference}
	if i.Object != nil {
		out.Object = i.Object.Clone()
	}
	return out
}

// NullObject represents the PDF null value.
type NullObject struct{}

// Write implements PdfObject.
func (NullObject) Write(w io.Writer) error {
	_, err := io.WriteString(w, "null")
	return err
}

// Clone implements PdfObject.
func (NullObject) Clone() PdfObject { return NullObject{} }

// BooleanObject represents a PDF boolean value.
type BooleanObject bool

// Write implements PdfObject.
func (b BooleanObject) Write(w io.Writer) error {
	_, err := io.WriteString(w, strconv.FormatBool(bool(b)))
	return err
}

// Clone implements PdfObject.
func (b BooleanObject) Clone() PdfObject { return b }

// IntegerObject represents a PDF integer.
type IntegerObject int64

// Write implements PdfObject.
func (i IntegerObject) Write(w io.Writer) error {
	_, err := io.WriteString(w, strconv.FormatInt(int64(i), 10))
	return err
}

// Clone implements PdfObject.
func (i IntegerObject) Clone() PdfObject { return i }

// RealObject represents a PDF real number.
type RealObject float64

// Write implements PdfObject.
func (r RealObject) Write(w io.Writer) error {
	_, err := io.WriteString(w, strconv.FormatFloat(float64(r), 'f', -1, 64))
	return err
}

// Clone implements PdfObject.
func (r RealObject) Clone() PdfObject { return r }

// NameObject represents a PDF name without its leading slash.
type NameObject string

// Write implements PdfObject. Characters outside the regular set are
// written as #xx escapes.
func (n NameObject) Write(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteByte('/')
	for i := 0; i < len(n); i++ {
		c := n[i]
		if c < '!' || c > '~' || c == '#' || isDelimiter(c) {
			fmt.Fprintf(&buf, "#%02X", c)
			continue
		}
		buf.WriteByte(c)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Clone implements PdfObject.
func (n NameObject) Clone() PdfObject { return n }

func (n NameObject) String() string { return string(n) }

// StringObject represents a PDF string. The encryption layer treats Value as
// opaque bytes.
type StringObject struct {
	Value []byte
	IsHex bool
}

// NewLiteralString creates a new literal string.
func NewLiteralString(s string) *StringObject {
	return &StringObject{Value: []byte(s)}
}

// NewHexString creates a new hex string.
func NewHexString(data []byte) *StringObject {
	return &StringObject{Value: data, IsHex: true}
}

// Write implements PdfObject.
func (s *StringObject) Write(w io.Writer) error {
	if s.IsHex {
		_, err := fmt.Fprintf(w, "<%s>", hex.EncodeToString(s.Value))
		return err
	}
	var buf bytes.Buffer
	buf.WriteByte('(')
	for _, b := range s.Value {
		switch b {
		case '\\', '(', ')':
			buf.WriteByte('\\')
			buf.WriteByte(b)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		default:
			if b < 32 || b > 126 {
				fmt.Fprintf(&buf, "\\%03o", b)
			} else {
				buf.WriteByte(b)
			}
		}
	}
	buf.WriteByte(')')
	_, err := w.Write(buf.Bytes())
	return err
}

// Clone implements PdfObject.
func (s *StringObject) Clone() PdfObject {
	return &StringObject{Value: bytes.Clone(s.Value), IsHex: s.IsHex}
}

// ArrayObject represents a PDF array.
type ArrayObject []PdfObject

// NewArray creates a new array.
func NewArray(items ...PdfObject) ArrayObject {
	return ArrayObject(items)
}

// Write implements PdfObject.
func (a ArrayObject) Write(w io.Writer) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i, item := range a {
		if i > 0 {
			if _, err := io.WriteString(w, " "); err != nil {
				return err
			}
		}
		if err := item.Write(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]")
	return err
}

// Clone implements PdfObject.
func (a ArrayObject) Clone() PdfObject {
	out := make(ArrayObject, len(a))
	for i, item := range a {
		out[i] = item.Clone()
	}
	return out
}

// DictionaryObject is an insertion-ordered PDF dictionary.
type DictionaryObject struct {
	entries map[string]PdfObject
	order   []string
}

// NewDictionary creates a new dictionary.
func NewDictionary() *DictionaryObject {
	return &DictionaryObject{entries: make(map[string]PdfObject)}
}

// Write implements PdfObject.
func (d *DictionaryObject) Write(w io.Writer) error {
	if _, err := io.WriteString(w, "<<"); err != nil {
		return err
	}
	for _, key := range d.order {
		if _, err := io.WriteString(w, " "); err != nil {
			return err
		}
		if err := NameObject(key).Write(w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, " "); err != nil {
			return err
		}
		if err := d.entries[key].Write(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, " >>")
	return err
}

// Clone implements PdfObject.
func (d *DictionaryObject) Clone() PdfObject {
	out := NewDictionary()
	for _, key := range d.order {
		out.Set(key, d.entries[key].Clone())
	}
	return out
}

// Set sets a key-value pair, keeping the original position of existing keys.
func (d *DictionaryObject) Set(key string, value PdfObject) {
	if _, exists := d.entries[key]; !exists {
		d.order = append(d.order, key)
	}
	d.entries[key] = value
}

// Get returns the value for a key, or nil.
func (d *DictionaryObject) Get(key string) PdfObject {
	return d.entries[key]
}

// Has reports whether the key is present.
func (d *DictionaryObject) Has(key string) bool {
	_, ok := d.entries[key]
	return ok
}

// Delete removes a key.
func (d *DictionaryObject) Delete(key string) {
	if _, ok := d.entries[key]; !ok {
		return
	}
	delete(d.entries, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (d *DictionaryObject) Keys() []string {
	return append([]string(nil), d.order...)
}

// Len returns the number of entries.
func (d *DictionaryObject) Len() int { return len(d.order) }

// GetName returns the name value for a key, or "".
func (d *DictionaryObject) GetName(key string) string {
	if n, ok := d.entries[key].(NameObject); ok {
		return string(n)
	}
	return ""
}

// GetInt returns the integer value for a key. Reals are truncated.
func (d *DictionaryObject) GetInt(key string) (int64, bool) {
	switch v := d.entries[key].(type) {
	case IntegerObject:
		return int64(v), true
	case RealObject:
		return int64(v), true
	}
	return 0, false
}

// GetBool returns the boolean value for a key.
func (d *DictionaryObject) GetBool(key string) (bool, bool) {
	b, ok := d.entries[key].(BooleanObject)
	return bool(b), ok
}

// GetBytes returns the raw bytes of a string value.
func (d *DictionaryObject) GetBytes(key string) ([]byte, bool) {
	if s, ok := d.entries[key].(*StringObject); ok {
		return s.Value, true
	}
	return nil, false
}

// GetArray returns the array value for a key, or nil.
func (d *DictionaryObject) GetArray(key string) ArrayObject {
	a, _ := d.entries[key].(ArrayObject)
	return a
}

// GetDict returns the dictionary value for a key, or nil.
func (d *DictionaryObject) GetDict(key string) *DictionaryObject {
	dict, _ := d.entries[key].(*DictionaryObject)
	return dict
}

// StreamObject is a dictionary followed by a byte sequence. Data holds the
// bytes exactly as stored in the file.
type StreamObject struct {
	Dictionary *DictionaryObject
	Data       []byte
}

// NewStream creates a new stream.
func NewStream(dict *DictionaryObject, data []byte) *StreamObject {
	if dict == nil {
		dict = NewDictionary()
	}
	return &StreamObject{Dictionary: dict, Data: data}
}

// Write implements PdfObject. /Length is refreshed from Data.
func (s *StreamObject) Write(w io.Writer) error {
	s.Dictionary.Set("Length", IntegerObject(len(s.Data)))
	if err := s.Dictionary.Write(w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\nstream\n"); err != nil {
		return err
	}
	if _, err := w.Write(s.Data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\nendstream")
	return err
}

// Clone implements PdfObject.
func (s *StreamObject) Clone() PdfObject {
	return &StreamObject{
		Dictionary: s.Dictionary.Clone().(*DictionaryObject),
		Data:       bytes.Clone(s.Data),
	}
}

// Serialize renders an object to bytes.
func Serialize(obj PdfObject) []byte {
	var buf bytes.Buffer
	_ = obj.Write(&buf)
	return buf.Bytes()
}
