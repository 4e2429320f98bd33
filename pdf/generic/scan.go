package generic

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
)

// ErrNoTrailer is returned when a file has neither a trailer dictionary nor
// a cross-reference stream.
var ErrNoTrailer = errors.New("no trailer found")

// ErrUnresolved is returned when a reference points at an unknown object.
var ErrUnresolved = errors.New("unresolved reference")

var objHeader = regexp.MustCompile(`(\d+)\s+(\d+)\s+obj\b`)

// Document is the flat view of a file body needed to locate the encryption
// dictionary, the file identifier and the document security store. Object
// streams are not expanded; none of those objects may live in one.
type Document struct {
	Objects map[Reference]PdfObject
	Trailer *DictionaryObject
}

// ScanDocument reads every top-level indirect object in data. Later
// definitions replace earlier ones, as with incremental updates. Streams
// with an indirect /Length are read again once all lengths are known.
func ScanDocument(data []byte) (*Document, error) {
	doc := &Document{Objects: make(map[Reference]PdfObject)}
	var xrefStream *DictionaryObject
	offsets := make(map[Reference]int)

	pos := 0
	for pos < len(data) {
		loc := objHeader.FindIndex(data[pos:])
		if loc == nil {
			break
		}
		p := NewParserFromBytes(data)
		p.pos = pos + loc[0]
		obj, err := p.ParseIndirectObject()
		if err != nil {
			pos += loc[1]
			continue
		}
		doc.Objects[obj.Reference] = obj.Object
		offsets[obj.Reference] = pos + loc[0]
		if s, ok := obj.Object.(*StreamObject); ok && s.Dictionary.GetName("Type") == "XRef" {
			xrefStream = s.Dictionary
		}
		pos = p.pos
	}

	doc.rereadStreams(data, offsets)

	if idx := bytes.LastIndex(data, []byte("trailer")); idx >= 0 {
		p := NewParserFromBytes(data)
		p.pos = idx + len("trailer")
		obj, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("trailer: %w", err)
		}
		dict, ok := obj.(*DictionaryObject)
		if !ok {
			return nil, fmt.Errorf("%w: trailer is not a dictionary", ErrInvalidDictionary)
		}
		doc.Trailer = dict
	} else if xrefStream != nil {
		doc.Trailer = xrefStream
	} else {
		return nil, ErrNoTrailer
	}
	return doc, nil
}

// rereadStreams parses streams with an indirect /Length again, this time
// resolving the length against the scanned objects.
func (d *Document) rereadStreams(data []byte, offsets map[Reference]int) {
	lengths := func(ref Reference) (int64, bool) {
		n, ok := d.Objects[ref].(IntegerObject)
		return int64(n), ok
	}
	for ref, obj := range d.Objects {
		s, ok := obj.(*StreamObject)
		if !ok {
			continue
		}
		if _, indirect := s.Dictionary.Get("Length").(Reference); !indirect {
			continue
		}
		p := NewParserFromBytes(data)
		p.pos = offsets[ref]
		p.lengths = lengths
		if reread, err := p.ParseIndirectObject(); err == nil && reread.Reference == ref {
			d.Objects[ref] = reread.Object
		}
	}
}

// Resolve follows references until a direct object is reached.
func (d *Document) Resolve(obj PdfObject) (PdfObject, error) {
	for range 32 {
		ref, ok := obj.(Reference)
		if !ok {
			return obj, nil
		}
		target, found := d.Objects[ref]
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrUnresolved, ref)
		}
		obj = target
	}
	return nil, fmt.Errorf("%w: reference chain too long", ErrUnresolved)
}

// ResolveDict resolves obj and asserts it is a dictionary.
func (d *Document) ResolveDict(obj PdfObject) (*DictionaryObject, error) {
	resolved, err := d.Resolve(obj)
	if err != nil {
		return nil, err
	}
	if s, ok := resolved.(*StreamObject); ok {
		return s.Dictionary, nil
	}
	dict, ok := resolved.(*DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("%w: expected dictionary, got %T", ErrInvalidDictionary, resolved)
	}
	return dict, nil
}

// FileID returns the first element of the trailer /ID array.
func (d *Document) FileID() []byte {
	ids := d.Trailer.GetArray("ID")
	if len(ids) == 0 {
		return nil
	}
	if s, ok := ids[0].(*StringObject); ok {
		return s.Value
	}
	return nil
}

// EncryptRef returns the reference of the encryption dictionary, if indirect.
func (d *Document) EncryptRef() (Reference, bool) {
	ref, ok := d.Trailer.Get("Encrypt").(Reference)
	return ref, ok
}
