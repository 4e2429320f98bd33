// Package reader unpacks compressed object streams (/Type /ObjStm) so that
// every object of a document is addressable on its own.
package reader

import (
	"errors"
	"fmt"

	"github.com/georgepadayatti/pdfcrypt/pdf/filters"
	"github.com/georgepadayatti/pdfcrypt/pdf/generic"
)

// ErrInvalidObjectStream is returned for malformed object streams.
var ErrInvalidObjectStream = errors.New("invalid object stream")

// Decrypter decrypts an object in place; *crypt.DocumentKey implements it.
type Decrypter interface {
	DecryptObject(obj generic.PdfObject, ref generic.Reference) error
}

// ObjectStream is a decoded object stream.
type ObjectStream struct {
	// N is the number of objects in the stream.
	N int

	// First is the byte offset of the first object.
	First int

	// numbers and offsets come from the header pairs, in stream order
	numbers []int
	offsets []int

	data []byte
}

// IsObjectStream reports whether obj is an object stream.
func IsObjectStream(obj generic.PdfObject) bool {
	s, ok := obj.(*generic.StreamObject)
	return ok && s.Dictionary.GetName("Type") == "ObjStm"
}

// ParseObjectStream decodes stream and reads its header.
func ParseObjectStream(stream *generic.StreamObject) (*ObjectStream, error) {
	dict := stream.Dictionary

	n, ok := dict.GetInt("N")
	if !ok || n < 0 {
		return nil, fmt.Errorf("%w: missing /N", ErrInvalidObjectStream)
	}
	first, ok := dict.GetInt("First")
	if !ok || first < 0 {
		return nil, fmt.Errorf("%w: missing /First", ErrInvalidObjectStream)
	}

	data, err := filters.DecodeStream(stream)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidObjectStream, err)
	}
	if int(first) > len(data) {
		return nil, fmt.Errorf("%w: /First %d beyond %d bytes", ErrInvalidObjectStream, first, len(data))
	}

	os := &ObjectStream{N: int(n), First: int(first), data: data}
	parser := generic.NewParserFromBytes(data[:first])
	for i := 0; i < os.N; i++ {
		num, err := parser.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("%w: header pair %d: %v", ErrInvalidObjectStream, i, err)
		}
		off, err := parser.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("%w: header pair %d: %v", ErrInvalidObjectStream, i, err)
		}
		objNum, ok1 := num.(generic.IntegerObject)
		offset, ok2 := off.(generic.IntegerObject)
		if !ok1 || !ok2 || objNum <= 0 || offset < 0 || int(first)+int(offset) > len(data) {
			return nil, fmt.Errorf("%w: bad header pair %d", ErrInvalidObjectStream, i)
		}
		os.numbers = append(os.numbers, int(objNum))
		os.offsets = append(os.offsets, int(offset))
	}
	return os, nil
}

// Object parses the object at index. Objects in a stream always have
// generation 0.
func (os *ObjectStream) Object(index int) (generic.Reference, generic.PdfObject, error) {
	if index < 0 || index >= os.N {
		return generic.Reference{}, nil, fmt.Errorf("object index %d out of range [0, %d)", index, os.N)
	}

	start := os.First + os.offsets[index]
	end := len(os.data)
	if index+1 < os.N {
		end = os.First + os.offsets[index+1]
	}
	if end < start {
		return generic.Reference{}, nil, fmt.Errorf("%w: offsets out of order at %d", ErrInvalidObjectStream, index)
	}

	ref := generic.NewReference(os.numbers[index], 0)
	obj, err := generic.NewParserFromBytes(os.data[start:end]).ParseObject()
	if err != nil {
		return ref, nil, fmt.Errorf("object %s: %w", ref, err)
	}
	return ref, obj, nil
}

// Expand replaces every object stream in objects by the objects it holds.
// Objects already present, such as newer revisions from an incremental
// update, are kept. With a non-nil dec, the streams are decrypted first;
// their contents are then plaintext. Expand returns the number of objects
// added.
func Expand(objects map[generic.Reference]generic.PdfObject, dec Decrypter) (int, error) {
	present := make(map[int]bool, len(objects))
	var streams []generic.Reference
	for ref, obj := range objects {
		present[ref.ObjectNumber] = true
		if IsObjectStream(obj) {
			streams = append(streams, ref)
		}
	}

	added := 0
	for _, ref := range streams {
		stream := objects[ref].(*generic.StreamObject)
		if dec != nil {
			stream = stream.Clone().(*generic.StreamObject)
			if err := dec.DecryptObject(stream, ref); err != nil {
				return added, fmt.Errorf("object stream %s: %w", ref, err)
			}
		}
		os, err := ParseObjectStream(stream)
		if err != nil {
			return added, fmt.Errorf("object stream %s: %w", ref, err)
		}
		for i := 0; i < os.N; i++ {
			objRef, obj, err := os.Object(i)
			if err != nil {
				return added, fmt.Errorf("object stream %s: %w", ref, err)
			}
			if present[objRef.ObjectNumber] {
				continue
			}
			objects[objRef] = obj
			present[objRef.ObjectNumber] = true
			added++
		}
		delete(objects, ref)
	}
	return added, nil
}
