// Package filters decodes and encodes PDF stream data.
package filters

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/hhrutter/lzw"

	"github.com/georgepadayatti/pdfcrypt/pdf/generic"
)

// Common errors
var (
	ErrUnsupportedFilter = errors.New("unsupported filter")
	ErrDecodeFailed      = errors.New("decode failed")
)

// Filter represents a PDF stream filter.
type Filter interface {
	Decode(data []byte, params *generic.DictionaryObject) ([]byte, error)
	Encode(data []byte, params *generic.DictionaryObject) ([]byte, error)
	Name() string
}

// FlateDecodeFilter implements the FlateDecode filter (zlib compression).
// Predictors are not supported.
type FlateDecodeFilter struct{}

// Name implements Filter.
func (f *FlateDecodeFilter) Name() string {
	return "FlateDecode"
}

// Decode implements Filter.
func (f *FlateDecodeFilter) Decode(data []byte, params *generic.DictionaryObject) ([]byte, error) {
	if params != nil {
		if p, ok := params.GetInt("Predictor"); ok && p > 1 {
			return nil, fmt.Errorf("%w: FlateDecode predictor %d", ErrUnsupportedFilter, p)
		}
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return buf.Bytes(), nil
}

// Encode implements Filter.
func (f *FlateDecodeFilter) Encode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("flate encode failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("flate encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

// LZWDecodeFilter implements the LZWDecode filter. /EarlyChange defaults
// to 1.
type LZWDecodeFilter struct{}

// Name implements Filter.
func (f *LZWDecodeFilter) Name() string {
	return "LZWDecode"
}

func earlyChange(params *generic.DictionaryObject) bool {
	if params != nil {
		if v, ok := params.GetInt("EarlyChange"); ok {
			return v != 0
		}
	}
	return true
}

// Decode implements Filter.
func (f *LZWDecodeFilter) Decode(data []byte, params *generic.DictionaryObject) ([]byte, error) {
	if params != nil {
		if p, ok := params.GetInt("Predictor"); ok && p > 1 {
			return nil, fmt.Errorf("%w: LZWDecode predictor %d", ErrUnsupportedFilter, p)
		}
	}
	rc := lzw.NewReader(bytes.NewReader(data), earlyChange(params))
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return buf.Bytes(), nil
}

// Encode implements Filter.
func (f *LZWDecodeFilter) Encode(data []byte, params *generic.DictionaryObject) ([]byte, error) {
	var buf bytes.Buffer
	wc := lzw.NewWriter(&buf, earlyChange(params))
	if _, err := wc.Write(data); err != nil {
		return nil, fmt.Errorf("lzw encode failed: %w", err)
	}
	if err := wc.Close(); err != nil {
		return nil, fmt.Errorf("lzw encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

// ASCIIHexDecodeFilter implements the ASCIIHexDecode filter.
type ASCIIHexDecodeFilter struct{}

// Name implements Filter.
func (f *ASCIIHexDecodeFilter) Name() string {
	return "ASCIIHexDecode"
}

// Decode implements Filter.
func (f *ASCIIHexDecodeFilter) Decode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	var cleaned bytes.Buffer
	for _, b := range data {
		if b == '>' {
			break
		}
		if !isWhitespace(b) {
			cleaned.WriteByte(b)
		}
	}
	if cleaned.Len()%2 != 0 {
		cleaned.WriteByte('0')
	}
	out, err := hex.DecodeString(cleaned.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return out, nil
}

// Encode implements Filter.
func (f *ASCIIHexDecodeFilter) Encode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	return []byte(hex.EncodeToString(data) + ">"), nil
}

// ASCII85DecodeFilter implements the ASCII85Decode filter.
type ASCII85DecodeFilter struct{}

// Name implements Filter.
func (f *ASCII85DecodeFilter) Name() string {
	return "ASCII85Decode"
}

// Decode implements Filter.
func (f *ASCII85DecodeFilter) Decode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	if end := bytes.Index(data, []byte("~>")); end != -1 {
		data = data[:end]
	}
	var cleaned bytes.Buffer
	for _, b := range data {
		if !isWhitespace(b) {
			cleaned.WriteByte(b)
		}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, ascii85.NewDecoder(&cleaned)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return buf.Bytes(), nil
}

// Encode implements Filter.
func (f *ASCII85DecodeFilter) Encode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	var buf bytes.Buffer
	encoder := ascii85.NewEncoder(&buf)
	if _, err := encoder.Write(data); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	buf.WriteString("~>")
	return buf.Bytes(), nil
}

// CryptFilter stands in for /Crypt entries in a filter chain. Decryption
// happens before decoding, so it passes data through.
type CryptFilter struct{}

// Name implements Filter.
func (f *CryptFilter) Name() string { return "Crypt" }

// Decode implements Filter.
func (f *CryptFilter) Decode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	return data, nil
}

// Encode implements Filter.
func (f *CryptFilter) Encode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	return data, nil
}

func isWhitespace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f', 0:
		return true
	}
	return false
}

// Registry holds all registered filters.
var Registry = map[string]Filter{
	"FlateDecode":    &FlateDecodeFilter{},
	"Fl":             &FlateDecodeFilter{},
	"LZWDecode":      &LZWDecodeFilter{},
	"LZW":            &LZWDecodeFilter{},
	"ASCIIHexDecode": &ASCIIHexDecodeFilter{},
	"AHx":            &ASCIIHexDecodeFilter{},
	"ASCII85Decode":  &ASCII85DecodeFilter{},
	"A85":            &ASCII85DecodeFilter{},
	"Crypt":          &CryptFilter{},
}

// GetFilter returns a filter by name.
func GetFilter(name string) (Filter, error) {
	if f, ok := Registry[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
}

// chain reads /Filter and /DecodeParms, either of which may be a single
// entry or an array.
func chain(dict *generic.DictionaryObject) ([]string, []*generic.DictionaryObject) {
	var names []string
	if arr := dict.GetArray("Filter"); arr != nil {
		for _, item := range arr {
			if n, ok := item.(generic.NameObject); ok {
				names = append(names, string(n))
			}
		}
	} else if n := dict.GetName("Filter"); n != "" {
		names = []string{n}
	}

	parms := make([]*generic.DictionaryObject, len(names))
	if arr := dict.GetArray("DecodeParms"); arr != nil {
		for i := range parms {
			if i < len(arr) {
				parms[i], _ = arr[i].(*generic.DictionaryObject)
			}
		}
	} else if len(parms) > 0 {
		parms[0] = dict.GetDict("DecodeParms")
	}
	return names, parms
}

// DecodeStream returns the decoded data of s, applying its filter chain in
// order.
func DecodeStream(s *generic.StreamObject) ([]byte, error) {
	names, parms := chain(s.Dictionary)
	result := s.Data
	for i, name := range names {
		filter, err := GetFilter(name)
		if err != nil {
			return nil, err
		}
		if result, err = filter.Decode(result, parms[i]); err != nil {
			return nil, fmt.Errorf("filter %s decode failed: %w", name, err)
		}
	}
	return result, nil
}

// EncodeStream builds a stream holding data encoded with filters, which
// are listed in decoding order.
func EncodeStream(data []byte, filters ...string) (*generic.StreamObject, error) {
	result := data
	for i := len(filters) - 1; i >= 0; i-- {
		filter, err := GetFilter(filters[i])
		if err != nil {
			return nil, err
		}
		if result, err = filter.Encode(result, nil); err != nil {
			return nil, fmt.Errorf("filter %s encode failed: %w", filters[i], err)
		}
	}

	dict := generic.NewDictionary()
	switch len(filters) {
	case 0:
	case 1:
		dict.Set("Filter", generic.NameObject(filters[0]))
	default:
		arr := make(generic.ArrayObject, len(filters))
		for i, f := range filters {
			arr[i] = generic.NameObject(f)
		}
		dict.Set("Filter", arr)
	}
	return generic.NewStream(dict, result), nil
}
