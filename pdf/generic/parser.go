package generic

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Common errors
var (
	ErrInvalidObject     = errors.New("invalid PDF object")
	ErrInvalidDictionary = errors.New("invalid PDF dictionary")
	ErrInvalidArray      = errors.New("invalid PDF array")
	ErrInvalidString     = errors.New("invalid PDF string")
	ErrInvalidName       = errors.New("invalid PDF name")
	ErrInvalidNumber     = errors.New("invalid PDF number")
	ErrInvalidStream     = errors.New("invalid PDF stream")
)

// Parser parses PDF objects from an in-memory byte slice.
type Parser struct {
	data []byte
	pos  int

	// lengths resolves an indirect stream /Length; nil when unavailable.
	lengths func(Reference) (int64, bool)
}

// NewParserFromBytes creates a parser from a byte slice.
func NewParserFromBytes(data []byte) *Parser {
	return &Parser{data: data}
}

// Pos returns the current offset.
func (p *Parser) Pos() int { return p.pos }

// Parse parses a single object from data, resolving "n g R" references and
// streams.
func Parse(data []byte) (PdfObject, error) {
	return NewParserFromBytes(data).ParseObject()
}

func isWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == 0
}

func isDelimiter(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (p *Parser) skipWhitespace() {
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		if b == '%' {
			for p.pos < len(p.data) && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
			continue
		}
		if !isWhitespace(b) {
			return
		}
		p.pos++
	}
}

func (p *Parser) peek() (byte, error) {
	if p.pos >= len(p.data) {
		return 0, io.ErrUnexpectedEOF
	}
	return p.data[p.pos], nil
}

// keyword reads a run of regular characters.
func (p *Parser) keyword() string {
	start := p.pos
	for p.pos < len(p.data) && !isWhitespace(p.data[p.pos]) && !isDelimiter(p.data[p.pos]) {
		p.pos++
	}
	return string(p.data[start:p.pos])
}

// ParseObject parses the next object. Integer pairs followed by R are
// returned as a Reference, dictionaries followed by the stream keyword as a
// *StreamObject.
func (p *Parser) ParseObject() (PdfObject, error) {
	p.skipWhitespace()
	b, err := p.peek()
	if err != nil {
		return nil, err
	}

	switch {
	case b == '(':
		return p.parseLiteralString()
	case b == '<':
		if p.pos+1 < len(p.data) && p.data[p.pos+1] == '<' {
			dict, err := p.parseDictionary()
			if err != nil {
				return nil, err
			}
			return p.maybeStream(dict)
		}
		return p.parseHexString()
	case b == '[':
		return p.parseArray()
	case b == '/':
		return p.parseName()
	case b == '-' || b == '+' || b == '.' || (b >= '0' && b <= '9'):
		return p.parseNumberOrReference()
	}

	start := p.pos
	switch kw := p.keyword(); kw {
	case "true":
		return BooleanObject(true), nil
	case "false":
		return BooleanObject(false), nil
	case "null":
		return NullObject{}, nil
	default:
		p.pos = start
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrInvalidObject, kw, start)
	}
}

func (p *Parser) parseLiteralString() (*StringObject, error) {
	p.pos++ // (
	var buf bytes.Buffer
	depth := 1
	for {
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("%w: unterminated string", ErrInvalidString)
		}
		b := p.data[p.pos]
		p.pos++
		switch b {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return &StringObject{Value: buf.Bytes()}, nil
			}
		case '\\':
			if p.pos >= len(p.data) {
				return nil, fmt.Errorf("%w: dangling escape", ErrInvalidString)
			}
			e := p.data[p.pos]
			p.pos++
			switch e {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '\r':
				if p.pos < len(p.data) && p.data[p.pos] == '\n' {
					p.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && p.pos < len(p.data); i++ {
						d := p.data[p.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						p.pos++
					}
					buf.WriteByte(byte(v))
				} else {
					buf.WriteByte(e)
				}
			}
			continue
		}
		buf.WriteByte(b)
	}
}

func (p *Parser) parseHexString() (*StringObject, error) {
	p.pos++ // <
	end := bytes.IndexByte(p.data[p.pos:], '>')
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated hex string", ErrInvalidString)
	}
	digits := make([]byte, 0, end)
	for _, c := range p.data[p.pos : p.pos+end] {
		if !isWhitespace(c) {
			digits = append(digits, c)
		}
	}
	p.pos += end + 1
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	value := make([]byte, len(digits)/2)
	if _, err := hex.Decode(value, digits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidString, err)
	}
	return &StringObject{Value: value, IsHex: true}, nil
}

func (p *Parser) parseName() (NameObject, error) {
	p.pos++ // /
	var buf bytes.Buffer
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		if c == '#' {
			if p.pos+2 >= len(p.data) {
				return "", fmt.Errorf("%w: truncated escape", ErrInvalidName)
			}
			v, err := strconv.ParseUint(string(p.data[p.pos+1:p.pos+3]), 16, 8)
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalidName, err)
			}
			buf.WriteByte(byte(v))
			p.pos += 3
			continue
		}
		buf.WriteByte(c)
		p.pos++
	}
	return NameObject(buf.String()), nil
}

func (p *Parser) parseNumber() (PdfObject, error) {
	tok := p.keyword()
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return IntegerObject(i), nil
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, tok)
	}
	return RealObject(f), nil
}

// parseNumberOrReference looks ahead for "gen R" after an integer.
func (p *Parser) parseNumberOrReference() (PdfObject, error) {
	first, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	objNum, ok := first.(IntegerObject)
	if !ok || objNum < 0 {
		return first, nil
	}

	save := p.pos
	p.skipWhitespace()
	if b, err := p.peek(); err != nil || b < '0' || b > '9' {
		p.pos = save
		return first, nil
	}
	gen, err := strconv.Atoi(p.keyword())
	if err != nil {
		p.pos = save
		return first, nil
	}
	p.skipWhitespace()
	if p.keyword() != "R" {
		p.pos = save
		return first, nil
	}
	return Reference{ObjectNumber: int(objNum), GenerationNumber: gen}, nil
}

func (p *Parser) parseArray() (ArrayObject, error) {
	p.pos++ // [
	arr := ArrayObject{}
	for {
		p.skipWhitespace()
		b, err := p.peek()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated array", ErrInvalidArray)
		}
		if b == ']' {
			p.pos++
			return arr, nil
		}
		item, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		arr = append(arr, item)
	}
}

func (p *Parser) parseDictionary() (*DictionaryObject, error) {
	p.pos += 2 // <<
	dict := NewDictionary()
	for {
		p.skipWhitespace()
		b, err := p.peek()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrInvalidDictionary)
		}
		if b == '>' {
			if p.pos+1 >= len(p.data) || p.data[p.pos+1] != '>' {
				return nil, fmt.Errorf("%w: expected '>>'", ErrInvalidDictionary)
			}
			p.pos += 2
			return dict, nil
		}
		if b != '/' {
			return nil, fmt.Errorf("%w: key is not a name at offset %d", ErrInvalidDictionary, p.pos)
		}
		key, err := p.parseName()
		if err != nil {
			return nil, err
		}
		value, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("%w: value of /%s: %v", ErrInvalidDictionary, key, err)
		}
		dict.Set(string(key), value)
	}
}

// streamLength returns /Length, resolving a reference when the parser can.
func (p *Parser) streamLength(dict *DictionaryObject) (int64, bool) {
	if n, ok := dict.GetInt("Length"); ok {
		return n, true
	}
	if ref, ok := dict.Get("Length").(Reference); ok && p.lengths != nil {
		return p.lengths(ref)
	}
	return 0, false
}

// maybeStream attaches stream data when the dictionary is followed by the
// stream keyword. /Length is trusted when it lands on endstream, otherwise
// the data runs to the next endstream keyword minus one end-of-line marker.
func (p *Parser) maybeStream(dict *DictionaryObject) (PdfObject, error) {
	save := p.pos
	p.skipWhitespace()
	if !bytes.HasPrefix(p.data[p.pos:], []byte("stream")) {
		p.pos = save
		return dict, nil
	}
	p.pos += len("stream")
	if p.pos < len(p.data) && p.data[p.pos] == '\r' {
		p.pos++
	}
	if p.pos < len(p.data) && p.data[p.pos] == '\n' {
		p.pos++
	}
	start := p.pos

	if n, ok := p.streamLength(dict); ok && n >= 0 && start+int(n) <= len(p.data) {
		end := start + int(n)
		rest := bytes.TrimLeft(p.data[end:], " \r\n")
		if bytes.HasPrefix(rest, []byte("endstream")) {
			p.pos = len(p.data) - len(rest) + len("endstream")
			return &StreamObject{Dictionary: dict, Data: p.data[start:end]}, nil
		}
	}

	idx := bytes.Index(p.data[start:], []byte("endstream"))
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing endstream", ErrInvalidStream)
	}
	data := trimEOL(p.data[start : start+idx])
	p.pos = start + idx + len("endstream")
	return &StreamObject{Dictionary: dict, Data: data}, nil
}

// trimEOL removes exactly one trailing CRLF, LF or CR.
func trimEOL(data []byte) []byte {
	switch {
	case bytes.HasSuffix(data, []byte("\r\n")):
		return data[:len(data)-2]
	case bytes.HasSuffix(data, []byte("\n")), bytes.HasSuffix(data, []byte("\r")):
		return data[:len(data)-1]
	}
	return data
}

// ParseIndirectObject parses "n g obj ... endobj".
func (p *Parser) ParseIndirectObject() (*IndirectObject, error) {
	p.skipWhitespace()
	objNum, err := strconv.Atoi(p.keyword())
	if err != nil {
		return nil, fmt.Errorf("%w: bad object number", ErrInvalidObject)
	}
	p.skipWhitespace()
	gen, err := strconv.Atoi(p.keyword())
	if err != nil {
		return nil, fmt.Errorf("%w: bad generation number", ErrInvalidObject)
	}
	p.skipWhitespace()
	if p.keyword() != "obj" {
		return nil, fmt.Errorf("%w: expected obj keyword", ErrInvalidObject)
	}
	obj, err := p.ParseObject()
	if err != nil {
		return nil, err
	}
	p.skipWhitespace()
	if p.keyword() != "endobj" {
		return nil, fmt.Errorf("%w: expected endobj after %d %d obj", ErrInvalidObject, objNum, gen)
	}
	return &IndirectObject{Reference: Reference{ObjectNumber: objNum, GenerationNumber: gen}, Object: obj}, nil
}
