package crypt

import (
	"fmt"
	"sort"

	"github.com/georgepadayatti/pdfcrypt/pdf/generic"
)

// Filter names and well-known crypt filter names.
const (
	FilterStandard = "Standard"
	FilterPubSec   = "Adobe.PubSec"

	SubFilterS3 = "adbe.pkcs7.s3"
	SubFilterS4 = "adbe.pkcs7.s4"
	SubFilterS5 = "adbe.pkcs7.s5"

	IdentityFilter      = "Identity"
	StandardFilterName  = "StdCF"
	PubKeyFilterName    = "DefaultCryptFilter"
	authEventDocOpen    = "DocOpen"
	defaultLegacyLength = 40
)

// CryptFilter is one entry of /CF.
type CryptFilter struct {
	Method     CryptMethod
	Length     int // key length in bytes
	AuthEvent  string
	Recipients []Recipient
}

// EncryptionDictionary is the parsed, validated form of /Encrypt.
// It is not modified after construction.
type EncryptionDictionary struct {
	Filter    string
	SubFilter string
	V         int
	R         int
	Length    int // top-level /Length in bits
	P         int32

	EncryptMetadata bool

	CryptFilters map[string]CryptFilter
	StmF         string
	StrF         string
	EFF          string

	// Standard security handler entries.
	O, U, OE, UE, Perms []byte

	// Top-level /Recipients, used by public-key security below /V 4.
	Recipients []Recipient

	// synthesised marks a /CF map built from the pre-/V 4 layout; it is
	// not written back.
	synthesised bool
}

// Permissions returns the access flags stored in /P.
func (d *EncryptionDictionary) Permissions() Permissions {
	return PermissionsFromWire(d.P)
}

// Modern reports whether the dictionary uses the SHA-256 based key schedule.
func (d *EncryptionDictionary) Modern() bool {
	return d.V >= 5
}

// CryptFilter returns the named crypt filter; Identity yields MethodNone.
func (d *EncryptionDictionary) CryptFilter(name string) (CryptFilter, bool) {
	if name == IdentityFilter {
		return CryptFilter{Method: MethodNone}, true
	}
	cf, ok := d.CryptFilters[name]
	return cf, ok
}

// StreamFilter returns the filter applied to streams.
func (d *EncryptionDictionary) StreamFilter() CryptFilter {
	cf, _ := d.CryptFilter(d.StmF)
	return cf
}

// StringFilter returns the filter applied to strings.
func (d *EncryptionDictionary) StringFilter() CryptFilter {
	cf, _ := d.CryptFilter(d.StrF)
	return cf
}

// RecipientList returns the recipients that carry the document key for
// public-key security.
func (d *EncryptionDictionary) RecipientList() []Recipient {
	if d.V >= 4 && !d.synthesised {
		for _, name := range []string{d.StmF, d.StrF, d.EFF} {
			if cf, ok := d.CryptFilters[name]; ok && len(cf.Recipients) > 0 {
				return cf.Recipients
			}
		}
	}
	return d.Recipients
}

// keyLength returns the file key length in bytes.
func (d *EncryptionDictionary) keyLength() int {
	if d.V >= 5 {
		return 32
	}
	if d.V >= 4 {
		if cf, ok := d.CryptFilters[d.StmF]; ok && cf.Method != MethodNone {
			return cf.Length
		}
		if cf, ok := d.CryptFilters[d.StrF]; ok && cf.Method != MethodNone {
			return cf.Length
		}
		return 16
	}
	return d.Length / 8
}

// ParseEncryptionDictionary validates and converts a wire dictionary.
func ParseEncryptionDictionary(dict *generic.DictionaryObject) (*EncryptionDictionary, error) {
	d := &EncryptionDictionary{
		Filter:          dict.GetName("Filter"),
		SubFilter:       dict.GetName("SubFilter"),
		EncryptMetadata: true,
		CryptFilters:    map[string]CryptFilter{},
	}
	if d.Filter == "" {
		return nil, dictErr("Filter", ErrMalformedEncryption, "missing")
	}
	if d.Filter != FilterStandard && d.Filter != FilterPubSec {
		return nil, dictErr("Filter", ErrUnsupportedEncryption, "security handler %q", d.Filter)
	}

	v, _ := dict.GetInt("V")
	switch v {
	case 1, 2, 4, 5, 6:
	default:
		return nil, dictErr("V", ErrUnsupportedEncryption, "algorithm version %d", v)
	}
	d.V = int(v)

	length, ok := dict.GetInt("Length")
	if !ok {
		length = defaultLegacyLength
	}
	d.Length = int(length)
	if d.V < 4 && (d.Length < 40 || d.Length > 128 || d.Length%8 != 0) {
		return nil, dictErr("Length", ErrUnsupportedEncryption, "%d-bit key", d.Length)
	}
	if d.V == 1 {
		d.Length = defaultLegacyLength
	}

	if p, ok := dict.GetInt("P"); ok {
		d.P = int32(uint32(p))
	} else if d.Filter == FilterStandard {
		return nil, dictErr("P", ErrMalformedEncryption, "missing")
	} else {
		d.P = PermAll.Wire()
	}
	if em, ok := dict.GetBool("EncryptMetadata"); ok {
		d.EncryptMetadata = em
	}

	if err := d.parseCryptFilters(dict); err != nil {
		return nil, err
	}

	var err error
	switch d.Filter {
	case FilterStandard:
		err = d.parseStandard(dict)
	case FilterPubSec:
		err = d.parsePubSec(dict)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *EncryptionDictionary) parseCryptFilters(dict *generic.DictionaryObject) error {
	if d.V < 4 {
		name := StandardFilterName
		if d.Filter == FilterPubSec {
			name = PubKeyFilterName
		}
		d.CryptFilters[name] = CryptFilter{Method: MethodRC4, Length: d.Length / 8, AuthEvent: authEventDocOpen}
		d.StmF, d.StrF, d.EFF = name, name, name
		d.synthesised = true
		return nil
	}

	cfDict := dict.GetDict("CF")
	if cfDict == nil {
		return dictErr("CF", ErrMissingCryptFilter, "required for /V %d", d.V)
	}
	for _, name := range cfDict.Keys() {
		entry := cfDict.GetDict(name)
		if entry == nil {
			return dictErr("CF", ErrMalformedEncryption, "/%s is not a dictionary", name)
		}
		cf, err := parseCryptFilter(name, entry, d.Length)
		if err != nil {
			return err
		}
		d.CryptFilters[name] = cf
	}

	d.StmF = nameOr(dict, "StmF", IdentityFilter)
	d.StrF = nameOr(dict, "StrF", IdentityFilter)
	d.EFF = nameOr(dict, "EFF", d.StmF)
	for _, ref := range []struct{ key, name string }{{"StmF", d.StmF}, {"StrF", d.StrF}, {"EFF", d.EFF}} {
		if _, ok := d.CryptFilter(ref.name); !ok {
			return dictErr(ref.key, ErrMissingDefaultCryptFilter, "/CF has no entry /%s", ref.name)
		}
	}

	// public-key filters carry /EncryptMetadata themselves
	if entry := cfDict.GetDict(d.StmF); d.Filter == FilterPubSec && entry != nil {
		if em, ok := entry.GetBool("EncryptMetadata"); ok {
			d.EncryptMetadata = em
		}
	}
	return nil
}

func parseCryptFilter(name string, entry *generic.DictionaryObject, topLength int) (CryptFilter, error) {
	method, err := ParseCryptMethod(nameOr(entry, "CFM", string(MethodNone)))
	if err != nil {
		return CryptFilter{}, &DictionaryError{Key: "CF/" + name, Err: err}
	}
	cf := CryptFilter{Method: method, AuthEvent: nameOr(entry, "AuthEvent", authEventDocOpen)}

	switch l, ok := entry.GetInt("Length"); {
	case !ok && method == MethodRC4:
		cf.Length = topLength / 8
	case !ok:
		cf.Length = method.DefaultKeyLength()
	case l >= 40:
		cf.Length = int(l / 8)
	default:
		cf.Length = int(l)
	}
	if err := method.CheckKeyLength(cf.Length); err != nil && method != MethodNone {
		return CryptFilter{}, dictErr("CF/"+name, ErrUnsupportedEncryption, "%v", err)
	}

	for i, item := range entry.GetArray("Recipients") {
		s, ok := item.(*generic.StringObject)
		if !ok {
			return CryptFilter{}, dictErr("CF/"+name+"/Recipients", ErrMalformedEncryption, "entry %d is %T", i, item)
		}
		r, err := ParseRecipient(s.Value)
		if err != nil {
			return CryptFilter{}, &DictionaryError{Key: "CF/" + name + "/Recipients", Err: err}
		}
		cf.Recipients = append(cf.Recipients, r)
	}
	return cf, nil
}

func (d *EncryptionDictionary) parseStandard(dict *generic.DictionaryObject) error {
	r, ok := dict.GetInt("R")
	if !ok {
		return dictErr("R", ErrMalformedEncryption, "missing")
	}
	d.R = int(r)
	switch {
	case d.R >= 2 && d.R <= 4 && d.V <= 4:
	case (d.R == 5 || d.R == 6) && d.V == 5:
	case d.R == 7 && d.V == 6:
	default:
		return dictErr("R", ErrUnsupportedEncryption, "revision %d with /V %d", d.R, d.V)
	}

	hashLen := 32
	if d.R >= 5 {
		hashLen = 48
	}
	var err error
	if d.O, err = fixedBytes(dict, "O", hashLen); err != nil {
		return err
	}
	if d.U, err = fixedBytes(dict, "U", hashLen); err != nil {
		return err
	}
	if d.R >= 5 {
		if d.OE, err = fixedBytes(dict, "OE", 32); err != nil {
			return err
		}
		if d.UE, err = fixedBytes(dict, "UE", 32); err != nil {
			return err
		}
	}
	if d.R >= 6 {
		if d.Perms, err = fixedBytes(dict, "Perms", 16); err != nil {
			return err
		}
	}
	return nil
}

func (d *EncryptionDictionary) parsePubSec(dict *generic.DictionaryObject) error {
	switch d.SubFilter {
	case SubFilterS3, SubFilterS4, SubFilterS5:
	default:
		return dictErr("SubFilter", ErrUnsupportedEncryption, "public-key sub-filter %q", d.SubFilter)
	}
	if d.SubFilter == SubFilterS5 && d.V < 4 {
		return dictErr("SubFilter", ErrMalformedEncryption, "%s requires crypt filters", SubFilterS5)
	}

	for i, item := range dict.GetArray("Recipients") {
		s, ok := item.(*generic.StringObject)
		if !ok {
			return dictErr("Recipients", ErrMalformedEncryption, "entry %d is %T", i, item)
		}
		r, err := ParseRecipient(s.Value)
		if err != nil {
			return &DictionaryError{Key: "Recipients", Err: err}
		}
		d.Recipients = append(d.Recipients, r)
	}
	if len(d.RecipientList()) == 0 {
		return dictErr("Recipients", ErrMalformedEncryption, "no recipients")
	}
	return nil
}

func nameOr(dict *generic.DictionaryObject, key, def string) string {
	if n := dict.GetName(key); n != "" {
		return n
	}
	return def
}

// fixedBytes reads a string entry of at least n bytes and truncates it to n;
// trailing padding is common in the wild.
func fixedBytes(dict *generic.DictionaryObject, key string, n int) ([]byte, error) {
	b, ok := dict.GetBytes(key)
	if !ok {
		return nil, dictErr(key, ErrMalformedEncryption, "missing")
	}
	if len(b) < n {
		return nil, dictErr(key, ErrMalformedEncryption, "%d bytes, want %d", len(b), n)
	}
	return b[:n], nil
}

// ToPdfObject renders the dictionary in wire form.
func (d *EncryptionDictionary) ToPdfObject() *generic.DictionaryObject {
	out := generic.NewDictionary()
	out.Set("Filter", generic.NameObject(d.Filter))
	if d.SubFilter != "" {
		out.Set("SubFilter", generic.NameObject(d.SubFilter))
	}
	out.Set("V", generic.IntegerObject(d.V))
	if d.R != 0 {
		out.Set("R", generic.IntegerObject(d.R))
	}
	out.Set("Length", generic.IntegerObject(d.Length))
	out.Set("P", generic.IntegerObject(d.P))
	if !d.EncryptMetadata {
		out.Set("EncryptMetadata", generic.BooleanObject(false))
	}

	if !d.synthesised {
		cf := generic.NewDictionary()
		names := make([]string, 0, len(d.CryptFilters))
		for name := range d.CryptFilters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			cf.Set(name, d.CryptFilters[name].toPdfObject(d))
		}
		out.Set("CF", cf)
		out.Set("StmF", generic.NameObject(d.StmF))
		out.Set("StrF", generic.NameObject(d.StrF))
		if d.EFF != d.StmF {
			out.Set("EFF", generic.NameObject(d.EFF))
		}
	}

	for _, entry := range []struct {
		key   string
		value []byte
	}{{"O", d.O}, {"U", d.U}, {"OE", d.OE}, {"UE", d.UE}, {"Perms", d.Perms}} {
		if entry.value != nil {
			out.Set(entry.key, generic.NewHexString(entry.value))
		}
	}
	if len(d.Recipients) > 0 {
		out.Set("Recipients", recipientsArray(d.Recipients))
	}
	return out
}

func (cf CryptFilter) toPdfObject(d *EncryptionDictionary) *generic.DictionaryObject {
	out := generic.NewDictionary()
	out.Set("Type", generic.NameObject("CryptFilter"))
	out.Set("CFM", generic.NameObject(cf.Method))
	out.Set("AuthEvent", generic.NameObject(cf.AuthEvent))
	if cf.Method != MethodNone {
		out.Set("Length", generic.IntegerObject(cf.Length))
	}
	if len(cf.Recipients) > 0 {
		out.Set("Recipients", recipientsArray(cf.Recipients))
		if !d.EncryptMetadata {
			out.Set("EncryptMetadata", generic.BooleanObject(false))
		}
	}
	return out
}

func recipientsArray(rs []Recipient) generic.ArrayObject {
	arr := make(generic.ArrayObject, len(rs))
	for i, r := range rs {
		arr[i] = generic.NewHexString(r.Envelope)
	}
	return arr
}

// String summarises the dictionary for logs and the inspect command.
func (d *EncryptionDictionary) String() string {
	return fmt.Sprintf("%s V%d R%d stm=%s(%s) str=%s(%s) perms=%s",
		d.Filter, d.V, d.R, d.StmF, d.StreamFilter().Method, d.StrF, d.StringFilter().Method, d.Permissions())
}
