// Package extensions maintains the developer extension markers in a
// document catalog's /Extensions dictionary.
//
// Some encryption revisions postdate the PDF version they are written
// into. Readers learn about them from a marker such as
//
//	/Extensions << /ADBE << /Type /DeveloperExtensions /BaseVersion /1.7 /ExtensionLevel 3 >> >>
//
// ForEncryption picks the markers an encryption dictionary needs and
// Apply merges them into a catalog without downgrading markers that are
// already present.
package extensions

import (
	"fmt"
	"sort"

	"github.com/georgepadayatti/pdfcrypt/pdf/crypt"
	"github.com/georgepadayatti/pdfcrypt/pdf/generic"
)

// Multivalued controls how an extension is serialised when its prefix
// carries more than one entry (ISO 32000-2 allows an array).
type Multivalued int

const (
	// MultivaluedMaybe writes a single dictionary unless a second,
	// non-comparable entry shares the prefix.
	MultivaluedMaybe Multivalued = iota
	// MultivaluedAlways always writes an array.
	MultivaluedAlways
	// MultivaluedNever replaces whatever shares the prefix.
	MultivaluedNever
)

// DeveloperExtension is one entry of the /Extensions dictionary.
type DeveloperExtension struct {
	Prefix            string
	BaseVersion       string
	ExtensionLevel    int
	URL               string
	ExtensionRevision string
	Multivalued       Multivalued
}

// Well-known markers for encryption features.
var (
	// AES-256 with the revision 5 key derivation (Adobe extension level 3).
	ADBEExtensionLevel3 = DeveloperExtension{Prefix: "ADBE", BaseVersion: "1.7", ExtensionLevel: 3, Multivalued: MultivaluedNever}
	// AES-256 with the revision 6 key derivation in a 1.7 file.
	ADBEExtensionLevel8 = DeveloperExtension{Prefix: "ADBE", BaseVersion: "1.7", ExtensionLevel: 8, Multivalued: MultivaluedNever}
	// AES-GCM (ISO/TS 32003).
	ISO32003 = DeveloperExtension{
		Prefix:         "ISO_",
		BaseVersion:    "2.0",
		ExtensionLevel: 32003,
		URL:            "https://www.iso.org/standard/45876.html",
		Multivalued:    MultivaluedAlways,
	}
)

// ForEncryption returns the markers a document of the given header
// version needs once it is encrypted with dict.
func ForEncryption(dict *crypt.EncryptionDictionary, version string) []DeveloperExtension {
	var out []DeveloperExtension
	if dict.V == 6 || dict.StreamFilter().Method == crypt.MethodAESV4 {
		out = append(out, ISO32003)
	}
	if version < "2.0" {
		switch dict.R {
		case 5:
			out = append(out, ADBEExtensionLevel3)
		case 6:
			out = append(out, ADBEExtensionLevel8)
		}
	}
	return out
}

// ToPdfObject renders the extension dictionary.
func (e DeveloperExtension) ToPdfObject() *generic.DictionaryObject {
	d := generic.NewDictionary()
	d.Set("Type", generic.NameObject("DeveloperExtensions"))
	d.Set("BaseVersion", generic.NameObject(e.BaseVersion))
	d.Set("ExtensionLevel", generic.IntegerObject(e.ExtensionLevel))
	if e.URL != "" {
		d.Set("URL", generic.NewLiteralString(e.URL))
	}
	if e.ExtensionRevision != "" {
		d.Set("ExtensionRevision", generic.NewLiteralString(e.ExtensionRevision))
	}
	return d
}

// supersedes reports whether e makes other redundant. Levels are only
// compared within the same base version.
func (e DeveloperExtension) supersedes(other DeveloperExtension) bool {
	return e.BaseVersion == other.BaseVersion && e.ExtensionLevel >= other.ExtensionLevel
}

// Registry is the parsed content of an /Extensions dictionary.
type Registry struct {
	entries map[string][]DeveloperExtension
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string][]DeveloperExtension)}
}

// Parse reads an /Extensions dictionary. A nil dictionary yields an empty
// registry.
func Parse(dict *generic.DictionaryObject) (*Registry, error) {
	r := NewRegistry()
	if dict == nil {
		return r, nil
	}
	for _, prefix := range dict.Keys() {
		switch v := dict.Get(prefix).(type) {
		case *generic.DictionaryObject:
			ext, err := parseExtension(prefix, v)
			if err != nil {
				return nil, err
			}
			r.entries[prefix] = append(r.entries[prefix], ext)
		case generic.ArrayObject:
			for i, item := range v {
				d, ok := item.(*generic.DictionaryObject)
				if !ok {
					return nil, fmt.Errorf("extension %s[%d] is not a dictionary", prefix, i)
				}
				ext, err := parseExtension(prefix, d)
				if err != nil {
					return nil, err
				}
				ext.Multivalued = MultivaluedAlways
				r.entries[prefix] = append(r.entries[prefix], ext)
			}
		default:
			return nil, fmt.Errorf("extension %s has unexpected type %T", prefix, v)
		}
	}
	return r, nil
}

func parseExtension(prefix string, d *generic.DictionaryObject) (DeveloperExtension, error) {
	ext := DeveloperExtension{Prefix: prefix, BaseVersion: d.GetName("BaseVersion")}
	level, ok := d.GetInt("ExtensionLevel")
	if !ok || ext.BaseVersion == "" {
		return ext, fmt.Errorf("extension %s lacks /BaseVersion or /ExtensionLevel", prefix)
	}
	ext.ExtensionLevel = int(level)
	if b, ok := d.GetBytes("URL"); ok {
		ext.URL = string(b)
	}
	if b, ok := d.GetBytes("ExtensionRevision"); ok {
		ext.ExtensionRevision = string(b)
	}
	return ext, nil
}

// Register adds ext. It reports false when an existing entry already
// covers it.
func (r *Registry) Register(ext DeveloperExtension) bool {
	existing := r.entries[ext.Prefix]
	for i, e := range existing {
		if e.BaseVersion != ext.BaseVersion {
			continue
		}
		if e.supersedes(ext) {
			return false
		}
		existing[i] = ext
		return true
	}
	if ext.Multivalued == MultivaluedNever {
		r.entries[ext.Prefix] = []DeveloperExtension{ext}
		return true
	}
	r.entries[ext.Prefix] = append(existing, ext)
	return true
}

// Get returns the entries under prefix.
func (r *Registry) Get(prefix string) []DeveloperExtension {
	return r.entries[prefix]
}

// ToPdfObject renders the registry as an /Extensions dictionary with
// prefixes in sorted order.
func (r *Registry) ToPdfObject() *generic.DictionaryObject {
	prefixes := make([]string, 0, len(r.entries))
	for p := range r.entries {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	out := generic.NewDictionary()
	for _, p := range prefixes {
		exts := r.entries[p]
		if len(exts) == 1 && exts[0].Multivalued != MultivaluedAlways {
			out.Set(p, exts[0].ToPdfObject())
			continue
		}
		arr := make(generic.ArrayObject, 0, len(exts))
		for _, e := range exts {
			arr = append(arr, e.ToPdfObject())
		}
		out.Set(p, arr)
	}
	return out
}

// Apply registers exts in the catalog's /Extensions dictionary. resolve
// looks up indirect references and may be nil when none are expected.
// It reports whether the catalog changed.
func Apply(catalog *generic.DictionaryObject, resolve func(generic.PdfObject) (*generic.DictionaryObject, error), exts ...DeveloperExtension) (bool, error) {
	if len(exts) == 0 {
		return false, nil
	}
	var current *generic.DictionaryObject
	switch v := catalog.Get("Extensions").(type) {
	case nil:
	case *generic.DictionaryObject:
		current = v
	default:
		if resolve == nil {
			return false, fmt.Errorf("cannot resolve /Extensions of type %T", v)
		}
		d, err := resolve(v)
		if err != nil {
			return false, fmt.Errorf("failed to resolve /Extensions: %w", err)
		}
		current = d
	}

	reg, err := Parse(current)
	if err != nil {
		return false, err
	}
	changed := false
	for _, e := range exts {
		if reg.Register(e) {
			changed = true
		}
	}
	if changed {
		catalog.Set("Extensions", reg.ToPdfObject())
	}
	return changed, nil
}
