package ltv

import (
	"bytes"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/georgepadayatti/pdfcrypt/certvalidator/revinfo"
	"github.com/georgepadayatti/pdfcrypt/pdf/crypt"
	"github.com/georgepadayatti/pdfcrypt/pdf/filters"
	"github.com/georgepadayatti/pdfcrypt/pdf/generic"
)

// Common errors
var (
	ErrNoDSS      = errors.New("no DSS found in document")
	ErrInvalidDSS = errors.New("invalid DSS structure")
)

// DSS represents a Document Security Store.
type DSS struct {
	Certs []*x509.Certificate
	OCSPs [][]byte
	CRLs  [][]byte

	// VRI maps signature hashes to their validation related information.
	VRI map[string]*VRIEntry
}

// VRIEntry represents Validation Related Information for a signature.
type VRIEntry struct {
	SignatureHash string
	Certs         []*x509.Certificate
	OCSPs         [][]byte
	CRLs          [][]byte
	// Timestamp is when this VRI entry was created.
	Timestamp *time.Time
}

// NewDSS creates a new empty DSS.
func NewDSS() *DSS {
	return &DSS{VRI: make(map[string]*VRIEntry)}
}

// AddCertificate adds a certificate to the DSS.
func (d *DSS) AddCertificate(cert *x509.Certificate) {
	d.Certs = appendCert(d.Certs, cert)
}

// AddOCSPResponse adds an OCSP response to the DSS.
func (d *DSS) AddOCSPResponse(resp []byte) {
	d.OCSPs = appendBlob(d.OCSPs, resp)
}

// AddCRL adds a CRL to the DSS.
func (d *DSS) AddCRL(crl []byte) {
	d.CRLs = appendBlob(d.CRLs, crl)
}

// AddArchive copies every certificate and revocation blob of a.
func (d *DSS) AddArchive(a *revinfo.Archive) {
	for _, cert := range a.AllCertificates() {
		d.AddCertificate(cert)
	}
	for _, der := range a.RawOCSPs() {
		d.AddOCSPResponse(der)
	}
	for _, der := range a.RawCRLs() {
		d.AddCRL(der)
	}
}

// GetVRI gets or creates a VRI entry for a signature.
func (d *DSS) GetVRI(sigHash string) *VRIEntry {
	if vri, ok := d.VRI[sigHash]; ok {
		return vri
	}
	vri := &VRIEntry{SignatureHash: sigHash}
	d.VRI[sigHash] = vri
	return vri
}

// AddVRICert adds a certificate to a VRI entry and to the store.
func (d *DSS) AddVRICert(sigHash string, cert *x509.Certificate) {
	vri := d.GetVRI(sigHash)
	vri.Certs = appendCert(vri.Certs, cert)
	d.AddCertificate(cert)
}

// AddVRIOCSP adds an OCSP response to a VRI entry and to the store.
func (d *DSS) AddVRIOCSP(sigHash string, resp []byte) {
	vri := d.GetVRI(sigHash)
	vri.OCSPs = appendBlob(vri.OCSPs, resp)
	d.AddOCSPResponse(resp)
}

// AddVRICRL adds a CRL to a VRI entry and to the store.
func (d *DSS) AddVRICRL(sigHash string, crl []byte) {
	vri := d.GetVRI(sigHash)
	vri.CRLs = appendBlob(vri.CRLs, crl)
	d.AddCRL(crl)
}

// ComputeSignatureHash returns the VRI key for a signature value: the
// uppercase hex SHA-1 of its /Contents bytes.
func ComputeSignatureHash(signature []byte) string {
	sum := sha1.Sum(signature)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// IsEmpty returns true if the DSS contains no data.
func (d *DSS) IsEmpty() bool {
	return len(d.Certs) == 0 && len(d.OCSPs) == 0 && len(d.CRLs) == 0 && len(d.VRI) == 0
}

// Summary returns a summary of the DSS contents.
func (d *DSS) Summary() string {
	return fmt.Sprintf("DSS: %d certs, %d OCSPs, %d CRLs, %d VRI entries",
		len(d.Certs), len(d.OCSPs), len(d.CRLs), len(d.VRI))
}

// Archive parses the stored evidence into a revocation archive.
func (d *DSS) Archive() (*revinfo.Archive, error) {
	a := revinfo.NewArchive()
	for _, cert := range d.Certs {
		a.AddCertificate(cert)
	}
	if err := a.AddRaw(nil, d.CRLs, d.OCSPs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDSS, err)
	}
	return a, nil
}

func streamArray(blobs [][]byte) (generic.ArrayObject, error) {
	arr := make(generic.ArrayObject, len(blobs))
	for i, blob := range blobs {
		s, err := filters.EncodeStream(blob, "FlateDecode")
		if err != nil {
			return nil, err
		}
		arr[i] = s
	}
	return arr, nil
}

func certBlobs(certs []*x509.Certificate) [][]byte {
	out := make([][]byte, len(certs))
	for i, c := range certs {
		out[i] = c.Raw
	}
	return out
}

// ToPdfObject converts the DSS to a PDF dictionary. Every certificate, CRL
// and OCSP response becomes a FlateDecode stream; the caller decides
// whether to make them indirect.
func (d *DSS) ToPdfObject() (*generic.DictionaryObject, error) {
	dict := generic.NewDictionary()
	dict.Set("Type", generic.NameObject("DSS"))

	for _, entry := range []struct {
		key   string
		blobs [][]byte
	}{
		{"Certs", certBlobs(d.Certs)},
		{"OCSPs", d.OCSPs},
		{"CRLs", d.CRLs},
	} {
		if len(entry.blobs) == 0 {
			continue
		}
		arr, err := streamArray(entry.blobs)
		if err != nil {
			return nil, err
		}
		dict.Set(entry.key, arr)
	}

	if len(d.VRI) > 0 {
		vriDict := generic.NewDictionary()
		for hash, vri := range d.VRI {
			entry, err := vri.ToPdfObject()
			if err != nil {
				return nil, err
			}
			vriDict.Set(hash, entry)
		}
		dict.Set("VRI", vriDict)
	}
	return dict, nil
}

// ToPdfObject converts a VRI entry to a PDF dictionary.
func (v *VRIEntry) ToPdfObject() (*generic.DictionaryObject, error) {
	dict := generic.NewDictionary()
	for _, entry := range []struct {
		key   string
		blobs [][]byte
	}{
		{"Cert", certBlobs(v.Certs)},
		{"OCSP", v.OCSPs},
		{"CRL", v.CRLs},
	} {
		if len(entry.blobs) == 0 {
			continue
		}
		arr, err := streamArray(entry.blobs)
		if err != nil {
			return nil, err
		}
		dict.Set(entry.key, arr)
	}
	if v.Timestamp != nil {
		dict.Set("TU", generic.NewLiteralString(pdfDate(*v.Timestamp)))
	}
	return dict, nil
}

func pdfDate(t time.Time) string {
	return "D:" + t.UTC().Format("20060102150405") + "Z"
}

func parsePDFDate(s string) (time.Time, bool) {
	s = strings.TrimPrefix(s, "D:")
	s = strings.TrimSuffix(strings.TrimSuffix(s, "'"), "Z")
	if len(s) < 14 {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102150405", s[:14])
	return t, err == nil
}

// Resolver follows indirect references. *generic.Document implements it.
type Resolver interface {
	Resolve(obj generic.PdfObject) (generic.PdfObject, error)
}

type dssReader struct {
	resolver Resolver
	key      *crypt.DocumentKey
}

// DSSOption configures ParseDSS.
type DSSOption func(*dssReader)

// WithResolver resolves indirect entries through r.
func WithResolver(r Resolver) DSSOption {
	return func(d *dssReader) { d.resolver = r }
}

// WithDecryption decrypts the referenced streams of an encrypted document.
func WithDecryption(key *crypt.DocumentKey) DSSOption {
	return func(d *dssReader) { d.key = key }
}

func (r *dssReader) resolve(obj generic.PdfObject) (generic.PdfObject, error) {
	if _, ok := obj.(generic.Reference); !ok || r.resolver == nil {
		return obj, nil
	}
	return r.resolver.Resolve(obj)
}

// streams returns the decoded contents of every stream in the array at
// key.
func (r *dssReader) streams(dict *generic.DictionaryObject, key string) ([][]byte, error) {
	obj, err := r.resolve(dict.Get(key))
	if err != nil || obj == nil {
		return nil, err
	}
	arr, ok := obj.(generic.ArrayObject)
	if !ok {
		return nil, fmt.Errorf("%w: /%s is %T", ErrInvalidDSS, key, obj)
	}

	var out [][]byte
	for i, item := range arr {
		ref, indirect := item.(generic.Reference)
		target, err := r.resolve(item)
		if err != nil {
			return nil, fmt.Errorf("/%s[%d]: %w", key, i, err)
		}
		stream, ok := target.(*generic.StreamObject)
		if !ok {
			return nil, fmt.Errorf("%w: /%s[%d] is %T", ErrInvalidDSS, key, i, target)
		}
		if r.key != nil && indirect {
			stream = stream.Clone().(*generic.StreamObject)
			if err := r.key.DecryptObject(stream, ref); err != nil {
				return nil, fmt.Errorf("/%s[%d]: %w", key, i, err)
			}
		}
		data, err := filters.DecodeStream(stream)
		if err != nil {
			return nil, fmt.Errorf("/%s[%d]: %w", key, i, err)
		}
		out = append(out, data)
	}
	return out, nil
}

func parseCerts(blobs [][]byte) ([]*x509.Certificate, error) {
	out := make([]*x509.Certificate, 0, len(blobs))
	for i, der := range blobs {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: certificate %d: %v", ErrInvalidDSS, i, err)
		}
		out = append(out, cert)
	}
	return out, nil
}

// ParseDSS parses a /DSS dictionary.
func ParseDSS(dict *generic.DictionaryObject, opts ...DSSOption) (*DSS, error) {
	if dict == nil {
		return nil, ErrNoDSS
	}
	r := &dssReader{}
	for _, opt := range opts {
		opt(r)
	}

	dss := NewDSS()
	certs, err := r.streams(dict, "Certs")
	if err != nil {
		return nil, err
	}
	if dss.Certs, err = parseCerts(certs); err != nil {
		return nil, err
	}
	if dss.OCSPs, err = r.streams(dict, "OCSPs"); err != nil {
		return nil, err
	}
	if dss.CRLs, err = r.streams(dict, "CRLs"); err != nil {
		return nil, err
	}

	vriObj, err := r.resolve(dict.Get("VRI"))
	if err != nil {
		return nil, err
	}
	if vriDict, ok := vriObj.(*generic.DictionaryObject); ok {
		for _, hash := range vriDict.Keys() {
			entryObj, err := r.resolve(vriDict.Get(hash))
			if err != nil {
				return nil, err
			}
			entryDict, ok := entryObj.(*generic.DictionaryObject)
			if !ok {
				continue
			}
			vri, err := r.parseVRIEntry(hash, entryDict)
			if err != nil {
				return nil, fmt.Errorf("VRI %s: %w", hash, err)
			}
			dss.VRI[hash] = vri
		}
	}
	return dss, nil
}

func (r *dssReader) parseVRIEntry(hash string, dict *generic.DictionaryObject) (*VRIEntry, error) {
	vri := &VRIEntry{SignatureHash: hash}
	certs, err := r.streams(dict, "Cert")
	if err != nil {
		return nil, err
	}
	if vri.Certs, err = parseCerts(certs); err != nil {
		return nil, err
	}
	if vri.OCSPs, err = r.streams(dict, "OCSP"); err != nil {
		return nil, err
	}
	if vri.CRLs, err = r.streams(dict, "CRL"); err != nil {
		return nil, err
	}
	if tu, ok := dict.Get("TU").(*generic.StringObject); ok {
		if t, ok := parsePDFDate(string(tu.Value)); ok {
			vri.Timestamp = &t
		}
	}
	return vri, nil
}

// ReadDSS locates /Root /DSS in a scanned document and parses it.
func ReadDSS(doc *generic.Document, opts ...DSSOption) (*DSS, error) {
	root, err := doc.ResolveDict(doc.Trailer.Get("Root"))
	if err != nil {
		return nil, fmt.Errorf("%w: catalog: %v", ErrNoDSS, err)
	}
	if !root.Has("DSS") {
		return nil, ErrNoDSS
	}
	dict, err := doc.ResolveDict(root.Get("DSS"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDSS, err)
	}
	return ParseDSS(dict, append([]DSSOption{WithResolver(doc)}, opts...)...)
}

func appendCert(certs []*x509.Certificate, cert *x509.Certificate) []*x509.Certificate {
	for _, existing := range certs {
		if bytes.Equal(existing.Raw, cert.Raw) {
			return certs
		}
	}
	return append(certs, cert)
}

func appendBlob(blobs [][]byte, blob []byte) [][]byte {
	for _, existing := range blobs {
		if bytes.Equal(existing, blob) {
			return blobs
		}
	}
	return append(blobs, blob)
}
