package crypt

import (
	"bytes"
	"fmt"
	"io"

	"github.com/georgepadayatti/pdfcrypt/pdf/generic"
)

// DocumentKey is the file key of one open document together with the crypt
// filters that say how to apply it. It belongs to the handler that produced
// it and must not be shared between documents.
type DocumentKey struct {
	key         []byte
	dict        *EncryptionDictionary
	status      AuthStatus
	permissions Permissions
	rand        io.Reader
}

func newDocumentKey(key []byte, dict *EncryptionDictionary, status AuthStatus, perms Permissions, rnd io.Reader) *DocumentKey {
	return &DocumentKey{key: key, dict: dict, status: status, permissions: perms, rand: rnd}
}

// Bytes returns a copy of the file key.
func (k *DocumentKey) Bytes() []byte {
	return bytes.Clone(k.key)
}

// Status reports which credential produced the key.
func (k *DocumentKey) Status() AuthStatus { return k.status }

// Permissions returns the access flags granted with this key. Owner access
// grants everything.
func (k *DocumentKey) Permissions() Permissions {
	if k.status == AuthOwner {
		return PermAll
	}
	return k.permissions
}

// ObjectKey returns the key for object (objNum, genNum) under method. AESV3
// and AESV4 use the file key directly.
func (k *DocumentKey) ObjectKey(method CryptMethod, objNum, genNum int) []byte {
	if !method.usesObjectKeys() {
		return k.Bytes()
	}
	return legacyObjectKey(k.key, objNum, genNum, method == MethodAESV2)
}

func (k *DocumentKey) filter(name string) (CryptFilter, error) {
	cf, ok := k.dict.CryptFilter(name)
	if !ok {
		return CryptFilter{}, fmt.Errorf("%w: /%s", ErrMissingDefaultCryptFilter, name)
	}
	return cf, nil
}

// EncryptWith encrypts data for object (objNum, genNum) with a named crypt
// filter.
func (k *DocumentKey) EncryptWith(filterName string, data []byte, objNum, genNum int) ([]byte, error) {
	cf, err := k.filter(filterName)
	if err != nil {
		return nil, err
	}
	return cf.Method.Encrypt(k.rand, k.ObjectKey(cf.Method, objNum, genNum), data)
}

// DecryptWith decrypts data for object (objNum, genNum) with a named crypt
// filter.
func (k *DocumentKey) DecryptWith(filterName string, data []byte, objNum, genNum int) ([]byte, error) {
	cf, err := k.filter(filterName)
	if err != nil {
		return nil, err
	}
	out, err := cf.Method.Decrypt(k.ObjectKey(cf.Method, objNum, genNum), data)
	if err != nil {
		return nil, fmt.Errorf("object %d %d: %w", objNum, genNum, err)
	}
	return out, nil
}

// EncryptString applies /StrF.
func (k *DocumentKey) EncryptString(data []byte, objNum, genNum int) ([]byte, error) {
	return k.EncryptWith(k.dict.StrF, data, objNum, genNum)
}

// DecryptString applies /StrF.
func (k *DocumentKey) DecryptString(data []byte, objNum, genNum int) ([]byte, error) {
	return k.DecryptWith(k.dict.StrF, data, objNum, genNum)
}

// EncryptStream applies /StmF.
func (k *DocumentKey) EncryptStream(data []byte, objNum, genNum int) ([]byte, error) {
	return k.EncryptWith(k.dict.StmF, data, objNum, genNum)
}

// DecryptStream applies /StmF.
func (k *DocumentKey) DecryptStream(data []byte, objNum, genNum int) ([]byte, error) {
	return k.DecryptWith(k.dict.StmF, data, objNum, genNum)
}

// DecryptObject decrypts, in place, every string and stream reachable from
// obj without following references. ref identifies the enclosing indirect
// object. Cross-reference streams, the /Contents of signature dictionaries
// and streams that name their own /Crypt filter are handled as the file
// format requires.
func (k *DocumentKey) DecryptObject(obj generic.PdfObject, ref generic.Reference) error {
	return k.walk(obj, ref, false)
}

// EncryptObject is the inverse of DecryptObject.
func (k *DocumentKey) EncryptObject(obj generic.PdfObject, ref generic.Reference) error {
	return k.walk(obj, ref, true)
}

func (k *DocumentKey) walk(obj generic.PdfObject, ref generic.Reference, encrypt bool) error {
	apply := k.DecryptWith
	if encrypt {
		apply = k.EncryptWith
	}

	switch o := obj.(type) {
	case *generic.StringObject:
		out, err := apply(k.dict.StrF, o.Value, ref.ObjectNumber, ref.GenerationNumber)
		if err != nil {
			return err
		}
		o.Value = out
	case generic.ArrayObject:
		for _, item := range o {
			if err := k.walk(item, ref, encrypt); err != nil {
				return err
			}
		}
	case *generic.DictionaryObject:
		isSig := o.GetName("Type") == "Sig" || o.GetName("Type") == "DocTimeStamp"
		for _, key := range o.Keys() {
			if isSig && key == "Contents" {
				continue
			}
			if err := k.walk(o.Get(key), ref, encrypt); err != nil {
				return err
			}
		}
	case *generic.StreamObject:
		if o.Dictionary.GetName("Type") == "XRef" {
			return nil
		}
		if err := k.walk(o.Dictionary, ref, encrypt); err != nil {
			return err
		}
		filterName := k.streamFilterName(o.Dictionary)
		if !k.dict.EncryptMetadata && o.Dictionary.GetName("Type") == "Metadata" {
			filterName = IdentityFilter
		}
		out, err := apply(filterName, o.Data, ref.ObjectNumber, ref.GenerationNumber)
		if err != nil {
			return err
		}
		o.Data = out
	case *generic.IndirectObject:
		return k.walk(o.Object, o.Reference, encrypt)
	}
	return nil
}

// streamFilterName honours a /Crypt entry in the stream's own /Filter chain,
// falling back to /StmF.
func (k *DocumentKey) streamFilterName(dict *generic.DictionaryObject) string {
	filters := dict.GetArray("Filter")
	if filters == nil {
		if n := dict.GetName("Filter"); n != "" {
			filters = generic.ArrayObject{generic.NameObject(n)}
		}
	}
	for i, f := range filters {
		if f != generic.NameObject("Crypt") {
			continue
		}
		parms := dict.GetDict("DecodeParms")
		if arr := dict.GetArray("DecodeParms"); arr != nil && i < len(arr) {
			parms, _ = arr[i].(*generic.DictionaryObject)
		}
		if parms != nil {
			if name := parms.GetName("Name"); name != "" {
				return name
			}
		}
		return IdentityFilter
	}
	return k.dict.StmF
}
