package crypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/pdfcrypt/pdf/generic"
)

func TestDocumentKeyStringsAndStreams(t *testing.T) {
	for _, revision := range []int{3, 4, 6, 7} {
		_, key, err := EncryptNewDocument(StandardOptions{UserPassword: "u", Revision: revision, FileID: testFileID})
		require.NoError(t, err)

		plain := []byte("(Hello) stream body")
		enc, err := key.EncryptStream(plain, 7, 0)
		require.NoError(t, err, "R%d", revision)
		require.NotEqual(t, plain, enc, "R%d: stream not encrypted", revision)
		dec, err := key.DecryptStream(enc, 7, 0)
		require.NoError(t, err, "R%d", revision)
		assert.Equal(t, plain, dec, "R%d", revision)

		encStr, _ := key.EncryptString([]byte("title"), 7, 0)
		if revision < 5 {
			// legacy per-object keys: another object number must not decrypt
			other, err := key.DecryptString(encStr, 8, 0)
			if err == nil {
				assert.NotEqual(t, "title", string(other), "R%d: object key does not depend on the object number", revision)
			}
		}
		got, err := key.DecryptString(encStr, 7, 0)
		require.NoError(t, err, "R%d", revision)
		assert.Equal(t, "title", string(got), "R%d", revision)
	}
}

func TestDocumentKeyObjectKeyModern(t *testing.T) {
	_, key, err := EncryptNewDocument(StandardOptions{Revision: 6})
	require.NoError(t, err)
	assert.Equal(t, key.Bytes(), key.ObjectKey(MethodAESV3, 1, 0), "AESV3 uses the file key directly")
	assert.Len(t, key.ObjectKey(MethodAESV2, 1, 0), 16)
}

func TestDocumentKeyEncryptDecryptObject(t *testing.T) {
	_, key, err := EncryptNewDocument(StandardOptions{Revision: 4, FileID: testFileID, PlaintextMetadata: true})
	require.NoError(t, err)
	ref := generic.NewReference(5, 0)

	build := func() *generic.DictionaryObject {
		sig := generic.NewDictionary()
		sig.Set("Type", generic.NameObject("Sig"))
		sig.Set("Contents", generic.NewHexString([]byte{0x30, 0x82}))
		sig.Set("Reason", generic.NewLiteralString("approval"))

		meta := generic.NewDictionary()
		meta.Set("Type", generic.NameObject("Metadata"))

		root := generic.NewDictionary()
		root.Set("Title", generic.NewLiteralString("report"))
		root.Set("Kids", generic.NewArray(generic.NewLiteralString("a"), generic.IntegerObject(1)))
		root.Set("V", sig)
		root.Set("Body", generic.NewStream(nil, []byte("BT ET")))
		root.Set("Meta", generic.NewStream(meta, []byte("<x:xmpmeta/>")))
		return root
	}

	original := build()
	obj := build()
	require.NoError(t, key.EncryptObject(obj, ref))

	title, _ := obj.GetBytes("Title")
	assert.NotEqual(t, "report", string(title), "string not encrypted")
	contents, _ := obj.GetDict("V").GetBytes("Contents")
	assert.Equal(t, []byte{0x30, 0x82}, contents, "signature /Contents stays in the clear")
	assert.Equal(t, "<x:xmpmeta/>", string(obj.Get("Meta").(*generic.StreamObject).Data), "metadata kept in the clear")
	assert.NotEqual(t, "BT ET", string(obj.Get("Body").(*generic.StreamObject).Data), "stream not encrypted")

	require.NoError(t, key.DecryptObject(obj, ref))
	assert.Equal(t, string(generic.Serialize(original)), string(generic.Serialize(obj)))
}

func TestDocumentKeyCryptFilterOverride(t *testing.T) {
	_, key, err := EncryptNewDocument(StandardOptions{Revision: 6})
	require.NoError(t, err)
	dict := generic.NewDictionary()
	dict.Set("Filter", generic.NewArray(generic.NameObject("Crypt")))
	parms := generic.NewDictionary()
	parms.Set("Name", generic.NameObject("Identity"))
	dict.Set("DecodeParms", generic.NewArray(parms))
	stream := generic.NewStream(dict, []byte("clear"))

	require.NoError(t, key.EncryptObject(stream, generic.NewReference(9, 0)))
	assert.Equal(t, "clear", string(stream.Data), "Identity crypt filter ignored")

	parms.Set("Name", generic.NameObject("Nope"))
	err = key.DecryptObject(stream, generic.NewReference(9, 0))
	assert.ErrorIs(t, err, ErrMissingDefaultCryptFilter)
}

func TestDocumentKeyTamperedStream(t *testing.T) {
	_, key, err := EncryptNewDocument(StandardOptions{Revision: 7})
	require.NoError(t, err)
	enc, _ := key.EncryptStream([]byte("payload"), 3, 0)
	enc[len(enc)-1] ^= 0xFF
	_, err = key.DecryptStream(enc, 3, 0)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}
