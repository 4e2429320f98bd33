package extensions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/pdfcrypt/pdf/crypt"
	"github.com/georgepadayatti/pdfcrypt/pdf/generic"
)

func standardDict(t *testing.T, revision int) *crypt.EncryptionDictionary {
	t.Helper()
	dict, _, err := crypt.EncryptNewDocument(crypt.StandardOptions{
		OwnerPassword: "owner",
		Revision:      revision,
		FileID:        []byte("0123456789abcdef"),
	})
	require.NoError(t, err, "R%d", revision)
	return dict
}

func TestForEncryption(t *testing.T) {
	tests := []struct {
		revision int
		version  string
		want     []DeveloperExtension
	}{
		{revision: 4, version: "1.7", want: nil},
		{revision: 5, version: "1.7", want: []DeveloperExtension{ADBEExtensionLevel3}},
		{revision: 6, version: "1.7", want: []DeveloperExtension{ADBEExtensionLevel8}},
		{revision: 6, version: "2.0", want: nil},
		{revision: 7, version: "2.0", want: []DeveloperExtension{ISO32003}},
	}
	for _, tt := range tests {
		got := ForEncryption(standardDict(t, tt.revision), tt.version)
		assert.Equal(t, tt.want, got, "R%d in %s", tt.revision, tt.version)
	}
}

func TestDeveloperExtensionToPdfObject(t *testing.T) {
	obj := DeveloperExtension{
		Prefix:            "ADBE",
		BaseVersion:       "1.7",
		ExtensionLevel:    3,
		URL:               "https://example.com/ext",
		ExtensionRevision: "2024-01",
	}.ToPdfObject()

	assert.Equal(t, "DeveloperExtensions", obj.GetName("Type"))
	assert.Equal(t, "1.7", obj.GetName("BaseVersion"))
	level, ok := obj.GetInt("ExtensionLevel")
	assert.True(t, ok)
	assert.EqualValues(t, 3, level)
	url, _ := obj.GetBytes("URL")
	assert.Equal(t, "https://example.com/ext", string(url))

	minimal := ADBEExtensionLevel8.ToPdfObject()
	assert.False(t, minimal.Has("URL"), "optional entries are omitted")
	assert.False(t, minimal.Has("ExtensionRevision"), "optional entries are omitted")
}

func TestRegistryKeepsHigherLevel(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Register(ADBEExtensionLevel8))
	assert.False(t, r.Register(ADBEExtensionLevel3), "a lower level must not replace a higher one")

	got := r.Get("ADBE")
	require.Len(t, got, 1)
	assert.Equal(t, 8, got[0].ExtensionLevel)
}

func TestRegistryUpgradesLevel(t *testing.T) {
	r := NewRegistry()
	r.Register(ADBEExtensionLevel3)
	require.True(t, r.Register(ADBEExtensionLevel8), "a higher level replaces a lower one")

	got := r.Get("ADBE")
	require.Len(t, got, 1)
	assert.Equal(t, 8, got[0].ExtensionLevel)
}

func TestRegistryMultivalued(t *testing.T) {
	r := NewRegistry()
	r.Register(DeveloperExtension{Prefix: "ISO_", BaseVersion: "2.0", ExtensionLevel: 32001})
	r.Register(DeveloperExtension{Prefix: "ISO_", BaseVersion: "2.1", ExtensionLevel: 1})

	arr, ok := r.ToPdfObject().Get("ISO_").(generic.ArrayObject)
	require.True(t, ok, "two entries of one prefix are written as an array")
	assert.Len(t, arr, 2)
}

func TestRegistryAlwaysMultivalued(t *testing.T) {
	r := NewRegistry()
	r.Register(ISO32003)
	assert.IsType(t, generic.ArrayObject{}, r.ToPdfObject().Get("ISO_"), "ISO_ markers are always written as an array")
}

func TestParse(t *testing.T) {
	dict := generic.NewDictionary()
	dict.Set("ADBE", ADBEExtensionLevel3.ToPdfObject())
	dict.Set("ISO_", generic.NewArray(ISO32003.ToPdfObject()))

	r, err := Parse(dict)
	require.NoError(t, err)

	adbe := r.Get("ADBE")
	require.Len(t, adbe, 1)
	assert.Equal(t, 3, adbe[0].ExtensionLevel)
	assert.Equal(t, "1.7", adbe[0].BaseVersion)

	iso := r.Get("ISO_")
	require.Len(t, iso, 1)
	assert.Equal(t, MultivaluedAlways, iso[0].Multivalued)
	assert.Equal(t, ISO32003.URL, iso[0].URL)
}

func TestParseInvalid(t *testing.T) {
	missingLevel := generic.NewDictionary()
	missingLevel.Set("BaseVersion", generic.NameObject("1.7"))

	tests := []struct {
		name  string
		value generic.PdfObject
	}{
		{"not a dictionary", generic.IntegerObject(3)},
		{"array of names", generic.NewArray(generic.NameObject("x"))},
		{"missing level", missingLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dict := generic.NewDictionary()
			dict.Set("ADBE", tt.value)
			_, err := Parse(dict)
			assert.Error(t, err)
		})
	}
}

func TestParseNil(t *testing.T) {
	r, err := Parse(nil)
	require.NoError(t, err)
	assert.Zero(t, r.ToPdfObject().Len())
}

func TestApply(t *testing.T) {
	catalog := generic.NewDictionary()
	catalog.Set("Type", generic.NameObject("Catalog"))

	changed, err := Apply(catalog, nil, ADBEExtensionLevel3)
	require.NoError(t, err)
	require.True(t, changed)
	ext := catalog.GetDict("Extensions")
	require.NotNil(t, ext)
	assert.NotNil(t, ext.GetDict("ADBE"))

	changed, err = Apply(catalog, nil, ADBEExtensionLevel3)
	require.NoError(t, err)
	assert.False(t, changed, "reapplying the same marker")

	changed, err = Apply(catalog, nil)
	require.NoError(t, err)
	assert.False(t, changed, "applying nothing")
}

func TestApplyIndirectExtensions(t *testing.T) {
	existing := generic.NewDictionary()
	existing.Set("ADBE", ADBEExtensionLevel8.ToPdfObject())
	ref := generic.NewReference(9, 0)

	catalog := generic.NewDictionary()
	catalog.Set("Extensions", ref)

	_, err := Apply(catalog, nil, ISO32003)
	assert.Error(t, err, "an indirect /Extensions needs a resolver")

	resolve := func(obj generic.PdfObject) (*generic.DictionaryObject, error) {
		require.Equal(t, ref, obj)
		return existing, nil
	}
	changed, err := Apply(catalog, resolve, ISO32003, ADBEExtensionLevel3)
	require.NoError(t, err)
	require.True(t, changed)

	ext := catalog.GetDict("Extensions")
	require.NotNil(t, ext, "a direct /Extensions dictionary replaces the reference")
	level, _ := ext.GetDict("ADBE").GetInt("ExtensionLevel")
	assert.EqualValues(t, 8, level, "ADBE level 8 is kept")
	assert.IsType(t, generic.ArrayObject{}, ext.Get("ISO_"))
}
