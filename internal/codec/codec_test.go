package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupDefaults(t *testing.T) {
	for _, name := range []string{"", "utf-8", "UTF8", " utf-8 "} {
		c, err := Lookup(name)
		require.NoError(t, err, name)
		assert.Same(t, UTF8, c, name)
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("klingon-7")
	require.ErrorIs(t, err, ErrUnknownEncoding)
}

func TestLatin1RoundTrip(t *testing.T) {
	latin, err := Lookup("latin1")
	require.NoError(t, err)
	assert.Equal(t, "windows-1252", latin.Name())

	b := latin.Encode("café")
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9}, b)
	assert.Equal(t, "café", latin.Decode(b))
}

func TestConvert(t *testing.T) {
	latin := MustLookup("windows-1252")
	in := []byte("café")
	out := Convert(UTF8, latin, in)
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9}, out)
	assert.Equal(t, in, Convert(latin, UTF8, out))
	assert.Equal(t, in, Convert(UTF8, UTF8, in))
}

func TestDecodeInvalidUTF8(t *testing.T) {
	assert.Equal(t, "�", UTF8.Decode([]byte{0xff}))
}

func TestNamesContainsCommonEncodings(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "utf-8")
	assert.Contains(t, names, "windows-1252")
	assert.Contains(t, names, "utf-16le")
}
