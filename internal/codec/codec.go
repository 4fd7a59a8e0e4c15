// Package codec resolves text encodings by name and converts between bytes
// and strings for endpoints and filter pipelines.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultName is the encoding used when none is configured.
const DefaultName = "utf-8"

var ErrUnknownEncoding = errors.New("unknown encoding")

// Codec is a named text encoding. The zero value is not usable; use Lookup
// or UTF8.
type Codec struct {
	name string
	enc  encoding.Encoding
}

// UTF8 is the default codec.
var UTF8 = &Codec{name: DefaultName, enc: unicode.UTF8}

// Lookup returns the codec registered under a WHATWG label such as
// "utf-8", "latin1", "windows-1252" or "utf-16le".
func Lookup(name string) (*Codec, error) {
	label := strings.ToLower(strings.TrimSpace(name))
	if label == "" || label == DefaultName || label == "utf8" {
		return UTF8, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = label
	}
	if canonical == DefaultName {
		return UTF8, nil
	}
	return &Codec{name: canonical, enc: enc}, nil
}

// MustLookup is Lookup for names known at compile time.
func MustLookup(name string) *Codec {
	c, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the canonical label.
func (c *Codec) Name() string {
	if c == nil {
		return DefaultName
	}
	return c.name
}

func (c *Codec) String() string { return c.Name() }

// Equal reports whether both codecs encode text identically.
func (c *Codec) Equal(other *Codec) bool {
	return c.Name() == other.Name()
}

// Decode converts b to a string. Invalid sequences become U+FFFD.
func (c *Codec) Decode(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if c == nil || c == UTF8 {
		return strings.ToValidUTF8(string(b), "�")
	}
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}

// Encode converts s to bytes. Characters the encoding cannot represent are
// replaced by the encoding's substitution byte.
func (c *Codec) Encode(s string) []byte {
	if s == "" {
		return []byte{}
	}
	if c == nil || c == UTF8 {
		return []byte(s)
	}
	out, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

// Convert re-encodes b from src to dst.
func Convert(src, dst *Codec, b []byte) []byte {
	if src.Equal(dst) {
		return b
	}
	return dst.Encode(src.Decode(b))
}

// Names lists the canonical labels of every supported encoding.
func Names() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, group := range [][]encoding.Encoding{unicode.All, charmap.All} {
		for _, enc := range group {
			name, err := htmlindex.Name(enc)
			if err != nil {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
