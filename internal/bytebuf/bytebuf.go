// Package bytebuf provides the byte-slice primitives used by filter stages.
//
// Every function is pure: inputs are never modified. Functions document when
// they return their input unchanged instead of a fresh copy.
package bytebuf

import (
	"unicode"
	"unicode/utf8"

	"msgrelay/internal/codec"
)

// Join returns a new slice holding a followed by b.
func Join(a, b []byte) []byte {
	out := make([]byte, len(a)+len(b))
	copy(out, a)
	copy(out[len(a):], b)
	return out
}

// Extract copies count bytes of arr starting at start.
func Extract(arr []byte, start, count int) []byte {
	out := make([]byte, count)
	copy(out, arr[start:start+count])
	return out
}

// ExtractFrom copies arr from start to the end.
func ExtractFrom(arr []byte, start int) []byte {
	return Extract(arr, start, len(arr)-start)
}

// IndexOf returns the offset of the first occurrence of needle in arr, or -1.
// Empty arr or needle never match.
func IndexOf(arr, needle []byte) int {
	a, f := len(arr), len(needle)
	if a == 0 || f == 0 || f > a {
		return -1
	}
	for i := 0; i <= a-f; i++ {
		if Equals(arr[i:i+f], needle) {
			return i
		}
	}
	return -1
}

// Equals compares a and b byte by byte. Empty slices are never equal.
func Equals(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CountOccurrences counts the non-overlapping occurrences of needle in arr,
// scanning left to right. It returns -1 when either slice is empty; that
// value is a sentinel, not a count.
func CountOccurrences(arr, needle []byte) int {
	if len(arr) == 0 || len(needle) == 0 {
		return -1
	}
	n := 0
	for rest := arr; ; {
		pos := IndexOf(rest, needle)
		if pos < 0 {
			return n
		}
		n++
		rest = rest[pos+len(needle):]
	}
}

// RemoveFirst drops the first n bytes. arr is returned unchanged when n is
// larger than arr or negative.
func RemoveFirst(arr []byte, n int) []byte {
	if n > len(arr) || n < 0 {
		return arr
	}
	return ExtractFrom(arr, n)
}

// RemoveLast drops the last n bytes. arr is returned unchanged when n is
// larger than arr or negative.
func RemoveLast(arr []byte, n int) []byte {
	if n > len(arr) || n < 0 {
		return arr
	}
	return Extract(arr, 0, len(arr)-n)
}

// ReplaceFirst replaces the first occurrence of old with repl. arr is
// returned unchanged when old does not occur.
func ReplaceFirst(arr, old, repl []byte) []byte {
	if len(arr) == 0 || len(old) == 0 {
		return arr
	}
	pos := IndexOf(arr, old)
	if pos < 0 {
		return arr
	}
	out := Join(Extract(arr, 0, pos), repl)
	return Join(out, ExtractFrom(arr, pos+len(old)))
}

// ReplaceAll applies ReplaceFirst until old no longer occurs. The result is
// rescanned from the start after every replacement, so the call never returns
// when a replacement can produce old again: repl containing old, or repl
// joining with its neighbours into old (old "ab", repl "bbaa" on "aab").
// Callers that cannot rule this out must replace in a single pass instead.
func ReplaceAll(arr, old, repl []byte) []byte {
	if len(arr) == 0 || len(old) == 0 {
		return arr
	}
	out := arr
	for IndexOf(out, old) >= 0 {
		out = ReplaceFirst(out, old, repl)
	}
	return out
}

// Split cuts arr at every occurrence of sep. When either slice is empty the
// result is a single element holding arr.
func Split(arr, sep []byte) [][]byte {
	if len(arr) == 0 || len(sep) == 0 {
		return [][]byte{arr}
	}
	parts := make([][]byte, 0, CountOccurrences(arr, sep)+1)
	rest := arr
	for {
		pos := IndexOf(rest, sep)
		if pos < 0 {
			break
		}
		parts = append(parts, Extract(rest, 0, pos))
		rest = rest[pos+len(sep):]
	}
	return append(parts, Extract(rest, 0, len(rest)))
}

// TrimStart drops leading bytes that are not word characters. Each byte is
// decoded on its own with c, so bytes belonging to multi-byte sequences are
// treated as non-word characters.
func TrimStart(arr []byte, c *codec.Codec) []byte {
	n := 0
	for i := 0; i < len(arr); i++ {
		if isWord(arr[i:i+1], c) {
			break
		}
		n++
	}
	return RemoveFirst(arr, n)
}

// TrimEnd drops trailing bytes that are not word characters, decoding one
// byte at a time like TrimStart.
func TrimEnd(arr []byte, c *codec.Codec) []byte {
	n := 0
	for i := len(arr) - 1; i >= 0; i-- {
		if isWord(arr[i:i+1], c) {
			break
		}
		n++
	}
	return RemoveLast(arr, n)
}

// Trim is TrimEnd(TrimStart(arr)).
func Trim(arr []byte, c *codec.Codec) []byte {
	return TrimEnd(TrimStart(arr, c), c)
}

func isWord(unit []byte, c *codec.Codec) bool {
	s := c.Decode(unit)
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
			return true
		}
		s = s[size:]
	}
	return false
}
