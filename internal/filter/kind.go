package filter

import (
	"fmt"
	"strings"
)

// Kind selects the transformation a Stage performs.
type Kind int

const (
	KindAppend Kind = iota
	KindPrepend
	KindRemoveFirst
	KindRemoveLast
	KindReplace
	KindSplit
	KindContains
	KindTrim
	KindTrimStart
	KindTrimEnd
	KindDelay
	KindStartOver
)

var kindNames = [...]string{
	KindAppend:      "Append",
	KindPrepend:     "Prepend",
	KindRemoveFirst: "RemoveFirst",
	KindRemoveLast:  "RemoveLast",
	KindReplace:     "Replace",
	KindSplit:       "Split",
	KindContains:    "Contains",
	KindTrim:        "Trim",
	KindTrimStart:   "TrimStart",
	KindTrimEnd:     "TrimEnd",
	KindDelay:       "Delay",
	KindStartOver:   "StartOver",
}

// Kinds lists every kind in catalogue order.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind accepts a catalogue name in any letter case, with or without a
// "Filter" suffix ("append", "AppendFilter").
func ParseKind(s string) (Kind, error) {
	name := strings.TrimSpace(s)
	if len(name) > len("filter") && strings.EqualFold(name[len(name)-len("filter"):], "filter") {
		name = name[:len(name)-len("filter")]
	}
	for i, n := range kindNames {
		if strings.EqualFold(n, name) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Shape describes the parameters a kind takes.
type Shape int

const (
	ShapeNone Shape = iota
	ShapeOneString
	ShapeOneInt
	ShapeTwoString
	ShapeOneStringOneInt
	ShapeOneStringOneBool
)

func (s Shape) String() string {
	switch s {
	case ShapeNone:
		return "none"
	case ShapeOneString:
		return "one-string"
	case ShapeOneInt:
		return "one-int"
	case ShapeTwoString:
		return "two-string"
	case ShapeOneStringOneInt:
		return "one-string+one-int"
	case ShapeOneStringOneBool:
		return "one-string+one-bool"
	default:
		return "unknown"
	}
}

// Shape returns the parameter shape of k.
func (k Kind) Shape() Shape {
	switch k {
	case KindAppend, KindPrepend:
		return ShapeOneString
	case KindRemoveFirst, KindRemoveLast, KindDelay:
		return ShapeOneInt
	case KindReplace:
		return ShapeTwoString
	case KindSplit:
		return ShapeOneStringOneInt
	case KindContains:
		return ShapeOneStringOneBool
	default:
		return ShapeNone
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// PersistedName is the kind name stored in preference files.
func (k Kind) PersistedName() string { return k.String() + "Filter" }
