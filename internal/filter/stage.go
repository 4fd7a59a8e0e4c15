// Package filter implements the ordered transformation pipeline applied to
// every relayed payload, including the $variable substitution language used
// by stage parameters.
package filter

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"msgrelay/internal/bytebuf"
	"msgrelay/internal/codec"
	"msgrelay/internal/observe"
)

const (
	// DefaultDelay is the initial Delay duration in milliseconds.
	DefaultDelay = 100
	MinDelay     = 1
	MaxDelay     = 1_000_000
)

// Stage is one named, enableable transformation. Which parameters are used
// depends on the kind's Shape:
//
//	Text    Append/Prepend text, Replace search text, Split separator, Contains needle
//	Text2   Replace replacement
//	Number  RemoveFirst/RemoveLast count, Split part index (1-based), Delay milliseconds
//	Flag    Replace all occurrences, Contains negate
type Stage struct {
	mu      sync.RWMutex
	kind    Kind
	name    string
	enabled bool
	text    string
	text2   string
	number  int
	flag    bool
	parts   [][]byte

	notifier observe.Notifier
}

// NewStage returns a disabled stage named after its kind.
func NewStage(kind Kind) *Stage {
	s := &Stage{kind: kind, name: kind.String()}
	switch kind {
	case KindDelay:
		s.number = DefaultDelay
	case KindReplace:
		s.flag = true
	}
	return s
}

func (s *Stage) Kind() Kind   { return s.kind }
func (s *Stage) Shape() Shape { return s.kind.Shape() }

// Subscribe registers a property-change handler.
func (s *Stage) Subscribe(fn observe.Handler) func() { return s.notifier.Subscribe(fn) }

func (s *Stage) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// SetName renames a stage that is not yet part of a pipeline. Use
// Pipeline.Rename for stages already added.
func (s *Stage) SetName(name string) {
	s.mu.Lock()
	if name == "" {
		name = s.kind.String()
	}
	s.name = name
	s.mu.Unlock()
	s.notifier.Notify("Name")
}

func (s *Stage) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

func (s *Stage) SetEnabled(v bool) {
	s.mu.Lock()
	s.enabled = v
	s.mu.Unlock()
	s.notifier.Notify("Enabled")
}

func (s *Stage) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}

func (s *Stage) SetText(v string) {
	s.mu.Lock()
	s.text = v
	s.mu.Unlock()
	s.notifier.Notify("Text")
}

func (s *Stage) Text2() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text2
}

func (s *Stage) SetText2(v string) {
	s.mu.Lock()
	s.text2 = v
	s.mu.Unlock()
	s.notifier.Notify("Text2")
}

func (s *Stage) Number() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.number
}

// SetNumber assigns the integer parameter. Delay values outside
// [MinDelay, MaxDelay] are rejected: the previous value is kept and false
// is returned.
func (s *Stage) SetNumber(v int) bool {
	if s.kind == KindDelay && (v < MinDelay || v > MaxDelay) {
		s.notifier.Notify("Number")
		return false
	}
	s.mu.Lock()
	s.number = v
	s.mu.Unlock()
	s.notifier.Notify("Number")
	return true
}

func (s *Stage) Flag() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flag
}

func (s *Stage) SetFlag(v bool) {
	s.mu.Lock()
	s.flag = v
	s.mu.Unlock()
	s.notifier.Notify("Flag")
}

// Parts returns the outputs of the last enabled Split run.
func (s *Stage) Parts() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parts
}

// Params returns the persisted form of the two parameters, following the
// kind's shape. Unused parameters are empty.
func (s *Stage) Params() (param1, param2 string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.kind.Shape() {
	case ShapeOneString:
		return s.text, ""
	case ShapeOneInt:
		return strconv.Itoa(s.number), ""
	case ShapeTwoString:
		return s.text, s.text2
	case ShapeOneStringOneInt:
		return s.text, strconv.Itoa(s.number)
	case ShapeOneStringOneBool:
		return s.text, strconv.FormatBool(s.flag)
	default:
		return "", ""
	}
}

// SetParams parses persisted parameters according to the kind's shape. Empty
// strings leave the corresponding parameter untouched.
func (s *Stage) SetParams(param1, param2 string) error {
	switch s.kind.Shape() {
	case ShapeOneString:
		s.SetText(param1)
	case ShapeOneInt:
		if param1 == "" {
			return nil
		}
		n, err := strconv.Atoi(param1)
		if err != nil {
			return fmt.Errorf("%w: %s param1 %q", ErrInvalidParam, s.kind, param1)
		}
		// Out of range values are rejected by SetNumber; the stage keeps its
		// previous number.
		s.SetNumber(n)
	case ShapeTwoString:
		s.SetText(param1)
		s.SetText2(param2)
	case ShapeOneStringOneInt:
		s.SetText(param1)
		if param2 == "" {
			return nil
		}
		n, err := strconv.Atoi(param2)
		if err != nil {
			return fmt.Errorf("%w: %s param2 %q", ErrInvalidParam, s.kind, param2)
		}
		s.SetNumber(n)
	case ShapeOneStringOneBool:
		s.SetText(param1)
		if param2 == "" {
			return nil
		}
		b, err := strconv.ParseBool(param2)
		if err != nil {
			return fmt.Errorf("%w: %s param2 %q", ErrInvalidParam, s.kind, param2)
		}
		s.SetFlag(b)
	}
	return nil
}

// resolver turns a raw string parameter into the text to encode.
type resolver func(string) (string, error)

// Filter runs the stage on its own: parameters are escape-decoded but no
// variables are available.
func (s *Stage) Filter(input []byte, c *codec.Codec) ([]byte, error) {
	out, _, err := s.apply(input, input, c, func(v string) (string, error) {
		return ReplaceSpecialCharacters(v), nil
	})
	return out, err
}

// apply transforms input. origin is the payload the pipeline started with.
// For Split the second result holds every part.
func (s *Stage) apply(input, origin []byte, c *codec.Codec, resolve resolver) ([]byte, [][]byte, error) {
	s.mu.RLock()
	enabled, kind := s.enabled, s.kind
	text, text2, number, flag := s.text, s.text2, s.number, s.flag
	s.mu.RUnlock()

	if !enabled {
		if kind == KindSplit {
			s.setParts(nil)
		}
		return input, nil, nil
	}

	param := func(v string) ([]byte, error) {
		r, err := resolve(v)
		if err != nil {
			return nil, err
		}
		return c.Encode(r), nil
	}

	switch kind {
	case KindAppend, KindPrepend:
		p, err := param(text)
		if err != nil {
			return nil, nil, err
		}
		if kind == KindAppend {
			return bytebuf.Join(input, p), nil, nil
		}
		return bytebuf.Join(p, input), nil, nil

	case KindRemoveFirst:
		return bytebuf.RemoveFirst(input, number), nil, nil

	case KindRemoveLast:
		return bytebuf.RemoveLast(input, number), nil, nil

	case KindReplace:
		old, err := param(text)
		if err != nil {
			return nil, nil, err
		}
		repl, err := param(text2)
		if err != nil {
			return nil, nil, err
		}
		if flag {
			return replaceOnePass(input, old, repl), nil, nil
		}
		return bytebuf.ReplaceFirst(input, old, repl), nil, nil

	case KindSplit:
		sep, err := param(text)
		if err != nil {
			return nil, nil, err
		}
		parts := bytebuf.Split(input, sep)
		s.setParts(parts)
		if number > 0 && number <= len(parts) {
			return parts[number-1], parts, nil
		}
		return input, parts, nil

	case KindContains:
		needle, err := param(text)
		if err != nil {
			return nil, nil, err
		}
		present := bytebuf.IndexOf(input, needle) >= 0
		if present != flag {
			return input, nil, nil
		}
		return []byte{}, nil, nil

	case KindTrim:
		return bytebuf.Trim(input, c), nil, nil

	case KindTrimStart:
		return bytebuf.TrimStart(input, c), nil, nil

	case KindTrimEnd:
		return bytebuf.TrimEnd(input, c), nil, nil

	case KindDelay:
		time.Sleep(time.Duration(number) * time.Millisecond)
		return input, nil, nil

	case KindStartOver:
		return origin, nil, nil
	}
	return nil, nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
}

func (s *Stage) setParts(parts [][]byte) {
	s.mu.Lock()
	s.parts = parts
	s.mu.Unlock()
}

func replaceOnePass(arr, old, repl []byte) []byte {
	parts := bytebuf.Split(arr, old)
	out := parts[0]
	for _, p := range parts[1:] {
		out = bytebuf.Join(bytebuf.Join(out, repl), p)
	}
	return out
}

// StageInfo is a point-in-time view of a stage.
type StageInfo struct {
	Kind    Kind   `json:"kind"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Param1  string `json:"param1,omitempty"`
	Param2  string `json:"param2,omitempty"`
	All     bool   `json:"all,omitempty"`
}

func (s *Stage) Info() StageInfo {
	p1, p2 := s.Params()
	info := StageInfo{Kind: s.kind, Name: s.Name(), Enabled: s.Enabled(), Param1: p1, Param2: p2}
	if s.kind == KindReplace {
		info.All = s.Flag()
	}
	return info
}
