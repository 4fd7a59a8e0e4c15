package filter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgrelay/internal/codec"
)

func enabledStage(kind Kind, p1, p2 string) *Stage {
	s := NewStage(kind)
	if err := s.SetParams(p1, p2); err != nil {
		panic(err)
	}
	s.SetEnabled(true)
	return s
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := ParseKind("appendfilter")
	require.NoError(t, err)
	assert.Equal(t, KindAppend, got)

	got, err = ParseKind("TrimEndFilter")
	require.NoError(t, err)
	assert.Equal(t, KindTrimEnd, got)

	_, err = ParseKind("Filter")
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = ParseKind("bogus")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestKindShape(t *testing.T) {
	assert.Equal(t, ShapeOneString, KindAppend.Shape())
	assert.Equal(t, ShapeOneInt, KindDelay.Shape())
	assert.Equal(t, ShapeTwoString, KindReplace.Shape())
	assert.Equal(t, ShapeOneStringOneInt, KindSplit.Shape())
	assert.Equal(t, ShapeOneStringOneBool, KindContains.Shape())
	assert.Equal(t, ShapeNone, KindTrim.Shape())
	assert.Equal(t, ShapeNone, KindStartOver.Shape())
}

func TestStageDisabledIsIdentity(t *testing.T) {
	for _, k := range Kinds() {
		s := NewStage(k)
		s.SetText("x")
		out, err := s.Filter([]byte("payload"), codec.UTF8)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(out), k.String())
	}
}

func TestStageFilter(t *testing.T) {
	tests := []struct {
		name   string
		stage  *Stage
		input  string
		expect string
	}{
		{"append", enabledStage(KindAppend, `\r\n`, ""), "hello", "hello\r\n"},
		{"prepend", enabledStage(KindPrepend, ">", ""), "hello", ">hello"},
		{"remove first", enabledStage(KindRemoveFirst, "2", ""), "hello", "llo"},
		{"remove first too many", enabledStage(KindRemoveFirst, "9", ""), "hello", "hello"},
		{"remove last", enabledStage(KindRemoveLast, "2", ""), "hello", "hel"},
		{"replace all", enabledStage(KindReplace, "l", "L"), "hello", "heLLo"},
		{"replace growing", enabledStage(KindReplace, "a", "aa"), "banana", "baanaanaa"},
		{"replace seam", enabledStage(KindReplace, "ab", "bbaa"), "aab", "abbaa"},
		{"replace single pass", enabledStage(KindReplace, "ab", ""), "aabb", "ab"},
		{"split in range", enabledStage(KindSplit, ",", "3"), "a,b,c", "c"},
		{"split out of range", enabledStage(KindSplit, ",", "4"), "a,b,c", "a,b,c"},
		{"split zero", enabledStage(KindSplit, ",", "0"), "a,b,c", "a,b,c"},
		{"contains present", enabledStage(KindContains, "err", "false"), "an error", "an error"},
		{"contains absent", enabledStage(KindContains, "err", "false"), "fine", ""},
		{"contains negate absent", enabledStage(KindContains, "err", "true"), "fine", "fine"},
		{"contains negate present", enabledStage(KindContains, "err", "true"), "an error", ""},
		{"trim", enabledStage(KindTrim, "", ""), "  hi!! ", "hi"},
		{"trim start", enabledStage(KindTrimStart, "", ""), "  hi!! ", "hi!! "},
		{"trim end", enabledStage(KindTrimEnd, "", ""), "  hi!! ", "  hi"},
		{"delay", enabledStage(KindDelay, "1", ""), "hello", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.stage.Filter([]byte(tt.input), codec.UTF8)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, string(out))
		})
	}
}

func TestReplaceFirstOnly(t *testing.T) {
	s := enabledStage(KindReplace, "l", "L")
	s.SetFlag(false)
	out, err := s.Filter([]byte("hello"), codec.UTF8)
	require.NoError(t, err)
	assert.Equal(t, "heLlo", string(out))
}

func TestDelayValidation(t *testing.T) {
	s := NewStage(KindDelay)
	assert.Equal(t, DefaultDelay, s.Number())

	assert.False(t, s.SetNumber(0))
	assert.False(t, s.SetNumber(MaxDelay+1))
	assert.Equal(t, DefaultDelay, s.Number())

	assert.True(t, s.SetNumber(MinDelay))
	assert.True(t, s.SetNumber(MaxDelay))
	assert.Equal(t, MaxDelay, s.Number())

	require.NoError(t, s.SetParams("0", ""))
	assert.Equal(t, MaxDelay, s.Number())
	assert.True(t, errors.Is(s.SetParams("soon", ""), ErrInvalidParam))
	assert.Equal(t, MaxDelay, s.Number())
}

func TestDelayBlocks(t *testing.T) {
	s := enabledStage(KindDelay, "30", "")
	start := time.Now()
	_, err := s.Filter([]byte("x"), codec.UTF8)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestParamsRoundTrip(t *testing.T) {
	tests := []struct {
		kind   Kind
		p1, p2 string
	}{
		{KindAppend, `\r\n`, ""},
		{KindRemoveLast, "3", ""},
		{KindReplace, "a", "b"},
		{KindSplit, ";", "2"},
		{KindContains, "err", "true"},
		{KindDelay, "250", ""},
		{KindTrim, "", ""},
	}
	for _, tt := range tests {
		s := NewStage(tt.kind)
		require.NoError(t, s.SetParams(tt.p1, tt.p2))
		p1, p2 := s.Params()
		assert.Equal(t, tt.p1, p1, tt.kind.String())
		assert.Equal(t, tt.p2, p2, tt.kind.String())
	}

	s := NewStage(KindSplit)
	assert.ErrorIs(t, s.SetParams(",", "two"), ErrInvalidParam)
	s = NewStage(KindContains)
	assert.ErrorIs(t, s.SetParams("x", "maybe"), ErrInvalidParam)
}

func TestStageNotifies(t *testing.T) {
	s := NewStage(KindAppend)
	var fields []string
	unsubscribe := s.Subscribe(func(field string) { fields = append(fields, field) })
	s.SetText("x")
	s.SetEnabled(true)
	unsubscribe()
	s.SetName("other")
	assert.Equal(t, []string{"Text", "Enabled"}, fields)
}

func TestSetNameEmptyFallsBackToKind(t *testing.T) {
	s := NewStage(KindSplit)
	s.SetName("")
	assert.Equal(t, "Split", s.Name())
}
