package filter

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"msgrelay/internal/codec"
)

func TestReplaceSpecialCharacters(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`a\tb`, "a\tb"},
		{`a\\tb`, `a\tb`},
		{`\r\n`, "\r\n"},
		{`\a\b\f\v`, "\a\b\f\v"},
		{`\$Input`, "$Input"},
		{`c:\temp\x`, "c:\temp\\x"},
		{`trailing\`, `trailing\`},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReplaceSpecialCharacters(tt.in), tt.in)
	}
}

func TestReplaceVariables(t *testing.T) {
	vars := map[string]string{
		"Input":     "in",
		"Split":     "b",
		"Split.1":   "a",
		"Split.2":   "b",
		"Split_1":   "other",
		"Split_1.2": "sub",
	}
	tests := []struct {
		in, want string
	}{
		{"$Input!", "in!"},
		{"$Split_1", "other"},
		{"$Split_1.2", "sub"},
		{"$Split.2", "b"},
		{"$Split.9", "$Split.9"},
		{"$Split.23", "$Split.23"},
		{"$Split.2 3", "b 3"},
		{"$Input2", "in2"},
		{"$Nope", "$Nope"},
		{`\$Input`, `\$Input`},
		{"$$Input", "$in"},
		{"cost: 5$", "cost: 5$"},
	}
	for _, tt := range tests {
		got, err := replaceVariables(tt.in, vars, DefaultMaxSubstitutions)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestReplaceVariablesResolvesIntroducedReferences(t *testing.T) {
	vars := map[string]string{"A": "[$B]", "B": "b"}
	got, err := replaceVariables("$A", vars, DefaultMaxSubstitutions)
	require.NoError(t, err)
	assert.Equal(t, "[b]", got)
}

func TestReplaceVariablesLimit(t *testing.T) {
	vars := map[string]string{"Loop": "x$Loop"}
	_, err := replaceVariables("$Loop", vars, 5)
	assert.ErrorIs(t, err, ErrSubstitutionLimit)
}

func TestUniqueNames(t *testing.T) {
	p := NewPipeline()
	a := p.Add(NewStage(KindAppend))
	b := p.Add(NewStage(KindAppend))
	c := p.Add(NewStage(KindAppend))
	assert.Equal(t, "Append", a.Name())
	assert.Equal(t, "Append_1", b.Name())
	assert.Equal(t, "Append_2", c.Name())

	d := NewStage(KindPrepend)
	d.SetName("Append_1")
	p.Add(d)
	assert.Equal(t, "Append_3", d.Name())

	name, err := p.Rename(b, "Append")
	require.NoError(t, err)
	assert.Equal(t, "Append_1", name, "its own name is not a collision")

	name, err = p.Rename(b, "Append_2")
	require.NoError(t, err)
	assert.Equal(t, "Append_4", name)

	name, err = p.Rename(c, "Append_2")
	require.NoError(t, err)
	assert.Equal(t, "Append_2", name, "renaming to its own name keeps it")

	_, err = p.Rename(NewStage(KindTrim), "x")
	assert.ErrorIs(t, err, ErrStageNotFound)
}

func TestApplyEmptyPipeline(t *testing.T) {
	p := NewPipeline()
	out, err := p.Apply([]byte("hello"), codec.UTF8)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
	assert.Equal(t, map[string]string{"Input": "hello"}, p.Variables())
}

func TestApplyDelayThenAppend(t *testing.T) {
	p := NewPipeline()
	p.Add(enabledStage(KindDelay, "1", ""))
	p.Add(enabledStage(KindAppend, `\r\n`, ""))

	out, err := p.Apply([]byte("hello"), codec.MustLookup("us-ascii"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\r\n"), out)
}

func TestApplyVariableReference(t *testing.T) {
	p := NewPipeline()
	p.Add(enabledStage(KindAppend, "X", ""))
	ref := p.Add(enabledStage(KindAppend, "$Append", ""))
	lit := p.Add(enabledStage(KindAppend, `\$Append`, ""))
	assert.Equal(t, "Append_1", ref.Name())
	assert.Equal(t, "Append_2", lit.Name())

	out, err := p.Apply([]byte{}, codec.UTF8)
	require.NoError(t, err)
	assert.Equal(t, "XX$Append", string(out))

	vars := p.Variables()
	assert.Equal(t, "X", vars["Append"])
	assert.Equal(t, "XX", vars["Append_1"])
}

func TestApplySplitPublishesParts(t *testing.T) {
	p := NewPipeline()
	split := p.Add(enabledStage(KindSplit, ",", "2"))

	out, err := p.Apply([]byte("a,b,c"), codec.UTF8)
	require.NoError(t, err)
	assert.Equal(t, "b", string(out))

	vars := p.Variables()
	assert.Equal(t, "a", vars["Split.1"])
	assert.Equal(t, "b", vars["Split.2"])
	assert.Equal(t, "c", vars["Split.3"])
	assert.Equal(t, "b", vars["Split"])
	assert.Len(t, split.Parts(), 3)

	// A second run with fewer parts must not leave Split.3 behind.
	_, err = p.Apply([]byte("x,y"), codec.UTF8)
	require.NoError(t, err)
	vars = p.Variables()
	assert.Equal(t, "y", vars["Split.2"])
	assert.NotContains(t, vars, "Split.3")
}

func TestPipelineReplaceVariablesUsesLastRun(t *testing.T) {
	p := NewPipeline()
	p.Add(enabledStage(KindSplit, ",", "1"))

	got, err := p.ReplaceVariables("$Split.2")
	require.NoError(t, err)
	assert.Equal(t, "$Split.2", got, "nothing is published before the first run")

	_, err = p.Apply([]byte("a,b"), codec.UTF8)
	require.NoError(t, err)
	got, err = p.ReplaceVariables("[$Input|$Split|$Split.2]")
	require.NoError(t, err)
	assert.Equal(t, "[a,b|a|b]", got)
}

func TestApplySplitPartReference(t *testing.T) {
	p := NewPipeline()
	p.Add(enabledStage(KindSplit, ";", "1"))
	p.Add(enabledStage(KindAppend, "=$Split.3", ""))

	out, err := p.Apply([]byte("k;v;w"), codec.UTF8)
	require.NoError(t, err)
	assert.Equal(t, "k=w", string(out))
}

func TestApplyDisabledStagePublishes(t *testing.T) {
	p := NewPipeline()
	p.Add(enabledStage(KindAppend, "!", ""))
	off := p.Add(NewStage(KindPrepend))
	off.SetText("ignored")
	p.Add(enabledStage(KindAppend, "<$Prepend>", ""))

	out, err := p.Apply([]byte("hi"), codec.UTF8)
	require.NoError(t, err)
	assert.Equal(t, "hi!<hi!>", string(out))
	assert.Equal(t, "hi!", p.Variables()["Prepend"])
}

func TestApplyContainsNegate(t *testing.T) {
	p := NewPipeline()
	p.Add(enabledStage(KindContains, "err", "true"))

	out, err := p.Apply([]byte("all good"), codec.UTF8)
	require.NoError(t, err)
	assert.Equal(t, "all good", string(out))

	out, err = p.Apply([]byte("an error"), codec.UTF8)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestApplyStartOver(t *testing.T) {
	p := NewPipeline()
	p.Add(enabledStage(KindAppend, "X", ""))
	p.Add(enabledStage(KindStartOver, "", ""))
	p.Add(enabledStage(KindPrepend, "$Append|", ""))

	out, err := p.Apply([]byte("a"), codec.UTF8)
	require.NoError(t, err)
	assert.Equal(t, "aX|a", string(out))
}

func TestApplySubstitutionLimit(t *testing.T) {
	p := NewPipeline(WithMaxSubstitutions(8))
	p.Add(enabledStage(KindAppend, "$Input", ""))

	_, err := p.Apply([]byte("$Input"), codec.UTF8)
	assert.ErrorIs(t, err, ErrSubstitutionLimit)

	out, err := p.Apply([]byte("ok"), codec.UTF8)
	require.NoError(t, err)
	assert.Equal(t, "okok", string(out))
}

func TestApplyEncodesParametersWithCodec(t *testing.T) {
	latin1 := codec.MustLookup("latin1")
	p := NewPipeline()
	p.Add(enabledStage(KindAppend, "é", ""))

	out, err := p.Apply([]byte{'c', 'a', 'f'}, latin1)
	require.NoError(t, err)
	assert.Equal(t, []byte{'c', 'a', 'f', 0xE9}, out)
	assert.Equal(t, "café", p.Variables()["Append"])
}

func TestRemoveDeletesVariable(t *testing.T) {
	p := NewPipeline()
	a := p.Add(enabledStage(KindAppend, "1", ""))
	p.Add(enabledStage(KindAppend, "2", ""))
	_, err := p.Apply([]byte("x"), codec.UTF8)
	require.NoError(t, err)

	require.True(t, p.Remove(a))
	assert.False(t, p.Remove(a))
	assert.NotContains(t, p.Variables(), "Append")
	assert.Equal(t, 1, p.Len())
}

func TestMove(t *testing.T) {
	p := NewPipeline()
	a := p.Add(NewStage(KindAppend))
	b := p.Add(NewStage(KindPrepend))
	c := p.Add(NewStage(KindTrim))

	require.NoError(t, p.Move(0, 2))
	assert.Equal(t, []*Stage{b, c, a}, p.Stages())
	require.NoError(t, p.Move(2, 0))
	assert.Equal(t, []*Stage{a, b, c}, p.Stages())
	assert.Error(t, p.Move(0, 3))
	assert.Equal(t, "Append", a.Name())
}

func TestInsertAndLookup(t *testing.T) {
	p := NewPipeline()
	a := p.Add(NewStage(KindAppend))
	b := p.Insert(0, NewStage(KindAppend))
	assert.Equal(t, []*Stage{b, a}, p.Stages())
	assert.Equal(t, "Append_1", b.Name())

	got, ok := p.Lookup("Append_1")
	require.True(t, ok)
	assert.Same(t, b, got)
	_, ok = p.Lookup("nope")
	assert.False(t, ok)
}

func TestPipelineNotifiesMembership(t *testing.T) {
	p := NewPipeline()
	var mu sync.Mutex
	count := 0
	p.Subscribe(func(field string) {
		mu.Lock()
		defer mu.Unlock()
		if field == "Stages" {
			count++
		}
	})
	s := p.Add(NewStage(KindAppend))
	p.Add(NewStage(KindTrim))
	require.NoError(t, p.Move(0, 1))
	p.Remove(s)
	assert.Equal(t, 4, count)
}

func TestPropertyEscapeFreeTextUnchanged(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		s = strings.ReplaceAll(s, `\`, "")
		if got := ReplaceSpecialCharacters(s); got != s {
			t.Fatalf("ReplaceSpecialCharacters(%q) = %q", s, got)
		}
	})
}

func TestPropertyAppendLiteral(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		input := rapid.StringMatching(`[a-z0-9 ,]{0,32}`).Draw(t, "input")
		suffix := rapid.StringMatching(`[a-z0-9 ,]{0,16}`).Draw(t, "suffix")

		p := NewPipeline()
		p.Add(enabledStage(KindAppend, suffix, ""))
		out, err := p.Apply([]byte(input), codec.UTF8)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if string(out) != input+suffix {
			t.Fatalf("Apply(%q) = %q, want %q", input, out, input+suffix)
		}
	})
}
