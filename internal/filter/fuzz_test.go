package filter

import (
	"errors"
	"testing"

	"msgrelay/internal/codec"
)

// FuzzPipelineApply runs arbitrary input through stages built from
// arbitrary parameters. Apply may reject the input but must not panic.
func FuzzPipelineApply(f *testing.F) {
	f.Add([]byte("a,b,c"), ",", "2", `$Input\r\n`)
	f.Add([]byte("$Input"), "$Split", "x", `\$`)
	f.Add([]byte{}, "", "", "")
	f.Add([]byte("  padded  "), `\t`, "-1", "$Split.0")
	f.Add([]byte("aab"), "ab", "bbaa", "")

	f.Fuzz(func(t *testing.T, input []byte, p1, p2, text string) {
		p := NewPipeline(WithMaxSubstitutions(8))
		for _, kind := range Kinds() {
			if kind == KindDelay {
				continue
			}
			st := NewStage(kind)
			if err := st.SetParams(p1, p2); err != nil {
				continue
			}
			st.SetEnabled(true)
			p.Add(st)
		}
		app := NewStage(KindAppend)
		app.SetText(text)
		app.SetEnabled(true)
		p.Add(app)

		if _, err := p.Apply(input, codec.UTF8); err != nil && !errors.Is(err, ErrSubstitutionLimit) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
