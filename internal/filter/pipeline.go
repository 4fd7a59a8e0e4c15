package filter

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"msgrelay/internal/codec"
	"msgrelay/internal/observe"
)

// Pipeline is an ordered list of stages sharing one variable table. Apply
// and membership changes are serialized by the pipeline's own lock.
type Pipeline struct {
	mu               sync.Mutex
	stages           []*Stage
	vars             map[string]string
	maxSubstitutions int

	notifier observe.Notifier
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxSubstitutions overrides DefaultMaxSubstitutions. Values below 1 are
// ignored.
func WithMaxSubstitutions(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxSubstitutions = n
		}
	}
}

func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		vars:             make(map[string]string),
		maxSubstitutions: DefaultMaxSubstitutions,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers a handler called with "Stages" whenever membership or
// order changes.
func (p *Pipeline) Subscribe(fn observe.Handler) func() { return p.notifier.Subscribe(fn) }

// Add appends s, renaming it when its name is already taken.
func (p *Pipeline) Add(s *Stage) *Stage {
	p.mu.Lock()
	p.insertLocked(len(p.stages), s)
	p.mu.Unlock()
	p.notifier.Notify("Stages")
	return s
}

// Insert places s at index, clamped to the list bounds.
func (p *Pipeline) Insert(index int, s *Stage) *Stage {
	p.mu.Lock()
	if index < 0 {
		index = 0
	}
	if index > len(p.stages) {
		index = len(p.stages)
	}
	p.insertLocked(index, s)
	p.mu.Unlock()
	p.notifier.Notify("Stages")
	return s
}

func (p *Pipeline) insertLocked(index int, s *Stage) {
	if name := p.uniqueNameLocked(s.Name(), s); name != s.Name() {
		s.SetName(name)
	}
	p.stages = append(p.stages, nil)
	copy(p.stages[index+1:], p.stages[index:])
	p.stages[index] = s
}

// Remove deletes s and its variable entry. It reports whether s was present.
func (p *Pipeline) Remove(s *Stage) bool {
	p.mu.Lock()
	idx := p.indexLocked(s)
	if idx < 0 {
		p.mu.Unlock()
		return false
	}
	p.stages = append(p.stages[:idx], p.stages[idx+1:]...)
	delete(p.vars, s.Name())
	p.mu.Unlock()
	p.notifier.Notify("Stages")
	return true
}

// Move reorders a stage without renaming it.
func (p *Pipeline) Move(from, to int) error {
	p.mu.Lock()
	if from < 0 || from >= len(p.stages) || to < 0 || to >= len(p.stages) {
		p.mu.Unlock()
		return fmt.Errorf("move %d -> %d: index out of range [0, %d)", from, to, len(p.stages))
	}
	s := p.stages[from]
	p.stages = append(p.stages[:from], p.stages[from+1:]...)
	p.stages = append(p.stages, nil)
	copy(p.stages[to+1:], p.stages[to:])
	p.stages[to] = s
	p.mu.Unlock()
	p.notifier.Notify("Stages")
	return nil
}

// Rename gives s a new name, made unique within the pipeline, and moves its
// variable entry. The assigned name is returned.
func (p *Pipeline) Rename(s *Stage, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexLocked(s) < 0 {
		return "", ErrStageNotFound
	}
	if name == "" {
		name = s.Kind().String()
	}
	old := s.Name()
	name = p.uniqueNameLocked(name, s)
	if v, ok := p.vars[old]; ok {
		delete(p.vars, old)
		p.vars[name] = v
	}
	s.SetName(name)
	return name, nil
}

// uniqueNameLocked returns search, or a "<base>_<n>" variant of it that no
// other stage uses. A colliding name ending in "_<int>" has that counter
// incremented; otherwise counting starts at 1.
func (p *Pipeline) uniqueNameLocked(search string, self *Stage) string {
	for _, st := range p.stages {
		if st == self || st.Name() != search {
			continue
		}
		base, num := search, 0
		if pos := strings.LastIndexByte(search, '_'); pos > 0 {
			if n, err := strconv.Atoi(search[pos+1:]); err == nil {
				base, num = search[:pos], n
			}
		}
		return p.uniqueNameLocked(base+"_"+strconv.Itoa(num+1), self)
	}
	return search
}

func (p *Pipeline) indexLocked(s *Stage) int {
	for i, st := range p.stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Stages returns a copy of the stage list.
func (p *Pipeline) Stages() []*Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stages)
}

// Lookup returns the stage with the given name.
func (p *Pipeline) Lookup(name string) (*Stage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range p.stages {
		if st.Name() == name {
			return st, true
		}
	}
	return nil, false
}

// Variables returns a copy of the table left by the last Apply.
func (p *Pipeline) Variables() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.vars))
	for k, v := range p.vars {
		out[k] = v
	}
	return out
}

// ReplaceVariables resolves $references in s against the current table.
func (p *Pipeline) ReplaceVariables(s string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return replaceVariables(s, p.vars, p.maxSubstitutions)
}

// Apply runs every stage in order over input, decoding and encoding text
// with c. The variable table is rebuilt from scratch: "Input" holds the
// decoded input and each stage publishes its decoded output under its name,
// Split stages also under "<name>.<k>" for every part. Disabled stages pass
// their input through and still publish it.
func (p *Pipeline) Apply(input []byte, c *codec.Codec) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	clear(p.vars)
	p.vars[InputVariable] = c.Decode(input)

	resolve := func(v string) (string, error) {
		r, err := replaceVariables(v, p.vars, p.maxSubstitutions)
		if err != nil {
			return "", err
		}
		return ReplaceSpecialCharacters(r), nil
	}

	out := input
	for _, st := range p.stages {
		next, parts, err := st.apply(out, input, c, resolve)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", st.Name(), err)
		}
		out = next
		name := st.Name()
		p.vars[name] = c.Decode(out)
		for k, part := range parts {
			p.vars[name+"."+strconv.Itoa(k+1)] = c.Decode(part)
		}
	}
	return out, nil
}
