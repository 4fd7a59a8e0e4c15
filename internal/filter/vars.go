package filter

import (
	"fmt"
	"strings"
)

// DefaultMaxSubstitutions bounds the number of $variable substitutions made
// while resolving one parameter. A variable whose value references itself
// would otherwise expand forever.
const DefaultMaxSubstitutions = 64

// InputVariable names the variable holding the pipeline's decoded input.
const InputVariable = "Input"

// ReplaceSpecialCharacters decodes backslash escapes in a stage parameter:
// \\ \a \b \f \n \r \t \v and \$. Any other character, including a lone
// backslash, is copied as is.
func ReplaceSpecialCharacters(input string) string {
	if !strings.Contains(input, `\`) {
		return input
	}
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); i++ {
		if input[i] != '\\' || i == len(input)-1 {
			b.WriteByte(input[i])
			continue
		}
		var r byte
		switch input[i+1] {
		case '\\':
			r = '\\'
		case 'a':
			r = '\a'
		case 'b':
			r = '\b'
		case 'f':
			r = '\f'
		case 'n':
			r = '\n'
		case 'r':
			r = '\r'
		case 't':
			r = '\t'
		case 'v':
			r = '\v'
		case '$':
			r = '$'
		default:
			b.WriteByte(input[i])
			continue
		}
		b.WriteByte(r)
		i++
	}
	return b.String()
}

// replaceVariables substitutes every unescaped $Name reference with its value
// from vars. After each substitution scanning resumes where the reference
// started, so references introduced by a value are resolved too. References
// that match no variable are left as literal text.
func replaceVariables(input string, vars map[string]string, limit int) (string, error) {
	out := input
	count := 0
	for from := 0; from < len(out); {
		i := strings.IndexByte(out[from:], '$')
		if i < 0 {
			break
		}
		pos := from + i
		if pos > 0 && out[pos-1] == '\\' {
			from = pos + 1
			continue
		}
		name, ok := matchVariable(out[pos+1:], vars)
		if !ok {
			from = pos + 1
			continue
		}
		count++
		if count > limit {
			return out, fmt.Errorf("%w: more than %d substitutions in %q", ErrSubstitutionLimit, limit, input)
		}
		out = out[:pos] + vars[name] + out[pos+1+len(name):]
		from = pos
	}
	return out, nil
}

// matchVariable returns the longest variable name that prefixes rest. A name
// directly followed by ".<digit>" does not match: that text refers to a
// sub-output, which is its own variable. A sub-output name must cover the
// whole digit run, so "S.2" does not match "S.23".
func matchVariable(rest string, vars map[string]string) (string, bool) {
	best := ""
	for name := range vars {
		if name == "" || len(name) <= len(best) || !strings.HasPrefix(rest, name) {
			continue
		}
		after := rest[len(name):]
		if len(after) >= 2 && after[0] == '.' && isDigit(after[1]) {
			continue
		}
		if len(after) > 0 && isDigit(after[0]) && isSubOutput(name) {
			continue
		}
		best = name
	}
	return best, best != ""
}

// isSubOutput reports whether name has the "<stage>.<digits>" form.
func isSubOutput(name string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return false
	}
	for j := i + 1; j < len(name); j++ {
		if !isDigit(name[j]) {
			return false
		}
	}
	return true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
