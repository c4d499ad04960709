package markup

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// matchTimeout bounds a single substitution pass over one text run.
const matchTimeout = 2 * time.Second

// Rule is a text substitution applied to character data outside markup.
// The pattern matches case-insensitively and may use lookaround; the
// replacement may refer to capture groups as \1, \g<1> or \g<name>.
//
// A nil *Rule substitutes nothing.
type Rule struct {
	re       *regexp2.Regexp
	template []piece
}

// piece is either a literal run or a capture group reference.
type piece struct {
	literal string
	group   int
}

// NewRule compiles a substitution rule. An empty pattern yields a nil rule.
func NewRule(pattern, replacement string) (*Rule, error) {
	if pattern == "" {
		return nil, nil
	}

	re, err := regexp2.Compile(pattern, regexp2.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	re.MatchTimeout = matchTimeout

	tmpl, err := parseTemplate(re, replacement)
	if err != nil {
		return nil, fmt.Errorf("parse replacement %q: %w", replacement, err)
	}
	return &Rule{re: re, template: tmpl}, nil
}

// Apply replaces every non-overlapping match in text and reports how many
// replacements were made. On a match timeout text is returned unchanged.
func (r *Rule) Apply(text string) (string, int) {
	if r == nil || text == "" {
		return text, 0
	}

	n := 0
	out, err := r.re.ReplaceFunc(text, func(m regexp2.Match) string {
		n++
		return r.expand(m)
	}, -1, -1)
	if err != nil {
		return text, 0
	}
	return out, n
}

func (r *Rule) expand(m regexp2.Match) string {
	if len(r.template) == 1 && r.template[0].group < 0 {
		return r.template[0].literal
	}
	var b strings.Builder
	for _, p := range r.template {
		if p.group < 0 {
			b.WriteString(p.literal)
			continue
		}
		if g := m.GroupByNumber(p.group); g != nil {
			b.WriteString(g.String())
		}
	}
	return b.String()
}

var errTrailingBackslash = errors.New("trailing backslash")

// parseTemplate splits a replacement into literals and group references.
func parseTemplate(re *regexp2.Regexp, s string) ([]piece, error) {
	var (
		pieces []piece
		lit    strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			pieces = append(pieces, piece{literal: lit.String(), group: -1})
			lit.Reset()
		}
	}
	groupRef := func(n int) error {
		if n < 0 || !hasGroup(re, n) {
			return fmt.Errorf("invalid group reference %d", n)
		}
		flush()
		pieces = append(pieces, piece{group: n})
		return nil
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			lit.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			return nil, errTrailingBackslash
		}
		i++
		switch c = s[i]; {
		case c == '\\':
			lit.WriteByte('\\')
		case c == 'n':
			lit.WriteByte('\n')
		case c == 't':
			lit.WriteByte('\t')
		case c == 'r':
			lit.WriteByte('\r')
		case c >= '0' && c <= '9':
			j := i + 1
			if j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			n, _ := strconv.Atoi(s[i:j])
			if err := groupRef(n); err != nil {
				return nil, err
			}
			i = j - 1
		case c == 'g':
			end := strings.IndexByte(s[i:], '>')
			if i+1 >= len(s) || s[i+1] != '<' || end < 0 {
				return nil, fmt.Errorf("malformed \\g<...> at offset %d", i-1)
			}
			ref := s[i+2 : i+end]
			n, err := strconv.Atoi(ref)
			if err != nil {
				n = re.GroupNumberFromName(ref)
			}
			if err := groupRef(n); err != nil {
				return nil, err
			}
			i += end
		default:
			lit.WriteByte('\\')
			lit.WriteByte(c)
		}
	}
	flush()

	if len(pieces) == 0 {
		pieces = append(pieces, piece{group: -1})
	}
	return pieces, nil
}

func hasGroup(re *regexp2.Regexp, n int) bool {
	for _, g := range re.GetGroupNumbers() {
		if g == n {
			return true
		}
	}
	return false
}
