package hook

import (
	"strings"
)

// Apply replaces every match of s.Pattern in src with s.Value.
//
// Value uses the replacement syntax of ECMAScript String.prototype.replace:
// $$ is a literal $, $& the match, $` the text before it, $' the text after
// it, $1 to $99 a numbered group and $<name> a named group. A reference to
// a group the pattern does not have is kept literally, so "$5 off" stays as
// written for a pattern without groups. A group that did not participate in
// the match expands to the empty string.
func (s Substitution) Apply(src string) string {
	matches := s.Pattern.FindAllStringSubmatchIndex(src, -1)
	if len(matches) == 0 {
		return src
	}

	named := false
	for _, n := range s.Pattern.SubexpNames() {
		if n != "" {
			named = true
			break
		}
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(src[last:m[0]])
		s.expand(&b, src, m, named)
		last = m[1]
	}
	b.WriteString(src[last:])
	return b.String()
}

func (s Substitution) expand(b *strings.Builder, src string, m []int, named bool) {
	tmpl := s.Value
	groups := len(m)/2 - 1

	group := func(k int) {
		if m[2*k] >= 0 {
			b.WriteString(src[m[2*k]:m[2*k+1]])
		}
	}

	for i := 0; i < len(tmpl); {
		if tmpl[i] != '$' || i+1 == len(tmpl) {
			b.WriteByte(tmpl[i])
			i++
			continue
		}

		switch c := tmpl[i+1]; {
		case c == '$':
			b.WriteByte('$')
			i += 2
		case c == '&':
			b.WriteString(src[m[0]:m[1]])
			i += 2
		case c == '`':
			b.WriteString(src[:m[0]])
			i += 2
		case c == '\'':
			b.WriteString(src[m[1]:])
			i += 2
		case isDigit(c):
			if i+2 < len(tmpl) && isDigit(tmpl[i+2]) {
				if k := int(c-'0')*10 + int(tmpl[i+2]-'0'); k >= 1 && k <= groups {
					group(k)
					i += 3
					continue
				}
			}
			if k := int(c - '0'); k >= 1 && k <= groups {
				group(k)
			} else {
				b.WriteByte('$')
				b.WriteByte(c)
			}
			i += 2
		case c == '<' && named:
			end := strings.IndexByte(tmpl[i+2:], '>')
			if end < 0 {
				b.WriteString("$<")
				i += 2
				continue
			}
			if k := s.Pattern.SubexpIndex(tmpl[i+2 : i+2+end]); k > 0 {
				group(k)
			}
			i += 2 + end + 1
		default:
			b.WriteByte('$')
			i++
		}
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
