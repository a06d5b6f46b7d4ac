package transform

import "strings"

// scopeCSS renames class selectors through rename. Declaration blocks and
// at-rule preludes are copied unchanged; strings and comments are skipped.
func scopeCSS(css string, rename func(local string) string) string {
	var out, seg strings.Builder
	for i := 0; i < len(css); i++ {
		c := css[i]
		switch {
		case c == '/' && i+1 < len(css) && css[i+1] == '*':
			end := strings.Index(css[i+2:], "*/")
			if end < 0 {
				seg.WriteString(css[i:])
				i = len(css)
				continue
			}
			seg.WriteString(css[i : i+2+end+2])
			i += 2 + end + 1
		case c == '"' || c == '\'':
			j := skipString(css, i)
			seg.WriteString(css[i:j])
			i = j - 1
		case c == '{':
			prelude := seg.String()
			if strings.HasPrefix(strings.TrimSpace(prelude), "@") {
				out.WriteString(prelude)
			} else {
				out.WriteString(scopeSelector(prelude, rename))
			}
			out.WriteByte('{')
			seg.Reset()
		case c == ';' || c == '}':
			out.WriteString(seg.String())
			out.WriteByte(c)
			seg.Reset()
		default:
			seg.WriteByte(c)
		}
	}
	out.WriteString(seg.String())
	return out.String()
}

// skipString returns the index just past the quoted string starting at i.
func skipString(s string, i int) int {
	quote := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		}
	}
	return len(s)
}

// scopeSelector renames .class tokens outside :global(...) and attribute selectors.
func scopeSelector(sel string, rename func(string) string) string {
	var b strings.Builder
	for i := 0; i < len(sel); i++ {
		c := sel[i]
		switch {
		case c == '[':
			end := strings.IndexByte(sel[i:], ']')
			if end < 0 {
				b.WriteString(sel[i:])
				return b.String()
			}
			b.WriteString(sel[i : i+end+1])
			i += end
		case strings.HasPrefix(sel[i:], ":global("):
			inner, next := parenContent(sel, i+len(":global("))
			b.WriteString(inner)
			i = next - 1
		case strings.HasPrefix(sel[i:], ":local("):
			inner, next := parenContent(sel, i+len(":local("))
			b.WriteString(scopeSelector(inner, rename))
			i = next - 1
		case c == '.' && i+1 < len(sel) && isIdentStart(sel, i+1):
			j := i + 1
			for j < len(sel) && isIdentChar(sel[j]) {
				j++
			}
			b.WriteByte('.')
			b.WriteString(rename(sel[i+1 : j]))
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// parenContent returns the text up to the matching close paren and the index after it.
func parenContent(s string, start int) (string, int) {
	depth := 1
	for j := start; j < len(s); j++ {
		switch s[j] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[start:j], j + 1
			}
		}
	}
	return s[start:], len(s)
}

func isIdentStart(s string, i int) bool {
	c := s[i]
	if c == '-' && i+1 < len(s) {
		c = s[i+1]
	}
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c >= 0x80
}
