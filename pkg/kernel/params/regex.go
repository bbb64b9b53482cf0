package params

import "strings"

// NonCapturing rewrites every capturing group in re, including named ones,
// into a non-capturing group so that a fragment never contributes capture
// groups of its own.
func NonCapturing(re string) string {
	var b strings.Builder
	inClass := false
	for i := 0; i < len(re); i++ {
		c := re[i]
		switch {
		case c == '\\' && i+1 < len(re):
			b.WriteByte(c)
			b.WriteByte(re[i+1])
			i++
			continue
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
			b.WriteByte(c)
			if i+1 < len(re) && re[i+1] == '^' {
				b.WriteByte('^')
				i++
			}
			// a leading ] is literal inside a class
			if i+1 < len(re) && re[i+1] == ']' {
				b.WriteByte(']')
				i++
			}
			continue
		case c == '(':
			rest := re[i+1:]
			switch {
			case !strings.HasPrefix(rest, "?"):
				b.WriteString("(?:")
				continue
			case strings.HasPrefix(rest, "?P<"), strings.HasPrefix(rest, "?<"):
				end := strings.IndexByte(rest, '>')
				if end > 0 {
					b.WriteString("(?:")
					i += end + 1
					continue
				}
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// IsCatchAll reports whether a fragment matches any text.
func IsCatchAll(re string) bool {
	s := strings.TrimSpace(re)
	s = strings.TrimPrefix(s, "^")
	s = strings.TrimSuffix(s, "$")
	for len(s) > 2 && s[0] == '(' && s[len(s)-1] == ')' {
		s = strings.TrimPrefix(s[1:len(s)-1], "?:")
	}
	return s == ".*" || s == ".+" || s == ".*?" || s == ".+?"
}
