package dict

import (
	"fmt"
	"strings"
)

// AFL++ ignores dictionary tokens longer than this.
const maxTokenLen = 128

// ExtractTokens returns the decoded contents of the string and character
// literals in a C/C++ source file, in order of first appearance. Comments and
// #include lines are skipped.
func ExtractTokens(src []byte) [][]byte {
	var tokens [][]byte
	seen := make(map[string]struct{})
	add := func(tok []byte) {
		if len(tok) == 0 || len(tok) > maxTokenLen {
			return
		}
		if _, ok := seen[string(tok)]; ok {
			return
		}
		seen[string(tok)] = struct{}{}
		tokens = append(tokens, tok)
	}

	lineStart := true
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case lineStart && isInclude(src[i:]):
			i = skipLine(src, i)
			continue
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			i = skipLine(src, i)
			continue
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(string(src[i+2:]), "*/")
			if end < 0 {
				return tokens
			}
			i += end + 4
			continue
		case c == '"' || c == '\'':
			tok, next, ok := readLiteral(src, i)
			if ok {
				add(tok)
			}
			i = next
			lineStart = false
			continue
		}
		if c == '\n' {
			lineStart = true
		} else if c != ' ' && c != '\t' {
			lineStart = false
		}
		i++
	}
	return tokens
}

func isInclude(b []byte) bool {
	s := strings.TrimLeft(string(b[:min(len(b), 64)]), " \t")
	if !strings.HasPrefix(s, "#") {
		return false
	}
	return strings.HasPrefix(strings.TrimLeft(s[1:], " \t"), "include")
}

// skipLine returns the index of the newline ending the line at i, so the
// caller sees the newline and resets its line-start state.
func skipLine(src []byte, i int) int {
	for i < len(src) && src[i] != '\n' {
		i++
	}
	return i
}

// readLiteral decodes the literal opening at src[start]. It returns the
// decoded bytes, the index after the closing quote, and false for
// unterminated literals.
func readLiteral(src []byte, start int) ([]byte, int, bool) {
	quote := src[start]
	var out []byte
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			return out, i + 1, true
		case c == '\n':
			return nil, i, false
		case c == '\\' && i+1 < len(src):
			b, n := decodeEscape(src[i+1:])
			out = append(out, b...)
			i += 1 + n
		default:
			out = append(out, c)
			i++
		}
	}
	return nil, i, false
}

// decodeEscape decodes the escape sequence following a backslash and returns
// the bytes plus how many input bytes were consumed.
func decodeEscape(s []byte) ([]byte, int) {
	switch s[0] {
	case 'n':
		return []byte{'\n'}, 1
	case 't':
		return []byte{'\t'}, 1
	case 'r':
		return []byte{'\r'}, 1
	case 'a':
		return []byte{'\a'}, 1
	case 'b':
		return []byte{'\b'}, 1
	case 'f':
		return []byte{'\f'}, 1
	case 'v':
		return []byte{'\v'}, 1
	case 'x':
		v, n := 0, 1
		for n < len(s) && n < 3 && isHex(s[n]) {
			v = v*16 + hexVal(s[n])
			n++
		}
		if n == 1 {
			return []byte{'x'}, 1
		}
		return []byte{byte(v)}, n
	case '0', '1', '2', '3', '4', '5', '6', '7':
		v, n := 0, 0
		for n < len(s) && n < 3 && s[n] >= '0' && s[n] <= '7' {
			v = v*8 + int(s[n]-'0')
			n++
		}
		return []byte{byte(v)}, n
	}
	return []byte{s[0]}, 1
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	}
	return int(c-'A') + 10
}

// Quote renders tok as an AFL++ dictionary entry.
func Quote(tok []byte) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, c := range tok {
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c >= 0x20 && c < 0x7f:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "\\x%02x", c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
