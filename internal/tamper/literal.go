package tamper

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrMalformed is returned by Reverse when the input was not produced by
// the tamper's Apply.
var ErrMalformed = errors.New("malformed tampered payload")

// jsQuote renders s as a double-quoted JavaScript string literal.
func jsQuote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// literalReader scans a run of jsQuote literals and punctuation.
type literalReader struct {
	s   string
	pos int
}

func (r *literalReader) eof() bool { return r.pos >= len(r.s) }

func (r *literalReader) consume(tok string) bool {
	if strings.HasPrefix(r.s[r.pos:], tok) {
		r.pos += len(tok)
		return true
	}
	return false
}

func (r *literalReader) literal() (string, error) {
	if r.eof() || r.s[r.pos] != '"' {
		return "", fmt.Errorf("%w: expected string literal at offset %d", ErrMalformed, r.pos)
	}
	var b strings.Builder
	for i := r.pos + 1; i < len(r.s); i++ {
		c := r.s[i]
		switch c {
		case '"':
			r.pos = i + 1
			return b.String(), nil
		case '\\':
			if i+1 >= len(r.s) {
				return "", fmt.Errorf("%w: dangling escape", ErrMalformed)
			}
			i++
			switch r.s[i] {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(r.s[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", fmt.Errorf("%w: unterminated string literal", ErrMalformed)
}

// readJoined parses literals separated by sep, e.g. "a"+"b".
func readJoined(s, sep string) ([]string, error) {
	r := &literalReader{s: s}
	var parts []string
	for {
		lit, err := r.literal()
		if err != nil {
			return nil, err
		}
		parts = append(parts, lit)
		if r.eof() {
			return parts, nil
		}
		if !r.consume(sep) {
			return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrMalformed, r.s[r.pos], r.pos)
		}
	}
}

// runeChunks splits s into pieces of n runes; the last piece may be shorter.
func runeChunks(s string, n int) []string {
	var out []string
	for s != "" {
		i, count := 0, 0
		for i < len(s) && count < n {
			_, size := utf8.DecodeRuneInString(s[i:])
			i += size
			count++
		}
		out = append(out, s[:i])
		s = s[i:]
	}
	return out
}

func unwrap(s, prefix, suffix string) (string, error) {
	if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, suffix) || len(s) < len(prefix)+len(suffix) {
		return "", fmt.Errorf("%w: missing %q ... %q wrapper", ErrMalformed, prefix, suffix)
	}
	return s[len(prefix) : len(s)-len(suffix)], nil
}
