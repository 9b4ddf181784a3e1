package tamper

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

const charCodeCall = "String.fromCharCode("

// charCodeTamper rebuilds the payload from UTF-16 code units:
// "ab" -> String.fromCharCode(97)+String.fromCharCode(98)
type charCodeTamper struct{}

func (charCodeTamper) Name() string { return "charcode" }
func (charCodeTamper) Kind() Kind   { return KindObfuscation }

func (charCodeTamper) Apply(s string) string {
	if s == "" {
		return `""`
	}
	units := utf16.Encode([]rune(s))
	terms := make([]string, len(units))
	for i, u := range units {
		terms[i] = charCodeCall + strconv.Itoa(int(u)) + ")"
	}
	return strings.Join(terms, "+")
}

func (charCodeTamper) Reverse(s string) (string, error) {
	if s == `""` {
		return "", nil
	}
	terms := strings.Split(s, "+")
	units := make([]uint16, 0, len(terms))
	for _, term := range terms {
		digits, err := unwrap(term, charCodeCall, ")")
		if err != nil {
			return "", err
		}
		n, err := strconv.ParseUint(digits, 10, 16)
		if err != nil {
			return "", fmt.Errorf("%w: bad char code %q", ErrMalformed, digits)
		}
		units = append(units, uint16(n))
	}
	return string(utf16.Decode(units)), nil
}

// evalTamper wraps the char-code form in eval().
type evalTamper struct{}

func (evalTamper) Name() string { return "eval" }
func (evalTamper) Kind() Kind   { return KindObfuscation }

func (evalTamper) Apply(s string) string {
	return "eval(" + charCodeTamper{}.Apply(s) + ")"
}

func (evalTamper) Reverse(s string) (string, error) {
	inner, err := unwrap(s, "eval(", ")")
	if err != nil {
		return "", err
	}
	return charCodeTamper{}.Reverse(inner)
}

// concatTamper emits one string literal per character joined by +.
type concatTamper struct{}

func (concatTamper) Name() string { return "concat" }
func (concatTamper) Kind() Kind   { return KindObfuscation }

func (concatTamper) Apply(s string) string {
	if s == "" {
		return `""`
	}
	parts := runeChunks(s, 1)
	for i, p := range parts {
		parts[i] = jsQuote(p)
	}
	return strings.Join(parts, "+")
}

func (concatTamper) Reverse(s string) (string, error) {
	parts, err := readJoined(s, "+")
	if err != nil {
		return "", err
	}
	return strings.Join(parts, ""), nil
}

var templateEscaper = strings.NewReplacer(`\`, `\\`, "`", "\\`", "$", `\$`)
var templateUnescaper = strings.NewReplacer(`\\`, `\`, "\\`", "`", `\$`, "$")

// templateTamper wraps the payload in a template literal.
type templateTamper struct{}

func (templateTamper) Name() string { return "template" }
func (templateTamper) Kind() Kind   { return KindObfuscation }

func (templateTamper) Apply(s string) string {
	return "`" + templateEscaper.Replace(s) + "`"
}

func (templateTamper) Reverse(s string) (string, error) {
	inner, err := unwrap(s, "`", "`")
	if err != nil {
		return "", err
	}
	return templateUnescaper.Replace(inner), nil
}
