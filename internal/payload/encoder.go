package payload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// ErrDecode is returned when an encoded string is not well formed.
var ErrDecode = errors.New("payload: decode failed")

// isUnreserved reports whether c is an RFC 3986 unreserved character:
// ALPHA / DIGIT / "-" / "." / "_" / "~".
func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

// percentEncode applies RFC 3986 percent-encoding to every byte that is not
// an unreserved character. Spaces become %20 (not +).
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// Encoder transforms a payload string and back.
type Encoder interface {
	Name() string
	Encode(s string) string
	Decode(s string) (string, error)
}

// Encoders returns every encoder in generation order.
func Encoders() []Encoder {
	return []Encoder{
		&URLEncoder{},
		&HTMLEncoder{},
		&JSEncoder{},
		&UnicodeEncoder{},
		&HexEncoder{},
		&Base64Encoder{},
	}
}

// LookupEncoder returns the encoder with the given name, or nil.
func LookupEncoder(name string) Encoder {
	for _, e := range Encoders() {
		if e.Name() == name {
			return e
		}
	}
	return nil
}

// URLEncoder performs URL encoding.
type URLEncoder struct{}

// Name returns the encoder name.
func (e *URLEncoder) Name() string { return "url" }

// Encode applies URL percent-encoding to the input string.
func (e *URLEncoder) Encode(s string) string {
	return percentEncode(s)
}

// Decode reverses percent-encoding. A literal '+' is kept as is.
func (e *URLEncoder) Decode(s string) (string, error) {
	out, err := url.PathUnescape(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return out, nil
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// HTMLEncoder replaces markup-significant characters with entities.
type HTMLEncoder struct{}

// Name returns the encoder name.
func (e *HTMLEncoder) Name() string { return "html" }

// Encode escapes & < > " ' and /.
func (e *HTMLEncoder) Encode(s string) string {
	return htmlEscaper.Replace(s)
}

// Decode resolves named and numeric character references.
func (e *HTMLEncoder) Decode(s string) (string, error) {
	return html.UnescapeString(s), nil
}

var (
	jsEscaper   = strings.NewReplacer(`\`, `\\`, "'", `\'`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	jsUnescaper = strings.NewReplacer(`\\`, `\`, `\'`, "'", `\"`, `"`, `\n`, "\n", `\r`, "\r", `\t`, "\t")
)

// JSEncoder backslash-escapes characters that would end a string literal.
type JSEncoder struct{}

// Name returns the encoder name.
func (e *JSEncoder) Name() string { return "js" }

// Encode escapes \ ' " and the newline, carriage return and tab characters.
func (e *JSEncoder) Encode(s string) string {
	return jsEscaper.Replace(s)
}

// Decode reverses Encode.
func (e *JSEncoder) Decode(s string) (string, error) {
	return jsUnescaper.Replace(s), nil
}

// UnicodeEncoder converts each UTF-16 code unit to a \uXXXX escape.
type UnicodeEncoder struct{}

// Name returns the encoder name.
func (e *UnicodeEncoder) Name() string { return "unicode" }

// Encode converts the input to \uXXXX format.
func (e *UnicodeEncoder) Encode(s string) string {
	var b strings.Builder
	for _, u := range utf16.Encode([]rune(s)) {
		fmt.Fprintf(&b, `\u%04x`, u)
	}
	return b.String()
}

// Decode replaces every \uXXXX escape; other text is kept. Adjacent
// escapes are decoded together so surrogate pairs combine.
func (e *UnicodeEncoder) Decode(s string) (string, error) {
	var b strings.Builder
	var units []uint16
	flush := func() {
		if len(units) > 0 {
			b.WriteString(string(utf16.Decode(units)))
			units = units[:0]
		}
	}
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], `\u`) && i+6 <= len(s) {
			if n, err := strconv.ParseUint(s[i+2:i+6], 16, 16); err == nil {
				units = append(units, uint16(n))
				i += 6
				continue
			}
		}
		flush()
		b.WriteByte(s[i])
		i++
	}
	flush()
	return b.String(), nil
}

// HexEncoder converts each byte to a \xHH escape.
type HexEncoder struct{}

// Name returns the encoder name.
func (e *HexEncoder) Name() string { return "hex" }

// Encode converts each byte of the input to \xHH format.
func (e *HexEncoder) Encode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		fmt.Fprintf(&b, `\x%02x`, s[i])
	}
	return b.String()
}

// Decode replaces every \xHH escape with its byte.
func (e *HexEncoder) Decode(s string) (string, error) {
	buf := make([]byte, 0, len(s)/4)
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], `\x`) && i+4 <= len(s) {
			if n, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
				buf = append(buf, byte(n))
				i += 4
				continue
			}
		}
		buf = append(buf, s[i])
		i++
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("%w: hex escapes do not form UTF-8", ErrDecode)
	}
	return string(buf), nil
}

// Base64Encoder encodes to standard base64.
type Base64Encoder struct{}

// Name returns the encoder name.
func (e *Base64Encoder) Name() string { return "base64" }

// Encode applies standard base64 encoding.
func (e *Base64Encoder) Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// Decode accepts only input that decodes to printable UTF-8 text, so that
// ordinary words matching the base64 alphabet are left alone.
func (e *Base64Encoder) Decode(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if !printable(raw) {
		return "", fmt.Errorf("%w: base64 payload is not text", ErrDecode)
	}
	return string(raw), nil
}

func printable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			return false
		}
		if r == 0x7f {
			return false
		}
	}
	return true
}

// ChainEncoder applies multiple encoders in sequence.
type ChainEncoder struct {
	encoders []Encoder
}

// NewChainEncoder creates a ChainEncoder with the given encoders.
func NewChainEncoder(encoders ...Encoder) *ChainEncoder {
	return &ChainEncoder{encoders: encoders}
}

// Name returns the encoder names joined by '>'.
func (e *ChainEncoder) Name() string {
	names := make([]string, len(e.encoders))
	for i, enc := range e.encoders {
		names[i] = enc.Name()
	}
	return strings.Join(names, ">")
}

// Encode applies each encoder in order.
func (e *ChainEncoder) Encode(s string) string {
	result := s
	for _, enc := range e.encoders {
		result = enc.Encode(result)
	}
	return result
}

// Decode applies each decoder in reverse order.
func (e *ChainEncoder) Decode(s string) (string, error) {
	result := s
	for i := len(e.encoders) - 1; i >= 0; i-- {
		out, err := e.encoders[i].Decode(result)
		if err != nil {
			return "", err
		}
		result = out
	}
	return result, nil
}
