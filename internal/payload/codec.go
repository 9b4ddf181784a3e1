package payload

import (
	"regexp"

	"github.com/0x6d61/xssprobe/internal/engine"
)

// maxDecodeRounds bounds DecodeAll on adversarial nesting.
const maxDecodeRounds = 8

type family struct {
	encoding engine.Encoding
	match    func(string) bool
	decoder  Encoder
}

var (
	urlSignature     = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)
	htmlSignature    = regexp.MustCompile(`&[a-zA-Z]+;|&#[xX]?[0-9A-Fa-f]+;`)
	unicodeSignature = regexp.MustCompile(`\\u[0-9A-Fa-f]{4}`)
	hexSignature     = regexp.MustCompile(`\\x[0-9A-Fa-f]{2}`)
	base64Signature  = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)
)

// families is checked in order; the first signature present wins a round.
var families = []family{
	{engine.EncodingURL, urlSignature.MatchString, &URLEncoder{}},
	{engine.EncodingHTML, htmlSignature.MatchString, &HTMLEncoder{}},
	{engine.EncodingUnicode, unicodeSignature.MatchString, &UnicodeEncoder{}},
	{engine.EncodingHex, hexSignature.MatchString, &HexEncoder{}},
	{engine.EncodingBase64, looksBase64, &Base64Encoder{}},
}

func looksBase64(s string) bool {
	return len(s) >= 4 && len(s)%4 == 0 && base64Signature.MatchString(s)
}

// Detect returns the first encoding family whose signature occurs in s.
func Detect(s string) (engine.Encoding, bool) {
	for _, f := range families {
		if f.match(s) {
			return f.encoding, true
		}
	}
	return engine.EncodingNone, false
}

// DecodeAll peels encoding layers off s until no signature matches, the
// text stops changing, or a decoder fails. On failure the input of the
// failing round is returned.
func DecodeAll(s string) string {
	for round := 0; round < maxDecodeRounds; round++ {
		var dec Encoder
		for _, f := range families {
			if f.match(s) {
				dec = f.decoder
				break
			}
		}
		if dec == nil {
			return s
		}
		out, err := dec.Decode(s)
		if err != nil || out == s {
			return s
		}
		s = out
	}
	return s
}
