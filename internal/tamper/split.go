package tamper

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const splitWidth = 2

// splitStringTamper: "abcd" -> "ab"+"cd"
type splitStringTamper struct{}

func (splitStringTamper) Name() string { return "split-string" }
func (splitStringTamper) Kind() Kind   { return KindSplitting }

func (splitStringTamper) Apply(s string) string {
	if s == "" {
		return `""`
	}
	parts := runeChunks(s, splitWidth)
	for i, p := range parts {
		parts[i] = jsQuote(p)
	}
	return strings.Join(parts, "+")
}

func (splitStringTamper) Reverse(s string) (string, error) {
	parts, err := readJoined(s, "+")
	if err != nil {
		return "", err
	}
	return strings.Join(parts, ""), nil
}

const arrayJoin = "].join('')"

// splitArrayTamper: "abcd" -> ["ab","cd"].join('')
type splitArrayTamper struct{}

func (splitArrayTamper) Name() string { return "split-array" }
func (splitArrayTamper) Kind() Kind   { return KindSplitting }

func (splitArrayTamper) Apply(s string) string {
	parts := runeChunks(s, splitWidth)
	for i, p := range parts {
		parts[i] = jsQuote(p)
	}
	return "[" + strings.Join(parts, ",") + arrayJoin
}

func (splitArrayTamper) Reverse(s string) (string, error) {
	inner, err := unwrap(s, "[", arrayJoin)
	if err != nil {
		return "", err
	}
	if inner == "" {
		return "", nil
	}
	parts, err := readJoined(inner, ",")
	if err != nil {
		return "", err
	}
	return strings.Join(parts, ""), nil
}

const (
	objectPrefix = "Object.values({"
	objectSuffix = "}).join('')"
)

// splitObjectTamper keys each chunk by its rune offset:
// "abcd" -> Object.values({"0":"ab","2":"cd"}).join('')
type splitObjectTamper struct{}

func (splitObjectTamper) Name() string { return "split-object" }
func (splitObjectTamper) Kind() Kind   { return KindSplitting }

func (splitObjectTamper) Apply(s string) string {
	chunks := runeChunks(s, splitWidth)
	entries := make([]string, len(chunks))
	offset := 0
	for i, c := range chunks {
		entries[i] = jsQuote(strconv.Itoa(offset)) + ":" + jsQuote(c)
		offset += utf8.RuneCountInString(c)
	}
	return objectPrefix + strings.Join(entries, ",") + objectSuffix
}

func (splitObjectTamper) Reverse(s string) (string, error) {
	inner, err := unwrap(s, objectPrefix, objectSuffix)
	if err != nil {
		return "", err
	}
	if inner == "" {
		return "", nil
	}

	r := &literalReader{s: inner}
	var b strings.Builder
	offset := 0
	for {
		key, err := r.literal()
		if err != nil {
			return "", err
		}
		if key != strconv.Itoa(offset) {
			return "", fmt.Errorf("%w: key %q out of order", ErrMalformed, key)
		}
		if !r.consume(":") {
			return "", fmt.Errorf("%w: missing ':' after key %q", ErrMalformed, key)
		}
		val, err := r.literal()
		if err != nil {
			return "", err
		}
		b.WriteString(val)
		offset += utf8.RuneCountInString(val)

		if r.eof() {
			return b.String(), nil
		}
		if !r.consume(",") {
			return "", fmt.Errorf("%w: unexpected %q at offset %d", ErrMalformed, r.s[r.pos], r.pos)
		}
	}
}
