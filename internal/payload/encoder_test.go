package payload

import (
	"errors"
	"testing"
)

func TestEncoders_Encode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		encoder string
		input   string
		want    string
	}{
		{"url", "<a b>", "%3Ca%20b%3E"},
		{"url", "abc-._~123", "abc-._~123"},
		{"html", `<a href='/x'>&`, "&lt;a href=&#x27;&#x2F;x&#x27;&gt;&amp;"},
		{"js", "a'b\"c\\\n", `a\'b\"c\\\n`},
		{"unicode", "<a", `\u003c\u0061`},
		{"unicode", "😀", `\ud83d\ude00`},
		{"hex", "<a", `\x3c\x61`},
		{"base64", "<a", "PGE="},
	}
	for _, tt := range tests {
		t.Run(tt.encoder, func(t *testing.T) {
			e := LookupEncoder(tt.encoder)
			if e == nil {
				t.Fatalf("LookupEncoder(%q) = nil", tt.encoder)
			}
			if got := e.Encode(tt.input); got != tt.want {
				t.Errorf("%s.Encode(%q) = %q, want %q", tt.encoder, tt.input, got, tt.want)
			}
		})
	}
}

func TestEncoders_DecodeRoundTrip(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"",
		`<script>alert('xp0123456789')</script>`,
		"tab\tnew\nline \"quoted\" \\ back",
		"café 😀 %41 &amp;",
	}
	for _, e := range Encoders() {
		for _, in := range inputs {
			got, err := e.Decode(e.Encode(in))
			if err != nil {
				t.Errorf("%s.Decode(Encode(%q)) error: %v", e.Name(), in, err)
				continue
			}
			if got != in {
				t.Errorf("%s.Decode(Encode(%q)) = %q", e.Name(), in, got)
			}
		}
	}
}

func TestEncoders_Order(t *testing.T) {
	t.Parallel()
	want := []string{"url", "html", "js", "unicode", "hex", "base64"}
	got := Encoders()
	if len(got) != len(want) {
		t.Fatalf("Encoders() returned %d encoders, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.Name() != want[i] {
			t.Errorf("Encoders()[%d] = %s, want %s", i, e.Name(), want[i])
		}
	}
	if LookupEncoder("rot13") != nil {
		t.Error("LookupEncoder(rot13) should be nil")
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	if _, err := (&URLEncoder{}).Decode("%zz"); !errors.Is(err, ErrDecode) {
		t.Errorf("url Decode(%%zz) error = %v, want ErrDecode", err)
	}
	if _, err := (&Base64Encoder{}).Decode("test"); !errors.Is(err, ErrDecode) {
		t.Errorf("base64 Decode(test) error = %v, want ErrDecode", err)
	}
	if _, err := (&Base64Encoder{}).Decode("!!!!"); !errors.Is(err, ErrDecode) {
		t.Errorf("base64 Decode(!!!!) error = %v, want ErrDecode", err)
	}
	if _, err := (&HexEncoder{}).Decode(`\xff`); !errors.Is(err, ErrDecode) {
		t.Errorf(`hex Decode(\xff) error = %v, want ErrDecode`, err)
	}
}

func TestUnicodeDecode_KeepsPlainText(t *testing.T) {
	t.Parallel()
	got, err := (&UnicodeEncoder{}).Decode(`a\u003cb\uzzzz`)
	if err != nil {
		t.Fatal(err)
	}
	if want := `a<b\uzzzz`; got != want {
		t.Errorf("Decode() = %q, want %q", got, want)
	}
}

func TestChainEncoder(t *testing.T) {
	t.Parallel()
	chain := NewChainEncoder(&HTMLEncoder{}, &URLEncoder{})

	if chain.Name() != "html>url" {
		t.Errorf("Name() = %q, want %q", chain.Name(), "html>url")
	}
	got := chain.Encode("<")
	if want := "%26lt%3B"; got != want {
		t.Errorf("Encode(<) = %q, want %q", got, want)
	}
	back, err := chain.Decode(got)
	if err != nil || back != "<" {
		t.Errorf("Decode(%q) = %q, %v; want <", got, back, err)
	}
}
