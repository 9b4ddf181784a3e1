package tamper

import "unicode/utf8"

// Chunking tampers leave the payload text untouched. They only decide how
// the request body is cut into transfer-encoding chunks.

type fixedChunkTamper struct {
	size int
}

func (fixedChunkTamper) Name() string                     { return "chunk-fixed" }
func (fixedChunkTamper) Kind() Kind                       { return KindChunking }
func (fixedChunkTamper) Apply(s string) string            { return s }
func (fixedChunkTamper) Reverse(s string) (string, error) { return s, nil }

// Segments splits s into runs of t.size characters.
func (t fixedChunkTamper) Segments(s string) []string {
	return runeChunks(s, t.size)
}

// dynamicChunkTamper cycles the segment size through 2, 5, 3, 6, 4.
type dynamicChunkTamper struct{}

func (dynamicChunkTamper) Name() string                     { return "chunk-dynamic" }
func (dynamicChunkTamper) Kind() Kind                       { return KindChunking }
func (dynamicChunkTamper) Apply(s string) string            { return s }
func (dynamicChunkTamper) Reverse(s string) (string, error) { return s, nil }

func (dynamicChunkTamper) Segments(s string) []string {
	var out []string
	size := 2
	for s != "" {
		i, n := 0, 0
		for i < len(s) && n < size {
			_, w := utf8.DecodeRuneInString(s[i:])
			i += w
			n++
		}
		out = append(out, s[:i])
		s = s[i:]
		size = (size+1)%5 + 2
	}
	return out
}

var (
	_ Segmenter = fixedChunkTamper{}
	_ Segmenter = dynamicChunkTamper{}
)
