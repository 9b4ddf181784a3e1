// Package report renders scan results for terminals and machines.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/0x6d61/xssprobe/internal/engine"
)

// Reporter generates output in a specific format.
type Reporter interface {
	// Format returns the format name (e.g., "text", "json").
	Format() string

	// Generate writes the formatted scan result to w.
	Generate(ctx context.Context, result *engine.ScanResult, w io.Writer) error
}

// Options tune the reporter returned by New. Each field only applies to
// the formats that support it.
type Options struct {
	// Verbose is the text detail level.
	Verbose int
	// Compact selects single-line JSON.
	Compact bool
}

// New creates a reporter by format name ("text" or "json").
// The format name is case-insensitive.
func New(format string, opts Options) (Reporter, error) {
	switch strings.ToLower(format) {
	case "text":
		return &TextReporter{Verbose: opts.Verbose}, nil
	case "json":
		return &JSONReporter{Compact: opts.Compact}, nil
	default:
		return nil, fmt.Errorf("unsupported report format: %q", format)
	}
}
