package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/0x6d61/xssprobe/internal/engine"
)

// Multi fans a report out to every sink. A failing sink is logged and
// does not stop delivery to the others.
type Multi struct {
	sinks  []engine.Sink
	logger *zap.Logger
}

var _ engine.Sink = (*Multi)(nil)

// NewMulti creates a fan-out over sinks; nil entries are skipped.
func NewMulti(logger *zap.Logger, sinks ...engine.Sink) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Multi{logger: logger.Named("notify")}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Notify always returns nil.
func (m *Multi) Notify(ctx context.Context, r engine.VulnReport) error {
	for _, s := range m.sinks {
		if err := s.Notify(ctx, r); err != nil {
			m.logger.Warn("vulnerability sink failed",
				zap.String("url", r.URL),
				zap.String("parameter", r.Parameter),
				zap.Error(err),
			)
		}
	}
	return nil
}
