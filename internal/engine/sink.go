package engine

import (
	"context"
	"time"
)

// VulnReport is the notification emitted for each vulnerable verdict.
type VulnReport struct {
	Type        string    `json:"type"`
	URL         string    `json:"url"`
	Parameter   string    `json:"parameter"`
	Payload     string    `json:"payload"`
	PayloadType string    `json:"payloadType"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sink receives vulnerability reports. Delivery is one-way: the scanner
// logs a returned error and carries on.
type Sink interface {
	Notify(ctx context.Context, r VulnReport) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r VulnReport) error

// Notify calls f.
func (f SinkFunc) Notify(ctx context.Context, r VulnReport) error { return f(ctx, r) }

// ReportFor builds the notification for v. The payload fields come from
// the strongest evidence.
func ReportFor(v Verdict, now time.Time) VulnReport {
	r := VulnReport{
		Type:      v.VulnClass,
		URL:       v.Point.Target.URL,
		Parameter: v.Point.Name,
		Timestamp: now,
	}
	if len(v.Evidence) > 0 {
		best := v.Evidence[0]
		for _, e := range v.Evidence[1:] {
			if e.Contribution > best.Contribution ||
				(e.Contribution == best.Contribution && e.Kind.Rank() < best.Kind.Rank()) {
				best = e
			}
		}
		r.Payload = best.Payload
		r.PayloadType = best.Transform
		r.Description = string(best.Kind) + " evidence: " + best.Match
	}
	return r
}
