// Package session persists scan records and the vulnerability findings
// reported during a scan, so results can be reviewed after the process
// exits.
package session

import (
	"context"
	"time"

	"github.com/0x6d61/xssprobe/internal/engine"
)

// ScanRecord captures one finished (or interrupted) scan.
type ScanRecord struct {
	ID           string         `json:"id"`
	TargetURL    string         `json:"target_url"`
	Points       int            `json:"points"`
	Vulnerable   int            `json:"vulnerable"`
	RequestCount int64          `json:"request_count"`
	Server       string         `json:"server"`
	WAF          string         `json:"waf"`
	Verdicts     []VerdictRow   `json:"verdicts"`
	Config       map[string]any `json:"config,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// VerdictRow is the persisted projection of an engine.Verdict.
type VerdictRow struct {
	Parameter  string  `json:"parameter"`
	Kind       string  `json:"kind"`
	URL        string  `json:"url"`
	Vulnerable bool    `json:"vulnerable"`
	Confidence float64 `json:"confidence"`
	VulnClass  string  `json:"vuln_class,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ScanSummary is a lightweight record overview.
type ScanSummary struct {
	ID         string    `json:"id"`
	TargetURL  string    `json:"target_url"`
	Vulnerable int       `json:"vulnerable"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Finding is a stored vulnerability report.
type Finding struct {
	ID     string `json:"id"`
	ScanID string `json:"scan_id"`
	engine.VulnReport
}

// Store persists scan records and findings.
type Store interface {
	Save(ctx context.Context, rec *ScanRecord) error
	Load(ctx context.Context, targetURL string) (*ScanRecord, error)
	LoadByID(ctx context.Context, id string) (*ScanRecord, error)
	List(ctx context.Context) ([]*ScanSummary, error)
	Delete(ctx context.Context, id string) error
	AddFinding(ctx context.Context, scanID string, r engine.VulnReport) error
	Findings(ctx context.Context, targetURL string) ([]*Finding, error)
	Close() error
}

// RecordFrom projects a scan result into a record with the given id.
func RecordFrom(id string, res *engine.ScanResult) *ScanRecord {
	rec := &ScanRecord{
		ID:           id,
		TargetURL:    res.Target.URL,
		Points:       len(res.Verdicts),
		RequestCount: res.RequestCount,
		Server:       res.Environment.Server,
		StartedAt:    res.StartTime,
		FinishedAt:   res.EndTime,
	}
	if res.Environment.WAF != nil {
		rec.WAF = res.Environment.WAF.Name
	}
	for _, v := range res.Verdicts {
		if v.IsVulnerable {
			rec.Vulnerable++
		}
		rec.Verdicts = append(rec.Verdicts, VerdictRow{
			Parameter:  v.Point.Name,
			Kind:       v.Point.Kind.String(),
			URL:        v.Point.Target.URL,
			Vulnerable: v.IsVulnerable,
			Confidence: v.Confidence,
			VulnClass:  v.VulnClass,
			Error:      v.Error,
		})
	}
	return rec
}

// Recorder returns a sink that stores every report under scanID.
func Recorder(s Store, scanID string) engine.Sink {
	return engine.SinkFunc(func(ctx context.Context, r engine.VulnReport) error {
		return s.AddFinding(ctx, scanID, r)
	})
}
