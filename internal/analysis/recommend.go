package analysis

import "github.com/0x6d61/xssprobe/internal/engine"

// Recommendation levels.
const (
	LevelCritical = "critical"
	LevelWarning  = "warning"
	LevelInfo     = "info"
)

var kindAdvice = map[engine.EvidenceKind]engine.Recommendation{
	engine.EvidenceReflected: {
		Level:   LevelInfo,
		Message: "Deploy a Content Security Policy",
		Action:  "Send a Content-Security-Policy header that disallows inline script",
	},
	engine.EvidenceDOMSink: {
		Level:   LevelInfo,
		Message: "Use safe DOM APIs",
		Action:  "Replace innerHTML and document.write with textContent",
	},
	engine.EvidenceEventHandler: {
		Level:   LevelInfo,
		Message: "Keep untrusted data out of event handler attributes",
		Action:  "Attach handlers with addEventListener and encode attribute values",
	},
	engine.EvidenceDataURI: {
		Level:   LevelInfo,
		Message: "Reject data: URLs in user-controlled links",
		Action:  "Allow-list URL schemes before rendering href and src values",
	},
}

// Recommend returns remediation advice for a verdict with the given
// confidence and winning evidence kind.
func Recommend(confidence float64, kind engine.EvidenceKind, threshold float64) []engine.Recommendation {
	var recs []engine.Recommendation
	switch {
	case confidence >= threshold:
		recs = append(recs, engine.Recommendation{
			Level:   LevelCritical,
			Message: "High-risk XSS found, fix immediately",
			Action:  "Validate input and encode output for its context",
		})
	case confidence > 0.5:
		recs = append(recs, engine.Recommendation{
			Level:   LevelWarning,
			Message: "Potential XSS found, review the affected code",
			Action:  "Strengthen input validation and output encoding",
		})
	}
	if advice, ok := kindAdvice[kind]; ok {
		recs = append(recs, advice)
	}
	return recs
}
