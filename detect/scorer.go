package detect

import (
	"fmt"
	"strings"

	"bastion/core"
)

// Score derives the analysis block from a detection result. The policy is a
// deliberate two-tier model: any non-empty detection gets the flagged tier,
// everything else the baseline. Scores stay within [0,100] and an empty
// detection never scores above the baseline.
func Score(det Detection) core.Analysis {
	if det.Empty() {
		return core.Analysis{
			Confidence:  core.BaselineConfidence,
			RiskScore:   core.BaselineRiskScore,
			Description: "No known threat patterns detected",
		}
	}

	names := make([]string, len(det.Types))
	for i, t := range det.Types {
		names[i] = string(t)
	}
	return core.Analysis{
		Confidence:  core.FlaggedConfidence,
		RiskScore:   core.FlaggedRiskScore,
		Patterns:    append([]string(nil), det.Patterns...),
		Description: fmt.Sprintf("Detected %s patterns", strings.Join(names, ", ")),
	}
}

// DeriveSeverity maps the detected types to a record severity, keeping the
// highest grade when several types matched.
func DeriveSeverity(types []core.ThreatType) core.Severity {
	severity := core.SeverityMedium
	for _, t := range types {
		var s core.Severity
		switch t {
		case core.ThreatSQLInjection, core.ThreatDataExfiltration, core.ThreatMalware:
			s = core.SeverityCritical
		case core.ThreatBruteForce, core.ThreatXSS, core.ThreatDDoS, core.ThreatUnauthorized:
			s = core.SeverityHigh
		default:
			s = core.SeverityMedium
		}
		if s.Rank() > severity.Rank() {
			severity = s
		}
	}
	return severity
}

// NotificationSeverityFor maps a threat severity to the notification grade
// used when alerting on it.
func NotificationSeverityFor(s core.Severity) core.NotificationSeverity {
	switch s {
	case core.SeverityCritical:
		return core.NotifyCritical
	case core.SeverityHigh:
		return core.NotifyError
	case core.SeverityMedium:
		return core.NotifyWarning
	default:
		return core.NotifyInfo
	}
}
