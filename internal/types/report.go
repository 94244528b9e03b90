package types

import "strings"

type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
	SeverityInfo     Severity = "Info"
)

// ParseSeverity is case-insensitive. Unknown values map to Info and ok=false.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, true
	case "high":
		return SeverityHigh, true
	case "medium":
		return SeverityMedium, true
	case "low":
		return SeverityLow, true
	case "info":
		return SeverityInfo, true
	}
	return SeverityInfo, false
}

const (
	ReportType   = "dynamic"
	ReportSource = "CodeGuard Fuzzing"
)

// VulnerabilityReport is the final, deduplicated unit returned to the caller.
type VulnerabilityReport struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Severity       Severity        `json:"severity"`
	Message        string          `json:"message"`
	Line           int             `json:"line"`
	File           string          `json:"file,omitempty"`
	CweID          string          `json:"cweId"`
	CweDescription string          `json:"cweDescription"`
	Source         string          `json:"source"`
	Probability    float64         `json:"probability"`
	ConfirmedBy    []SanitizerKind `json:"confirmedBy"`
	CrashInputs    []string        `json:"crashInputs"`
	Signal         string          `json:"signal,omitempty"`
	StackTrace     []string        `json:"stackTrace,omitempty"`
}

// ConfirmedByKind reports whether the given sanitizer already confirmed the report.
func (r *VulnerabilityReport) ConfirmedByKind(kind SanitizerKind) bool {
	for _, k := range r.ConfirmedBy {
		if k == kind {
			return true
		}
	}
	return false
}
