// Package dedup reduces raw triage reports to one VulnerabilityReport per
// (source line, CWE id).
package dedup

import (
	"fmt"
	"strconv"

	"codeguard/internal/types"

	"github.com/google/uuid"
)

// Key identifies one underlying defect.
type Key struct {
	Line  int
	CweID string
}

func KeyOf(r types.RawCrashReport) Key {
	return Key{Line: r.Line, CweID: r.CweID}
}

// reportNamespace scopes report ids so they never collide with other UUIDv5 users.
var reportNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("codeguard/vulnerability-report"))

// ReportID is a stable id derived from the key only.
func ReportID(k Key) string {
	return uuid.NewSHA1(reportNamespace, []byte(strconv.Itoa(k.Line)+"\x00"+k.CweID)).String()
}

// Deduplicate walks raw in order. The first report of a key becomes the
// canonical one; later reports only add their sanitizer and crash input.
// The output keeps first-occurrence order and never shares a key.
func Deduplicate(raw []types.RawCrashReport) []types.VulnerabilityReport {
	index := make(map[Key]int, len(raw))
	reports := make([]types.VulnerabilityReport, 0, len(raw))

	for _, r := range raw {
		k := KeyOf(r)
		i, found := index[k]
		if !found {
			index[k] = len(reports)
			reports = append(reports, newReport(k, r))
			continue
		}
		merge(&reports[i], r)
	}
	return reports
}

func newReport(k Key, r types.RawCrashReport) types.VulnerabilityReport {
	report := types.VulnerabilityReport{
		ID:             ReportID(k),
		Type:           types.ReportType,
		Severity:       r.Severity,
		Message:        message(r),
		Line:           r.Line,
		File:           r.File,
		CweID:          r.CweID,
		CweDescription: r.CweSummary,
		Source:         types.ReportSource,
		Probability:    r.Confidence,
		ConfirmedBy:    []types.SanitizerKind{r.Sanitizer},
		CrashInputs:    []string{},
		Signal:         r.Signal,
		StackTrace:     r.StackTrace,
	}
	if r.Input.ID != "" {
		report.CrashInputs = append(report.CrashInputs, r.Input.ID)
	}
	if report.Severity == "" {
		report.Severity = types.SeverityInfo
	}
	return report
}

func merge(report *types.VulnerabilityReport, r types.RawCrashReport) {
	if !report.ConfirmedByKind(r.Sanitizer) {
		report.ConfirmedBy = append(report.ConfirmedBy, r.Sanitizer)
	}
	if r.Input.ID == "" {
		return
	}
	for _, id := range report.CrashInputs {
		if id == r.Input.ID {
			return
		}
	}
	report.CrashInputs = append(report.CrashInputs, r.Input.ID)
}

func message(r types.RawCrashReport) string {
	if r.Description == "" {
		return fmt.Sprintf("Potential %s vulnerability detected", r.CweID)
	}
	return fmt.Sprintf("Potential %s vulnerability detected: %s", r.CweID, r.Description)
}
