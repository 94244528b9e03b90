package triage

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"codeguard/internal/types"
)

var ErrNoCrashLine = errors.New("report has no crash line")

// casrReport is the subset of the casr-san JSON report we consume. Cwe,
// Severity, Confidence and Signal are not emitted by casr itself but are
// honoured when a wrapper adds them.
type casrReport struct {
	CrashLine     string   `json:"CrashLine"`
	Stacktrace    []string `json:"Stacktrace"`
	AsanReport    []string `json:"AsanReport"`
	MsanReport    []string `json:"MsanReport"`
	UbsanReport   []string `json:"UbsanReport"`
	CrashSeverity struct {
		Type             string `json:"Type"`
		ShortDescription string `json:"ShortDescription"`
		Description      string `json:"Description"`
		Explanation      string `json:"Explanation"`
	} `json:"CrashSeverity"`

	Cwe        string   `json:"Cwe"`
	Severity   string   `json:"Severity"`
	Confidence *float64 `json:"Confidence"`
	Signal     string   `json:"Signal"`
}

var (
	sanitizerHeaderRe = regexp.MustCompile(`(?:Address|Memory|UndefinedBehavior|Leak)Sanitizer:\s*([A-Za-z0-9_-]+)`)
	ubsanLocationRe   = regexp.MustCompile(`([^\s:]+):(\d+):(?:\d+:)?\s*runtime error:\s*(.*)`)
)

// ParseReport converts one casr-san report into a RawCrashReport for the
// given pair.
func ParseReport(data []byte, input types.CrashInput, kind types.SanitizerKind) (types.RawCrashReport, error) {
	var r casrReport
	if err := json.Unmarshal(data, &r); err != nil {
		return types.RawCrashReport{}, fmt.Errorf("invalid triage report: %w", err)
	}

	raw := types.RawCrashReport{
		Input:       input,
		Sanitizer:   kind,
		StackTrace:  r.Stacktrace,
		Description: strings.TrimSpace(r.CrashSeverity.Description),
		Confidence:  0,
	}

	file, line, err := parseCrashLine(r.CrashLine)
	if err != nil {
		// ubsan reports carry the location in the runtime error line
		file, line, err = ubsanLocation(r.UbsanReport)
		if err != nil {
			return types.RawCrashReport{}, err
		}
	}
	raw.File, raw.Line = file, line

	raw.BugClass = bugClass(&r)
	if cwe := normalizeCwe(r.Cwe); cwe != "" {
		raw.CweID = cwe
		raw.CweSummary = CweSummary(cwe)
	} else {
		raw.CweID, raw.CweSummary, _ = LookupCwe(raw.BugClass)
	}

	if sev, ok := types.ParseSeverity(r.Severity); ok {
		raw.Severity = sev
	} else {
		raw.Severity = SeverityFromExploitability(r.CrashSeverity.Type)
	}
	if r.Confidence != nil {
		raw.Confidence = *r.Confidence
	}

	raw.Signal = r.Signal
	if raw.Signal == "" && normalizeBugClass(raw.BugClass) == "segv" {
		raw.Signal = "SIGSEGV"
	}
	if raw.Description == "" {
		raw.Description = raw.BugClass
	}
	if expl := strings.TrimSpace(r.CrashSeverity.Explanation); expl != "" {
		raw.Description += ": " + expl
	}
	return raw, nil
}

// SeverityFromExploitability maps the casr exploitability class.
func SeverityFromExploitability(class string) types.Severity {
	switch strings.ToUpper(strings.TrimSpace(class)) {
	case "EXPLOITABLE":
		return types.SeverityHigh
	case "PROBABLY_EXPLOITABLE":
		return types.SeverityMedium
	case "NOT_EXPLOITABLE":
		return types.SeverityLow
	}
	return types.SeverityInfo
}

func bugClass(r *casrReport) string {
	if r.CrashSeverity.ShortDescription != "" {
		return r.CrashSeverity.ShortDescription
	}
	for _, l := range r.UbsanReport {
		if m := ubsanLocationRe.FindStringSubmatch(l); m != nil {
			if class := ubsanBugClass(m[3]); class != "" {
				return class
			}
		}
	}
	for _, lines := range [][]string{r.AsanReport, r.MsanReport, r.UbsanReport} {
		for _, l := range lines {
			if m := sanitizerHeaderRe.FindStringSubmatch(l); m != nil {
				return m[1]
			}
		}
	}
	return ""
}

// parseCrashLine splits "path/file.c:12:5" or "path/file.c:12".
func parseCrashLine(s string) (string, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, ErrNoCrashLine
	}
	parts := strings.Split(s, ":")
	// drop the column when there is one
	if len(parts) >= 3 {
		if _, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			if _, err := strconv.Atoi(parts[len(parts)-2]); err == nil {
				parts = parts[:len(parts)-1]
			}
		}
	}
	if len(parts) < 2 {
		return "", 0, fmt.Errorf("%w: %q", ErrNoCrashLine, s)
	}
	line, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || line <= 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrNoCrashLine, s)
	}
	return strings.Join(parts[:len(parts)-1], ":"), line, nil
}

var ubsanMessages = []struct {
	fragment string
	class    string
}{
	{"out of bounds", "index-out-of-bounds"},
	{"signed integer overflow", "signed-integer-overflow"},
	{"unsigned integer overflow", "unsigned-integer-overflow"},
	{"division by zero", "integer-divide-by-zero"},
	{"shift exponent", "shift-exponent"},
	{"left shift of", "invalid-shift"},
	{"null pointer", "null-deref"},
}

func ubsanBugClass(msg string) string {
	msg = strings.ToLower(msg)
	for _, m := range ubsanMessages {
		if strings.Contains(msg, m.fragment) {
			return m.class
		}
	}
	return ""
}

func ubsanLocation(lines []string) (string, int, error) {
	for _, l := range lines {
		if m := ubsanLocationRe.FindStringSubmatch(l); m != nil {
			line, err := strconv.Atoi(m[2])
			if err == nil && line > 0 {
				return m[1], line, nil
			}
		}
	}
	return "", 0, ErrNoCrashLine
}
