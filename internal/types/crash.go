package types

import (
	"os"
	"time"
)

// CrashInput is one fuzzer discovered input that made the target fail.
type CrashInput struct {
	ID           string    `json:"id"`     // md5 of the content
	Engine       string    `json:"engine"` // engine instance that produced it, or "direct"
	Path         string    `json:"path"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

func (c CrashInput) Content() ([]byte, error) {
	return os.ReadFile(c.Path)
}

// RawCrashReport is the triage tool's verdict for a single (input, binary) pair.
type RawCrashReport struct {
	Input       CrashInput
	Sanitizer   SanitizerKind
	File        string
	Line        int
	Signal      string
	BugClass    string
	CweID       string
	CweSummary  string
	Severity    Severity
	Confidence  float64
	Description string
	StackTrace  []string
}
