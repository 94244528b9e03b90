package analysis

import (
	"fmt"
	"strings"
	"time"
)

type Mode string

const (
	// ModeFuzz runs the engines before triage.
	ModeFuzz Mode = "fuzz"
	// ModeDirect triages the seeds themselves.
	ModeDirect Mode = "direct"
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fuzz":
		return ModeFuzz, nil
	case "direct":
		return ModeDirect, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Request is one analysis to run.
type Request struct {
	SourceCode []byte // when empty, Path is read from disk
	Path       string // source file name; its extension selects the language
	Mode       Mode
	Seeds      [][]byte
	FuzzBudget time.Duration // zero means the configured budget
}
