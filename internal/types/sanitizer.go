package types

import (
	"fmt"
	"strings"
)

type SanitizerKind string

const (
	AddressSanitizer   SanitizerKind = "address"
	UndefinedSanitizer SanitizerKind = "undefined"
	MemorySanitizer    SanitizerKind = "memory"
)

// AllSanitizers lists the sanitizer kinds in build and triage order.
func AllSanitizers() []SanitizerKind {
	return []SanitizerKind{AddressSanitizer, UndefinedSanitizer, MemorySanitizer}
}

// ParseSanitizerKind accepts the long names as well as the usual asan/ubsan/msan aliases.
func ParseSanitizerKind(s string) (SanitizerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "address", "asan":
		return AddressSanitizer, nil
	case "undefined", "ubsan", "undefined-behavior":
		return UndefinedSanitizer, nil
	case "memory", "msan":
		return MemorySanitizer, nil
	}
	return "", fmt.Errorf("unknown sanitizer %q", s)
}

func (k SanitizerKind) String() string {
	return string(k)
}

type BuildStatus string

const (
	BuildSucceeded BuildStatus = "succeeded"
	BuildFailed    BuildStatus = "failed"
)

// SanitizerBinary is one compiled artifact. Failed builds are kept so the
// caller can report which sanitizers were lost.
type SanitizerBinary struct {
	Kind   SanitizerKind `json:"kind"`
	Path   string        `json:"path"`
	Status BuildStatus   `json:"status"`
	Err    error         `json:"-"`
}

func (b SanitizerBinary) Ok() bool {
	return b.Status == BuildSucceeded
}

// Usable filters out the binaries that failed to build, keeping order.
func Usable(binaries []SanitizerBinary) []SanitizerBinary {
	usable := make([]SanitizerBinary, 0, len(binaries))
	for _, b := range binaries {
		if b.Ok() {
			usable = append(usable, b)
		}
	}
	return usable
}
