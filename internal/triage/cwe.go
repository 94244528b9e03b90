package triage

import "strings"

// DefaultCwe is reported when the bug class is unknown.
const DefaultCwe = "CWE-119"

type cweEntry struct {
	ID      string
	Summary string
}

// cweByBugClass maps sanitizer bug classes to CWE ids.
var cweByBugClass = map[string]cweEntry{
	"stack-buffer-overflow":         {"CWE-121", "Stack-based Buffer Overflow"},
	"dynamic-stack-buffer-overflow": {"CWE-121", "Stack-based Buffer Overflow"},
	"heap-buffer-overflow":          {"CWE-122", "Heap-based Buffer Overflow"},
	"global-buffer-overflow":        {"CWE-787", "Out-of-bounds Write"},
	"container-overflow":            {"CWE-787", "Out-of-bounds Write"},
	"stack-buffer-underflow":        {"CWE-124", "Buffer Underwrite ('Buffer Underflow')"},
	"heap-use-after-free":           {"CWE-416", "Use After Free"},
	"use-after-free":                {"CWE-416", "Use After Free"},
	"stack-use-after-return":        {"CWE-562", "Return of Stack Variable Address"},
	"stack-use-after-scope":         {"CWE-825", "Expired Pointer Dereference"},
	"double-free":                   {"CWE-415", "Double Free"},
	"bad-free":                      {"CWE-590", "Free of Memory not on the Heap"},
	"alloc-dealloc-mismatch":        {"CWE-762", "Mismatched Memory Management Routines"},
	"memcpy-param-overlap":          {"CWE-475", "Undefined Behavior for Input to API"},
	"negative-size-param":           {"CWE-131", "Incorrect Calculation of Buffer Size"},
	"allocation-size-too-big":       {"CWE-789", "Memory Allocation with Excessive Size Value"},
	"calloc-overflow":               {"CWE-190", "Integer Overflow or Wraparound"},
	"memory-leak":                   {"CWE-401", "Missing Release of Memory after Effective Lifetime"},
	"stack-overflow":                {"CWE-674", "Uncontrolled Recursion"},
	"null-deref":                    {"CWE-476", "NULL Pointer Dereference"},
	"use-of-uninitialized-value":    {"CWE-457", "Use of Uninitialized Variable"},
	"signed-integer-overflow":       {"CWE-190", "Integer Overflow or Wraparound"},
	"unsigned-integer-overflow":     {"CWE-190", "Integer Overflow or Wraparound"},
	"integer-divide-by-zero":        {"CWE-369", "Divide By Zero"},
	"divide-by-zero":                {"CWE-369", "Divide By Zero"},
	"index-out-of-bounds":           {"CWE-129", "Improper Validation of Array Index"},
	"out-of-bounds-index":           {"CWE-129", "Improper Validation of Array Index"},
	"shift-exponent":                {"CWE-1335", "Incorrect Bitwise Shift of Integer"},
	"invalid-shift":                 {"CWE-1335", "Incorrect Bitwise Shift of Integer"},
}

const defaultCweSummary = "Improper Restriction of Operations within the Bounds of a Memory Buffer"

// LookupCwe classifies a bug class such as "stack-buffer-overflow(write)".
// ok is false when the default was used.
func LookupCwe(bugClass string) (id, summary string, ok bool) {
	if e, found := cweByBugClass[normalizeBugClass(bugClass)]; found {
		return e.ID, e.Summary, true
	}
	return DefaultCwe, defaultCweSummary, false
}

// CweSummary returns the known summary for a CWE id, or "".
func CweSummary(id string) string {
	if id == DefaultCwe {
		return defaultCweSummary
	}
	for _, e := range cweByBugClass {
		if e.ID == id {
			return e.Summary
		}
	}
	return ""
}

// normalizeBugClass drops the access suffix and the case differences.
func normalizeBugClass(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// normalizeCwe accepts "121", "cwe-121" and "CWE-121".
func normalizeCwe(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	upper := strings.ToUpper(s)
	if strings.HasPrefix(upper, "CWE-") {
		return upper
	}
	return "CWE-" + s
}
