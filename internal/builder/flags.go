package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codeguard/internal/types"
)

type language int

const (
	langC language = iota
	langCXX
)

// SanitizerFlags returns the compiler flags for one sanitizer build.
// Address and memory builds run at -O0 with frame pointers so stack traces
// stay exact, and recover past the first fault.
func SanitizerFlags(kind types.SanitizerKind) ([]string, error) {
	switch kind {
	case types.AddressSanitizer:
		return []string{"-fsanitize=address", "-fsanitize-recover=address", "-O0", "-fno-omit-frame-pointer", "-g"}, nil
	case types.MemorySanitizer:
		return []string{"-fsanitize=memory", "-fsanitize-recover=memory", "-fsanitize-memory-track-origins", "-O0", "-fno-omit-frame-pointer", "-g"}, nil
	case types.UndefinedSanitizer:
		return []string{"-fsanitize=undefined,bounds", "-O1", "-g"}, nil
	}
	return nil, fmt.Errorf("no flags for sanitizer %q", kind)
}

// fuzzTargetFlags is used with the AFL++ compiler wrapper; ASAN comes from AFL_USE_ASAN.
func fuzzTargetFlags() []string {
	return []string{"-O1", "-g", "-fno-omit-frame-pointer"}
}

// ValidateSource checks that path exists and is a C or C++ file.
func ValidateSource(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedSource, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrUnsupportedSource, path)
	}
	if _, err := sourceLanguage(path); err != nil {
		return err
	}
	return nil
}

func sourceLanguage(path string) (language, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".c":
		return langC, nil
	case ".cpp", ".cc", ".cxx":
		return langCXX, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedSource, filepath.Base(path))
}

// CheckExtension only looks at the file name.
func CheckExtension(path string) error {
	_, err := sourceLanguage(path)
	return err
}
