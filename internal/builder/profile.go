package builder

import (
	"fmt"
	"os"

	"codeguard/internal/types"

	"gopkg.in/yaml.v3"
)

// BuildProfile tweaks how the source file is compiled. Every field is optional.
//
//	sanitizers: [address, undefined]
//	cflags: ["-std=c11"]
//	include_dirs: ["/opt/include"]
//	defines: ["NDEBUG"]
//	ldflags: ["-lm"]
type BuildProfile struct {
	Sanitizers  []string `yaml:"sanitizers"`
	CFlags      []string `yaml:"cflags"`
	IncludeDirs []string `yaml:"include_dirs"`
	Defines     []string `yaml:"defines"`
	LDFlags     []string `yaml:"ldflags"`
}

func LoadBuildProfile(path string) (*BuildProfile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read build profile: %w", err)
	}

	var profile BuildProfile
	if err := yaml.Unmarshal(content, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse build profile: %w", err)
	}
	return &profile, nil
}

// compileArgs goes between the sanitizer flags and the output flag.
func (p *BuildProfile) compileArgs() []string {
	if p == nil {
		return nil
	}
	args := make([]string, 0, len(p.CFlags)+len(p.IncludeDirs)+len(p.Defines))
	args = append(args, p.CFlags...)
	for _, dir := range p.IncludeDirs {
		args = append(args, "-I"+dir)
	}
	for _, def := range p.Defines {
		args = append(args, "-D"+def)
	}
	return args
}

func (p *BuildProfile) linkArgs() []string {
	if p == nil {
		return nil
	}
	return p.LDFlags
}

// sanitizerKinds returns the profile's sanitizer list, or defaults when it has none.
func (p *BuildProfile) sanitizerKinds(defaults []types.SanitizerKind) ([]types.SanitizerKind, error) {
	if p == nil || len(p.Sanitizers) == 0 {
		return defaults, nil
	}
	kinds := make([]types.SanitizerKind, 0, len(p.Sanitizers))
	for _, name := range p.Sanitizers {
		kind, err := types.ParseSanitizerKind(name)
		if err != nil {
			return defaults, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
