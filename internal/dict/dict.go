package dict

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"codeguard/config"
	"codeguard/internal/utils"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrEmptyDict = errors.New("no dictionary entries")

type DictGrabber struct {
	logger  *zap.Logger
	dictDir string
}

type DictGrabberParams struct {
	fx.In

	Logger *zap.Logger
	Config *config.AppConfig
}

func NewDictGrabber(params DictGrabberParams) *DictGrabber {
	return &DictGrabber{
		logger:  params.Logger.Named("dict"),
		dictDir: params.Config.DictDir,
	}
}

// GrabDict writes an AFL++ dictionary for sourcePath to dst.
//
// Entries come from the literals in the source file, every *.dict file in
// DICT_DIR, and the extra dictionary files given (the AFL++ auto dictionary,
// typically). Lines are deduplicated in that order, ignoring empty lines and
// comments. Unreadable extra files are skipped.
func (d *DictGrabber) GrabDict(ctx context.Context, sourcePath, dst string, extra ...string) (string, error) {
	var lines []string

	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to read source: %w", err)
	}
	for _, tok := range ExtractTokens(src) {
		lines = append(lines, Quote(tok))
	}

	dictFiles := extra
	if d.dictDir != "" {
		matches, err := filepath.Glob(filepath.Join(d.dictDir, "*.dict"))
		if err != nil {
			d.logger.Warn("bad DICT_DIR pattern", zap.String("dir", d.dictDir), zap.Error(err))
		}
		sort.Strings(matches)
		dictFiles = append(matches, extra...)
	}

	for _, path := range dictFiles {
		if err := context.Cause(ctx); err != nil {
			return "", err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			d.logger.Debug("skipping dictionary", zap.String("path", path), zap.Error(err))
			continue
		}
		lines = append(lines, strings.Split(string(content), "\n")...)
	}

	finalLines := mergeLines(lines)
	if len(finalLines) == 0 {
		return "", ErrEmptyDict
	}

	if err := utils.WriteFileAtomic(dst, []byte(strings.Join(finalLines, "\n")+"\n"), 0644); err != nil {
		return "", fmt.Errorf("failed to write dict file: %w", err)
	}

	d.logger.Debug("dictionary written", zap.String("path", dst), zap.Int("entries", len(finalLines)))
	return dst, nil
}

func mergeLines(lines []string) []string {
	lineSet := make(map[string]struct{})
	var finalLines []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := lineSet[line]; !ok {
			lineSet[line] = struct{}{}
			finalLines = append(finalLines, line)
		}
	}
	return finalLines
}
