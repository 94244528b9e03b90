package corpus

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"codeguard/internal/utils"
)

// MaxSeedSize matches AFL++'s default MAX_FILE; larger seeds are rejected by the engine.
const MaxSeedSize = 1 << 20

// Layout is the on-disk corpus tree shared by all engines of one session:
//
//	<root>/seeds/                 seed inputs
//	<root>/sync/<engine-id>/      one output tree per engine instance
//	<root>/sync/<engine-id>/crashes/
//
// Each engine writes only under its own sync subtree and reads siblings' queue
// directories, so no locking is needed.
type Layout struct {
	Root string
}

func NewLayout(sessionDir string) Layout {
	return Layout{Root: filepath.Join(sessionDir, "corpus")}
}

func (l Layout) SeedDir() string {
	return filepath.Join(l.Root, "seeds")
}

func (l Layout) SyncDir() string {
	return filepath.Join(l.Root, "sync")
}

func (l Layout) EngineDir(engineID string) string {
	return filepath.Join(l.SyncDir(), engineID)
}

func (l Layout) CrashDir(engineID string) string {
	return filepath.Join(l.EngineDir(engineID), "crashes")
}

func (l Layout) QueueDir(engineID string) string {
	return filepath.Join(l.EngineDir(engineID), "queue")
}

// Prepare creates the seed and sync roots. Engine directories are created by the engines.
func (l Layout) Prepare() error {
	for _, dir := range []string{l.SeedDir(), l.SyncDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// WriteSeed stores data in the seed directory under its md5, so identical
// seeds collapse into one file. It reports whether a new file was written.
func (l Layout) WriteSeed(data []byte) (bool, error) {
	if len(data) == 0 || len(data) > MaxSeedSize {
		return false, nil
	}
	sum := md5.Sum(data)
	dst := filepath.Join(l.SeedDir(), "seed_"+hex.EncodeToString(sum[:]))
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	}
	if err := utils.WriteFileAtomic(dst, data, 0644); err != nil {
		return false, err
	}
	return true, nil
}

// SeedFiles lists the seed directory in lexical order.
func (l Layout) SeedFiles() ([]string, error) {
	entries, err := os.ReadDir(l.SeedDir())
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || utils.IsHiddenOrTemp(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(l.SeedDir(), e.Name()))
	}
	return files, nil
}
