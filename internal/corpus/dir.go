package corpus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codeguard/config"
	"codeguard/internal/utils"

	"go.uber.org/zap"
)

// DirSeedGrabber copies seeds from SEED_DIR. The directory may also hold
// .tar.gz or .zip archives, which are unpacked first.
type DirSeedGrabber struct {
	dir    string
	logger *zap.Logger
}

// NewDirSeedGrabber returns nil when SEED_DIR is unset.
func NewDirSeedGrabber(cfg *config.AppConfig, logger *zap.Logger) *DirSeedGrabber {
	if cfg.SeedDir == "" {
		return nil
	}
	return &DirSeedGrabber{dir: cfg.SeedDir, logger: logger.Named("seeddir")}
}

func (g *DirSeedGrabber) GrabSeeds(ctx context.Context, layout Layout) (int, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed dir: %w", err)
	}

	added := 0
	for _, e := range entries {
		if err := context.Cause(ctx); err != nil {
			return added, err
		}
		if e.IsDir() {
			continue
		}
		path := filepath.Join(g.dir, e.Name())
		switch {
		case utils.IsTarGz(path):
			n, err := g.grabArchive(layout, path, utils.UnpackTarGz)
			if err != nil {
				g.logger.Warn("skipping seed archive", zap.String("archive", path), zap.Error(err))
			}
			added += n
		case strings.HasSuffix(e.Name(), ".zip"):
			n, err := g.grabArchive(layout, path, utils.Unzip)
			if err != nil {
				g.logger.Warn("skipping seed archive", zap.String("archive", path), zap.Error(err))
			}
			added += n
		default:
			ok, err := addSeedFile(layout, path)
			if err != nil {
				return added, err
			}
			if ok {
				added++
			}
		}
	}
	return added, nil
}

func (g *DirSeedGrabber) grabArchive(layout Layout, archive string, unpack func(string, string) error) (int, error) {
	tmpDir, err := os.MkdirTemp("", "codeguard-seeds-*")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(tmpDir)

	if err := unpack(archive, tmpDir); err != nil {
		return 0, err
	}

	added := 0
	err = filepath.WalkDir(tmpDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ok, err := addSeedFile(layout, path)
		if ok {
			added++
		}
		return err
	})
	return added, err
}

func addSeedFile(layout Layout, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() > MaxSeedSize {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, nil
	}
	return layout.WriteSeed(data)
}
