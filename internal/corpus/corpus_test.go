package corpus

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"

	"codeguard/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLayout(t *testing.T) Layout {
	t.Helper()
	layout := NewLayout(t.TempDir())
	require.NoError(t, layout.Prepare())
	return layout
}

func TestLayoutPaths(t *testing.T) {
	layout := NewLayout("/work/s1")

	assert.Equal(t, "/work/s1/corpus/seeds", layout.SeedDir())
	assert.Equal(t, "/work/s1/corpus/sync", layout.SyncDir())
	assert.Equal(t, "/work/s1/corpus/sync/worker_1", layout.EngineDir("worker_1"))
	assert.Equal(t, "/work/s1/corpus/sync/master/crashes", layout.CrashDir("master"))
	assert.Equal(t, "/work/s1/corpus/sync/eclipser/queue", layout.QueueDir("eclipser"))
}

func TestWriteSeedDeduplicates(t *testing.T) {
	layout := newLayout(t)

	ok, err := layout.WriteSeed([]byte("AAAA"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = layout.WriteSeed([]byte("AAAA"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = layout.WriteSeed(nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = layout.WriteSeed(make([]byte, MaxSeedSize+1))
	require.NoError(t, err)
	assert.False(t, ok)

	files, err := layout.SeedFiles()
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func newGrabber(seedDir string) *CorpusGrabber {
	cfg := &config.AppConfig{SeedDir: seedDir}
	return NewCorpusGrabber(CorpusGrabberParams{
		Logger:             zap.NewNop(),
		DirSeedGrabber:     NewDirSeedGrabber(cfg, zap.NewNop()),
		DefaultSeedGrabber: NewDefaultSeedGrabber(),
	})
}

func TestCollectSeedsPrefersRequestSeeds(t *testing.T) {
	layout := newLayout(t)

	n, err := newGrabber("").CollectSeeds(context.Background(), layout, [][]byte{[]byte("x"), []byte("x"), []byte("y")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCollectSeedsFromSeedDir(t *testing.T) {
	seedDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "one"), []byte("1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "two"), []byte("2"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(seedDir, "nested"), 0755))

	layout := newLayout(t)
	n, err := newGrabber(seedDir).CollectSeeds(context.Background(), layout, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCollectSeedsFallsBackToDefaults(t *testing.T) {
	layout := newLayout(t)

	// an empty SEED_DIR yields nothing, so the defaults are used
	n, err := newGrabber(t.TempDir()).CollectSeeds(context.Background(), layout, nil)
	require.NoError(t, err)
	assert.Equal(t, 2+randomSeedCount, n)

	files, err := layout.SeedFiles()
	require.NoError(t, err)

	found := false
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		if bytes.Equal(data, bytes.Repeat([]byte("A"), 1000)) {
			found = true
		}
	}
	assert.True(t, found, "the long 'A' seed must be present")
}

func TestNewDirSeedGrabberNilWhenUnset(t *testing.T) {
	assert.Nil(t, NewDirSeedGrabber(&config.AppConfig{}, zap.NewNop()))
}

func TestCollectSeedsCancelled(t *testing.T) {
	layout := newLayout(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newGrabber("").CollectSeeds(ctx, layout, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func writeTarGz(t *testing.T, path string, members map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range members {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body))}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestDirSeedGrabberUnpacksTarGz(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not installed")
	}
	seedDir := t.TempDir()
	writeTarGz(t, filepath.Join(seedDir, "seeds.tar.gz"), map[string]string{
		"first":        "GET / HTTP/1.0",
		"nested/other": "AAAA",
	})

	layout := newLayout(t)
	n, err := NewDirSeedGrabber(&config.AppConfig{SeedDir: seedDir}, zap.NewNop()).GrabSeeds(context.Background(), layout)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	files, err := layout.SeedFiles()
	require.NoError(t, err)
	var contents []string
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		contents = append(contents, string(data))
	}
	sort.Strings(contents)
	assert.Equal(t, []string{"AAAA", "GET / HTTP/1.0"}, contents)
}
