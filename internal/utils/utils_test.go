package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "seed")

	require.NoError(t, WriteFileAtomic(dst, []byte("first"), 0644))
	require.NoError(t, WriteFileAtomic(dst, []byte("second"), 0644))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not linger")
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0755))
	require.NoError(t, os.WriteFile(dst, []byte("old content that is longer"), 0644))

	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	assert.Error(t, CopyFile(filepath.Join(dir, "missing"), dst))
	assert.Error(t, CopyFile(dir, dst))
}

func TestIsHiddenOrTemp(t *testing.T) {
	assert.True(t, IsHiddenOrTemp("/x/.seed.tmp-123"))
	assert.False(t, IsHiddenOrTemp("/x/id:000000,sig:11"))
	assert.False(t, IsHiddenOrTemp(""))
	assert.False(t, IsHiddenOrTemp("."))
	assert.True(t, IsHiddenOrTemp(".hidden"))
}

func TestIsTarGz(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(plain, []byte("not an archive"), 0644))
	assert.False(t, IsTarGz(plain))
	assert.False(t, IsTarGz(filepath.Join(dir, "missing")))

	short := filepath.Join(dir, "short")
	require.NoError(t, os.WriteFile(short, []byte{0x1f}, 0644))
	assert.False(t, IsTarGz(short))

	gz := filepath.Join(dir, "x.gz")
	require.NoError(t, os.WriteFile(gz, []byte{0x1f, 0x8b, 0x08, 0x00, 0, 0, 0, 0, 0, 0}, 0644))
	assert.True(t, IsTarGz(gz))
}
