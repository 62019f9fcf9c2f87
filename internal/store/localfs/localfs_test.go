package localfs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/store"
)

func TestOpenCreatesMissingRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not", "yet", "there")
	root, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "there", root.Name())
	assert.DirExists(t, path)
}

func TestCreateFileAndReadBack(t *testing.T) {
	ctx := context.Background()
	root, err := Open(t.TempDir())
	require.NoError(t, err)

	content := []byte("hello from disk")
	created, err := root.CreateFile(ctx, "greeting.txt", bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	assert.Equal(t, "greeting.txt", created.Name())
	assert.Equal(t, int64(len(content)), created.Size())

	rc, err := created.Open(ctx)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestCreateFileOverwrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	root, err := Open(dir)
	require.NoError(t, err)

	_, err = root.CreateFile(ctx, "f.txt", strings.NewReader("old old old"), 11)
	require.NoError(t, err)
	_, err = root.CreateFile(ctx, "f.txt", strings.NewReader("new"), 3)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestCreateFileShortReaderLeavesNothing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	root, err := Open(dir)
	require.NoError(t, err)

	_, err = root.CreateFile(ctx, "partial.bin", strings.NewReader("only ten b"), 1000)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// Neither the final name nor any temp file survives a failed write.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListReturnsTypedItems(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("x"), 0o644))

	root, err := Open(dir)
	require.NoError(t, err)
	items, err := root.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	byName := map[string]store.Item{}
	for _, it := range items {
		byName[it.Name()] = it
	}
	_, isDir := byName["sub"].(store.Directory)
	assert.True(t, isDir)
	file, isFile := byName["file.txt"].(store.File)
	require.True(t, isFile)
	assert.Equal(t, int64(1), file.Size())
	assert.Equal(t, filepath.Join(dir, "file.txt"), store.DisplayPath(file))
}

func TestDeleteRemovesSubtree(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub", "deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "deep", "f"), []byte("x"), 0o644))

	root, err := Open(dir)
	require.NoError(t, err)
	items, err := root.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, items[0].Delete(ctx))
	assert.NoDirExists(t, filepath.Join(dir, "sub"))
}

func TestCreateRejectsInvalidNames(t *testing.T) {
	ctx := context.Background()
	root, err := Open(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", ".", "..", "a/b"} {
		_, err := root.CreateFile(ctx, name, strings.NewReader(""), 0)
		assert.ErrorIs(t, err, store.ErrInvalidName, "file name %q", name)
		_, err = root.CreateDir(ctx, name)
		assert.ErrorIs(t, err, store.ErrInvalidName, "dir name %q", name)
	}
}

func TestCancelledContextRefused(t *testing.T) {
	root, err := Open(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = root.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = root.CreateFile(ctx, "f", strings.NewReader(""), 0)
	assert.ErrorIs(t, err, context.Canceled)
}
