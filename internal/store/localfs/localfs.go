// Package localfs is the local disk store backend. Writes are staged into
// a temp file and renamed into place, so a failed create never leaves a
// partial file visible under its final name.
package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/treesync/treesync/internal/store"
	"github.com/treesync/treesync/internal/utils"
)

// Open returns the directory at path as a store root. The directory is
// created if missing.
func Open(path string) (store.Directory, error) {
	abs, err := utils.ResolvePath(path)
	if err != nil {
		return nil, store.WrapErr("open", path, err)
	}
	if err := utils.EnsureDir(abs); err != nil {
		return nil, store.WrapErr("open", abs, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, store.WrapErr("open", abs, err)
	}
	return &localDir{localItem{path: abs, info: info}}, nil
}

type localItem struct {
	path string
	info os.FileInfo
}

func (l *localItem) Name() string       { return filepath.Base(l.path) }
func (l *localItem) ModTime() time.Time { return l.info.ModTime().UTC() }
func (l *localItem) FullPath() string   { return l.path }

// CreatedAt returns the modification time: portable birth-time support does
// not exist in os.FileInfo.
func (l *localItem) CreatedAt() time.Time { return l.info.ModTime().UTC() }

func (l *localItem) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.WrapErr("delete", l.path, os.RemoveAll(l.path))
}

type localFile struct{ localItem }

func (l *localFile) Size() int64 { return l.info.Size() }

func (l *localFile) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, store.WrapErr("open", l.path, err)
	}
	return f, nil
}

type localDir struct{ localItem }

func (l *localDir) List(ctx context.Context) ([]store.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(l.path)
	if err != nil {
		return nil, store.WrapErr("list", l.path, err)
	}

	items := make([]store.Item, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info. The contract says
			// never drop entries silently, so surface it.
			return nil, store.WrapErr("list", filepath.Join(l.path, entry.Name()), err)
		}
		child := localItem{path: filepath.Join(l.path, entry.Name()), info: info}
		if entry.IsDir() {
			items = append(items, &localDir{child})
		} else {
			items = append(items, &localFile{child})
		}
	}
	return items, nil
}

func (l *localDir) CreateFile(ctx context.Context, name string, r io.Reader, size int64) (store.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validName(name) {
		return nil, store.WrapErr("create_file", name, store.ErrInvalidName)
	}
	dest := filepath.Join(l.path, name)

	tmp, err := os.CreateTemp(l.path, "."+name+".tmp.*")
	if err != nil {
		return nil, store.WrapErr("create_file", dest, err)
	}
	tmpPath := tmp.Name()

	written := false
	defer func() {
		if !written {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	n, err := io.CopyN(tmp, r, size)
	if err != nil && err != io.EOF {
		return nil, store.WrapErr("create_file", dest, err)
	}
	if n != size {
		return nil, store.WrapErr("create_file", dest, io.ErrUnexpectedEOF)
	}
	if err := tmp.Sync(); err != nil {
		return nil, store.WrapErr("create_file", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, store.WrapErr("create_file", dest, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return nil, store.WrapErr("create_file", dest, err)
	}
	written = true

	info, err := os.Stat(dest)
	if err != nil {
		return nil, store.WrapErr("create_file", dest, err)
	}
	return &localFile{localItem{path: dest, info: info}}, nil
}

func (l *localDir) CreateDir(ctx context.Context, name string) (store.Directory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validName(name) {
		return nil, store.WrapErr("create_dir", name, store.ErrInvalidName)
	}
	dest := filepath.Join(l.path, name)
	if err := os.Mkdir(dest, 0o755); err != nil {
		return nil, store.WrapErr("create_dir", dest, err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return nil, store.WrapErr("create_dir", dest, err)
	}
	return &localDir{localItem{path: dest, info: info}}, nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsRune(name, '/') && !strings.ContainsRune(name, filepath.Separator)
}
