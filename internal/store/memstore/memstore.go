// Package memstore is an in-memory store backend. It backs most of the
// test suite and the dry-run tooling; content lives in plain byte slices
// guarded by a single mutex per tree.
package memstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/treesync/treesync/internal/store"
)

type node struct {
	name     string
	dir      bool
	data     []byte
	children map[string]*node
	created  time.Time
	modified time.Time
	parent   *node
}

// Tree is one in-memory backend instance. All handles returned from it
// share its lock.
type Tree struct {
	mu   sync.Mutex
	root *node
	now  func() time.Time
}

// New returns an empty tree whose root directory is named name.
func New(name string) *Tree {
	t := &Tree{now: func() time.Time { return time.Now().UTC() }}
	ts := t.now()
	t.root = &node{name: name, dir: true, children: map[string]*node{}, created: ts, modified: ts}
	return t
}

// SetClock replaces the timestamp source, for tests that need fixed times.
func (t *Tree) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Root returns the root directory handle.
func (t *Tree) Root() store.Directory {
	return &memDir{memItem{tree: t, node: t.root}}
}

// MustAddFile seeds a file at a slash-separated path, creating parents.
// Panics on conflict; it is test setup sugar.
func (t *Tree) MustAddFile(path string, content []byte, modTime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts := strings.Split(path, "/")
	n := t.root
	for _, part := range parts[:len(parts)-1] {
		child, ok := n.children[part]
		if !ok {
			child = &node{name: part, dir: true, children: map[string]*node{}, created: modTime, modified: modTime, parent: n}
			n.children[part] = child
		}
		if !child.dir {
			panic("memstore: not a directory: " + part)
		}
		n = child
	}
	leaf := parts[len(parts)-1]
	n.children[leaf] = &node{name: leaf, data: append([]byte(nil), content...), created: modTime, modified: modTime, parent: n}
}

// MustAddDir seeds an empty directory at a slash-separated path.
func (t *Tree) MustAddDir(path string, modTime time.Time) {
	t.MustAddFile(path+"/.keep", nil, modTime)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(path)
	delete(n.children, ".keep")
}

// Lookup returns the raw content and existence of a file at path.
func (t *Tree) Lookup(path string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(path)
	if n == nil || n.dir {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Exists reports whether any item lives at path.
func (t *Tree) Exists(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookup(path) != nil
}

func (t *Tree) lookup(path string) *node {
	n := t.root
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		child, ok := n.children[part]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

func fullPath(n *node) string {
	if n.parent == nil {
		return n.name
	}
	return fullPath(n.parent) + "/" + n.name
}

type memItem struct {
	tree *Tree
	node *node
}

func (m *memItem) Name() string { return m.node.name }

func (m *memItem) ModTime() time.Time {
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	return m.node.modified
}

func (m *memItem) CreatedAt() time.Time {
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	return m.node.created
}

func (m *memItem) FullPath() string {
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	return fullPath(m.node)
}

func (m *memItem) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	if m.node.parent == nil {
		return store.WrapErr("delete", m.node.name, store.ErrInvalidName)
	}
	if _, ok := m.node.parent.children[m.node.name]; !ok {
		return store.WrapErr("delete", fullPath(m.node), store.ErrNotFound)
	}
	delete(m.node.parent.children, m.node.name)
	return nil
}

type memFile struct{ memItem }

func (m *memFile) Size() int64 {
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	return int64(len(m.node.data))
}

func (m *memFile) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	return io.NopCloser(bytes.NewReader(append([]byte(nil), m.node.data...))), nil
}

type memDir struct{ memItem }

func (m *memDir) List(ctx context.Context) ([]store.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	names := make([]string, 0, len(m.node.children))
	for name := range m.node.children {
		names = append(names, name)
	}
	sort.Strings(names)

	items := make([]store.Item, 0, len(names))
	for _, name := range names {
		child := m.node.children[name]
		if child.dir {
			items = append(items, &memDir{memItem{tree: m.tree, node: child}})
		} else {
			items = append(items, &memFile{memItem{tree: m.tree, node: child}})
		}
	}
	return items, nil
}

func (m *memDir) CreateFile(ctx context.Context, name string, r io.Reader, size int64) (store.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.ContainsRune(name, '/') || name == "" {
		return nil, store.WrapErr("create_file", name, store.ErrInvalidName)
	}

	// Read outside the lock so a slow reader cannot stall other handles.
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return nil, store.WrapErr("create_file", name, err)
	}
	if int64(len(data)) != size {
		// A short stream must fail the create, never store a truncated
		// file as complete.
		return nil, store.WrapErr("create_file", name, io.ErrUnexpectedEOF)
	}

	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	if existing, ok := m.node.children[name]; ok && existing.dir {
		return nil, store.WrapErr("create_file", fullPath(existing), store.ErrExists)
	}
	ts := m.tree.now()
	child := &node{name: name, data: data, created: ts, modified: ts, parent: m.node}
	if existing, ok := m.node.children[name]; ok {
		child.created = existing.created
	}
	m.node.children[name] = child
	return &memFile{memItem{tree: m.tree, node: child}}, nil
}

func (m *memDir) CreateDir(ctx context.Context, name string) (store.Directory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.ContainsRune(name, '/') || name == "" {
		return nil, store.WrapErr("create_dir", name, store.ErrInvalidName)
	}
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	if _, ok := m.node.children[name]; ok {
		return nil, store.WrapErr("create_dir", fullPath(m.node)+"/"+name, store.ErrExists)
	}
	ts := m.tree.now()
	child := &node{name: name, dir: true, children: map[string]*node{}, created: ts, modified: ts, parent: m.node}
	m.node.children[name] = child
	return &memDir{memItem{tree: m.tree, node: child}}, nil
}
