// Package store defines the storage contract the sync engine runs against.
// A backend exposes a tree of items (directories and files) rooted at a
// Directory handle; the engine never references a concrete backend, only
// this contract. Adapters (see cryptostore) implement the same contract by
// wrapping another implementation.
package store

import (
	"context"
	"io"
	"time"
)

// Item is a single entry in a backend tree. Every Item is either a File or
// a Directory; callers discriminate with a type assertion on those two
// interfaces.
//
// Name is the leaf name only, never a path. The backend owns the underlying
// resource; an Item is a handle valid for the duration of one sync pass.
type Item interface {
	// Name returns the leaf name of the item within its parent.
	Name() string

	// ModTime returns the last-modification timestamp in UTC, at whatever
	// precision the backend exposes.
	ModTime() time.Time

	// CreatedAt returns the creation timestamp in UTC. Backends that do not
	// track creation time return the modification time.
	CreatedAt() time.Time

	// Delete removes the item from the backend. Deleting a directory
	// removes its entire subtree.
	Delete(ctx context.Context) error
}

// File is an Item with readable content of known length.
type File interface {
	Item

	// Size returns the content length in bytes.
	Size() int64

	// Open returns a reader over the file content. The caller closes it.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Directory is an Item with enumerable children. Child names are unique
// within a directory; listing order is backend-defined but stable within
// one run.
type Directory interface {
	Item

	// List returns all children. It must not silently drop entries.
	List(ctx context.Context) ([]Item, error)

	// CreateFile creates a child file from r, whose length is known up
	// front. A failed create must not leave a partial file observable as
	// complete; callers treat any error as "not created" and may retry.
	CreateFile(ctx context.Context, name string, r io.Reader, size int64) (File, error)

	// CreateDir creates a child directory. Creating a name that already
	// exists is backend-defined and not assumed idempotent.
	CreateDir(ctx context.Context, name string) (Directory, error)
}

// Account is an optional backend capability: backends that require a
// session advertise it on their root Directory. It is probed once per root
// with a type assertion, before the first operation on that root.
type Account interface {
	Login(ctx context.Context) error
}

// Pathful is an optional capability: a stable full path string for display
// and diagnostics only, never for identity comparison.
type Pathful interface {
	FullPath() string
}

// DisplayPath returns the item's full path if the backend exposes one, or
// its leaf name otherwise.
func DisplayPath(it Item) string {
	if p, ok := it.(Pathful); ok {
		return p.FullPath()
	}
	return it.Name()
}
