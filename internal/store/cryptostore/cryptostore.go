// Package cryptostore is a store adapter that transparently encrypts item
// names and file content over any inner store implementation. The sync
// engine operates on a wrapped root exactly like on any other backend; the
// adapter composes, so a wrapped root may itself wrap another adapter.
package cryptostore

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/treesync/treesync/internal/store"
)

var (
	// ErrBadName reports a stored name this layer did not produce.
	ErrBadName = errors.New("cryptostore: undecryptable name")

	// ErrIntegrity reports content that fails authentication or framing.
	ErrIntegrity = errors.New("cryptostore: content integrity failure")

	// ErrSchemeVersion reports a stored scheme version this build cannot read.
	ErrSchemeVersion = errors.New("cryptostore: unsupported scheme version")
)

// Options selects what the layer transforms. Content is always encrypted;
// name encryption is optional because some deployments need greppable
// names on the inner store.
type Options struct {
	EncryptNames bool
}

type layer struct {
	keys *Keyring
	opts Options
}

// Wrap layers encryption over inner. The returned directory satisfies the
// full store contract; every item reachable from it is adapter-owned and
// never exposes a raw inner item. The root's own name is left as supplied.
// An inner root advertising the account capability keeps it: login is
// delegated untouched.
func Wrap(inner store.Directory, keys *Keyring, opts Options) store.Directory {
	l := &layer{keys: keys, opts: opts}
	root := encDir{encItem{l: l, inner: inner, name: inner.Name(), path: store.DisplayPath(inner)}}
	if account, ok := inner.(store.Account); ok {
		return &encAccountDir{encDir: root, account: account}
	}
	return &root
}

// encAccountDir carries the inner root's login capability across the
// adapter boundary.
type encAccountDir struct {
	encDir
	account store.Account
}

func (e *encAccountDir) Login(ctx context.Context) error {
	return e.account.Login(ctx)
}

type encItem struct {
	l     *layer
	inner store.Item
	name  string // decrypted leaf name
	path  string // decrypted display path
}

func (e *encItem) Name() string         { return e.name }
func (e *encItem) ModTime() time.Time   { return e.inner.ModTime() }
func (e *encItem) CreatedAt() time.Time { return e.inner.CreatedAt() }
func (e *encItem) FullPath() string     { return e.path }

func (e *encItem) Delete(ctx context.Context) error {
	return e.inner.Delete(ctx)
}

func (e *encItem) storedName(name string) string {
	if !e.l.opts.EncryptNames {
		return name
	}
	return e.l.keys.encryptName(name)
}

func (e *encItem) plainName(stored string) (string, error) {
	if !e.l.opts.EncryptNames {
		return stored, nil
	}
	return e.l.keys.decryptName(stored)
}

type encFile struct{ encItem }

// Size reports the plaintext length, recovered from the stored length via
// the shared framing rule. Content that does not frame reports -1, which
// can never length-compare equal to a real file; Open then fails it with
// ErrIntegrity.
func (e *encFile) Size() int64 {
	inner, ok := e.inner.(store.File)
	if !ok {
		return -1
	}
	plain, err := plaintextLength(inner.Size())
	if err != nil {
		return -1
	}
	return plain
}

func (e *encFile) Open(ctx context.Context) (io.ReadCloser, error) {
	inner, ok := e.inner.(store.File)
	if !ok {
		return nil, store.WrapErr("open", e.path, ErrIntegrity)
	}
	rc, err := inner.Open(ctx)
	if err != nil {
		return nil, err
	}
	return newDecryptReader(e.l.keys.contentAEAD, rc), nil
}

type encDir struct{ encItem }

func (e *encDir) dir() store.Directory {
	return e.inner.(store.Directory)
}

func (e *encDir) List(ctx context.Context) ([]store.Item, error) {
	items, err := e.dir().List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]store.Item, 0, len(items))
	for _, it := range items {
		name, err := e.plainName(it.Name())
		if err != nil {
			// A name this layer cannot decrypt means the inner directory
			// holds foreign data; surfacing it beats corrupting it.
			return nil, store.WrapErr("list", e.path+"/"+it.Name(), err)
		}
		child := encItem{l: e.l, inner: it, name: name, path: e.path + "/" + name}
		if _, ok := it.(store.Directory); ok {
			out = append(out, &encDir{child})
		} else {
			out = append(out, &encFile{child})
		}
	}
	return out, nil
}

func (e *encDir) CreateFile(ctx context.Context, name string, r io.Reader, size int64) (store.File, error) {
	enc, err := newEncryptReader(e.l.keys.contentAEAD, r)
	if err != nil {
		return nil, store.WrapErr("create_file", e.path+"/"+name, err)
	}

	inner, err := e.dir().CreateFile(ctx, e.storedName(name), enc, encryptedLength(size))
	if err != nil {
		return nil, err
	}
	return &encFile{encItem{l: e.l, inner: inner, name: name, path: e.path + "/" + name}}, nil
}

func (e *encDir) CreateDir(ctx context.Context, name string) (store.Directory, error) {
	inner, err := e.dir().CreateDir(ctx, e.storedName(name))
	if err != nil {
		return nil, err
	}
	return &encDir{encItem{l: e.l, inner: inner, name: name, path: e.path + "/" + name}}, nil
}
