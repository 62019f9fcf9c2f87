package cryptostore

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/store"
	"github.com/treesync/treesync/internal/store/memstore"
)

var wrapTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestWrap_FileRoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New("vault")
	root := Wrap(inner.Root(), testKeyring(t), Options{EncryptNames: true})

	content := []byte("the plaintext payload")
	created, err := root.CreateFile(ctx, "secret.txt", bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	assert.Equal(t, "secret.txt", created.Name())
	assert.Equal(t, int64(len(content)), created.Size())

	// Nothing on the inner store carries the plaintext name or bytes.
	assert.False(t, inner.Exists("secret.txt"))
	innerItems, err := inner.Root().List(ctx)
	require.NoError(t, err)
	require.Len(t, innerItems, 1)
	innerFile := innerItems[0].(store.File)
	assert.Equal(t, encryptedLength(int64(len(content))), innerFile.Size())
	raw, ok := inner.Lookup(innerItems[0].Name())
	require.True(t, ok)
	assert.NotContains(t, string(raw), "plaintext payload")

	// Reading back through the adapter restores everything.
	items, err := root.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	file := items[0].(store.File)
	assert.Equal(t, "secret.txt", file.Name())
	assert.Equal(t, int64(len(content)), file.Size())

	rc, err := file.Open(ctx)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestWrap_ZeroLengthFile(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New("vault")
	root := Wrap(inner.Root(), testKeyring(t), Options{EncryptNames: true})

	created, err := root.CreateFile(ctx, "empty.txt", bytes.NewReader(nil), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), created.Size())

	// Even the empty file is framed and authenticated on the inner store.
	innerItems, err := inner.Root().List(ctx)
	require.NoError(t, err)
	require.Len(t, innerItems, 1)
	assert.Equal(t, encryptedLength(0), innerItems[0].(store.File).Size())

	rc, err := created.Open(ctx)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWrap_DirectoryTree(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New("vault")
	root := Wrap(inner.Root(), testKeyring(t), Options{EncryptNames: true})

	sub, err := root.CreateDir(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, "reports", sub.Name())
	assert.False(t, inner.Exists("reports"))

	_, err = sub.CreateFile(ctx, "q2.csv", bytes.NewReader([]byte("a,b\n")), 4)
	require.NoError(t, err)

	items, err := root.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	dir, ok := items[0].(store.Directory)
	require.True(t, ok)
	assert.Equal(t, "reports", dir.Name())
	assert.Equal(t, "vault/reports", store.DisplayPath(dir))

	children, err := dir.List(ctx)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "q2.csv", children[0].Name())
	assert.Equal(t, "vault/reports/q2.csv", store.DisplayPath(children[0]))
}

func TestWrap_PlainNamesOption(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New("vault")
	root := Wrap(inner.Root(), testKeyring(t), Options{})

	content := []byte("body")
	_, err := root.CreateFile(ctx, "visible.txt", bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	// Name passes through untouched; content is still encrypted.
	assert.True(t, inner.Exists("visible.txt"))
	raw, _ := inner.Lookup("visible.txt")
	assert.NotEqual(t, content, raw)
	assert.Equal(t, encryptedLength(int64(len(content))), int64(len(raw)))
}

func TestWrap_ForeignNameSurfaced(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New("vault")
	inner.MustAddFile("never-encrypted.dat", []byte("foreign"), wrapTime)

	root := Wrap(inner.Root(), testKeyring(t), Options{EncryptNames: true})
	_, err := root.List(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadName)
}

func TestWrap_WrongKeyCannotRead(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New("vault")

	keys := testKeyring(t)
	root := Wrap(inner.Root(), keys, Options{EncryptNames: true})
	_, err := root.CreateFile(ctx, "secret.txt", bytes.NewReader([]byte("body")), 4)
	require.NoError(t, err)

	other, err := NewKeyring(bytes.Repeat([]byte{0x99}, 32))
	require.NoError(t, err)
	otherRoot := Wrap(inner.Root(), other, Options{EncryptNames: true})

	_, err = otherRoot.List(ctx)
	assert.ErrorIs(t, err, ErrBadName)
}

// loginRoot is an inner root with the account capability.
type loginRoot struct {
	store.Directory
	logins int
}

func (l *loginRoot) Login(ctx context.Context) error {
	l.logins++
	return nil
}

func TestWrap_ForwardsAccountCapability(t *testing.T) {
	inner := memstore.New("vault")

	// A capability-less inner root stays capability-less.
	plain := Wrap(inner.Root(), testKeyring(t), Options{EncryptNames: true})
	_, ok := plain.(store.Account)
	assert.False(t, ok)

	// An inner root with login keeps it across the adapter boundary.
	root := &loginRoot{Directory: inner.Root()}
	wrapped := Wrap(root, testKeyring(t), Options{EncryptNames: true})
	account, ok := wrapped.(store.Account)
	require.True(t, ok)
	require.NoError(t, account.Login(context.Background()))
	assert.Equal(t, 1, root.logins)
}

func TestWrap_UnframeableSizeNeverMatches(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New("vault")
	inner.MustAddFile("foreign.bin", nil, wrapTime)

	root := Wrap(inner.Root(), testKeyring(t), Options{})
	items, err := root.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// A zero-byte foreign file must not length-compare equal to an empty
	// source file.
	file := items[0].(store.File)
	assert.Equal(t, int64(-1), file.Size())

	rc, err := file.Open(ctx)
	require.NoError(t, err)
	defer rc.Close()
	_, err = io.ReadAll(rc)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestWrap_DeleteReachesInner(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New("vault")
	root := Wrap(inner.Root(), testKeyring(t), Options{EncryptNames: true})

	_, err := root.CreateFile(ctx, "gone.txt", bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)

	items, err := root.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, items[0].Delete(ctx))

	innerItems, err := inner.Root().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, innerItems)
}
