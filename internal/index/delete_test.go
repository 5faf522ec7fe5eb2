package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expectedFor stats path and pins its current size and mtime.
func expectedFor(t *testing.T, path string) Expected {
	t.Helper()

	info, err := os.Stat(path)
	require.NoError(t, err)

	return Expected{Size: info.Size(), MTime: info.ModTime()}
}

func TestDeleteLocal(t *testing.T) {
	t.Parallel()

	ix := New(testLogger(t))
	path := filepath.Join(t.TempDir(), "IMG_1.HEIC")
	writeFile(t, path, "abc")

	require.NoError(t, ix.DeleteLocal(context.Background(), path, expectedFor(t, path)))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteLocal_SizeMismatch(t *testing.T) {
	t.Parallel()

	ix := New(testLogger(t))
	path := filepath.Join(t.TempDir(), "IMG_1.HEIC")
	writeFile(t, path, "abc")

	expected := expectedFor(t, path)
	expected.Size = 999

	err := ix.DeleteLocal(context.Background(), path, expected)
	require.ErrorIs(t, err, ErrChanged)

	_, err = os.Stat(path)
	assert.NoError(t, err, "a mismatched file must be left alone")
}

func TestDeleteLocal_MtimeMismatch(t *testing.T) {
	t.Parallel()

	ix := New(testLogger(t))
	path := filepath.Join(t.TempDir(), "IMG_1.HEIC")
	writeFile(t, path, "abc")

	expected := expectedFor(t, path)
	expected.MTime = expected.MTime.Add(time.Second)

	err := ix.DeleteLocal(context.Background(), path, expected)
	require.ErrorIs(t, err, ErrChanged)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestDeleteLocal_AlreadyGone(t *testing.T) {
	t.Parallel()

	ix := New(testLogger(t))
	path := filepath.Join(t.TempDir(), "IMG_1.HEIC")

	require.NoError(t, ix.DeleteLocal(context.Background(), path, Expected{Size: 3}))
}

func TestDeleteLocal_ForgetsLedgerEntry(t *testing.T) {
	t.Parallel()

	ix := New(testLogger(t))
	l := newTestLedger(t)
	ix.UseLedger(l)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "IMG_1.HEIC")
	writeFile(t, path, "abc")
	require.NoError(t, l.Record(ctx, path, 3, time.Now()))

	// The ledger would report the entry, so probe the disk directly for
	// the expectation.
	require.NoError(t, ix.DeleteLocal(ctx, path, expectedFor(t, path)))

	_, ok, err := l.Lookup(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPruneEmptyDirs(t *testing.T) {
	t.Parallel()

	ix := New(testLogger(t))
	root := t.TempDir()

	// 2018/07/31 empties out; 2018/08/01 still holds a file.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2018", "07", "31"), 0o755))
	writeFile(t, filepath.Join(root, "2018", "08", "01", "IMG_1.HEIC"), "abc")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty", "nested"), 0o755))

	require.NoError(t, ix.PruneEmptyDirs(root))

	_, err := os.Stat(filepath.Join(root, "2018", "07"))
	assert.True(t, os.IsNotExist(err), "empty date chain must collapse")

	_, err = os.Stat(filepath.Join(root, "2018", "08", "01", "IMG_1.HEIC"))
	assert.NoError(t, err, "populated branches survive")

	_, err = os.Stat(filepath.Join(root, "empty"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(root)
	assert.NoError(t, err, "the root itself is never removed")
}

func TestPruneEmptyDirs_MissingRoot(t *testing.T) {
	t.Parallel()

	ix := New(testLogger(t))

	require.NoError(t, ix.PruneEmptyDirs(filepath.Join(t.TempDir(), "nope")))
}
