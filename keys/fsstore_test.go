package keys_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigtool.dev/sigtool/keys"
	"sigtool.dev/sigtool/keys/storetest"
	"sigtool.dev/sigtool/scheme"
	"sigtool.dev/sigtool/sigerr"
)

func TestFSStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) keys.Store {
		st, err := keys.OpenFS(filepath.Join(t.TempDir(), "keys"))
		require.NoError(t, err)
		return st
	})
}

func TestFSStorePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	dir := filepath.Join(t.TempDir(), "keys")
	st, err := keys.OpenFS(dir)
	require.NoError(t, err)
	require.NoError(t, st.Insert(context.Background(), storetest.NewRecord(t, "k1", scheme.ECDSA)))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(dir, "k1.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpenFSRestrictsExistingDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	dir := filepath.Join(t.TempDir(), "keys")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.Chmod(dir, 0o755))

	_, err := keys.OpenFS(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestFSStoreSharedAcrossHandles(t *testing.T) {
	dir := t.TempDir()
	a, err := keys.OpenFS(dir)
	require.NoError(t, err)
	b, err := keys.OpenFS(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Insert(ctx, storetest.NewRecord(t, "shared", scheme.BLS)))

	err = b.Insert(ctx, storetest.NewRecord(t, "shared", scheme.ECDSA))
	assert.True(t, sigerr.IsKind(err, sigerr.KindDuplicateName), "got %v", err)

	rec, err := b.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, scheme.BLS, rec.Scheme)
}

func TestFSStoreLockTimeout(t *testing.T) {
	dir := t.TempDir()
	st, err := keys.OpenFS(dir, keys.WithLockTimeout(100*time.Millisecond))
	require.NoError(t, err)

	held := flock.New(filepath.Join(dir, ".lock"))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	start := time.Now()
	err = st.Insert(context.Background(), storetest.NewRecord(t, "blocked", scheme.ECDSA))
	assert.True(t, sigerr.IsKind(err, sigerr.KindTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)

	_, err = st.Get(context.Background(), "blocked")
	assert.True(t, sigerr.IsKind(err, sigerr.KindNotFound))

	require.NoError(t, held.Unlock())
	require.NoError(t, st.Insert(context.Background(), storetest.NewRecord(t, "blocked", scheme.ECDSA)))
}

func TestFSStoreListSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	st, err := keys.OpenFS(dir)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Insert(ctx, storetest.NewRecord(t, "real", scheme.ECDSA)))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-123"), []byte("partial"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad name.key"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.key"), 0o700))

	var names []string
	for id, err := range st.List(ctx) {
		require.NoError(t, err)
		names = append(names, id.Name)
	}
	assert.Equal(t, []string{"real"}, names)
}

func TestFSStoreCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	st, err := keys.OpenFS(dir)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Insert(ctx, storetest.NewRecord(t, "a", scheme.ECDSA)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.key"), []byte("{not json"), 0o600))
	require.NoError(t, st.Insert(ctx, storetest.NewRecord(t, "c", scheme.BLS)))

	_, err = st.Get(ctx, "b")
	assert.True(t, sigerr.IsKind(err, sigerr.KindInvalidKey), "got %v", err)

	var names []string
	var errs int
	for id, err := range st.List(ctx) {
		if err != nil {
			errs++
			assert.True(t, sigerr.IsKind(err, sigerr.KindInvalidKey))
			continue
		}
		names = append(names, id.Name)
	}
	assert.Equal(t, []string{"a", "c"}, names)
	assert.Equal(t, 1, errs)
}

func TestFSStoreRejectsMisnamedFile(t *testing.T) {
	dir := t.TempDir()
	st, err := keys.OpenFS(dir)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Insert(ctx, storetest.NewRecord(t, "orig", scheme.ECDSA)))
	require.NoError(t, os.Rename(filepath.Join(dir, "orig.key"), filepath.Join(dir, "copy.key")))

	_, err = st.Get(ctx, "copy")
	assert.True(t, sigerr.IsKind(err, sigerr.KindInvalidKey), "got %v", err)
}

func TestOpenFSRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	_, err := keys.OpenFS(path)
	assert.True(t, sigerr.IsKind(err, sigerr.KindStorage), "got %v", err)
}
