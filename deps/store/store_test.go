package store

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, s *Store, key digest.Digest) []byte {
	t.Helper()
	rc, ok := s.Get(key)
	require.True(t, ok)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestPutGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	content := []byte("hello")
	key := digest.FromBytes(content)
	require.NoError(t, s.Put(key, bytes.NewReader(content)))

	assert.True(t, s.Has(key))
	assert.Equal(t, content, readAll(t, s, key))
	assert.Equal(t, int64(len(content)), s.SizeBytes())

	enc := key.Encoded()
	_, err = os.Stat(filepath.Join(dir, "sha256", enc[:defaultShardPrefixLen], enc))
	require.NoError(t, err)

	_, ok := s.Get(digest.FromString("missing"))
	assert.False(t, ok)
}

func TestShardDisable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir, WithShardPrefixLen(0))
	require.NoError(t, err)

	key := digest.FromString("flat")
	require.NoError(t, s.Put(key, bytes.NewReader([]byte("flat"))))
	_, err = os.Stat(filepath.Join(dir, "sha256", key.Encoded()))
	require.NoError(t, err)
}

func TestPutReplaces(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	key := digest.FromString("game")
	require.NoError(t, s.Put(key, bytes.NewReader([]byte("first version"))))
	require.NoError(t, s.Put(key, bytes.NewReader([]byte("v2"))))
	assert.Equal(t, []byte("v2"), readAll(t, s, key))
	assert.Equal(t, int64(2), s.SizeBytes())

	require.NoError(t, s.Delete(key))
	assert.False(t, s.Has(key))
	assert.Equal(t, int64(0), s.SizeBytes())
	require.NoError(t, s.Delete(key), "deleting a missing key is not an error")
}

func TestInvalidKey(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	err = s.Put(digest.Digest("not-a-digest"), bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrInvalidKey)
	assert.False(t, s.Has(digest.Digest("sha256:zz")))
}

func TestPruneRemovesOldest(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	old := digest.FromString("old")
	fresh := digest.FromString("fresh")
	require.NoError(t, s.Put(old, bytes.NewReader(bytes.Repeat([]byte{1}, 10))))
	require.NoError(t, s.Put(fresh, bytes.NewReader(bytes.Repeat([]byte{2}, 10))))

	oldPath, err := s.path(old)
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	freed, err := s.Prune(10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), freed)
	assert.False(t, s.Has(old))
	assert.True(t, s.Has(fresh))
	assert.Equal(t, int64(10), s.SizeBytes())
}

func TestMaxBytes(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir(), WithMaxBytes(16))
	require.NoError(t, err)

	big := digest.FromString("big")
	require.NoError(t, s.Put(big, bytes.NewReader(make([]byte, 32))))
	assert.False(t, s.Has(big), "files over the limit are not stored")

	a := digest.FromString("a")
	b := digest.FromString("b")
	require.NoError(t, s.Put(a, bytes.NewReader(make([]byte, 10))))
	aPath, err := s.path(a)
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(aPath, past, past))

	require.NoError(t, s.Put(b, bytes.NewReader(make([]byte, 10))))
	assert.False(t, s.Has(a))
	assert.True(t, s.Has(b))
	assert.LessOrEqual(t, s.SizeBytes(), s.MaxBytes())
}

func TestNewMeasuresExistingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(digest.FromString("x"), bytes.NewReader(make([]byte, 7))))

	reopened, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(7), reopened.SizeBytes())

	_, err = New("")
	require.Error(t, err)
	_, err = New(dir, WithMaxBytes(-1))
	require.Error(t, err)
}
