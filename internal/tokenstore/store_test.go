package tokenstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.db")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestStore_SaveLoad(t *testing.T) {
	s, _ := openStore(t)
	defer s.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save("/precog", Entry{Token: []byte{1, 2, 3}, UpdatedAt: at, FetchID: "f-1"}))

	e, err := s.Load("/precog")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, e.Token)
	assert.True(t, at.Equal(e.UpdatedAt))
	assert.Equal(t, "f-1", e.FetchID)
}

func TestStore_LoadMissing(t *testing.T) {
	s, _ := openStore(t)
	defer s.Close()

	_, err := s.Load("/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveStampsTime(t *testing.T) {
	s, _ := openStore(t)
	defer s.Close()

	require.NoError(t, s.Save("/precog", Entry{Token: []byte{0}}))
	e, err := s.Load("/precog")
	require.NoError(t, err)
	assert.False(t, e.UpdatedAt.IsZero())
}

func TestStore_DeleteAndPaths(t *testing.T) {
	s, _ := openStore(t)
	defer s.Close()

	require.NoError(t, s.Save("/b", Entry{Token: []byte{1}}))
	require.NoError(t, s.Save("/a", Entry{Token: []byte{2}}))

	paths, err := s.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, paths)

	require.NoError(t, s.Delete("/a"))
	require.NoError(t, s.Delete("/a"))
	_, err = s.Load("/a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Persists(t *testing.T) {
	s, path := openStore(t)
	require.NoError(t, s.Save("/precog", Entry{Token: []byte{9}}))
	require.NoError(t, s.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	e, err := s.Load("/precog")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, e.Token)
}
