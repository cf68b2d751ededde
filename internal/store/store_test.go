package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// storeContract runs the same checks against every implementation.
func storeContract(t *testing.T, s Store) {
	sec := Section("task", "t1")

	require.NoError(t, s.Create(sec, map[string]string{"name": "debian.iso", "handle": ""}))
	assert.ErrorIs(t, s.Create(sec, nil), ErrExists)

	got, err := s.ReadAll(sec)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "debian.iso", "handle": ""}, got)

	require.NoError(t, s.WriteKey(sec, "handle", "2089b05ecca3d829"))
	require.NoError(t, s.WriteKeys(sec, map[string]string{"completed": "10", "total": "100"}))
	got, err = s.ReadAll(sec)
	require.NoError(t, err)
	assert.Equal(t, "2089b05ecca3d829", got["handle"])
	assert.Equal(t, "100", got["total"])

	// returned maps are copies
	got["handle"] = "mutated"
	again, _ := s.ReadAll(sec)
	assert.Equal(t, "2089b05ecca3d829", again["handle"])

	require.NoError(t, s.WriteSection(sec, map[string]string{"name": "only"}))
	got, err = s.ReadAll(sec)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "only"}, got)

	assert.ErrorIs(t, s.WriteKey(Section("task", "missing"), "k", "v"), ErrNotFound)
	_, err = s.ReadAll(Section("task", "missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Create(Section("task", "t2"), nil))
	require.NoError(t, s.Create(Section("pool", "p1"), map[string]string{"host": "localhost"}))

	tasks, err := s.Sections("task")
	require.NoError(t, err)
	assert.Equal(t, []string{"task/t1", "task/t2"}, tasks)

	require.NoError(t, s.DeleteSection(sec))
	require.NoError(t, s.DeleteSection(sec), "deleting twice is not an error")
	tasks, err = s.Sections("task")
	require.NoError(t, err)
	assert.Equal(t, []string{"task/t2"}, tasks)
}

func TestSQLiteContract(t *testing.T) {
	storeContract(t, openTestStore(t))
}

func TestMemoryContract(t *testing.T) {
	storeContract(t, NewMemory())
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Create(Section("pool", "p1"), map[string]string{"session": "abc"}))
	require.NoError(t, s.WriteKey(Section("pool", "p1"), "session", "def"))
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.ReadAll(Section("pool", "p1"))
	require.NoError(t, err)
	assert.Equal(t, "def", got["session"])
}

func TestOpenLocksDirectory(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)

	_, err = Open(dir)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err, "lock must be released on Close")
	_ = s2.Close()
}

func TestDeleteSectionCascades(t *testing.T) {
	s, err := OpenFile(filepath.Join(t.TempDir(), "cascade.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Create("task/x", map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, s.DeleteSection("task/x"))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM options WHERE section = ?`, "task/x").Scan(&n))
	assert.Zero(t, n)
}

func TestMemoryFailWrites(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Create("task/a", nil))

	boom := errors.New("disk full")
	m.SetFailWrites(boom)
	assert.ErrorIs(t, m.WriteKey("task/a", "k", "v"), boom)
	assert.ErrorIs(t, m.Create("task/b", nil), boom)

	got, err := m.ReadAll("task/a")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSplitSection(t *testing.T) {
	kind, id := SplitSection(Section("category", "c-1"))
	assert.Equal(t, "category", kind)
	assert.Equal(t, "c-1", id)
}
