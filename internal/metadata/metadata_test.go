package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/ariasync/internal/faults"
	"github.com/surge-downloader/ariasync/internal/model"
	"github.com/surge-downloader/ariasync/internal/testutil"
)

func TestLoadTorrent(t *testing.T) {
	path, err := testutil.WriteTorrent(t.TempDir(), "debian.iso", 40000)
	require.NoError(t, err)

	f, err := Load(path, model.KindBT)
	require.NoError(t, err)
	assert.Equal(t, "debian.iso", f.Name)
	assert.NotEmpty(t, f.Data)
}

func TestLoadMetalink(t *testing.T) {
	path, err := testutil.WriteMetalink(t.TempDir(), "set", "http://a/1", "http://a/2")
	require.NoError(t, err)

	f, err := Load(path, model.KindMetalink)
	require.NoError(t, err)
	assert.Equal(t, "part0.bin", f.Name)
}

func TestLoadMissingFileIsLocalIO(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.torrent"), model.KindBT)
	assert.True(t, faults.IsLocalIO(err), "got %v", err)
}

func TestLoadGarbageIsInvalidInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.torrent")
	require.NoError(t, os.WriteFile(path, []byte("not bencode"), 0o644))

	_, err := Load(path, model.KindBT)
	assert.True(t, faults.IsInvalidInput(err), "got %v", err)

	_, err = Load(path, model.KindMetalink)
	assert.True(t, faults.IsInvalidInput(err), "got %v", err)

	_, err = Load(path, model.KindNormal)
	assert.True(t, faults.IsInvalidInput(err), "got %v", err)
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	torrent, err := testutil.WriteTorrent(dir, "a", 10)
	require.NoError(t, err)
	meta, err := testutil.WriteMetalink(dir, "b", "http://a/1")
	require.NoError(t, err)

	// content wins over a misleading extension
	renamed := filepath.Join(dir, "really-a-torrent.meta4")
	require.NoError(t, os.Rename(torrent, renamed))

	kind, err := Detect(renamed)
	require.NoError(t, err)
	assert.Equal(t, model.KindBT, kind)

	kind, err = Detect(meta)
	require.NoError(t, err)
	assert.Equal(t, model.KindMetalink, kind)

	plain := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(plain, []byte("hello"), 0o644))
	_, err = Detect(plain)
	assert.True(t, faults.IsInvalidInput(err))
}
