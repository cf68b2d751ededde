package testutil

import (
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anacrolix/torrent/bencode"
)

// TorrentBytes returns a valid single-file torrent for a payload of the given length.
func TorrentBytes(name string, length int64) ([]byte, error) {
	const pieceLength = 16384
	pieces := make([]byte, 0)
	for off := int64(0); off < max(length, 1); off += pieceLength {
		sum := sha1.Sum([]byte(fmt.Sprintf("%s:%d", name, off)))
		pieces = append(pieces, sum[:]...)
	}
	root := map[string]any{
		"announce": "http://tracker.example/announce",
		"info": map[string]any{
			"name":         name,
			"piece length": int64(pieceLength),
			"length":       length,
			"pieces":       pieces,
		},
	}
	return bencode.Marshal(root)
}

// WriteTorrent writes TorrentBytes to dir/name.torrent and returns the path.
func WriteTorrent(dir, name string, length int64) (string, error) {
	data, err := TorrentBytes(name, length)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".torrent")
	return path, os.WriteFile(path, data, 0o644)
}

// MetalinkBytes returns a Metalink v4 document listing one file per url.
func MetalinkBytes(urls ...string) []byte {
	doc := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<metalink xmlns="urn:ietf:params:xml:ns:metalink">` + "\n"
	for i, u := range urls {
		doc += fmt.Sprintf("  <file name=\"part%d.bin\">\n    <url>%s</url>\n  </file>\n", i, u)
	}
	return []byte(doc + "</metalink>\n")
}

// WriteMetalink writes MetalinkBytes to dir/name.meta4 and returns the path.
func WriteMetalink(dir, name string, urls ...string) (string, error) {
	path := filepath.Join(dir, name+".meta4")
	return path, os.WriteFile(path, MetalinkBytes(urls...), 0o644)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
