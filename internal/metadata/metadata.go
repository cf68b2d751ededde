// Package metadata loads the torrent and metalink files BT and METALINK tasks are
// submitted from.
package metadata

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"

	"github.com/surge-downloader/ariasync/internal/faults"
	"github.com/surge-downloader/ariasync/internal/model"
)

// MaxSize bounds how much of a metadata file is read into memory.
const MaxSize = 32 << 20

var (
	torrentType  = filetype.NewType("torrent", "application/x-bittorrent")
	metalinkType = filetype.NewType("meta4", "application/metalink4+xml")
	metalink3    = filetype.NewType("metalink", "application/metalink+xml")
)

func init() {
	filetype.AddMatcher(torrentType, isTorrent)
	filetype.AddMatcher(metalinkType, isMetalink)
}

// File is a metadata file read fully into memory.
type File struct {
	Kind model.TaskKind
	Path string
	Name string // display name found in the document, may be empty
	Data []byte
}

// Load reads path and validates it as kind. Read failures are LocalIO faults and
// malformed content is an InvalidInput fault; in both cases nothing is returned.
func Load(path string, kind model.TaskKind) (*File, error) {
	const op = "metadata.Load"
	if !kind.NeedsMetadata() {
		return nil, faults.InvalidInput(op, 0, fmt.Sprintf("%s tasks have no metadata file", kind))
	}
	data, err := readAll(path)
	if err != nil {
		return nil, faults.LocalIO(op, err)
	}

	f := &File{Kind: kind, Path: path, Data: data}
	switch kind {
	case model.KindBT:
		f.Name, err = TorrentName(data)
	case model.KindMetalink:
		f.Name, err = MetalinkName(data)
	}
	if err != nil {
		return nil, faults.InvalidInput(op, 0, fmt.Sprintf("%s: %v", filepath.Base(path), err))
	}
	return f, nil
}

func readAll(path string) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()

	data, err := io.ReadAll(io.LimitReader(fh, MaxSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxSize {
		return nil, fmt.Errorf("%s is larger than %d bytes", path, MaxSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return data, nil
}

// Detect guesses the task kind of a local file from its content, falling back to the
// extension.
func Detect(path string) (model.TaskKind, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", faults.LocalIO("metadata.Detect", err)
	}
	defer func() { _ = fh.Close() }()

	head := make([]byte, 4096)
	n, err := io.ReadFull(fh, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", faults.LocalIO("metadata.Detect", err)
	}
	if kind, ok := DetectBytes(head[:n]); ok {
		return kind, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case "." + torrentType.Extension:
		return model.KindBT, nil
	case "." + metalinkType.Extension, "." + metalink3.Extension:
		return model.KindMetalink, nil
	}
	return "", faults.InvalidInput("metadata.Detect", 0, fmt.Sprintf("%s is neither a torrent nor a metalink", filepath.Base(path)))
}

// DetectBytes reports the task kind of a metadata document's leading bytes.
func DetectBytes(head []byte) (model.TaskKind, bool) {
	kind, err := filetype.Match(head)
	if err != nil {
		return "", false
	}
	return kindOf(kind)
}

func kindOf(t types.Type) (model.TaskKind, bool) {
	switch t.Extension {
	case torrentType.Extension:
		return model.KindBT, true
	case metalinkType.Extension:
		return model.KindMetalink, true
	}
	return "", false
}

// isTorrent matches a bencoded dictionary carrying an info dictionary.
func isTorrent(buf []byte) bool {
	if len(buf) < 2 || buf[0] != 'd' {
		return false
	}
	return bytes.Contains(buf, []byte("4:info")) || bytes.HasPrefix(buf, []byte("d8:announce"))
}

func isMetalink(buf []byte) bool {
	trimmed := bytes.TrimLeft(buf, "\xef\xbb\xbf \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte("<")) {
		return false
	}
	return bytes.Contains(buf, []byte("<metalink"))
}

// TorrentName validates a torrent and returns its display name.
func TorrentName(data []byte) (string, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("invalid torrent: %w", err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return "", fmt.Errorf("invalid torrent info: %w", err)
	}
	if info.PieceLength == 0 || len(info.Pieces) == 0 {
		return "", errors.New("invalid torrent info: missing pieces")
	}
	if info.Length == 0 && len(info.Files) == 0 {
		return "", errors.New("invalid torrent info: missing length/files")
	}
	return info.BestName(), nil
}

// MetalinkName checks that data is a metalink document (v3 or v4) and returns the
// name of its first file.
func MetalinkName(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	sawRoot := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("invalid metalink: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !sawRoot {
			if se.Name.Local != "metalink" {
				return "", fmt.Errorf("invalid metalink: root element is <%s>", se.Name.Local)
			}
			sawRoot = true
			continue
		}
		if se.Name.Local == "file" {
			for _, a := range se.Attr {
				if a.Name.Local == "name" {
					return a.Value, nil
				}
			}
		}
	}
	if !sawRoot {
		return "", errors.New("invalid metalink: empty document")
	}
	return "", nil
}
