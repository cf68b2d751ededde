// Package source classifies the URIs a normal task can be created from.
package source

import (
	"encoding/base32"
	"encoding/hex"
	"net/url"
	"path"
	"strings"
)

type Kind string

const (
	KindUnknown    Kind = "unknown"
	KindHTTP       Kind = "http"
	KindFTP        Kind = "ftp"
	KindTorrentURL Kind = "torrent"
	KindMagnet     Kind = "magnet"
)

func Normalize(raw string) string {
	return strings.TrimSpace(raw)
}

func hostURL(raw string, schemes ...string) (*url.URL, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, false
	}
	scheme := strings.ToLower(u.Scheme)
	for _, s := range schemes {
		if scheme == s {
			return u, true
		}
	}
	return nil, false
}

func IsHTTPURL(raw string) bool {
	_, ok := hostURL(raw, "http", "https")
	return ok
}

func IsFTPURL(raw string) bool {
	_, ok := hostURL(raw, "ftp", "sftp")
	return ok
}

// IsTorrentURL reports an http(s) link to a .torrent file. The daemon fetches and
// follows it itself.
func IsTorrentURL(raw string) bool {
	u, ok := hostURL(raw, "http", "https")
	return ok && strings.HasSuffix(strings.ToLower(u.Path), ".torrent")
}

func IsMagnet(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if strings.ToLower(u.Scheme) != "magnet" {
		return false
	}
	return magnetInfoHash(raw) != ""
}

func KindOf(raw string) Kind {
	s := Normalize(raw)
	switch {
	case s == "":
		return KindUnknown
	case IsMagnet(s):
		return KindMagnet
	case IsTorrentURL(s):
		return KindTorrentURL
	case IsHTTPURL(s):
		return KindHTTP
	case IsFTPURL(s):
		return KindFTP
	}
	return KindUnknown
}

// IsSupported reports whether the daemon can download from raw.
func IsSupported(raw string) bool {
	return KindOf(raw) != KindUnknown
}

// CanonicalKey identifies the resource behind raw so the same download added twice,
// under a different spelling, can be recognized.
func CanonicalKey(raw string) (Kind, string) {
	s := Normalize(raw)
	kind := KindOf(s)
	switch kind {
	case KindUnknown:
		return KindUnknown, s
	case KindMagnet:
		return KindMagnet, magnetInfoHash(s)
	}
	u, err := url.Parse(s)
	if err != nil {
		return kind, s
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return kind, u.String()
}

// DisplayName derives a task name from a URI: the magnet's dn, else the last path
// element, else the URI itself.
func DisplayName(raw string) string {
	s := Normalize(raw)
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	if strings.ToLower(u.Scheme) == "magnet" {
		if dn := u.Query().Get("dn"); dn != "" {
			return dn
		}
		if key := magnetInfoHash(s); key != "" {
			return key
		}
		return s
	}
	if u.Path == "" || u.Path == "/" {
		return s
	}
	return path.Base(u.Path)
}

func magnetInfoHash(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, xt := range q["xt"] {
		// Expected: urn:btih:<hash>
		xt = strings.ToLower(strings.TrimSpace(xt))
		if !strings.HasPrefix(xt, "urn:btih:") {
			continue
		}
		hash := strings.TrimPrefix(xt, "urn:btih:")
		// Base32 (32 chars) or hex (40 chars) are most common.
		if len(hash) == 40 && isHex(hash) {
			return "btih:" + hash
		}
		if len(hash) == 32 && isBase32(hash) {
			decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(hash))
			if err == nil && len(decoded) == 20 {
				return "btih:" + hex.EncodeToString(decoded)
			}
		}
	}
	return ""
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func isBase32(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '2' && c <= '7':
		default:
			return false
		}
	}
	return true
}

// SplitMirrors parses "uri,mirror1,mirror2" into the URI list of one task. Unsupported
// parts are dropped. A magnet link cannot have mirrors, so it stands alone.
func SplitMirrors(arg string) []string {
	var uris []string
	for _, p := range strings.Split(arg, ",") {
		clean := Normalize(p)
		if !IsSupported(clean) {
			continue
		}
		if IsMagnet(clean) {
			if len(uris) == 0 {
				return []string{clean}
			}
			continue
		}
		uris = append(uris, clean)
	}
	return uris
}
