// Package clipboard pulls download URIs out of the system clipboard.
package clipboard

import (
	"net/url"
	"strings"

	"github.com/atotto/clipboard"
)

var clipboardReadAll = clipboard.ReadAll

const maxURILength = 4096

// Validator accepts the URI schemes the daemon can download from.
type Validator struct {
	allowedSchemes map[string]bool
}

func NewValidator() *Validator {
	return &Validator{
		allowedSchemes: map[string]bool{"http": true, "https": true, "ftp": true, "sftp": true, "magnet": true},
	}
}

// ExtractURI returns text as a normalized URI, or "" if it is not one the daemon takes.
func (v *Validator) ExtractURI(text string) string {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > maxURILength || strings.ContainsAny(text, "\n\r\t ") {
		return ""
	}

	parsed, err := url.Parse(text)
	if err != nil || !v.allowedSchemes[strings.ToLower(parsed.Scheme)] {
		return ""
	}
	if parsed.Scheme == "magnet" {
		// magnet:?xt=urn:btih:...
		if !strings.HasPrefix(parsed.Query().Get("xt"), "urn:") {
			return ""
		}
		return text
	}
	if parsed.Host == "" {
		return ""
	}
	return parsed.String()
}

// ExtractURIs returns every acceptable URI of text, one candidate per line.
func (v *Validator) ExtractURIs(text string) []string {
	var uris []string
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' }) {
		if u := v.ExtractURI(line); u != "" {
			uris = append(uris, u)
		}
	}
	return uris
}

// ReadURIs returns the URIs currently on the clipboard.
func ReadURIs() ([]string, error) {
	text, err := clipboardReadAll()
	if err != nil {
		return nil, err
	}
	return NewValidator().ExtractURIs(text), nil
}
