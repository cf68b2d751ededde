package clipboard

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ExtractURI(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"http", "http://example.com", "http://example.com"},
		{"https with path", "https://example.com/a/b.iso", "https://example.com/a/b.iso"},
		{"query params", "https://example.com?q=search&lang=en", "https://example.com?q=search&lang=en"},
		{"port", "http://localhost:8080/x", "http://localhost:8080/x"},
		{"ftp", "ftp://mirror.example.org/pub/file.tar.gz", "ftp://mirror.example.org/pub/file.tar.gz"},
		{"sftp", "sftp://host/file", "sftp://host/file"},
		{"magnet", "magnet:?xt=urn:btih:c9e15763f722f23e98a29decdfae341b98d53056&dn=x", "magnet:?xt=urn:btih:c9e15763f722f23e98a29decdfae341b98d53056&dn=x"},
		{"surrounding spaces", "  https://example.com  ", "https://example.com"},

		{"empty", "", ""},
		{"whitespace", "   ", ""},
		{"embedded newline", "https://exa\nmple.com", ""},
		{"embedded space", "https://example.com/a b", ""},
		{"no scheme", "example.com", ""},
		{"scheme only", "https://", ""},
		{"file scheme", "file:///etc/passwd", ""},
		{"javascript", "javascript:alert(1)", ""},
		{"magnet without xt", "magnet:?dn=foo", ""},
		{"too long", "https://" + strings.Repeat("a", maxURILength), ""},
		{"bad escape", "https://example.com/%zz", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, v.ExtractURI(tt.input))
		})
	}
}

func TestValidator_ExtractURIs(t *testing.T) {
	v := NewValidator()
	text := "https://a.example/1\r\nnot a url\n\nftp://b.example/2\n"
	assert.Equal(t, []string{"https://a.example/1", "ftp://b.example/2"}, v.ExtractURIs(text))
	assert.Empty(t, v.ExtractURIs("nothing here"))
}

func TestValidator_DisallowedSchemeByConfig(t *testing.T) {
	v := &Validator{allowedSchemes: map[string]bool{"https": false}}
	assert.Empty(t, v.ExtractURI("https://example.com"))
}

func TestReadURIs(t *testing.T) {
	original := clipboardReadAll
	t.Cleanup(func() { clipboardReadAll = original })

	t.Run("clipboard read error", func(t *testing.T) {
		clipboardReadAll = func() (string, error) {
			return "", errors.New("clipboard unavailable")
		}
		_, err := ReadURIs()
		require.Error(t, err)
	})

	t.Run("clipboard holds uris", func(t *testing.T) {
		clipboardReadAll = func() (string, error) {
			return "  https://example.com/file.zip  \nhttps://example.com/other.zip", nil
		}
		uris, err := ReadURIs()
		require.NoError(t, err)
		assert.Equal(t, []string{"https://example.com/file.zip", "https://example.com/other.zip"}, uris)
	})
}
