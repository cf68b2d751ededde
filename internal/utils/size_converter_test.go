package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertBytesToHumanReadable(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int64
		expected string
	}{
		{"zero bytes", 0, "0 B"},
		{"max bytes before KB", 1023, "1023 B"},
		{"exactly 1 KB", 1024, "1.0 KB"},
		{"1025 bytes", 1025, "1.0 KB"},
		{"1.5 KB", 1536, "1.5 KB"},
		{"1023 KB", 1023 * 1024, "1023.0 KB"},
		{"exactly 1 MB", 1024 * 1024, "1.0 MB"},
		{"2.5 GB", int64(2.5 * 1024 * 1024 * 1024), "2.5 GB"},
		{"exactly 1 TB", 1024 * 1024 * 1024 * 1024, "1.0 TB"},
		{"exactly 1 PB", 1024 * 1024 * 1024 * 1024 * 1024, "1.0 PB"},
		{"decimal billion", 1500000000, "1.4 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ConvertBytesToHumanReadable(tt.bytes))
		})
	}
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "-", FormatSpeed(0))
	assert.Equal(t, "512 B/s", FormatSpeed(512))
	assert.Equal(t, "2.0 MB/s", FormatSpeed(2*1024*1024))
}
