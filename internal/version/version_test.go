package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.37.0", "1.36.0", true},
		{"1.36.0", "1.37.0", false},
		{"1.37.0", "1.37.0", false},
		{"2.0.0", "1.99.99", true},
		{"1.37.1-beta", "1.37.0", true},
		{"1.37", "1.37.0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNewerVersion(tt.latest, tt.current), "%s > %s", tt.latest, tt.current)
	}
}

func TestCheckDaemon(t *testing.T) {
	full := CheckDaemon("1.37.0", []string{"BitTorrent", "Metalink", "SFTP"})
	assert.True(t, full.Supported)
	assert.Empty(t, full.MissingFeatures)
	assert.Equal(t, "aria2 1.37.0", full.Summary())

	old := CheckDaemon("v1.19.3", []string{"BitTorrent"})
	assert.False(t, old.Supported)
	assert.Equal(t, []string{"Metalink"}, old.MissingFeatures)
	assert.Equal(t, "aria2 v1.19.3 (unsupported, need 1.28.0 or newer) without Metalink", old.Summary())

	assert.True(t, CheckDaemon(MinDaemonVersion, nil).Supported)
}
