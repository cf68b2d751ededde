package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePrecedence(t *testing.T) {
	global := TaskOptions{Split: 5, MaxConnectionPerServer: 1, UserAgent: "global", Timeout: 10,
		Extra: map[string]string{"check-integrity": "false", "seed-time": "0"}}
	category := TaskOptions{Dir: "/srv/iso", MaxConnectionPerServer: 4,
		Extra: map[string]string{"seed-time": "30"}}
	task := TaskOptions{Out: "debian.iso", UserAgent: "task"}

	got := Merge(global, category, task)

	assert.Equal(t, "/srv/iso", got.Dir)
	assert.Equal(t, "debian.iso", got.Out)
	assert.Equal(t, 5, got.Split)
	assert.Equal(t, 4, got.MaxConnectionPerServer)
	assert.Equal(t, "task", got.UserAgent)
	assert.Equal(t, 10, got.Timeout)
	assert.Equal(t, map[string]string{"check-integrity": "false", "seed-time": "30"}, got.Extra)

	// inputs are not aliased by the merge result
	got.Extra["seed-time"] = "99"
	assert.Equal(t, "30", category.Extra["seed-time"])
}

func TestToMapSkipsUnset(t *testing.T) {
	m := TaskOptions{Dir: "/tmp", Split: 3}.ToMap()
	assert.Equal(t, map[string]string{"dir": "/tmp", "split": "3"}, m)
}

func TestOptionsFromMap(t *testing.T) {
	o, err := OptionsFromMap(map[string]string{
		"dir":                       "/data",
		"max-connection-per-server": "8",
		"max-download-limit":        "512K",
		"bt-tracker":                "udp://tracker.example:80",
	})
	require.NoError(t, err)
	assert.Equal(t, "/data", o.Dir)
	assert.Equal(t, 8, o.MaxConnectionPerServer)
	assert.Equal(t, "512K", o.MaxDownloadLimit)
	assert.Equal(t, "udp://tracker.example:80", o.Extra["bt-tracker"])

	back := o.ToMap()
	assert.Equal(t, "8", back["max-connection-per-server"])
	assert.Equal(t, "udp://tracker.example:80", back["bt-tracker"])
}

func TestOptionsFromMapRejectsBadValues(t *testing.T) {
	_, err := OptionsFromMap(map[string]string{"split": "many"})
	assert.Error(t, err)

	_, err = OptionsFromMap(map[string]string{"max-connection-per-server": "64"})
	assert.Error(t, err)

	_, err = OptionsFromMap(map[string]string{"max-download-limit": "fast"})
	assert.Error(t, err)
}
