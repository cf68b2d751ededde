// Package version checks whether a daemon build supports what the sync core relies on.
package version

import (
	"fmt"
	"slices"
	"strings"
)

// MinDaemonVersion is the oldest daemon release with getSessionInfo, which reconciliation
// depends on.
const MinDaemonVersion = "1.28.0"

// DaemonInfo is the outcome of a compatibility check.
type DaemonInfo struct {
	Version         string
	Features        []string
	Supported       bool
	MissingFeatures []string // BitTorrent / Metalink support the daemon was built without
}

// CheckDaemon compares a reported daemon version and feature list against what the task
// kinds need. Missing features do not make a daemon unsupported; only tasks of that
// kind will be rejected.
func CheckDaemon(reported string, features []string) DaemonInfo {
	info := DaemonInfo{
		Version:   reported,
		Features:  features,
		Supported: !isNewerVersion(normalizeVersion(MinDaemonVersion), normalizeVersion(reported)),
	}
	for _, f := range []string{"BitTorrent", "Metalink"} {
		if !slices.Contains(features, f) {
			info.MissingFeatures = append(info.MissingFeatures, f)
		}
	}
	return info
}

// Summary is a one-line description for CLI output.
func (d DaemonInfo) Summary() string {
	s := "aria2 " + d.Version
	if !d.Supported {
		s += fmt.Sprintf(" (unsupported, need %s or newer)", MinDaemonVersion)
	}
	if len(d.MissingFeatures) > 0 {
		s += " without " + strings.Join(d.MissingFeatures, ", ")
	}
	return s
}

// normalizeVersion removes the 'v' prefix and trims whitespace
func normalizeVersion(version string) string {
	version = strings.TrimSpace(version)
	version = strings.TrimPrefix(version, "v")
	return version
}

// isNewerVersion compares two semver strings and returns true if latest > current
// Assumes format: MAJOR.MINOR.PATCH (e.g., "1.2.3")
func isNewerVersion(latest, current string) bool {
	latestParts := parseVersion(latest)
	currentParts := parseVersion(current)

	for i := 0; i < 3; i++ {
		if latestParts[i] > currentParts[i] {
			return true
		}
		if latestParts[i] < currentParts[i] {
			return false
		}
	}
	return false // Versions are equal
}

// parseVersion parses a semver string into [major, minor, patch]
func parseVersion(version string) [3]int {
	var parts [3]int

	segments := strings.Split(version, ".")
	for i := 0; i < len(segments) && i < 3; i++ {
		// Parse the numeric part (ignore any suffix like "-beta")
		numStr := segments[i]
		if idx := strings.IndexAny(numStr, "-+"); idx != -1 {
			numStr = numStr[:idx]
		}
		_, _ = fmt.Sscanf(numStr, "%d", &parts[i])
	}

	return parts
}
