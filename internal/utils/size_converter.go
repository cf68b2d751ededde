package utils

import "fmt"

// ConvertBytesToHumanReadable renders a byte count with binary units: "1023 B", "1.5 KB".
func ConvertBytesToHumanReadable(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit && exp < 5; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed renders a transfer rate, or "-" when idle.
func FormatSpeed(bytesPerSec int64) string {
	if bytesPerSec <= 0 {
		return "-"
	}
	return ConvertBytesToHumanReadable(bytesPerSec) + "/s"
}
