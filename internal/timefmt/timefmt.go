// Package timefmt renders whole-second durations for display.
package timefmt

import (
	"fmt"
	"strings"
)

// Duration renders seconds as e.g. "2 hours, 30 minutes". Seconds are only
// shown for durations under a minute.
func Duration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds / 60) % 60
	secs := seconds % 60

	parts := make([]string, 0, 2)
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if secs > 0 && hours == 0 && minutes == 0 {
		parts = append(parts, plural(secs, "second"))
	}
	if len(parts) == 0 {
		return "0 seconds"
	}
	return strings.Join(parts, ", ")
}

// Clock renders seconds as HH:MM:SS. Hours are not wrapped at 24.
func Clock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds/60)%60, seconds%60)
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
