package usage

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatDuration renders seconds the way reports show them: "1h 5m", "1h",
// "5m" or "42s". Leftover seconds are dropped once a minute is reached.
func FormatDuration(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatCount abbreviates large counts: 1200 → "1.2K", 3000000 → "3M".
func FormatCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return abbreviate(float64(n)/1_000_000_000, "B")
	case n >= 1_000_000:
		return abbreviate(float64(n)/1_000_000, "M")
	case n >= 1_000:
		return abbreviate(float64(n)/1_000, "K")
	default:
		return strconv.FormatInt(n, 10)
	}
}

func abbreviate(value float64, unit string) string {
	return strings.TrimSuffix(strconv.FormatFloat(value, 'f', 1, 64), ".0") + unit
}
