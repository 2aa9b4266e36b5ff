package textutil

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var byteUnits = []string{"Bytes", "KB", "MB", "GB", "TB", "PB", "EB"}

// FormatBytes renders a size with a 1024 base and at most two decimals, for
// example 3072 -> "3 KB" and 1536 -> "1.5 KB".
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(byteUnits)-1 {
		v /= 1024
		i++
	}
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + byteUnits[i]
}

// FormatDuration renders whole seconds as HH:MM:SS. Hours are not wrapped
// at 24.
func FormatDuration(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// NiceDuration renders seconds as "1d 2h 3m 4s", omitting zero parts.
func NiceDuration(seconds float64) string {
	if seconds < 1 || math.IsNaN(seconds) {
		return "0s"
	}
	total := int64(seconds)
	parts := make([]string, 0, 4)
	for _, unit := range []struct {
		size   int64
		suffix string
	}{{86400, "d"}, {3600, "h"}, {60, "m"}, {1, "s"}} {
		if v := total / unit.size; v > 0 {
			parts = append(parts, strconv.FormatInt(v, 10)+unit.suffix)
			total -= v * unit.size
		}
	}
	return strings.Join(parts, " ")
}

// FFmpegTimestamp renders an offset as HH:MM:SS.mmm for -ss arguments.
func FFmpegTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3_600_000, (ms/60_000)%60, (ms/1000)%60, ms%1000)
}

// ParseClock parses HH:MM:SS(.fff) into seconds.
func ParseClock(value string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	s, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || s < 0 || s >= 60 {
		return 0, false
	}
	return float64(h)*3600 + float64(m)*60 + s, true
}
