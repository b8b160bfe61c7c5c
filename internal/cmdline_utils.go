// Command line helpers.

package wd_internal

import (
	"strings"
)

const (
	// The help usage message line wraparound default width:
	DEFAULT_FLAG_USAGE_WIDTH = 58
)

// Format a flag usage message for help display, wrapping the lines
// around a given width; the original line breaks and prefixing white
// spaces are discarded.
func FormatFlagUsageWidth(usage string, width int) string {
	sb := strings.Builder{}
	lineLen := 0
	for i, word := range strings.Fields(usage) {
		if i > 0 {
			if lineLen+1+len(word) > width {
				sb.WriteByte('\n')
				lineLen = 0
			} else {
				sb.WriteByte(' ')
				lineLen++
			}
		}
		sb.WriteString(word)
		lineLen += len(word)
	}
	return sb.String()
}

func FormatFlagUsage(usage string) string {
	return FormatFlagUsageWidth(usage, DEFAULT_FLAG_USAGE_WIDTH)
}
