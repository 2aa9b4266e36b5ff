package procexec

import (
	"bytes"
	"regexp"
	"strings"
)

var errorLinePattern = regexp.MustCompile(`\[error\]\s*(.*)`)

// splitLines is a bufio.SplitFunc that treats both \n and \r as terminators.
// ffmpeg and streamlink redraw progress with bare carriage returns.
func splitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for {
		if atEOF && len(data) == 0 {
			return advance, nil, nil
		}
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			if atEOF {
				return advance + len(data), data, nil
			}
			return advance, nil, nil
		}
		if i == 0 {
			// Skip empty lines produced by \r\n pairs and blank redraws.
			data = data[1:]
			advance++
			continue
		}
		return advance + i + 1, data[:i], nil
	}
}

// ExtractError returns the message of the last "[error]"-tagged line, falling
// back to the last non-empty line. It returns "" when lines is empty.
func ExtractError(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if m := errorLinePattern.FindStringSubmatch(lines[i]); m != nil {
			if msg := strings.TrimSpace(m[1]); msg != "" {
				return msg
			}
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if msg := strings.TrimSpace(lines[i]); msg != "" {
			return msg
		}
	}
	return ""
}
