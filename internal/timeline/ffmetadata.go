package timeline

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

var metadataEscaper = strings.NewReplacer(
	`\`, `\\`,
	"=", `\=`,
	";", `\;`,
	"#", `\#`,
	"\n", "\\\n",
)

// WriteFFMetadata renders chapters in ffmpeg's FFMETADATA1 format for
// remuxing into the final container. Chapters without an offset and
// duration are skipped.
func WriteFFMetadata(w io.Writer, title string, chapters []Chapter) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, ";FFMETADATA1")
	if title != "" {
		fmt.Fprintf(bw, "title=%s\n", metadataEscaper.Replace(title))
	}
	for _, ch := range chapters {
		if ch.Offset == nil || ch.Duration == nil {
			continue
		}
		start := int64(*ch.Offset * 1000)
		end := start + int64(*ch.Duration*1000)
		name := ch.Title
		if ch.CategoryName != "" {
			name = ch.CategoryName + ": " + ch.Title
		}
		fmt.Fprintln(bw, "")
		fmt.Fprintln(bw, "[CHAPTER]")
		fmt.Fprintln(bw, "TIMEBASE=1/1000")
		fmt.Fprintf(bw, "START=%d\n", start)
		fmt.Fprintf(bw, "END=%d\n", end)
		fmt.Fprintf(bw, "title=%s\n", metadataEscaper.Replace(name))
	}
	return bw.Flush()
}
