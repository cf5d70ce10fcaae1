package extractor

import (
	"regexp"
	"strconv"
)

var progressRe = regexp.MustCompile(`\[download\]\s+(\d+\.?\d*)%`)

// ParseProgress extracts a download percentage from one line of yt-dlp
// output. The second return is false when the line carries no progress.
func ParseProgress(line string) (float64, bool) {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}
