package playlist

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/nybots/iptv-hub/internal/constants"
)

var (
	logoRe  = regexp.MustCompile(`tvg-logo="([^"]*)"`)
	groupRe = regexp.MustCompile(`group-title="([^"]*)"`)
)

// maxLineSize bounds a single playlist line. Attribute-heavy EXTINF lines can
// get long, but anything past this is a malformed playlist.
const maxLineSize = 1 << 20

// Parse parses M3U playlist content into a snapshot.
//
// An #EXTINF line carries the channel metadata and the next non-comment,
// non-empty line is taken as the stream URL. Entries without a URL are
// dropped. Unknown directives are ignored.
func Parse(content string) (*Snapshot, error) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var channels []Channel
	var current *Channel
	line := -1 // 0-based, used for placeholder names
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		line++

		switch {
		case strings.HasPrefix(text, "#EXTINF:"):
			current = &Channel{
				Name:     extinfName(text, line),
				Logo:     firstGroup(logoRe, text),
				Category: firstGroup(groupRe, text),
			}
			if current.Category == "" {
				current.Category = constants.DefaultCategory
			}
		case text == "" || strings.HasPrefix(text, "#"):
			// Blank lines and other directives never terminate a pending entry.
		case current != nil:
			current.URL = text
			channels = append(channels, *current)
			current = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan playlist: %v", err)
	}

	return NewSnapshot(channels), nil
}

// extinfName extracts the display name following the first comma of an EXTINF
// line. Entries without one get a positional placeholder.
func extinfName(text string, line int) string {
	if _, name, ok := strings.Cut(text, ","); ok {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return fmt.Sprintf("Channel %d", line)
}

func firstGroup(re *regexp.Regexp, text string) string {
	if m := re.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}
