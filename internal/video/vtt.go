package video

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var (
	errNoCues = errors.New("subtitle file has no cues")

	srtTiming = regexp.MustCompile(`^(\d{1,2}):(\d{2}):(\d{2})[,.](\d{3})\s*-->\s*(\d{1,2}):(\d{2}):(\d{2})[,.](\d{3})(.*)$`)
)

// toUTF8 returns data unchanged when it is valid UTF-8 and otherwise
// decodes it as Windows-1252, the usual encoding of legacy .srt files.
func toUTF8(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return data, nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("decode subtitle text: %w", err)
	}
	return out, nil
}

// toWebVTT converts SubRip or WebVTT input into a normalized WebVTT
// document with LF line endings.
func toWebVTT(data []byte) (string, error) {
	data, err := toUTF8(data)
	if err != nil {
		return "", err
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	if strings.HasPrefix(text, "WEBVTT") {
		if !strings.Contains(text, "-->") {
			return "", errNoCues
		}
		return strings.TrimRight(text, "\n") + "\n", nil
	}

	var b strings.Builder
	b.WriteString("WEBVTT\n")
	cues := 0
	for _, block := range strings.Split(strings.TrimSpace(text), "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		timing := -1
		for i, line := range lines {
			if srtTiming.MatchString(strings.TrimSpace(line)) {
				timing = i
				break
			}
		}
		if timing < 0 {
			continue
		}
		m := srtTiming.FindStringSubmatch(strings.TrimSpace(lines[timing]))
		b.WriteString("\n")
		if timing > 0 {
			b.WriteString(strings.TrimSpace(lines[timing-1]))
			b.WriteString("\n")
		}
		startHours, _ := strconv.Atoi(m[1])
		endHours, _ := strconv.Atoi(m[5])
		fmt.Fprintf(&b, "%02d:%s:%s.%s --> %02d:%s:%s.%s%s\n", startHours, m[2], m[3], m[4], endHours, m[6], m[7], m[8], m[9])
		for _, line := range lines[timing+1:] {
			b.WriteString(line)
			b.WriteString("\n")
		}
		cues++
	}
	if cues == 0 {
		return "", errNoCues
	}
	return b.String(), nil
}
