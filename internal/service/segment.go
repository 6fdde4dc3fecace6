package service

import (
	"strings"
	"unicode"
)

// SplitMessage breaks text into segments of at most max runes, preferring
// to break at whitespace. Words longer than max are cut.
func SplitMessage(text string, max int) []string {
	if max <= 0 {
		return []string{text}
	}

	var segments []string
	runes := []rune(strings.TrimSpace(text))
	for len(runes) > max {
		cut := -1
		for i := max; i > 0; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}

		if cut <= 0 {
			segments = appendSegment(segments, runes[:max])
			runes = runes[max:]
			continue
		}
		segments = appendSegment(segments, runes[:cut])
		runes = runes[cut+1:]
	}
	return appendSegment(segments, runes)
}

func appendSegment(segments []string, runes []rune) []string {
	s := strings.TrimSpace(string(runes))
	if s == "" {
		return segments
	}
	return append(segments, s)
}
