// Package segmenter splits free text into bounded chunks that a speech provider accepts
// in a single request.
package segmenter

import "strings"

// boundaries are tried in this order; the first one found inside the window wins.
var boundaries = []string{".", "…", "?", "!", ";", ":", ","}

// Normalize collapses whitespace runs into single spaces and trims the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Split normalizes text and cuts it into segments. The first segment is at most firstMax
// characters and the rest at most nextMax, so a small firstMax gets the first audio back
// sooner at the price of one more provider round-trip. Lengths are counted in runes.
//
// A cut lands after punctuation that is followed by a space, falling back to the last space
// inside the limit. A word longer than the limit is hard-cut. Empty input yields nil.
func Split(text string, firstMax, nextMax int) []string {
	if firstMax < 1 {
		firstMax = 1
	}
	if nextMax < 1 {
		nextMax = 1
	}

	rest := []rune(Normalize(text))
	var out []string
	limit := firstMax
	for len(rest) > 0 {
		if len(rest) <= limit {
			out = append(out, string(rest))
			break
		}
		seg, next := cut(rest, limit)
		out = append(out, string(seg))
		rest = next
		limit = nextMax
	}
	return out
}

// cut returns the head segment (at most limit runes) and the remainder with the separating
// space dropped. Callers guarantee len(text) > limit.
func cut(text []rune, limit int) ([]rune, []rune) {
	// text[limit] exists, so a boundary mark at limit-1 can still see its trailing space.
	for _, mark := range boundaries {
		if end := lastBoundary(text, limit, []rune(mark)); end > 0 {
			return text[:end], text[end+1:]
		}
	}
	for i := limit; i > 0; i-- {
		if text[i] == ' ' {
			return text[:i], text[i+1:]
		}
	}
	return text[:limit], text[limit:]
}

// lastBoundary finds the right-most mark followed by a space such that the segment ending
// with the mark fits in limit runes. It returns the segment length or -1.
func lastBoundary(text []rune, limit int, mark []rune) int {
	for end := limit; end >= len(mark); end-- {
		if text[end] != ' ' {
			continue
		}
		if hasSuffix(text[:end], mark) {
			return end
		}
	}
	return -1
}

func hasSuffix(s, suffix []rune) bool {
	if len(s) < len(suffix) {
		return false
	}
	off := len(s) - len(suffix)
	for i, r := range suffix {
		if s[off+i] != r {
			return false
		}
	}
	return true
}
