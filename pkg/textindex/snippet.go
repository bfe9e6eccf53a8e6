package textindex

import "sort"

// Snippet builds a highlighted excerpt of text around the matching term
// positions, wrapping each match in "<mark>...</mark>", grounded on
// the snippet-generation shape of a search result preview: windowed
// context around the earliest matches rather than the whole field.
func Snippet(positions []PositionEntry, text string, matchTermIds map[uint64]bool, window int) string {
	if len(positions) == 0 || len(matchTermIds) == 0 {
		return truncate(text, window)
	}

	var matches []PositionEntry
	for _, p := range positions {
		if matchTermIds[p.TermId] || matchTermIds[p.StemmedTermId] {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return truncate(text, window)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Offset < matches[j].Offset })

	runes := []rune(text)
	start := int(matches[0].Offset) - window
	if start < 0 {
		start = 0
	}
	lastEnd := int(matches[len(matches)-1].Offset + matches[len(matches)-1].Length)
	end := lastEnd + window
	if end > len(runes) {
		end = len(runes)
	}

	var out []rune
	cursor := start
	for _, m := range matches {
		mStart, mEnd := int(m.Offset), int(m.Offset+m.Length)
		if mStart < cursor || mEnd > end {
			continue
		}
		out = append(out, runes[cursor:mStart]...)
		out = append(out, []rune("<mark>")...)
		out = append(out, runes[mStart:mEnd]...)
		out = append(out, []rune("</mark>")...)
		cursor = mEnd
	}
	out = append(out, runes[cursor:end]...)
	return string(out)
}

func truncate(text string, window int) string {
	runes := []rune(text)
	if window <= 0 || len(runes) <= window {
		return text
	}
	return string(runes[:window])
}
