package document

import "strings"

// CutLine removes line row from text and returns the remaining text and the
// removed line. The terminal editor has no selection model, so the cursor
// line is what a cut takes. Out-of-range rows cut nothing.
func CutLine(text string, row int) (rest, cut string) {
	lines := strings.Split(text, "\n")
	if row < 0 || row >= len(lines) {
		return text, ""
	}
	cut = lines[row]
	lines = append(lines[:row], lines[row+1:]...)
	return strings.Join(lines, "\n"), cut
}
