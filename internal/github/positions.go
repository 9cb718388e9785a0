package github

import (
	"strconv"
	"strings"
)

// maxPositionWalk bounds how far a finding line may drift from the diff
// before we give up pinning it inline.
const maxPositionWalk = 50

// PositionMap maps new-file line numbers to review comment positions for one
// file's patch. The position is the line's offset within the diff, counting
// from the first hunk header, which is what the review API expects.
type PositionMap map[int]int

// BuildPositionMap parses a unified-diff patch fragment as returned by the
// changed-files API and indexes every added or context line.
func BuildPositionMap(patch string) PositionMap {
	pm := make(PositionMap)
	if patch == "" {
		return pm
	}

	// The first hunk header sits at position 0 and every following diff
	// line, later hunk headers included, increments the position.
	position := -1
	newLine := 0

	lines := strings.Split(patch, "\n")
	for i, line := range lines {
		if line == "" && i == len(lines)-1 {
			break // trailing newline artifact, not a diff line
		}
		if strings.HasPrefix(line, "@@") {
			if start, ok := parseHunkNewStart(line); ok {
				newLine = start
				if position < 0 {
					position = 0
				} else {
					position++
				}
				continue
			}
		}
		if position < 0 {
			continue
		}
		position++
		switch {
		case strings.HasPrefix(line, "+"):
			pm[newLine] = position
			newLine++
		case strings.HasPrefix(line, "-"):
			// removed line, no new-file number
		case strings.HasPrefix(line, "\\"):
			// "\ No newline at end of file" occupies a position only
		default:
			pm[newLine] = position
			newLine++
		}
	}

	return pm
}

// Resolve returns the position for a new-file line. If the exact line is not
// part of the diff, it walks backward to the nearest diffed line so a finding
// just outside a hunk still lands near the relevant change.
func (pm PositionMap) Resolve(line int) (int, bool) {
	if pos, ok := pm[line]; ok {
		return pos, true
	}
	for back := 1; back <= maxPositionWalk; back++ {
		if pos, ok := pm[line-back]; ok {
			return pos, true
		}
	}
	return 0, false
}

// parseHunkNewStart extracts the new-file start line from a hunk header like
// "@@ -12,7 +15,9 @@".
func parseHunkNewStart(header string) (int, bool) {
	plus := strings.Index(header, "+")
	if plus < 0 {
		return 0, false
	}
	rest := header[plus+1:]
	end := strings.IndexAny(rest, ", @")
	if end < 0 {
		return 0, false
	}
	start, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return start, true
}
