package github

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePatch = "@@ -1,4 +1,5 @@\n" +
	" package main\n" +
	" \n" +
	"+import \"fmt\"\n" +
	" \n" +
	" func main() {\n" +
	"@@ -10,3 +11,3 @@\n" +
	" \trun()\n" +
	"-\tcleanup()\n" +
	"+\tshutdown()\n" +
	" }\n"

func TestBuildPositionMap(t *testing.T) {
	pm := BuildPositionMap(samplePatch)

	// First hunk: new lines 1-5 at positions 1-5.
	tests := map[int]int{
		1:  1, // " package main"
		3:  3, // "+import \"fmt\""
		5:  5, // " func main() {"
		11: 7, // " \trun()" after the second @@ header at position 6
		12: 9, // "+\tshutdown()"
		13: 10,
	}
	for line, wantPos := range tests {
		pos, ok := pm[line]
		require.True(t, ok, "line %d", line)
		assert.Equal(t, wantPos, pos, "line %d", line)
	}

	// Removed lines have no new-file number.
	_, ok := pm[10]
	assert.False(t, ok)
}

func TestResolveExact(t *testing.T) {
	pm := BuildPositionMap(samplePatch)

	pos, ok := pm.Resolve(3)
	require.True(t, ok)
	assert.Equal(t, 3, pos)
}

func TestResolveBackwardWalk(t *testing.T) {
	pm := BuildPositionMap(samplePatch)

	// Line 20 is not in the diff; the nearest earlier diffed line is 13.
	pos, ok := pm.Resolve(20)
	require.True(t, ok)
	assert.Equal(t, 10, pos)
}

func TestResolveBeyondWalkWindow(t *testing.T) {
	pm := BuildPositionMap(samplePatch)

	_, ok := pm.Resolve(13 + maxPositionWalk + 1)
	assert.False(t, ok)
}

func TestBuildPositionMapEmpty(t *testing.T) {
	pm := BuildPositionMap("")
	assert.Empty(t, pm)

	_, ok := pm.Resolve(1)
	assert.False(t, ok)
}

func TestParseHunkNewStart(t *testing.T) {
	tests := []struct {
		header string
		want   int
		ok     bool
	}{
		{"@@ -12,7 +15,9 @@", 15, true},
		{"@@ -1 +1 @@", 1, true},
		{"@@ -10,3 +11,2 @@ func main() {", 11, true},
		{"@@ garbage", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseHunkNewStart(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		if ok {
			assert.Equal(t, tt.want, got, tt.header)
		}
	}
}
