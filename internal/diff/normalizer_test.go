package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prsentry/prsentry/internal/errors"
)

func testNormalizer() *Normalizer {
	return NewNormalizer(NewClassifier(
		[]string{"**/tests/**", "*_test.*", "test_*"},
		[]string{"*.md", "docs/**"},
	))
}

func TestNormalize(t *testing.T) {
	n := testNormalizer()

	entries := []FileEntry{
		{Path: "internal/server.go", Added: 10, Removed: 3, Status: "modified"},
		{Path: "internal/server_test.go", Added: 20, Removed: 0},
		{Path: "docs/setup.md", Added: 5, Removed: 1},
		{Path: "assets/logo.png", IsBinary: true},
	}

	records, err := n.Normalize(entries)
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, "internal/server.go", records[0].Path)
	assert.Equal(t, 13, records[0].LOC())
	assert.False(t, records[0].IsTest)

	assert.True(t, records[1].IsTest)
	assert.True(t, records[2].IsDoc)
	assert.True(t, records[3].IsBinary)
	assert.Zero(t, records[3].LOC())
}

func TestNormalizePreservesOrder(t *testing.T) {
	n := testNormalizer()

	entries := []FileEntry{
		{Path: "z.go", Added: 1}, {Path: "a.go", Added: 1}, {Path: "m.go", Added: 1},
	}
	records, err := n.Normalize(entries)
	require.NoError(t, err)

	paths := make([]string, len(records))
	for i, r := range records {
		paths[i] = r.Path
	}
	assert.Equal(t, []string{"z.go", "a.go", "m.go"}, paths)
}

func TestNormalizeMalformedInput(t *testing.T) {
	n := testNormalizer()

	tests := []struct {
		name    string
		entries []FileEntry
	}{
		{"missing path", []FileEntry{{Added: 5}}},
		{"negative added", []FileEntry{{Path: "a.go", Added: -1}}},
		{"negative removed", []FileEntry{{Path: "a.go", Removed: -3}}},
		{"duplicate path", []FileEntry{{Path: "a.go", Added: 1}, {Path: "a.go", Added: 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.entries)
			require.Error(t, err)
			assert.Equal(t, errors.ErrorTypeMalformedInput, errors.GetType(err))
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestSplitHunks(t *testing.T) {
	patch := "@@ -1,3 +1,4 @@\n context\n+added\n context\n@@ -10,2 +11,2 @@\n-old\n+new\n"

	hunks := splitHunks(patch)
	require.Len(t, hunks, 2)
	assert.Contains(t, hunks[0], "+added")
	assert.Contains(t, hunks[1], "+new")
}

func TestParseUnifiedDiff(t *testing.T) {
	diffText := "diff --git a/main.go b/main.go\n" +
		"index 1111111..2222222 100644\n" +
		"--- a/main.go\n" +
		"+++ b/main.go\n" +
		"@@ -1,4 +1,5 @@\n" +
		" package main\n" +
		" \n" +
		"+import \"fmt\"\n" +
		" \n" +
		" func main() {\n" +
		"@@ -10,3 +11,2 @@ func main() {\n" +
		" \trun()\n" +
		"-\tcleanup()\n" +
		" }\n"

	entries, err := ParseUnifiedDiff(diffText)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "main.go", entries[0].Path)
	assert.Equal(t, 1, entries[0].Added)
	assert.Equal(t, 1, entries[0].Removed)
	assert.Contains(t, entries[0].Patch, `+import "fmt"`)
}

func TestParseUnifiedDiffGarbage(t *testing.T) {
	truncated := "--- a/x.go\n" +
		"+++ b/x.go\n" +
		"@@ -1,5 +1,5 @@\n" +
		" only one line\n"
	_, err := ParseUnifiedDiff(truncated)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeMalformedInput, errors.GetType(err))
}

func TestClassifierGlobs(t *testing.T) {
	c := NewClassifier(
		[]string{"**/tests/**", "*_test.*", "*.spec.*", "test_*"},
		[]string{"*.md", "docs/**"},
	)

	tests := []struct {
		path   string
		isTest bool
		isDoc  bool
	}{
		{"pkg/server_test.go", true, false},
		{"src/tests/helper.py", true, false},
		{"ui/button.spec.ts", true, false},
		{"test_main.py", true, false},
		{"pkg/server.go", false, false},
		{"README.md", false, true},
		{"docs/guide/install.rst", false, true},
		{"internal/docserver.go", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.isTest, c.IsTest(tt.path), "IsTest")
			assert.Equal(t, tt.isDoc, c.IsDoc(tt.path), "IsDoc")
		})
	}
}
