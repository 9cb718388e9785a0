package diff

import (
	"path"
	"strings"
)

// Classifier matches file paths against configurable test/doc glob lists.
// Unmatched files are neither test nor doc.
type Classifier struct {
	testGlobs []string
	docGlobs  []string
}

// NewClassifier builds a classifier from glob lists. Supported forms:
//
//	*_test.*         basename glob
//	**/tests/**      any path segment named "tests"
//	docs/**          path prefix
//	cmd/*/main.go    full-path glob
func NewClassifier(testGlobs, docGlobs []string) *Classifier {
	return &Classifier{
		testGlobs: testGlobs,
		docGlobs:  docGlobs,
	}
}

// IsTest reports whether the path matches any configured test glob.
func (c *Classifier) IsTest(p string) bool {
	return matchAny(c.testGlobs, p)
}

// IsDoc reports whether the path matches any configured doc glob.
func (c *Classifier) IsDoc(p string) bool {
	return matchAny(c.docGlobs, p)
}

func matchAny(globs []string, filePath string) bool {
	normalized := strings.ToLower(strings.TrimPrefix(filePath, "/"))
	for _, glob := range globs {
		if matchGlob(strings.ToLower(glob), normalized) {
			return true
		}
	}
	return false
}

func matchGlob(glob, filePath string) bool {
	switch {
	case strings.Contains(glob, "**"):
		return matchSegments(glob, filePath)
	case strings.Contains(glob, "/"):
		ok, err := path.Match(glob, filePath)
		return err == nil && ok
	default:
		ok, err := path.Match(glob, path.Base(filePath))
		return err == nil && ok
	}
}

// matchSegments handles the "**" forms by reducing them to path-segment
// containment: "**/tests/**" matches any path with a "tests" directory,
// "docs/**" matches anything under docs/.
func matchSegments(glob, filePath string) bool {
	parts := strings.Split(glob, "/")
	segments := strings.Split(filePath, "/")

	// Trailing "**" after a prefix: match the prefix segments in order.
	if !strings.HasPrefix(glob, "**") {
		prefix := []string{}
		for _, part := range parts {
			if part == "**" {
				break
			}
			prefix = append(prefix, part)
		}
		if len(segments) <= len(prefix) {
			return false
		}
		for i, part := range prefix {
			if ok, err := path.Match(part, segments[i]); err != nil || !ok {
				return false
			}
		}
		return true
	}

	// Leading "**": the named segment may appear anywhere in the path.
	var wanted []string
	for _, part := range parts {
		if part != "**" {
			wanted = append(wanted, part)
		}
	}
	if len(wanted) == 0 {
		return true
	}
	// Directory segments only; the final segment is the basename and is
	// handled by basename globs.
	for _, seg := range segments[:max(0, len(segments)-1)] {
		if ok, err := path.Match(wanted[0], seg); err == nil && ok {
			return true
		}
	}
	return false
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
