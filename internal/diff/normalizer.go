package diff

import (
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/prsentry/prsentry/internal/errors"
	"github.com/prsentry/prsentry/internal/models"
)

// FileEntry is one raw changed-file entry before normalization. It matches
// the shape of the GitHub pulls/files response and of parsed unified diffs.
type FileEntry struct {
	Path     string `json:"path"`
	Added    int    `json:"added"`
	Removed  int    `json:"removed"`
	Patch    string `json:"patch,omitempty"`
	Status   string `json:"status,omitempty"`
	IsBinary bool   `json:"is_binary,omitempty"`
}

// Normalizer converts raw changeset entries into canonical ChangeRecords.
// Pure: no side effects, same input yields the same output, and the input
// order is preserved.
type Normalizer struct {
	classifier *Classifier
}

// NewNormalizer creates a normalizer using the given path classifier.
func NewNormalizer(classifier *Classifier) *Normalizer {
	return &Normalizer{classifier: classifier}
}

// Normalize validates and converts the raw entries. A missing path or a
// negative line count is a malformed changeset and aborts before any batch
// work starts.
func (n *Normalizer) Normalize(entries []FileEntry) ([]models.ChangeRecord, error) {
	records := make([]models.ChangeRecord, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))

	for i, e := range entries {
		if e.Path == "" {
			return nil, errors.MalformedInputf("file entry %d has no path", i)
		}
		if e.Added < 0 || e.Removed < 0 {
			return nil, errors.MalformedInputf("file entry %q has negative line counts (%d/%d)", e.Path, e.Added, e.Removed)
		}
		if _, dup := seen[e.Path]; dup {
			return nil, errors.MalformedInputf("file entry %q appears more than once", e.Path)
		}
		seen[e.Path] = struct{}{}

		rec := models.ChangeRecord{
			Path:         e.Path,
			AddedLines:   e.Added,
			RemovedLines: e.Removed,
			Patch:        e.Patch,
			Status:       e.Status,
			IsBinary:     e.IsBinary,
		}
		if e.IsBinary {
			// Binary files carry no hunks; they still occupy a record so the
			// batch plan accounts for every entry in the changeset.
			rec.Patch = ""
		} else {
			rec.Hunks = splitHunks(e.Patch)
		}
		rec.IsTest = n.classifier.IsTest(e.Path)
		rec.IsDoc = n.classifier.IsDoc(e.Path)

		records = append(records, rec)
	}

	return records, nil
}

// splitHunks breaks a per-file patch into its hunks, keeping hunk headers.
func splitHunks(patch string) []string {
	if patch == "" {
		return nil
	}

	var hunks []string
	var current strings.Builder
	for _, line := range strings.SplitAfter(patch, "\n") {
		if strings.HasPrefix(line, "@@") && current.Len() > 0 {
			hunks = append(hunks, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		hunks = append(hunks, current.String())
	}
	return hunks
}

// ParseUnifiedDiff converts raw unified diff text into file entries. Used
// when the paginated files endpoint yields nothing and the caller falls
// back to the whole-PR diff.
func ParseUnifiedDiff(diffText string) ([]FileEntry, error) {
	files, _, err := gitdiff.Parse(strings.NewReader(diffText))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMalformedInput, errors.SeverityFatal, "parse unified diff")
	}

	entries := make([]FileEntry, 0, len(files))
	for _, f := range files {
		path := f.NewName
		if path == "" {
			path = f.OldName
		}

		entry := FileEntry{
			Path:     path,
			IsBinary: f.IsBinary,
			Status:   fileStatus(f),
		}

		var patch strings.Builder
		for _, frag := range f.TextFragments {
			patch.WriteString(frag.Header())
			patch.WriteString("\n")
			for _, line := range frag.Lines {
				patch.WriteString(line.String())
				switch line.Op {
				case gitdiff.OpAdd:
					entry.Added++
				case gitdiff.OpDelete:
					entry.Removed++
				}
			}
		}
		entry.Patch = patch.String()

		entries = append(entries, entry)
	}

	return entries, nil
}

func fileStatus(f *gitdiff.File) string {
	switch {
	case f.IsNew:
		return "added"
	case f.IsDelete:
		return "removed"
	case f.IsRename:
		return "renamed"
	default:
		return "modified"
	}
}
