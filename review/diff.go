package review

import (
	"context"
	"reflect"
	"sort"
	"strings"

	errs "github.com/pkg/errors"

	"github.com/stewartlord/swarm-sub002/log"
	"github.com/stewartlord/swarm-sub002/vcs"
)

// Severity is the 3-level code the diff classifier reduces two changelists'
// differences to.
type Severity int

const (
	// DifferNone means the two changelists hold identical content.
	DifferNone Severity = 0
	// DifferSignificant means file names, types or content changed.
	DifferSignificant Severity = 1
	// DifferInsignificant means only action, revision or resolve metadata
	// changed.
	DifferInsignificant Severity = 2
)

// classifier compares two changelists file by file. The fields whose changes
// alone count as insignificant are configurable.
type classifier struct {
	conn    vcs.Connection
	ignored []string
}

// Compare reduces the differences between two changelists (each pending or
// submitted) to a severity code. Given unchanged backend state the result is
// deterministic.
func (c *classifier) Compare(ctx context.Context, a, b *vcs.Change) (Severity, error) {
	af, err := c.files(ctx, a)
	if err != nil {
		return DifferSignificant, err
	}
	bf, err := c.files(ctx, b)
	if err != nil {
		return DifferSignificant, err
	}

	if reflect.DeepEqual(af, bf) {
		return DifferNone, nil
	}

	// Keyword-expanding file types churn their digests on every sync even
	// when nothing real changed. When digests are the only difference and all
	// affected files are keyword-expanding, re-digest with expansion
	// suppressed before classifying.
	if onlyKeywordDigestsDiffer(af, bf) {
		af2, err := c.cleanDigests(ctx, a, af, bf)
		if err != nil {
			return DifferSignificant, err
		}
		bf2, err := c.cleanDigests(ctx, b, bf, af)
		if err != nil {
			return DifferSignificant, err
		}
		if reflect.DeepEqual(af2, bf2) {
			return DifferNone, nil
		}
		af, bf = af2, bf2
	}

	if reflect.DeepEqual(c.reduce(af), c.reduce(bf)) {
		return DifferInsignificant, nil
	}
	return DifferSignificant, nil
}

// files fetches the per-file metadata of a changelist, requesting
// pending-state resolution for unsubmitted ones, and strips the trailing
// changelist-level records that are irrelevant to file-level diffing.
func (c *classifier) files(ctx context.Context, change *vcs.Change) ([]vcs.FileInfo, error) {
	files, err := c.conn.Files(ctx, change.ID, change.IsPending())
	if err != nil {
		return nil, errs.Wrapf(err, "failed to fetch file metadata of change %d", change.ID)
	}
	kept := make([]vcs.FileInfo, 0, len(files))
	for _, f := range files {
		if f.IsChangeLevel() {
			continue
		}
		f.Desc = ""
		kept = append(kept, f)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].DepotFile < kept[j].DepotFile })
	return kept, nil
}

// reduce clears the configured insignificant fields from each entry, leaving
// path, type and digest (and whatever else is not ignored).
func (c *classifier) reduce(files []vcs.FileInfo) []vcs.FileInfo {
	reduced := make([]vcs.FileInfo, len(files))
	copy(reduced, files)
	for i := range reduced {
		for _, field := range c.ignored {
			switch field {
			case "action":
				reduced[i].Action = ""
			case "rev":
				reduced[i].Rev = ""
			case "resolved":
				reduced[i].Resolved = false
			case "unresolved":
				reduced[i].Unresolved = false
			case "digest":
				reduced[i].Digest = ""
			case "type":
				reduced[i].Type = ""
			default:
				log.Warn(nil, map[string]interface{}{
					"field": field,
				}, "unknown insignificant-diff field configured, ignoring")
			}
		}
	}
	return reduced
}

// cleanDigests recomputes the digests of files whose digest differs from the
// counterpart list, with keyword expansion suppressed.
func (c *classifier) cleanDigests(ctx context.Context, change *vcs.Change, files, others []vcs.FileInfo) ([]vcs.FileInfo, error) {
	cleaned := make([]vcs.FileInfo, len(files))
	copy(cleaned, files)
	for i := range cleaned {
		if cleaned[i].Digest == others[i].Digest {
			continue
		}
		digest, err := c.conn.Digest(ctx, cleaned[i].DepotFile, change.ID, true)
		if err != nil {
			return nil, errs.Wrapf(err, "failed to re-digest %s in change %d", cleaned[i].DepotFile, change.ID)
		}
		cleaned[i].Digest = digest
	}
	return cleaned, nil
}

// onlyKeywordDigestsDiffer reports whether both lists carry the same files by
// name and type, all their other metadata matches, and every digest mismatch
// sits on a keyword-expanding file type.
func onlyKeywordDigestsDiffer(a, b []vcs.FileInfo) bool {
	if len(a) != len(b) {
		return false
	}
	anyKeyword := false
	for i := range a {
		x, y := a[i], b[i]
		if x.Digest != y.Digest {
			if !isKeywordType(x.Type) || !isKeywordType(y.Type) {
				return false
			}
			anyKeyword = true
			x.Digest, y.Digest = "", ""
		}
		if !reflect.DeepEqual(x, y) {
			return false
		}
	}
	return anyKeyword
}

// isKeywordType reports whether the file type expands keywords: the legacy
// ktext/kxtext types or any base type with a "k" or "ko" modifier.
func isKeywordType(fileType string) bool {
	if fileType == "ktext" || fileType == "kxtext" {
		return true
	}
	parts := strings.SplitN(fileType, "+", 2)
	if len(parts) != 2 {
		return false
	}
	mods := parts[1]
	return strings.Contains(mods, "k")
}
