package review

// Version is one entry in a review's append-only audit trail. Pending
// versions reference the canonical shelf and, once snapshotted, the archive
// changelist preserving their content; committed versions reference the
// submitted changelist. Difference carries the diff severity against the
// previous version and is absent on legacy records.
type Version struct {
	Change        int    `json:"change"`
	User          string `json:"user"`
	Time          int64  `json:"time"`
	Pending       bool   `json:"pending"`
	ArchiveChange int    `json:"archiveChange,omitempty"`
	Stream        string `json:"stream,omitempty"`
	Difference    *int   `json:"difference,omitempty"`
}

// HeadVersion returns the newest version entry, if any.
func (r *Review) HeadVersion() (Version, bool) {
	if len(r.Versions) == 0 {
		return Version{}, false
	}
	return r.Versions[len(r.Versions)-1], true
}

// HeadVersionNumber returns the 1-based number of the newest version, zero
// when the review has no versions yet.
func (r *Review) HeadVersionNumber() int {
	return len(r.Versions)
}

// appendVersion appends a version entry to the audit trail.
func (r *Review) appendVersion(v Version) {
	r.Versions = append(r.Versions, v)
}

// hasCommittedVersion reports whether a non-pending version already records
// the given changelist (or its pre-submit origin), which makes a redelivered
// commit a no-op.
func (r *Review) hasCommittedVersion(id, origin int) bool {
	for _, v := range r.Versions {
		if v.Pending {
			continue
		}
		if v.Change == id || (origin != 0 && v.Change == origin) {
			return true
		}
	}
	return false
}

// InferredStream returns the stream context of the review's latest versioned
// content, empty when no version recorded one.
func (r *Review) InferredStream() string {
	for i := len(r.Versions) - 1; i >= 0; i-- {
		if r.Versions[i].Stream != "" {
			return r.Versions[i].Stream
		}
	}
	return ""
}
