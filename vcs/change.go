// Package vcs defines the contract the review engine consumes from the
// version-control backend: changelists, per-file metadata, the command
// connection and the exclusive workspace resource. The backend itself is a
// black box behind the Connection interface.
package vcs

// ChangeStatus describes whether a changelist is still open or durably
// committed.
type ChangeStatus string

const (
	// StatusPending marks a changelist that is open and not yet submitted.
	StatusPending ChangeStatus = "pending"
	// StatusSubmitted marks a changelist that has been committed.
	StatusSubmitted ChangeStatus = "submitted"
)

// ChangeType is the visibility type of a changelist.
type ChangeType string

const (
	// TypePublic marks a changelist whose description is visible to everyone.
	TypePublic ChangeType = "public"
	// TypeRestricted marks a changelist whose description is access controlled.
	TypeRestricted ChangeType = "restricted"
)

// Change is a numbered, atomic set of file revisions tracked by the backend.
type Change struct {
	ID          int
	Status      ChangeStatus
	Description string
	User        string
	Client      string
	Type        ChangeType
	Jobs        []string
	FixStatus   string
	Stream      string
	// OriginID is the id the changelist carried before it was renumbered on
	// submit; zero when the changelist was never renumbered.
	OriginID int
}

// IsPending returns true if the changelist is open and not yet submitted.
func (c *Change) IsPending() bool {
	return c.Status == StatusPending
}

// IsSubmitted returns true if the changelist has been committed.
func (c *Change) IsSubmitted() bool {
	return c.Status == StatusSubmitted
}

// Origin returns the id this changelist was originally created under. Submits
// can renumber changelists; bookkeeping that started before the submit went
// through knows only the original id.
func (c *Change) Origin() int {
	if c.OriginID != 0 {
		return c.OriginID
	}
	return c.ID
}

// FileInfo is the per-file metadata record returned for a changelist's files.
// Backends may append trailing changelist-level records (carrying only the
// description) after the per-file entries; those have an empty DepotFile.
type FileInfo struct {
	DepotFile  string `json:"depotFile"`
	Action     string `json:"action,omitempty"`
	Type       string `json:"type,omitempty"`
	Rev        string `json:"rev,omitempty"`
	Digest     string `json:"digest,omitempty"`
	Resolved   bool   `json:"resolved,omitempty"`
	Unresolved bool   `json:"unresolved,omitempty"`
	Desc       string `json:"desc,omitempty"`
}

// IsChangeLevel reports whether this record carries changelist-level trailing
// data instead of describing a file.
func (f FileInfo) IsChangeLevel() bool {
	return f.DepotFile == ""
}
