// Package review implements the collaborative code-review aggregate and its
// lifecycle engine: creation from backend changelists, incremental updates
// from new work, versioned archival of reviewable content, the commit
// protocol and schema upgrades of persisted records.
package review

import (
	"encoding/json"
	"sort"
	"strings"

	uuid "github.com/satori/go.uuid"

	"github.com/stewartlord/swarm-sub002/convert"
)

// State is the lifecycle state of a review.
type State string

const (
	// StateNeedsReview means the review awaits reviewer attention.
	StateNeedsReview State = "needsReview"
	// StateNeedsRevision means reviewers requested changes from the author.
	StateNeedsRevision State = "needsRevision"
	// StateApproved means the review has been approved.
	StateApproved State = "approved"
	// StateRejected means the review has been rejected.
	StateRejected State = "rejected"
	// StateArchived means the review has been archived and left the active set.
	StateArchived State = "archived"
)

// Valid returns true if s is one of the known review states.
func (s State) Valid() bool {
	switch s {
	case StateNeedsReview, StateNeedsRevision, StateApproved, StateRejected, StateArchived:
		return true
	}
	return false
}

// CommitStatus is the transient sub-record tracking a commit in flight or the
// last failed commit. It is cleared once a commit has fully reconciled.
type CommitStatus struct {
	Start     int64  `json:"start,omitempty"`
	End       int64  `json:"end,omitempty"`
	Change    int    `json:"change,omitempty"`
	Committer string `json:"committer,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Commit phase names persisted at each phase boundary so an external process
// can detect a crash mid-commit.
const (
	CommitPhaseUnshelving = "Unshelving"
	CommitPhaseCommitting = "Committing"
	CommitPhaseCommitted  = "Committed"
)

// IsEmpty reports whether no commit is in flight and none has failed.
func (cs CommitStatus) IsEmpty() bool {
	return cs == CommitStatus{}
}

// InFlight reports whether a commit is currently between its start breadcrumb
// and its terminal success or failure.
func (cs CommitStatus) InFlight() bool {
	return !cs.IsEmpty() && cs.Error == "" && cs.End == 0
}

// Review is the aggregate root: one record tracking one or more server-side
// changelists, their approval state and the canonical managed shelf that
// mirrors the latest reviewable content. The review's id doubles as the id of
// the canonical changelist. Mutate reviews only through the Service
// operations; ad-hoc field writes bypass the invariants.
type Review struct {
	ID            int                    `json:"id"`
	Author        string                 `json:"author"`
	Description   string                 `json:"description"`
	Participants  Participants           `json:"participants"`
	Changes       []int                  `json:"changes"`
	Commits       []int                  `json:"commits"`
	Versions      []Version              `json:"versions"`
	State         State                  `json:"state"`
	CommitStatus  CommitStatus           `json:"commitStatus"`
	TestStatus    string                 `json:"testStatus,omitempty"`
	TestDetails   map[string]interface{} `json:"testDetails,omitempty"`
	DeployStatus  string                 `json:"deployStatus,omitempty"`
	DeployDetails map[string]interface{} `json:"deployDetails,omitempty"`
	Pending       bool                   `json:"pending"`
	Token         string                 `json:"token,omitempty"`
	Projects      []string               `json:"projects,omitempty"`
	Groups        []string               `json:"groups,omitempty"`
	Upgrade       int                    `json:"upgrade"`
}

// FromChange builds a new review aggregate from an existing changelist. The
// caller assigns the id once the canonical changelist exists and is expected
// to have vetted the changelist's topology beforehand.
func FromChange(change ChangeSeed) *Review {
	r := &Review{
		Author:       change.User,
		Description:  change.Description,
		State:        StateNeedsReview,
		Participants: Participants{},
	}
	r.EnsureParticipant(change.User)
	if change.Submitted {
		r.Pending = false
		r.AddCommit(change.ID, change.Origin)
	} else {
		r.Pending = true
		r.AddChange(change.ID)
	}
	return r
}

// ChangeSeed carries the changelist fields review creation needs, decoupled
// from the backend types.
type ChangeSeed struct {
	ID          int
	Origin      int
	User        string
	Description string
	Submitted   bool
}

// AddChange associates a changelist with the review. Ids are kept sorted and
// deduplicated.
func (r *Review) AddChange(id int) {
	r.Changes = insertSorted(r.Changes, id)
}

// AddCommit records a submitted changelist: it joins the commits set and,
// together with its pre-submit origin id, the changes set.
func (r *Review) AddCommit(id, origin int) {
	r.Commits = insertSorted(r.Commits, id)
	r.AddChange(id)
	if origin != 0 && origin != id {
		r.AddChange(origin)
	}
}

// RemoveCommit undoes AddCommit's bookkeeping for a half-created changelist.
func (r *Review) RemoveCommit(id int) {
	r.Commits = removeSorted(r.Commits, id)
	r.Changes = removeSorted(r.Changes, id)
}

// HasChange reports whether the changelist is associated with the review.
func (r *Review) HasChange(id int) bool {
	idx := sort.SearchInts(r.Changes, id)
	return idx < len(r.Changes) && r.Changes[idx] == id
}

// HasCommit reports whether the changelist is recorded as committed.
func (r *Review) HasCommit(id int) bool {
	idx := sort.SearchInts(r.Commits, id)
	return idx < len(r.Commits) && r.Commits[idx] == id
}

// EnsureToken generates the review's opaque callback secret if it has none.
// An existing token is never regenerated.
func (r *Review) EnsureToken() {
	if r.Token == "" {
		r.Token = uuid.NewV4().String()
	}
}

// CallbackToken returns the token handed to out-of-band status callbacks: the
// stored secret suffixed with the current head version.
func (r *Review) CallbackToken() string {
	r.EnsureToken()
	return r.Token + "." + itoa(len(r.Versions))
}

// ValidToken reports whether the given callback token belongs to this review.
// The head-version suffix is tolerated but not required.
func (r *Review) ValidToken(token string) bool {
	if r.Token == "" || token == "" {
		return false
	}
	return strings.SplitN(token, ".", 2)[0] == r.Token
}

// EffectiveCommitStatus returns the commit status as it should be reported.
// A status referencing a changelist that already landed in both the changes
// set and the version list is stale leftover state and reads as empty
// (self-healing).
func (r *Review) EffectiveCommitStatus() CommitStatus {
	cs := r.CommitStatus
	if cs.InFlight() && cs.Change != 0 && r.HasChange(cs.Change) {
		for _, v := range r.Versions {
			if !v.Pending && v.Change == cs.Change {
				return CommitStatus{}
			}
		}
	}
	return cs
}

// Normalize brings the aggregate into its canonical form: the author is
// forced present as a participant, invalid votes are dropped, change and
// commit sets are sorted and deduplicated and commits stay a subset of
// changes. Deterministic canonical form is what makes persisted records
// comparable.
func (r *Review) Normalize() {
	if r.Participants == nil {
		r.Participants = Participants{}
	}
	r.EnsureParticipant(r.Author)
	r.Participants.normalize(r.Author)
	for _, commit := range r.Commits {
		if !r.HasChange(commit) {
			r.AddChange(commit)
		}
	}
	if !r.State.Valid() {
		r.State = StateNeedsReview
	}
}

// Clone returns a deep copy of the review.
func (r *Review) Clone() *Review {
	buf, err := json.Marshal(r)
	if err != nil {
		// the aggregate is plain data; this cannot fail
		panic(err)
	}
	dup := &Review{}
	if err := json.Unmarshal(buf, dup); err != nil {
		panic(err)
	}
	return dup
}

// Ensure Review implements the Equaler interface
var _ convert.Equaler = (*Review)(nil)

// Equal returns true if two reviews have the same canonical serialized form.
func (r *Review) Equal(u convert.Equaler) bool {
	other, ok := u.(*Review)
	if !ok {
		return false
	}
	a, err := json.Marshal(r)
	if err != nil {
		return false
	}
	b, err := json.Marshal(other)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

func insertSorted(s []int, v int) []int {
	idx := sort.SearchInts(s, v)
	if idx < len(s) && s[idx] == v {
		return s
	}
	s = append(s, 0)
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func removeSorted(s []int, v int) []int {
	idx := sort.SearchInts(s, v)
	if idx < len(s) && s[idx] == v {
		return append(s[:idx], s[idx+1:]...)
	}
	return s
}
