package review_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewartlord/swarm-sub002/lock"
	"github.com/stewartlord/swarm-sub002/resource"
	"github.com/stewartlord/swarm-sub002/review"
	"github.com/stewartlord/swarm-sub002/vcs"
	"github.com/stewartlord/swarm-sub002/vcs/vcstest"
)

type engineFixture struct {
	conn *vcstest.FakeConnection
	ws   *vcstest.FakeWorkspace
	repo *review.InMemoryRepository
	svc  *review.Service
}

func newEngineFixture() *engineFixture {
	conn := vcstest.NewFakeConnection("swarm", "swarm-ws")
	ws := vcstest.NewFakeWorkspace()
	repo := review.NewInMemoryRepository()
	svc := review.NewService(repo, lock.NewInMemoryLocker(), ws, review.Options{
		UnapproveModified: true,
		CreditAuthor:      true,
		IgnoredDiffFields: []string{"action", "rev", "resolved", "unresolved"},
	}).WithElevatedConnection(conn)
	return &engineFixture{conn: conn, ws: ws, repo: repo, svc: svc}
}

// balanced asserts the workspace was released exactly as often as acquired.
func (f *engineFixture) balanced(t *testing.T) {
	t.Helper()
	assert.Equal(t, f.ws.Acquires(), f.ws.Releases(), "workspace acquire/release imbalance")
	assert.False(t, f.ws.Held())
}

func fileInfo(path, digest string) vcs.FileInfo {
	return vcs.FileInfo{DepotFile: path, Action: "edit", Type: "text", Rev: "1", Digest: digest}
}

func TestProcessChangeCreatesReview(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()
	ctx := context.Background()

	origin := f.conn.AddShelvedChange("alice", "fix the frobnicator", fileInfo("//depot/main/a.go", "aaa"))

	reviews, err := f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	r := reviews[0]

	assert.NotEqual(t, origin.ID, r.ID, "the review gets its own canonical changelist")
	assert.Equal(t, "alice", r.Author)
	assert.Equal(t, review.StateNeedsReview, r.State)
	assert.True(t, r.Pending)
	assert.True(t, r.HasChange(origin.ID))
	assert.Contains(t, r.Participants, "alice")
	assert.NotEmpty(t, r.Token)

	// the canonical shelf mirrors the triggering content and the first
	// version is recorded with an archive snapshot
	require.Len(t, f.conn.Shelf(r.ID), 1)
	require.Len(t, r.Versions, 1)
	head := r.Versions[0]
	assert.Equal(t, r.ID, head.Change)
	assert.True(t, head.Pending)
	assert.NotZero(t, head.ArchiveChange)
	require.NotNil(t, head.Difference)
	assert.Equal(t, int(review.DifferSignificant), *head.Difference)
	assert.Len(t, f.conn.Shelf(head.ArchiveChange), 1)

	loaded, err := f.repo.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, r.Equal(loaded))

	f.balanced(t)
	assert.Zero(t, f.conn.OpenedCount())
}

func TestProcessChangeOnCanonicalChangelist(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()
	ctx := context.Background()

	origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//depot/main/a.go", "aaa"))
	reviews, err := f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r := reviews[0]

	// the engine's shelving onto the canonical changelist fires a trigger of
	// its own; it resolves to the owning review, never a review of the review
	reviews, err = f.svc.ProcessChange(ctx, f.conn, r.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, r.ID, reviews[0].ID)
	assert.Len(t, reviews[0].Versions, 1)

	all, err := f.repo.List(ctx, review.Criteria{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, r.ID, all[0].ID)
	f.balanced(t)
}

func TestProcessChangeRejectsRemoteEdgeShelf(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()

	origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//depot/main/a.go", "aaa"))
	f.conn.SetRemoteEdge(origin.ID)

	_, err := f.svc.ProcessChange(context.Background(), f.conn, origin.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad value for parameter")
}

func TestUpdateContentChange(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()
	ctx := context.Background()

	origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//depot/main/a.go", "aaa"))
	reviews, err := f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r := reviews[0]

	_, err = f.svc.SetState(ctx, r, review.StateApproved)
	require.NoError(t, err)

	// the author shelves reworked content
	f.conn.ReplaceShelf(origin.ID, fileInfo("//depot/main/a.go", "bbb"))
	reviews, err = f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r = reviews[0]

	assert.Equal(t, review.StateNeedsReview, r.State, "significant changes unapprove")
	assert.True(t, r.Pending)
	require.Len(t, r.Versions, 2)
	head := r.Versions[1]
	require.NotNil(t, head.Difference)
	assert.Equal(t, int(review.DifferSignificant), *head.Difference)
	assert.NotZero(t, head.ArchiveChange)
	assert.NotEqual(t, r.Versions[0].ArchiveChange, head.ArchiveChange)

	// both snapshots survive independently
	assert.Equal(t, "aaa", f.conn.Shelf(r.Versions[0].ArchiveChange)[0].Digest)
	assert.Equal(t, "bbb", f.conn.Shelf(head.ArchiveChange)[0].Digest)
	assert.Equal(t, "bbb", f.conn.Shelf(r.ID)[0].Digest)

	f.balanced(t)
}

func TestUpdateInsignificantChange(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()
	ctx := context.Background()

	origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//depot/main/a.go", "aaa"))
	reviews, err := f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r := reviews[0]

	_, err = f.svc.SetState(ctx, r, review.StateApproved)
	require.NoError(t, err)

	// same content, different revision metadata
	updated := fileInfo("//depot/main/a.go", "aaa")
	updated.Rev = "2"
	updated.Action = "integrate"
	f.conn.ReplaceShelf(origin.ID, updated)

	reviews, err = f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r = reviews[0]

	assert.Equal(t, review.StateApproved, r.State, "insignificant changes never unapprove")
	require.Len(t, r.Versions, 2)
	require.NotNil(t, r.Versions[1].Difference)
	assert.Equal(t, int(review.DifferInsignificant), *r.Versions[1].Difference)
	f.balanced(t)
}

func TestUpdateIdenticalContent(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()
	ctx := context.Background()

	origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//depot/main/a.go", "aaa"))
	reviews, err := f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r := reviews[0]
	require.Len(t, r.Versions, 1)

	// redelivered trigger with unchanged content adds no version
	reviews, err = f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	assert.Len(t, reviews[0].Versions, 1)
	f.balanced(t)
}

func TestUpdateAdoptsAuthorDescription(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()
	ctx := context.Background()

	origin := f.conn.AddShelvedChange("alice", "first words", fileInfo("//depot/main/a.go", "aaa"))
	reviews, err := f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r := reviews[0]

	change, err := f.conn.FetchChange(ctx, origin.ID)
	require.NoError(t, err)
	change.Description = "better words"
	require.NoError(t, f.conn.SaveChange(ctx, change))

	reviews, err = f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	assert.Equal(t, "better words", reviews[0].Description)

	// a non-author change never overrides the description
	bob := f.conn.AddShelvedChange("bob", "bob's words", fileInfo("//depot/main/a.go", "ccc"))
	r, err = f.repo.Load(ctx, r.ID)
	require.NoError(t, err)
	r.AddChange(bob.ID)
	_, err = f.repo.Save(ctx, r)
	require.NoError(t, err)

	reviews, err = f.svc.ProcessChange(ctx, f.conn, bob.ID)
	require.NoError(t, err)
	r = reviews[0]
	assert.Equal(t, "better words", r.Description)
	assert.Contains(t, r.Participants, "bob")
	f.balanced(t)
}

func TestUpdateStreamInference(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()

	t.Run("from the owner workspace", func(t *testing.T) {
		f := newEngineFixture()
		f.conn.SetClientStream("alice-ws", "//proj/main")
		origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//proj/main/a.go", "aaa"))

		reviews, err := f.svc.ProcessChange(context.Background(), f.conn, origin.ID)
		require.NoError(t, err)
		r := reviews[0]
		assert.Equal(t, "//proj/main", r.InferredStream())
		assert.Equal(t, "//proj/main", f.conn.CurrentStream())
	})
	t.Run("from depot paths", func(t *testing.T) {
		f := newEngineFixture()
		f.conn.SetStreamDepth("proj", 2)
		origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//proj/team/main/a.go", "aaa"))

		reviews, err := f.svc.ProcessChange(context.Background(), f.conn, origin.ID)
		require.NoError(t, err)
		assert.Equal(t, "//proj/team/main", reviews[0].InferredStream())
	})
}

func TestUpdateExclusiveFiles(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()

	t.Run("bypass supported", func(t *testing.T) {
		f := newEngineFixture()
		origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//depot/main/a.go", "aaa"))
		f.conn.SetExclusiveConflict(origin.ID)

		_, err := f.svc.ProcessChange(context.Background(), f.conn, origin.ID)
		require.NoError(t, err)
		f.balanced(t)
	})
	t.Run("bypass unsupported", func(t *testing.T) {
		f := newEngineFixture()
		f.conn.SetBypassSupported(false)
		origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//depot/main/a.go", "aaa"))
		f.conn.SetExclusiveConflict(origin.ID)

		_, err := f.svc.ProcessChange(context.Background(), f.conn, origin.ID)
		require.Error(t, err)
		f.balanced(t)
	})
}

func TestUpdateRetroactiveArchive(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()
	ctx := context.Background()

	origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//depot/main/a.go", "aaa"))
	reviews, err := f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r := reviews[0]

	// archival fails: the version is still recorded, just without a snapshot
	f.conn.FailOn("CreateChange", errs("create refused"))
	f.conn.ReplaceShelf(origin.ID, fileInfo("//depot/main/a.go", "bbb"))
	reviews, err = f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r = reviews[0]
	require.Len(t, r.Versions, 2)
	assert.Zero(t, r.Versions[1].ArchiveChange)
	f.conn.ClearFail("CreateChange")

	// the next update snapshots the exposed head before overwriting the shelf
	f.conn.ReplaceShelf(origin.ID, fileInfo("//depot/main/a.go", "ccc"))
	reviews, err = f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r = reviews[0]
	require.Len(t, r.Versions, 3)
	assert.NotZero(t, r.Versions[1].ArchiveChange, "the exposed head gets archived retroactively")
	assert.NotZero(t, r.Versions[2].ArchiveChange)
	assert.Equal(t, "bbb", f.conn.Shelf(r.Versions[1].ArchiveChange)[0].Digest)
	assert.Equal(t, "ccc", f.conn.Shelf(r.Versions[2].ArchiveChange)[0].Digest)
	f.balanced(t)
}

func TestUpdateReleasesWorkspaceOnFailure(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()

	for _, op := range []string{"ResetWorkspace", "SaveChange", "Files", "Unshelve", "Shelve"} {
		op := op
		t.Run(op, func(t *testing.T) {
			f := newEngineFixture()
			origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//depot/main/a.go", "aaa"))
			reviews, err := f.svc.ProcessChange(context.Background(), f.conn, origin.ID)
			require.NoError(t, err)
			require.Len(t, reviews, 1)

			f.conn.FailOn(op, errs(op+" refused"))
			f.conn.ReplaceShelf(origin.ID, fileInfo("//depot/main/a.go", "bbb"))
			_, err = f.svc.ProcessChange(context.Background(), f.conn, origin.ID)
			require.Error(t, err)
			f.balanced(t)
		})
	}
}

func TestCommit(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()
	ctx := context.Background()

	origin := f.conn.AddShelvedChange("alice", "fix it", fileInfo("//depot/main/a.go", "aaa"))
	reviews, err := f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r := reviews[0]

	submitted, err := f.svc.Commit(ctx, f.conn, r, review.CommitOptions{Committer: "bob"})
	require.NoError(t, err)
	require.NotNil(t, submitted)
	assert.True(t, submitted.IsSubmitted())

	assert.True(t, r.HasCommit(submitted.ID))
	cs := r.CommitStatus
	assert.Equal(t, review.CommitPhaseCommitted, cs.Status)
	assert.Equal(t, submitted.ID, cs.Change)
	assert.Equal(t, "bob", cs.Committer)
	assert.NotZero(t, cs.Start)
	assert.NotZero(t, cs.End)
	assert.Empty(t, cs.Error)

	// the committer pressed the button but the author gets the credit
	committed, err := f.conn.FetchChange(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", committed.User)

	// the submit trigger reconciles the review
	reviews, err = f.svc.ProcessChange(ctx, f.conn, submitted.ID)
	require.NoError(t, err)
	r = reviews[0]
	assert.False(t, r.Pending)
	assert.True(t, r.CommitStatus.IsEmpty(), "the breadcrumb clears once the commit landed")
	require.Len(t, r.Versions, 2)
	assert.Equal(t, submitted.ID, r.Versions[1].Change)
	assert.False(t, r.Versions[1].Pending)
	assert.Empty(t, f.conn.Shelf(r.ID), "the canonical shelf is discarded after submit")

	// a redelivered submit trigger is a no-op
	reviews, err = f.svc.ProcessChange(ctx, f.conn, submitted.ID)
	require.NoError(t, err)
	assert.Len(t, reviews[0].Versions, 2)
	f.balanced(t)
}

func TestCommitRenumbered(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()
	ctx := context.Background()

	f.conn.SetRenumberOnSubmit(true)
	origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//depot/main/a.go", "aaa"))
	reviews, err := f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r := reviews[0]

	submitted, err := f.svc.Commit(ctx, f.conn, r, review.CommitOptions{Committer: "alice"})
	require.NoError(t, err)
	require.NotZero(t, submitted.Origin())
	assert.NotEqual(t, submitted.Origin(), submitted.ID)

	assert.True(t, r.HasCommit(submitted.ID))
	assert.False(t, r.HasCommit(submitted.Origin()), "the pre-submit id is no commit")
	assert.True(t, r.HasChange(submitted.Origin()), "but stays associated for trigger matching")
	assert.Equal(t, submitted.ID, r.CommitStatus.Change)

	// the trigger for the renumbered change finds the review via its origin
	reviews, err = f.svc.ProcessChange(ctx, f.conn, submitted.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, r.ID, reviews[0].ID)
	assert.False(t, reviews[0].Pending)
	f.balanced(t)
}

func TestCommitNothingToCommit(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()
	ctx := context.Background()

	origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//depot/main/a.go", "aaa"))
	reviews, err := f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r := reviews[0]

	// the canonical shelf evaporated behind the engine's back
	require.NoError(t, f.conn.DeleteShelf(ctx, r.ID))

	_, err = f.svc.Commit(ctx, f.conn, r, review.CommitOptions{Committer: "bob"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no files to commit")

	// the half-created changelist is fully compensated
	abandoned := r.CommitStatus.Change
	require.NotZero(t, abandoned)
	assert.False(t, r.HasCommit(abandoned))
	assert.False(t, r.HasChange(abandoned))
	assert.NotEmpty(t, r.CommitStatus.Error)
	assert.NotZero(t, r.CommitStatus.End)
	_, err = f.conn.FetchChange(ctx, abandoned)
	require.Error(t, err, "the abandoned changelist is deleted from the backend")

	f.balanced(t)
	assert.Zero(t, f.conn.OpenedCount())
}

func TestCommitSubmitFailureRollsBack(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()
	ctx := context.Background()

	origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//depot/main/a.go", "aaa"))
	reviews, err := f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r := reviews[0]

	f.conn.FailOn("Submit", errs("submit refused"))
	_, err = f.svc.Commit(ctx, f.conn, r, review.CommitOptions{Committer: "bob"})
	require.Error(t, err)

	abandoned := r.CommitStatus.Change
	require.NotZero(t, abandoned)
	assert.False(t, r.HasCommit(abandoned))
	assert.Contains(t, r.CommitStatus.Error, "submit refused")
	_, err = f.conn.FetchChange(ctx, abandoned)
	require.Error(t, err)
	assert.Len(t, f.conn.Shelf(r.ID), 1, "the canonical shelf survives a failed commit")

	// a later commit succeeds once the backend recovers
	f.conn.ClearFail("Submit")
	loaded, err := f.repo.Load(ctx, r.ID)
	require.NoError(t, err)
	_, err = f.svc.Commit(ctx, f.conn, loaded, review.CommitOptions{Committer: "bob"})
	require.NoError(t, err)

	f.balanced(t)
	assert.Zero(t, f.conn.OpenedCount())
}

func TestCommitRefusedWhileInFlight(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()

	r := review.FromChange(review.ChangeSeed{ID: 1, User: "alice", Description: "x"})
	r.ID = 100
	r.Pending = true
	r.CommitStatus = review.CommitStatus{Start: 50, Change: 9, Committer: "bob", Status: review.CommitPhaseCommitting}

	_, err := f.svc.Commit(context.Background(), f.conn, r, review.CommitOptions{Committer: "carol"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in flight")
}

func TestCommitRefusedWhenNotPending(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()

	r := review.FromChange(review.ChangeSeed{ID: 1, User: "alice", Description: "x", Submitted: true})
	r.ID = 100

	_, err := f.svc.Commit(context.Background(), f.conn, r, review.CommitOptions{Committer: "bob"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no files to commit")
	assert.True(t, r.CommitStatus.IsEmpty(), "a precondition rejection leaves no breadcrumb")
}

func TestConcurrentProcessChangeSerializes(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()
	ctx := context.Background()

	origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//depot/main/a.go", "aaa"))
	_, err := f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)

	f.conn.ReplaceShelf(origin.ID, fileInfo("//depot/main/a.go", "bbb"))

	var wg sync.WaitGroup
	errc := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ProcessChange(ctx, f.conn, origin.ID)
			errc <- err
		}()
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		require.NoError(t, err)
	}

	// the lock serializes the racing triggers: the first records the new
	// content, the second sees identical content and records nothing
	reviews, err := f.repo.List(ctx, review.Criteria{Change: origin.ID})
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Len(t, reviews[0].Versions, 2)
	f.balanced(t)
}

func TestDelete(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()
	ctx := context.Background()

	origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//depot/main/a.go", "aaa"))
	reviews, err := f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r := reviews[0]
	archive := r.Versions[0].ArchiveChange
	require.NotZero(t, archive)

	require.NoError(t, f.svc.Delete(ctx, f.conn, r))

	_, err = f.repo.Load(ctx, r.ID)
	require.Error(t, err)
	_, err = f.conn.FetchChange(ctx, r.ID)
	require.Error(t, err, "the canonical changelist is removed")
	_, err = f.conn.FetchChange(ctx, archive)
	require.Error(t, err, "archive changelists are removed")
	_, err = f.conn.FetchChange(ctx, origin.ID)
	require.NoError(t, err, "the contributor's own changelist stays")
	f.balanced(t)
}

func TestStatusCallbacks(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()
	ctx := context.Background()

	origin := f.conn.AddShelvedChange("alice", "x", fileInfo("//depot/main/a.go", "aaa"))
	reviews, err := f.svc.ProcessChange(ctx, f.conn, origin.ID)
	require.NoError(t, err)
	r := reviews[0]

	err = f.svc.SetTestStatus(ctx, r, "nope", "pass", nil)
	require.Error(t, err, "a wrong token is rejected")

	err = f.svc.SetTestStatus(ctx, r, r.CallbackToken(), "pass", map[string]interface{}{"url": "https://ci/1"})
	require.NoError(t, err)
	loaded, err := f.repo.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "pass", loaded.TestStatus)

	err = f.svc.SetDeployStatus(ctx, loaded, loaded.Token, "success", nil)
	require.NoError(t, err)
	loaded, err = f.repo.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", loaded.DeployStatus)
}

func TestUpgradeAll(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()
	f := newEngineFixture()
	ctx := context.Background()

	f.repo.SeedRawRecord(42, []byte(`{
		"id": 42,
		"author": "alice",
		"state": "needsReview",
		"participants": ["alice", "bob"],
		"votes": {"bob": 1}
	}`))

	upgraded, err := f.svc.UpgradeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, upgraded)

	raw, ok := f.repo.RawRecord(42)
	require.True(t, ok)
	record := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, float64(review.CurrentUpgradeLevel), record["upgrade"])
	assert.NotContains(t, record, "votes")
}

// errs builds a plain error for failure injection.
func errs(msg string) error { return pkgerrors.New(msg) }
