package review_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewartlord/swarm-sub002/resource"
	"github.com/stewartlord/swarm-sub002/review"
)

func intPtr(v int) *int { return &v }

func reviewWithVersions(differences ...*int) *review.Review {
	r := review.FromChange(review.ChangeSeed{ID: 1, User: "alice", Description: "x"})
	r.ID = 100
	for _, d := range differences {
		r.Versions = append(r.Versions, review.Version{Change: 100, User: "alice", Pending: true, Difference: d})
	}
	return r
}

func TestVoteIsStale(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()

	t.Run("current vote is fresh", func(t *testing.T) {
		r := reviewWithVersions(intPtr(1), intPtr(1))
		assert.False(t, r.VoteIsStale(review.Vote{Value: 1, Version: 2}))
	})
	t.Run("significant later version makes it stale", func(t *testing.T) {
		r := reviewWithVersions(intPtr(1), intPtr(1))
		assert.True(t, r.VoteIsStale(review.Vote{Value: 1, Version: 1}))
	})
	t.Run("insignificant later versions keep it fresh", func(t *testing.T) {
		r := reviewWithVersions(intPtr(1), intPtr(2), intPtr(0))
		assert.False(t, r.VoteIsStale(review.Vote{Value: 1, Version: 1}))
	})
	t.Run("missing difference fails safe toward stale", func(t *testing.T) {
		r := reviewWithVersions(intPtr(1), nil)
		assert.True(t, r.VoteIsStale(review.Vote{Value: 1, Version: 1}))
	})
	t.Run("out of range difference fails safe toward stale", func(t *testing.T) {
		r := reviewWithVersions(intPtr(1), intPtr(9))
		assert.True(t, r.VoteIsStale(review.Vote{Value: 1, Version: 1}))
	})
	t.Run("negative vote version scans everything", func(t *testing.T) {
		r := reviewWithVersions(intPtr(2))
		assert.False(t, r.VoteIsStale(review.Vote{Value: 1, Version: -5}))
	})
}

func TestAddVote(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()

	t.Run("records value and head version", func(t *testing.T) {
		r := reviewWithVersions(intPtr(1), intPtr(1))
		r.AddVote("bob", 1)
		require.Contains(t, r.Participants, "bob")
		require.NotNil(t, r.Participants["bob"].Vote)
		assert.Equal(t, 1, r.Participants["bob"].Vote.Value)
		assert.Equal(t, 2, r.Participants["bob"].Vote.Version)
	})
	t.Run("author votes are dropped", func(t *testing.T) {
		r := reviewWithVersions(intPtr(1))
		r.AddVote("alice", 1)
		require.Contains(t, r.Participants, "alice")
		assert.Nil(t, r.Participants["alice"].Vote)
	})
	t.Run("out of range values are dropped", func(t *testing.T) {
		r := reviewWithVersions(intPtr(1))
		r.AddVote("bob", 3)
		require.Contains(t, r.Participants, "bob")
		assert.Nil(t, r.Participants["bob"].Vote)
	})
}

func TestParticipantsWithStaleness(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()

	r := reviewWithVersions(intPtr(1))
	r.AddVote("bob", 1)
	r.Versions = append(r.Versions, review.Version{Change: 100, Pending: true, Difference: intPtr(1)})

	derived := r.ParticipantsWithStaleness()
	require.NotNil(t, derived["bob"].Vote)
	assert.True(t, derived["bob"].Vote.IsStale)
	// derivation never touches the stored map
	assert.False(t, r.Participants["bob"].Vote.IsStale)
}

func TestSetRequired(t *testing.T) {
	resource.Require(t, resource.UnitTest)
	t.Parallel()

	r := reviewWithVersions()
	r.SetRequired("bob", true)
	require.Contains(t, r.Participants, "bob")
	require.NotNil(t, r.Participants["bob"].Required)
	assert.True(t, *r.Participants["bob"].Required)

	r.SetRequired("bob", false)
	assert.Nil(t, r.Participants["bob"].Required)
}
