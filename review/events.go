package review

// Delta captures what an engine operation changed about a review, in enough
// structure for external listeners (notifications, activity feeds) to act on.
// Building those notifications is not the engine's concern.
type Delta struct {
	OldState           State
	NewState           State
	OldParticipants    Participants
	NewParticipants    Participants
	DescriptionChanged bool
}

// beginDelta snapshots the review's observable state before a mutation.
func (r *Review) beginDelta() *Delta {
	return &Delta{
		OldState:        r.State,
		OldParticipants: r.Participants.clone(),
	}
}

// finish completes the delta with the review's state after the mutation.
func (d *Delta) finish(r *Review) *Delta {
	d.NewState = r.State
	d.NewParticipants = r.Participants.clone()
	return d
}

// StateChanged reports whether the operation moved the review to a different
// state.
func (d *Delta) StateChanged() bool {
	return d.OldState != d.NewState
}

// VoteChange describes one user's vote before and after the operation.
type VoteChange struct {
	Old *Vote
	New *Vote
}

// VoteDelta returns the votes that were added, removed or changed, keyed by
// user.
func (d *Delta) VoteDelta() map[string]VoteChange {
	changes := map[string]VoteChange{}
	for user, props := range d.NewParticipants {
		old := d.OldParticipants[user]
		if !votesEqual(old.Vote, props.Vote) {
			changes[user] = VoteChange{Old: old.Vote, New: props.Vote}
		}
	}
	for user, props := range d.OldParticipants {
		if _, ok := d.NewParticipants[user]; !ok && props.Vote != nil {
			changes[user] = VoteChange{Old: props.Vote}
		}
	}
	return changes
}

func votesEqual(a, b *Vote) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Value == b.Value && a.Version == b.Version
}
