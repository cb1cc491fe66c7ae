package review

// Vote is a participant's up or down vote on a specific review version.
// IsStale is derived from the version history on read and never stored.
type Vote struct {
	Value   int  `json:"value"`
	Version int  `json:"version"`
	IsStale bool `json:"-"`
}

// Valid reports whether the vote carries a legal value.
func (v Vote) Valid() bool {
	return v.Value == -1 || v.Value == 1
}

// Participant holds the per-user properties of a review participant. All
// properties are optional; an empty Participant still marks membership.
// Optional fields are pointers with omitempty so empty property maps prune
// themselves from the persisted form.
type Participant struct {
	Vote     *Vote `json:"vote,omitempty"`
	Required *bool `json:"required,omitempty"`
}

// Participants maps user ids to their participant properties. Keys serialize
// in sorted order (encoding/json sorts map keys), which keeps the persisted
// form deterministic.
type Participants map[string]Participant

// EnsureParticipant adds the user as a participant with empty properties if
// not already present.
func (r *Review) EnsureParticipant(user string) {
	if user == "" {
		return
	}
	if r.Participants == nil {
		r.Participants = Participants{}
	}
	if _, ok := r.Participants[user]; !ok {
		r.Participants[user] = Participant{}
	}
}

// AddVote records the user's vote against the current head version. Votes by
// the author or with out-of-range values are rejected by normalization, so
// this is a no-op for them.
func (r *Review) AddVote(user string, value int) {
	r.EnsureParticipant(user)
	p := r.Participants[user]
	p.Vote = &Vote{Value: value, Version: len(r.Versions)}
	r.Participants[user] = p
	r.Participants.normalize(r.Author)
}

// SetRequired marks whether the user's approval is required.
func (r *Review) SetRequired(user string, required bool) {
	r.EnsureParticipant(user)
	p := r.Participants[user]
	if required {
		p.Required = &required
	} else {
		p.Required = nil
	}
	r.Participants[user] = p
}

// normalize drops invalid votes: votes cast by the author and votes with
// out-of-range values.
func (p Participants) normalize(author string) {
	for user, props := range p {
		if props.Vote == nil {
			continue
		}
		if user == author || !props.Vote.Valid() {
			props.Vote = nil
			p[user] = props
		}
	}
}

// clone returns a deep copy of the participant map.
func (p Participants) clone() Participants {
	dup := make(Participants, len(p))
	for user, props := range p {
		if props.Vote != nil {
			vote := *props.Vote
			props.Vote = &vote
		}
		if props.Required != nil {
			required := *props.Required
			props.Required = &required
		}
		dup[user] = props
	}
	return dup
}

// VoteIsStale reports whether the vote predates a meaningful content change.
// Scanning versions after the voted-on one, the vote is stale if any has a
// significant difference, or if a difference field is missing or out of range
// (legacy records fail safe toward stale).
func (r *Review) VoteIsStale(v Vote) bool {
	from := v.Version
	if from < 0 {
		from = 0
	}
	for i := from; i < len(r.Versions); i++ {
		d := r.Versions[i].Difference
		if d == nil || *d < int(DifferNone) || *d > int(DifferInsignificant) {
			return true
		}
		if *d == int(DifferSignificant) {
			return true
		}
	}
	return false
}

// ParticipantsWithStaleness returns a copy of the participant map with each
// vote's IsStale field derived from the version history.
func (r *Review) ParticipantsWithStaleness() Participants {
	dup := r.Participants.clone()
	for user, props := range dup {
		if props.Vote != nil {
			props.Vote.IsStale = r.VoteIsStale(*props.Vote)
			dup[user] = props
		}
	}
	return dup
}
