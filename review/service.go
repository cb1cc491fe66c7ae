package review

import (
	"context"

	errs "github.com/pkg/errors"

	"github.com/stewartlord/swarm-sub002/configuration"
	"github.com/stewartlord/swarm-sub002/errors"
	"github.com/stewartlord/swarm-sub002/lock"
	"github.com/stewartlord/swarm-sub002/log"
	"github.com/stewartlord/swarm-sub002/vcs"
)

// Options tune the engine's policy knobs.
type Options struct {
	// UnapproveModified reverts approved reviews to needs-review when a
	// significant content change arrives.
	UnapproveModified bool
	// CreditAuthor re-owns committed changelists to the review author when
	// somebody else pressed commit.
	CreditAuthor bool
	// IgnoredDiffFields lists the per-file metadata fields whose changes
	// alone classify as insignificant.
	IgnoredDiffFields []string
}

// DefaultOptions builds the engine options from the configuration.
func DefaultOptions() Options {
	return Options{
		UnapproveModified: configuration.IsUnapproveModifiedEnabled(),
		CreditAuthor:      configuration.IsCommitCreditAuthorEnabled(),
		IgnoredDiffFields: configuration.GetIgnoredDiffFields(),
	}
}

// Service is the review lifecycle engine. It owns all mutations of review
// aggregates and orchestrates them against the version-control backend under
// the advisory lock and workspace disciplines.
type Service struct {
	repo     Repository
	locker   lock.Locker
	ws       vcs.Workspace
	elevated vcs.Connection
	opts     Options
}

// NewService creates the lifecycle engine.
func NewService(repo Repository, locker lock.Locker, ws vcs.Workspace, opts Options) *Service {
	return &Service{repo: repo, locker: locker, ws: ws, opts: opts}
}

// WithElevatedConnection equips the engine with an elevated backend
// connection used only for the post-commit credit transfer. Without one the
// transfer is skipped.
func (s *Service) WithElevatedConnection(conn vcs.Connection) *Service {
	s.elevated = conn
	return s
}

// Repository exposes the engine's record store to read-only collaborators.
func (s *Service) Repository() Repository {
	return s.repo
}

// lockName keys the advisory lock on the changelist identity.
func lockName(change int) string {
	return "change-" + itoa(change)
}

// ProcessChange is the trigger entry point: activity on the given changelist
// (a new shelve, a commit, an explicit API call) funnels through here. It
// holds the changelist's advisory lock across the whole load-or-create,
// mutate, persist sequence, which serializes concurrently-arriving triggers
// and prevents duplicate reviews. It returns the affected reviews.
func (s *Service) ProcessChange(ctx context.Context, conn vcs.Connection, changeID int) ([]*Review, error) {
	ctx = log.ContextWithTrigger(ctx, changeID)

	var reviews []*Review
	err := lock.With(ctx, s.locker, lockName(changeID), func() error {
		// The engine's own shelving onto a canonical changelist fires triggers
		// too; those map back to the owning review instead of spawning a
		// review of the review.
		owner, err := s.repo.Load(ctx, changeID)
		if err == nil {
			log.Debug(ctx, map[string]interface{}{
				"review_id": owner.ID,
			}, "trigger on a canonical changelist, nothing to process")
			reviews = []*Review{owner}
			return nil
		}
		if _, ok := err.(errors.NotFoundError); !ok {
			return err
		}

		change, err := conn.FetchChange(ctx, changeID)
		if err != nil {
			return err
		}

		existing, err := s.repo.List(ctx, Criteria{Change: change.Origin()})
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			r, err := s.CreateFromChange(ctx, conn, change)
			if err != nil {
				return err
			}
			existing = []*Review{r}
		}

		for _, r := range existing {
			if _, err := s.UpdateFromChange(ctx, conn, r, change, s.opts.UnapproveModified); err != nil {
				return err
			}
		}
		reviews = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reviews, nil
}

// ProcessShelve handles a shelve trigger from the backend.
func (s *Service) ProcessShelve(ctx context.Context, conn vcs.Connection, changeID int) ([]*Review, error) {
	return s.ProcessChange(ctx, conn, changeID)
}

// ProcessCommit handles a submit trigger from the backend. Commits and
// shelves share the processing pipeline; UpdateFromChange branches on the
// changelist's status.
func (s *Service) ProcessCommit(ctx context.Context, conn vcs.Connection, changeID int) ([]*Review, error) {
	return s.ProcessChange(ctx, conn, changeID)
}

// SetState transitions the review to the given state and persists it.
func (s *Service) SetState(ctx context.Context, r *Review, state State) (*Delta, error) {
	if !state.Valid() {
		return nil, errors.NewBadParameterError("state", state).
			Expected("one of needsReview, needsRevision, approved, rejected, archived")
	}
	delta := r.beginDelta()
	r.State = state
	if _, err := s.repo.Save(ctx, r); err != nil {
		return nil, err
	}
	return delta.finish(r), nil
}

// AddVote records a participant's vote against the review's head version and
// persists it. Author votes are dropped by normalization.
func (s *Service) AddVote(ctx context.Context, r *Review, user string, value int) (*Delta, error) {
	if value != -1 && value != 1 {
		return nil, errors.NewBadParameterError("vote", value).Expected("-1 or 1")
	}
	delta := r.beginDelta()
	r.AddVote(user, value)
	if _, err := s.repo.Save(ctx, r); err != nil {
		return nil, err
	}
	return delta.finish(r), nil
}

// SetTestStatus records the outcome reported by an out-of-band test system.
// The callback must present the review's token.
func (s *Service) SetTestStatus(ctx context.Context, r *Review, token, status string, details map[string]interface{}) error {
	if !r.ValidToken(token) {
		return errors.NewBadParameterError("token", token)
	}
	r.TestStatus = status
	r.TestDetails = details
	_, err := s.repo.Save(ctx, r)
	return err
}

// SetDeployStatus records the outcome reported by an out-of-band deploy
// system. The callback must present the review's token.
func (s *Service) SetDeployStatus(ctx context.Context, r *Review, token, status string, details map[string]interface{}) error {
	if !r.ValidToken(token) {
		return errors.NewBadParameterError("token", token)
	}
	r.DeployStatus = status
	r.DeployDetails = details
	_, err := s.repo.Save(ctx, r)
	return err
}

// UpgradeAll sweeps every stored record through a load and save, forcing any
// outstanding schema upgrades to be persisted. Normal operation upgrades
// lazily on each record's next save; this is the explicit mass migration.
func (s *Service) UpgradeAll(ctx context.Context) (int, error) {
	reviews, err := s.repo.List(ctx, Criteria{})
	if err != nil {
		return 0, err
	}
	upgraded := 0
	for _, r := range reviews {
		if _, err := s.repo.Save(ctx, r); err != nil {
			return upgraded, errs.Wrapf(err, "failed to upgrade review %d", r.ID)
		}
		upgraded++
	}
	return upgraded, nil
}

// classifier builds a diff classifier bound to the given connection.
func (s *Service) classifier(conn vcs.Connection) *classifier {
	return &classifier{conn: conn, ignored: s.opts.IgnoredDiffFields}
}
