package review

import (
	"context"
	"time"

	errs "github.com/pkg/errors"

	"github.com/stewartlord/swarm-sub002/errors"
	"github.com/stewartlord/swarm-sub002/log"
	"github.com/stewartlord/swarm-sub002/metric"
	"github.com/stewartlord/swarm-sub002/vcs"
)

// CreateFromChange creates a new review from an existing pending shelf or
// submitted changelist. It creates the review's canonical managed changelist,
// from whose id the review id derives, and persists the aggregate. Version
// history starts with the first update, not here.
func (s *Service) CreateFromChange(ctx context.Context, conn vcs.Connection, change *vcs.Change) (*Review, error) {
	start := time.Now()
	r, err := s.createFromChange(ctx, conn, change)
	metric.RecordOperation("create", start, err)
	return r, err
}

func (s *Service) createFromChange(ctx context.Context, conn vcs.Connection, change *vcs.Change) (*Review, error) {
	if change.IsPending() {
		remote, err := conn.IsRemoteEdgeShelf(ctx, change.ID)
		if err != nil {
			return nil, errs.Wrapf(err, "failed to inspect topology of change %d", change.ID)
		}
		if remote {
			return nil, errors.NewBadParameterError("change", change.ID).
				Expected("a promoted shelf or a submitted changelist")
		}
	}

	r := FromChange(ChangeSeed{
		ID:          change.ID,
		Origin:      change.Origin(),
		User:        change.User,
		Description: change.Description,
		Submitted:   change.IsSubmitted(),
	})

	canonical, err := conn.CreateChange(ctx, &vcs.Change{
		Description: change.Description,
		Type:        change.Type,
		User:        conn.User(),
		Client:      conn.Client(),
	})
	if err != nil {
		return nil, errs.Wrap(err, "failed to create the canonical changelist")
	}
	r.ID = canonical.ID
	r.EnsureToken()

	saved, err := s.repo.Save(ctx, r)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, map[string]interface{}{
		"review_id": saved.ID,
		"change":    change.ID,
		"author":    saved.Author,
	}, "review created from change")
	return saved, nil
}
