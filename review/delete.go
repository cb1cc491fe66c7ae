package review

import (
	"context"
	"time"

	errs "github.com/pkg/errors"

	"github.com/stewartlord/swarm-sub002/log"
	"github.com/stewartlord/swarm-sub002/metric"
	"github.com/stewartlord/swarm-sub002/vcs"
)

// Delete removes the review and the backend resources it owns: the canonical
// changelist with its shelf and every archive changelist the version history
// references. Submitted changelists are history and stay. Backend cleanup is
// best effort; the record itself is only removed once the canonical
// changelist is gone, so a failed delete can be retried.
func (s *Service) Delete(ctx context.Context, conn vcs.Connection, r *Review) error {
	start := time.Now()
	err := s.delete(ctx, conn, r)
	metric.RecordOperation("delete", start, err)
	return err
}

func (s *Service) delete(ctx context.Context, conn vcs.Connection, r *Review) error {
	wsErr := vcs.WithWorkspace(ctx, s.ws, func() error {
		if err := conn.DeleteShelf(ctx, r.ID); err != nil && errs.Cause(err) != vcs.ErrNoShelvedFiles {
			return errs.Wrapf(err, "failed to delete the canonical shelf of review %d", r.ID)
		}
		if err := conn.DeleteChange(ctx, r.ID); err != nil {
			return errs.Wrapf(err, "failed to delete the canonical changelist %d", r.ID)
		}

		for _, v := range r.Versions {
			if v.ArchiveChange == 0 {
				continue
			}
			if err := conn.DeleteShelf(ctx, v.ArchiveChange); err != nil && errs.Cause(err) != vcs.ErrNoShelvedFiles {
				log.Warn(ctx, map[string]interface{}{
					"review_id": r.ID,
					"change":    v.ArchiveChange,
					"err":       err.Error(),
				}, "failed to delete an archive shelf")
				continue
			}
			if err := conn.DeleteChange(ctx, v.ArchiveChange); err != nil {
				log.Warn(ctx, map[string]interface{}{
					"review_id": r.ID,
					"change":    v.ArchiveChange,
					"err":       err.Error(),
				}, "failed to delete an archive changelist")
			}
		}
		return nil
	})
	if wsErr != nil {
		return wsErr
	}

	if err := s.repo.Delete(ctx, r.ID); err != nil {
		return err
	}
	log.Info(ctx, map[string]interface{}{"review_id": r.ID}, "review deleted")
	return nil
}
