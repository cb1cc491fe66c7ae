package review

import (
	"context"
	"strings"
	"time"

	errs "github.com/pkg/errors"

	"github.com/stewartlord/swarm-sub002/errors"
	"github.com/stewartlord/swarm-sub002/log"
	"github.com/stewartlord/swarm-sub002/metric"
	"github.com/stewartlord/swarm-sub002/vcs"
)

// CommitOptions parameterize a commit of the review's canonical content.
type CommitOptions struct {
	// Committer is the user who requested the commit.
	Committer string
	// Description overrides the review description on the submitted
	// changelist. Empty means use the review description.
	Description string
	// Jobs are attached to the submitted changelist.
	Jobs []string
	// FixStatus is the job status applied on submit.
	FixStatus string
}

// Commit submits the review's canonical shelved content as a new changelist.
// Progress breadcrumbs are persisted at every phase boundary so a crash
// mid-commit is visible and diagnosable from the record alone. On failure all
// partial effects are compensated: the half-created changelist is removed
// from the review and deleted from the backend, and the failure is recorded
// on the commit status. The submitted changelist is recorded on the review;
// the version entry follows with the submit trigger's regular update.
func (s *Service) Commit(ctx context.Context, conn vcs.Connection, r *Review, opts CommitOptions) (*vcs.Change, error) {
	start := time.Now()
	change, err := s.commit(ctx, conn, r, opts)
	metric.RecordOperation("commit", start, err)
	return change, err
}

func (s *Service) commit(ctx context.Context, conn vcs.Connection, r *Review, opts CommitOptions) (*vcs.Change, error) {
	if r.CommitStatus.InFlight() {
		return nil, errors.NewConflictError("review", "a commit is already in flight")
	}
	if !r.Pending {
		// rejected before the start breadcrumb: no backend state was touched,
		// so the commit status stays clean
		return nil, errors.NewConflictError("review", "there are no files to commit")
	}

	r.CommitStatus = CommitStatus{
		Start:     time.Now().Unix(),
		Committer: opts.Committer,
	}
	if _, err := s.repo.Save(ctx, r); err != nil {
		return nil, err
	}

	description := opts.Description
	if description == "" {
		description = r.Description
	}

	var submitted *vcs.Change
	wsErr := vcs.WithWorkspace(ctx, s.ws, func() error {
		if err := conn.ResetWorkspace(ctx, r.InferredStream()); err != nil {
			return errs.Wrap(err, "failed to reset the workspace")
		}

		canonical, err := conn.FetchChange(ctx, r.ID)
		if err != nil {
			return errs.Wrapf(err, "failed to fetch the canonical changelist %d", r.ID)
		}

		sub, err := conn.CreateChange(ctx, &vcs.Change{
			Description: description,
			Type:        canonical.Type,
			User:        conn.User(),
			Client:      conn.Client(),
			Jobs:        opts.Jobs,
			FixStatus:   opts.FixStatus,
		})
		if err != nil {
			return s.failCommit(ctx, conn, r, 0, errs.Wrap(err, "failed to create the changelist to submit"))
		}

		r.CommitStatus.Change = sub.ID
		r.CommitStatus.Status = CommitPhaseUnshelving
		if _, err := s.repo.Save(ctx, r); err != nil {
			return s.failCommit(ctx, conn, r, sub.ID, err)
		}

		bypass, err := conn.SupportsBypassExclusive(ctx)
		if err != nil {
			bypass = false
		}

		opened, err := conn.Unshelve(ctx, r.ID, sub.ID, bypass)
		if err != nil {
			return s.failCommit(ctx, conn, r, sub.ID,
				errs.Wrapf(err, "failed to unshelve the canonical shelf into change %d", sub.ID))
		}
		if opened == 0 {
			return s.failCommit(ctx, conn, r, sub.ID,
				errors.NewConflictError("review", "there are no files to commit"))
		}

		r.AddCommit(sub.ID, sub.ID)
		r.CommitStatus.Status = CommitPhaseCommitting
		if _, err := s.repo.Save(ctx, r); err != nil {
			return s.failCommit(ctx, conn, r, sub.ID, err)
		}

		submitted, err = conn.Submit(ctx, sub.ID)
		if err != nil {
			return s.failCommit(ctx, conn, r, sub.ID,
				errs.Wrapf(err, "failed to submit change %d", sub.ID))
		}

		if submitted.ID != sub.ID {
			// the backend renumbered on submit; keep the pre-submit id as an
			// associated change so redelivered triggers still match
			r.RemoveCommit(sub.ID)
			r.AddCommit(submitted.ID, sub.ID)
		}
		r.CommitStatus.Change = submitted.ID
		r.CommitStatus.End = time.Now().Unix()
		r.CommitStatus.Status = CommitPhaseCommitted
		if _, err := s.repo.Save(ctx, r); err != nil {
			return err
		}
		return nil
	})
	if wsErr != nil {
		return nil, wsErr
	}

	s.creditAuthor(ctx, r, submitted)

	log.Info(ctx, map[string]interface{}{
		"review_id": r.ID,
		"change":    submitted.ID,
		"committer": opts.Committer,
	}, "review committed")
	return submitted, nil
}

// failCommit compensates a failed commit attempt while the workspace is still
// held: the half-created changelist leaves the review's bookkeeping and the
// backend, the workspace is cleaned, and the cause lands on the commit status
// record. Returns the original error.
func (s *Service) failCommit(ctx context.Context, conn vcs.Connection, r *Review, subID int, cause error) error {
	if subID != 0 {
		r.RemoveCommit(subID)
	}
	r.CommitStatus.End = time.Now().Unix()
	r.CommitStatus.Error = firstLine(cause.Error())
	if _, err := s.repo.Save(ctx, r); err != nil {
		log.Error(ctx, map[string]interface{}{
			"review_id": r.ID,
			"err":       err.Error(),
		}, "failed to record the commit failure")
	}

	if err := conn.ResetWorkspace(ctx, ""); err != nil {
		log.Warn(ctx, map[string]interface{}{
			"review_id": r.ID,
			"err":       err.Error(),
		}, "failed to clean the workspace after a failed commit")
	}
	if subID != 0 {
		if err := conn.DeleteShelf(ctx, subID); err != nil && errs.Cause(err) != vcs.ErrNoShelvedFiles {
			log.Warn(ctx, map[string]interface{}{
				"review_id": r.ID,
				"change":    subID,
				"err":       err.Error(),
			}, "failed to delete the shelf of the abandoned changelist")
		}
		if err := conn.DeleteChange(ctx, subID); err != nil {
			log.Warn(ctx, map[string]interface{}{
				"review_id": r.ID,
				"change":    subID,
				"err":       err.Error(),
			}, "failed to delete the abandoned changelist")
		}
	}
	return cause
}

// creditAuthor re-owns the submitted changelist to the review author when the
// committer is somebody else. Best effort over the elevated connection; the
// commit itself has already succeeded.
func (s *Service) creditAuthor(ctx context.Context, r *Review, submitted *vcs.Change) {
	if !s.opts.CreditAuthor || s.elevated == nil || submitted == nil {
		return
	}
	if submitted.User == r.Author {
		return
	}
	change, err := s.elevated.FetchChange(ctx, submitted.ID)
	if err == nil {
		change.User = r.Author
		err = s.elevated.SaveChange(ctx, change)
	}
	if err != nil {
		log.Warn(ctx, map[string]interface{}{
			"review_id": r.ID,
			"change":    submitted.ID,
			"author":    r.Author,
			"err":       err.Error(),
		}, "failed to credit the review author on the submitted change")
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
