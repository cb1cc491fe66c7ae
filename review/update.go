package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	errs "github.com/pkg/errors"

	"github.com/stewartlord/swarm-sub002/errors"
	"github.com/stewartlord/swarm-sub002/log"
	"github.com/stewartlord/swarm-sub002/metric"
	"github.com/stewartlord/swarm-sub002/vcs"
)

// UpdateFromChange incorporates new work from an incoming changelist (pending
// or submitted) into the review: association bookkeeping, diff
// classification, a new version entry with archival, and the pending flag.
// unapprove controls whether a significant change reverts an approved review
// back to needs-review. Callers must serialize updates per source changelist;
// ProcessChange does so via the advisory lock.
func (s *Service) UpdateFromChange(ctx context.Context, conn vcs.Connection, r *Review, incoming *vcs.Change, unapprove bool) (*Delta, error) {
	start := time.Now()
	delta, err := s.updateFromChange(ctx, conn, r, incoming, unapprove)
	metric.RecordOperation("update", start, err)
	return delta, err
}

func (s *Service) updateFromChange(ctx context.Context, conn vcs.Connection, r *Review, incoming *vcs.Change, unapprove bool) (*Delta, error) {
	ctx = log.ContextWithTrigger(ctx, incoming.ID)
	delta := r.beginDelta()

	canonical, err := conn.FetchChange(ctx, r.ID)
	if err != nil {
		return nil, errs.Wrapf(err, "failed to fetch the canonical changelist %d", r.ID)
	}
	if !canonical.IsPending() {
		return nil, errors.NewInternalError(
			fmt.Sprintf("canonical changelist %d of review %d is unexpectedly submitted", canonical.ID, r.ID))
	}

	// a commit we already recorded is a duplicate delivery; nothing to do
	if incoming.IsSubmitted() && r.hasCommittedVersion(incoming.ID, incoming.Origin()) {
		return delta.finish(r), nil
	}

	if incoming.IsSubmitted() {
		r.AddCommit(incoming.ID, incoming.Origin())
	} else {
		r.AddChange(incoming.ID)
	}
	r.EnsureParticipant(incoming.User)

	// leftover commit status is stale once no commit is in flight, or once
	// the in-flight commit is exactly the change that just arrived
	if !r.CommitStatus.InFlight() || r.CommitStatus.Change == incoming.Origin() {
		r.CommitStatus = CommitStatus{}
	}

	// the author's own changelist carries the authoritative description
	if incoming.User == r.Author && incoming.Description != r.Description {
		r.Description = incoming.Description
		delta.DescriptionChanged = true
	}

	stream, err := inferStream(ctx, conn, incoming)
	if err != nil {
		log.Warn(ctx, map[string]interface{}{
			"review_id": r.ID,
			"err":       err.Error(),
		}, "could not infer the stream context, continuing without")
		stream = ""
	}

	wsErr := vcs.WithWorkspace(ctx, s.ws, func() error {
		if err := conn.ResetWorkspace(ctx, stream); err != nil {
			return errs.Wrap(err, "failed to reset the workspace")
		}

		bypass, err := conn.SupportsBypassExclusive(ctx)
		if err != nil {
			bypass = false
		}

		// sync the canonical shelf's metadata to the incoming change's
		// context: workspace binding, visibility type, job attachments,
		// ownership
		canonical.Client = conn.Client()
		canonical.Type = incoming.Type
		canonical.Jobs = unionStrings(canonical.Jobs, incoming.Jobs)
		canonical.User = incoming.User
		canonical.Description = r.Description
		if err := conn.SaveChange(ctx, canonical); err != nil {
			return errs.Wrapf(err, "failed to sync the canonical changelist %d", canonical.ID)
		}

		// copy-on-write: a head version still pointing at the canonical shelf
		// without an archive snapshot would lose its content when the shelf
		// is overwritten below; snapshot it first (best effort)
		if head, ok := r.HeadVersion(); ok && head.Pending && head.Change == r.ID && head.ArchiveChange == 0 {
			if err := s.archiveHead(ctx, conn, r, canonical, bypass); err != nil {
				log.Warn(ctx, map[string]interface{}{
					"review_id": r.ID,
					"err":       err.Error(),
				}, "failed to snapshot the previous version before overwrite")
			}
		}

		severity, err := s.classifier(conn).Compare(ctx, canonical, incoming)
		if err != nil {
			return errs.Wrap(err, "failed to classify the changes")
		}

		if r.State == StateApproved && unapprove && severity == DifferSignificant {
			r.State = StateNeedsReview
		}

		now := time.Now().Unix()
		switch {
		case incoming.IsSubmitted():
			if err := conn.DeleteShelf(ctx, r.ID); err != nil && errs.Cause(err) != vcs.ErrNoShelvedFiles {
				return errs.Wrapf(err, "failed to delete the shelved files of change %d", r.ID)
			}
			d := int(severity)
			r.appendVersion(Version{
				Change:     incoming.ID,
				User:       incoming.User,
				Time:       now,
				Pending:    false,
				Stream:     stream,
				Difference: &d,
			})
			r.Pending = false

		case severity != DifferNone:
			opened, err := conn.Unshelve(ctx, incoming.ID, r.ID, bypass)
			if err != nil {
				return errs.Wrapf(err, "failed to unshelve change %d into the canonical changelist", incoming.ID)
			}
			if opened == 0 {
				return nil
			}
			if err := conn.Shelve(ctx, r.ID); err != nil {
				return errs.Wrapf(err, "failed to shelve the updated files of change %d", r.ID)
			}
			r.Pending = true
			d := int(severity)
			if err := s.archiveVersion(ctx, conn, r, canonical, Version{
				Change:     r.ID,
				User:       incoming.User,
				Time:       now,
				Pending:    true,
				Stream:     stream,
				Difference: &d,
			}); err != nil {
				log.Warn(ctx, map[string]interface{}{
					"review_id": r.ID,
					"err":       err.Error(),
				}, "failed to archive the new version snapshot")
			}
			if err := conn.ResetWorkspace(ctx, ""); err != nil {
				log.Warn(ctx, map[string]interface{}{
					"review_id": r.ID,
					"err":       err.Error(),
				}, "failed to clear the workspace after update")
			}

		default:
			// identical content, no version change
		}
		return nil
	})
	if wsErr != nil {
		return nil, wsErr
	}

	if _, err := s.repo.Save(ctx, r); err != nil {
		return nil, err
	}
	return delta.finish(r), nil
}

// inferStream derives the stream context of the incoming change: from the
// owner's workspace if it is a stream workspace, otherwise from the first
// file's depot path and the depot's stream depth. Callers treat failure as
// "no stream".
func inferStream(ctx context.Context, conn vcs.Connection, change *vcs.Change) (string, error) {
	stream, err := conn.ClientStream(ctx, change.Client)
	if err == nil && stream != "" {
		return stream, nil
	}
	if err != nil {
		log.Debug(ctx, map[string]interface{}{
			"client": change.Client,
			"err":    err.Error(),
		}, "workspace stream lookup failed, falling back to depot paths")
	}

	files, err := conn.Files(ctx, change.ID, change.IsPending())
	if err != nil {
		return "", errs.Wrapf(err, "failed to fetch the files of change %d", change.ID)
	}
	for _, f := range files {
		if f.IsChangeLevel() {
			continue
		}
		return streamFromPath(ctx, conn, f.DepotFile)
	}
	return "", nil
}

// streamFromPath cuts the stream prefix out of a depot path using the depot's
// stream depth, e.g. //stream-depot/main/dir/file with depth 1 yields
// //stream-depot/main.
func streamFromPath(ctx context.Context, conn vcs.Connection, depotFile string) (string, error) {
	trimmed := strings.TrimPrefix(depotFile, "//")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", errs.Errorf("depot path %q is too short to carry a stream", depotFile)
	}
	depth, err := conn.StreamDepth(ctx, parts[0])
	if err != nil {
		return "", errs.Wrapf(err, "failed to look up the stream depth of depot %q", parts[0])
	}
	if depth < 1 {
		depth = 1
	}
	if len(parts) < depth+1 {
		return "", errs.Errorf("depot path %q is shallower than stream depth %d", depotFile, depth)
	}
	return "//" + strings.Join(parts[:depth+1], "/"), nil
}

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	union := []string{}
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			union = append(union, s)
		}
	}
	if len(union) == 0 {
		return nil
	}
	return union
}
