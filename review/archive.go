package review

import (
	"context"

	errs "github.com/pkg/errors"

	"github.com/stewartlord/swarm-sub002/vcs"
)

// archiveChangeTemplate builds the pending changelist that will hold a
// version's archived shelf. Archives are owned by the engine's backend user so
// review participants cannot mutate history.
func archiveChangeTemplate(conn vcs.Connection, canonical *vcs.Change) *vcs.Change {
	return &vcs.Change{
		Description: canonical.Description,
		Type:        canonical.Type,
		User:        conn.User(),
		Client:      conn.Client(),
	}
}

// archiveVersion records a new version entry and snapshots its content into a
// dedicated archive shelf. The caller must have the version's files open in
// the workspace under the canonical changelist. The record is persisted before
// any files move: losing an archive shelf to a crash leaves a version without
// history, losing the record would leave an orphaned shelf nobody can find.
func (s *Service) archiveVersion(ctx context.Context, conn vcs.Connection, r *Review, canonical *vcs.Change, v Version) error {
	archive, err := conn.CreateChange(ctx, archiveChangeTemplate(conn, canonical))
	if err != nil {
		// record the version anyway; it just has no snapshot to show later
		r.appendVersion(v)
		if _, saveErr := s.repo.Save(ctx, r); saveErr != nil {
			return saveErr
		}
		return errs.Wrap(err, "failed to create the archive changelist")
	}

	v.ArchiveChange = archive.ID
	r.appendVersion(v)
	if _, err := s.repo.Save(ctx, r); err != nil {
		return err
	}

	if err := conn.Reopen(ctx, archive.ID); err != nil {
		return errs.Wrapf(err, "failed to move the open files to archive change %d", archive.ID)
	}
	if err := conn.Shelve(ctx, archive.ID); err != nil {
		return errs.Wrapf(err, "failed to shelve archive change %d", archive.ID)
	}
	return nil
}

// archiveHead retroactively snapshots the head version, which still points at
// the canonical shelf, into its own archive shelf. Called right before the
// canonical shelf is overwritten with newer content. Same persist-before-move
// ordering as archiveVersion.
func (s *Service) archiveHead(ctx context.Context, conn vcs.Connection, r *Review, canonical *vcs.Change, bypassExclusive bool) error {
	if len(r.Versions) == 0 {
		return nil
	}
	head := &r.Versions[len(r.Versions)-1]

	archive, err := conn.CreateChange(ctx, archiveChangeTemplate(conn, canonical))
	if err != nil {
		return errs.Wrap(err, "failed to create the archive changelist")
	}

	head.ArchiveChange = archive.ID
	if _, err := s.repo.Save(ctx, r); err != nil {
		return err
	}

	if _, err := conn.Unshelve(ctx, r.ID, archive.ID, bypassExclusive); err != nil {
		return errs.Wrapf(err, "failed to unshelve the canonical shelf into archive change %d", archive.ID)
	}
	if err := conn.Shelve(ctx, archive.ID); err != nil {
		return errs.Wrapf(err, "failed to shelve archive change %d", archive.ID)
	}
	// revert the files just copied, leaving the workspace clean on the
	// current stream
	if err := conn.ResetWorkspace(ctx, ""); err != nil {
		return errs.Wrap(err, "failed to clear the workspace after archiving")
	}
	return nil
}
