package vcs

import (
	"context"

	errs "github.com/pkg/errors"
)

// ErrNoShelvedFiles is returned when a shelf operation targets a changelist
// that holds no shelved files. Callers that merely want a shelf gone treat it
// as success.
var ErrNoShelvedFiles = errs.New("no shelved files in changelist")

// ErrExclusiveFileConflict is returned when an unshelve touches files opened
// exclusively elsewhere and the bypass flag was not (or could not be) used.
var ErrExclusiveFileConflict = errs.New("files are exclusively opened by another client")

// Connection executes commands against the version-control backend on behalf
// of one authenticated user bound to one workspace. Calls are synchronous and
// fallible; any call that mutates shelved files requires the caller to hold
// the Workspace resource.
type Connection interface {
	// User returns the authenticated user this connection acts as.
	User() string
	// Client returns the workspace this connection is bound to.
	Client() string

	// FetchChange loads a changelist by id.
	FetchChange(ctx context.Context, id int) (*Change, error)
	// CreateChange creates a new pending changelist from the given template
	// and returns it with its assigned id.
	CreateChange(ctx context.Context, change *Change) (*Change, error)
	// SaveChange persists mutable changelist fields (description, type, jobs,
	// fix status, owner, client).
	SaveChange(ctx context.Context, change *Change) error
	// DeleteChange deletes a pending changelist. It fails while the changelist
	// still holds shelved or open files.
	DeleteChange(ctx context.Context, id int) error
	// Submit commits the pending changelist and returns the submitted form,
	// which may carry a new id (with OriginID set to the pending one).
	Submit(ctx context.Context, id int) (*Change, error)

	// Shelve copies the workspace's files opened under the given changelist
	// into that changelist's shelf, replacing any previous shelf.
	Shelve(ctx context.Context, id int) error
	// DeleteShelf removes the shelved files of the given changelist. Returns
	// ErrNoShelvedFiles if there was nothing to delete.
	DeleteShelf(ctx context.Context, id int) error
	// Unshelve opens the files shelved in "from" into the workspace under the
	// pending changelist "to" and returns how many files were opened.
	// bypassExclusive asks the backend to ignore exclusive-open locks held
	// elsewhere; if the backend cannot, conflicting files yield
	// ErrExclusiveFileConflict.
	Unshelve(ctx context.Context, from, to int, bypassExclusive bool) (int, error)
	// Reopen moves all files currently open in the workspace to the given
	// pending changelist.
	Reopen(ctx context.Context, to int) error
	// ResetWorkspace reverts all open files and switches the workspace to the
	// given stream (empty stream keeps the current one), yielding a clean
	// baseline.
	ResetWorkspace(ctx context.Context, stream string) error

	// Files returns the per-file metadata of a changelist. For pending
	// changelists pendingResolve requests resolve-state evaluation against
	// head. Trailing changelist-level records may be included.
	Files(ctx context.Context, id int, pendingResolve bool) ([]FileInfo, error)
	// Digest returns the content digest of one file in the given changelist.
	// suppressKeywords computes the digest with keyword expansion disabled.
	Digest(ctx context.Context, depotFile string, id int, suppressKeywords bool) (string, error)

	// ClientStream returns the stream the given workspace is switched to, or
	// empty if it is not a stream workspace.
	ClientStream(ctx context.Context, client string) (string, error)
	// StreamDepth returns the stream depth configured on the given depot.
	StreamDepth(ctx context.Context, depot string) (int, error)
	// IsRemoteEdgeShelf reports whether the changelist is a shelf local to a
	// remote edge server that has not been promoted to the commit server.
	IsRemoteEdgeShelf(ctx context.Context, id int) (bool, error)
	// SupportsBypassExclusive reports whether the backend honors the
	// bypassExclusive flag on Unshelve.
	SupportsBypassExclusive(ctx context.Context) (bool, error)
}
