// Package vcstest provides an in-memory implementation of the vcs contract
// for tests: a fake depot with changelists, shelves and a single workspace,
// plus per-operation failure injection.
package vcstest

import (
	"context"
	"strconv"
	"sync"

	errs "github.com/pkg/errors"

	"github.com/stewartlord/swarm-sub002/errors"
	"github.com/stewartlord/swarm-sub002/vcs"
)

type openedFile struct {
	file   vcs.FileInfo
	change int
}

// FakeConnection implements vcs.Connection against an in-memory depot.
type FakeConnection struct {
	mu sync.Mutex

	user   string
	client string

	nextID    int
	changes   map[int]*vcs.Change
	shelves   map[int][]vcs.FileInfo
	submitted map[int][]vcs.FileInfo
	opened    []openedFile

	streams       map[string]string
	depths        map[string]int
	remoteEdge    map[int]bool
	cleanDigests  map[string]string
	exclusiveHeld map[int]bool

	bypassSupported  bool
	renumberOnSubmit bool
	currentStream    string

	failures map[string]error
}

// NewFakeConnection creates a fake depot acting as the given user bound to
// the given workspace.
func NewFakeConnection(user, client string) *FakeConnection {
	return &FakeConnection{
		user:            user,
		client:          client,
		nextID:          1,
		changes:         map[int]*vcs.Change{},
		shelves:         map[int][]vcs.FileInfo{},
		submitted:       map[int][]vcs.FileInfo{},
		streams:         map[string]string{},
		depths:          map[string]int{},
		remoteEdge:      map[int]bool{},
		cleanDigests:    map[string]string{},
		exclusiveHeld:   map[int]bool{},
		bypassSupported: true,
		failures:        map[string]error{},
	}
}

var _ vcs.Connection = (*FakeConnection)(nil)

//-------------------
// test setup helpers
//-------------------

// FailOn makes every subsequent call of the named operation return the given
// error until ClearFail is called.
func (f *FakeConnection) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// ClearFail removes the failure injection for the named operation.
func (f *FakeConnection) ClearFail(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, op)
}

// SetBypassSupported controls whether the backend claims to honor the
// bypass-exclusive flag on unshelve.
func (f *FakeConnection) SetBypassSupported(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bypassSupported = ok
}

// SetRenumberOnSubmit makes submits assign a fresh id to the committed
// changelist.
func (f *FakeConnection) SetRenumberOnSubmit(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renumberOnSubmit = ok
}

// SetClientStream records the stream a workspace is switched to.
func (f *FakeConnection) SetClientStream(client, stream string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[client] = stream
}

// SetStreamDepth records the stream depth of a depot.
func (f *FakeConnection) SetStreamDepth(depot string, depth int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.depths[depot] = depth
}

// SetRemoteEdge marks a changelist as an unpromoted remote-edge shelf.
func (f *FakeConnection) SetRemoteEdge(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteEdge[id] = true
}

// SetCleanDigest records the keyword-suppressed digest of a depot file.
func (f *FakeConnection) SetCleanDigest(depotFile, digest string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanDigests[depotFile] = digest
}

// SetExclusiveConflict makes unshelves out of the given shelf conflict with
// exclusively opened files unless the bypass flag is used.
func (f *FakeConnection) SetExclusiveConflict(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exclusiveHeld[id] = true
}

// AddShelvedChange creates a pending changelist owned by the given user with
// the given files already shelved in it.
func (f *FakeConnection) AddShelvedChange(user, description string, files ...vcs.FileInfo) *vcs.Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	change := &vcs.Change{
		ID:          f.nextID,
		Status:      vcs.StatusPending,
		Description: description,
		User:        user,
		Client:      user + "-ws",
		Type:        vcs.TypePublic,
	}
	f.nextID++
	f.changes[change.ID] = change
	f.shelves[change.ID] = copyFiles(files)
	return copyChange(change)
}

// AddSubmittedChange creates a submitted changelist owned by the given user
// containing the given files.
func (f *FakeConnection) AddSubmittedChange(user, description string, files ...vcs.FileInfo) *vcs.Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	change := &vcs.Change{
		ID:          f.nextID,
		Status:      vcs.StatusSubmitted,
		Description: description,
		User:        user,
		Client:      user + "-ws",
		Type:        vcs.TypePublic,
	}
	f.nextID++
	f.changes[change.ID] = change
	f.submitted[change.ID] = copyFiles(files)
	return copyChange(change)
}

// ReplaceShelf overwrites the shelved files of a changelist, simulating the
// owner shelving new content.
func (f *FakeConnection) ReplaceShelf(id int, files ...vcs.FileInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shelves[id] = copyFiles(files)
}

// Shelf returns a copy of the files currently shelved in a changelist.
func (f *FakeConnection) Shelf(id int) []vcs.FileInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyFiles(f.shelves[id])
}

// OpenedCount returns how many files are currently open in the workspace.
func (f *FakeConnection) OpenedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

// CurrentStream returns the stream the workspace was last reset to.
func (f *FakeConnection) CurrentStream() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentStream
}

func (f *FakeConnection) fail(op string) error {
	if err, ok := f.failures[op]; ok {
		return err
	}
	return nil
}

//-----------------------
// vcs.Connection methods
//-----------------------

// User implements vcs.Connection
func (f *FakeConnection) User() string { return f.user }

// Client implements vcs.Connection
func (f *FakeConnection) Client() string { return f.client }

// FetchChange implements vcs.Connection
func (f *FakeConnection) FetchChange(ctx context.Context, id int) (*vcs.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FetchChange"); err != nil {
		return nil, err
	}
	change, ok := f.changes[id]
	if !ok {
		return nil, errors.NewNotFoundError("change", itoa(id))
	}
	return copyChange(change), nil
}

// CreateChange implements vcs.Connection
func (f *FakeConnection) CreateChange(ctx context.Context, change *vcs.Change) (*vcs.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateChange"); err != nil {
		return nil, err
	}
	created := copyChange(change)
	created.ID = f.nextID
	created.Status = vcs.StatusPending
	if created.User == "" {
		created.User = f.user
	}
	if created.Client == "" {
		created.Client = f.client
	}
	f.nextID++
	f.changes[created.ID] = copyChange(created)
	return created, nil
}

// SaveChange implements vcs.Connection
func (f *FakeConnection) SaveChange(ctx context.Context, change *vcs.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SaveChange"); err != nil {
		return err
	}
	stored, ok := f.changes[change.ID]
	if !ok {
		return errors.NewNotFoundError("change", itoa(change.ID))
	}
	stored.Description = change.Description
	stored.Type = change.Type
	stored.Jobs = append([]string(nil), change.Jobs...)
	stored.FixStatus = change.FixStatus
	stored.User = change.User
	stored.Client = change.Client
	stored.Stream = change.Stream
	return nil
}

// DeleteChange implements vcs.Connection
func (f *FakeConnection) DeleteChange(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteChange"); err != nil {
		return err
	}
	if _, ok := f.changes[id]; !ok {
		return errors.NewNotFoundError("change", itoa(id))
	}
	if len(f.shelves[id]) > 0 {
		return errs.Errorf("change %d has shelved files and cannot be deleted", id)
	}
	for _, o := range f.opened {
		if o.change == id {
			return errs.Errorf("change %d has open files and cannot be deleted", id)
		}
	}
	delete(f.changes, id)
	return nil
}

// Submit implements vcs.Connection
func (f *FakeConnection) Submit(ctx context.Context, id int) (*vcs.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Submit"); err != nil {
		return nil, err
	}
	change, ok := f.changes[id]
	if !ok {
		return nil, errors.NewNotFoundError("change", itoa(id))
	}
	if !change.IsPending() {
		return nil, errs.Errorf("change %d is already submitted", id)
	}
	var files []vcs.FileInfo
	var remaining []openedFile
	for _, o := range f.opened {
		if o.change == id {
			files = append(files, o.file)
		} else {
			remaining = append(remaining, o)
		}
	}
	if len(files) == 0 {
		return nil, errs.Errorf("no files to submit in change %d", id)
	}
	f.opened = remaining

	finalID := id
	if f.renumberOnSubmit {
		finalID = f.nextID
		f.nextID++
		delete(f.changes, id)
		change.OriginID = id
	}
	change.ID = finalID
	change.Status = vcs.StatusSubmitted
	f.changes[finalID] = change
	f.submitted[finalID] = copyFiles(files)
	return copyChange(change), nil
}

// Shelve implements vcs.Connection
func (f *FakeConnection) Shelve(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Shelve"); err != nil {
		return err
	}
	if _, ok := f.changes[id]; !ok {
		return errors.NewNotFoundError("change", itoa(id))
	}
	var files []vcs.FileInfo
	for _, o := range f.opened {
		if o.change == id {
			files = append(files, o.file)
		}
	}
	f.shelves[id] = copyFiles(files)
	return nil
}

// DeleteShelf implements vcs.Connection
func (f *FakeConnection) DeleteShelf(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteShelf"); err != nil {
		return err
	}
	if len(f.shelves[id]) == 0 {
		return vcs.ErrNoShelvedFiles
	}
	delete(f.shelves, id)
	return nil
}

// Unshelve implements vcs.Connection
func (f *FakeConnection) Unshelve(ctx context.Context, from, to int, bypassExclusive bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Unshelve"); err != nil {
		return 0, err
	}
	if f.exclusiveHeld[from] && !bypassExclusive {
		return 0, vcs.ErrExclusiveFileConflict
	}
	shelf := f.shelves[from]
	for _, file := range shelf {
		f.openFile(file, to)
	}
	return len(shelf), nil
}

// Reopen implements vcs.Connection
func (f *FakeConnection) Reopen(ctx context.Context, to int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Reopen"); err != nil {
		return err
	}
	for i := range f.opened {
		f.opened[i].change = to
	}
	return nil
}

// ResetWorkspace implements vcs.Connection
func (f *FakeConnection) ResetWorkspace(ctx context.Context, stream string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ResetWorkspace"); err != nil {
		return err
	}
	f.opened = nil
	if stream != "" {
		f.currentStream = stream
	}
	return nil
}

// Files implements vcs.Connection
func (f *FakeConnection) Files(ctx context.Context, id int, pendingResolve bool) ([]vcs.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Files"); err != nil {
		return nil, err
	}
	change, ok := f.changes[id]
	if !ok {
		return nil, errors.NewNotFoundError("change", itoa(id))
	}
	var files []vcs.FileInfo
	if change.IsPending() {
		files = copyFiles(f.shelves[id])
	} else {
		files = copyFiles(f.submitted[id])
	}
	// backends append changelist-level trailing records after the files
	files = append(files, vcs.FileInfo{Desc: change.Description})
	return files, nil
}

// Digest implements vcs.Connection
func (f *FakeConnection) Digest(ctx context.Context, depotFile string, id int, suppressKeywords bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Digest"); err != nil {
		return "", err
	}
	if suppressKeywords {
		if digest, ok := f.cleanDigests[depotFile]; ok {
			return digest, nil
		}
	}
	files := f.shelves[id]
	if len(files) == 0 {
		files = f.submitted[id]
	}
	for _, file := range files {
		if file.DepotFile == depotFile {
			return file.Digest, nil
		}
	}
	return "", errors.NewNotFoundError("file", depotFile)
}

// ClientStream implements vcs.Connection
func (f *FakeConnection) ClientStream(ctx context.Context, client string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ClientStream"); err != nil {
		return "", err
	}
	return f.streams[client], nil
}

// StreamDepth implements vcs.Connection
func (f *FakeConnection) StreamDepth(ctx context.Context, depot string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("StreamDepth"); err != nil {
		return 0, err
	}
	if depth, ok := f.depths[depot]; ok {
		return depth, nil
	}
	return 1, nil
}

// IsRemoteEdgeShelf implements vcs.Connection
func (f *FakeConnection) IsRemoteEdgeShelf(ctx context.Context, id int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("IsRemoteEdgeShelf"); err != nil {
		return false, err
	}
	return f.remoteEdge[id], nil
}

// SupportsBypassExclusive implements vcs.Connection
func (f *FakeConnection) SupportsBypassExclusive(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SupportsBypassExclusive"); err != nil {
		return false, err
	}
	return f.bypassSupported, nil
}

// openFile opens a file in the workspace under the given changelist,
// replacing any already-open revision of the same path.
func (f *FakeConnection) openFile(file vcs.FileInfo, change int) {
	for i, o := range f.opened {
		if o.file.DepotFile == file.DepotFile {
			f.opened[i] = openedFile{file: file, change: change}
			return
		}
	}
	f.opened = append(f.opened, openedFile{file: file, change: change})
}

func copyChange(c *vcs.Change) *vcs.Change {
	dup := *c
	dup.Jobs = append([]string(nil), c.Jobs...)
	return &dup
}

func copyFiles(files []vcs.FileInfo) []vcs.FileInfo {
	return append([]vcs.FileInfo(nil), files...)
}

func itoa(id int) string {
	return strconv.Itoa(id)
}
