package vcs

import (
	"context"

	errs "github.com/pkg/errors"
)

// Workspace is the single shared, stateful client context needed to shelve,
// unshelve and submit files. It must be exclusively acquired before any
// operation that mutates shelved files and released unconditionally
// afterwards. Acquisition is not reentrant.
type Workspace interface {
	// Acquire blocks until the workspace is exclusively held or the context
	// is done.
	Acquire(ctx context.Context) error
	// Release gives the workspace back. It must be called exactly once per
	// successful Acquire.
	Release()
}

// WithWorkspace acquires the workspace, runs fn and releases the workspace on
// every exit path. A captured error from fn is re-raised only after the
// release has happened.
func WithWorkspace(ctx context.Context, ws Workspace, fn func() error) error {
	if err := ws.Acquire(ctx); err != nil {
		return errs.Wrap(err, "failed to acquire the workspace")
	}
	defer ws.Release()
	return fn()
}

// ExclusiveWorkspace implements Workspace with a single in-process slot. It
// serializes all shelf-mutating operations that share one backend client.
type ExclusiveWorkspace struct {
	slot chan struct{}
}

var _ Workspace = (*ExclusiveWorkspace)(nil)

// NewExclusiveWorkspace creates a released single-slot workspace.
func NewExclusiveWorkspace() *ExclusiveWorkspace {
	ws := &ExclusiveWorkspace{slot: make(chan struct{}, 1)}
	ws.slot <- struct{}{}
	return ws
}

// Acquire takes the slot or fails with the context's error.
func (ws *ExclusiveWorkspace) Acquire(ctx context.Context) error {
	select {
	case <-ws.slot:
		return nil
	case <-ctx.Done():
		return errs.Wrap(ctx.Err(), "gave up waiting for the workspace")
	}
}

// Release gives the slot back.
func (ws *ExclusiveWorkspace) Release() {
	select {
	case ws.slot <- struct{}{}:
	default:
		panic("workspace released while not held")
	}
}
