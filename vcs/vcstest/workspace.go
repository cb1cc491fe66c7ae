package vcstest

import (
	"context"
	"sync"

	"github.com/stewartlord/swarm-sub002/vcs"
)

// FakeWorkspace implements vcs.Workspace with a single in-process slot and
// counts acquisitions and releases, letting tests assert the workspace is
// released exactly once per acquire on every exit path.
type FakeWorkspace struct {
	mu       sync.Mutex
	slot     chan struct{}
	acquires int
	releases int
}

var _ vcs.Workspace = (*FakeWorkspace)(nil)

// NewFakeWorkspace creates a released fake workspace.
func NewFakeWorkspace() *FakeWorkspace {
	ws := &FakeWorkspace{slot: make(chan struct{}, 1)}
	ws.slot <- struct{}{}
	return ws
}

// Acquire takes the slot or fails with the context's error.
func (ws *FakeWorkspace) Acquire(ctx context.Context) error {
	select {
	case <-ws.slot:
		ws.mu.Lock()
		ws.acquires++
		ws.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release gives the slot back. Releasing a workspace that is not held panics,
// which surfaces double releases in tests.
func (ws *FakeWorkspace) Release() {
	ws.mu.Lock()
	ws.releases++
	ws.mu.Unlock()
	select {
	case ws.slot <- struct{}{}:
	default:
		panic("workspace released while not held")
	}
}

// Acquires returns how many times the workspace was acquired.
func (ws *FakeWorkspace) Acquires() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.acquires
}

// Releases returns how many times the workspace was released.
func (ws *FakeWorkspace) Releases() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.releases
}

// Held reports whether the workspace is currently acquired.
func (ws *FakeWorkspace) Held() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.acquires > ws.releases
}
