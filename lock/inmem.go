package lock

import (
	"context"
	"sync"

	errs "github.com/pkg/errors"
)

// ownerMap tracks which owner token currently holds each name for a locker
// instance.
type ownerMap struct {
	mu     *sync.Mutex
	tokens map[string]string
}

func newOwnerMap() ownerMap {
	return ownerMap{mu: &sync.Mutex{}, tokens: map[string]string{}}
}

func (m ownerMap) set(name, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[name] = token
}

func (m ownerMap) take(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[name]
	delete(m.tokens, name)
	return token, ok
}

// InMemoryLocker implements Locker with process-local mutexes. It serves
// single-process deployments and tests the same way InMemoryStorage sits next
// to the redis storage in other services.
type InMemoryLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewInMemoryLocker creates a process-local Locker.
func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{locks: map[string]chan struct{}{}}
}

var _ Locker = (*InMemoryLocker)(nil)

func (l *InMemoryLocker) slot(name string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.locks[name]
	if !ok {
		s = make(chan struct{}, 1)
		l.locks[name] = s
	}
	return s
}

// Lock blocks until the name is acquired or the context is done.
func (l *InMemoryLocker) Lock(ctx context.Context, name string) error {
	select {
	case l.slot(name) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errs.Wrapf(ctx.Err(), "gave up waiting for lock %q", name)
	}
}

// Unlock releases the name.
func (l *InMemoryLocker) Unlock(ctx context.Context, name string) error {
	select {
	case <-l.slot(name):
		return nil
	default:
		return errs.Errorf("lock %q is not held", name)
	}
}
