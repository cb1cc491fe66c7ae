// Package lock provides the named advisory locks that serialize review
// processing per changelist. Locks are blocking and not reentrant: a holder
// that locks the same name twice deadlocks against itself.
package lock

import (
	"context"

	errs "github.com/pkg/errors"

	"github.com/stewartlord/swarm-sub002/log"
)

// Locker is a named, server-backed mutex. Lock blocks until the name is
// acquired or the context is done; Unlock releases it.
type Locker interface {
	Lock(ctx context.Context, name string) error
	Unlock(ctx context.Context, name string) error
}

// With acquires the named lock, runs fn and releases the lock on every exit
// path. The error returned by fn is never masked by an unlock failure; unlock
// failures are logged and discarded if fn already failed.
func With(ctx context.Context, locker Locker, name string, fn func() error) error {
	if err := locker.Lock(ctx, name); err != nil {
		return errs.Wrapf(err, "failed to acquire lock %q", name)
	}
	fnErr := fn()
	if err := locker.Unlock(ctx, name); err != nil {
		if fnErr != nil {
			log.Error(ctx, map[string]interface{}{
				"lock": name,
				"err":  err,
			}, "failed to release lock after operation error")
			return fnErr
		}
		return errs.Wrapf(err, "failed to release lock %q", name)
	}
	return fnErr
}
