package match

import (
	"context"
	"sync"

	xerr "github.com/ajenpan/surfmatch/core/errors"
)

// Locker guards match formation. Every process forming matches over the same
// queues must share one Locker backend, or formation is not exclusive.
type Locker interface {
	// Lock blocks until the lock is held or ctx is done.
	Lock(ctx context.Context) (Lease, error)
}

type Lease interface {
	// Refresh confirms the lease is still held and extends it where the
	// backend expires leases. Fails with CodeLockLost otherwise.
	Refresh(ctx context.Context) error
	Unlock(ctx context.Context) error
}

var errLockLost = xerr.New(xerr.CodeLockLost, "match lock lost")

// LocalLocker is a ctx-aware mutex, good for one process only.
type LocalLocker struct {
	sem chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{sem: make(chan struct{}, 1)}
}

func (l *LocalLocker) Lock(ctx context.Context) (Lease, error) {
	select {
	case l.sem <- struct{}{}:
		return &localLease{sem: l.sem}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type localLease struct {
	sem      chan struct{}
	mu       sync.Mutex
	released bool
}

func (l *localLease) Refresh(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return errLockLost
	}
	return nil
}

func (l *localLease) Unlock(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	<-l.sem
	return nil
}
