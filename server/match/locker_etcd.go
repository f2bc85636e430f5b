package match

import (
	"context"
	"sync"

	etcclientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	xerr "github.com/ajenpan/surfmatch/core/errors"
)

// EtcdLocker takes the match lock through an etcd lease-backed mutex. The
// session is kept across acquisitions and recreated once its lease is gone.
// Mutexes on one session share a key, so callers in this process are
// serialized locally first.
type EtcdLocker struct {
	cli    *etcclientv3.Client
	prefix string
	ttlSec int
	local  *LocalLocker

	mu      sync.Mutex
	session *concurrency.Session
}

func NewEtcdLocker(cli *etcclientv3.Client, prefix string, ttlSec int) *EtcdLocker {
	if ttlSec < 5 {
		ttlSec = 5
	}
	return &EtcdLocker{cli: cli, prefix: prefix, ttlSec: ttlSec, local: NewLocalLocker()}
}

func (l *EtcdLocker) getSession() (*concurrency.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session != nil {
		select {
		case <-l.session.Done():
			l.session = nil
		default:
			return l.session, nil
		}
	}

	s, err := concurrency.NewSession(l.cli, concurrency.WithTTL(l.ttlSec))
	if err != nil {
		return nil, err
	}
	l.session = s
	return s, nil
}

func (l *EtcdLocker) Lock(ctx context.Context) (_ Lease, err error) {
	local, err := l.local.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			local.Unlock(ctx)
		}
	}()

	s, err := l.getSession()
	if err != nil {
		return nil, xerr.Wrap(xerr.CodeBackend, err, "etcd session")
	}
	mtx := concurrency.NewMutex(s, l.prefix)
	if err := mtx.Lock(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, xerr.Wrap(xerr.CodeBackend, err, "etcd lock")
	}
	return &etcdLease{cli: l.cli, session: s, mtx: mtx, local: local}, nil
}

func (l *EtcdLocker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return nil
	}
	err := l.session.Close()
	l.session = nil
	return err
}

type etcdLease struct {
	cli     *etcclientv3.Client
	session *concurrency.Session
	mtx     *concurrency.Mutex
	local   Lease
}

func (l *etcdLease) Refresh(ctx context.Context) error {
	select {
	case <-l.session.Done():
		return errLockLost
	default:
	}
	resp, err := l.cli.Txn(ctx).If(l.mtx.IsOwner()).Commit()
	if err != nil {
		return xerr.Wrap(xerr.CodeBackend, err, "etcd lock refresh")
	}
	if !resp.Succeeded {
		return errLockLost
	}
	return nil
}

func (l *etcdLease) Unlock(ctx context.Context) error {
	defer l.local.Unlock(ctx)
	if err := l.mtx.Unlock(ctx); err != nil {
		return xerr.Wrap(xerr.CodeBackend, err, "etcd unlock")
	}
	return nil
}
