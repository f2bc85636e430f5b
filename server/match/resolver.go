package match

import (
	"context"
	"time"
)

type ResolverOptions struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	// UnknownGrace is how long an unknown ticket is re-read before it is
	// reported unknown. Another node may hold it drained while that node
	// writes its match. Defaults to twice the manager's LockWait.
	UnknownGrace time.Duration
}

// Resolver turns a ticket into its status, waiting a bounded time for a
// match to show up.
type Resolver struct {
	mgr  *Manager
	opts ResolverOptions
}

func NewResolver(mgr *Manager, opts ResolverOptions) *Resolver {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 30 * time.Second
	}
	if opts.UnknownGrace <= 0 {
		opts.UnknownGrace = 2 * mgr.LockWait()
	}
	return &Resolver{mgr: mgr, opts: opts}
}

func (r *Resolver) MaxWait() time.Duration {
	return r.opts.MaxWait
}

// AwaitStatus polls the store until ticket is matched or maxWait elapses.
// Timeout and cancellation both return StateWaiting with a nil error. A
// ticket that stays neither queued nor matched for UnknownGrace returns
// StateUnknown.
// maxWait <= 0 uses the configured default.
func (r *Resolver) AwaitStatus(ctx context.Context, ticket string, maxWait time.Duration) (Status, error) {
	if maxWait <= 0 {
		maxWait = r.opts.MaxWait
	}

	st, err := r.lookup(ctx, ticket)
	if err != nil || st.State != StateWaiting {
		return st, err
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	tk := time.NewTicker(r.opts.PollInterval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return Status{State: StateWaiting}, nil
		case <-timer.C:
			return r.waiting(ctx, ticket), nil
		case <-tk.C:
		}

		match, ok, err := r.mgr.GetPlayerStatus(ctx, ticket)
		if err != nil {
			if ctx.Err() != nil {
				return Status{State: StateWaiting}, nil
			}
			return Status{}, err
		}
		if ok {
			return Status{State: StateMatched, Match: match}, nil
		}
	}
}

// lookup re-reads an unknown result every poll interval until UnknownGrace
// runs out, since a ticket is in neither queue nor store while its match is
// written or rolled back.
func (r *Resolver) lookup(ctx context.Context, ticket string) (Status, error) {
	st, err := r.mgr.Lookup(ctx, ticket)
	if err != nil || st.State != StateUnknown {
		return st, err
	}

	grace := time.NewTimer(r.opts.UnknownGrace)
	defer grace.Stop()
	tk := time.NewTicker(r.opts.PollInterval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return Status{State: StateWaiting}, nil
		case <-grace.C:
			return r.mgr.Lookup(ctx, ticket)
		case <-tk.C:
		}
		st, err := r.mgr.Lookup(ctx, ticket)
		if err != nil || st.State != StateUnknown {
			return st, err
		}
	}
}

// waiting answers a timed out wait with the ticket's current queue
// position. The position is best effort; a failed read leaves it zero.
func (r *Resolver) waiting(ctx context.Context, ticket string) Status {
	pos, _, err := r.mgr.Position(ctx, ticket)
	if err != nil {
		r.mgr.log().Debug("queue position", "ticket", ticket, "err", err)
	}
	return Status{State: StateWaiting, Position: pos}
}

// Watch chains AwaitStatus windows until the ticket leaves StateWaiting or
// ctx is done.
func (r *Resolver) Watch(ctx context.Context, ticket string) (Status, error) {
	for {
		st, err := r.AwaitStatus(ctx, ticket, r.opts.MaxWait)
		if err != nil || st.State != StateWaiting || ctx.Err() != nil {
			return st, err
		}
	}
}
