package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerr "github.com/ajenpan/surfmatch/core/errors"
)

type OnMatchedFunc func(*Match)

type MatcherOptions struct {
	Interval time.Duration
	Log      *slog.Logger
	OnMatch  OnMatchedFunc
}

// Matcher drives Manager.TryFormMatch on a fixed interval. Backend errors are
// retried next tick; a broken queue invariant stops the loop.
type Matcher struct {
	mgr  *Manager
	opts MatcherOptions

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func NewMatcher(mgr *Manager, opts MatcherOptions) *Matcher {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.Log == nil {
		opts.Log = slog.Default().With("module", "matcher")
	}
	return &Matcher{
		mgr:  mgr,
		opts: opts,
		done: make(chan struct{}),
	}
}

func (m *Matcher) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("matcher already started")
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
	return nil
}

// Stop ends the loop and waits for it. The returned error is the one that
// stopped the loop on its own, if any.
func (m *Matcher) Stop() error {
	m.mu.Lock()
	cancel := m.cancel
	started := m.started
	m.mu.Unlock()

	if !started {
		return nil
	}
	cancel()
	<-m.done
	return m.Err()
}

// Done is closed once the loop has exited.
func (m *Matcher) Done() <-chan struct{} {
	return m.done
}

func (m *Matcher) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Matcher) run(ctx context.Context) {
	defer close(m.done)

	tk := time.NewTicker(m.opts.Interval)
	defer tk.Stop()

	m.opts.Log.Info("matcher started", "interval", m.opts.Interval, "survivors_per_match", m.mgr.SurvivorsPerMatch())
	defer m.opts.Log.Info("matcher stopped")

	for {
		if err := m.drain(ctx); err != nil {
			m.mu.Lock()
			m.err = err
			m.mu.Unlock()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
		}
	}
}

// drain forms matches until the queues run short. Only a fatal error is
// returned.
func (m *Matcher) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		match, err := m.mgr.TryFormMatch(ctx)
		switch {
		case err == nil && match == nil:
			return nil
		case err == nil:
			m.notify(match)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case xerr.IsInvariantViolation(err):
			m.opts.Log.Error("matcher halted", "err", err)
			return err
		default:
			m.opts.Log.Warn("form match failed, retry next tick", "err", err)
			return nil
		}
	}
	return nil
}

func (m *Matcher) notify(match *Match) {
	if m.opts.OnMatch == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.opts.Log.Error("on match callback panic", "match", match.ID, "panic", r)
		}
	}()
	m.opts.OnMatch(match)
}
