package match

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerr "github.com/ajenpan/surfmatch/core/errors"
)

const DefaultSurvivorsPerMatch = 4

type ManagerOptions struct {
	SurvivorsPerMatch int
	// LockWait bounds how long one formation attempt waits for the lock.
	// Running out of it is not an error, the attempt just forms nothing.
	LockWait time.Duration
	Log      *slog.Logger

	Now   func() time.Time
	NewID func() string
}

// Manager admits participants into their role queue and forms matches.
type Manager struct {
	survivors Queue
	killers   Queue
	store     MatchStore
	locker    Locker
	opts      ManagerOptions

	// tickets drained by a formation in this process that is not yet
	// committed or rolled back
	inflightMu sync.RWMutex
	inflight   map[string]struct{}
}

func NewManager(survivors, killers Queue, store MatchStore, locker Locker, opts ManagerOptions) *Manager {
	if opts.SurvivorsPerMatch <= 0 {
		opts.SurvivorsPerMatch = DefaultSurvivorsPerMatch
	}
	if opts.LockWait <= 0 {
		opts.LockWait = time.Second
	}
	if opts.Log == nil {
		opts.Log = slog.Default().With("module", "match")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Manager{
		survivors: survivors,
		killers:   killers,
		store:     store,
		locker:    locker,
		opts:      opts,
		inflight:  make(map[string]struct{}),
	}
}

// LockWait is the longest one formation attempt waits for the lock.
func (m *Manager) LockWait() time.Duration {
	return m.opts.LockWait
}

func (m *Manager) markInflight(ps ...Participant) {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()
	for _, p := range ps {
		m.inflight[p.TicketID] = struct{}{}
	}
}

func (m *Manager) clearInflight(ps ...Participant) {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()
	for _, p := range ps {
		delete(m.inflight, p.TicketID)
	}
}

func (m *Manager) isInflight(ticket string) bool {
	m.inflightMu.RLock()
	defer m.inflightMu.RUnlock()
	_, has := m.inflight[ticket]
	return has
}

func (m *Manager) log() *slog.Logger {
	return m.opts.Log
}

func (m *Manager) SurvivorsPerMatch() int {
	return m.opts.SurvivorsPerMatch
}

func (m *Manager) queueFor(r Role) (Queue, error) {
	switch r {
	case RoleSurvivor:
		return m.survivors, nil
	case RoleKiller:
		return m.killers, nil
	}
	return nil, xerr.Newf(xerr.CodeUnknownRole, "unknown role %q", r)
}

// Join validates the player, issues a ticket and admits it.
func (m *Manager) Join(ctx context.Context, info PlayerInfo) (Participant, error) {
	id := strings.TrimSpace(info.ID)
	name := strings.TrimSpace(info.Name)
	if id == "" || name == "" || info.Role == "" {
		return Participant{}, xerr.New(xerr.CodeInvalidParticipant, "player id, name and role are required")
	}
	role, err := ParseRole(info.Role)
	if err != nil {
		return Participant{}, err
	}

	p := Participant{
		ID:       id,
		Name:     name,
		Role:     role,
		TicketID: uuid.NewString(),
		JoinedAt: m.opts.Now(),
	}
	if err := m.Admit(ctx, p); err != nil {
		return Participant{}, err
	}
	m.log().Debug("player joined", "player", p.ID, "role", p.Role, "ticket", p.TicketID)
	return p, nil
}

// Admit routes p to its role queue. No other side effects.
func (m *Manager) Admit(ctx context.Context, p Participant) error {
	q, err := m.queueFor(p.Role)
	if err != nil {
		return err
	}
	if p.TicketID == "" {
		return xerr.New(xerr.CodeInvalidParticipant, "participant without ticket")
	}
	return q.Enqueue(ctx, p)
}

// enough reports whether both queues can fill one match. The killer queue is
// checked first since it is the one that is usually short.
func (m *Manager) enough(ctx context.Context) (bool, error) {
	nk, err := m.killers.Count(ctx)
	if err != nil || nk < 1 {
		return false, err
	}
	ns, err := m.survivors.Count(ctx)
	if err != nil || ns < m.opts.SurvivorsPerMatch {
		return false, err
	}
	return true, nil
}

// TryFormMatch drains one killer and SurvivorsPerMatch survivors into a new
// match if both queues hold enough. It returns (nil, nil) when no match can
// be formed right now.
//
// Count check and drain run as one unit under the locker. A drain that cannot
// be committed puts the participants back at the head of their queues.
func (m *Manager) TryFormMatch(ctx context.Context) (*Match, error) {
	// cheap unlocked guard; the real check happens under the lock
	if ok, err := m.enough(ctx); err != nil || !ok {
		return nil, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, m.opts.LockWait)
	lease, err := m.locker.Lock(lockCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			m.log().Debug("match lock busy", "wait", m.opts.LockWait)
			return nil, nil
		}
		return nil, err
	}
	defer func() {
		if err := lease.Unlock(context.WithoutCancel(ctx)); err != nil {
			m.log().Warn("release match lock", "err", err)
		}
	}()

	return m.formLocked(ctx, lease)
}

func (m *Manager) formLocked(ctx context.Context, lease Lease) (*Match, error) {
	ok, err := m.enough(ctx)
	if err != nil || !ok {
		return nil, err
	}

	killer, ok, err := m.killers.TryDequeue(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		err := xerr.New(xerr.CodeInvariantViolation, "killer queue drained under match lock")
		m.log().Error("match formation invariant broken", "err", err)
		return nil, err
	}
	m.markInflight(killer)

	size := m.opts.SurvivorsPerMatch
	survivors := make([]Participant, 0, size)
	// cleared only after the match is stored or everyone is back in a queue
	defer func() {
		m.clearInflight(survivors...)
		m.clearInflight(killer)
	}()
	for len(survivors) < size {
		p, ok, err := m.survivors.TryDequeue(ctx)
		if err != nil {
			return nil, m.undo(ctx, err, survivors, &killer)
		}
		if !ok {
			err := xerr.Newf(xerr.CodeInvariantViolation, "survivor queue ran dry under match lock after %d of %d", len(survivors), size)
			m.log().Error("match formation invariant broken", "err", err)
			return nil, m.undo(ctx, err, survivors, &killer)
		}
		m.markInflight(p)
		survivors = append(survivors, p)
	}

	match := &Match{
		ID:        m.opts.NewID(),
		Survivors: survivors,
		Killer:    killer,
		CreatedAt: m.opts.Now(),
	}

	if err := lease.Refresh(ctx); err != nil {
		return nil, m.undo(ctx, err, survivors, &killer)
	}

	if err := m.store.AddMatch(ctx, match); err != nil {
		// a write that timed out may still have landed
		if _, has, gerr := m.store.GetMatch(context.WithoutCancel(ctx), match.ID); gerr == nil && has {
			m.log().Warn("match stored despite write error", "match", match.ID, "err", err)
			return match, nil
		}
		return nil, m.undo(ctx, err, survivors, &killer)
	}

	m.log().Info("match formed", "match", match.ID, "tickets", match.Tickets())
	return match, nil
}

// undo returns drained participants to the head of their queues in their
// original order. It ignores cancellation of ctx: dropping them would lose them.
func (m *Manager) undo(ctx context.Context, cause error, survivors []Participant, killer *Participant) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	if len(survivors) > 0 {
		if err := m.survivors.PushFront(ctx, survivors...); err != nil {
			errs = append(errs, err)
		}
	}
	if killer != nil {
		if err := m.killers.PushFront(ctx, *killer); err != nil {
			errs = append(errs, err)
		}
	}

	if restoreErr := errors.Join(errs...); restoreErr != nil {
		tickets := make([]string, 0, len(survivors)+1)
		for _, s := range survivors {
			tickets = append(tickets, s.TicketID)
		}
		if killer != nil {
			tickets = append(tickets, killer.TicketID)
		}
		m.log().Error("drained participants could not be restored", "tickets", tickets, "cause", cause, "err", restoreErr)
		return errors.Join(cause, restoreErr)
	}

	m.log().Warn("match formation rolled back", "err", cause, "survivors", len(survivors), "killer", killer != nil)
	return cause
}

// GetPlayerStatus returns the match holding ticket, if any. Read only, no lock.
func (m *Manager) GetPlayerStatus(ctx context.Context, ticket string) (*Match, bool, error) {
	return m.store.GetMatchByTicket(ctx, ticket)
}

// Lookup classifies ticket as matched, waiting or unknown. A ticket drained
// by a formation still running in this process counts as waiting. The store
// is read again after the queues since a ticket may move from queue to match
// between the first two reads.
func (m *Manager) Lookup(ctx context.Context, ticket string) (Status, error) {
	match, ok, err := m.store.GetMatchByTicket(ctx, ticket)
	if err != nil {
		return Status{}, err
	}
	if ok {
		return Status{State: StateMatched, Match: match}, nil
	}
	pos, has, err := m.Position(ctx, ticket)
	if err != nil {
		return Status{}, err
	}
	if has {
		return Status{State: StateWaiting, Position: pos}, nil
	}
	if m.isInflight(ticket) {
		return Status{State: StateWaiting}, nil
	}
	match, ok, err = m.store.GetMatchByTicket(ctx, ticket)
	if err != nil {
		return Status{}, err
	}
	if ok {
		return Status{State: StateMatched, Match: match}, nil
	}
	return Status{State: StateUnknown}, nil
}

// Position reports where ticket waits in whichever role queue holds it.
func (m *Manager) Position(ctx context.Context, ticket string) (int, bool, error) {
	for _, q := range []Queue{m.survivors, m.killers} {
		pos, has, err := q.Position(ctx, ticket)
		if err != nil || has {
			return pos, has, err
		}
	}
	return 0, false, nil
}

func (m *Manager) QueueSizes(ctx context.Context) (survivors int, killers int, err error) {
	if survivors, err = m.survivors.Count(ctx); err != nil {
		return 0, 0, err
	}
	if killers, err = m.killers.Count(ctx); err != nil {
		return 0, 0, err
	}
	return survivors, killers, nil
}

func (m *Manager) RemoveMatch(ctx context.Context, matchID string) (*Match, bool, error) {
	return m.store.RemoveMatch(ctx, matchID)
}
