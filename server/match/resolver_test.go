package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerr "github.com/ajenpan/surfmatch/core/errors"
)

func TestAwaitStatusTimesOutAsWaiting(t *testing.T) {
	m := newMemoryManager()
	admitN(t, m, RoleSurvivor, 0, 1)
	r := NewResolver(m, ResolverOptions{PollInterval: 5 * time.Millisecond})

	start := time.Now()
	st, err := r.AwaitStatus(context.Background(), "T-survivor-0", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, st.State)
	assert.Nil(t, st.Match)
	assert.Equal(t, 1, st.Position)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestAwaitStatusCancel(t *testing.T) {
	m := newMemoryManager()
	admitN(t, m, RoleKiller, 0, 1)
	r := NewResolver(m, ResolverOptions{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	st, err := r.AwaitStatus(ctx, "T-killer-0", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, st.State)
	assert.Less(t, time.Since(start), time.Second)

	// the queue is untouched by the abandoned poll
	has, err := m.killers.Contains(context.Background(), "T-killer-0")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestAwaitStatusMatched(t *testing.T) {
	m := newMemoryManager()
	r := NewResolver(m, ResolverOptions{PollInterval: 5 * time.Millisecond})
	admitN(t, m, RoleSurvivor, 0, 4)

	time.AfterFunc(30*time.Millisecond, func() {
		ctx := context.Background()
		assert.NoError(t, m.Admit(ctx, newParticipant(RoleKiller, 0)))
		_, err := m.TryFormMatch(ctx)
		assert.NoError(t, err)
	})

	st, err := r.AwaitStatus(context.Background(), "T-survivor-2", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, StateMatched, st.State)
	assert.Equal(t, "T-killer-0", st.Match.Killer.TicketID)

	st, err = r.Watch(context.Background(), "T-killer-0")
	require.NoError(t, err)
	assert.Equal(t, StateMatched, st.State)
}

func TestAwaitStatusUnknownTicket(t *testing.T) {
	r := NewResolver(newMemoryManager(), ResolverOptions{
		PollInterval: time.Millisecond,
		UnknownGrace: 20 * time.Millisecond,
	})

	start := time.Now()
	st, err := r.AwaitStatus(context.Background(), "T-nobody", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, st.State)
	assert.Less(t, time.Since(start), time.Second)
}

type downStore struct {
	MatchStore
}

func (downStore) GetMatchByTicket(context.Context, string) (*Match, bool, error) {
	return nil, false, xerr.New(xerr.CodeBackend, "store down")
}

func TestAwaitStatusBackendDown(t *testing.T) {
	m := NewManager(NewMemoryQueue(), NewMemoryQueue(), downStore{NewMemoryStore()}, nil, ManagerOptions{})
	r := NewResolver(m, ResolverOptions{})

	_, err := r.AwaitStatus(context.Background(), "T-1", time.Second)
	assert.True(t, xerr.IsTransient(err))
}

// slowFailStore holds every write for delay and then rejects it.
type slowFailStore struct {
	MatchStore
	delay time.Duration
}

func (s slowFailStore) AddMatch(ctx context.Context, m *Match) error {
	time.Sleep(s.delay)
	return xerr.New(xerr.CodeBackend, "store timeout")
}

func TestAwaitStatusDuringSlowFailedWrite(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryQueue(), NewMemoryQueue(), slowFailStore{NewMemoryStore(), 100 * time.Millisecond}, nil, ManagerOptions{})
	admitN(t, m, RoleSurvivor, 0, 4)
	admitN(t, m, RoleKiller, 0, 1)
	r := NewResolver(m, ResolverOptions{
		PollInterval: time.Millisecond,
		UnknownGrace: time.Millisecond,
	})

	done := make(chan error, 1)
	go func() {
		_, err := m.TryFormMatch(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	for _, ticket := range []string{"T-survivor-0", "T-survivor-3", "T-killer-0"} {
		st, err := m.Lookup(ctx, ticket)
		require.NoError(t, err)
		assert.Equal(t, StateWaiting, st.State, ticket)
	}
	st, err := r.AwaitStatus(ctx, "T-survivor-0", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, st.State)

	assert.True(t, xerr.IsTransient(<-done))
	st, err = r.AwaitStatus(ctx, "T-survivor-0", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, st.State)
	ns, nk := queueSizes(t, m)
	assert.Equal(t, 4, ns)
	assert.Equal(t, 1, nk)
}

// A second node shares the queues and store but not the forming node's
// in-flight set, so only the grace window keeps its answer at waiting.
func TestAwaitStatusUnknownGraceAcrossNodes(t *testing.T) {
	ctx := context.Background()
	survivors, killers := NewMemoryQueue(), NewMemoryQueue()
	store := slowFailStore{NewMemoryStore(), 100 * time.Millisecond}
	forming := NewManager(survivors, killers, store, nil, ManagerOptions{})
	other := NewManager(survivors, killers, store, nil, ManagerOptions{})
	admitN(t, forming, RoleSurvivor, 0, 4)
	admitN(t, forming, RoleKiller, 0, 1)
	r := NewResolver(other, ResolverOptions{
		PollInterval: time.Millisecond,
		UnknownGrace: time.Second,
	})

	done := make(chan error, 1)
	go func() {
		_, err := forming.TryFormMatch(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	st, err := other.Lookup(ctx, "T-survivor-1")
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, st.State)

	st, err = r.AwaitStatus(ctx, "T-survivor-1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, st.State)
	assert.Error(t, <-done)
}
