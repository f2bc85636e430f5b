package match

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/lists/doublylinkedlist"

	xerr "github.com/ajenpan/surfmatch/core/errors"
)

// MemoryQueue is the in-process Queue. The list and its ticket index are
// changed under one mutex, so no caller sees them disagree.
type MemoryQueue struct {
	mu    sync.Mutex
	list  *doublylinkedlist.List
	index map[string]struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		list:  doublylinkedlist.New(),
		index: make(map[string]struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, p Participant) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, has := q.index[p.TicketID]; has {
		return xerr.Newf(xerr.CodeDuplicateTicket, "ticket %s already queued", p.TicketID)
	}
	q.list.Add(p)
	q.index[p.TicketID] = struct{}{}
	return nil
}

func (q *MemoryQueue) Contains(_ context.Context, ticket string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, has := q.index[ticket]
	return has, nil
}

func (q *MemoryQueue) Position(_ context.Context, ticket string) (int, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, has := q.index[ticket]; !has {
		return 0, false, nil
	}
	i, _ := q.list.Find(func(_ int, v interface{}) bool {
		return v.(Participant).TicketID == ticket
	})
	if i < 0 {
		return 0, false, nil
	}
	return i + 1, true, nil
}

func (q *MemoryQueue) Count(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.list.Size(), nil
}

func (q *MemoryQueue) TryDequeue(_ context.Context) (Participant, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	v, ok := q.list.Get(0)
	if !ok {
		return Participant{}, false, nil
	}
	q.list.Remove(0)
	p := v.(Participant)
	delete(q.index, p.TicketID)
	return p, true, nil
}

func (q *MemoryQueue) PushFront(_ context.Context, ps ...Participant) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := len(ps) - 1; i >= 0; i-- {
		if _, has := q.index[ps[i].TicketID]; has {
			continue
		}
		q.list.Prepend(ps[i])
		q.index[ps[i].TicketID] = struct{}{}
	}
	return nil
}
