package match

import "context"

// Queue is the FIFO of waiting participants for one role.
//
// Count and Contains never run ahead of or behind TryDequeue: a participant
// is counted exactly while it can be dequeued. Backend outages come back as
// transient errors, never as an empty result.
type Queue interface {
	Enqueue(ctx context.Context, p Participant) error
	Contains(ctx context.Context, ticket string) (bool, error)
	// Position is the 1-based place of ticket counted from the head.
	Position(ctx context.Context, ticket string) (int, bool, error)
	Count(ctx context.Context) (int, error)
	TryDequeue(ctx context.Context) (Participant, bool, error)

	// PushFront puts participants back at the head, ps[0] first.
	// Only used to undo a drain that could not be committed.
	PushFront(ctx context.Context, ps ...Participant) error
}
