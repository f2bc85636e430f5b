package match

import "context"

// MatchStore keeps match records plus a ticket index over them.
//
// A reader never sees an index entry whose match record is not readable yet.
// Not-found is reported through the bool, errors are reserved for backend
// failures.
type MatchStore interface {
	AddMatch(ctx context.Context, m *Match) error
	GetMatch(ctx context.Context, matchID string) (*Match, bool, error)
	GetMatchByTicket(ctx context.Context, ticket string) (*Match, bool, error)

	// RemoveMatch drops the record and all of its ticket entries at once.
	RemoveMatch(ctx context.Context, matchID string) (*Match, bool, error)
}
