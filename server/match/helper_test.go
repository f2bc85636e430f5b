package match

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ajenpan/surfmatch/core"
)

func getRedisClient(t *testing.T) *redis.Client {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func newParticipant(role Role, i int) Participant {
	return Participant{
		ID:       fmt.Sprintf("%s-%d", role, i),
		Name:     fmt.Sprintf("player %d", i),
		Role:     role,
		TicketID: fmt.Sprintf("T-%s-%d", role, i),
		JoinedAt: time.Unix(1700000000, 0).UTC(),
	}
}

type queueFactory struct {
	name string
	new  func(t *testing.T, role Role) Queue
}

func queueFactories() []queueFactory {
	return []queueFactory{
		{"memory", func(t *testing.T, role Role) Queue { return NewMemoryQueue() }},
		{"redis", func(t *testing.T, role Role) Queue { return NewRedisQueue(getRedisClient(t), "test", role) }},
	}
}

type storeFactory struct {
	name string
	new  func(t *testing.T) MatchStore
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{"memory", func(t *testing.T) MatchStore { return NewMemoryStore() }},
		{"redis", func(t *testing.T) MatchStore { return NewRedisStore(getRedisClient(t), "test") }},
		{"sqlite", func(t *testing.T) MatchStore { return newSqliteStore(t) }},
	}
}

// newSqliteStore opens a migrated in-memory database private to t.
func newSqliteStore(t *testing.T) *SQLStore {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := core.NewSqliteClient("file:"+name+"?mode=memory&cache=shared", gormlogger.Discard)
	require.NoError(t, err)
	sqldb, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	s := NewSQLStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}
