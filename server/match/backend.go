package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	etcclientv3 "go.etcd.io/etcd/client/v3"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ajenpan/surfmatch/core"
	"github.com/ajenpan/surfmatch/server/match/conf"
)

// Backends is the queue/store/locker set picked by configuration.
type Backends struct {
	Survivors Queue
	Killers   Queue
	Store     MatchStore
	Locker    Locker

	// Etcd is set when endpoints are configured, for the locker and the
	// node registry.
	Etcd *etcclientv3.Client

	closers []func() error
}

func (b *Backends) onClose(f func() error) {
	b.closers = append(b.closers, f)
}

// Close releases clients in reverse order of creation.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func lockKey(prefix string) string {
	return prefix + "/lock/form"
}

// OpenBackends connects whatever the backend section asks for. gl is the
// gorm logger used by the sql stores.
func OpenBackends(ctx context.Context, c *conf.BackendConf, gl gormlogger.Interface) (_ *Backends, err error) {
	b := &Backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	var rds *redis.Client
	if c.Queue == conf.BackendRedis || c.Store == conf.BackendRedis || c.Locker == conf.BackendRedis {
		rds, err = core.NewRdsClient(ctx, c.RedisDSN)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.onClose(rds.Close)
	}

	if len(c.Etcd.Endpoints) > 0 {
		b.Etcd, err = core.NewEtcdClient(c.Etcd.Endpoints, c.Etcd.DialTimeout)
		if err != nil {
			return nil, fmt.Errorf("connect etcd: %w", err)
		}
		b.onClose(b.Etcd.Close)
	}

	switch c.Queue {
	case conf.BackendRedis:
		b.Survivors = NewRedisQueue(rds, c.KeyPrefix, RoleSurvivor)
		b.Killers = NewRedisQueue(rds, c.KeyPrefix, RoleKiller)
	case conf.BackendMemory, "":
		b.Survivors = NewMemoryQueue()
		b.Killers = NewMemoryQueue()
	default:
		return nil, fmt.Errorf("unknown queue backend %q", c.Queue)
	}

	switch c.Store {
	case conf.BackendRedis:
		b.Store = NewRedisStore(rds, c.KeyPrefix)
	case conf.BackendMysql, conf.BackendSqlite:
		var db *gorm.DB
		if c.Store == conf.BackendMysql {
			db, err = core.NewMysqlClient(c.MysqlDSN, gl)
		} else {
			db, err = core.NewSqliteClient(c.SqliteDSN, gl)
		}
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", c.Store, err)
		}
		if sqldb, err := db.DB(); err == nil {
			b.onClose(sqldb.Close)
		}
		store := NewSQLStore(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate match tables: %w", err)
		}
		b.Store = store
	case conf.BackendMemory, "":
		b.Store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Store)
	}

	switch c.Locker {
	case conf.BackendRedis:
		b.Locker = NewRedisLocker(rds, RedisLockerOptions{Key: lockKey(c.KeyPrefix), TTL: c.LockTTL})
	case conf.BackendEtcd:
		if b.Etcd == nil {
			return nil, fmt.Errorf("etcd locker without endpoints")
		}
		locker := NewEtcdLocker(b.Etcd, lockKey(c.KeyPrefix), int(c.LockTTL.Seconds()))
		b.onClose(locker.Close)
		b.Locker = locker
	case conf.BackendLocal, "":
		b.Locker = NewLocalLocker()
	default:
		return nil, fmt.Errorf("unknown locker backend %q", c.Locker)
	}

	slog.Info("match backends ready", "queue", c.Queue, "store", c.Store, "locker", c.Locker)
	return b, nil
}
