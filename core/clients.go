package core

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	etcclientv3 "go.etcd.io/etcd/client/v3"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// redis://<user>:<password>@<host>:<port>/<db_number>
func NewRdsClient(ctx context.Context, dsn string) (*redis.Client, error) {
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	rds := redis.NewClient(opt)
	if err := rds.Ping(ctx).Err(); err != nil {
		rds.Close()
		return nil, err
	}
	return rds, nil
}

func NewMysqlClient(dsn string, l gormlogger.Interface) (*gorm.DB, error) {
	return gorm.Open(mysql.Open(dsn), &gorm.Config{
		DisableNestedTransaction: true,
		TranslateError:           true,
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		Logger: l,
	})
}

// NewSqliteClient opens a sqlite database, e.g. "match.db" or
// "file:match?mode=memory&cache=shared". sqlite has one writer, so the pool
// is held to a single connection.
func NewSqliteClient(dsn string, l gormlogger.Interface) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		DisableNestedTransaction: true,
		TranslateError:           true,
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		Logger: l,
	})
	if err != nil {
		return nil, err
	}
	sqldb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(1)
	return db, nil
}

func NewEtcdClient(endpoints []string, dialTimeout time.Duration) (*etcclientv3.Client, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return etcclientv3.New(etcclientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}
