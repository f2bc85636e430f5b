package conf

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "MATCH"

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMysql  = "mysql"
	BackendSqlite = "sqlite"
	BackendLocal  = "local"
	BackendEtcd   = "etcd"
)

type Config struct {
	// NodeID names this instance in the etcd node registry. Empty means
	// hostname-pid.
	NodeID         string      `mapstructure:"node_id"`
	HttpListenAddr string      `mapstructure:"http_listen_addr"`
	Log            LogConf     `mapstructure:"log"`
	Match          MatchConf   `mapstructure:"match"`
	Backend        BackendConf `mapstructure:"backend"`
	Auth           AuthConf    `mapstructure:"auth"`
}

type LogConf struct {
	Level      string        `mapstructure:"level"`
	Dir        string        `mapstructure:"dir"`
	Prefix     string        `mapstructure:"prefix"`
	RotateTime time.Duration `mapstructure:"rotate_time"`
	Stdout     bool          `mapstructure:"stdout"`
}

type MatchConf struct {
	SurvivorsPerMatch int           `mapstructure:"survivors_per_match"`
	MatchInterval     time.Duration `mapstructure:"match_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
	LockWait          time.Duration `mapstructure:"lock_wait"`
	// UnknownGrace is how long a status request keeps re-reading a ticket
	// found in neither queue nor store before answering not found.
	UnknownGrace time.Duration `mapstructure:"unknown_grace"`
}

type BackendConf struct {
	Queue     string        `mapstructure:"queue"`
	Store     string        `mapstructure:"store"`
	Locker    string        `mapstructure:"locker"`
	RedisDSN  string        `mapstructure:"redis_dsn"`
	MysqlDSN  string        `mapstructure:"mysql_dsn"`
	SqliteDSN string        `mapstructure:"sqlite_dsn"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	Etcd      EtcdConf      `mapstructure:"etcd"`
}

type EtcdConf struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type AuthConf struct {
	// PublicKeyFile enables bearer token checks on join when set.
	PublicKeyFile string `mapstructure:"public_key_file"`
}

var DefaultConf = &Config{
	HttpListenAddr: ":8080",
	Log: LogConf{
		Level:      "info",
		Dir:        "logs",
		Prefix:     "match",
		RotateTime: 24 * time.Hour,
		Stdout:     true,
	},
	Match: MatchConf{
		SurvivorsPerMatch: 4,
		MatchInterval:     5 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		PollTimeout:       30 * time.Second,
		LockWait:          time.Second,
		UnknownGrace:      2 * time.Second,
	},
	Backend: BackendConf{
		Queue:     BackendMemory,
		Store:     BackendMemory,
		Locker:    BackendLocal,
		KeyPrefix: "surfmatch",
		LockTTL:   10 * time.Second,
		Etcd: EtcdConf{
			DialTimeout: 5 * time.Second,
		},
	},
}

func setDefaults(c *viper.Viper, d *Config) {
	c.SetDefault("node_id", d.NodeID)
	c.SetDefault("http_listen_addr", d.HttpListenAddr)

	c.SetDefault("log.level", d.Log.Level)
	c.SetDefault("log.dir", d.Log.Dir)
	c.SetDefault("log.prefix", d.Log.Prefix)
	c.SetDefault("log.rotate_time", d.Log.RotateTime)
	c.SetDefault("log.stdout", d.Log.Stdout)

	c.SetDefault("match.survivors_per_match", d.Match.SurvivorsPerMatch)
	c.SetDefault("match.match_interval", d.Match.MatchInterval)
	c.SetDefault("match.poll_interval", d.Match.PollInterval)
	c.SetDefault("match.poll_timeout", d.Match.PollTimeout)
	c.SetDefault("match.lock_wait", d.Match.LockWait)
	c.SetDefault("match.unknown_grace", d.Match.UnknownGrace)

	c.SetDefault("backend.queue", d.Backend.Queue)
	c.SetDefault("backend.store", d.Backend.Store)
	c.SetDefault("backend.locker", d.Backend.Locker)
	c.SetDefault("backend.redis_dsn", d.Backend.RedisDSN)
	c.SetDefault("backend.mysql_dsn", d.Backend.MysqlDSN)
	c.SetDefault("backend.sqlite_dsn", d.Backend.SqliteDSN)
	c.SetDefault("backend.key_prefix", d.Backend.KeyPrefix)
	c.SetDefault("backend.lock_ttl", d.Backend.LockTTL)
	c.SetDefault("backend.etcd.endpoints", d.Backend.Etcd.Endpoints)
	c.SetDefault("backend.etcd.dial_timeout", d.Backend.Etcd.DialTimeout)

	c.SetDefault("auth.public_key_file", d.Auth.PublicKeyFile)
}

// ConfInit reads filename (optional) over DefaultConf, then applies MATCH_*
// environment overrides, e.g. MATCH_BACKEND_REDIS_DSN. A .env file in the
// working directory is loaded first if present.
func ConfInit(filename string, printConf bool) (*Config, error) {
	out := &Config{}
	defer func() {
		if printConf {
			if data, err := json.Marshal(out); err == nil {
				fmt.Println("the real config value is: ", string(data))
			} else {
				fmt.Println(err)
			}
		}
	}()

	_ = godotenv.Load()

	c := viper.New()
	setDefaults(c, DefaultConf)

	c.SetEnvPrefix(EnvPrefix)
	c.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.AutomaticEnv()

	if filename != "" {
		ext := strings.TrimPrefix(filepath.Ext(filename), ".")
		c.SetConfigType(ext) //don't forgot set the config type
		c.SetConfigFile(filename)
		if err := c.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	if err := c.Unmarshal(out); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Config) Validate() error {
	m := c.Match
	if m.SurvivorsPerMatch <= 0 {
		return fmt.Errorf("match.survivors_per_match must be positive, got %d", m.SurvivorsPerMatch)
	}
	if m.MatchInterval <= 0 || m.PollInterval <= 0 || m.PollTimeout <= 0 || m.LockWait <= 0 || m.UnknownGrace <= 0 {
		return fmt.Errorf("match intervals must be positive")
	}

	b := c.Backend
	switch b.Queue {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown backend.queue %q", b.Queue)
	}
	switch b.Store {
	case BackendMemory, BackendRedis, BackendMysql, BackendSqlite:
	default:
		return fmt.Errorf("unknown backend.store %q", b.Store)
	}
	switch b.Locker {
	case BackendLocal, BackendRedis, BackendEtcd:
	default:
		return fmt.Errorf("unknown backend.locker %q", b.Locker)
	}

	if c.NeedRedis() && b.RedisDSN == "" {
		return fmt.Errorf("backend.redis_dsn is required by the redis backend")
	}
	if b.Store == BackendMysql && b.MysqlDSN == "" {
		return fmt.Errorf("backend.mysql_dsn is required by the mysql store")
	}
	if b.Store == BackendSqlite && b.SqliteDSN == "" {
		return fmt.Errorf("backend.sqlite_dsn is required by the sqlite store")
	}
	if b.Locker == BackendEtcd && len(b.Etcd.Endpoints) == 0 {
		return fmt.Errorf("backend.etcd.endpoints is required by the etcd locker")
	}
	if b.Locker != BackendLocal && b.LockTTL <= 0 {
		return fmt.Errorf("backend.lock_ttl must be positive")
	}

	if b.Queue == BackendRedis && b.Locker == BackendLocal {
		slog.Warn("shared queue with a process local locker, run a single matcher instance only")
	}
	return nil
}

func (c *Config) NeedRedis() bool {
	b := c.Backend
	return b.Queue == BackendRedis || b.Store == BackendRedis || b.Locker == BackendRedis
}
