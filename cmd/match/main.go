package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ajenpan/surfmatch/core/auth"
	log "github.com/ajenpan/surfmatch/core/log"
	"github.com/ajenpan/surfmatch/core/logger"
	"github.com/ajenpan/surfmatch/core/registry"
	utilSignal "github.com/ajenpan/surfmatch/core/utils/signal"
	"github.com/ajenpan/surfmatch/server/match"
	"github.com/ajenpan/surfmatch/server/match/conf"
	"github.com/ajenpan/surfmatch/server/match/handler"
)

var Version string = "unknown"
var GitCommit string = "unknown"
var BuildAt string = "unknown"
var BuildBy string = "unknown"
var Name string = "match"

var ConfigPath string = ""
var PrintConf bool = false

func main() {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Println("project:", Name)
		fmt.Println("version:", Version)
		fmt.Println("git commit:", GitCommit)
		fmt.Println("build at:", BuildAt)
		fmt.Println("build by:", BuildBy)
	}

	app := cli.NewApp()
	app.Name = Name
	app.Version = Version
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "config file, yaml/json/toml. MATCH_* env vars override it",
			Destination: &ConfigPath,
		}, &cli.BoolFlag{
			Name:        "print-conf",
			Destination: &PrintConf,
			Hidden:      true,
		},
	}
	app.Action = RealMain

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(-1)
	}
}

func RealMain(c *cli.Context) error {
	cfg, err := conf.ConfInit(ConfigPath, PrintConf)
	if err != nil {
		return err
	}

	lg, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Dir:        cfg.Log.Dir,
		Prefix:     cfg.Log.Prefix,
		RotateTime: cfg.Log.RotateTime,
		Stdout:     cfg.Log.Stdout,
	})
	if err != nil {
		return err
	}
	defer lg.Close()
	slog.SetDefault(lg.Slog().With("node", Name))

	ctx, stop := utilSignal.ShutdownContext(context.Background())
	defer stop()

	gormLog := log.NewGormLogrus(log.New(lg.Writer(), cfg.Log.Level))
	backends, err := match.OpenBackends(ctx, &cfg.Backend, gormLog)
	if err != nil {
		return err
	}
	defer backends.Close()

	mgr := match.NewManager(backends.Survivors, backends.Killers, backends.Store, backends.Locker, match.ManagerOptions{
		SurvivorsPerMatch: cfg.Match.SurvivorsPerMatch,
		LockWait:          cfg.Match.LockWait,
	})
	resolver := match.NewResolver(mgr, match.ResolverOptions{
		PollInterval: cfg.Match.PollInterval,
		MaxWait:      cfg.Match.PollTimeout,
		UnknownGrace: cfg.Match.UnknownGrace,
	})

	var tokenAuth *auth.TokenAuth
	if cfg.Auth.PublicKeyFile != "" {
		if tokenAuth, err = auth.NewTokenAuthFromFile(cfg.Auth.PublicKeyFile); err != nil {
			return err
		}
	}

	matcher := match.NewMatcher(mgr, match.MatcherOptions{Interval: cfg.Match.MatchInterval})
	if err := matcher.Start(ctx); err != nil {
		return err
	}
	defer matcher.Stop()

	ln, err := net.Listen("tcp", cfg.HttpListenAddr)
	if err != nil {
		return err
	}
	hopts := handler.Options{Manager: mgr, Resolver: resolver, Auth: tokenAuth}
	if backends.Etcd != nil {
		reg, err := registry.NewEtcdRegistry(backends.Etcd, registry.EtcdRegistryOpts{
			Prefix:   cfg.Backend.KeyPrefix,
			NodeID:   nodeID(cfg.NodeID),
			NodeType: Name,
		})
		if err != nil {
			return err
		}
		defer reg.Close()
		err = reg.Register(registry.NodeInfo{Addr: ln.Addr().String(), Version: Version, StartedAt: time.Now()})
		if err != nil {
			return err
		}
		hopts.Nodes = reg
	}
	h := handler.New(hopts)
	svr := &http.Server{
		Handler:           h.Routes(),
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// a status request may wait out a whole poll window and the grace
		WriteTimeout: writeTimeout(&cfg.Match),
	}
	go func() {
		if err := svr.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http serve", "err", err)
			stop()
		}
	}()
	slog.Info("match service started", "addr", ln.Addr().String(), "version", Version, "commit", GitCommit)

	var fatal error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case <-matcher.Done():
		fatal = matcher.Err()
		slog.Error("matcher stopped unexpectedly", "err", fatal)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svr.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	return fatal
}

func nodeID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// writeTimeout outlasts the longest status long-poll. Websocket watches are
// hijacked and not bound by it.
func writeTimeout(c *conf.MatchConf) time.Duration {
	return c.UnknownGrace + c.PollTimeout + 10*time.Second
}
