package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/thetooth/pinggraph/config"
	"github.com/thetooth/pinggraph/metrics"
	"github.com/thetooth/pinggraph/ping"
	"github.com/thetooth/pinggraph/session"
	"github.com/thetooth/pinggraph/store"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fs := flag.NewFlagSet("pinggraph", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  pinggraph [OPTIONS] HOST")
		fmt.Fprintln(os.Stderr, "  pinggraph -m udp-server [--bind ADDR] [-p PORT]")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Options:")
		fs.PrintDefaults()
	}

	args, err := config.ParseFlags(fs, argv)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if args.ShowVersion {
		fmt.Println("pinggraph", version)
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		fs.Usage()
		return 2
	}
	cfg := args.Config

	closeLog, err := config.SetupLogging(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	defer closeLog()

	// Control signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsListen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsListen, reg); err != nil {
				logrus.Error("Metrics server: ", err)
			}
		}()
	}

	if cfg.Mode == config.ModeUDPServer {
		return runServer(ctx, cfg, m)
	}
	return runClient(ctx, args, m)
}

func runServer(ctx context.Context, cfg *config.Config, m *metrics.Metrics) int {
	srv := &ping.Server{
		Bind: cfg.Bind,
		Port: cfg.Port,
		OnEcho: func(src net.Addr, n int) {
			m.Echoed()
			logrus.WithField("peer", src.String()).Debug("Echoed ", n, " bytes")
		},
	}
	if err := srv.Run(ctx); err != nil {
		logrus.Error("[ SERVER_FAIL ] ", err)
		return 1
	}
	logrus.Info("[ EXIT_CLEANUP ] server stopped")
	return 0
}

func runClient(ctx context.Context, args config.Args, m *metrics.Metrics) int {
	cfg := args.Config
	mgr := session.NewManager(cfg)

	var db *store.DB
	if cfg.Database != "" {
		var err error
		if db, err = store.Open(cfg.Database); err != nil {
			logrus.Error(err)
			return 1
		}
		defer db.Close()
	}

	mgr.OnResult = func(s *session.Session, r ping.Result) {
		mode := string(s.Mode)
		m.Observe(s.Target, mode, r, mgr.History().Stats().LossPercent())
		if db != nil {
			if err := db.SaveResult(s.ID.String(), s.Target, mode, r); err != nil {
				logrus.Warn("Saving result: ", err)
			}
		}
		fmt.Printf("[%s] %s\n", r.Clock(), r)
	}
	mgr.OnRestart = func(s *session.Session) {
		m.Restarted()
		printHeader(s)
	}

	if err := mgr.Start(ctx); err != nil {
		logrus.Error(err)
		return 1
	}
	printHeader(mgr.Session())

	reloads := make(chan *config.Config)
	if args.Watch {
		go func() {
			err := config.Watch(ctx, args.ConfigPath, func(next *config.Config) {
				select {
				case reloads <- next:
				case <-ctx.Done():
				}
			})
			if err != nil {
				logrus.Error("Config watcher: ", err)
			}
		}()
	}

	err := mgr.Run(ctx, reloads)
	fmt.Println()
	fmt.Println(mgr.History().Stats())
	if err != nil {
		logrus.Error(err)
		return 1
	}
	return 0
}

func printHeader(s *session.Session) {
	fmt.Printf("PING %s (%s) %s\n", s.Target, s.Addr, s.Mode)
}
