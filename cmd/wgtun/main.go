package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/edup2p/wgtun/tunnel"
	"github.com/edup2p/wgtun/types"
	"github.com/robfig/cron/v3"
)

var (
	configPath  = flag.String("c", "", "config file path, .json or .yaml")
	interactive = flag.Bool("i", false, "run the interactive shell")
	level       = flag.String("level", "info", "log level: trace, debug, info, warn, or error")
	rateLimit   = flag.Bool("ratelimit", false, "answer handshake floods with cookies")
)

var programLevel = new(slog.LevelVar) // Info by default

func main() {
	flag.Parse()

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel})
	slog.SetDefault(slog.New(h))
	setLevel(*level)

	if *interactive {
		runShell()
		return
	}

	os.Exit(run())
}

// run opens the configured session and runs it until a signal arrives, it returns the exit code.
func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	raw := loadConfig()

	cfg, err := tunnel.ParsePeerConfig(raw)
	if err != nil {
		log.Fatalf("wgtun: config: %v", err)
	}

	slog.Info("wgtun: using public key", "pub", cfg.PrivateKey.Public().Base64())

	s, err := tunnel.Open(cfg, tunnel.Options{
		Events:    counter,
		RateLimit: *rateLimit,
	})
	if err != nil {
		log.Fatalf("wgtun: %v", err)
	}
	defer s.Close()

	c := cron.New()
	if _, err := c.AddJob("@every 1m", NewStatsJob(ctx, s, counter)); err != nil {
		slog.Error("wgtun: could not schedule stats", "err", err)
		return 1
	}
	c.Start()
	defer c.Stop()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	if err := s.Run(ctx); err != nil {
		slog.Error("wgtun: session stopped", "err", err)
		return 1
	}

	slog.Info("wgtun: shut down")
	return 0
}

var counter = tunnel.NewEventCounter()

func setLevel(s string) {
	switch s {
	case "trace":
		programLevel.Set(types.LevelTrace)
	case "debug":
		programLevel.Set(slog.LevelDebug)
	case "warn":
		programLevel.Set(slog.LevelWarn)
	case "error":
		programLevel.Set(slog.LevelError)
	default:
		programLevel.Set(slog.LevelInfo)
	}
}
