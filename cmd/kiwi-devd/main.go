// ABOUTME: Entrypoint for the kiwi development backend: a local server with simulated generation jobs.
// ABOUTME: Parses flags, logs requests to stderr and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/2389-research/kiwi/devserver"
)

var version = "dev"

// config holds the parsed command-line flags.
type config struct {
	addr        string
	token       string
	password    string
	stepDelay   time.Duration
	heartbeat   time.Duration
	showVersion bool
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Printf("kiwi-devd %s\n", version)
		os.Exit(0)
	}
	os.Exit(run(cfg))
}

// parseFlags parses args; environment variables supply the defaults.
func parseFlags(args []string) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("kiwi-devd", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", envOr("KIWI_DEVD_ADDR", devserver.DefaultAddr), "Listen address")
	fs.StringVar(&cfg.token, "token", os.Getenv("KIWI_DEVD_TOKEN"), "Bearer token required on API routes (empty disables auth)")
	fs.StringVar(&cfg.password, "password", envOr("KIWI_DEVD_PASSWORD", devserver.DefaultPassword), "Password accepted by /auth/login")
	fs.DurationVar(&cfg.stepDelay, "step-delay", devserver.DefaultStepDelay, "Delay between simulated job steps")
	fs.DurationVar(&cfg.heartbeat, "heartbeat", 15*time.Second, "SSE heartbeat interval (0 disables)")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if cfg.stepDelay <= 0 {
		fmt.Fprintln(fs.Output(), "-step-delay must be positive")
		return config{}, errors.New("invalid -step-delay")
	}
	return cfg, nil
}

func run(cfg config) int {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	srv := devserver.New(devserver.Config{
		Addr:      cfg.addr,
		Token:     cfg.token,
		Password:  cfg.password,
		StepDelay: cfg.stepDelay,
		Heartbeat: cfg.heartbeat,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Printf("component=devserver action=listen addr=%s auth=%t", cfg.addr, cfg.token != "")
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("component=devserver action=serve err=%v", err)
		return 1
	}
	logger.Printf("component=devserver action=stopped")
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
