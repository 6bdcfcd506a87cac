package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/scamazon/storefront/internal/app"
	"github.com/scamazon/storefront/internal/cli"
	"github.com/scamazon/storefront/internal/config"
	"github.com/scamazon/storefront/internal/metrics"
	"github.com/scamazon/storefront/internal/version"
	"github.com/scamazon/storefront/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional; real environment variables win.
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	args, help, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		return err
	}
	if help {
		printUsage()
		return nil
	}
	if err := configureLogging(cfg); err != nil {
		return err
	}
	logger.Debugf("Config: APIURL=%s, HomeDir=%s", cfg.APIURL, cfg.HomeDir)

	if len(args) == 0 {
		printUsage()
		return nil
	}
	switch args[0] {
	case "help":
		printUsage()
		return nil
	case "version":
		fmt.Println(version.Full())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, m)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	session, err := app.New(cfg, app.WithMetrics(m))
	if err != nil {
		return err
	}
	defer session.Close()

	env := cli.Env{Session: session, In: os.Stdin, Out: os.Stdout}
	rest := args[1:]
	switch args[0] {
	case "login":
		return cli.LoginCommand(ctx, env, rest)
	case "logout":
		return cli.LogoutCommand(ctx, env)
	case "rooms":
		return cli.RoomsCommand(ctx, env)
	case "chat":
		return cli.ChatCommand(ctx, env, rest)
	case "room":
		return cli.RoomCommand(ctx, env, rest)
	case "notifications":
		return cli.NotificationsCommand(ctx, env, rest)
	case "events":
		return cli.EventsCommand(ctx, env)
	case "handoff":
		return cli.HandoffCommand(env, rest)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// parseFlags applies global flags to cfg and returns the remaining args.
func parseFlags(cfg *config.Config, args []string) ([]string, bool, error) {
	fs := flag.NewFlagSet("storefront", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	apiURL := fs.String("api-url", "", "Backend base URL")
	debug := fs.Bool("debug", false, "Enable debug logging")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, err
	}
	if *showHelp {
		return nil, true, nil
	}

	if *apiURL != "" {
		if err := cfg.SetAPIURL(*apiURL); err != nil {
			return nil, false, err
		}
	}
	if *debug {
		cfg.Debug = true
	}
	return fs.Args(), false, nil
}

func configureLogging(cfg *config.Config) error {
	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
		return nil
	}
	lvl, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(lvl)
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics listener: %v", err)
		}
	}()
	logger.Infof("Serving metrics on %s/metrics", addr)
	return srv
}

func printUsage() {
	fmt.Printf(`storefront %s

Usage:
  storefront [flags] <command> [args]

Commands:
  login -token <jwt> [-role customer|admin]  Store credentials
  logout                                     Sign out
  rooms                                      List chat rooms
  chat [-store N]                            Chat with a store
  room <id>                                  Open an existing room (admin)
  notifications [-read ID | -read-all]       Show notifications
  events                                     Print live events
  handoff [-store N]                         Show a QR code for the mobile app
  version                                    Show version

Flags:
  -api-url URL   Backend base URL (env STOREFRONT_API_URL)
  -debug         Enable debug logging (env STOREFRONT_DEBUG or DEBUG)
  -help          Show this help

Chat input:
  /older         Load older messages
  /image <url>   Send an image
  /upload <file> Upload and send an image
  /quit          Leave the chat
`, version.Version())
}
