// Command simulcast-mpv is a single binary with four personalities,
// selected by its first argument, per SPEC_FULL.md §6:
//
//	simulcast-mpv                                run the installer
//	simulcast-mpv client --client-sock <path>    run the client adapter
//	simulcast-mpv relay --bind-address a --bind-port p   run the relay
//	simulcast-mpv input-reader --client-sock <path>      prompt for a room code
//
// Mirrors the teacher repo's cmd/v1/session/main.go: flags and a dotenv
// file feed internal/config, logging is initialized once up front, and
// SIGINT/SIGTERM drive a context-cancellation graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rtldg/simulcast-mpv/internal/client"
	"github.com/rtldg/simulcast-mpv/internal/config"
	"github.com/rtldg/simulcast-mpv/internal/errs"
	"github.com/rtldg/simulcast-mpv/internal/installer"
	"github.com/rtldg/simulcast-mpv/internal/inputreader"
	"github.com/rtldg/simulcast-mpv/internal/logging"
	"github.com/rtldg/simulcast-mpv/internal/playeripc"
	"github.com/rtldg/simulcast-mpv/internal/relay/bus"
	"github.com/rtldg/simulcast-mpv/internal/relay/registry"
	"github.com/rtldg/simulcast-mpv/internal/relay/server"
)

func main() {
	mode := "install"
	args := os.Args[1:]
	if len(args) > 0 && !isFlag(args[0]) {
		mode = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	flagSet := config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	scriptsDir, err := installer.ScriptsDir()
	if err != nil {
		scriptsDir = "" // Load still works, it just skips that dotenv search path.
	}

	cfg, err := config.Load(flagSet, scriptsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errs.ExitCode(errs.ErrConfig))
	}

	if err := logging.Initialize(cfg.Development); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}
	defer logging.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Info(ctx, "shutdown signal received")
		cancel()
	}()

	var runErr error
	switch mode {
	case "install":
		runErr = runInstall(ctx, scriptsDir)
	case "client":
		runErr = client.Run(ctx, cfg)
	case "relay":
		runErr = runRelay(ctx, cfg)
	case "input-reader":
		runErr = runInputReader(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "simulcast-mpv: unknown mode %q (expected client, relay, or input-reader)\n", mode)
		os.Exit(errs.ExitCode(errs.ErrConfig))
	}

	if runErr != nil && ctx.Err() == nil {
		logging.Error(ctx, "exiting with error", zap.Error(runErr))
	}
	os.Exit(errs.ExitCode(runErr))
}

// isFlag reports whether arg looks like a flag rather than a subcommand
// name, so "simulcast-mpv --dev" without an explicit mode still runs the
// installer instead of being rejected as an unknown mode.
func isFlag(arg string) bool {
	return len(arg) > 0 && arg[0] == '-'
}

func runInstall(ctx context.Context, scriptsDir string) error {
	if scriptsDir == "" {
		return fmt.Errorf("installer: %w: could not determine the player scripts directory", errs.ErrConfig)
	}
	result, err := installer.Install(ctx, scriptsDir)
	if err != nil {
		return err
	}
	logging.Info(ctx, "installation complete",
		zap.String("binary", result.BinaryPath),
		zap.String("script", result.ScriptPath),
		zap.String("env_template", result.EnvPath),
	)
	return nil
}

// runRelay wires the registry, the optional Redis cross-instance bus, and
// the HTTP/WebSocket server together and serves until ctx is canceled.
func runRelay(ctx context.Context, cfg *config.Config) error {
	reg := registry.New()
	defer reg.Close()

	var busSvc *bus.Service
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		svc, err := bus.NewService(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("relay: %w: %v", errs.ErrConfig, err)
		}
		defer svc.Close()
		busSvc = svc

		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()

		reg.SetFanout(func(roomID, fromMemberID, msgType string, payload []byte) {
			busSvc.Publish(ctx, bus.Envelope{RoomID: roomID, FromMemberID: fromMemberID, MsgType: msgType, Payload: payload})
		})
		go busSvc.Subscribe(ctx, func(env bus.Envelope) {
			reg.BroadcastRemote(env.RoomID, env.FromMemberID, env.Payload, env.MsgType)
		})
	}

	srv, err := server.New(cfg, reg, busSvc, redisClient)
	if err != nil {
		return fmt.Errorf("relay: %w: %v", errs.ErrConfig, err)
	}

	return srv.ListenAndServe(ctx)
}

func runInputReader(ctx context.Context, cfg *config.Config) error {
	if cfg.ClientSock == "" {
		return fmt.Errorf("input-reader: %w: --client-sock is required", errs.ErrConfig)
	}
	ipc, err := playeripc.Dial(ctx, cfg.ClientSock)
	if err != nil {
		return fmt.Errorf("input-reader: %w: %v", errs.ErrPlayerUnavailable, err)
	}
	defer ipc.Close()

	return inputreader.Prompt(ctx, ipc, os.Stdin, os.Stdout)
}
