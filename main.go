package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"tradedash-client/internal/config"
	"tradedash-client/internal/logging"
	"tradedash-client/internal/realtime"
	"tradedash-client/internal/runtime"
	"tradedash-client/internal/ui/console"

	flags "github.com/jessevdk/go-flags"
)

var BuildVersion = "dev"

func main() {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	opts, err := config.ParseOptions(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := config.ValidateRequired(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.New(opts.Debug)
	if opts.PersistLogs {
		if err := logger.EnableFilePersistence(0); err != nil {
			logger.Warn("failed to enable file log persistence", logging.Field("error", err))
		}
	}
	logger.Info("starting tradedash client", logging.Field("version", BuildVersion))

	code := run(rootCtx, opts, logger)
	_ = logger.Close()
	os.Exit(code)
}

func run(ctx context.Context, opts config.Options, logger *logging.Logger) int {
	if opts.TUI && !opts.Logout {
		if err := console.Run(ctx, BuildVersion, opts, logger); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	service, err := runtime.NewServiceWithHooks(opts, logger, runtime.StartHooks{
		OnMessage: jsonLines(os.Stdout),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := service.RunContext(ctx); err != nil {
		logger.Error("dashboard client stopped", logging.Field("error", err))
		return 1
	}
	return 0
}

// jsonLines writes every application message to out as one JSON object per
// line, leaving stderr to the logger.
func jsonLines(out *os.File) func(realtime.Envelope) {
	var mu sync.Mutex
	enc := json.NewEncoder(out)
	return func(env realtime.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(env)
	}
}
