package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/weft/internal/config"
	"github.com/aretw0/weft/internal/logging"
)

// WithShutdownSignal returns a context cancelled on SIGINT or SIGTERM. The returned stop
// function releases the signal handler and reports which signal fired, if any.
func WithShutdownSignal(parent context.Context) (context.Context, func() os.Signal) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var got os.Signal
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case got = <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() os.Signal {
		signal.Stop(sigCh)
		cancel()
		<-done
		return got
	}
}

// LoadConfig reads the config file and applies the log level override, if any.
func LoadConfig(path, logLevel string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, cfg.Validate()
}

// CreateLogger configures the application logger. It writes to Stderr so Stdout stays
// free for command output and JSON-RPC.
func CreateLogger(cfg config.Config) *slog.Logger {
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	format, _ := logging.ParseFormat(cfg.Log.Format)
	return logging.New(os.Stderr, level, format)
}

// printSystemMessage prints a standardized system message.
func printSystemMessage(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, ">>> %s\n", fmt.Sprintf(format, args...))
}

// isInterrupted reports whether err only says the command was cancelled.
func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}

// HandleExecutionError turns interruptions into a clean exit.
func HandleExecutionError(err error) error {
	if err == nil || isInterrupted(err) {
		return nil
	}
	return err
}
