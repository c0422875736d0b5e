package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
)

var (
	sessionFlag string
	jsonFlag    bool
	timeoutFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "chatsyncctl",
	Short: "Control a running chatsyncd session",
	Long: `chatsyncctl talks to the chatsyncd daemon of a session over its unix
socket: connection control, dialogs, history, sending and search.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "request timeout")
}

// errDaemonDown is returned when no daemon holds the session lock.
var errDaemonDown = errors.New("daemon is not running")

// withClient resolves the session, checks that its daemon is alive and runs
// fn with a connected client. A zero timeout leaves ctx open until interrupt.
func withClient(timeout time.Duration, fn func(ctx context.Context, c *api.Client) error) error {
	name := session.Resolve(sessionFlag)
	if err := session.ValidateName(name); err != nil {
		return err
	}
	pid, err := lock.Holder(session.LockPath(name))
	if err != nil {
		return fmt.Errorf("session %q: %w", name, err)
	}
	if pid == 0 {
		return fmt.Errorf("session %q: %w", name, errDaemonDown)
	}

	conn, err := api.Dial(session.SocketPath(name))
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, timeout)
		defer stop()
	}
	return fn(ctx, api.NewClient(conn))
}
