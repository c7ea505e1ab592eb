// Command typirad is the typira keyboard daemon.
// It listens on a Unix domain socket for keyboard front ends, hosts one
// keyboard session per connection, and syncs typing context with the agent
// backend.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Paranoid-AF/typira"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	os.Exit(execute(newRootCmd(), os.Stderr))
}

// execute runs cmd and reports a failure on stderr.
func execute(cmd *cobra.Command, stderr io.Writer) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

type rootFlags struct {
	verbose     bool
	showVersion bool
	socket      string
	config      string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:           "typirad",
		Short:         "Run the typira keyboard daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), "typirad", Version)
				return nil
			}
			return run(&flags)
		},
	}
	cmd.Flags().BoolVar(&flags.showVersion, "version", false, "print version and exit")
	cmd.Flags().BoolVar(&flags.verbose, "verbose", false, "log every event to stderr")
	cmd.Flags().StringVar(&flags.socket, "socket", "", "socket path (default $TYPIRA_SOCKET or the runtime dir)")
	cmd.PersistentFlags().StringVar(&flags.config, "config", "", "config file (default "+typira.ConfigPath()+")")
	cmd.AddCommand(newLoginCmd(&flags))
	return cmd
}

func run(flags *rootFlags) error {
	level := slog.LevelInfo
	if flags.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig(flags.config)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}
	for _, w := range typira.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}

	socketPath := flags.socket
	if socketPath == "" {
		socketPath = resolveSocketPath()
	}

	slog.Info("starting", "socket", socketPath, "backend", typira.ResolveBackendURL(cfg))

	srv, err := NewServer(socketPath, cfg)
	if err != nil {
		slog.Error("failed to start server", "error", err)
		return err
	}
	defer srv.Close()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("shutting down")
		srv.Close()
	}()

	slog.Info("ready")
	if err := srv.Serve(); err != nil && !srv.isClosed() {
		slog.Error("server error", "error", err)
		return err
	}
	return nil
}

func loadConfig(path string) (*typira.Config, error) {
	if path == "" {
		path = typira.ConfigPath()
	}
	cfg, err := typira.LoadConfigFrom(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func resolveSocketPath() string {
	if path := os.Getenv("TYPIRA_SOCKET"); path != "" {
		return path
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/typira.sock"
	}
	return fmt.Sprintf("/tmp/typira-%d.sock", os.Getuid())
}
