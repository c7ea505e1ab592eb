package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Paranoid-AF/typira/store"
)

func newLoginCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store the agent auth token read from stdin",
		Long: "Reads one token line from stdin and saves it to the configured\n" +
			"credentials source (keyring or token file).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return login(cmd, flags)
		},
	}
}

func login(cmd *cobra.Command, flags *rootFlags) error {
	cfg, err := loadConfig(flags.config)
	if err != nil {
		return err
	}
	saver, err := store.SaverFromConfig(cfg)
	if err != nil {
		return err
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return errors.New("no token on stdin")
	}
	if store.TokenExpired(token) {
		slog.Warn("token is already expired")
	}

	if err := saver.Save(token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	source := cfg.Credentials.Source
	if source == "" {
		source = "keyring"
	}
	fmt.Fprintln(cmd.OutOrStdout(), "token saved to", source)
	return nil
}
