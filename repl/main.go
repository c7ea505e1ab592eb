// Command typira-repl is an interactive test keyboard for typira.
// It reads raw terminal keys into a keyboard session and writes every UI
// event as a TOML record to stdout.
//
// Usage:
//
//	./typira-repl             # interactive, TOML on screen
//	./typira-repl > log.toml  # keyboard on screen, TOML to file
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Paranoid-AF/typira"
	"github.com/Paranoid-AF/typira/keyboard"
	"github.com/Paranoid-AF/typira/store"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		app     string
		logPath string
	)
	cmd := &cobra.Command{
		Use:           "typira-repl",
		Short:         "Type into a terminal keyboard backed by typira",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(app, logPath)
		},
	}
	cmd.Flags().StringVar(&app, "app", "typira-repl", "app context reported for the field")
	cmd.Flags().StringVar(&logPath, "log", "", "write debug logs to this file")
	return cmd
}

func run(app, logPath string) error {
	logOut := io.Discard
	level := slog.LevelInfo
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer f.Close()
		logOut = f
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level})))

	cfg, err := typira.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, w := range typira.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}

	mem, err := store.OpenSQLiteMemories(typira.MemoryPath(cfg))
	if err != nil {
		return fmt.Errorf("open memories: %w", err)
	}
	defer mem.Close()

	t, err := OpenTerminal()
	if err != nil {
		return err
	}
	defer t.Close()

	doc := &Document{}
	scr := newScreen(t.Tty(), termWriter(os.Stdout), doc)
	sess, err := keyboard.New(keyboard.Options{
		Config:   cfg,
		UI:       scr,
		Document: doc,
		Memories: mem,
		Version:  Version,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	return loop(NewKeyReader(t.Tty()), sess, doc, scr, app)
}

// session is the part of keyboard.Session driven by keys.
type session interface {
	Focus(field typira.Field, doc keyboard.Document)
	Typed(text string)
	Backspace()
	DocumentChanged()
	Tap(id string)
	AcceptSuggestion()
}

// loop feeds keys into sess until the user quits or input ends.
func loop(keys *KeyReader, sess session, doc *Document, scr *screen, app string) error {
	field := typira.Field{App: app}
	sess.Focus(field, nil)
	scr.Redraw()

	for {
		k, err := keys.ReadKey()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch k.Kind {
		case KeyQuit:
			return nil
		case KeyText:
			doc.Insert(k.Text)
			sess.Typed(k.Text)
		case KeyBackspace:
			if doc.Backspace() {
				sess.Backspace()
			}
		case KeyAccept:
			sess.AcceptSuggestion()
		case KeyLeft, KeyRight:
			delta := 1
			if k.Kind == KeyLeft {
				delta = -1
			}
			if doc.Move(delta) {
				sess.DocumentChanged()
			}
		case KeyNewField:
			doc.Reset()
			field.Secure = false
			scr.SetSecure(false)
			sess.Focus(field, nil)
		case KeySecure:
			field.Secure = !field.Secure
			scr.SetSecure(field.Secure)
			sess.Focus(field, nil)
		case KeyChip:
			if id, ok := scr.Chip(k.Text); ok {
				sess.Tap(id)
			}
		}
		scr.Redraw()
	}
}
