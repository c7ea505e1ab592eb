package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Paranoid-AF/typira/store"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoginSavesToken(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token")
	cfgPath := writeConfig(t, "[credentials]\nsource = \"file\"\ntoken_file = \""+tokenPath+"\"\n")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("  abc.def.ghi  \n"))
	cmd.SetArgs([]string{"--config", cfgPath, "login"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	got, err := store.FileCredentials{Path: tokenPath}.Token()
	if err != nil || got != "abc.def.ghi" {
		t.Errorf("saved token = %q, %v; want %q", got, err, "abc.def.ghi")
	}
	if !strings.Contains(out.String(), "token saved to file") {
		t.Errorf("output = %q", out.String())
	}
}

func TestLoginErrors(t *testing.T) {
	tests := []struct {
		name   string
		config string
		stdin  string
	}{
		{"no token", "[credentials]\nsource = \"file\"\ntoken_file = \"" + filepath.Join(t.TempDir(), "t") + "\"\n", "\n"},
		{"source none", "[credentials]\nsource = \"none\"\n", "tok\n"},
		{"file without path", "[credentials]\nsource = \"file\"\n", "tok\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetIn(strings.NewReader(tt.stdin))
			cmd.SetArgs([]string{"--config", writeConfig(t, tt.config), "login"})
			if err := cmd.Execute(); err == nil {
				t.Error("login succeeded, want error")
			}
		})
	}
}

func TestUnknownFlagReported(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--no-such-flag"})
	var stderr bytes.Buffer
	if code := execute(cmd, &stderr); code != 1 {
		t.Errorf("execute() = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "no-such-flag") {
		t.Errorf("stderr = %q, want the flag error", stderr.String())
	}
}
