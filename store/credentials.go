// Package store holds the keyboard's local state: the auth token used by the
// agent channel and the remembered snippets used as suggestion context.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/natefinch/atomic"
	"github.com/zalando/go-keyring"
)

// ErrNoToken means no auth token is stored. Callers connect without one.
var ErrNoToken = errors.New("store: no auth token")

// CredentialStore supplies the bearer token for the agent backend.
type CredentialStore interface {
	Token() (string, error)
}

// StaticCredentials is a fixed token, typically from $TYPIRA_TOKEN.
type StaticCredentials string

func (s StaticCredentials) Token() (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// KeyringCredentials reads the token from the OS keyring.
type KeyringCredentials struct {
	Service string
	Key     string
}

func (k KeyringCredentials) Token() (string, error) {
	secret, err := keyring.Get(k.Service, k.Key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read keyring %s/%s: %w", k.Service, k.Key, err)
	}
	return normalizeToken(secret)
}

// Save stores token in the keyring.
func (k KeyringCredentials) Save(token string) error {
	if err := keyring.Set(k.Service, k.Key, token); err != nil {
		return fmt.Errorf("write keyring %s/%s: %w", k.Service, k.Key, err)
	}
	return nil
}

// FileCredentials reads the token from a file.
type FileCredentials struct {
	Path string
}

func (f FileCredentials) Token() (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	return normalizeToken(string(data))
}

// Save writes token to the file, replacing it atomically.
func (f FileCredentials) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := atomic.WriteFile(f.Path, strings.NewReader(token+"\n")); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return os.Chmod(f.Path, 0o600)
}

// Tokens are sometimes stored JSON-quoted; strip whitespace and one pair of quotes.
func normalizeToken(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		return "", ErrNoToken
	}
	return s, nil
}

// TokenExpired reports whether token is a JWT whose exp claim has passed.
// Opaque tokens and tokens without exp are never considered expired.
func TokenExpired(token string) bool {
	if token == "" {
		return false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		slog.Debug("auth token has no expiration", "error", err)
		return false
	}
	return exp.Before(time.Now())
}
