package store

import (
	"fmt"
	"log/slog"

	"github.com/Paranoid-AF/typira"
)

// TokenSaver is a credential store that can persist a new token.
type TokenSaver interface {
	CredentialStore
	Save(token string) error
}

// CredentialsFromConfig selects the credential store named by the config.
// $TYPIRA_TOKEN takes precedence over every configured source.
func CredentialsFromConfig(cfg *typira.Config) CredentialStore {
	if tok := typira.ResolveToken(); tok != "" {
		return StaticCredentials(tok)
	}
	if cfg == nil {
		return StaticCredentials("")
	}
	saver, err := SaverFromConfig(cfg)
	if err != nil {
		if src := cfg.Credentials.Source; src != "none" {
			slog.Warn("connecting without credentials", "source", src, "error", err)
		}
		return StaticCredentials("")
	}
	return saver
}

// SaverFromConfig returns the configured store a login writes to.
// $TYPIRA_TOKEN is ignored here.
func SaverFromConfig(cfg *typira.Config) (TokenSaver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("no config")
	}
	c := cfg.Credentials
	switch c.Source {
	case "keyring", "":
		return KeyringCredentials{Service: c.KeyringService, Key: c.KeyringKey}, nil
	case "file":
		if c.TokenFile == "" {
			return nil, fmt.Errorf("credentials.token_file is empty")
		}
		return FileCredentials{Path: c.TokenFile}, nil
	}
	return nil, fmt.Errorf("credentials source %q cannot store tokens", c.Source)
}
