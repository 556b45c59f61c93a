package cli

import (
	"fmt"

	"go.hackfix.me/tilde/app/config"
	actx "go.hackfix.me/tilde/app/context"
	"go.hackfix.me/tilde/web/server/gate"
)

// Keygen generates a new API key and its bcrypt hash.
type Keygen struct {
	Save bool `help:"Add the key hash to the configuration file."`
}

// Run the keygen command.
func (c *Keygen) Run(appCtx *actx.Context) error {
	key, hash, err := gate.GenerateAPIKey()
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	if c.Save {
		// Reload the file, so that defaults and environment overrides applied
		// to the running configuration aren't persisted.
		cfg := config.NewConfig(appCtx.FS, appCtx.Config.Path())
		if err = cfg.Load(); err != nil {
			return err //nolint:wrapcheck // Already wrapped.
		}
		cfg.Auth.APIKeys = append(cfg.Auth.APIKeys, hash)
		if err = cfg.Save(); err != nil {
			return err //nolint:wrapcheck // Already wrapped.
		}
		appCtx.Logger.Info("saved API key hash", "config_file", cfg.Path())
	}

	if _, err = fmt.Fprintf(appCtx.Stdout, "key: %s\nhash: %s\n", key, hash); err != nil {
		return fmt.Errorf("failed writing output: %w", err)
	}

	return nil
}
