package cli

import (
	"errors"
	"fmt"

	actx "go.hackfix.me/tilde/app/context"
	"go.hackfix.me/tilde/directory"
	"go.hackfix.me/tilde/directory/types"
)

// Lookup resolves usernames with the configured directory service, and prints
// their home directories.
type Lookup struct {
	Usernames []string `arg:"" help:"Usernames to resolve."`
}

// Run the lookup command.
func (c *Lookup) Run(appCtx *actx.Context) error {
	resolver, err := directory.Setup(appCtx.Ctx, appCtx.Config.Directory, appCtx.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resolver.Close(); cerr != nil {
			appCtx.Logger.Warn("failed closing directory resolver", "error", cerr.Error())
		}
	}()

	var (
		data        = make([][]string, 0, len(c.Usernames))
		unavailable error
	)
	for _, username := range c.Usernames {
		home, rerr := resolver.Resolve(appCtx.Ctx, username)
		switch {
		case rerr == nil:
			data = append(data, []string{username, home, "found"})
		case errors.Is(rerr, types.ErrIdentityNotFound):
			data = append(data, []string{username, "", "not found"})
		case errors.Is(rerr, types.ErrDirectoryUnavailable):
			data = append(data, []string{username, "", "unavailable"})
			unavailable = rerr
		default:
			return fmt.Errorf("failed resolving '%s': %w", username, rerr)
		}
	}

	if err = renderTable([]string{"Username", "Home", "Status"}, data, appCtx.Stdout); err != nil {
		return fmt.Errorf("failed rendering table: %w", err)
	}

	return unavailable //nolint:wrapcheck // Typed error is propagated as-is.
}
