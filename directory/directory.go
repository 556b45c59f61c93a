package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.hackfix.me/tilde/app/config"
	"go.hackfix.me/tilde/directory/ldap"
	"go.hackfix.me/tilde/directory/static"
	"go.hackfix.me/tilde/directory/types"
)

// Instrumented wraps a Resolver to log failed lookups and record metrics.
type Instrumented struct {
	resolver types.Resolver
	metrics  *Metrics
	timeNow  func() time.Time
	logger   *slog.Logger
}

var _ types.Resolver = &Instrumented{}

// NewInstrumented returns a new Instrumented resolver. metrics may be nil.
func NewInstrumented(resolver types.Resolver, metrics *Metrics, logger *slog.Logger) *Instrumented {
	return &Instrumented{
		resolver: resolver,
		metrics:  metrics,
		timeNow:  time.Now,
		logger:   logger.With("component", "directory"),
	}
}

// Resolve implements the types.Resolver interface.
func (i *Instrumented) Resolve(ctx context.Context, username string) (string, error) {
	start := i.timeNow()
	home, err := i.resolver.Resolve(ctx, username)
	elapsed := i.timeNow().Sub(start)

	result := "found"
	switch {
	case err == nil:
	case errors.Is(err, types.ErrIdentityNotFound):
		result = "not_found"
	case errors.Is(err, types.ErrDirectoryUnavailable):
		result = "unavailable"
	default:
		result = "error"
	}
	// Failures are reported by the caller.
	i.logger.Debug("directory lookup",
		"username", username, "result", result, "duration", elapsed)
	i.metrics.observe(result, elapsed.Seconds())

	return home, err //nolint:wrapcheck // Typed errors are propagated as-is.
}

// Close implements the types.Resolver interface.
func (i *Instrumented) Close() error {
	return i.resolver.Close() //nolint:wrapcheck // Wrapped by caller.
}

// Setup creates the Resolver of the configured directory type. LDAP resolvers
// attempt to connect right away; a failure is logged and the resolver is
// returned anyway, since it reconnects on demand.
//
//nolint:ireturn // Intentional, this is a generic function.
func Setup(ctx context.Context, cfg config.Directory, logger *slog.Logger) (types.Resolver, error) {
	dt := types.DirectoryLDAP
	if cfg.Type.Valid {
		dt = cfg.Type.V
	}

	switch dt {
	case types.DirectoryStatic:
		return static.New(cfg.Homes), nil
	case types.DirectoryLDAP:
		r, err := ldap.New(ldap.Config{
			URLs:               cfg.URLs,
			Domain:             cfg.Domain.V,
			Scheme:             cfg.Scheme.V,
			BindDN:             cfg.BindDN.V,
			BindPassword:       cfg.BindPassword.V,
			BaseDN:             cfg.BaseDN.V,
			IdentityAttribute:  cfg.IdentityAttribute.V,
			HomeAttribute:      cfg.HomeAttribute.V,
			Timeout:            cfg.Timeout.V,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}, ldap.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed creating LDAP resolver: %w", err)
		}
		if err = r.Connect(ctx); err != nil {
			logger.Warn("initial LDAP connection failed; lookups will retry", "error", err.Error())
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported directory type '%s'", dt)
	}
}
