package ldap

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Option is a function that allows configuring the Resolver.
type Option func(*Resolver) error

// WithDialer sets the function used to open LDAP sessions.
func WithDialer(dial Dialer) Option {
	return func(r *Resolver) error {
		if dial == nil {
			return errors.New("dialer must not be nil")
		}
		r.dial = dial
		return nil
	}
}

// WithDiscoverer sets the function used to discover LDAP servers.
func WithDiscoverer(discover Discoverer) Option {
	return func(r *Resolver) error {
		if discover == nil {
			return errors.New("discoverer must not be nil")
		}
		r.discover = discover
		return nil
	}
}

// WithBackOff sets the reconnection schedule used after failed connection
// attempts.
func WithBackOff(b backoff.BackOff) Option {
	return func(r *Resolver) error {
		if b == nil {
			return errors.New("backoff must not be nil")
		}
		r.backoff = b
		return nil
	}
}

// WithPicker sets the function used to choose one of n discovered servers.
func WithPicker(pick func(n int) int) Option {
	return func(r *Resolver) error {
		if pick == nil {
			return errors.New("picker must not be nil")
		}
		r.pick = pick
		return nil
	}
}

// WithTimeNow sets the function used to retrieve the current time.
func WithTimeNow(timeNow func() time.Time) Option {
	return func(r *Resolver) error {
		if timeNow == nil {
			return errors.New("time function must not be nil")
		}
		r.timeNow = timeNow
		return nil
	}
}

// WithLogger sets the logger used by the Resolver.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) error {
		r.logger = logger.With("component", "ldap")
		return nil
	}
}

// DefaultOptions returns the default Resolver options.
func DefaultOptions(cfg Config) []Option {
	return []Option{
		WithDialer(DialTLS(cfg.InsecureSkipVerify, cfg.Timeout)),
		WithDiscoverer(DiscoverSRV(net.DefaultResolver)),
		WithBackOff(newBackOff()),
		WithPicker(randomIndex),
		WithTimeNow(time.Now),
		WithLogger(slog.Default()),
	}
}
