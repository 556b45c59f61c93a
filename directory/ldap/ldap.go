package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	goldap "github.com/go-ldap/ldap/v3"

	"go.hackfix.me/tilde/directory/types"
)

// Session is the subset of an LDAP connection used by the Resolver.
type Session interface {
	Bind(username, password string) error
	Search(req *goldap.SearchRequest) (*goldap.SearchResult, error)
	SetTimeout(timeout time.Duration)
	Close() error
}

// Dialer opens a new Session to the LDAP server at the given URL.
type Dialer func(ctx context.Context, serverURL string) (Session, error)

// Config holds the LDAP connection and search parameters.
type Config struct {
	// URLs are the LDAP servers to choose from. If empty, servers are
	// discovered with an SRV lookup under Domain.
	URLs []string
	// Domain is the DNS domain used for SRV discovery.
	Domain string
	// Scheme is the URL scheme used for discovered servers, e.g. "ldaps".
	Scheme string

	BindDN       string
	BindPassword string

	// BaseDN is the search base for identity records.
	BaseDN string
	// IdentityAttribute is matched against the username, e.g. "uid".
	IdentityAttribute string
	// HomeAttribute holds the home directory path, e.g. "homeDirectory".
	HomeAttribute string
	// Timeout bounds every LDAP operation.
	Timeout time.Duration

	InsecureSkipVerify bool
}

// Resolver resolves usernames to home directories using a single long-lived
// LDAP session. All lookups are serialized on that session. If the session
// fails, it's dropped and re-established by a later lookup, as allowed by the
// reconnection backoff schedule.
type Resolver struct {
	cfg      Config
	dial     Dialer
	discover Discoverer
	pick     func(n int) int
	timeNow  func() time.Time
	logger   *slog.Logger

	mx      sync.Mutex
	sess    Session
	backoff backoff.BackOff
	retryAt time.Time
}

var _ types.Resolver = &Resolver{}

// New returns a new Resolver. It doesn't connect to the server; call Connect
// to establish the session eagerly, otherwise the first lookup will.
func New(cfg Config, opts ...Option) (*Resolver, error) {
	if cfg.BaseDN == "" {
		return nil, errors.New("LDAP base DN is required")
	}
	if len(cfg.URLs) == 0 && cfg.Domain == "" {
		return nil, errors.New("either LDAP server URLs or a DNS domain for discovery is required")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "ldaps"
	}
	if cfg.IdentityAttribute == "" {
		cfg.IdentityAttribute = "uid"
	}
	if cfg.HomeAttribute == "" {
		cfg.HomeAttribute = "homeDirectory"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	r := &Resolver{cfg: cfg}

	opts = append(DefaultOptions(cfg), opts...)
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.backoff.Reset()

	return r, nil
}

// Connect discovers the LDAP servers, picks one at random, connects to it and
// binds with the service credentials. An existing session is replaced.
func (r *Resolver) Connect(ctx context.Context) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	r.dropSession()
	if err := r.connect(ctx); err != nil {
		r.scheduleRetry()
		return err
	}

	return nil
}

// Resolve implements the types.Resolver interface.
func (r *Resolver) Resolve(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", types.ErrIdentityNotFound
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	if r.sess == nil {
		if now := r.timeNow(); now.Before(r.retryAt) {
			return "", types.NewUnavailableError("connect",
				fmt.Errorf("next reconnection attempt in %s", r.retryAt.Sub(now).Round(time.Millisecond)))
		}
		if err := r.connect(ctx); err != nil {
			r.scheduleRetry()
			return "", err
		}
	}

	req := goldap.NewSearchRequest(
		r.cfg.BaseDN,
		goldap.ScopeWholeSubtree, goldap.NeverDerefAliases,
		0, int(r.cfg.Timeout.Seconds()), false,
		fmt.Sprintf("(%s=%s)", r.cfg.IdentityAttribute, goldap.EscapeFilter(username)),
		[]string{r.cfg.HomeAttribute},
		nil,
	)

	res, err := r.sess.Search(req)
	if err != nil {
		if goldap.IsErrorWithCode(err, goldap.ErrorNetwork) {
			r.logger.Warn("LDAP session lost; it will be re-established on the next lookup",
				"error", err.Error())
			r.dropSession()
		}
		return "", types.NewUnavailableError("search", err)
	}

	if len(res.Entries) != 1 {
		r.logger.Debug("no single identity matched",
			"username", username, "matches", len(res.Entries))
		return "", types.ErrIdentityNotFound
	}

	home := res.Entries[0].GetAttributeValue(r.cfg.HomeAttribute)
	if home == "" || !path.IsAbs(home) {
		r.logger.Warn("identity has an invalid home directory",
			"username", username, "dn", res.Entries[0].DN, "home", home)
		return "", types.ErrIdentityNotFound
	}

	return path.Clean(home), nil
}

// Close implements the types.Resolver interface.
func (r *Resolver) Close() error {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.sess == nil {
		return nil
	}
	err := r.sess.Close()
	r.sess = nil

	return err //nolint:wrapcheck // Wrapped by caller.
}

// connect establishes a new session. The caller must hold r.mx.
func (r *Resolver) connect(ctx context.Context) error {
	urls := r.cfg.URLs
	if len(urls) == 0 {
		var err error
		urls, err = r.discover(ctx, r.cfg.Scheme, r.cfg.Domain)
		if err != nil {
			return types.NewUnavailableError("discover", err)
		}
		if len(urls) == 0 {
			return types.NewUnavailableError("discover",
				fmt.Errorf("no LDAP servers found under domain '%s'", r.cfg.Domain))
		}
	}

	serverURL := urls[r.pick(len(urls))]
	logger := r.logger.With("server", serverURL)

	sess, err := r.dial(ctx, serverURL)
	if err != nil {
		logger.Warn("failed connecting to LDAP server", "error", err.Error())
		return types.NewUnavailableError("dial", err)
	}
	sess.SetTimeout(r.cfg.Timeout)

	if r.cfg.BindDN != "" {
		if err = sess.Bind(r.cfg.BindDN, r.cfg.BindPassword); err != nil {
			_ = sess.Close()
			logger.Warn("failed binding to LDAP server", "bind_dn", r.cfg.BindDN, "error", err.Error())
			return types.NewUnavailableError("bind", err)
		}
	}

	r.sess = sess
	r.backoff.Reset()
	r.retryAt = time.Time{}
	logger.Info("connected to LDAP server")

	return nil
}

// dropSession closes and discards the current session. The next lookup may
// reconnect right away. The caller must hold r.mx.
func (r *Resolver) dropSession() {
	if r.sess == nil {
		return
	}
	_ = r.sess.Close()
	r.sess = nil
	r.retryAt = time.Time{}
}

// scheduleRetry postpones the next connection attempt according to the
// backoff schedule. The caller must hold r.mx.
func (r *Resolver) scheduleRetry() {
	next := r.backoff.NextBackOff()
	if next == backoff.Stop {
		next = maxRetryInterval
	}
	r.retryAt = r.timeNow().Add(next)
	r.logger.Debug("scheduled LDAP reconnection", "retry_in", next)
}

const maxRetryInterval = time.Minute

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = maxRetryInterval
	b.MaxElapsedTime = 0
	return b
}

// DialTLS returns a Dialer that connects with go-ldap. ldaps URLs use TLS with
// the server name taken from the URL.
func DialTLS(insecureSkipVerify bool, timeout time.Duration) Dialer {
	return func(_ context.Context, serverURL string) (Session, error) {
		u, err := url.Parse(serverURL)
		if err != nil {
			return nil, fmt.Errorf("failed parsing LDAP server URL '%s': %w", serverURL, err)
		}

		tlsCfg := &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ServerName:         u.Hostname(),
			InsecureSkipVerify: insecureSkipVerify, //nolint:gosec // Opt-in, for testing.
		}
		conn, err := goldap.DialURL(serverURL,
			goldap.DialWithDialer(&net.Dialer{Timeout: timeout}),
			goldap.DialWithTLSConfig(tlsCfg),
		)
		if err != nil {
			return nil, err //nolint:wrapcheck // Wrapped by caller.
		}

		return conn, nil
	}
}

func randomIndex(n int) int {
	return rand.IntN(n) //nolint:gosec // Load spreading, not security sensitive.
}
