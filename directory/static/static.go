package static

import (
	"context"
	"path"
	"sync"

	"go.hackfix.me/tilde/directory/types"
)

// Static resolves usernames from a fixed map of home directories. It's meant
// for development and testing, where running an LDAP server isn't practical.
type Static struct {
	mx      sync.RWMutex
	homes   map[string]string
	failErr error // to simulate errors
}

var _ types.Resolver = &Static{}

// New returns a new Static resolver. Home directory paths that aren't absolute
// are ignored.
func New(homes map[string]string) *Static {
	s := &Static{homes: make(map[string]string, len(homes))}
	for user, home := range homes {
		if path.IsAbs(home) {
			s.homes[user] = path.Clean(home)
		}
	}
	return s
}

// Resolve implements the types.Resolver interface.
func (s *Static) Resolve(_ context.Context, username string) (string, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	if s.failErr != nil {
		return "", s.failErr
	}

	home, ok := s.homes[username]
	if !ok || username == "" {
		return "", types.ErrIdentityNotFound
	}

	return home, nil
}

// Close implements the types.Resolver interface.
func (s *Static) Close() error {
	return nil
}

// SetFailError makes all subsequent lookups return err. A nil err restores
// normal operation.
func (s *Static) SetFailError(err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.failErr = err
}
