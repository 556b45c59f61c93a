package gate

import (
	"fmt"

	"go.hackfix.me/tilde/app/config"
)

// Gates holds the gates guarding each content tree.
type Gates struct {
	Public  Gate
	Private Gate
}

// Setup creates the gates described by the authorization configuration. The
// private tree always requires authorization. The public tree requires it
// unless its access policy is open. A restricted tree with no configured API
// keys or trusted networks denies every request.
func Setup(cfg config.Auth) (*Gates, error) {
	var restricted []Gate
	if len(cfg.APIKeys) > 0 {
		g, err := NewAPIKey(cfg.APIKeys...)
		if err != nil {
			return nil, fmt.Errorf("failed creating API key gate: %w", err)
		}
		restricted = append(restricted, g)
	}
	if len(cfg.TrustedNetworks) > 0 {
		g, err := NewNetwork(cfg.TrustedNetworks...)
		if err != nil {
			return nil, fmt.Errorf("failed creating trusted network gate: %w", err)
		}
		restricted = append(restricted, g)
	}

	gates := &Gates{Private: AnyOf(restricted...)}
	if cfg.PublicAccess.Valid && cfg.PublicAccess.V == config.AccessOpen {
		gates.Public = AllowAll
	} else {
		gates.Public = gates.Private
	}

	return gates, nil
}
