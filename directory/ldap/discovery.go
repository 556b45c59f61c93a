package ldap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Discoverer returns the URLs of the LDAP servers available under domain.
type Discoverer func(ctx context.Context, scheme, domain string) ([]string, error)

// SRVResolver looks up DNS SRV records. It's implemented by *net.Resolver.
type SRVResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// DiscoverSRV returns a Discoverer that looks up the _ldap._tcp SRV records of
// a domain. Each target becomes a URL with the given scheme. The SRV port is
// ignored, so that the scheme's default port applies; _ldap._tcp records
// usually advertise the plaintext port, even when LDAPS is available.
func DiscoverSRV(resolver SRVResolver) Discoverer {
	return func(ctx context.Context, scheme, domain string) ([]string, error) {
		if domain == "" {
			return nil, errors.New("empty discovery domain")
		}

		_, addrs, err := resolver.LookupSRV(ctx, "ldap", "tcp", domain)
		// The resolver may return valid records along with an error for
		// malformed ones.
		if err != nil && len(addrs) == 0 {
			return nil, fmt.Errorf("failed looking up LDAP SRV records for '%s': %w", domain, err)
		}

		urls := make([]string, 0, len(addrs))
		seen := make(map[string]struct{}, len(addrs))
		for _, addr := range addrs {
			target := strings.TrimSuffix(addr.Target, ".")
			if target == "" {
				continue
			}
			u := fmt.Sprintf("%s://%s", scheme, target)
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}

		return urls, nil
	}
}
