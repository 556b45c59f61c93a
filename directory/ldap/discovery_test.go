package ldap_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/tilde/directory/ldap"
)

type fakeSRV struct {
	addrs []*net.SRV
	err   error
	query []string
}

func (f *fakeSRV) LookupSRV(_ context.Context, service, proto, name string) (string, []*net.SRV, error) {
	f.query = []string{service, proto, name}
	return "", f.addrs, f.err
}

func TestDiscoverSRV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		domain  string
		addrs   []*net.SRV
		err     error
		expURLs []string
		expErr  string
	}{
		{
			name:   "ok/multiple",
			domain: "example.com",
			addrs: []*net.SRV{
				{Target: "ldap1.example.com.", Port: 389},
				{Target: "ldap2.example.com.", Port: 389},
			},
			expURLs: []string{"ldaps://ldap1.example.com", "ldaps://ldap2.example.com"},
		},
		{
			name:   "ok/duplicates_and_empty_targets_skipped",
			domain: "example.com",
			addrs: []*net.SRV{
				{Target: "ldap1.example.com.", Port: 389},
				{Target: "ldap1.example.com.", Port: 636},
				{Target: ".", Port: 389},
			},
			expURLs: []string{"ldaps://ldap1.example.com"},
		},
		{
			name:    "ok/partial_records_with_error",
			domain:  "example.com",
			addrs:   []*net.SRV{{Target: "ldap1.example.com.", Port: 389}},
			err:     errors.New("cannot unmarshal DNS message"),
			expURLs: []string{"ldaps://ldap1.example.com"},
		},
		{
			name:   "err/lookup_failed",
			domain: "example.com",
			err:    errors.New("no such host"),
			expErr: "failed looking up LDAP SRV records for 'example.com': no such host",
		},
		{
			name:   "err/empty_domain",
			expErr: "empty discovery domain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := &fakeSRV{addrs: tt.addrs, err: tt.err}
			urls, err := ldap.DiscoverSRV(srv)(context.Background(), "ldaps", tt.domain)
			if tt.expErr != "" {
				require.EqualError(t, err, tt.expErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expURLs, urls)
			assert.Equal(t, []string{"ldap", "tcp", tt.domain}, srv.query)
		})
	}
}
