package config

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	dtypes "go.hackfix.me/tilde/directory/types"
)

// Config represents the application configuration, backed by a filesystem for
// persistence.
type Config struct {
	Server    Server
	Directory Directory
	Trees     Trees
	Auth      Auth

	fs   vfs.FileSystem
	path string
}

// NewConfig creates a new Config instance with the specified filesystem
// and configuration file path.
func NewConfig(fs vfs.FileSystem, path string) *Config {
	return &Config{fs: fs, path: path}
}

// Load reads and parses the configuration file from the filesystem.
// If the file doesn't exist, it initializes with an empty configuration.
func (c *Config) Load() error {
	configJSON, err := vfs.ReadFile(c.fs, c.path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("failed reading configuration file: %w", err)
	}

	// Ensure that unmarshalling JSON doesn't fail if the file doesn't exist or is empty.
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}

	if err = json.Unmarshal(configJSON, c); err != nil {
		return fmt.Errorf("failed parsing configuration file: %w", err)
	}

	return nil
}

// Path returns the filesystem path where the configuration is stored.
func (c *Config) Path() string {
	return c.path
}

// Save writes the current configuration to the filesystem as JSON.
func (c *Config) Save() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}
	configJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing configuration data: %w", err)
	}
	// The file may contain the directory bind password.
	if err = vfs.WriteFile(c.fs, c.path, configJSON, 0o600); err != nil {
		return fmt.Errorf("failed writing configuration file: %w", err)
	}

	return nil
}

// Server defines configuration options specific to the HTTP server.
type Server struct {
	// Address is the network address in [host]:port format the server will listen on.
	Address sql.Null[string] `json:"address"`
	// Metrics enables the Prometheus /metrics endpoint.
	Metrics bool `json:"metrics"`
}

// Directory defines how usernames are resolved to home directories.
type Directory struct {
	// Type is the directory backend. Default: ldap.
	Type sql.Null[dtypes.DirectoryType]
	// URLs are explicit LDAP server URLs. If empty, servers are discovered
	// with a DNS SRV lookup under Domain.
	URLs   []string
	Domain sql.Null[string]
	// Scheme is the URL scheme of discovered servers. Default: ldaps.
	Scheme       sql.Null[string]
	BindDN       sql.Null[string]
	BindPassword sql.Null[string]
	BaseDN       sql.Null[string]
	// IdentityAttribute is matched against the username. Default: uid.
	IdentityAttribute sql.Null[string]
	// HomeAttribute holds the home directory path. Default: homeDirectory.
	HomeAttribute sql.Null[string]
	// Timeout bounds each LDAP operation. Default: 5s.
	Timeout            sql.Null[time.Duration]
	InsecureSkipVerify bool
	// Homes maps usernames to home directories for the static backend.
	Homes map[string]string
}

// Trees defines the names of the content sub-trees inside home directories.
type Trees struct {
	// Public is the directory served under /~user/. Default: public_html.
	Public sql.Null[string]
	// Private is the directory served under /priv/~user/. Default: .html_pages.
	Private sql.Null[string]
}

// AccessPolicy determines whether a content tree requires authorization.
type AccessPolicy string

// All supported access policies.
const (
	AccessOpen       AccessPolicy = "open"
	AccessRestricted AccessPolicy = "restricted"
)

// AccessPolicyFromString returns a valid AccessPolicy for the given string, or
// an error if the value is invalid.
func AccessPolicyFromString(val string) (AccessPolicy, error) {
	switch AccessPolicy(val) {
	case AccessOpen:
		return AccessOpen, nil
	case AccessRestricted:
		return AccessRestricted, nil
	}
	return "", fmt.Errorf("unsupported access policy '%s'", val)
}

// Auth defines authorization options. The private tree is always restricted.
type Auth struct {
	// PublicAccess is the access policy of the public tree. Default: restricted.
	PublicAccess sql.Null[AccessPolicy]
	// APIKeys are bcrypt hashes of the accepted API keys.
	APIKeys []string
	// TrustedNetworks are IP addresses, CIDR prefixes or ranges whose clients
	// are authorized without an API key.
	TrustedNetworks []string
}

type cfgWrapper struct {
	Server    srvCfgWrapper  `json:"server"`
	Directory dirCfgWrapper  `json:"directory"`
	Trees     treeCfgWrapper `json:"trees"`
	Auth      authCfgWrapper `json:"auth"`
}
type srvCfgWrapper struct {
	Address string `json:"address,omitempty"`
	Metrics bool   `json:"metrics,omitempty"`
}
type dirCfgWrapper struct {
	Type               string            `json:"type,omitempty"`
	URLs               []string          `json:"urls,omitempty"`
	Domain             string            `json:"domain,omitempty"`
	Scheme             string            `json:"scheme,omitempty"`
	BindDN             string            `json:"bind_dn,omitempty"`
	BindPassword       string            `json:"bind_password,omitempty"`
	BaseDN             string            `json:"base_dn,omitempty"`
	IdentityAttribute  string            `json:"identity_attribute,omitempty"`
	HomeAttribute      string            `json:"home_attribute,omitempty"`
	Timeout            string            `json:"timeout,omitempty"`
	InsecureSkipVerify bool              `json:"insecure_skip_verify,omitempty"`
	Homes              map[string]string `json:"homes,omitempty"`
}
type treeCfgWrapper struct {
	Public  string `json:"public,omitempty"`
	Private string `json:"private,omitempty"`
}
type authCfgWrapper struct {
	PublicAccess    string   `json:"public_access,omitempty"`
	APIKeys         []string `json:"api_keys,omitempty"`
	TrustedNetworks []string `json:"trusted_networks,omitempty"`
}

// MarshalJSON implements custom JSON marshaling to convert sql.Null values
// to their underlying types, omitting invalid/null fields from the output.
func (c Config) MarshalJSON() ([]byte, error) {
	w := cfgWrapper{}

	w.Server.Address = nullString(c.Server.Address)
	w.Server.Metrics = c.Server.Metrics

	d := c.Directory
	if d.Type.Valid {
		w.Directory.Type = string(d.Type.V)
	}
	w.Directory.URLs = d.URLs
	w.Directory.Domain = nullString(d.Domain)
	w.Directory.Scheme = nullString(d.Scheme)
	w.Directory.BindDN = nullString(d.BindDN)
	w.Directory.BindPassword = nullString(d.BindPassword)
	w.Directory.BaseDN = nullString(d.BaseDN)
	w.Directory.IdentityAttribute = nullString(d.IdentityAttribute)
	w.Directory.HomeAttribute = nullString(d.HomeAttribute)
	if d.Timeout.Valid {
		w.Directory.Timeout = d.Timeout.V.String()
	}
	w.Directory.InsecureSkipVerify = d.InsecureSkipVerify
	w.Directory.Homes = d.Homes

	w.Trees.Public = nullString(c.Trees.Public)
	w.Trees.Private = nullString(c.Trees.Private)

	if c.Auth.PublicAccess.Valid {
		w.Auth.PublicAccess = string(c.Auth.PublicAccess.V)
	}
	w.Auth.APIKeys = c.Auth.APIKeys
	w.Auth.TrustedNetworks = c.Auth.TrustedNetworks

	//nolint:wrapcheck // This is fine.
	return json.Marshal(w)
}

// UnmarshalJSON implements custom JSON unmarshaling to convert plain values
// into sql.Null types and parse duration strings into time.Duration values.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w cfgWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		//nolint:wrapcheck // This is fine.
		return err
	}

	c.Server.Address = toNull(w.Server.Address)
	c.Server.Metrics = w.Server.Metrics

	if w.Directory.Type != "" {
		dt, err := dtypes.DirectoryTypeFromString(w.Directory.Type)
		if err != nil {
			return err //nolint:wrapcheck // This is fine.
		}
		c.Directory.Type = sql.Null[dtypes.DirectoryType]{V: dt, Valid: true}
	}
	c.Directory.URLs = w.Directory.URLs
	c.Directory.Domain = toNull(w.Directory.Domain)
	c.Directory.Scheme = toNull(w.Directory.Scheme)
	c.Directory.BindDN = toNull(w.Directory.BindDN)
	c.Directory.BindPassword = toNull(w.Directory.BindPassword)
	c.Directory.BaseDN = toNull(w.Directory.BaseDN)
	c.Directory.IdentityAttribute = toNull(w.Directory.IdentityAttribute)
	c.Directory.HomeAttribute = toNull(w.Directory.HomeAttribute)
	if w.Directory.Timeout != "" {
		dur, err := time.ParseDuration(w.Directory.Timeout)
		if err != nil {
			return fmt.Errorf("failed parsing directory timeout: %w", err)
		}
		c.Directory.Timeout = sql.Null[time.Duration]{V: dur, Valid: true}
	}
	c.Directory.InsecureSkipVerify = w.Directory.InsecureSkipVerify
	c.Directory.Homes = w.Directory.Homes

	c.Trees.Public = toNull(w.Trees.Public)
	c.Trees.Private = toNull(w.Trees.Private)

	if w.Auth.PublicAccess != "" {
		ap, err := AccessPolicyFromString(w.Auth.PublicAccess)
		if err != nil {
			return err
		}
		c.Auth.PublicAccess = sql.Null[AccessPolicy]{V: ap, Valid: true}
	}
	c.Auth.APIKeys = w.Auth.APIKeys
	c.Auth.TrustedNetworks = w.Auth.TrustedNetworks

	return nil
}

// SetDefaults sets default configuration values if they weren't set already.
func (c *Config) SetDefaults() {
	setDefault(&c.Server.Address, "127.0.0.1:8000")
	setDefault(&c.Directory.Type, dtypes.DirectoryLDAP)
	setDefault(&c.Directory.Scheme, "ldaps")
	setDefault(&c.Directory.IdentityAttribute, "uid")
	setDefault(&c.Directory.HomeAttribute, "homeDirectory")
	setDefault(&c.Directory.Timeout, 5*time.Second)
	setDefault(&c.Trees.Public, "public_html")
	setDefault(&c.Trees.Private, ".html_pages")
	setDefault(&c.Auth.PublicAccess, AccessRestricted)
}

// Validate checks that the configuration values are consistent. It should be
// called after SetDefaults.
func (c *Config) Validate() error {
	for name, tree := range map[string]string{"public": c.Trees.Public.V, "private": c.Trees.Private.V} {
		if err := validateTreeName(tree); err != nil {
			return fmt.Errorf("invalid %s tree name '%s': %w", name, tree, err)
		}
	}
	if c.Trees.Public.V == c.Trees.Private.V {
		return errors.New("public and private trees must be different directories")
	}
	if c.Directory.Timeout.V <= 0 {
		return errors.New("directory timeout must be positive")
	}

	return nil
}

func validateTreeName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.New("must be a directory name")
	case strings.ContainsAny(name, `/\`+"\x00"):
		return errors.New("must be a single path segment")
	}
	return nil
}

func setDefault[T any](n *sql.Null[T], v T) {
	if !n.Valid {
		*n = sql.Null[T]{V: v, Valid: true}
	}
}

func nullString(n sql.Null[string]) string {
	if n.Valid {
		return n.V
	}
	return ""
}

func toNull(v string) sql.Null[string] {
	if v == "" {
		return sql.Null[string]{}
	}
	return sql.Null[string]{V: v, Valid: true}
}
