package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"

	"go.hackfix.me/tilde/directory/types"
)

const staticDirectoryConfig = `{
  "directory": {
    "type": "static",
    "homes": {"jdoe": "/home/jdoe", "alice": "/home/alice"}
  }
}`

func TestAppLookup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		config    string
		args      []string
		expStdout []string
		expErr    error
		expErrMsg string
	}{
		{
			name:   "ok/found_and_not_found",
			config: staticDirectoryConfig,
			args:   []string{"lookup", "jdoe", "ghost", "alice"},
			expStdout: []string{
				`(?m)^\s*jdoe\s+/home/jdoe\s+found\s*$`,
				`(?m)^\s*ghost\s+not found\s*$`,
				`(?m)^\s*alice\s+/home/alice\s+found\s*$`,
			},
		},
		{
			name: "err/unavailable",
			config: `{
  "directory": {
    "type": "ldap",
    "urls": ["ldap://127.0.0.1:1"],
    "base_dn": "cn=users,dc=example,dc=com",
    "timeout": "1s"
  }
}`,
			args:      []string{"lookup", "jdoe"},
			expStdout: []string{`(?m)^\s*jdoe\s+unavailable\s*$`},
			expErr:    types.ErrDirectoryUnavailable,
		},
		{
			name:      "err/no_usernames",
			config:    staticDirectoryConfig,
			args:      []string{"lookup"},
			expErrMsg: `failed parsing CLI arguments: expected "<usernames> ..."`,
		},
		{
			name:      "err/invalid_config",
			config:    `{"trees": {"public": "a/b"}}`,
			args:      []string{"lookup", "jdoe"},
			expErrMsg: "invalid configuration: invalid public tree name 'a/b': must be a single path segment",
		},
		{
			name:      "err/unknown_directory_type",
			config:    `{"directory": {"type": "nis"}}`,
			args:      []string{"lookup", "jdoe"},
			expErrMsg: "unsupported directory type 'nis'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tctx, cancel, h := newTestContext(t, 5*time.Second)
			defer cancel()

			app, err := newTestApp(tctx)
			h(assert.NoError(t, err))
			h(assert.NoError(t, app.writeConfig(tt.config, nil)))

			err = app.Run(tt.args...)

			switch {
			case tt.expErr != nil:
				h(assert.ErrorIs(t, err, tt.expErr))
			case tt.expErrMsg != "":
				h(assert.ErrorContains(t, err, tt.expErrMsg))
				return
			default:
				h(assert.NoError(t, err))
			}

			stdout := app.stdout.String()
			for _, exp := range tt.expStdout {
				h(assert.Regexp(t, exp, stdout))
			}
		})
	}
}

func TestAppBindPasswordEnv(t *testing.T) {
	t.Parallel()

	tctx, cancel, h := newTestContext(t, 5*time.Second)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))
	cfg := `{"directory": {"type": "static", "bind_password": "fromfile"}}`
	h(assert.NoError(t, app.writeConfig(cfg, nil)))
	h(assert.NoError(t, app.env.Set(BindPasswordEnvVar, "fromenv")))

	err = app.Run("lookup", "jdoe")
	h(assert.NoError(t, err))
	h(assert.Equal(t, "fromenv", app.ctx.Config.Directory.BindPassword.V))
}

func TestAppKeygen(t *testing.T) {
	t.Parallel()

	keyRx := regexp.MustCompile(`(?m)^key: (\S+)\nhash: (\S+)$`)

	t.Run("ok/print", func(t *testing.T) {
		t.Parallel()

		tctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		app, err := newTestApp(tctx)
		h(assert.NoError(t, err))

		err = app.Run("keygen")
		h(assert.NoError(t, err))

		match := keyRx.FindStringSubmatch(app.stdout.String())
		h(assert.Len(t, match, 3))
		h(assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(match[2]), []byte(match[1]))))

		_, err = app.ctx.FS.Stat("/config.json")
		h(assert.True(t, vfs.IsErrNotExist(err)))
	})

	t.Run("ok/save", func(t *testing.T) {
		t.Parallel()

		tctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		app, err := newTestApp(tctx)
		h(assert.NoError(t, err))
		h(assert.NoError(t, app.writeConfig(`{"auth": {"api_keys": ["$2a$04$existing"]}}`, nil)))
		h(assert.NoError(t, app.env.Set(BindPasswordEnvVar, "secret")))

		err = app.Run("keygen", "--save")
		h(assert.NoError(t, err))

		match := keyRx.FindStringSubmatch(app.stdout.String())
		h(assert.Len(t, match, 3))

		cfgJSON, err := vfs.ReadFile(app.ctx.FS, "/config.json")
		h(assert.NoError(t, err))

		var saved map[string]map[string]any
		h(assert.NoError(t, json.Unmarshal(cfgJSON, &saved)))
		h(assert.Equal(t, []any{"$2a$04$existing", match[2]}, saved["auth"]["api_keys"]))
		// Neither defaults nor environment overrides are persisted.
		h(assert.Empty(t, saved["server"]))
		h(assert.Empty(t, saved["directory"]))
	})
}

func TestAppServe(t *testing.T) {
	t.Parallel()

	// wg.Wait must be deferred before the test context cancellation (so that
	// it's called after it when the function returns) to avoid waiting for the
	// context timeout to be reached.
	var wg sync.WaitGroup
	defer wg.Wait()

	timeout := 5 * time.Second
	tctx, cancel, h := newTestContext(t, timeout)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))

	keyHash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	h(assert.NoError(t, err))

	cfg := fmt.Sprintf(`{
  "directory": {"type": "static", "homes": {"jdoe": "/home/jdoe"}},
  "auth": {"public_access": "open", "api_keys": [%q]}
}`, string(keyHash))
	h(assert.NoError(t, app.writeConfig(cfg, map[string]string{
		"/home/jdoe/public_html/notes.txt":        "hello",
		"/home/jdoe/public_html/site/index.html":  "<p>site</p>",
		"/home/jdoe/.html_pages/secret.txt":       "private",
		"/home/jdoe/not_served_outside_trees.txt": "nope",
	})))

	addrCh := make(chan string)
	app.stderr.waitFor(`started listener.*address=(\S+)`, 1, addrCh)

	wg.Add(1)
	go func() {
		defer wg.Done()
		serr := app.Run("serve", "--log-level=DEBUG", "--metrics", "127.0.0.1:0")
		h(assert.NoError(t, serr))
	}()

	var srvAddress string
	select {
	case srvAddress = <-addrCh:
	case <-tctx.Done():
		t.Fatalf("timed out after %s", timeout)
	}

	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	tests := []struct {
		path        string
		apiKey      string
		expStatus   int
		expBody     string
		expLocation string
	}{
		{path: "/~jdoe/notes.txt", expStatus: http.StatusOK, expBody: "hello"},
		{path: "/~jdoe/site", expStatus: http.StatusMovedPermanently, expLocation: "/~jdoe/site/"},
		{path: "/~jdoe/site/", expStatus: http.StatusOK, expBody: "<p>site</p>"},
		{path: "/~jdoe/../not_served_outside_trees.txt", expStatus: http.StatusNotFound},
		{path: "/~ghost/", expStatus: http.StatusNotFound, expBody: "Not Found\n"},
		{path: "/priv/~jdoe/secret.txt", expStatus: http.StatusForbidden, expBody: "Forbidden\n"},
		{path: "/priv/~jdoe/secret.txt", apiKey: "secret", expStatus: http.StatusOK, expBody: "private"},
		{path: "/healthz", expStatus: http.StatusOK, expBody: "ok\n"},
	}

	for _, tt := range tests {
		req, rerr := http.NewRequestWithContext(tctx, http.MethodGet, "http://"+srvAddress+tt.path, nil)
		h(assert.NoError(t, rerr))
		if tt.apiKey != "" {
			req.Header.Set("X-Api-Key", tt.apiKey)
		}

		resp, rerr := client.Do(req)
		h(assert.NoError(t, rerr))
		body, rerr := io.ReadAll(resp.Body)
		resp.Body.Close()
		h(assert.NoError(t, rerr))

		h(assert.Equalf(t, tt.expStatus, resp.StatusCode, "path %s", tt.path))
		if tt.expBody != "" {
			h(assert.Equal(t, tt.expBody, string(body)))
		}
		if tt.expLocation != "" {
			h(assert.Equal(t, tt.expLocation, resp.Header.Get("Location")))
		}
	}

	resp, err := client.Get("http://" + srvAddress + "/metrics")
	h(assert.NoError(t, err))
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	h(assert.NoError(t, err))
	h(assert.Contains(t, string(body), `tilde_directory_lookups_total{result="found"}`))
	h(assert.Contains(t, string(body), `tilde_directory_lookups_total{result="not_found"} 1`))
}
