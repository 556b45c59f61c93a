package userdir_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/tilde/web/server/userdir"
)

func TestContain(t *testing.T) {
	t.Parallel()

	const root = "/home/jdoe/public_html"

	tests := []struct {
		name      string
		root      string
		rel       string
		expTarget string
		expErr    string
	}{
		{name: "ok/empty", rel: "", expTarget: root},
		{name: "ok/file", rel: "notes.txt", expTarget: root + "/notes.txt"},
		{name: "ok/nested_dir_trailing_slash", rel: "a/b/", expTarget: root + "/a/b"},
		{name: "ok/current_dir_segments", rel: "./a/./b", expTarget: root + "/a/b"},
		{name: "ok/double_slash", rel: "a//b", expTarget: root + "/a/b"},
		{name: "ok/dots_in_name", rel: "..hidden/...", expTarget: root + "/..hidden/..."},
		{name: "ok/backslash_is_a_name", rel: `..\..\etc`, expTarget: root + `/..\..\etc`},
		{name: "ok/root_slash", root: "/", rel: "srv", expTarget: "/srv"},
		{name: "err/parent", rel: "..", expErr: "parent directory reference"},
		{name: "err/parent_prefix", rel: "../../etc/passwd", expErr: "parent directory reference"},
		{name: "err/parent_inner", rel: "a/../../b", expErr: "parent directory reference"},
		{name: "err/parent_harmless", rel: "a/../b", expErr: "parent directory reference"},
		{name: "err/parent_trailing", rel: "a/..", expErr: "parent directory reference"},
		{name: "err/absolute", rel: "/etc/passwd", expErr: "absolute path"},
		{name: "err/nul", rel: "a\x00b", expErr: "contains a NUL byte"},
		{name: "err/relative_root", root: "home/jdoe", rel: "a", expErr: "is not absolute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := root
			if tt.root != "" {
				r = tt.root
			}

			target, err := userdir.Contain(r, tt.rel)
			if tt.expErr != "" {
				require.ErrorIs(t, err, userdir.ErrPathRejected)
				assert.ErrorContains(t, err, tt.expErr)
				assert.Empty(t, target)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expTarget, target)
		})
	}
}
