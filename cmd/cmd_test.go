package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/idleonweb/idleonweb/internal/conf"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestLoadEnv(t *testing.T) {
	e, err := LoadEnv(lookup(nil), "/opt/idleonweb/idleonweb")
	require.NoError(t, err)
	assert.Equal(t, "conf.json", e.Config)
	assert.Equal(t, "plugins", e.PluginDir)
	assert.False(t, e.Debug)

	e, err = LoadEnv(lookup(map[string]string{
		"IDLEONWEB_STANDALONE": "true",
		"IDLEONWEB_DEBUG":      "1",
		"IDLEONWEB_LISTEN":     "127.0.0.1:9000",
	}), "/opt/idleonweb/idleonweb")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/opt/idleonweb", "conf.json"), e.Config)
	assert.Equal(t, filepath.Join("/opt/idleonweb", "plugins"), e.PluginDir)
	assert.True(t, e.Debug)
	assert.Equal(t, "127.0.0.1:9000", e.Listen)

	e, err = LoadEnv(lookup(map[string]string{"IDLEONWEB_CONFIG": "/etc/idleon.json", "IDLEONWEB_PLUGIN_DIR": "/srv/p"}), "")
	require.NoError(t, err)
	assert.Equal(t, "/etc/idleon.json", e.Config)
	assert.Equal(t, "/srv/p", e.PluginDir)

	_, err = LoadEnv(lookup(map[string]string{"IDLEONWEB_DEBUG": "maybe"}), "")
	assert.Error(t, err)
}

func withMemStore(t *testing.T) *conf.Store {
	t.Helper()
	s, err := conf.Open(afero.NewMemMapFs(), "/conf.json")
	require.NoError(t, err)
	prev := openStore
	openStore = func() (*conf.Store, error) { return s, nil }
	t.Cleanup(func() { openStore = prev })
	return s
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&out)
	RootCmd.SetArgs(args)
	t.Cleanup(func() {
		RootCmd.SetOut(nil)
		RootCmd.SetErr(nil)
		RootCmd.SetArgs(nil)
	})
	err := RootCmd.Execute()
	return out.String(), err
}

func TestConfigGetSet(t *testing.T) {
	s := withMemStore(t)

	_, err := run(t, "config", "set", "injector.cdp_port", "9333")
	require.NoError(t, err)
	assert.Equal(t, 9333, s.CDPPort())

	_, err = run(t, "config", "set", "browser.name", "edge")
	require.NoError(t, err)
	assert.Equal(t, "edge", s.GetString(conf.KeyBrowserName, ""))

	out, err := run(t, "config", "get", "injector.cdp_port")
	require.NoError(t, err)
	assert.Equal(t, "9333\n", out)

	_, err = run(t, "config", "get", "no.such.key")
	assert.ErrorContains(t, err, `"no.such.key" is not set`)
}

func TestConfigPlugins(t *testing.T) {
	s := withMemStore(t)

	_, err := run(t, "config", "plugins", "add", "spawn_item")
	require.NoError(t, err)
	assert.Equal(t, []string{"spawn_item"}, s.ListPlugins())

	out, err := run(t, "config", "plugins")
	require.NoError(t, err)
	assert.Contains(t, out, "spawn_item (enabled)")
	assert.Contains(t, out, "godlike_powers")

	_, err = run(t, "config", "plugins", "remove", "spawn_item")
	require.NoError(t, err)
	assert.Empty(t, s.ListPlugins())

	_, err = run(t, "config", "plugins", "drop", "x")
	assert.Error(t, err)
}
