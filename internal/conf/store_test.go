package conf

import (
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gookit/event"
	"github.com/idleonweb/idleonweb/internal/eventType"
	logutil "github.com/idleonweb/idleonweb/internal/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPath = "/cfg/conf.json"

func readDisk(t *testing.T, fs afero.Fs) Tree {
	t.Helper()
	b, err := afero.ReadFile(fs, testPath)
	require.NoError(t, err)
	var tree Tree
	require.NoError(t, json.Unmarshal(b, &tree))
	return tree
}

func TestOpenSeedsDefaultsWhenMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Open(fs, testPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, s.WebUIPort())
	assert.Equal(t, 32123, s.CDPPort())
	assert.Equal(t, 120000, s.TimeoutMs())

	onDisk := readDisk(t, fs)
	assert.Equal(t, float64(32123), onDisk["injector"].(map[string]any)["cdp_port"])
}

func TestRoundTrip(t *testing.T) {
	trees := []Tree{
		{},
		{"a": "x", "b": true, "c": 1.5, "d": nil},
		{"plugins": []any{"p1"}, "plugin_configs": map[string]any{"p1": map[string]any{"k": []any{"x", 2.0, false}}}},
		{"deep": map[string]any{"er": map[string]any{"est": map[string]any{"v": "leaf"}}}, "list": []any{}},
	}
	for i, tree := range trees {
		fs := afero.NewMemMapFs()
		b, err := json.MarshalIndent(tree, "", "  ")
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fs, testPath, b, 0644))

		s, err := Open(fs, testPath)
		require.NoError(t, err)
		require.NoError(t, s.Save())

		again, err := Open(fs, testPath)
		require.NoError(t, err)
		if diff := cmp.Diff(tree, again.Snapshot()); diff != "" {
			t.Fatalf("tree %d changed after save/load (-want +got):\n%s", i, diff)
		}
	}
}

func TestSetGetDottedPath(t *testing.T) {
	s, err := Open(afero.NewMemMapFs(), testPath)
	require.NoError(t, err)
	before := s.Snapshot()

	cases := []struct {
		path  string
		value any
	}{
		{"webui.darkmode", true},
		{"brand.new.nested.key", "value"},
		{"injector.idleon_url", "http://example.invalid/"},
		{"list", []any{"a", "b"}},
	}
	for _, tc := range cases {
		require.NoError(t, s.Set(tc.path, tc.value))
		assert.Equal(t, tc.value, s.Get(tc.path), tc.path)
	}

	// unrelated paths untouched
	assert.Equal(t, before["injector"].(map[string]any)["cdp_port"], s.Get("injector.cdp_port"))
	assert.Equal(t, before["webui"].(map[string]any)["port"], s.Get("webui.port"))
	assert.Equal(t, "fallback", s.Get("missing.path", "fallback"))
	assert.Nil(t, s.Get("webui.darkmode.too.deep"))
}

func TestSetPersistsBeforeReturning(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Open(fs, testPath)
	require.NoError(t, err)

	require.NoError(t, s.Set("plugin_configs.spawn_item.debug", true))

	onDisk := readDisk(t, fs)
	cfg := onDisk["plugin_configs"].(map[string]any)["spawn_item"].(map[string]any)
	assert.Equal(t, true, cfg["debug"])
}

func TestWriteFailureLeavesMemoryUnchanged(t *testing.T) {
	base := afero.NewMemMapFs()
	_, err := Open(base, testPath)
	require.NoError(t, err)

	s, err := Open(afero.NewReadOnlyFs(base), testPath)
	require.NoError(t, err)

	err = s.Set("debug", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigIO))
	assert.Equal(t, false, s.Get("debug"))
}

func TestMalformedFileIsNotOverwritten(t *testing.T) {
	fs := afero.NewMemMapFs()
	garbage := []byte("{ this is not json")
	require.NoError(t, afero.WriteFile(fs, testPath, garbage, 0644))

	s, err := Open(fs, testPath)
	require.NoError(t, err)
	assert.True(t, s.Malformed())
	assert.Equal(t, 8080, s.WebUIPort())

	b, err := afero.ReadFile(fs, testPath)
	require.NoError(t, err)
	assert.Equal(t, garbage, b)

	require.NoError(t, s.Save())
	assert.False(t, s.Malformed())
	assert.Equal(t, float64(8080), readDisk(t, fs)["webui"].(map[string]any)["port"])
}

func TestDetectBrowserKeepsMalformedFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	garbage := []byte(`{"plugins": ["spawn_item"],`)
	require.NoError(t, afero.WriteFile(fs, testPath, garbage, 0644))
	require.NoError(t, afero.WriteFile(fs, "/usr/bin/chromium", nil, 0755))

	s, err := Open(fs, testPath)
	require.NoError(t, err)
	require.True(t, s.Malformed())

	path, err := s.DetectBrowser([]BrowserCandidate{{"chromium", "/usr/bin/chromium"}})
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/chromium", path)
	assert.Equal(t, "/usr/bin/chromium", s.GetString(KeyBrowserPath, ""))
	assert.True(t, s.Malformed())

	b, err := afero.ReadFile(fs, testPath)
	require.NoError(t, err)
	assert.Equal(t, garbage, b)
}

func TestRootDebugRaisesLogLevel(t *testing.T) {
	prev := logutil.Level()
	t.Cleanup(func() { logutil.SetLevel(prev) })
	logutil.SetLevel(slog.LevelInfo)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testPath, []byte(`{"debug": false}`), 0644))
	s, err := Open(fs, testPath)
	require.NoError(t, err)
	applyLogLevel(s)
	assert.Equal(t, slog.LevelInfo, logutil.Level())

	require.NoError(t, s.Set(KeyDebug, true))
	applyLogLevel(s)
	assert.Equal(t, slog.LevelDebug, logutil.Level())
}

func TestMigratesRootAutoInject(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testPath, []byte(`{"autoInject": true, "injector": {"cdp_port": 9222}}`), 0644))

	s, err := Open(fs, testPath)
	require.NoError(t, err)

	assert.Equal(t, true, s.Get("injector.autoInject"))
	assert.False(t, s.Has("autoInject"))
	assert.Equal(t, 9222, s.CDPPort())

	onDisk := readDisk(t, fs)
	_, rootKey := onDisk["autoInject"]
	assert.False(t, rootKey)
	assert.Equal(t, true, onDisk["injector"].(map[string]any)["autoInject"])
}

func TestMigrationKeepsExistingNestedValue(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testPath, []byte(`{"darkmode": true, "webui": {"darkmode": false}}`), 0644))

	s, err := Open(fs, testPath)
	require.NoError(t, err)
	assert.Equal(t, false, s.Get("webui.darkmode"))
	assert.False(t, s.Has("darkmode"))
}

func TestPluginHelpers(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Open(fs, testPath)
	require.NoError(t, err)

	require.NoError(t, s.AddPlugin("spawn_item", map[string]any{"debug": false}))
	require.NoError(t, s.AddPlugin("mob_spawn_rate", nil))
	require.NoError(t, s.AddPlugin("spawn_item", map[string]any{"extra": "x"}))
	assert.Equal(t, []string{"spawn_item", "mob_spawn_rate"}, s.ListPlugins())
	assert.Equal(t, map[string]any{"debug": false, "extra": "x"}, s.GetPlugin("spawn_item"))
	assert.Equal(t, map[string]any{}, s.GetPlugin("mob_spawn_rate"))

	require.NoError(t, s.MergePlugin("spawn_item", map[string]any{"debug": true}))
	assert.Equal(t, true, s.GetPlugin("spawn_item")["debug"])

	require.NoError(t, s.SetPlugin("spawn_item", map[string]any{"only": 1}))
	assert.Equal(t, map[string]any{"only": float64(1)}, s.GetPlugin("spawn_item"))

	require.NoError(t, s.RemovePlugin("spawn_item"))
	assert.Equal(t, []string{"mob_spawn_rate"}, s.ListPlugins())
	assert.NotEmpty(t, s.GetPlugin("spawn_item"))

	// returned maps are copies
	cfg := s.GetPlugin("mob_spawn_rate")
	cfg["mutated"] = true
	assert.NotContains(t, s.GetPlugin("mob_spawn_rate"), "mutated")
}

func TestEnabledPluginsGetConfigEntries(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testPath, []byte(`{"plugins": ["a", "b"], "plugin_configs": {"a": {"x": 1}}}`), 0644))

	s, err := Open(fs, testPath)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, s.GetPlugin("b"))
	assert.Contains(t, readDisk(t, fs)["plugin_configs"], "b")
}

func TestReloadDiscardsMemory(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Open(fs, testPath)
	require.NoError(t, err)
	require.NoError(t, s.Set("debug", true))

	require.NoError(t, afero.WriteFile(fs, testPath, []byte(`{"debug": false, "webui": {"port": 9000}}`), 0644))
	require.NoError(t, s.Reload())

	assert.Equal(t, false, s.Get("debug"))
	assert.Equal(t, 9000, s.WebUIPort())
}

func TestPluginDebugPrefersPluginValue(t *testing.T) {
	s, err := Open(afero.NewMemMapFs(), testPath)
	require.NoError(t, err)

	require.NoError(t, s.Set("debug", true))
	assert.True(t, s.PluginDebug("spawn_item"))

	require.NoError(t, s.SetPlugin("spawn_item", map[string]any{"debug": false}))
	assert.False(t, s.PluginDebug("spawn_item"))
}

func TestDetectBrowser(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Open(fs, testPath)
	require.NoError(t, err)

	candidates := []BrowserCandidate{
		{"chrome", "/opt/chrome/chrome"},
		{"brave", "/opt/brave/brave"},
	}
	require.NoError(t, afero.WriteFile(fs, "/opt/brave/brave", []byte("bin"), 0755))

	path, err := s.DetectBrowser(candidates)
	require.NoError(t, err)
	assert.Equal(t, "/opt/brave/brave", path)
	assert.Equal(t, "/opt/brave/brave", readDisk(t, fs)["browser"].(map[string]any)["path"])

	// configured path wins over candidates
	require.NoError(t, afero.WriteFile(fs, "/opt/chrome/chrome", []byte("bin"), 0755))
	path, err = s.DetectBrowser(candidates)
	require.NoError(t, err)
	assert.Equal(t, "/opt/brave/brave", path)
}

func TestDetectBrowserHonoursName(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Open(fs, testPath)
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyBrowserName, "edge"))
	require.NoError(t, afero.WriteFile(fs, "/opt/chrome/chrome", []byte("bin"), 0755))

	path, err := s.DetectBrowser([]BrowserCandidate{{"chrome", "/opt/chrome/chrome"}})
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "conf.json", ResolvePath(false, "/usr/local/bin/idleonweb"))
	assert.Equal(t, "/nonexistent/dir/conf.json", ResolvePath(true, "/nonexistent/dir/idleonweb"))
}

func TestSetUnchangedValueFiresNoEvent(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Open(fs, testPath)
	require.NoError(t, err)
	require.NoError(t, s.Set("plugin_configs.p.level", 3))

	l := &updateCounter{store: s}
	event.On(eventType.ConfigUpdated, l)
	defer event.Std().RemoveListener(eventType.ConfigUpdated, l)

	require.NoError(t, s.Set("plugin_configs.p.level", 3))
	assert.Equal(t, 0, l.fired)
	require.NoError(t, s.Set("plugin_configs.p.level", 4))
	assert.Equal(t, 1, l.fired)
}

type updateCounter struct {
	store *Store
	fired int
}

func (c *updateCounter) Handle(e event.Event) error {
	if e.Get("store") == c.store {
		c.fired++
	}
	return nil
}
