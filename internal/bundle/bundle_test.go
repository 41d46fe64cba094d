package bundle

import (
	"strings"
	"testing"

	"github.com/idleonweb/idleonweb/internal/jsruntime"
	"github.com/idleonweb/idleonweb/internal/plugin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type src struct {
	id      string
	cfg     map[string]any
	exports []plugin.JSExport
}

func (s src) ID() string                 { return s.id }
func (s src) Config() map[string]any     { return s.cfg }
func (s src) Exports() []plugin.JSExport { return s.exports }

func demoSources() []Source {
	return []Source{
		src{
			id:  "demo",
			cfg: map[string]any{"reply": "hi", "b": 2.0, "a": true},
			exports: []plugin.JSExport{{
				Name:   "ping",
				Args:   []string{"n"},
				Params: []plugin.ExportParam{{Name: "reply", Default: "pong"}, {Name: "suffix", Default: "!"}},
				Source: "return {{reply}} + n + {{suffix}} + '{{other}}';",
			}},
		},
		src{
			id:  "mobs",
			cfg: map[string]any{},
			exports: []plugin.JSExport{
				{Name: "setup", Source: "return pluginConfigs.mobs.rate || 1;"},
				{Name: "ping", Namespace: "shared", Source: "return 'shared';"},
			},
		},
	}
}

func newRuntime(t *testing.T) *jsruntime.JsRuntime {
	t.Helper()
	rt, err := jsruntime.NewBuilder().Build()
	require.NoError(t, err)
	return rt
}

func TestBuildIsDeterministic(t *testing.T) {
	a, err := Build(demoSources())
	require.NoError(t, err)
	b, err := Build(demoSources())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, string(a), `root.pluginConfigs["demo"] = {"a":true,"b":2,"reply":"hi"};`)
}

func TestInterpolation(t *testing.T) {
	data, err := Build(demoSources())
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `return "hi" + n + "!" + '{{other}}';`)
}

func TestInterpolationIgnoresPlaceholdersInValues(t *testing.T) {
	exp := plugin.JSExport{
		Name:   "f",
		Params: []plugin.ExportParam{{Name: "a"}, {Name: "b"}},
		Source: "var a = {{a}}; var b = {{b}};",
	}
	out, err := interpolate(exp, map[string]any{"a": "{{b}}", "b": "'); alert(1); ('"})
	require.NoError(t, err)
	assert.Equal(t, `var a = "{{b}}"; var b = "'); alert(1); ('";`, out)

	rt := newRuntime(t)
	_, err = rt.RunScript(out)
	require.NoError(t, err)
	v, err := rt.RunScript("a")
	require.NoError(t, err)
	assert.Equal(t, "{{b}}", v.String())
}

func TestConflictWritesNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	sources := append(demoSources(), src{
		id:      "copycat",
		exports: []plugin.JSExport{{Name: "ping", Namespace: "demo", Source: "return 1;"}},
	})
	_, err := Rebuild(fs, "/out/bundle.js", sources)
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "demo.ping")

	exists, _ := afero.Exists(fs, "/out/bundle.js")
	assert.False(t, exists)
}

func TestConflictKeepsPreviousBundle(t *testing.T) {
	fs := afero.NewMemMapFs()
	res, err := Rebuild(fs, "/out/bundle.js", demoSources())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Exports)
	assert.Equal(t, []string{"demo", "mobs"}, res.Plugins)
	assert.Len(t, res.SHA256, 64)
	assert.NotEmpty(t, res.HumanSize())

	before, _ := afero.ReadFile(fs, "/out/bundle.js")
	_, err = Rebuild(fs, "/out/bundle.js", append(demoSources(), demoSources()[0]))
	require.ErrorIs(t, err, ErrConflict)
	after, _ := afero.ReadFile(fs, "/out/bundle.js")
	assert.Equal(t, before, after)
}

func TestInvalidArgumentName(t *testing.T) {
	_, err := Build([]Source{src{id: "x", exports: []plugin.JSExport{{Name: "f", Args: []string{"a b"}}}}})
	assert.Error(t, err)
}

func TestBundleEvaluates(t *testing.T) {
	data, err := Build(demoSources())
	require.NoError(t, err)

	rt := newRuntime(t)
	_, err = rt.RunNamed("bundle.js", string(data))
	require.NoError(t, err)

	v, err := rt.RunScript(`JSON.stringify(pluginConfigs)`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"demo":{"a":true,"b":2,"reply":"hi"},"mobs":{}}`, v.String())

	v, err = rt.RunScript(`JSON.stringify(pluginBundleReady)`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"plugins":["demo","mobs"],"exports":3}`, v.String())

	// no game in the test runtime
	_, err = rt.RunScript(`
globalThis.__idleon_wait_for_game_ready = function () { return Promise.resolve(true); };
function callPing() { return pluginExports.demo.ping(2); }
function callSetup() { return pluginExports.mobs.setup.call(null); }`)
	require.NoError(t, err)

	out, err := rt.Call("callPing")
	require.NoError(t, err)
	assert.Equal(t, "hi2!{{other}}", out.String())

	out, err = rt.Call("callSetup")
	require.NoError(t, err)
	assert.Equal(t, "1", out.String())
}

func TestExportErrorsBecomeStrings(t *testing.T) {
	data, err := Build([]Source{src{id: "bad", exports: []plugin.JSExport{{Name: "boom", Source: "throw new Error('kaput');"}}}})
	require.NoError(t, err)

	rt := newRuntime(t)
	_, err = rt.RunScript(string(data))
	require.NoError(t, err)
	_, err = rt.RunScript(`
globalThis.__idleon_wait_for_game_ready = function () { return Promise.resolve(true); };
function run() { return pluginExports.bad.boom(); }`)
	require.NoError(t, err)

	out, err := rt.Call("run")
	require.NoError(t, err)
	assert.Equal(t, "Error: kaput", out.String())
}

func TestCallAndConfigExpressions(t *testing.T) {
	data, err := Build(demoSources())
	require.NoError(t, err)

	rt := newRuntime(t)
	_, err = rt.RunScript("var window = globalThis;")
	require.NoError(t, err)
	_, err = rt.RunScript(string(data))
	require.NoError(t, err)
	_, err = rt.RunScript(`globalThis.__idleon_wait_for_game_ready = function () { return Promise.resolve(true); };`)
	require.NoError(t, err)

	cfgExpr, err := ConfigExpression("mobs", map[string]any{"rate": 7}, false)
	require.NoError(t, err)
	call, err := CallExpression("mobs", "setup", nil, false)
	require.NoError(t, err)
	missing, err := CallExpression("mobs", "nothing", []any{1}, false)
	require.NoError(t, err)

	_, err = rt.RunScript("function run() { " + cfgExpr + "; return " + call + "; }\nfunction miss() { return " + missing + "; }")
	require.NoError(t, err)

	out, err := rt.Call("run")
	require.NoError(t, err)
	assert.Equal(t, int64(7), out.ToInteger())

	_, err = rt.Call("miss")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export mobs.nothing not found")

	iframe, err := CallExpression("a", "b", []any{"x"}, true)
	require.NoError(t, err)
	assert.True(t, strings.Contains(iframe, `document.querySelector("iframe").contentWindow`))
}
