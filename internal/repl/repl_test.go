package repl

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"github.com/idleonweb/idleonweb/internal/bundle"
	"github.com/idleonweb/idleonweb/internal/conf"
	"github.com/idleonweb/idleonweb/internal/coordinator"
	"github.com/idleonweb/idleonweb/internal/plugin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	key  string
	args []string
}

type fakeCoordinator struct {
	mu      sync.Mutex
	reg     *plugin.Registry
	store   *conf.Store
	session coordinator.Session
	calls   []call
	ops     []string
	err     error
}

func (f *fakeCoordinator) op(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, name)
	return f.err
}

func (f *fakeCoordinator) Inject(context.Context) error {
	if err := f.op("inject"); err != nil {
		return err
	}
	f.session = coordinator.Session{ID: "sess-1", TargetID: "target-1", Status: coordinator.StatusConnected, Since: time.Now()}
	return nil
}

func (f *fakeCoordinator) Reload(context.Context) error { return f.op("reload") }
func (f *fakeCoordinator) Stop(context.Context) error   { return f.op("stop") }
func (f *fakeCoordinator) Status() coordinator.Session  { return f.session }

func (f *fakeCoordinator) RunCommand(_ context.Context, key string, args []string) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{key, args})
	f.mu.Unlock()
	return map[string]any{"ran": key}, f.err
}

func (f *fakeCoordinator) LastBundle() bundle.Result {
	return bundle.Result{Path: "/plugins_combined.js", Size: 2048, Plugins: []string{"spawner"}, Exports: 1}
}

func (f *fakeCoordinator) Registry() *plugin.Registry { return f.reg }
func (f *fakeCoordinator) Store() *conf.Store         { return f.store }

type cmdPlugin struct {
	plugin.Base
	desc plugin.Descriptor
}

func (p *cmdPlugin) Descriptor() plugin.Descriptor { return p.desc }

func init() {
	color.NoColor = true
	noop := func(context.Context, *plugin.Env, map[string]any) (any, error) { return nil, nil }
	descs := map[string]plugin.Descriptor{
		"spawner": {
			ID:      "spawner",
			Version: "1.2.0",
			Commands: []plugin.Command{
				{Name: "spawn", Help: "Spawn an item.", Run: noop, Params: []plugin.Param{
					{Name: "item", Type: plugin.ParamStr},
					{Name: "amount", Type: plugin.ParamInt, Default: 1},
					{Name: "silent", Type: plugin.ParamBool, Default: false},
				}},
				{Name: "reset", Run: noop},
			},
		},
		"other": {
			ID:       "other",
			Commands: []plugin.Command{{Name: "reset", Run: noop}, {Name: "solo", Run: noop}},
		},
	}
	for id, d := range descs {
		plugin.RegisterFactory(id, func(map[string]any) (plugin.Plugin, error) {
			return &cmdPlugin{desc: d}, nil
		})
	}
}

func newREPL(t *testing.T) (*REPL, *fakeCoordinator, *bytes.Buffer) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store, err := conf.Open(fs, "/conf.json")
	require.NoError(t, err)
	require.NoError(t, store.Set(conf.KeyPlugins, []any{"spawner", "other"}))
	reg := plugin.NewRegistry(store, plugin.Options{Fs: fs})
	require.NoError(t, reg.Load(context.Background()))
	t.Cleanup(func() { reg.Cleanup(context.Background()) })

	co := &fakeCoordinator{reg: reg, store: store, session: coordinator.Session{Status: coordinator.StatusDisconnected}}
	var out bytes.Buffer
	return New(co, &out), co, &out
}

func TestExecPluginCommand(t *testing.T) {
	r, co, out := newREPL(t)
	ctx := context.Background()

	require.NoError(t, r.Exec(ctx, `spawner.spawn "Copper Bar" amount=5`))
	require.NoError(t, r.Exec(ctx, `spawn Copper`))
	require.NoError(t, r.Exec(ctx, `solo`))

	want := []call{
		{"spawner.spawn", []string{"Copper Bar", "amount=5"}},
		{"spawner.spawn", []string{"Copper"}},
		{"other.solo", []string{}},
	}
	if diff := cmp.Diff(want, co.calls, cmp.AllowUnexported(call{}), cmp.Comparer(func(a, b []string) bool {
		return strings.Join(a, "\x00") == strings.Join(b, "\x00")
	})); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, out.String(), `"ran": "spawner.spawn"`)
}

func TestExecUnknownAndAmbiguous(t *testing.T) {
	r, co, _ := newREPL(t)
	ctx := context.Background()

	err := r.Exec(ctx, "fly")
	require.ErrorIs(t, err, ErrUnknownCommand)

	err = r.Exec(ctx, "reset")
	require.ErrorIs(t, err, ErrUnknownCommand)
	assert.Contains(t, err.Error(), "other.reset, spawner.reset")

	require.NoError(t, r.Exec(ctx, "other.reset"))
	assert.Len(t, co.calls, 1)
	require.NoError(t, r.Exec(ctx, "   "))
}

func TestSessionBuiltins(t *testing.T) {
	r, co, out := newREPL(t)
	ctx := context.Background()

	require.NoError(t, r.Exec(ctx, "inject"))
	assert.Contains(t, out.String(), "Injected 1 plugin(s), bundle 2.0 kB. Session sess-1.")
	require.NoError(t, r.Exec(ctx, "reload"))
	require.NoError(t, r.Exec(ctx, "status"))
	assert.Contains(t, out.String(), "connected")
	assert.Contains(t, out.String(), "target-1")
	require.NoError(t, r.Exec(ctx, "stop"))
	assert.Equal(t, []string{"inject", "reload", "stop"}, co.ops)

	co.err = errors.New("no-tabs")
	require.EqualError(t, r.Exec(ctx, "reload"), "no-tabs")
}

func TestConfigBuiltin(t *testing.T) {
	r, _, out := newREPL(t)
	ctx := context.Background()

	require.NoError(t, r.Exec(ctx, "config injector.cdp_port 9222"))
	assert.Equal(t, 9222, r.store.CDPPort())

	require.NoError(t, r.Exec(ctx, "config webui.url http://localhost:9000"))
	assert.Equal(t, "http://localhost:9000", r.store.GetString(conf.KeyWebUIURL, ""))

	out.Reset()
	require.NoError(t, r.Exec(ctx, "config injector.cdp_port"))
	assert.Equal(t, "9222\n", out.String())

	assert.Error(t, r.Exec(ctx, "config no.such.path"))
}

func TestToggleBuiltins(t *testing.T) {
	r, _, _ := newREPL(t)
	ctx := context.Background()

	require.NoError(t, r.Exec(ctx, "darkmode"))
	assert.True(t, r.store.GetBool(conf.KeyWebUIDarkMode, false))
	require.NoError(t, r.Exec(ctx, "darkmode off"))
	assert.False(t, r.store.GetBool(conf.KeyWebUIDarkMode, true))

	require.NoError(t, r.Exec(ctx, "auto_inject on"))
	assert.True(t, r.store.GetBool(conf.KeyAutoInject, false))
	assert.Error(t, r.Exec(ctx, "auto_inject maybe"))
	assert.True(t, r.store.GetBool(conf.KeyAutoInject, false))
}

func TestWebUIOpensConfiguredURL(t *testing.T) {
	r, _, _ := newREPL(t)
	var opened string
	r.OpenURL = func(u string) error {
		opened = u
		return nil
	}
	require.NoError(t, r.Exec(context.Background(), "web_ui"))
	assert.Equal(t, conf.DefaultWebUIURL, opened)
}

func TestHelpAndPlugins(t *testing.T) {
	r, _, out := newREPL(t)
	ctx := context.Background()

	require.NoError(t, r.Exec(ctx, "help"))
	assert.Contains(t, out.String(), "injector_config")
	assert.Contains(t, out.String(), "spawner.spawn")

	out.Reset()
	require.NoError(t, r.Exec(ctx, "help spawn"))
	assert.Contains(t, out.String(), "amount")
	assert.Contains(t, out.String(), "default 1")
	assert.Contains(t, out.String(), "required")

	out.Reset()
	require.NoError(t, r.Exec(ctx, "plugins"))
	assert.Contains(t, out.String(), "1.2.0")
	assert.Contains(t, out.String(), "2.0 kB")
}

func TestComplete(t *testing.T) {
	r, _, _ := newREPL(t)

	cases := map[string][]string{
		"":                        r.commandNames(),
		"inj":                     {"inject", "injector_config"},
		"spawner.":                {"spawner.reset", "spawner.spawn"},
		"darkmode ":               {"on", "off"},
		"darkmode o":              {"on", "off"},
		"darkmode on ":            nil,
		"spawner.spawn ":          {"item=", "amount=", "silent="},
		"spawner.spawn amount=3 ": {"item=", "silent="},
		"spawn a":                 {"amount="},
		"spawner.spawn silent=t":  {"silent=true"},
		"spawner.spawn amount=":   nil,
		"help spawner.s":          {"spawner.spawn"},
		"nope ":                   nil,
		"config injector.cdp":     {"injector.cdp_port"},
	}
	for line, want := range cases {
		t.Run(line, func(t *testing.T) {
			assert.Equal(t, want, r.Complete(line))
		})
	}
}

func TestCompleteLine(t *testing.T) {
	r, _, _ := newREPL(t)

	line, pos, show := r.completeLine("injec", 5)
	assert.Equal(t, "inject", line)
	assert.Equal(t, 6, pos)
	assert.Nil(t, show)

	line, pos, show = r.completeLine("injector", 8)
	assert.Equal(t, "injector_config ", line)
	assert.Equal(t, 16, pos)
	assert.Nil(t, show)

	line, _, show = r.completeLine("inject", 6)
	assert.Equal(t, "inject", line)
	assert.Equal(t, []string{"inject", "injector_config"}, show)

	line, pos, _ = r.completeLine("spawner.spawn am", 16)
	assert.Equal(t, "spawner.spawn amount=", line)
	assert.Equal(t, 21, pos)
}

func TestRunReadsUntilExit(t *testing.T) {
	r, co, out := newREPL(t)

	in := strings.NewReader("inject\n\nbogus\nexit\nstop\n")
	require.NoError(t, r.Run(context.Background(), in, out))
	assert.True(t, r.Done())
	assert.Equal(t, []string{"inject"}, co.ops)
	assert.Contains(t, out.String(), "Error: unknown command: bogus")
}

func TestRunStopsAtEOF(t *testing.T) {
	r, _, out := newREPL(t)
	require.NoError(t, r.Run(context.Background(), strings.NewReader("status"), out))
	assert.False(t, r.Done())
	assert.Contains(t, out.String(), "disconnected")
}
