package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/idleonweb/idleonweb/internal/conf"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, enabled ...string) (*conf.Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s, err := conf.Open(fs, "/conf.json")
	require.NoError(t, err)
	list := make([]any, len(enabled))
	for i, id := range enabled {
		list[i] = id
	}
	require.NoError(t, s.Set(conf.KeyPlugins, list))
	return s, fs
}

type tracePlugin struct {
	Base
	desc Descriptor

	mu    *sync.Mutex
	trace *[]string

	panicOnTick bool
}

func (p *tracePlugin) record(s string) {
	p.mu.Lock()
	*p.trace = append(*p.trace, p.desc.ID+":"+s)
	p.mu.Unlock()
}

func (p *tracePlugin) Descriptor() Descriptor { return p.desc }

func (p *tracePlugin) OnLoad(context.Context, *Env) error {
	p.record("load")
	return nil
}

func (p *tracePlugin) OnGameReady(context.Context, *Env) error {
	p.record("ready")
	return nil
}

func (p *tracePlugin) OnTick(context.Context, *Env) error {
	if p.panicOnTick {
		panic("boom")
	}
	p.record("tick")
	return nil
}

func (p *tracePlugin) OnConfigChanged(_ context.Context, _ *Env, cfg map[string]any) error {
	p.record("config")
	return nil
}

func (p *tracePlugin) OnCleanup(context.Context, *Env) error {
	p.record("cleanup")
	return nil
}

type tracer struct {
	mu    sync.Mutex
	trace []string
}

func (tr *tracer) factory(desc Descriptor) Factory {
	return func(map[string]any) (Plugin, error) {
		return &tracePlugin{desc: desc, mu: &tr.mu, trace: &tr.trace}, nil
	}
}

func (tr *tracer) get() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.trace...)
}

func TestLoadOrdersByOrderThenID(t *testing.T) {
	tr := &tracer{}
	RegisterFactory("ord_a", tr.factory(Descriptor{ID: "ord_a", Order: LoadOrder(5)}))
	RegisterFactory("ord_b", tr.factory(Descriptor{ID: "ord_b", Order: LoadOrder(1)}))
	RegisterFactory("ord_c", tr.factory(Descriptor{ID: "ord_c", Order: LoadOrder(5)}))
	RegisterFactory("ord_d", tr.factory(Descriptor{ID: "ord_d"}))
	RegisterFactory("ord_zero", tr.factory(Descriptor{ID: "ord_zero", Order: LoadOrder(0)}))

	store, fs := newStore(t, "ord_d", "ord_c", "ord_a", "ord_b", "ord_zero")
	r := NewRegistry(store, Options{Fs: fs})
	require.NoError(t, r.Load(context.Background()))

	assert.Equal(t, []string{"ord_zero", "ord_b", "ord_a", "ord_c", "ord_d"}, r.IDs())
}

func TestLifecycleIsOrdered(t *testing.T) {
	tr := &tracer{}
	RegisterFactory("life", tr.factory(Descriptor{ID: "life"}))
	store, fs := newStore(t, "life")
	r := NewRegistry(store, Options{Fs: fs})
	ctx := context.Background()
	require.NoError(t, r.Load(ctx))

	inst, ok := r.Get("life")
	require.True(t, ok)
	assert.Equal(t, StateLoaded, inst.State())

	ran, err := inst.Tick(ctx, nil)
	require.NoError(t, err)
	assert.False(t, ran, "tick before game ready")

	ran, err = inst.GameReady(ctx, nil)
	require.NoError(t, err)
	assert.True(t, ran)
	ran, _ = inst.GameReady(ctx, nil)
	assert.False(t, ran, "game ready runs once")

	_, err = inst.Tick(ctx, nil)
	require.NoError(t, err)
	_, err = inst.ConfigChanged(ctx, nil, map[string]any{"x": 1})
	require.NoError(t, err)

	r.Cleanup(ctx)
	assert.Equal(t, StateCleaned, inst.State())
	ran, _ = inst.Tick(ctx, nil)
	assert.False(t, ran, "tick after cleanup")
	_, err = inst.Invoke(ctx, nil, "x", func(context.Context, *Env) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrInactive)

	assert.Equal(t, []string{"life:load", "life:ready", "life:tick", "life:config", "life:cleanup"}, tr.get())
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	RegisterFactory("panicky", func(map[string]any) (Plugin, error) {
		return &tracePlugin{desc: Descriptor{ID: "panicky"}, mu: &sync.Mutex{}, trace: &[]string{}, panicOnTick: true}, nil
	})
	store, fs := newStore(t, "panicky")
	r := NewRegistry(store, Options{Fs: fs})
	ctx := context.Background()
	require.NoError(t, r.Load(ctx))

	inst, _ := r.Get("panicky")
	_, _ = inst.GameReady(ctx, nil)
	ran, err := inst.Tick(ctx, nil)
	assert.True(t, ran)
	assert.ErrorIs(t, err, ErrCallback)
	assert.Contains(t, err.Error(), "boom")
}

func TestLoadFailuresAreSkipped(t *testing.T) {
	tr := &tracer{}
	RegisterFactory("good", tr.factory(Descriptor{ID: "good"}))
	RegisterFactory("broken", func(map[string]any) (Plugin, error) {
		return nil, errors.New("cannot build")
	})
	RegisterFactory("invalid", tr.factory(Descriptor{ID: "invalid", UI: []UIElement{{Kind: "dial", Name: "x"}}}))

	store, fs := newStore(t, "broken", "good", "missing", "invalid")
	r := NewRegistry(store, Options{Fs: fs})
	err := r.Load(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoad)
	assert.Equal(t, []string{"good"}, r.IDs())
}

func TestAvailableListsDisabledPlugins(t *testing.T) {
	tr := &tracer{}
	RegisterFactory("avail_on", tr.factory(Descriptor{ID: "avail_on"}))
	RegisterFactory("avail_off", tr.factory(Descriptor{ID: "avail_off"}))

	store, fs := newStore(t, "avail_on")
	r := NewRegistry(store, Options{Fs: fs})
	require.NoError(t, r.Load(context.Background()))

	assert.Contains(t, r.Available(), "avail_off")
	assert.NotContains(t, r.Available(), "avail_on")
}

func TestReloadPicksUpEnabledSet(t *testing.T) {
	tr := &tracer{}
	RegisterFactory("rl_one", tr.factory(Descriptor{ID: "rl_one"}))
	RegisterFactory("rl_two", tr.factory(Descriptor{ID: "rl_two"}))

	store, fs := newStore(t, "rl_one")
	r := NewRegistry(store, Options{Fs: fs})
	ctx := context.Background()
	require.NoError(t, r.Load(ctx))
	require.NoError(t, store.AddPlugin("rl_two", nil))
	require.NoError(t, r.Reload(ctx))

	assert.ElementsMatch(t, []string{"rl_one", "rl_two"}, r.IDs())
	assert.Equal(t, []string{"rl_one:load", "rl_one:cleanup", "rl_one:load", "rl_two:load"}, tr.get())
}

func TestCommandsAndSuggestions(t *testing.T) {
	calls := 0
	desc := Descriptor{
		ID: "cmds",
		Commands: []Command{{
			Name:   "add",
			Params: []Param{{Name: "a", Type: ParamInt}, {Name: "b", Type: ParamInt, Default: 10}},
			Run: func(_ context.Context, _ *Env, args map[string]any) (any, error) {
				return args["a"].(int) + toInt(args["b"]), nil
			},
		}},
		UI: []UIElement{{Kind: AutocompleteInput, Name: "item"}},
		Suggesters: map[string]SuggestFunc{
			"item": func(_ context.Context, _ *Env, q string) ([]string, error) {
				calls++
				return []string{"x" + q}, nil
			},
		},
	}
	tr := &tracer{}
	RegisterFactory("cmds", tr.factory(desc))
	store, fs := newStore(t, "cmds")
	r := NewRegistry(store, Options{Fs: fs})
	ctx := context.Background()
	require.NoError(t, r.Load(ctx))

	cmd, ok := r.Commands()["cmds.add"]
	require.True(t, ok)
	out, err := cmd.Run(ctx, nil, []string{"5"})
	require.NoError(t, err)
	assert.Equal(t, 15, out)

	cmd, err = r.Command("cmds.add")
	require.NoError(t, err)
	out, err = cmd.Run(ctx, nil, []string{"b=1", "2"})
	require.NoError(t, err)
	assert.Equal(t, 3, out)

	_, err = r.Command("cmds.nope")
	assert.ErrorIs(t, err, ErrUnknownCommand)

	got, err := r.Suggest(ctx, nil, "cmds", "item", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"xa"}, got)
	_, _ = r.Suggest(ctx, nil, "cmds", "item", "a")
	assert.Equal(t, 1, calls, "second query served from cache")

	got, err = r.Suggest(ctx, nil, "cmds", "nothing", "a")
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = r.Suggest(ctx, nil, "ghost", "item", "a")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func TestDefaultsSeedMissingKeys(t *testing.T) {
	tr := &tracer{}
	RegisterFactory("seeded", tr.factory(Descriptor{ID: "seeded", Defaults: map[string]any{"rate": 2.0, "on": false}}))
	store, fs := newStore(t, "seeded")
	require.NoError(t, store.Set("plugin_configs.seeded.rate", 5))

	r := NewRegistry(store, Options{Fs: fs})
	require.NoError(t, r.Load(context.Background()))

	cfg := store.GetPlugin("seeded")
	assert.Equal(t, float64(5), cfg["rate"])
	assert.Equal(t, false, cfg["on"])
}

func TestElementLookup(t *testing.T) {
	tr := &tracer{}
	RegisterFactory("elems", tr.factory(Descriptor{ID: "elems", UI: []UIElement{{Kind: Button, Name: "go"}}}))
	store, fs := newStore(t, "elems")
	r := NewRegistry(store, Options{Fs: fs})
	require.NoError(t, r.Load(context.Background()))

	_, el, err := r.Element("elems", "go")
	require.NoError(t, err)
	assert.Equal(t, "go", el.MethodName())

	_, _, err = r.Element("elems", "stop")
	assert.ErrorIs(t, err, ErrUnknownElement)
	_, _, err = r.Element("nobody", "go")
	assert.ErrorIs(t, err, ErrUnknownPlugin)
}
