package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/idleonweb/idleonweb/internal/bridge"
	"github.com/idleonweb/idleonweb/internal/conf"
	"github.com/idleonweb/idleonweb/internal/plugin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// fakeBridge records calls and answers with configurable errors.
type fakeBridge struct {
	mu        sync.Mutex
	target    string
	evals     []string
	reloads   int
	checks    int
	exposed   string
	opened    []string
	released  bool
	closed    bool
	healthErr error
	evalFn    func(expr string) (any, error)
	reason    bridge.Reason
}

func (b *fakeBridge) EnsureBrowser(context.Context) error { return nil }

func (b *fakeBridge) Connect(context.Context, time.Duration) error { return nil }

func (b *fakeBridge) ExposeGameContext(_ context.Context, pattern string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exposed = pattern
	return nil
}

func (b *fakeBridge) Evaluate(_ context.Context, expr string, _ bool) (any, error) {
	b.mu.Lock()
	b.evals = append(b.evals, expr)
	fn := b.evalFn
	b.mu.Unlock()
	if fn != nil {
		return fn(expr)
	}
	return nil, nil
}

func (b *fakeBridge) ReloadJS(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reloads++
	return nil
}

func (b *fakeBridge) OpenURLInNewTab(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = append(b.opened, url)
	return nil
}

func (b *fakeBridge) HealthCheck(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checks++
	return b.healthErr
}

func (b *fakeBridge) Diagnose(context.Context) bridge.Reason {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

func (b *fakeBridge) SessionID() string { return b.target }
func (b *fakeBridge) InIframe() bool    { return false }

func (b *fakeBridge) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
	return nil
}

func (b *fakeBridge) CloseBrowser() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBridge) setHealth(err error) {
	b.mu.Lock()
	b.healthErr = err
	b.mu.Unlock()
}

func (b *fakeBridge) setEval(fn func(string) (any, error)) {
	b.mu.Lock()
	b.evalFn = fn
	b.mu.Unlock()
}

func (b *fakeBridge) evaluated(substr string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.evals {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func (b *fakeBridge) state() (reloads, checks int, released, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reloads, b.checks, b.released, b.closed
}

type fakeFactory struct {
	mu      sync.Mutex
	bridges []*fakeBridge
	opts    []bridge.Options
}

func (f *fakeFactory) New(opts bridge.Options) Bridge {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := &fakeBridge{target: fmt.Sprintf("target-%d", len(f.bridges)+1), reason: bridge.ReasonClosed}
	f.bridges = append(f.bridges, b)
	f.opts = append(f.opts, opts)
	return b
}

func (f *fakeFactory) last() *fakeBridge {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bridges) == 0 {
		return nil
	}
	return f.bridges[len(f.bridges)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bridges)
}

// recorder collects lifecycle calls of tracked plugins.
type recorder struct {
	mu     sync.Mutex
	trace  []string
	values []any
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.trace = append(r.trace, s)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.trace...)
}

func (r *recorder) count(s string) int {
	n := 0
	for _, v := range r.get() {
		if v == s {
			n++
		}
	}
	return n
}

type trackedPlugin struct {
	plugin.Base
	desc      plugin.Descriptor
	rec       *recorder
	tickDelay time.Duration
}

func (p *trackedPlugin) Descriptor() plugin.Descriptor { return p.desc }

func (p *trackedPlugin) OnLoad(context.Context, *plugin.Env) error {
	p.rec.add(p.desc.ID + ":load")
	return nil
}

func (p *trackedPlugin) OnGameReady(context.Context, *plugin.Env) error {
	p.rec.add(p.desc.ID + ":ready")
	return nil
}

func (p *trackedPlugin) OnTick(context.Context, *plugin.Env) error {
	p.rec.add(p.desc.ID + ":tick")
	if p.tickDelay > 0 {
		time.Sleep(p.tickDelay)
	}
	return nil
}

func (p *trackedPlugin) OnConfigChanged(_ context.Context, _ *plugin.Env, cfg map[string]any) error {
	p.rec.add(p.desc.ID + ":config")
	return nil
}

func (p *trackedPlugin) OnCleanup(context.Context, *plugin.Env) error {
	p.rec.add(p.desc.ID + ":cleanup")
	return nil
}

func trackedDescriptor(id string, rec *recorder) plugin.Descriptor {
	return plugin.Descriptor{
		ID: id,
		Commands: []plugin.Command{{
			Name: "ping",
			Run: func(ctx context.Context, env *plugin.Env, _ map[string]any) (any, error) {
				return env.CallExport(ctx, "ping")
			},
		}},
		UI: []plugin.UIElement{
			{
				Kind:      plugin.Toggle,
				Name:      "enabled",
				Label:     "Enabled",
				ConfigKey: "enabled",
				Default:   false,
				Handler: func(_ context.Context, _ *plugin.Env, v any) (any, error) {
					rec.mu.Lock()
					rec.values = append(rec.values, v)
					rec.mu.Unlock()
					return fmt.Sprintf("enabled=%v", v), nil
				},
			},
			{Kind: plugin.AutocompleteInput, Name: "pick", Label: "Pick"},
			{Kind: plugin.Banner, Name: "note", Label: "Note"},
		},
		Exports: []plugin.JSExport{{Name: "ping", Source: "return 'pong';"}},
		Suggesters: map[string]plugin.SuggestFunc{
			"pick": func(_ context.Context, _ *plugin.Env, q string) ([]string, error) {
				return []string{"Copper", "CopperBar"}, nil
			},
		},
	}
}

func registerTracked(id string, rec *recorder, tickDelay time.Duration) {
	plugin.RegisterFactory(id, func(map[string]any) (plugin.Plugin, error) {
		return &trackedPlugin{desc: trackedDescriptor(id, rec), rec: rec, tickDelay: tickDelay}, nil
	})
}

type harness struct {
	c       *Coordinator
	store   *conf.Store
	fs      afero.Fs
	bridges *fakeFactory
}

func newHarness(t *testing.T, opts Options, enabled ...string) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	store, err := conf.Open(fs, "/conf.json")
	require.NoError(t, err)
	list := make([]any, len(enabled))
	for i, id := range enabled {
		list[i] = id
	}
	require.NoError(t, store.Set(conf.KeyPlugins, list))

	reg := plugin.NewRegistry(store, plugin.Options{Fs: fs})
	require.NoError(t, reg.Load(context.Background()))

	f := &fakeFactory{}
	opts.Fs = fs
	opts.NewBridge = f.New
	if opts.TickInterval == 0 {
		opts.TickInterval = time.Hour
	}
	if opts.HealthInterval == 0 {
		opts.HealthInterval = time.Hour
	}
	c := New(store, reg, opts)
	c.Start()
	return &harness{c: c, store: store, fs: fs, bridges: f}
}

func (h *harness) close(t *testing.T) {
	t.Helper()
	require.NoError(t, h.c.Close(context.Background()))
}

func next(t *testing.T, ch <-chan Session) Session {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no status change")
		return Session{}
	}
}
