package plugin

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/dop251/goja"
	"github.com/idleonweb/idleonweb/internal/jsruntime"
	"github.com/spf13/afero"
)

// ScriptExt is the file extension of script plugins.
const ScriptExt = ".js"

// scriptID derives a plugin id from a path relative to the plugin
// directory: "world1/foo.js" becomes "world1.foo".
func scriptID(rel string) string {
	rel = strings.TrimSuffix(path.Clean(strings.ReplaceAll(rel, "\\", "/")), ScriptExt)
	return strings.ReplaceAll(rel, "/", ".")
}

// scriptPlugin runs a plugin written in JavaScript. The instance mutex
// serializes callbacks, so ctx and env are only ever set by one caller.
type scriptPlugin struct {
	id   string
	file string
	rt   *jsruntime.JsRuntime
	desc Descriptor

	ctx context.Context
	env *Env
}

func newScriptFactory(fs afero.Fs, file, id string, kv *jsruntime.RamKv) Factory {
	return func(cfg map[string]any) (Plugin, error) {
		src, err := afero.ReadFile(fs, file)
		if err != nil {
			return nil, err
		}
		return newScriptPlugin(id, file, string(src), kv)
	}
}

// newScriptPlugin runs src once and reads its Manifest. kv is the global
// kv object; nil gives the script a private one.
func newScriptPlugin(id, file, src string, kv *jsruntime.RamKv) (*scriptPlugin, error) {
	s := &scriptPlugin{id: id, file: file, ctx: context.Background()}
	rt, err := jsruntime.NewBuilder().
		WithNodejs().
		WithMemoryKv(kv).
		WithInjector(s.injectHost).
		Build()
	if err != nil {
		return nil, err
	}
	s.rt = rt
	if _, err := rt.RunNamed(file, src); err != nil {
		return nil, fmt.Errorf("run %s: %w", file, err)
	}
	var m Manifest
	if err := rt.ExportGlobal("Manifest", &m); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	s.desc = s.describe(m)
	return s, nil
}

func (s *scriptPlugin) injectHost(r *jsruntime.JsRuntime) error {
	vm := r.VM()
	host := vm.NewObject()
	set := func(name string, fn any) {
		_ = host.Set(name, fn)
	}
	set("evaluate", func(expr string, await bool) (any, error) {
		return s.currentEnv().Evaluate(s.ctx, expr, await)
	})
	set("callExport", func(name string, args ...any) (any, error) {
		return s.currentEnv().CallExport(s.ctx, name, args...)
	})
	set("config", func() map[string]any {
		return s.currentEnv().Config()
	})
	set("setConfig", func(key string, value any) error {
		env := s.currentEnv()
		if env.store == nil {
			return ErrInactive
		}
		return env.SetConfig(key, value)
	})
	set("debug", func() bool {
		return s.currentEnv().Debug()
	})
	set("connected", func() bool {
		return s.currentEnv().Connected()
	})
	set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		if env := s.currentEnv(); env.Log != nil {
			env.Log.Info(strings.Join(parts, " "))
		}
		return goja.Undefined()
	})
	_ = host.Set("id", s.id)
	return vm.Set("host", host)
}

func (s *scriptPlugin) currentEnv() *Env {
	if s.env == nil {
		return &Env{ID: s.id}
	}
	return s.env
}

func (s *scriptPlugin) describe(m Manifest) Descriptor {
	d := Descriptor{
		ID:          s.id,
		Name:        m.Name,
		Description: m.Description,
		Version:     m.Version,
		Category:    m.Category,
		Order:       m.Order,
		Defaults:    m.Defaults,
		Suggesters:  map[string]SuggestFunc{},
	}

	for _, c := range m.Commands {
		method := c.Method
		if method == "" {
			method = c.Name
		}
		d.Commands = append(d.Commands, Command{
			Name:   c.Name,
			Help:   c.Help,
			Params: c.Params,
			Run: func(ctx context.Context, env *Env, args map[string]any) (any, error) {
				return s.call(ctx, env, method, args)
			},
		})
	}

	for _, e := range m.UI {
		el := UIElement{
			Kind:        UIKind(e.Type),
			Name:        e.Name,
			Label:       e.Label,
			Description: e.Description,
			Category:    e.Category,
			Order:       e.Order,
			Method:      e.Method,
			ConfigKey:   e.ConfigKey,
			Default:     e.Default,
			Min:         e.Min,
			Max:         e.Max,
			Step:        e.Step,
			Placeholder: e.Placeholder,
			ButtonLabel: e.ButtonLabel,
			Severity:    e.Severity,
			Provider:    e.Provider,
		}
		if method := el.MethodName(); s.rt.HasFunction(method) {
			el.Handler = func(ctx context.Context, env *Env, value any) (any, error) {
				return s.call(ctx, env, method, value)
			}
		}
		if el.Kind == AutocompleteInput {
			provider := el.ProviderName()
			fn := "get_" + provider + "_autocomplete"
			if s.rt.HasFunction(fn) {
				d.Suggesters[provider] = func(ctx context.Context, env *Env, query string) ([]string, error) {
					v, err := s.call(ctx, env, fn, query)
					if err != nil {
						return nil, err
					}
					return toStrings(v), nil
				}
			}
		}
		d.UI = append(d.UI, el)
	}

	for _, e := range m.Exports {
		d.Exports = append(d.Exports, JSExport{
			Name:      e.Name,
			Namespace: e.Namespace,
			Params:    e.Params,
			Args:      e.Args,
			Source:    e.Source,
		})
	}
	return d
}

func (s *scriptPlugin) call(ctx context.Context, env *Env, fn string, args ...any) (any, error) {
	s.ctx, s.env = ctx, env
	defer func() { s.ctx, s.env = context.Background(), nil }()

	v, err := s.rt.Call(fn, args...)
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return v.Export(), nil
}

func (s *scriptPlugin) lifecycle(ctx context.Context, env *Env, fn string, args ...any) error {
	if !s.rt.HasFunction(fn) {
		return nil
	}
	_, err := s.call(ctx, env, fn, args...)
	return err
}

func (s *scriptPlugin) Descriptor() Descriptor { return s.desc }

func (s *scriptPlugin) OnLoad(ctx context.Context, env *Env) error {
	return s.lifecycle(ctx, env, "onLoad")
}

func (s *scriptPlugin) OnGameReady(ctx context.Context, env *Env) error {
	return s.lifecycle(ctx, env, "onGameReady")
}

func (s *scriptPlugin) OnTick(ctx context.Context, env *Env) error {
	return s.lifecycle(ctx, env, "onTick")
}

func (s *scriptPlugin) OnConfigChanged(ctx context.Context, env *Env, cfg map[string]any) error {
	return s.lifecycle(ctx, env, "onConfigChanged", cfg)
}

func (s *scriptPlugin) OnCleanup(ctx context.Context, env *Env) error {
	return s.lifecycle(ctx, env, "onCleanup")
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if x == nil {
				continue
			}
			out = append(out, fmt.Sprint(x))
		}
		return out
	case nil:
		return []string{}
	}
	return []string{fmt.Sprint(v)}
}
