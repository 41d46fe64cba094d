package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gookit/event"
	"github.com/idleonweb/idleonweb/internal/conf"
	"github.com/idleonweb/idleonweb/internal/eventType"
	"github.com/idleonweb/idleonweb/internal/jsruntime"
	logutil "github.com/idleonweb/idleonweb/internal/log"
	"github.com/patrickmn/go-cache"
	"github.com/spf13/afero"
)

// SuggestTTL is how long suggestion results are reused for the same query.
const SuggestTTL = 5 * time.Second

const originBuiltin = "builtin"

type Options struct {
	// Dir is scanned recursively for script plugins. Empty disables scripts.
	Dir string
	Fs  afero.Fs
}

type candidate struct {
	origin  string
	factory Factory
}

// Registry discovers plugins, instantiates the enabled ones and indexes
// their commands, UI elements, exports and suggestion providers.
type Registry struct {
	store *conf.Store
	fs    afero.Fs
	dir   string
	log   *slog.Logger

	mu        sync.RWMutex
	instances []*Instance
	byID      map[string]*Instance
	available []string

	suggestions *cache.Cache
	// kv is shared by all script plugins and survives reloads.
	kv *jsruntime.RamKv
}

func NewRegistry(store *conf.Store, opts Options) *Registry {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	return &Registry{
		store:       store,
		fs:          opts.Fs,
		dir:         opts.Dir,
		log:         logutil.Group("PLUGIN"),
		byID:        map[string]*Instance{},
		suggestions: cache.New(SuggestTTL, 2*SuggestTTL),
		kv:          jsruntime.NewRamKv(),
	}
}

func (r *Registry) Dir() string { return r.dir }

// discover returns every plugin that could be enabled, keyed by id.
// Built-in factories win over scripts with the same id.
func (r *Registry) discover() map[string]candidate {
	found := map[string]candidate{}
	for _, id := range FactoryIDs() {
		f, _ := getFactory(id)
		found[id] = candidate{origin: originBuiltin, factory: f}
	}
	if r.dir == "" {
		return found
	}
	if ok, _ := afero.DirExists(r.fs, r.dir); !ok {
		r.log.Debug("Plugin directory not found.", "dir", r.dir)
		return found
	}
	err := afero.Walk(r.fs, r.dir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if p != r.dir && strings.HasPrefix(info.Name(), "_") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(p) != ScriptExt || strings.HasPrefix(info.Name(), "_") {
			return nil
		}
		rel, err := filepath.Rel(r.dir, p)
		if err != nil {
			return nil
		}
		id := scriptID(filepath.ToSlash(rel))
		if prev, dup := found[id]; dup {
			r.log.Warn("Plugin id already taken, ignoring script.", "id", id, "file", p, "kept", prev.origin)
			return nil
		}
		found[id] = candidate{origin: p, factory: newScriptFactory(r.fs, p, id, r.kv)}
		return nil
	})
	if err != nil {
		r.log.Warn("Failed to scan plugin directory.", "dir", r.dir, "error", err)
	}
	return found
}

// Load instantiates every enabled plugin and runs on_load. Failures are
// logged and the plugin is skipped. Calling Load on a loaded registry is a
// no-op; use Reload.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	if len(r.instances) > 0 {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	found := r.discover()
	enabled := r.store.ListPlugins()
	enabledSet := map[string]bool{}

	var loaded []*Instance
	var errs []error
	for _, id := range enabled {
		if enabledSet[id] {
			continue
		}
		enabledSet[id] = true
		inst, err := r.instantiate(ctx, id, found)
		if err != nil {
			r.log.Error("Failed to load plugin.", "plugin", id, "error", err)
			errs = append(errs, err)
			continue
		}
		loaded = append(loaded, inst)
	}
	sortInstances(loaded)

	var available []string
	for id := range found {
		if !enabledSet[id] {
			available = append(available, id)
		}
	}
	sort.Strings(available)

	r.mu.Lock()
	r.instances = loaded
	r.byID = make(map[string]*Instance, len(loaded))
	for _, inst := range loaded {
		r.byID[inst.ID()] = inst
	}
	r.available = available
	r.mu.Unlock()
	r.suggestions.Flush()

	ids := r.IDs()
	r.log.Info("Plugins loaded.", "count", len(ids), "plugins", strings.Join(ids, ","))
	if len(available) > 0 {
		r.log.Info("Plugins available but not enabled.", "plugins", strings.Join(available, ","))
	}
	event.Trigger(eventType.PluginsLoaded, event.M{"ids": ids})
	return errors.Join(errs...)
}

func (r *Registry) instantiate(ctx context.Context, id string, found map[string]candidate) (*Instance, error) {
	c, ok := found[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s not found", ErrLoad, id)
	}
	p, err := c.factory(r.store.GetPlugin(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, id, err)
	}
	desc := p.Descriptor()
	if err := desc.validate(id); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, id, err)
	}
	for _, el := range desc.UI {
		if el.Kind != AutocompleteInput {
			continue
		}
		if _, ok := desc.Suggesters[el.ProviderName()]; !ok {
			r.log.Warn("Autocomplete element has no suggestion provider.", "plugin", id, "element", el.Name)
		}
	}
	if err := r.seedDefaults(id, desc.Defaults); err != nil {
		r.log.Warn("Could not seed plugin defaults.", "plugin", id, "error", err)
	}

	inst := newInstance(p, desc, c.origin, r.store, r.log)
	if err := inst.load(ctx); err != nil {
		_ = inst.Cleanup(ctx)
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	return inst, nil
}

func (r *Registry) seedDefaults(id string, defaults map[string]any) error {
	if len(defaults) == 0 {
		return nil
	}
	cur := r.store.GetPlugin(id)
	missing := map[string]any{}
	for k, v := range defaults {
		if _, ok := cur[k]; !ok {
			missing[k] = v
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return r.store.MergePlugin(id, missing)
}

func sortInstances(list []*Instance) {
	sort.SliceStable(list, func(a, b int) bool {
		oa, ob := list[a].desc.EffectiveOrder(), list[b].desc.EffectiveOrder()
		if oa != ob {
			return oa < ob
		}
		return list[a].ID() < list[b].ID()
	})
}

// Cleanup runs on_cleanup for every instance in load order and empties the
// registry. Errors are logged and do not stop the remaining cleanups.
func (r *Registry) Cleanup(ctx context.Context) {
	r.mu.Lock()
	list := r.instances
	r.instances = nil
	r.byID = map[string]*Instance{}
	r.mu.Unlock()
	r.suggestions.Flush()

	for _, inst := range list {
		if err := inst.Cleanup(ctx); err != nil {
			r.log.Warn("Plugin cleanup failed.", "plugin", inst.ID(), "error", err)
		}
	}
}

// Reload cleans up all instances and loads the enabled set again.
func (r *Registry) Reload(ctx context.Context) error {
	r.Cleanup(ctx)
	return r.Load(ctx)
}

func (r *Registry) Get(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byID[id]
	return inst, ok
}

// All returns the loaded instances in load order.
func (r *Registry) All() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, len(r.instances))
	copy(out, r.instances)
	return out
}

func (r *Registry) IDs() []string {
	list := r.All()
	ids := make([]string, len(list))
	for i, inst := range list {
		ids[i] = inst.ID()
	}
	return ids
}

// Available lists discovered plugins that are not enabled.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.available...)
}

// Descriptors returns the descriptors of loaded plugins in load order.
func (r *Registry) Descriptors() []Descriptor {
	list := r.All()
	out := make([]Descriptor, len(list))
	for i, inst := range list {
		out[i] = inst.Descriptor()
	}
	return out
}

// Element resolves a UI element of a loaded plugin.
func (r *Registry) Element(pluginID, name string) (*Instance, UIElement, error) {
	inst, ok := r.Get(pluginID)
	if !ok {
		return nil, UIElement{}, fmt.Errorf("%w: %s", ErrUnknownPlugin, pluginID)
	}
	el, ok := inst.desc.Element(name)
	if !ok {
		return nil, UIElement{}, fmt.Errorf("%w: %s.%s", ErrUnknownElement, pluginID, name)
	}
	return inst, el, nil
}

// BoundCommand is a plugin command addressed as <plugin>.<command>.
type BoundCommand struct {
	Key      string
	Instance *Instance
	Command  Command
}

// Run parses args against the command parameters and invokes it.
func (b BoundCommand) Run(ctx context.Context, page Page, args []string) (any, error) {
	parsed, err := ParseArgs(b.Command.Params, args)
	if err != nil {
		return nil, err
	}
	return b.Instance.Invoke(ctx, page, b.Command.Name, func(ctx context.Context, env *Env) (any, error) {
		return b.Command.Run(ctx, env, parsed)
	})
}

// Commands indexes every loaded plugin command by <plugin>.<command>.
func (r *Registry) Commands() map[string]BoundCommand {
	out := map[string]BoundCommand{}
	for _, inst := range r.All() {
		for _, c := range inst.desc.Commands {
			key := inst.ID() + "." + c.Name
			out[key] = BoundCommand{Key: key, Instance: inst, Command: c}
		}
	}
	return out
}

// Command looks up a single bound command.
func (r *Registry) Command(key string) (BoundCommand, error) {
	// ids may contain dots; the command name is the last segment
	i := strings.LastIndex(key, ".")
	if i <= 0 || i == len(key)-1 {
		return BoundCommand{}, fmt.Errorf("%w: %s", ErrUnknownCommand, key)
	}
	id, name := key[:i], key[i+1:]
	inst, found := r.Get(id)
	if !found {
		return BoundCommand{}, fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}
	c, found := inst.desc.Command(name)
	if !found {
		return BoundCommand{}, fmt.Errorf("%w: %s", ErrUnknownCommand, key)
	}
	return BoundCommand{Key: key, Instance: inst, Command: c}, nil
}

// HasSuggester reports whether element of plugin has a suggestion provider.
func (r *Registry) HasSuggester(pluginID, element string) bool {
	inst, ok := r.Get(pluginID)
	if !ok {
		return false
	}
	_, ok = inst.suggester(element)
	return ok
}

func (i *Instance) suggester(element string) (SuggestFunc, bool) {
	name := element
	if el, ok := i.desc.Element(element); ok {
		name = el.ProviderName()
	}
	fn, ok := i.desc.Suggesters[name]
	return fn, ok && fn != nil
}

// Suggest runs the suggestion provider of an element. A plugin or element
// without a provider yields an empty list. Results are cached briefly per
// plugin, element and query.
func (r *Registry) Suggest(ctx context.Context, page Page, pluginID, element, query string) ([]string, error) {
	inst, ok := r.Get(pluginID)
	if !ok {
		return []string{}, nil
	}
	fn, ok := inst.suggester(element)
	if !ok {
		return []string{}, nil
	}
	key := pluginID + "\x00" + element + "\x00" + query
	if v, ok := r.suggestions.Get(key); ok {
		return append([]string(nil), v.([]string)...), nil
	}
	out, err := inst.Invoke(ctx, page, "get_"+element+"_autocomplete", func(ctx context.Context, env *Env) (any, error) {
		return fn(ctx, env, query)
	})
	if err != nil {
		return nil, err
	}
	list, _ := out.([]string)
	if list == nil {
		list = []string{}
	}
	r.suggestions.SetDefault(key, list)
	return append([]string(nil), list...), nil
}

// InvalidateSuggestions drops cached suggestion results.
func (r *Registry) InvalidateSuggestions() {
	r.suggestions.Flush()
}
