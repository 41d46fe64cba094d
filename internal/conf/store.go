package conf

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/gookit/event"
	"github.com/idleonweb/idleonweb/internal/eventType"
	logutil "github.com/idleonweb/idleonweb/internal/log"
	"github.com/spf13/afero"
)

// ErrConfigIO marks failures reading or writing the configuration file.
var ErrConfigIO = errors.New("config-io")

// Store is the file-backed configuration tree. Reads are lock free and
// observe an immutable snapshot; writers are serialized and persist the new
// tree before it becomes visible.
type Store struct {
	fs   afero.Fs
	path string

	mu      sync.Mutex
	current atomic.Pointer[Tree]
	// set when the file on disk could not be parsed; nothing is written
	// back until a mutation or Save succeeds
	malformed atomic.Bool

	log *slog.Logger
}

// Open loads the configuration at path, seeding defaults when the file does
// not exist. A malformed file is logged and replaced in memory by defaults.
func Open(fs afero.Fs, path string) (*Store, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	s := &Store{fs: fs, path: path, log: logutil.Group("CONF")}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) tree() Tree {
	p := s.current.Load()
	if p == nil {
		return Tree{}
	}
	return *p
}

func (s *Store) publish(t Tree) {
	s.current.Store(&t)
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("Failed to read config, using defaults.", "path", s.path, "error", err)
			s.malformed.Store(true)
			s.publish(Default())
			return nil
		}
		t := Default()
		if err := s.write(t); err != nil {
			// still usable in memory
			s.log.Warn("Could not seed default config file.", "path", s.path, "error", err)
		} else {
			s.log.Info("Created default config.", "path", s.path)
		}
		s.malformed.Store(false)
		s.publish(t)
		return nil
	}

	var t Tree
	if err := json.Unmarshal(b, &t); err != nil || t == nil {
		s.log.Error("Config file is malformed, using defaults until the next save.", "path", s.path, "error", err)
		s.malformed.Store(true)
		s.publish(Default())
		return nil
	}
	s.malformed.Store(false)

	migrated := upgrade(t)
	normalized := ensurePluginEntries(t)
	if migrated || normalized {
		if err := s.write(t); err != nil {
			s.log.Warn("Could not persist config upgrade.", "error", err)
		} else if migrated {
			s.log.Info("Migrated legacy config keys.", "path", s.path)
		}
	}
	s.publish(t)
	return nil
}

func (s *Store) write(t Tree) error {
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrConfigIO, err)
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := s.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrConfigIO, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, b, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigIO, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrConfigIO, err)
	}
	return nil
}

// mutate applies fn to a copy of the current tree, persists the copy and
// publishes it. On any error the current tree is left untouched.
func (s *Store) mutate(path string, fn func(t Tree) error) error {
	s.mu.Lock()
	old := s.tree()
	next := cloneTree(old)
	if err := fn(next); err != nil {
		s.mu.Unlock()
		return err
	}
	ensurePluginEntries(next)
	if err := s.write(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.publish(next)
	s.malformed.Store(false)
	s.mu.Unlock()

	event.Trigger(eventType.ConfigUpdated, event.M{
		"store": s,
		"path":  path,
		"old":   old,
		"new":   next,
	})
	return nil
}

// setInMemory publishes value at path without writing the file or
// announcing the change.
func (s *Store) setInMemory(path string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneTree(s.tree())
	if err := setPath(next, path, value); err == nil {
		s.publish(next)
	}
}

// Get returns the value at the dotted path, or def (nil when omitted) if
// any segment is missing. Maps and slices are returned as copies.
func (s *Store) Get(path string, def ...any) any {
	v, ok := getPath(s.tree(), path)
	if !ok {
		if len(def) > 0 {
			return def[0]
		}
		return nil
	}
	return clone(v)
}

func (s *Store) Has(path string) bool {
	_, ok := getPath(s.tree(), path)
	return ok
}

func (s *Store) GetString(path, def string) string {
	if v, ok := s.Get(path).(string); ok {
		return v
	}
	return def
}

func (s *Store) GetBool(path string, def bool) bool {
	if v, ok := s.Get(path).(bool); ok {
		return v
	}
	return def
}

func (s *Store) GetInt(path string, def int) int {
	switch v := s.Get(path).(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

// Set stores value at the dotted path and persists the tree.
func (s *Store) Set(path string, value any) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}
	// unchanged values are neither written nor announced
	if cur, ok := getPath(s.tree(), path); ok && !s.Malformed() && reflect.DeepEqual(cur, v) {
		return nil
	}
	return s.mutate(path, func(t Tree) error {
		return setPath(t, path, v)
	})
}

// Delete removes the value at path. Deleting a missing path is a no-op.
func (s *Store) Delete(path string) error {
	if !s.Has(path) {
		return nil
	}
	return s.mutate(path, func(t Tree) error {
		deletePath(t, path)
		return nil
	})
}

func pluginPath(id string) string {
	return KeyPluginConfigs + "." + id
}

// GetPlugin returns a copy of plugin_configs.<id>, empty when absent.
func (s *Store) GetPlugin(id string) map[string]any {
	configs, _ := s.tree()[KeyPluginConfigs].(map[string]any)
	if m, ok := configs[id].(map[string]any); ok {
		return clone(m).(map[string]any)
	}
	return map[string]any{}
}

func (s *Store) SetPlugin(id string, cfg map[string]any) error {
	v, err := normalize(cfg)
	if err != nil {
		return err
	}
	if v == nil {
		v = map[string]any{}
	}
	return s.mutate(pluginPath(id), func(t Tree) error {
		configs, ok := t[KeyPluginConfigs].(map[string]any)
		if !ok {
			configs = map[string]any{}
			t[KeyPluginConfigs] = configs
		}
		configs[id] = v
		return nil
	})
}

func (s *Store) MergePlugin(id string, partial map[string]any) error {
	v, err := normalize(partial)
	if err != nil {
		return err
	}
	src, _ := v.(map[string]any)
	return s.mutate(pluginPath(id), func(t Tree) error {
		configs, ok := t[KeyPluginConfigs].(map[string]any)
		if !ok {
			configs = map[string]any{}
			t[KeyPluginConfigs] = configs
		}
		cur, _ := configs[id].(map[string]any)
		configs[id] = deepMerge(cur, src)
		return nil
	})
}

// ListPlugins returns the enabled plugin ids in configured order.
func (s *Store) ListPlugins() []string {
	return pluginIDs(s.tree())
}

// AddPlugin enables id, appending it to the plugin list. Adding an enabled
// plugin only merges cfg into its existing entry.
func (s *Store) AddPlugin(id string, cfg map[string]any) error {
	if id == "" {
		return fmt.Errorf("empty plugin id")
	}
	v, err := normalize(cfg)
	if err != nil {
		return err
	}
	src, _ := v.(map[string]any)
	return s.mutate(KeyPlugins, func(t Tree) error {
		list, _ := t[KeyPlugins].([]any)
		found := false
		for _, item := range list {
			if item == id {
				found = true
				break
			}
		}
		if !found {
			t[KeyPlugins] = append(list, id)
		}
		configs, ok := t[KeyPluginConfigs].(map[string]any)
		if !ok {
			configs = map[string]any{}
			t[KeyPluginConfigs] = configs
		}
		cur, _ := configs[id].(map[string]any)
		configs[id] = deepMerge(cur, src)
		return nil
	})
}

// RemovePlugin disables id. Its plugin_configs entry is kept so that
// re-enabling restores previous state.
func (s *Store) RemovePlugin(id string) error {
	return s.mutate(KeyPlugins, func(t Tree) error {
		list, _ := t[KeyPlugins].([]any)
		out := make([]any, 0, len(list))
		for _, item := range list {
			if item != id {
				out = append(out, item)
			}
		}
		t[KeyPlugins] = out
		return nil
	})
}

// Reload re-reads the file, discarding the in-memory tree.
func (s *Store) Reload() error {
	if err := s.load(); err != nil {
		return err
	}
	event.Trigger(eventType.ConfigReloaded, event.M{"store": s, "new": s.tree()})
	return nil
}

// Snapshot returns a deep copy of the whole tree.
func (s *Store) Snapshot() Tree {
	return cloneTree(s.tree())
}

// Save writes the current tree explicitly. This is the only way a tree
// served from defaults after a malformed file reaches the disk unchanged.
func (s *Store) Save() error {
	return s.mutate("", func(Tree) error { return nil })
}

// Malformed reports whether the in-memory tree stands in for an unreadable file.
func (s *Store) Malformed() bool {
	return s.malformed.Load()
}

// PluginDebug resolves the debug flag for a plugin: plugin_configs.<id>.debug
// when present, otherwise the root debug flag.
func (s *Store) PluginDebug(id string) bool {
	if v, ok := s.GetPlugin(id)["debug"].(bool); ok {
		return v
	}
	return s.GetBool(KeyDebug, false)
}

func (s *Store) WebUIPort() int { return s.GetInt(KeyWebUIPort, DefaultWebUIPort) }
func (s *Store) CDPPort() int   { return s.GetInt(KeyCDPPort, DefaultCDPPort) }
func (s *Store) TimeoutMs() int { return s.GetInt(KeyTimeout, DefaultTimeoutMs) }
func (s *Store) IdleonURL() string {
	return s.GetString(KeyIdleonURL, DefaultIdleonURL)
}
