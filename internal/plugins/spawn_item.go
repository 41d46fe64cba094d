package plugins

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/idleonweb/idleonweb/internal/plugin"
	"github.com/patrickmn/go-cache"
)

const (
	spawnItemID = "spawn_item"
	// MaxItemSuggestions caps the autocomplete list of item ids.
	MaxItemSuggestions = 10
	itemsKey           = "items"
)

type item struct {
	ID   string
	Name string
}

func (i item) String() string { return i.ID + " : " + i.Name }

// spawnItem drops items next to the active character. The item list is
// read from the game once it is ready and kept until cleanup.
type spawnItem struct {
	plugin.Base
	items *cache.Cache
}

func init() {
	plugin.RegisterFactory(spawnItemID, func(map[string]any) (plugin.Plugin, error) {
		return &spawnItem{items: cache.New(cache.NoExpiration, 0)}, nil
	})
}

func (s *spawnItem) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		ID:          spawnItemID,
		Name:        "Spawn Item",
		Description: "Drop any item next to the active character.",
		Version:     "1.1.0",
		Category:    "Items",
		Order:       plugin.LoadOrder(10),
		Commands: []plugin.Command{
			{
				Name: "spawn",
				Help: "Spawn an item by id or display name.",
				Params: []plugin.Param{
					{Name: "item", Type: plugin.ParamStr, Help: "Item id or display name"},
					{Name: "amount", Type: plugin.ParamInt, Default: 1, Help: "How many to drop"},
				},
				Run: s.spawnCommand,
			},
			{Name: "list_items", Help: "List all item ids and their display names.", Run: s.listCommand},
			{
				Name:   "search_items",
				Help:   "Search items by id or display name.",
				Params: []plugin.Param{{Name: "query", Type: plugin.ParamStr, Default: "Filler", Help: "Text to look for"}},
				Run:    s.searchCommand,
			},
		},
		UI: []plugin.UIElement{
			{
				Kind:        plugin.Toggle,
				Name:        "enable_debug",
				Label:       "Debug Mode",
				Description: "Log every spawn in the game console.",
				Category:    "Debug Settings",
				ConfigKey:   "debug",
				Default:     false,
				Handler: func(_ context.Context, _ *plugin.Env, v any) (any, error) {
					return "Debug mode " + onOff(boolValue(v)), nil
				},
			},
			{
				Kind:        plugin.AutocompleteInput,
				Name:        "spawn_item_ui",
				Label:       "Spawn Item",
				Description: "Type an item id or name and spawn one of it.",
				Placeholder: "Item id or name...",
				ButtonLabel: "Spawn",
				Handler:     s.spawnFromUI,
			},
		},
		Exports: []plugin.JSExport{
			{Name: "spawn", Args: []string{"item", "amount"}, Params: []plugin.ExportParam{{Name: "debug", Default: false}}, Source: script("spawn")},
			{Name: "list_items", Source: script("list_items")},
			{Name: "search_items", Args: []string{"query"}, Source: script("search_items")},
		},
		Suggesters: map[string]plugin.SuggestFunc{"spawn_item_ui": s.suggest},
		Defaults:   map[string]any{"debug": false},
	}
}

func (s *spawnItem) OnGameReady(ctx context.Context, env *plugin.Env) error {
	_, err := s.refresh(ctx, env)
	return err
}

func (s *spawnItem) OnCleanup(context.Context, *plugin.Env) error {
	s.items.Flush()
	return nil
}

// refresh reads the item list from the game and caches it.
func (s *spawnItem) refresh(ctx context.Context, env *plugin.Env) ([]item, error) {
	v, err := env.CallExport(ctx, "list_items")
	if err != nil {
		return nil, err
	}
	items, err := decodeItems("list_items", v)
	if err != nil {
		return nil, err
	}
	s.items.SetDefault(itemsKey, items)
	env.Debugf("Item list cached.", "count", len(items))
	return items, nil
}

func (s *spawnItem) cached(ctx context.Context, env *plugin.Env) ([]item, error) {
	if v, ok := s.items.Get(itemsKey); ok {
		return v.([]item), nil
	}
	return s.refresh(ctx, env)
}

func decodeItems(export string, v any) ([]item, error) {
	if err := exportError(export, v); err != nil {
		return nil, err
	}
	raw, ok := v.([]any)
	if !ok && v != nil {
		return nil, fmt.Errorf("%s: unexpected result %T", export, v)
	}
	items := make([]item, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		if id == "" {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			name = id
		}
		items = append(items, item{ID: id, Name: name})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// suggest returns the ids containing the query, ignoring case.
func (s *spawnItem) suggest(ctx context.Context, env *plugin.Env, query string) ([]string, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []string{}, nil
	}
	items, err := s.cached(ctx, env)
	if errors.Is(err, plugin.ErrNoPage) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.ID), q) {
			out = append(out, it.ID)
			if len(out) == MaxItemSuggestions {
				break
			}
		}
	}
	return out, nil
}

// resolve maps a display name to its id when the list is known. Anything
// else is passed through as an id.
func (s *spawnItem) resolve(name string) string {
	v, ok := s.items.Get(itemsKey)
	if !ok {
		return name
	}
	items := v.([]item)
	for _, it := range items {
		if it.ID == name {
			return it.ID
		}
	}
	for _, it := range items {
		if strings.EqualFold(it.Name, name) {
			return it.ID
		}
	}
	return name
}

func (s *spawnItem) spawn(ctx context.Context, env *plugin.Env, name string, amount int) (any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("item is required")
	}
	if amount < 1 {
		return nil, fmt.Errorf("amount must be at least 1, got %d", amount)
	}
	id := s.resolve(name)
	v, err := env.CallExport(ctx, "spawn", id, amount)
	if err != nil {
		return nil, err
	}
	if err := exportError("spawn", v); err != nil {
		return nil, err
	}
	env.Debugf("Spawned item.", "item", id, "amount", amount)
	return v, nil
}

func (s *spawnItem) spawnCommand(ctx context.Context, env *plugin.Env, args map[string]any) (any, error) {
	name, _ := args["item"].(string)
	amount, _ := args["amount"].(int)
	return s.spawn(ctx, env, name, amount)
}

func (s *spawnItem) spawnFromUI(ctx context.Context, env *plugin.Env, value any) (any, error) {
	name, _ := value.(string)
	return s.spawn(ctx, env, name, 1)
}

func (s *spawnItem) listCommand(ctx context.Context, env *plugin.Env, _ map[string]any) (any, error) {
	items, err := s.refresh(ctx, env)
	if err != nil {
		return nil, err
	}
	return formatItems(items), nil
}

func (s *spawnItem) searchCommand(ctx context.Context, env *plugin.Env, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	v, err := env.CallExport(ctx, "search_items", query)
	if err != nil {
		return nil, err
	}
	items, err := decodeItems("search_items", v)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return fmt.Sprintf("No items matching %q.", query), nil
	}
	return formatItems(items), nil
}

func formatItems(items []item) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = it.String()
	}
	return strings.Join(lines, "\n")
}
