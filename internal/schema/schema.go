// Package schema turns plugin descriptors into the UI schema served to the
// web front-end.
package schema

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/idleonweb/idleonweb/internal/plugin"
)

// DefaultCategory holds plugins and elements that declare no category.
const DefaultCategory = "General"

// Element is the record of one UI element. Variant fields are omitted when
// they do not apply to Type.
type Element struct {
	Type        plugin.UIKind `json:"type"`
	Name        string        `json:"name"`
	Label       string        `json:"label"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Order       int           `json:"order"`
	Method      string        `json:"method"`
	ConfigKey   string        `json:"config_key,omitempty"`

	DefaultValue any      `json:"default_value,omitempty"`
	MinValue     *float64 `json:"min_value,omitempty"`
	MaxValue     *float64 `json:"max_value,omitempty"`
	Step         *float64 `json:"step,omitempty"`
	Placeholder  string   `json:"placeholder,omitempty"`
	ButtonLabel  string   `json:"button_label,omitempty"`
	Severity     string   `json:"severity,omitempty"`
	Provider     string   `json:"provider,omitempty"`

	// Value is the current configured value of a bound element.
	Value any `json:"value,omitempty"`
}

type Category struct {
	Name     string
	Elements []Element
}

type PluginInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Category    string `json:"category"`
	Order       int    `json:"order"`
}

type CommandInfo struct {
	Name   string         `json:"name"`
	Help   string         `json:"help"`
	Params []plugin.Param `json:"params"`
}

type Plugin struct {
	ID         string
	Info       PluginInfo
	Categories []Category
	Commands   []CommandInfo
}

// Tree is the schema of all loaded plugins in load order. It encodes as a
// JSON object whose key order follows the slices.
type Tree struct {
	Plugins []Plugin
}

// Extract builds the schema from descriptors in the given order. Only
// declarative data is read; no plugin code runs.
func Extract(descs []plugin.Descriptor) Tree {
	t := Tree{Plugins: make([]Plugin, 0, len(descs))}
	for _, d := range descs {
		p := Plugin{
			ID: d.ID,
			Info: PluginInfo{
				Name:        d.DisplayName(),
				Description: d.Description,
				Version:     d.Version,
				Category:    orDefault(d.Category),
				Order:       d.EffectiveOrder(),
			},
			Commands: []CommandInfo{},
		}

		index := map[string]int{}
		for _, el := range d.UI {
			rec := record(el)
			i, ok := index[rec.Category]
			if !ok {
				i = len(p.Categories)
				index[rec.Category] = i
				p.Categories = append(p.Categories, Category{Name: rec.Category})
			}
			p.Categories[i].Elements = append(p.Categories[i].Elements, rec)
		}
		for i := range p.Categories {
			sort.SliceStable(p.Categories[i].Elements, func(a, b int) bool {
				return p.Categories[i].Elements[a].Order < p.Categories[i].Elements[b].Order
			})
		}

		for _, c := range d.Commands {
			params := c.Params
			if params == nil {
				params = []plugin.Param{}
			}
			p.Commands = append(p.Commands, CommandInfo{Name: c.Name, Help: c.Help, Params: params})
		}
		t.Plugins = append(t.Plugins, p)
	}
	return t
}

func record(el plugin.UIElement) Element {
	rec := Element{
		Type:        el.Kind,
		Name:        el.Name,
		Label:       el.Label,
		Description: el.Description,
		Category:    orDefault(el.Category),
		Order:       el.Order,
		Method:      el.MethodName(),
		ConfigKey:   el.ConfigKey,
	}
	if rec.Label == "" {
		rec.Label = el.Name
	}
	switch el.Kind {
	case plugin.Toggle:
		rec.DefaultValue = el.Default
	case plugin.Slider:
		rec.DefaultValue = el.Default
		rec.MinValue, rec.MaxValue, rec.Step = ptr(el.Min), ptr(el.Max), ptr(el.Step)
	case plugin.InputWithButton, plugin.SearchWithResults:
		rec.Placeholder, rec.ButtonLabel = el.Placeholder, el.ButtonLabel
	case plugin.AutocompleteInput:
		rec.Placeholder, rec.ButtonLabel = el.Placeholder, el.ButtonLabel
		rec.Provider = el.ProviderName()
	case plugin.Banner:
		rec.Severity = el.Severity
	}
	return rec
}

func ptr(f float64) *float64 { return &f }

func orDefault(c string) string {
	if strings.TrimSpace(c) == "" {
		return DefaultCategory
	}
	return c
}

// WithValues fills Value of config-bound elements from each plugin's
// configuration, falling back to the element default.
func (t Tree) WithValues(config func(id string) map[string]any) Tree {
	out := Tree{Plugins: make([]Plugin, len(t.Plugins))}
	for i, p := range t.Plugins {
		cfg := config(p.ID)
		cp := p
		cp.Categories = make([]Category, len(p.Categories))
		for j, c := range p.Categories {
			els := make([]Element, len(c.Elements))
			for k, el := range c.Elements {
				if el.ConfigKey != "" {
					if v, ok := cfg[el.ConfigKey]; ok {
						el.Value = v
					} else {
						el.Value = el.DefaultValue
					}
				}
				els[k] = el
			}
			cp.Categories[j] = Category{Name: c.Name, Elements: els}
		}
		out.Plugins[i] = cp
	}
	return out
}

// Plugin returns the schema of one plugin.
func (t Tree) Plugin(id string) (Plugin, bool) {
	for _, p := range t.Plugins {
		if p.ID == id {
			return p, true
		}
	}
	return Plugin{}, false
}

// Lookup resolves the element record of a plugin.
func (t Tree) Lookup(pluginID, element string) (Element, bool) {
	p, ok := t.Plugin(pluginID)
	if !ok {
		return Element{}, false
	}
	for _, c := range p.Categories {
		for _, el := range c.Elements {
			if el.Name == element {
				return el, true
			}
		}
	}
	return Element{}, false
}

func (t Tree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range t.Plugins {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, p.ID); err != nil {
			return nil, err
		}
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p Plugin) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"plugin_info":`)
	info, err := json.Marshal(p.Info)
	if err != nil {
		return nil, err
	}
	buf.Write(info)
	buf.WriteString(`,"categories":{`)
	for i, c := range p.Categories {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, c.Name); err != nil {
			return nil, err
		}
		els, err := json.Marshal(c.Elements)
		if err != nil {
			return nil, err
		}
		buf.Write(els)
	}
	buf.WriteString(`},"commands":`)
	cmds, err := json.Marshal(p.Commands)
	if err != nil {
		return nil, err
	}
	buf.Write(cmds)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, k string) error {
	b, err := json.Marshal(k)
	if err != nil {
		return err
	}
	buf.Write(b)
	buf.WriteByte(':')
	return nil
}

var worldRe = regexp.MustCompile(`(?i)^world\s+(\d+)$`)

// Group is a display category of plugins on the index page.
type Group struct {
	Name    string
	Plugins []Plugin
}

// Groups buckets plugins by their category. "World N" categories come
// first in numeric order, the rest follow alphabetically. Plugins keep
// load order inside a group.
func (t Tree) Groups() []Group {
	index := map[string]int{}
	var groups []Group
	for _, p := range t.Plugins {
		name := p.Info.Category
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, Group{Name: name})
		}
		groups[i].Plugins = append(groups[i].Plugins, p)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		wa, na := worldNumber(groups[a].Name)
		wb, nb := worldNumber(groups[b].Name)
		if wa != wb {
			return wa
		}
		if wa {
			return na < nb
		}
		return strings.ToLower(groups[a].Name) < strings.ToLower(groups[b].Name)
	})
	return groups
}

func worldNumber(name string) (bool, int) {
	m := worldRe.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return false, 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return false, 0
	}
	return true, n
}
