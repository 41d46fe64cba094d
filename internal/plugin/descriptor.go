package plugin

import (
	"context"
	"fmt"
)

// DefaultOrder is the load order of plugins that do not declare one.
const DefaultOrder = 999

// Descriptor is the static metadata of a plugin. It is produced once when
// the plugin is constructed and never changes for the life of the instance.
type Descriptor struct {
	ID          string
	Name        string
	Description string
	Version     string
	Category    string
	// Order sorts plugins ascending; nil means DefaultOrder. Zero is a
	// valid order.
	Order *int

	Commands []Command
	UI       []UIElement
	Exports  []JSExport
	// Suggesters maps an element name to its suggestion provider.
	Suggesters map[string]SuggestFunc
	// Defaults seed plugin_configs.<id> keys that are absent when the
	// plugin is loaded.
	Defaults map[string]any
}

// LoadOrder returns an explicit Descriptor.Order.
func LoadOrder(n int) *int {
	return &n
}

func (d Descriptor) EffectiveOrder() int {
	if d.Order == nil {
		return DefaultOrder
	}
	return *d.Order
}

func (d Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// Element returns the UI element with the given name.
func (d Descriptor) Element(name string) (UIElement, bool) {
	for _, el := range d.UI {
		if el.Name == name {
			return el, true
		}
	}
	return UIElement{}, false
}

func (d Descriptor) Command(name string) (Command, bool) {
	for _, c := range d.Commands {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

func (d Descriptor) Export(name string) (JSExport, bool) {
	for _, e := range d.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return JSExport{}, false
}

// ParamType is the declared type of a command parameter.
type ParamType string

const (
	ParamBool  ParamType = "bool"
	ParamInt   ParamType = "int"
	ParamFloat ParamType = "float"
	ParamStr   ParamType = "str"
)

// Param describes one command parameter. A nil Default makes it required.
type Param struct {
	Name    string    `json:"name"`
	Type    ParamType `json:"type"`
	Default any       `json:"default,omitempty"`
	Help    string    `json:"help,omitempty"`
}

func (p Param) Required() bool { return p.Default == nil }

type CommandFunc func(ctx context.Context, env *Env, args map[string]any) (any, error)

// Command is a named callable exposed to the REPL.
type Command struct {
	Name   string
	Help   string
	Params []Param
	Run    CommandFunc
}

// UIKind tags the variant of a UIElement.
type UIKind string

const (
	Toggle            UIKind = "toggle"
	Slider            UIKind = "slider"
	Button            UIKind = "button"
	InputWithButton   UIKind = "input_with_button"
	AutocompleteInput UIKind = "autocomplete_input"
	SearchWithResults UIKind = "search_with_results"
	Banner            UIKind = "banner"
)

func (k UIKind) Valid() bool {
	switch k {
	case Toggle, Slider, Button, InputWithButton, AutocompleteInput, SearchWithResults, Banner:
		return true
	}
	return false
}

// UIHandler runs when an element is actuated from the web UI.
type UIHandler func(ctx context.Context, env *Env, value any) (any, error)

// UIElement is one declarative control. Only the fields of its Kind are
// meaningful:
//
//	toggle            ConfigKey, Default (bool)
//	slider            ConfigKey, Default, Min, Max, Step
//	input_with_button Placeholder, ButtonLabel
//	autocomplete_input Placeholder, ButtonLabel, Provider
//	search_with_results Placeholder, ButtonLabel
//	banner            Severity
type UIElement struct {
	Kind        UIKind
	Name        string
	Label       string
	Description string
	Category    string
	Order       int

	// Method names the handler for clients; defaults to Name.
	Method string
	// ConfigKey is relative to plugin_configs.<id>. Empty when unbound.
	ConfigKey string
	Handler   UIHandler

	Default     any
	Min         float64
	Max         float64
	Step        float64
	Placeholder string
	ButtonLabel string
	Severity    string
	// Provider is the element name whose suggestion provider feeds this
	// autocomplete; defaults to Name.
	Provider string
}

func (e UIElement) MethodName() string {
	if e.Method != "" {
		return e.Method
	}
	return e.Name
}

func (e UIElement) ProviderName() string {
	if e.Provider != "" {
		return e.Provider
	}
	return e.Name
}

// ExportParam is a placeholder declared by a JSExport. Occurrences of
// {{Name}} in the source are replaced at bundle time.
type ExportParam struct {
	Name    string
	Default any
}

// JSExport is a JavaScript fragment bundled into the page. Namespace
// defaults to the plugin id.
type JSExport struct {
	Name      string
	Namespace string
	Params    []ExportParam
	// Args are the call-time parameter names of the generated function.
	Args   []string
	Source string
}

type SuggestFunc func(ctx context.Context, env *Env, query string) ([]string, error)

// validate checks internal consistency and fills defaults. id is the
// registry id the descriptor must carry.
func (d *Descriptor) validate(id string) error {
	if d.ID == "" {
		d.ID = id
	}
	if d.ID != id {
		return fmt.Errorf("descriptor id %q does not match plugin id %q", d.ID, id)
	}

	seen := map[string]bool{}
	for i := range d.Commands {
		c := &d.Commands[i]
		if c.Name == "" || c.Run == nil {
			return fmt.Errorf("command %d: name and Run are required", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate command %q", c.Name)
		}
		seen[c.Name] = true
		for _, p := range c.Params {
			switch p.Type {
			case ParamBool, ParamInt, ParamFloat, ParamStr:
			case "":
				return fmt.Errorf("command %q: parameter %q has no type", c.Name, p.Name)
			default:
				return fmt.Errorf("command %q: parameter %q has unknown type %q", c.Name, p.Name, p.Type)
			}
		}
	}

	seen = map[string]bool{}
	for i := range d.UI {
		el := &d.UI[i]
		if !el.Kind.Valid() {
			return fmt.Errorf("element %q: unknown kind %q", el.Name, el.Kind)
		}
		if el.Name == "" {
			return fmt.Errorf("element %d: name is required", i)
		}
		if seen[el.Name] {
			return fmt.Errorf("duplicate element %q", el.Name)
		}
		seen[el.Name] = true
		switch el.Kind {
		case Toggle:
			if el.Default == nil {
				el.Default = false
			}
			if _, ok := el.Default.(bool); !ok {
				return fmt.Errorf("toggle %q: default must be a bool", el.Name)
			}
		case Slider:
			if el.Max <= el.Min {
				return fmt.Errorf("slider %q: max must be greater than min", el.Name)
			}
			if el.Step <= 0 {
				el.Step = 1
			}
			if el.Default == nil {
				el.Default = el.Min
			}
		case Banner:
			if el.Severity == "" {
				el.Severity = "info"
			}
		}
	}

	seen = map[string]bool{}
	for _, e := range d.Exports {
		if e.Name == "" {
			return fmt.Errorf("export without a name")
		}
		if seen[e.Name] {
			return fmt.Errorf("duplicate export %q", e.Name)
		}
		seen[e.Name] = true
	}
	return nil
}
