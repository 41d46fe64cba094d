package plugins

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/idleonweb/idleonweb/internal/plugin"
)

const (
	godlikePowersID = "godlike_powers"
	// ReapplyInterval is how often on_tick applies enabled powers again.
	ReapplyInterval = 10 * time.Second
)

type power struct {
	key         string
	label       string
	description string
}

var powers = []power{
	{"reach", "Reach Power", "Set player reach to 666."},
	{"crit", "Critical Hit Power", "Set critical hit chance to 100%."},
	{"ability", "Ability Power", "No ability cooldown or mana cost, 0.1s cast time."},
	{"food", "Food Power", "Food is never consumed."},
	{"hitchance", "Hit Chance Power", "Set hit chance to 100%."},
	{"intervention", "Divine Intervention", "Instant divine intervention."},
	{"card", "Card Power", "Boost the Efaunt, Dr Defecaus, Oak Tree and Copper cards."},
	{"poison", "Poison Power", "Instant bubo poison."},
	{"hp", "Invincibility", "Never lose HP."},
}

type godlikePowers struct {
	plugin.Base
	now       func() time.Time
	lastApply time.Time
}

func init() {
	plugin.RegisterFactory(godlikePowersID, func(map[string]any) (plugin.Plugin, error) {
		return &godlikePowers{now: time.Now}, nil
	})
}

func (g *godlikePowers) Descriptor() plugin.Descriptor {
	ui := []plugin.UIElement{
		{
			Kind:        plugin.Toggle,
			Name:        "enabled",
			Label:       "Enable Godlike Powers",
			Description: "Master switch for every power below.",
			ConfigKey:   "enabled",
			Order:       1,
			Handler:     toggleMessage("Godlike powers"),
		},
		{
			Kind:        plugin.Toggle,
			Name:        "debug",
			Label:       "Debug Mode",
			Description: "Log every application of the powers.",
			Category:    "Debug Settings",
			ConfigKey:   "debug",
			Handler:     toggleMessage("Debug mode"),
		},
	}
	defaults := map[string]any{"enabled": false, "debug": false, "weapon_speed": 9}
	for i, p := range powers {
		ui = append(ui, plugin.UIElement{
			Kind:        plugin.Toggle,
			Name:        p.key,
			Label:       p.label,
			Description: p.description,
			Category:    "Powers",
			Order:       i + 2,
			ConfigKey:   p.key,
			Handler:     toggleMessage(p.label),
		})
		defaults[p.key] = false
	}
	ui = append(ui, plugin.UIElement{
		Kind:        plugin.Slider,
		Name:        "weapon_speed",
		Label:       "Weapon Speed",
		Description: "Attack speed of every weapon, above 14 weapons stop attacking.",
		Category:    "Powers",
		Order:       len(powers) + 2,
		ConfigKey:   "weapon_speed",
		Min:         1,
		Max:         14,
		Step:        1,
		Default:     9,
	})

	names := make([]string, len(powers))
	for i, p := range powers {
		names[i] = p.key
	}
	return plugin.Descriptor{
		ID:          godlikePowersID,
		Name:        "Godlike Powers",
		Description: "Combat powers for the active character.",
		Version:     "1.2.0",
		Category:    "Character",
		Order:       plugin.LoadOrder(1),
		Commands: []plugin.Command{
			{
				Name: "set_powers",
				Help: "Turn one power on or off: " + strings.Join(names, ", ") + ", or all.",
				Params: []plugin.Param{
					{Name: "power", Type: plugin.ParamStr},
					{Name: "on", Type: plugin.ParamBool, Default: true},
				},
				Run: g.setPowers,
			},
			{Name: "apply", Help: "Apply the configured powers now.", Run: func(ctx context.Context, env *plugin.Env, _ map[string]any) (any, error) {
				return g.apply(ctx, env)
			}},
		},
		UI:       ui,
		Exports:  []plugin.JSExport{{Name: "godlike_powers", Source: script("godlike_powers")}},
		Defaults: defaults,
	}
}

func toggleMessage(label string) plugin.UIHandler {
	return func(_ context.Context, _ *plugin.Env, v any) (any, error) {
		return label + " " + onOff(boolValue(v)), nil
	}
}

// apply runs the export, which either installs the hooks or restores the
// game functions when the master switch is off.
func (g *godlikePowers) apply(ctx context.Context, env *plugin.Env) (any, error) {
	v, err := env.CallExport(ctx, "godlike_powers")
	if err != nil {
		return nil, err
	}
	g.lastApply = g.now()
	if err := exportError("godlike_powers", v); err != nil {
		return nil, err
	}
	env.Debugf("Godlike powers applied.", "result", v)
	return v, nil
}

func (g *godlikePowers) OnGameReady(ctx context.Context, env *plugin.Env) error {
	_, err := g.apply(ctx, env)
	return err
}

func (g *godlikePowers) OnConfigChanged(ctx context.Context, env *plugin.Env, _ map[string]any) error {
	if !env.Connected() {
		return nil
	}
	_, err := g.apply(ctx, env)
	return err
}

func (g *godlikePowers) OnTick(ctx context.Context, env *plugin.Env) error {
	if !env.Connected() || !boolValue(env.Config()["enabled"]) {
		return nil
	}
	if g.now().Sub(g.lastApply) < ReapplyInterval {
		return nil
	}
	_, err := g.apply(ctx, env)
	return err
}

func (g *godlikePowers) setPowers(_ context.Context, env *plugin.Env, args map[string]any) (any, error) {
	name := strings.ToLower(strings.TrimSpace(fmt.Sprint(args["power"])))
	on := boolValue(args["on"])
	var keys []string
	if name == "all" {
		for _, p := range powers {
			keys = append(keys, p.key)
		}
	} else {
		for _, p := range powers {
			if p.key == name {
				keys = []string{p.key}
			}
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("unknown power %q", name)
	}
	for _, k := range keys {
		if err := env.SetConfig(k, on); err != nil {
			return nil, err
		}
	}
	if on && !boolValue(env.Config()["enabled"]) {
		if err := env.SetConfig("enabled", true); err != nil {
			return nil, err
		}
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s %s", strings.Join(keys, ", "), onOff(on)), nil
}
