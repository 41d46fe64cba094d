package plugins

import (
	"context"
	"fmt"

	"github.com/idleonweb/idleonweb/internal/plugin"
)

const mobSpawnRateID = "mob_spawn_rate"

// mobSpawnRate installs a proxy on the monster respawn timers. While the
// toggle is on every new timer is divided by the multiplier.
type mobSpawnRate struct {
	plugin.Base
}

func init() {
	plugin.RegisterFactory(mobSpawnRateID, func(map[string]any) (plugin.Plugin, error) {
		return &mobSpawnRate{}, nil
	})
}

func (m *mobSpawnRate) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		ID:          mobSpawnRateID,
		Name:        "Mob Spawn Rate",
		Description: "Change how fast monsters respawn.",
		Version:     "1.1.0",
		Category:    "World",
		Order:       plugin.LoadOrder(20),
		Commands: []plugin.Command{
			{
				Name:   "toggle",
				Help:   "Turn faster mob respawn on or off.",
				Params: []plugin.Param{{Name: "toggle", Type: plugin.ParamBool, Default: false}},
				Run: func(_ context.Context, env *plugin.Env, args map[string]any) (any, error) {
					on := boolValue(args["toggle"])
					if err := env.SetConfig("toggle", on); err != nil {
						return nil, err
					}
					return "Fast respawn " + onOff(on), nil
				},
			},
			{
				Name:   "multiplier",
				Help:   "Set the respawn speed multiplier.",
				Params: []plugin.Param{{Name: "value", Type: plugin.ParamFloat, Help: "1 to 100"}},
				Run: func(_ context.Context, env *plugin.Env, args map[string]any) (any, error) {
					v, _ := args["value"].(float64)
					if v < 1 || v > 100 {
						return nil, fmt.Errorf("multiplier must be between 1 and 100, got %g", v)
					}
					if err := env.SetConfig("multiplier", v); err != nil {
						return nil, err
					}
					return fmt.Sprintf("Respawn multiplier set to %g", v), nil
				},
			},
		},
		UI: []plugin.UIElement{
			{
				Kind:        plugin.Toggle,
				Name:        "toggle",
				Label:       "Fast Respawn",
				Description: "Divide monster respawn time by the multiplier.",
				ConfigKey:   "toggle",
				Default:     false,
			},
			{
				Kind:        plugin.Slider,
				Name:        "multiplier",
				Label:       "Respawn Multiplier",
				Description: "How many times faster monsters respawn.",
				ConfigKey:   "multiplier",
				Min:         1,
				Max:         100,
				Step:        1,
				Default:     10,
			},
		},
		Exports:  []plugin.JSExport{{Name: "setup", Source: script("mob_spawn_setup")}},
		Defaults: map[string]any{"toggle": false, "multiplier": 10},
	}
}

// OnGameReady installs the proxy once per page. It reads pluginConfigs on
// every write, so later config changes need no call.
func (m *mobSpawnRate) OnGameReady(ctx context.Context, env *plugin.Env) error {
	v, err := env.CallExport(ctx, "setup")
	if err != nil {
		return err
	}
	if err := exportError("setup", v); err != nil {
		return err
	}
	env.Debugf("Respawn proxy ready.", "result", v)
	return nil
}
