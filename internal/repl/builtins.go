package repl

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/idleonweb/idleonweb/internal/conf"
	"github.com/idleonweb/idleonweb/internal/coordinator"
)

var onOff = func(*REPL) []string { return []string{"on", "off"} }

func builtins() []*builtin {
	return []*builtin{
		{name: "inject", help: "Launch or attach the browser and inject the enabled plugins.", run: cmdInject},
		{name: "reload", help: "Rebuild the bundle and reload it into the running session.", run: cmdReload},
		{name: "stop", help: "End the session and close the browser.", run: cmdStop},
		{name: "status", help: "Show the session status.", run: cmdStatus},
		{name: "plugins", help: "List loaded and available plugins.", run: cmdPlugins},
		{name: "config", help: "Show the configuration, or get/set a dotted path: config [path [value]].", words: configWords, run: cmdConfig},
		{name: "injector_config", help: "Show the injector settings.", run: cmdInjectorConfig},
		{name: "darkmode", help: "Toggle or set dark mode of the Web UI (on/off).", words: onOff, run: cmdDarkMode},
		{name: "auto_inject", help: "Toggle or set injection on startup (on/off).", words: onOff, run: cmdAutoInject},
		{name: "reload_config", help: "Reload the configuration file from disk.", run: cmdReloadConfig},
		{name: "web_ui", help: "Open the Web UI in the system browser.", run: cmdWebUI},
		{name: "help", help: "Show commands, or the parameters of one command.", words: commandWords, run: cmdHelp},
		{name: "exit", help: "Leave the REPL.", run: cmdExit},
	}
}

func cmdInject(ctx context.Context, r *REPL, _ []string) error {
	r.dim.Fprintln(r.out, "Injecting...")
	if err := r.co.Inject(ctx); err != nil {
		return err
	}
	s := r.co.Status()
	b := r.co.LastBundle()
	r.ok.Fprintf(r.out, "Injected %d plugin(s), bundle %s. Session %s.\n", len(b.Plugins), b.HumanSize(), s.ID)
	return nil
}

func cmdReload(ctx context.Context, r *REPL, _ []string) error {
	if err := r.co.Reload(ctx); err != nil {
		return err
	}
	b := r.co.LastBundle()
	r.ok.Fprintf(r.out, "Reloaded %d plugin(s), bundle %s.\n", len(b.Plugins), b.HumanSize())
	return nil
}

func cmdStop(ctx context.Context, r *REPL, _ []string) error {
	if err := r.co.Stop(ctx); err != nil {
		return err
	}
	r.ok.Fprintln(r.out, "Session stopped.")
	return nil
}

func cmdStatus(_ context.Context, r *REPL, _ []string) error {
	s := r.co.Status()
	c := r.warn
	switch s.Status {
	case coordinator.StatusConnected:
		c = r.ok
	case coordinator.StatusError:
		c = r.bad
	}
	c.Fprintln(r.out, string(s.Status))
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	if s.ID != "" {
		fmt.Fprintf(tw, "session\t%s\n", s.ID)
	}
	if s.TargetID != "" {
		fmt.Fprintf(tw, "target\t%s\n", s.TargetID)
	}
	if s.LastReason != "" {
		fmt.Fprintf(tw, "reason\t%s\n", s.LastReason)
	}
	fmt.Fprintf(tw, "since\t%s\n", s.Since.Format("2006-01-02 15:04:05"))
	return tw.Flush()
}

func cmdPlugins(_ context.Context, r *REPL, _ []string) error {
	loaded := r.reg.All()
	r.key.Fprintf(r.out, "Loaded plugins (%d)\n", len(loaded))
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVERSION\tSTATE\tSOURCE")
	for _, inst := range loaded {
		d := inst.Descriptor()
		version := d.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.DisplayName(), version, inst.State(), inst.Origin())
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if avail := r.reg.Available(); len(avail) > 0 {
		r.key.Fprintln(r.out, "Available, not enabled")
		for _, id := range avail {
			fmt.Fprintf(r.out, "  %s\n", id)
		}
	}
	if b := r.co.LastBundle(); b.Path != "" {
		r.dim.Fprintf(r.out, "Last bundle: %s (%s, %d exports)\n", b.Path, b.HumanSize(), b.Exports)
	}
	return nil
}

func configWords(r *REPL) []string {
	words := []string{}
	for k, v := range r.store.Snapshot() {
		words = append(words, k)
		if m, ok := v.(map[string]any); ok {
			for sub := range m {
				words = append(words, k+"."+sub)
			}
		}
	}
	sort.Strings(words)
	return words
}

func cmdConfig(_ context.Context, r *REPL, args []string) error {
	switch len(args) {
	case 0:
		return r.printJSON(r.store.Snapshot())
	case 1:
		if !r.store.Has(args[0]) {
			return fmt.Errorf("config path %q is not set", args[0])
		}
		return r.printJSON(r.store.Get(args[0]))
	default:
		value := parseValue(strings.Join(args[1:], " "))
		if err := r.store.Set(args[0], value); err != nil {
			return err
		}
		r.ok.Fprintf(r.out, "%s updated.\n", args[0])
		return nil
	}
}

// parseValue reads JSON literals and falls back to the raw string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func (r *REPL) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, string(b))
	return nil
}

func cmdInjectorConfig(_ context.Context, r *REPL, _ []string) error {
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SETTING\tVALUE\tDESCRIPTION")
	fmt.Fprintf(tw, "CDP port\t%d\tChrome DevTools Protocol port\n", r.store.CDPPort())
	fmt.Fprintf(tw, "N.js pattern\t%s\tURL pattern of the intercepted game script\n", r.store.GetString(conf.KeyNJSPattern, conf.DefaultNJSPattern))
	fmt.Fprintf(tw, "Idleon URL\t%s\tGame URL to open\n", r.store.IdleonURL())
	fmt.Fprintf(tw, "Timeout (ms)\t%d\tConnect and evaluate timeout\n", r.store.TimeoutMs())
	fmt.Fprintf(tw, "Auto inject\t%t\tInject on startup\n", r.store.GetBool(conf.KeyAutoInject, false))
	return tw.Flush()
}

// setFlag toggles path, or sets it from an on/off style argument.
func setFlag(r *REPL, path, label string, args []string) error {
	next := !r.store.GetBool(path, false)
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "on", "true", "1", "yes":
			next = true
		case "off", "false", "0", "no":
			next = false
		default:
			return fmt.Errorf("invalid argument %q, use on or off", args[0])
		}
	}
	if err := r.store.Set(path, next); err != nil {
		return err
	}
	state := "disabled"
	if next {
		state = "enabled"
	}
	r.ok.Fprintf(r.out, "%s %s.\n", label, state)
	return nil
}

func cmdDarkMode(_ context.Context, r *REPL, args []string) error {
	return setFlag(r, conf.KeyWebUIDarkMode, "Dark mode", args)
}

func cmdAutoInject(_ context.Context, r *REPL, args []string) error {
	return setFlag(r, conf.KeyAutoInject, "Auto-inject", args)
}

func cmdReloadConfig(_ context.Context, r *REPL, _ []string) error {
	if err := r.store.Reload(); err != nil {
		return err
	}
	r.ok.Fprintf(r.out, "Configuration reloaded from %s.\n", r.store.Path())
	return nil
}

func cmdWebUI(_ context.Context, r *REPL, _ []string) error {
	url := r.store.GetString(conf.KeyWebUIURL, conf.DefaultWebUIURL)
	if err := r.OpenURL(url); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	r.ok.Fprintf(r.out, "Opened %s\n", url)
	return nil
}

func commandWords(r *REPL) []string {
	return r.commandNames()
}

func cmdHelp(_ context.Context, r *REPL, args []string) error {
	if len(args) > 0 {
		return r.helpFor(args[0])
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	for _, b := range builtins() {
		fmt.Fprintf(tw, "%s\t%s\n", r.key.Sprint(b.name), b.help)
	}
	cmds := r.reg.Commands()
	keys := make([]string, 0, len(cmds))
	for k := range cmds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		help := cmds[k].Command.Help
		if help == "" {
			help = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\n", r.ok.Sprint(k), help)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	r.dim.Fprintln(r.out, "Press Tab to complete commands and parameter names.")
	return nil
}

func (r *REPL) helpFor(name string) error {
	if b, ok := r.builtins[name]; ok {
		fmt.Fprintf(r.out, "%s  %s\n", r.key.Sprint(b.name), b.help)
		return nil
	}
	key, err := r.resolve(name)
	if err != nil {
		return err
	}
	c := r.reg.Commands()[key].Command
	fmt.Fprintf(r.out, "%s  %s\n", r.key.Sprint(key), c.Help)
	if len(c.Params) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	for _, p := range c.Params {
		def := "required"
		if !p.Required() {
			def = fmt.Sprintf("default %v", p.Default)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", p.Name, p.Type, def, p.Help)
	}
	return tw.Flush()
}

func cmdExit(_ context.Context, r *REPL, _ []string) error {
	r.quit = true
	return nil
}
