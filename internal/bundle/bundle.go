// Package bundle assembles the JavaScript exports of all loaded plugins into
// the single script injected into the game page.
package bundle

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gookit/event"
	"github.com/idleonweb/idleonweb/internal/eventType"
	logutil "github.com/idleonweb/idleonweb/internal/log"
	"github.com/idleonweb/idleonweb/internal/plugin"
	"github.com/spf13/afero"
)

// ErrConflict is returned when two exports share a namespace and name.
var ErrConflict = errors.New("bundle-conflict")

//go:embed core.js
var coreJS string

var (
	identRe       = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
	placeholderRe = regexp.MustCompile(`\{\{([A-Za-z_$][A-Za-z0-9_$]*)\}\}`)
)

// Source is a plugin contributing exports to the bundle.
type Source interface {
	ID() string
	Config() map[string]any
	Exports() []plugin.JSExport
}

// Result describes a written bundle.
type Result struct {
	Path    string
	Size    int
	SHA256  string
	Plugins []string
	Exports int
}

func (r Result) HumanSize() string {
	return humanize.Bytes(uint64(r.Size))
}

type entry struct {
	ns  string
	exp plugin.JSExport
	cfg map[string]any
}

// Build renders the bundle. The output depends only on the sources and
// their order.
func Build(sources []Source) ([]byte, error) {
	data, _, err := build(sources)
	return data, err
}

func build(sources []Source) ([]byte, Result, error) {
	var (
		res     Result
		entries []entry
		seen    = map[string]string{}
		configs = make([]map[string]any, len(sources))
	)
	for i, src := range sources {
		id := src.ID()
		res.Plugins = append(res.Plugins, id)
		cfg := src.Config()
		if cfg == nil {
			cfg = map[string]any{}
		}
		configs[i] = cfg
		for _, exp := range src.Exports() {
			ns := exp.Namespace
			if ns == "" {
				ns = id
			}
			key := ns + "." + exp.Name
			if owner, dup := seen[key]; dup {
				return nil, Result{}, fmt.Errorf("%w: %s exported by both %s and %s", ErrConflict, key, owner, id)
			}
			seen[key] = id
			for _, a := range exp.Args {
				if !identRe.MatchString(a) {
					return nil, Result{}, fmt.Errorf("export %s: invalid argument name %q", key, a)
				}
			}
			entries = append(entries, entry{ns: ns, exp: exp, cfg: cfg})
		}
	}
	res.Exports = len(entries)

	var buf bytes.Buffer
	buf.WriteString("// idleonweb plugin bundle\n(function () {\n")
	buf.WriteString("  var root = typeof window !== \"undefined\" ? window : globalThis;\n")
	buf.WriteString("  root.pluginConfigs = root.pluginConfigs || {};\n")
	buf.WriteString("  root.pluginExports = root.pluginExports || {};\n")
	for i, src := range sources {
		cfg, err := json.Marshal(configs[i])
		if err != nil {
			return nil, Result{}, fmt.Errorf("encode config of %s: %w", src.ID(), err)
		}
		fmt.Fprintf(&buf, "  root.pluginConfigs[%s] = %s;\n", quote(src.ID()), cfg)
	}
	buf.WriteString("\n")
	buf.WriteString(coreJS)
	buf.WriteString("\n")

	namespaces := map[string]bool{}
	for _, e := range entries {
		if !namespaces[e.ns] {
			namespaces[e.ns] = true
			fmt.Fprintf(&buf, "  root.pluginExports[%s] = root.pluginExports[%s] || {};\n", quote(e.ns), quote(e.ns))
		}
		body, err := interpolate(e.exp, e.cfg)
		if err != nil {
			return nil, Result{}, err
		}
		fmt.Fprintf(&buf, "  root.pluginExports[%s][%s] = async function (%s) {\n", quote(e.ns), quote(e.exp.Name), strings.Join(e.exp.Args, ", "))
		buf.WriteString("    try {\n")
		buf.WriteString("      if (typeof root.__idleon_wait_for_game_ready === \"function\") await root.__idleon_wait_for_game_ready();\n")
		buf.WriteString(indent(body, "      "))
		buf.WriteString("    } catch (e) {\n")
		fmt.Fprintf(&buf, "      if (root.console) root.console.error(%s, e);\n", quote("["+e.ns+"."+e.exp.Name+"] Error:"))
		buf.WriteString("      return \"Error: \" + (e && e.message ? e.message : e);\n")
		buf.WriteString("    }\n  };\n")
	}

	plugins, _ := json.Marshal(res.Plugins)
	if res.Plugins == nil {
		plugins = []byte("[]")
	}
	fmt.Fprintf(&buf, "\n  root.pluginBundleReady = {plugins: %s, exports: %d};\n", plugins, res.Exports)
	buf.WriteString("})();\n")

	data := buf.Bytes()
	sum := sha256.Sum256(data)
	res.Size = len(data)
	res.SHA256 = hex.EncodeToString(sum[:])
	return data, res, nil
}

// interpolate replaces {{param}} for every declared param with the JSON
// encoding of the plugin config value of that name, or the param default.
// Substitution is a single pass over the export source, so inserted values
// are never scanned for placeholders.
func interpolate(exp plugin.JSExport, cfg map[string]any) (string, error) {
	values := make(map[string]string, len(exp.Params))
	for _, p := range exp.Params {
		v, ok := cfg[p.Name]
		if !ok {
			v = p.Default
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("export %s: encode param %s: %w", exp.Name, p.Name, err)
		}
		values[p.Name] = string(b)
	}
	return placeholderRe.ReplaceAllStringFunc(exp.Source, func(m string) string {
		if v, ok := values[m[2:len(m)-2]]; ok {
			return v
		}
		return m
	}), nil
}

func indent(src, prefix string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(src, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString(prefix)
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Write stores data at path atomically.
func Write(fs afero.Fs, path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0644); err != nil {
		return err
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return nil
}

// Rebuild builds the bundle and writes it to path. On error nothing is
// written and any previous bundle is left in place.
func Rebuild(fs afero.Fs, path string, sources []Source) (Result, error) {
	data, res, err := build(sources)
	if err != nil {
		return Result{}, err
	}
	if err := Write(fs, path, data); err != nil {
		return Result{}, fmt.Errorf("write bundle: %w", err)
	}
	res.Path = path
	logutil.Group("BUNDLE").Info("Bundle written.", "path", path, "size", res.HumanSize(), "exports", res.Exports, "sha256", res.SHA256[:12])
	event.Trigger(eventType.BundleWritten, event.M{"path": path, "size": res.Size})
	return res, nil
}

func target(inIframe bool) string {
	if inIframe {
		return `document.querySelector("iframe").contentWindow`
	}
	return "window"
}

// CallExpression returns a script that invokes a bundled export and
// resolves to its result.
func CallExpression(ns, name string, args []any, inIframe bool) (string, error) {
	if args == nil {
		args = []any{}
	}
	a, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}
	return fmt.Sprintf(`(async function () {
  var w = %s;
  var fn = w.pluginExports && w.pluginExports[%s] && w.pluginExports[%s][%s];
  if (typeof fn !== "function") throw new Error(%s);
  return await fn.apply(null, %s);
})()`, target(inIframe), quote(ns), quote(ns), quote(name), quote("export "+ns+"."+name+" not found"), a), nil
}

// ConfigExpression returns a script that mirrors a plugin configuration
// into pluginConfigs of the page.
func ConfigExpression(id string, cfg map[string]any, inIframe bool) (string, error) {
	if cfg == nil {
		cfg = map[string]any{}
	}
	c, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode config of %s: %w", id, err)
	}
	return fmt.Sprintf(`(function () {
  var w = %s;
  w.pluginConfigs = w.pluginConfigs || {};
  w.pluginConfigs[%s] = %s;
  return true;
})()`, target(inIframe), quote(id), c), nil
}
