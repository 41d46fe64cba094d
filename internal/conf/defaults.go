package conf

// Tree is the decoded configuration: maps, sequences and JSON scalars.
type Tree = map[string]any

// Well known paths.
const (
	KeyPlugins       = "plugins"
	KeyPluginConfigs = "plugin_configs"
	KeyDebug         = "debug"

	KeyWebUIPort     = "webui.port"
	KeyWebUIURL      = "webui.url"
	KeyWebUIDarkMode = "webui.darkmode"
	KeyWebUIAutoOpen = "webui.autoOpenOnInject"

	KeyBrowserPath = "browser.path"
	KeyBrowserName = "browser.name"

	KeyCDPPort    = "injector.cdp_port"
	KeyNJSPattern = "injector.njs_pattern"
	KeyIdleonURL  = "injector.idleon_url"
	KeyTimeout    = "injector.timeout"
	KeyAutoInject = "injector.autoInject"
)

const (
	DefaultWebUIPort = 8080
	DefaultCDPPort   = 32123
	DefaultTimeoutMs = 120000
	DefaultIdleonURL = "https://www.legendsofidleon.com/ytGl5oc/"

	DefaultNJSPattern = "*N.js"
	DefaultWebUIURL   = "http://localhost:8080"
)

// Default returns a freshly allocated default tree.
func Default() Tree {
	return Tree{
		"openDevTools":   false,
		"interactive":    true,
		KeyDebug:         false,
		KeyPlugins:       []any{},
		KeyPluginConfigs: map[string]any{},
		"webui": map[string]any{
			"darkmode":         false,
			"autoOpenOnInject": false,
			"url":              DefaultWebUIURL,
			"port":             float64(DefaultWebUIPort),
		},
		"browser": map[string]any{
			"path": "",
			"name": "auto",
		},
		"injector": map[string]any{
			"cdp_port":    float64(DefaultCDPPort),
			"njs_pattern": DefaultNJSPattern,
			"idleon_url":  DefaultIdleonURL,
			"timeout":     float64(DefaultTimeoutMs),
			"autoInject":  false,
		},
	}
}
