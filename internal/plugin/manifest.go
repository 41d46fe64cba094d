package plugin

// Manifest is the descriptor a script plugin declares as the global
// `Manifest` object.
type Manifest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Version     string            `json:"version"`
	Category    string            `json:"category"`
	Order       *int              `json:"order"`
	Commands    []ManifestCommand `json:"commands"`
	UI          []ManifestElement `json:"ui"`
	Exports     []ManifestExport  `json:"exports"`
	Defaults    map[string]any    `json:"defaults"` // 首次启用时写入 plugin_configs.<id>
}

type ManifestCommand struct {
	Name   string  `json:"name"`
	Help   string  `json:"help"`
	Params []Param `json:"params"`
	// Method 为脚本中的函数名，缺省与 Name 相同
	Method string `json:"method"`
}

type ManifestElement struct {
	Type        string  `json:"type"`
	Name        string  `json:"name"`
	Label       string  `json:"label"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Order       int     `json:"order"`
	Method      string  `json:"method"`
	ConfigKey   string  `json:"config_key"`
	Default     any     `json:"default"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Step        float64 `json:"step"`
	Placeholder string  `json:"placeholder"`
	ButtonLabel string  `json:"button_label"`
	Severity    string  `json:"severity"`
	Provider    string  `json:"provider"`
}

type ManifestExport struct {
	Name      string        `json:"name"`
	Namespace string        `json:"namespace"`
	Params    []ExportParam `json:"params"`
	Args      []string      `json:"args"`
	Source    string        `json:"source"`
}
