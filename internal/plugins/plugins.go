// Package plugins holds the plugins shipped with the injector. Each one
// registers its factory in init, so importing the package for its side
// effects makes them available to the registry.
package plugins

import (
	"embed"
	"errors"
	"fmt"
	"strings"
)

//go:embed js/*.js
var scripts embed.FS

// ErrExport marks a bundled export that reported a failure as its result.
var ErrExport = errors.New("export failed")

func script(name string) string {
	b, err := scripts.ReadFile("js/" + name + ".js")
	if err != nil {
		panic(fmt.Sprintf("plugins: missing script %s: %v", name, err))
	}
	return string(b)
}

// exportError turns the "Error: ..." string a bundled export resolves to
// when it throws into an error.
func exportError(name string, v any) error {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "Error:") {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrExport, name, strings.TrimSpace(strings.TrimPrefix(s, "Error:")))
}

func boolValue(v any) bool {
	b, _ := v.(bool)
	return b
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
