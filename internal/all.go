package internal

import (
	// Import packages whose init() registers built-in plugins
	_ "github.com/idleonweb/idleonweb/internal/plugins"
)

func All() {}
