package flags

// Values bound to the persistent root flags.
var (
	ConfigFile string
	PluginDir  string
	Listen     string
	Debug      bool
	Watch      bool
	Standalone bool
	Headless   bool

	// InjectOnStart injects as soon as the coordinator runs.
	InjectOnStart bool
)
