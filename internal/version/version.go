package version

// Set with -ldflags "-X github.com/idleonweb/idleonweb/internal/version.CurrentVersion=..."
var (
	CurrentVersion = "0.0.0-dev"
	VersionHash    = "unknown"
)
