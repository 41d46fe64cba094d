package main

import (
	"log"
	"log/slog"

	"github.com/idleonweb/idleonweb/cmd"
	logutil "github.com/idleonweb/idleonweb/internal/log"
	"github.com/idleonweb/idleonweb/internal/version"
)

func main() {
	if version.VersionHash == "unknown" {
		logutil.SetupGlobalLogger(slog.LevelDebug)
	} else {
		logutil.SetupGlobalLogger(slog.LevelInfo)
	}

	log.Printf("IdleonWeb %s (hash: %s)", version.CurrentVersion, version.VersionHash)

	cmd.Execute()
}
