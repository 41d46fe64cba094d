package conf

import (
	"log/slog"

	"github.com/idleonweb/idleonweb/cmd/flags"
	logutil "github.com/idleonweb/idleonweb/internal/log"
	"github.com/spf13/afero"
	"go.uber.org/fx"
)

// FxModule provides the process-wide *Store opened from flags.ConfigFile and
// applies the root debug flag and runs browser auto-detection once it is
// loaded.
func FxModule() fx.Option {
	return fx.Options(
		fx.Provide(func() afero.Fs { return afero.NewOsFs() }),
		fx.Provide(loadStore),
		fx.Invoke(applyLogLevel, detectBrowser),
	)
}

func loadStore(fs afero.Fs) (*Store, error) {
	return Open(fs, flags.ConfigFile)
}

// applyLogLevel raises the global log level to debug when the root debug
// flag is set. It never lowers a level chosen on the command line.
func applyLogLevel(s *Store) {
	if s.GetBool(KeyDebug, false) && logutil.Level() > slog.LevelDebug {
		logutil.SetLevel(slog.LevelDebug)
	}
}

func detectBrowser(s *Store) {
	if _, err := s.DetectBrowser(BrowserCandidates()); err != nil {
		s.log.Warn("Browser auto-detection failed.", "error", err)
	}
}
