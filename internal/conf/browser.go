package conf

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"
)

// BrowserCandidate is a well known install location of a Chromium based browser.
type BrowserCandidate struct {
	Name string // chrome, chromium, edge, brave, operagx
	Path string
}

// BrowserCandidates lists install locations for the current platform.
func BrowserCandidates() []BrowserCandidate {
	return candidatesFor(runtime.GOOS, os.Getenv)
}

func candidatesFor(goos string, getenv func(string) string) []BrowserCandidate {
	switch goos {
	case "windows":
		programFiles := envOr(getenv, "PROGRAMFILES", `C:\Program Files`)
		programFilesX86 := envOr(getenv, "PROGRAMFILES(X86)", `C:\Program Files (x86)`)
		localAppData := getenv("LOCALAPPDATA")
		list := []BrowserCandidate{
			{"chrome", filepath.Join(programFiles, `Google\Chrome\Application\chrome.exe`)},
			{"chrome", filepath.Join(programFilesX86, `Google\Chrome\Application\chrome.exe`)},
			{"edge", filepath.Join(programFilesX86, `Microsoft\Edge\Application\msedge.exe`)},
			{"edge", filepath.Join(programFiles, `Microsoft\Edge\Application\msedge.exe`)},
			{"brave", filepath.Join(programFiles, `BraveSoftware\Brave-Browser\Application\brave.exe`)},
			{"chromium", filepath.Join(programFiles, `Chromium\Application\chrome.exe`)},
		}
		if localAppData != "" {
			list = append(list,
				BrowserCandidate{"chrome", filepath.Join(localAppData, `Google\Chrome\Application\chrome.exe`)},
				BrowserCandidate{"brave", filepath.Join(localAppData, `BraveSoftware\Brave-Browser\Application\brave.exe`)},
				BrowserCandidate{"operagx", filepath.Join(localAppData, `Programs\Opera GX\opera.exe`)},
			)
		}
		return list
	case "darwin":
		return []BrowserCandidate{
			{"chrome", "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"},
			{"chromium", "/Applications/Chromium.app/Contents/MacOS/Chromium"},
			{"edge", "/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"},
			{"brave", "/Applications/Brave Browser.app/Contents/MacOS/Brave Browser"},
			{"operagx", "/Applications/Opera GX.app/Contents/MacOS/Opera"},
		}
	default:
		return []BrowserCandidate{
			{"chromium", "/usr/bin/chromium"},
			{"chromium", "/usr/bin/chromium-browser"},
			{"chromium", "/snap/bin/chromium"},
			{"chrome", "/usr/bin/google-chrome"},
			{"chrome", "/usr/bin/google-chrome-stable"},
			{"chrome", "/opt/google/chrome/chrome"},
			{"edge", "/usr/bin/microsoft-edge"},
			{"brave", "/usr/bin/brave-browser"},
			{"brave", "/usr/bin/brave"},
		}
	}
}

func envOr(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// DetectBrowser fills browser.path when it is empty: the first candidate
// that exists on the store's filesystem (filtered by browser.name unless it
// is "auto") is persisted and returned. While the file is malformed the path
// is only kept in memory. An already configured path is returned as is.
func (s *Store) DetectBrowser(candidates []BrowserCandidate) (string, error) {
	if p := s.GetString(KeyBrowserPath, ""); p != "" {
		return p, nil
	}
	want := strings.ToLower(s.GetString(KeyBrowserName, "auto"))
	for _, c := range candidates {
		if want != "" && want != "auto" && c.Name != want {
			continue
		}
		ok, err := afero.Exists(s.fs, c.Path)
		if err != nil || !ok {
			continue
		}
		if s.Malformed() {
			// the unreadable file stays on disk until an explicit save
			s.setInMemory(KeyBrowserPath, c.Path)
		} else if err := s.Set(KeyBrowserPath, c.Path); err != nil {
			return "", err
		}
		s.log.Info("Detected browser.", "name", c.Name, "path", c.Path)
		return c.Path, nil
	}
	return "", nil
}

// ResolvePath picks the configuration file location: next to the executable
// in standalone mode, otherwise conf.json in the working directory.
func ResolvePath(standalone bool, executable string) string {
	const name = "conf.json"
	if standalone && executable != "" {
		if resolved, err := filepath.EvalSymlinks(executable); err == nil {
			executable = resolved
		}
		return filepath.Join(filepath.Dir(executable), name)
	}
	return name
}
