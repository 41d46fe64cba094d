package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	logutil "github.com/idleonweb/idleonweb/internal/log"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrNoBrowser is returned when no browser executable can be found.
var ErrNoBrowser = errors.New("no browser executable found")

type LaunchOptions struct {
	Port        int
	BrowserPath string
	URL         string
	UserDataDir string
	Headless    bool
	// Wait bounds how long a starting browser may take to open its port.
	Wait time.Duration
}

// Launched is a browser process started by EnsureBrowser.
type Launched struct {
	l   *launcher.Launcher
	PID int
}

func (l *Launched) Kill() {
	if l != nil && l.l != nil {
		l.l.Kill()
	}
}

// DefaultUserDataDir is the profile directory used for launched browsers.
func DefaultUserDataDir() string {
	return filepath.Join(os.TempDir(), "idleon-chromium-profile")
}

func debugFlag(port int) string {
	return "--remote-debugging-port=" + strconv.Itoa(port)
}

// EnsureBrowser makes a browser answer on the CDP port. It returns nil
// when a browser was already listening or already starting, and the
// launched process otherwise.
func EnsureBrowser(ctx context.Context, opts LaunchOptions) (*Launched, error) {
	log := logutil.Group("BRIDGE")
	endpoint := "http://127.0.0.1:" + strconv.Itoa(opts.Port)
	if opts.Wait <= 0 {
		opts.Wait = 30 * time.Second
	}

	if _, err := launcher.ResolveURL(endpoint); err == nil {
		log.Debug("Browser already listening.", "port", opts.Port)
		return nil, nil
	}

	if pid, ok := findDebuggingProcess(ctx, opts.Port); ok {
		log.Info("Waiting for running browser to open its debugging port.", "pid", pid, "port", opts.Port)
		return nil, waitForPort(ctx, endpoint, opts.Wait)
	}

	bin := opts.BrowserPath
	if bin == "" {
		found, ok := launcher.LookPath()
		if !ok {
			return nil, ErrNoBrowser
		}
		bin = found
	}
	dir := opts.UserDataDir
	if dir == "" {
		dir = DefaultUserDataDir()
	}

	l := launcher.New().
		Bin(bin).
		Headless(opts.Headless).
		Leakless(false).
		Delete(flags.Flag("no-startup-window")).
		UserDataDir(dir).
		Set(flags.RemoteDebuggingPort, strconv.Itoa(opts.Port)).
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("remote-allow-origins", "*")
	if runtime.GOOS == "linux" {
		l = l.Set("disable-gpu")
	}
	if opts.URL != "" {
		l = l.Set(flags.Arguments, opts.URL)
	}

	log.Info("Launching browser.", "bin", bin, "port", opts.Port, "url", opts.URL)
	if _, err := l.Launch(); err != nil {
		return nil, fmt.Errorf("launch %s: %w", bin, err)
	}
	return &Launched{l: l, PID: l.PID()}, nil
}

// findDebuggingProcess looks for a process started with our debugging port.
func findDebuggingProcess(ctx context.Context, port int) (int32, bool) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, false
	}
	want := debugFlag(port)
	for _, p := range procs {
		cmd, err := p.CmdlineWithContext(ctx)
		if err != nil {
			continue
		}
		if hasFlag(cmd, want) {
			return p.Pid, true
		}
	}
	return 0, false
}

func hasFlag(cmdline, flag string) bool {
	for _, f := range strings.Fields(cmdline) {
		if f == flag {
			return true
		}
	}
	return false
}

func waitForPort(ctx context.Context, endpoint string, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		if _, err := launcher.ResolveURL(endpoint); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("browser did not open %s within %s", endpoint, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
