// Package repl is the interactive command line over the coordinator: a
// small set of built-in commands plus every command plugins declare.
package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/idleonweb/idleonweb/internal/bundle"
	"github.com/idleonweb/idleonweb/internal/conf"
	"github.com/idleonweb/idleonweb/internal/coordinator"
	logutil "github.com/idleonweb/idleonweb/internal/log"
	"github.com/idleonweb/idleonweb/internal/plugin"
	"github.com/pkg/browser"
)

// ErrUnknownCommand is returned for a line that names no command.
var ErrUnknownCommand = errors.New("unknown command")

// Coordinator is the part of *coordinator.Coordinator the REPL drives.
type Coordinator interface {
	Inject(ctx context.Context) error
	Reload(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() coordinator.Session
	RunCommand(ctx context.Context, key string, args []string) (any, error)
	LastBundle() bundle.Result
	Registry() *plugin.Registry
	Store() *conf.Store
}

type builtin struct {
	name string
	help string
	// words completes the first argument.
	words func(r *REPL) []string
	run   func(ctx context.Context, r *REPL, args []string) error
}

type REPL struct {
	co       Coordinator
	reg      *plugin.Registry
	store    *conf.Store
	out      io.Writer
	log      *slog.Logger
	builtins map[string]*builtin
	quit     bool

	// OpenURL opens the Web UI; browser.OpenURL by default.
	OpenURL func(url string) error

	ok   *color.Color
	warn *color.Color
	bad  *color.Color
	key  *color.Color
	dim  *color.Color
}

func New(co Coordinator, out io.Writer) *REPL {
	r := &REPL{
		co:      co,
		reg:     co.Registry(),
		store:   co.Store(),
		out:     out,
		log:     logutil.Group("REPL"),
		OpenURL: browser.OpenURL,
		ok:      color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed),
		key:     color.New(color.FgCyan, color.Bold),
		dim:     color.New(color.Faint),
	}
	r.builtins = map[string]*builtin{}
	for _, b := range builtins() {
		r.builtins[b.name] = b
	}
	return r
}

// SetOutput redirects printing, used once the terminal is set up.
func (r *REPL) SetOutput(w io.Writer) { r.out = w }

// Done reports whether exit was requested.
func (r *REPL) Done() bool { return r.quit }

// Exec runs one input line. Empty lines are ignored.
func (r *REPL) Exec(ctx context.Context, line string) error {
	words := plugin.Tokenize(line)
	if len(words) == 0 {
		return nil
	}
	name, args := words[0], words[1:]
	if b, ok := r.builtins[name]; ok {
		return b.run(ctx, r, args)
	}
	key, err := r.resolve(name)
	if err != nil {
		return err
	}
	out, err := r.co.RunCommand(ctx, key, args)
	if err != nil {
		return err
	}
	r.printResult(out)
	return nil
}

// resolve maps a typed command to a registry key. A bare command name is
// accepted when exactly one plugin declares it.
func (r *REPL) resolve(name string) (string, error) {
	cmds := r.reg.Commands()
	if _, ok := cmds[name]; ok {
		return name, nil
	}
	var matches []string
	for key, bc := range cmds {
		if bc.Command.Name == name {
			matches = append(matches, key)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("%w: %s is ambiguous (%s)", ErrUnknownCommand, name, strings.Join(matches, ", "))
	}
}

func (r *REPL) printResult(v any) {
	switch v := v.(type) {
	case nil:
		r.ok.Fprintln(r.out, "OK")
	case string:
		fmt.Fprintln(r.out, v)
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintln(r.out, v)
			return
		}
		fmt.Fprintln(r.out, string(b))
	}
}

// PrintError prints the one-line reason of err.
func (r *REPL) PrintError(err error) {
	r.bad.Fprintf(r.out, "Error: %v\n", err)
}
