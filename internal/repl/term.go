package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const prompt = "» "

type readWriter struct {
	io.Reader
	io.Writer
}

// Run reads commands until exit, end of input or ctx is done. With a
// terminal on in the line is edited in raw mode and Tab completes.
func (r *REPL) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	r.SetOutput(out)
	r.key.Fprintln(out, "IdleonWeb injector, type 'help' for commands")

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		old, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw terminal: %w", err)
		}
		defer term.Restore(fd, old)

		t := term.NewTerminal(readWriter{f, out}, r.ok.Sprint(prompt))
		t.AutoCompleteCallback = func(line string, pos int, key rune) (string, int, bool) {
			if key != '\t' {
				return "", 0, false
			}
			newLine, newPos, show := r.completeLine(line, pos)
			if len(show) > 0 {
				fmt.Fprintln(t, strings.Join(show, "  "))
			}
			return newLine, newPos, true
		}
		r.SetOutput(t)
		return r.loop(ctx, t.ReadLine)
	}

	sc := bufio.NewScanner(in)
	return r.loop(ctx, func() (string, error) {
		if sc.Scan() {
			return sc.Text(), nil
		}
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	})
}

func (r *REPL) loop(ctx context.Context, read func() (string, error)) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			line, err := read()
			if err != nil {
				errc <- err
				return
			}
			select {
			case lines <- line:
			case <-stop:
				return
			}
		}
	}()

	for !r.quit {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			if err := r.Exec(ctx, line); err != nil {
				r.PrintError(err)
			}
		}
	}
	return nil
}
