package repl

import (
	"sort"
	"strings"

	"github.com/idleonweb/idleonweb/internal/plugin"
)

// commandNames lists built-ins and <plugin>.<command> keys, sorted.
func (r *REPL) commandNames() []string {
	names := make([]string, 0, len(r.builtins))
	for n := range r.builtins {
		names = append(names, n)
	}
	for k := range r.reg.Commands() {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Complete returns the candidates for the word being typed at the end of
// line. The first word completes to command names, later words to the
// command's parameter names as name=.
func (r *REPL) Complete(line string) []string {
	words := strings.Fields(line)
	if len(words) == 0 || (len(words) == 1 && !strings.HasSuffix(line, " ")) {
		cur := ""
		if len(words) == 1 {
			cur = words[0]
		}
		return withPrefix(r.commandNames(), cur)
	}

	cur := ""
	if !strings.HasSuffix(line, " ") {
		cur = words[len(words)-1]
		words = words[:len(words)-1]
	}
	name, args := words[0], words[1:]

	if b, ok := r.builtins[name]; ok {
		if b.words == nil || len(args) > 0 {
			return nil
		}
		return withPrefix(b.words(r), cur)
	}

	key, err := r.resolve(name)
	if err != nil {
		return nil
	}
	params := r.reg.Commands()[key].Command.Params

	if i := strings.IndexByte(cur, '='); i > 0 {
		for _, p := range params {
			if p.Name == cur[:i] && p.Type == plugin.ParamBool {
				return withPrefix([]string{p.Name + "=true", p.Name + "=false"}, cur)
			}
		}
		return nil
	}

	used := map[string]bool{}
	for _, a := range args {
		if i := strings.IndexByte(a, '='); i > 0 {
			used[a[:i]] = true
		}
	}
	var out []string
	for _, p := range params {
		if !used[p.Name] {
			out = append(out, p.Name+"=")
		}
	}
	return withPrefix(out, cur)
}

func withPrefix(list []string, prefix string) []string {
	var out []string
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			out = append(out, s)
		}
	}
	return out
}

func commonPrefix(list []string) string {
	if len(list) == 0 {
		return ""
	}
	p := list[0]
	for _, s := range list[1:] {
		for !strings.HasPrefix(s, p) {
			p = p[:len(p)-1]
		}
	}
	return p
}

// completeLine applies Tab at pos. It returns the new line and cursor, and
// the candidates to show when the word stays ambiguous.
func (r *REPL) completeLine(line string, pos int) (string, int, []string) {
	head, tail := line[:pos], line[pos:]
	cands := r.Complete(head)
	if len(cands) == 0 {
		return line, pos, nil
	}
	start := strings.LastIndexByte(head, ' ') + 1
	word := head[start:]

	fill := commonPrefix(cands)
	if len(cands) == 1 && !strings.HasSuffix(fill, "=") {
		fill += " "
	}
	if fill == word {
		return line, pos, cands
	}
	head = head[:start] + fill
	return head + tail, len(head), nil
}
