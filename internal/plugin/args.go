package plugin

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseArgs converts REPL arguments into typed command arguments.
//
// Arguments are positional, or name=value for a declared parameter name.
// A command with a single str parameter receives all arguments joined by a
// space. Parameters without a default are required.
func ParseArgs(params []Param, args []string) (map[string]any, error) {
	out := make(map[string]any, len(params))

	if len(params) == 1 && params[0].Type == ParamStr {
		p := params[0]
		if len(args) > 0 {
			joined := strings.Join(args, " ")
			if v, ok := strings.CutPrefix(joined, p.Name+"="); ok {
				joined = v
			}
			out[p.Name] = trimQuotes(joined)
			return out, nil
		}
		if p.Required() {
			return nil, fmt.Errorf("missing required argument: %s", p.Name)
		}
		out[p.Name] = p.Default
		return out, nil
	}

	byName := make(map[string]Param, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}
	var positional []string
	for _, a := range args {
		if k, v, ok := strings.Cut(a, "="); ok {
			if p, known := byName[k]; known {
				if _, dup := out[k]; dup {
					return nil, fmt.Errorf("argument %s given more than once", k)
				}
				val, err := convertArg(p, v)
				if err != nil {
					return nil, err
				}
				out[k] = val
				continue
			}
		}
		positional = append(positional, a)
	}

	i := 0
	for _, p := range params {
		if _, named := out[p.Name]; named {
			continue
		}
		switch {
		case i < len(positional):
			val, err := convertArg(p, positional[i])
			if err != nil {
				return nil, err
			}
			out[p.Name] = val
			i++
		case !p.Required():
			out[p.Name] = p.Default
		default:
			return nil, fmt.Errorf("missing required argument: %s", p.Name)
		}
	}
	if i < len(positional) {
		return nil, fmt.Errorf("too many arguments: %s", strings.Join(positional[i:], " "))
	}
	return out, nil
}

func convertArg(p Param, raw string) (any, error) {
	invalid := fmt.Errorf("invalid value for %s: %s", p.Name, raw)
	switch p.Type {
	case ParamBool:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
		return nil, invalid
	case ParamInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, invalid
		}
		return n, nil
	case ParamFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, invalid
		}
		return f, nil
	default:
		return trimQuotes(raw), nil
	}
}

func trimQuotes(s string) string {
	return strings.Trim(s, `"'`)
}

// Tokenize splits a REPL line into words. Single or double quotes group
// words and a backslash escapes the next character. An unterminated quote
// runs to the end of the line.
func Tokenize(line string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune
		esc   bool
		inTok bool
	)
	for _, r := range line {
		switch {
		case esc:
			cur.WriteRune(r)
			esc = false
		case r == '\\':
			esc, inTok = true, true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote, inTok = r, true
		case r == ' ' || r == '\t':
			if inTok {
				out = append(out, cur.String())
				cur.Reset()
				inTok = false
			}
		default:
			cur.WriteRune(r)
			inTok = true
		}
	}
	if inTok {
		out = append(out, cur.String())
	}
	return out
}
