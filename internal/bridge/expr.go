package bridge

import (
	"encoding/json"
	"fmt"
	"regexp"
)

const iframeProbe = `(function () {
  try {
    var f = document.querySelector("iframe");
    return !!(f && f.contentWindow && typeof f.contentWindow.` + Sentinel + ` === "object");
  } catch (e) {
    return false;
  }
})()`

// GameWindow is the expression of the window holding the game context.
func GameWindow(inIframe bool) string {
	if inIframe {
		return `document.querySelector("iframe").contentWindow`
	}
	return "window"
}

func healthProbe(inIframe bool) string {
	return fmt.Sprintf(`(function () {
  try {
    var w = %s;
    return !!(w && w.pluginBundleReady);
  } catch (e) {
    return false;
  }
})()`, GameWindow(inIframe))
}

// IframeEval wraps code so that it is evaluated by the iframe's window.
// The code is embedded as a JSON string, which escapes every character that
// could terminate it.
func IframeEval(code []byte) (string, error) {
	lit, err := json.Marshal(string(code))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(function () {
  var f = document.querySelector("iframe");
  if (!f || !f.contentWindow) throw new Error("game iframe not found");
  f.contentWindow.eval(%s);
  return true;
})()`, lit), nil
}

var applicationMainRe = regexp.MustCompile(`(\w+)\.ApplicationMain\s*=`)

// RewriteGameScript publishes the game's root object as window.__idleon_cheats__
// right before ApplicationMain is assigned, and prepends prelude. It reports
// false when the script has no ApplicationMain assignment.
func RewriteGameScript(body, prelude []byte) ([]byte, bool) {
	loc := applicationMainRe.FindSubmatchIndex(body)
	if loc == nil {
		return body, false
	}
	name := body[loc[2]:loc[3]]
	out := make([]byte, 0, len(prelude)+len(body)+64)
	if len(prelude) > 0 {
		out = append(out, prelude...)
		out = append(out, '\n')
	}
	out = append(out, body[:loc[0]]...)
	out = append(out, "window."+Sentinel+"="...)
	out = append(out, name...)
	out = append(out, ';')
	out = append(out, body[loc[0]:]...)
	return out, true
}
