package bridge

import (
	"context"
	"net/http"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// ExposeGameContext intercepts the game's main script (matched by the glob
// pattern), rewrites it through RewriteGameScript with prelude prepended,
// and reloads the page so the rewritten script runs. It returns once the
// reloaded page fired its load event. The interception stays
// active for later page reloads until Release or CloseBrowser.
func (b *Bridge) ExposeGameContext(ctx context.Context, pattern string, prelude []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page == nil {
		return ErrDetached
	}
	if b.hijack != nil {
		_ = b.hijack.Stop()
		b.hijack = nil
	}

	router := b.page.HijackRequests()
	err := router.Add(pattern, proto.NetworkResourceTypeScript, func(h *rod.Hijack) {
		if err := h.LoadResponse(http.DefaultClient, true); err != nil {
			b.log.Warn("Could not load game script.", "url", h.Request.URL().String(), "error", err)
			h.ContinueRequest(&proto.FetchContinueRequest{})
			return
		}
		out, ok := RewriteGameScript([]byte(h.Response.Body()), prelude)
		if !ok {
			b.log.Warn("Game script has no ApplicationMain assignment; serving it unchanged.", "url", h.Request.URL().String())
			return
		}
		h.Response.SetBody(out)
		b.log.Info("Rewrote game script.", "url", h.Request.URL().String(), "bytes", len(out))
	})
	if err != nil {
		return err
	}
	go router.Run()
	b.hijack = router

	page := b.page.Context(ctx)
	if err := page.Reload(); err != nil {
		return err
	}
	return page.WaitLoad()
}
