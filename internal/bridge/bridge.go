// Package bridge drives the game's browser tab over the Chrome DevTools
// Protocol.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	logutil "github.com/idleonweb/idleonweb/internal/log"
	"github.com/spf13/afero"
)

const (
	// Sentinel is the global the rewritten game script publishes.
	Sentinel = "__idleon_cheats__"

	pollInterval   = 500 * time.Millisecond
	defaultTimeout = 120 * time.Second
)

type Options struct {
	Port int
	Fs   afero.Fs
	// BundlePath is the file ReloadJS evaluates.
	BundlePath  string
	BrowserPath string
	GameURL     string
	UserDataDir string
	Headless    bool
	// Timeout bounds each Evaluate call.
	Timeout time.Duration
}

// Bridge is bound to a single page of a browser reachable on the CDP port.
// All methods are serialized.
type Bridge struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	page     *rod.Page
	target   proto.TargetTargetID
	inIframe bool
	hijack   *rod.HijackRouter
	launched *Launched
}

func New(opts Options) *Bridge {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Bridge{opts: opts, log: logutil.Group("BRIDGE")}
}

func (b *Bridge) endpoint() string {
	return "http://127.0.0.1:" + strconv.Itoa(b.opts.Port)
}

// EnsureBrowser starts a browser with remote debugging on the configured
// port unless one already answers there.
func (b *Bridge) EnsureBrowser(ctx context.Context) error {
	l, err := EnsureBrowser(ctx, LaunchOptions{
		Port:        b.opts.Port,
		BrowserPath: b.opts.BrowserPath,
		URL:         b.opts.GameURL,
		UserDataDir: b.opts.UserDataDir,
		Headless:    b.opts.Headless,
	})
	if err != nil {
		return err
	}
	b.mu.Lock()
	if l != nil {
		b.launched = l
	}
	b.mu.Unlock()
	return nil
}

// Connect attaches to the browser and binds the first page, preferring one
// showing the game URL. It polls until timeout and then fails with
// ErrNoTabs.
func (b *Bridge) Connect(ctx context.Context, timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		if b.browser == nil {
			if err := b.dial(ctx); err != nil {
				lastErr = err
			}
		}
		if b.browser != nil {
			page, err := b.pickPage()
			if err == nil && page != nil {
				return b.bind(ctx, page)
			}
			lastErr = err
		}
		if time.Now().After(deadline) {
			if lastErr != nil {
				return fmt.Errorf("%w: %v", ErrNoTabs, lastErr)
			}
			return ErrNoTabs
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (b *Bridge) dial(ctx context.Context) error {
	u, err := launcher.ResolveURL(b.endpoint())
	if err != nil {
		return err
	}
	browser := rod.New().ControlURL(u).Context(ctx)
	if err := browser.Connect(); err != nil {
		return err
	}
	b.browser = browser
	return nil
}

func (b *Bridge) pickPage() (*rod.Page, error) {
	pages, err := b.browser.Pages()
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, nil
	}
	game := strings.TrimSuffix(b.opts.GameURL, "/")
	if game != "" {
		for _, p := range pages {
			info, err := p.Info()
			if err == nil && strings.HasPrefix(info.URL, game) {
				return p, nil
			}
		}
	}
	return pages[0], nil
}

func (b *Bridge) bind(ctx context.Context, page *rod.Page) error {
	if err := (proto.PageEnable{}).Call(page); err != nil {
		return err
	}
	if err := (proto.RuntimeEnable{}).Call(page); err != nil {
		return err
	}
	b.page = page
	b.target = page.TargetID
	b.log.Info("Connected to browser tab.", "target", string(b.target))
	return nil
}

// SessionID is the CDP target id of the bound page.
func (b *Bridge) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.target)
}

// InIframe reports whether the game context lives in the page's iframe.
func (b *Bridge) InIframe() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inIframe
}

// Evaluate runs expr in the bound page and returns its JSON value. A
// JavaScript exception is returned as *EvalError. A transport decode error
// is retried once.
func (b *Bridge) Evaluate(ctx context.Context, expr string, awaitPromise bool) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, err := b.evaluate(ctx, expr, awaitPromise)
	if err != nil && isDecodeError(err) {
		b.log.Debug("Retrying evaluation after decode error.", "error", err)
		v, err = b.evaluate(ctx, expr, awaitPromise)
	}
	return v, err
}

func (b *Bridge) evaluate(ctx context.Context, expr string, awaitPromise bool) (any, error) {
	if b.page == nil {
		return nil, ErrDetached
	}
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()
	page := b.page.Context(ctx)
	res, err := proto.RuntimeEvaluate{
		Expression:    expr,
		ReturnByValue: true,
		AwaitPromise:  awaitPromise,
	}.Call(page)
	if err != nil {
		return nil, err
	}
	if res.ExceptionDetails != nil {
		return nil, &EvalError{Description: describeException(res.ExceptionDetails)}
	}
	if res.Result == nil || res.Result.Type == proto.RuntimeRemoteObjectTypeUndefined {
		return nil, nil
	}
	return res.Result.Value.Val(), nil
}

func describeException(d *proto.RuntimeExceptionDetails) string {
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Exception.Description
	}
	if d.Text != "" {
		return d.Text
	}
	return "unknown exception"
}

// ReloadJS evaluates the bundle file in the game context: directly in the
// page, or through the iframe's eval when the game runs in an iframe.
func (b *Bridge) ReloadJS(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	code, err := afero.ReadFile(b.opts.Fs, b.opts.BundlePath)
	if err != nil {
		return fmt.Errorf("%w: read bundle: %v", ErrInject, err)
	}
	probe, err := b.evaluate(ctx, iframeProbe, false)
	if err != nil && !isDecodeError(err) {
		return fmt.Errorf("%w: %v", ErrInject, err)
	}
	b.inIframe = probe == true

	expr := string(code)
	if b.inIframe {
		expr, err = IframeEval(code)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInject, err)
		}
	}
	if _, err := b.evaluate(ctx, expr, false); err != nil {
		return fmt.Errorf("%w: %v", ErrInject, err)
	}
	b.log.Debug("Bundle evaluated.", "bytes", len(code), "iframe", b.inIframe)
	return nil
}

// OpenURLInNewTab opens url in a new tab without moving the binding.
func (b *Bridge) OpenURLInNewTab(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return ErrDetached
	}
	_, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	return err
}

// HealthCheck verifies the bound page answers and still holds the bundle.
// Transport decode errors are not failures.
func (b *Bridge) HealthCheck(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, err := b.evaluate(ctx, healthProbe(b.inIframe), false)
	if err != nil {
		if isDecodeError(err) {
			return nil
		}
		return err
	}
	if v != true {
		return ErrBundleMissing
	}
	return nil
}

// Diagnose classifies a lost session: the bound target is gone (closed),
// the target still exists (reloaded), or the browser cannot tell.
func (b *Bridge) Diagnose(ctx context.Context) Reason {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.target == "" {
		return ReasonUnknown
	}
	browser := b.browser
	if browser == nil {
		return ReasonUnknown
	}
	res, err := proto.TargetGetTargets{}.Call(browser.Context(ctx))
	if err != nil {
		u, rerr := launcher.ResolveURL(b.endpoint())
		if rerr != nil {
			// nothing listens on the port anymore
			return ReasonClosed
		}
		fresh := rod.New().ControlURL(u).Context(ctx)
		if err := fresh.Connect(); err != nil {
			return ReasonUnknown
		}
		defer func() { _ = fresh.Close() }()
		res, err = proto.TargetGetTargets{}.Call(fresh)
		if err != nil {
			return ReasonUnknown
		}
	}
	return classify(res.TargetInfos, b.target)
}

func classify(targets []*proto.TargetTargetInfo, id proto.TargetTargetID) Reason {
	for _, t := range targets {
		if t.TargetID == id {
			return ReasonReloaded
		}
	}
	return ReasonClosed
}

// Release drops the connection and any hijack without closing the browser.
func (b *Bridge) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.release()
}

func (b *Bridge) release() error {
	var errs []error
	if b.hijack != nil {
		errs = append(errs, b.hijack.Stop())
		b.hijack = nil
	}
	b.page = nil
	b.browser = nil
	return errors.Join(errs...)
}

// CloseBrowser closes the browser and kills a process started by
// EnsureBrowser.
func (b *Bridge) CloseBrowser() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	if b.browser != nil {
		if err := b.browser.Close(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	if err := b.release(); err != nil {
		errs = append(errs, err)
	}
	if b.launched != nil {
		b.launched.Kill()
		b.launched = nil
	}
	b.target = ""
	b.inIframe = false
	return errors.Join(errs...)
}
