// Package coordinator owns the game session. Every operation that touches
// plugin state, the session or the browser bridge runs on a single actor
// goroutine.
package coordinator

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/idleonweb/idleonweb/internal/bridge"
	"github.com/idleonweb/idleonweb/internal/bundle"
	"github.com/idleonweb/idleonweb/internal/conf"
	logutil "github.com/idleonweb/idleonweb/internal/log"
	"github.com/idleonweb/idleonweb/internal/plugin"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTickInterval   = time.Second
	DefaultHealthInterval = 2 * time.Second
	// failureThreshold consecutive health failures confirm a lost session.
	failureThreshold = 2

	BundleFile = "plugins_combined.js"
)

// Bridge is the browser session the coordinator drives. *bridge.Bridge
// implements it.
type Bridge interface {
	EnsureBrowser(ctx context.Context) error
	Connect(ctx context.Context, timeout time.Duration) error
	ExposeGameContext(ctx context.Context, pattern string, prelude []byte) error
	Evaluate(ctx context.Context, expr string, awaitPromise bool) (any, error)
	ReloadJS(ctx context.Context) error
	OpenURLInNewTab(ctx context.Context, url string) error
	HealthCheck(ctx context.Context) error
	Diagnose(ctx context.Context) bridge.Reason
	SessionID() string
	InIframe() bool
	Release() error
	CloseBrowser() error
}

type BridgeFactory func(opts bridge.Options) Bridge

func newBridge(opts bridge.Options) Bridge { return bridge.New(opts) }

type Options struct {
	Fs afero.Fs
	// BundlePath defaults to plugins_combined.js next to the config file.
	BundlePath     string
	NewBridge      BridgeFactory
	TickInterval   time.Duration
	HealthInterval time.Duration
	// ConnectTimeout defaults to injector.timeout.
	ConnectTimeout time.Duration
	Headless       bool
}

type result struct {
	v   any
	err error
}

type op struct {
	name  string
	ctx   context.Context
	fn    func(ctx context.Context) (any, error)
	reply chan result
}

type Coordinator struct {
	store *conf.Store
	reg   *plugin.Registry
	opts  Options
	log   *slog.Logger

	ops     chan op
	quit    chan struct{}
	done    chan struct{}
	kick    chan struct{}
	base    context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	closed  atomic.Bool
	workers sync.WaitGroup

	// owned by the actor
	bridge     Bridge
	sessCancel context.CancelFunc
	loopCancel context.CancelFunc
	loops      *errgroup.Group
	failures   int
	suspect    bool
	probe      bool
	lastBundle bundle.Result

	pendMu       sync.Mutex
	pending      map[string]struct{}
	pluginsDirty atomic.Bool
	filesChanged atomic.Bool
	listeners    *listeners

	mu      sync.RWMutex
	session Session
	subs    map[chan Session]struct{}
}

func New(store *conf.Store, reg *plugin.Registry, opts Options) *Coordinator {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.BundlePath == "" {
		opts.BundlePath = filepath.Join(filepath.Dir(store.Path()), BundleFile)
	}
	if opts.NewBridge == nil {
		opts.NewBridge = newBridge
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	base, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:   store,
		reg:     reg,
		opts:    opts,
		log:     logutil.Group("COORD"),
		ops:     make(chan op),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		kick:    make(chan struct{}, 1),
		base:    base,
		cancel:  cancel,
		pending: map[string]struct{}{},
		session: Session{Status: StatusDisconnected, Since: time.Now()},
		subs:    map[chan Session]struct{}{},
	}
}

// Start runs the actor and subscribes to configuration and plugin events.
func (c *Coordinator) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.listeners = c.listen()
	c.workers.Add(1)
	go c.pump()
	go c.run()
}

// Close stops the session without closing the browser, then stops the
// actor. It is safe to call more than once.
func (c *Coordinator) Close(ctx context.Context) error {
	if !c.started.Load() || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	_, err := c.submit(ctx, "shutdown", func(ctx context.Context) (any, error) {
		c.teardown(ctx, false)
		c.setStatus(StatusDisconnected, "")
		return nil, nil
	})
	c.listeners.remove()
	close(c.quit)
	c.cancel()
	<-c.done
	c.workers.Wait()

	c.mu.Lock()
	for ch := range c.subs {
		close(ch)
		delete(c.subs, ch)
	}
	c.mu.Unlock()
	return err
}

func (c *Coordinator) run() {
	defer close(c.done)
	for {
		select {
		case o := <-c.ops:
			v, err := o.fn(o.ctx)
			o.reply <- result{v, err}
		case <-c.quit:
			return
		}
	}
}

// submit hands fn to the actor and waits for its result. A caller whose
// context ends stops waiting, but an accepted operation always runs to
// completion.
func (c *Coordinator) submit(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	o := op{name: name, ctx: context.WithoutCancel(ctx), fn: fn, reply: make(chan result, 1)}
	select {
	case c.ops <- o:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, ErrClosed
	}
	select {
	case r := <-o.reply:
		return r.v, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the current session snapshot.
func (c *Coordinator) Status() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Subscribe returns a channel receiving every status change. Slow readers
// miss intermediate states. The channel is closed by the returned func or
// by Close.
func (c *Coordinator) Subscribe() (<-chan Session, func()) {
	ch := make(chan Session, 8)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
		})
	}
}

// Registry exposes the plugin registry for read-only use by front-ends.
func (c *Coordinator) Registry() *plugin.Registry { return c.reg }

// Store exposes the configuration store.
func (c *Coordinator) Store() *conf.Store { return c.store }

// LastBundle reports the most recently written bundle.
func (c *Coordinator) LastBundle() bundle.Result {
	v, err := c.submit(context.Background(), "last_bundle", func(context.Context) (any, error) {
		return c.lastBundle, nil
	})
	if err != nil {
		return bundle.Result{}
	}
	return v.(bundle.Result)
}
