// Package server is the loopback HTTP front-end of the coordinator: the
// plugin control page, its JSON API and a websocket status feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gookit/event"
	"github.com/idleonweb/idleonweb/cmd/flags"
	"github.com/idleonweb/idleonweb/internal/coordinator"
	"github.com/idleonweb/idleonweb/internal/eventType"
	logutil "github.com/idleonweb/idleonweb/internal/log"
	"github.com/idleonweb/idleonweb/public"
	"github.com/spf13/afero"
	"go.uber.org/fx"
)

// OverrideDir is the directory, next to the config file, whose files
// replace embedded /static assets of the same name.
const OverrideDir = "webui"

type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	stopped    chan struct{}
	log        *slog.Logger
}

// New builds the engine with every route registered.
func New(co *coordinator.Coordinator, fs afero.Fs) (*Server, error) {
	if !flags.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	tmpl, err := public.Templates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	r := gin.New()
	r.Use(logutil.GinLogger())
	r.Use(logutil.GinRecovery())
	r.SetHTMLTemplate(tmpl)

	h := &handlers{co: co, store: co.Store(), reg: co.Registry()}
	h.register(r)
	public.Static(r.Group("/"), fs, filepath.Join(filepath.Dir(co.Store().Path()), OverrideDir))

	return &Server{engine: r, stopped: make(chan struct{}), log: logutil.Group("GIN")}, nil
}

// Engine exposes the router, mostly for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Start binds addr and serves in the background. Listeners of
// ServerInitializeStart may add routes before the first request.
func (s *Server) Start(addr string) error {
	if err, _ := event.Trigger(eventType.ServerInitializeStart, event.M{"engine": s.engine}); err != nil {
		s.log.Error("Something went wrong during ServerInitializeStart event.", slog.Any("error", err))
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.engine}
	event.Trigger(eventType.ServerInitializeDone, event.M{})

	s.log.Info("Web UI listening.", "addr", "http://"+ln.Addr().String())
	go func() {
		defer close(s.stopped)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Web UI stopped.", "error", err)
		}
	}()
	return nil
}

// Addr is the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	select {
	case <-s.stopped:
	case <-ctx.Done():
	}
	return err
}

// ListenAddr resolves the address to bind. The host is always forced to a
// loopback address.
func ListenAddr(override string, port int) string {
	if override == "" {
		return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	}
	host, p, err := net.SplitHostPort(override)
	if err != nil {
		// bare port
		p = override
		host = ""
	}
	switch host {
	case "127.0.0.1", "::1", "localhost":
	default:
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, p)
}

// FxModule serves the Web UI for the lifetime of the app.
func FxModule() fx.Option {
	return fx.Options(
		fx.Provide(New),
		fx.Invoke(runServer),
	)
}

func runServer(lc fx.Lifecycle, s *Server, co *coordinator.Coordinator) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return s.Start(ListenAddr(flags.Listen, co.Store().WebUIPort()))
		},
		OnStop: s.Stop,
	})
}
