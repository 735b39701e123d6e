package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/wagate/internal/clock"
	"github.com/danmuck/wagate/internal/config"
	"github.com/danmuck/wagate/internal/credstore"
	"github.com/danmuck/wagate/internal/inbound"
	"github.com/danmuck/wagate/internal/observability"
	"github.com/danmuck/wagate/internal/outbound"
	"github.com/danmuck/wagate/internal/session"
	"github.com/danmuck/wagate/internal/transport"
	"github.com/danmuck/wagate/internal/transport/loopback"
	"github.com/danmuck/wagate/internal/transport/whatsapp"
	"github.com/rs/zerolog/log"
)

var ErrInvalidHeartbeatInterval = errors.New("gateway: invalid heartbeat interval")

// ServiceOption overrides pieces Service would otherwise build from config.
type ServiceOption func(*serviceDeps)

type serviceDeps struct {
	transport transport.Transport
	store     credstore.Store
	sink      inbound.Sink
	clock     clock.Clock
}

func WithTransport(t transport.Transport) ServiceOption {
	return func(d *serviceDeps) { d.transport = t }
}

func WithStore(s credstore.Store) ServiceOption {
	return func(d *serviceDeps) { d.store = s }
}

func WithSink(s inbound.Sink) ServiceOption {
	return func(d *serviceDeps) { d.sink = s }
}

func WithClock(c clock.Clock) ServiceOption {
	return func(d *serviceDeps) { d.clock = c }
}

// Service runs the gateway as a standalone process.
type Service struct {
	cfg     config.Config
	clock   clock.Clock
	manager *session.Manager
	facade  *Facade
	server  *Server
}

func NewService(cfg config.Config, opts ...ServiceOption) (*Service, error) {
	if cfg.HeartbeatInterval <= 0 {
		return nil, ErrInvalidHeartbeatInterval
	}
	deps := serviceDeps{clock: clock.Real()}
	for _, opt := range opts {
		opt(&deps)
	}
	if deps.store == nil {
		store, err := newCredentialStore(cfg.Credentials)
		if err != nil {
			return nil, err
		}
		deps.store = store
	}
	if deps.transport == nil {
		t, err := newTransport(cfg.Transport)
		if err != nil {
			return nil, err
		}
		deps.transport = t
	}

	manager := session.NewManager(deps.transport, deps.store,
		session.WithClock(deps.clock),
		session.WithRouter(inbound.NewRouter(deps.sink)),
		session.WithConfig(session.Config{
			ReconnectDelay:  cfg.Session.ReconnectDelay,
			SetupRetryDelay: cfg.Session.SetupRetryDelay,
		}),
	)
	facade := NewFacade(manager, outbound.New(manager, cfg.Session.SendTimeout), cfg.OwnNumber, deps.clock)
	return &Service{
		cfg:     cfg,
		clock:   deps.clock,
		manager: manager,
		facade:  facade,
		server:  NewServer(facade, ServerOptions{CorsOrigins: cfg.CorsOrigins, APIToken: cfg.APIToken}),
	}, nil
}

func newCredentialStore(cfg config.CredentialsConfig) (credstore.Store, error) {
	var opts []credstore.Option
	if cfg.AgeIdentityFile != "" {
		identity, err := credstore.LoadIdentityFile(cfg.AgeIdentityFile)
		if err != nil {
			return nil, fmt.Errorf("gateway: credentials identity: %w", err)
		}
		opts = append(opts, credstore.WithIdentity(identity))
	}
	return credstore.NewFileStore(cfg.Path, opts...), nil
}

func newTransport(cfg config.TransportConfig) (transport.Transport, error) {
	switch cfg.Kind {
	case config.TransportWhatsApp:
		return whatsapp.New(whatsapp.Options{
			StorePath: cfg.StorePath,
			Logger:    observability.Component("wagate", "whatsapp"),
		}), nil
	case config.TransportLoopback:
		return loopback.New(loopback.Options{AutoOpen: true}), nil
	default:
		return nil, fmt.Errorf("gateway: unknown transport %q", cfg.Kind)
	}
}

func (s *Service) Facade() *Facade { return s.facade }

func (s *Service) Handler() http.Handler { return s.server.Handler() }

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the gateway on ln until ctx is done, then shuts down HTTP and
// the session within ShutdownTimeout.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	// The session outlives ctx so in-flight sends drain during HTTP
	// shutdown; Stop below ends it.
	if err := s.manager.Start(context.Background()); err != nil {
		_ = ln.Close()
		return err
	}

	httpServer := &http.Server{
		Handler:           s.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(ln)
	}()
	log.Info().
		Str("addr", ln.Addr().String()).
		Str("transport", s.cfg.Transport.Kind).
		Bool("auth", s.cfg.APIToken != "").
		Msg("gateway.Service.Serve listening")

	ticker := s.clock.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("gateway.Service.Serve shutdown")
			break loop
		case err := <-serveErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				runErr = fmt.Errorf("gateway: http: %w", err)
			}
			break loop
		case <-ticker.C:
			snap := s.manager.Snapshot()
			log.Info().
				Str("state", snap.State.String()).
				Bool("ready", snap.Ready).
				Bool("terminal", snap.Terminal).
				Uint64("generation", snap.Generation).
				Uint64("reconnects", snap.Reconnects).
				Msg("gateway.Service.heartbeat")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("gateway.Service http shutdown")
	}
	if err := s.manager.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("gateway.Service session stop")
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
