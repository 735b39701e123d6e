package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/wagate/internal/clock"
	"github.com/danmuck/wagate/internal/credstore"
	"github.com/danmuck/wagate/internal/inbound"
	"github.com/danmuck/wagate/internal/observability"
	"github.com/danmuck/wagate/internal/transport"
	"github.com/rs/zerolog/log"
)

// Router receives inbound batches from the live connection.
type Router interface {
	Route(batch []transport.RawMessage) int
}

// Lease is a send permit: the connection live at Generation. It is only
// usable while Valid(Generation) holds.
type Lease struct {
	Generation uint64
	Conn       transport.Conn
}

// Snapshot is a point-in-time view of the manager for status surfaces.
type Snapshot struct {
	State        State
	Generation   uint64
	Ready        bool
	Terminal     bool
	Pairing      string
	Reconnects   uint64
	LastError    error
	LastChangeAt time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg.WithDefaults() }
}

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithRouter(r Router) Option {
	return func(m *Manager) { m.router = r }
}

type loopKind int

const (
	kindTransport loopKind = iota
	kindOpened
	kindRetry
	kindLogout
)

type loopEvent struct {
	kind       loopKind
	generation uint64
	event      transport.Event
	conn       transport.Conn
	err        error
	// done, when set, is closed once the loop has handled the event.
	done chan struct{}
}

// Manager runs the session state machine for one WhatsApp account.
type Manager struct {
	cfg       Config
	transport transport.Transport
	store     credstore.Store
	router    Router
	clock     clock.Clock
	writer    *credentialWriter

	events chan loopEvent
	done   chan struct{}

	// loop-owned
	retry *clock.Timer

	openMu sync.Mutex
	exited bool

	mu           sync.RWMutex
	started      bool
	stopped      bool
	cancel       context.CancelFunc
	state        State
	generation   uint64
	conn         transport.Conn
	connGen      uint64
	closedGen    uint64
	creds        transport.Credentials
	pairing      string
	terminal     bool
	reconnects   uint64
	lastErr      error
	lastChangeAt time.Time
}

func NewManager(t transport.Transport, store credstore.Store, opts ...Option) *Manager {
	m := &Manager{
		cfg:       DefaultConfig(),
		transport: t,
		store:     store,
		clock:     clock.Real(),
		done:      make(chan struct{}),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.router == nil {
		m.router = inbound.NewRouter(nil)
	}
	m.events = make(chan loopEvent, m.cfg.EventBuffer)
	m.writer = newCredentialWriter(store)
	m.lastChangeAt = m.clock.Now()
	observability.RecordSessionState(m.state.String())
	return m
}

// Start loads stored credentials and begins the first connect attempt. It
// returns without waiting for the connection. Repeated calls are no-ops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.started {
		m.mu.Unlock()
		log.Debug().Msg("session.Manager.Start already started")
		return nil
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	creds, err := m.store.Load()
	if err != nil {
		log.Warn().Err(err).Msg("session.Manager.Start stored credentials unusable, pairing required")
		creds = nil
	}
	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()
	log.Info().Bool("has_credentials", len(creds) > 0).Msg("session.Manager.Start")

	go m.writer.run()
	go m.run(runCtx)
	return nil
}

// Stop cancels any pending retry, closes the live connection without
// logging out, and waits for credential writes to drain.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.stopped = true
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	select {
	case <-m.done:
	case <-ctx.Done():
		return fmt.Errorf("session: stop: %w", ctx.Err())
	}
	select {
	case <-m.writer.Close():
	case <-ctx.Done():
		return fmt.Errorf("session: stop: credential flush: %w", ctx.Err())
	}
	return nil
}

// Logout ends the account link. The session becomes terminal and stored
// credentials are cleared.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	lease, ok := m.Lease()
	if !ok {
		return ErrNotReady
	}
	if err := lease.Conn.Logout(ctx); err != nil {
		return fmt.Errorf("session: logout: %w", err)
	}
	done := make(chan struct{})
	if !m.post(loopEvent{kind: kindLogout, generation: lease.Generation, done: done}) {
		return nil
	}
	select {
	case <-done:
	case <-m.done:
	case <-ctx.Done():
		return fmt.Errorf("session: logout: %w", ctx.Err())
	}
	return nil
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsReady reports whether a send issued now would be attempted.
func (m *Manager) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readyLocked()
}

func (m *Manager) readyLocked() bool {
	return m.state == StateReady && m.conn != nil && m.connGen == m.generation
}

// Lease returns the live connection and its generation.
func (m *Manager) Lease() (Lease, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.readyLocked() {
		return Lease{}, false
	}
	return Lease{Generation: m.connGen, Conn: m.conn}, true
}

// Valid reports whether generation still names the live connection.
func (m *Manager) Valid(generation uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readyLocked() && m.connGen == generation
}

// PairingChallenge returns the outstanding pairing challenge, if any.
func (m *Manager) PairingChallenge() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateAwaitingPairing || m.pairing == "" {
		return "", false
	}
	return m.pairing, true
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		State:        m.state,
		Generation:   m.generation,
		Ready:        m.readyLocked(),
		Terminal:     m.terminal,
		Pairing:      m.pairing,
		Reconnects:   m.reconnects,
		LastError:    m.lastErr,
		LastChangeAt: m.lastChangeAt,
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	m.connect(ctx)
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			m.drain()
			return
		case ev := <-m.events:
			if ctx.Err() != nil {
				discard(ev)
				continue
			}
			m.handle(ctx, ev)
		}
	}
}

// post hands ev to the loop. It reports false once the loop has exited.
func (m *Manager) post(ev loopEvent) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// postOpened hands an Open result to the loop, or closes its conn when the
// loop will never read it. Holding openMu orders it against drain.
func (m *Manager) postOpened(ctx context.Context, ev loopEvent) {
	m.openMu.Lock()
	defer m.openMu.Unlock()
	if m.exited {
		discard(ev)
		return
	}
	select {
	case m.events <- ev:
	case <-ctx.Done():
		discard(ev)
	}
}

// drain runs once the loop has stopped reading and releases anything still
// buffered.
func (m *Manager) drain() {
	m.openMu.Lock()
	m.exited = true
	m.openMu.Unlock()
	for {
		select {
		case ev := <-m.events:
			discard(ev)
		default:
			return
		}
	}
}

// discard releases an event the loop will not handle.
func discard(ev loopEvent) {
	if ev.kind == kindOpened && ev.conn != nil {
		_ = ev.conn.Close()
		log.Debug().Uint64("generation", ev.generation).Msg("session.Manager connection opened after stop closed")
	}
	if ev.done != nil {
		close(ev.done)
	}
}

func (m *Manager) handle(ctx context.Context, ev loopEvent) {
	if ev.done != nil {
		defer close(ev.done)
	}
	if ev.kind == kindOpened {
		m.handleOpened(ev)
		return
	}

	m.mu.RLock()
	current, closed := m.generation, m.closedGen
	m.mu.RUnlock()
	if ev.generation != current {
		log.Debug().
			Uint64("generation", ev.generation).
			Uint64("current", current).
			Str("event", ev.event.Kind.String()).
			Msg("session.Manager stale event dropped")
		return
	}
	// A closed handle is dead even before the next attempt bumps the
	// generation. Only its retry timer may still act on it.
	if ev.generation == closed && ev.kind != kindRetry {
		log.Debug().
			Uint64("generation", ev.generation).
			Str("event", ev.event.Kind.String()).
			Msg("session.Manager event from closed connection dropped")
		return
	}

	switch ev.kind {
	case kindRetry:
		m.retry = nil
		m.connect(ctx)
	case kindLogout:
		m.handleClose(ctx, ev.generation, transport.Event{Kind: transport.EventClose, Cause: transport.CauseLoggedOut})
	case kindTransport:
		m.handleTransport(ctx, ev.generation, ev.event)
	}
}

func (m *Manager) connect(ctx context.Context) {
	m.mu.Lock()
	if m.terminal || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.generation++
	gen := m.generation
	old := m.conn
	m.conn = nil
	m.connGen = 0
	m.pairing = ""
	m.setStateLocked(StateConnecting)
	creds := m.creds
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	log.Info().Uint64("generation", gen).Bool("has_credentials", len(creds) > 0).Msg("session.Manager.connect")

	handler := transport.HandlerFunc(func(ev transport.Event) {
		m.post(loopEvent{kind: kindTransport, generation: gen, event: ev})
	})
	go func() {
		conn, err := m.transport.Open(ctx, creds, handler)
		if ctx.Err() != nil {
			// Stopped while opening; the loop will not see this conn.
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		m.postOpened(ctx, loopEvent{kind: kindOpened, generation: gen, conn: conn, err: err})
	}()
}

func (m *Manager) handleOpened(ev loopEvent) {
	m.mu.Lock()
	if ev.generation != m.generation || ev.generation == m.closedGen {
		m.mu.Unlock()
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
		log.Debug().Uint64("generation", ev.generation).Msg("session.Manager superseded connection closed")
		return
	}
	if ev.err != nil {
		m.closedGen = ev.generation
		m.lastErr = fmt.Errorf("%w: %v", ErrConnect, ev.err)
		m.setStateLocked(StateIdle)
		m.mu.Unlock()
		observability.RecordConnectAttempt("error")
		log.Warn().
			Err(ev.err).
			Uint64("generation", ev.generation).
			Dur("retry_in", m.cfg.SetupRetryDelay).
			Msg("session.Manager.connect failed")
		m.scheduleRetry(ev.generation, m.cfg.SetupRetryDelay)
		return
	}
	m.conn = ev.conn
	m.connGen = ev.generation
	m.mu.Unlock()
	observability.RecordConnectAttempt("ok")
}

func (m *Manager) handleTransport(ctx context.Context, gen uint64, ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnecting:
		log.Debug().Uint64("generation", gen).Msg("session.Manager transport connecting")
	case transport.EventPairing:
		m.mu.Lock()
		if m.state == StateConnecting || m.state == StateAwaitingPairing {
			m.pairing = ev.Challenge
			m.setStateLocked(StateAwaitingPairing)
		}
		m.mu.Unlock()
		log.Info().Uint64("generation", gen).Str("challenge", ev.Challenge).Msg("session.Manager pairing required, scan the challenge to link")
	case transport.EventOpen:
		m.mu.Lock()
		if m.state == StateConnecting || m.state == StateAwaitingPairing {
			m.pairing = ""
			m.lastErr = nil
			m.setStateLocked(StateReady)
		}
		m.mu.Unlock()
		log.Info().Uint64("generation", gen).Msg("session.Manager connection open")
	case transport.EventClose:
		m.handleClose(ctx, gen, ev)
	case transport.EventCredentials:
		m.mu.Lock()
		m.creds = append(transport.Credentials(nil), ev.Credentials...)
		m.mu.Unlock()
		m.writer.Submit(ev.Credentials)
	case transport.EventInbound:
		m.router.Route(ev.Messages)
	default:
		log.Warn().Int("kind", int(ev.Kind)).Msg("session.Manager unknown transport event")
	}
}

func (m *Manager) handleClose(ctx context.Context, gen uint64, ev transport.Event) {
	cause := ev.Cause
	if cause == "" {
		cause = transport.CauseUnknown
	}
	class := Classify(cause)

	m.mu.Lock()
	if m.closedGen == gen {
		m.mu.Unlock()
		log.Debug().Uint64("generation", gen).Str("cause", string(cause)).Msg("session.Manager duplicate close ignored")
		return
	}
	m.closedGen = gen
	m.setStateLocked(StateClosing)
	conn := m.conn
	m.conn = nil
	m.connGen = 0
	m.pairing = ""
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	observability.RecordDisconnect(string(cause), class.String())

	if class == Fatal {
		m.mu.Lock()
		m.terminal = true
		m.creds = nil
		m.lastErr = fmt.Errorf("%w: %s", ErrFatalDisconnect, cause)
		m.setStateLocked(StateIdle)
		m.mu.Unlock()
		m.writer.SubmitClear()
		log.Error().
			Uint64("generation", gen).
			Str("cause", string(cause)).
			Msg("session.Manager logged out, not reconnecting; pair again to resume")
		return
	}

	m.mu.Lock()
	if ev.Err != nil {
		m.lastErr = fmt.Errorf("%w: %s: %v", ErrRetryableDisconnect, cause, ev.Err)
	} else {
		m.lastErr = fmt.Errorf("%w: %s", ErrRetryableDisconnect, cause)
	}
	m.setStateLocked(StateIdle)
	m.mu.Unlock()
	log.Warn().
		Err(ev.Err).
		Uint64("generation", gen).
		Str("cause", string(cause)).
		Dur("retry_in", m.cfg.ReconnectDelay).
		Msg("session.Manager connection closed, reconnecting")
	m.scheduleRetry(gen, m.cfg.ReconnectDelay)
}

func (m *Manager) scheduleRetry(gen uint64, delay time.Duration) {
	if m.retry != nil {
		m.retry.Stop()
	}
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
	m.retry = m.clock.AfterFunc(delay, func() {
		m.post(loopEvent{kind: kindRetry, generation: gen})
	})
}

func (m *Manager) shutdown() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.connGen = 0
	m.generation++
	m.pairing = ""
	m.setStateLocked(StateClosing)
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Warn().Err(err).Msg("session.Manager.shutdown close failed")
		}
	}

	m.mu.Lock()
	m.setStateLocked(StateIdle)
	m.mu.Unlock()
	log.Info().Msg("session.Manager stopped")
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	log.Debug().Str("from", m.state.String()).Str("to", s.String()).Msg("session.Manager state")
	m.state = s
	m.lastChangeAt = m.clock.Now()
	observability.RecordSessionState(s.String())
}
