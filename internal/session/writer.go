package session

import (
	"sync"

	"github.com/danmuck/wagate/internal/credstore"
	"github.com/danmuck/wagate/internal/observability"
	"github.com/danmuck/wagate/internal/transport"
	"github.com/rs/zerolog/log"
)

// credentialWriter persists credential updates off the event loop. Only the
// latest pending update is written; writes never reorder.
type credentialWriter struct {
	store credstore.Store

	mu      sync.Mutex
	pending transport.Credentials
	clear   bool
	dirty   bool
	closed  bool
	kick    chan struct{}
	done    chan struct{}
}

func newCredentialWriter(store credstore.Store) *credentialWriter {
	return &credentialWriter{
		store: store,
		kick:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (w *credentialWriter) Submit(creds transport.Credentials) {
	w.enqueue(append(transport.Credentials(nil), creds...), false)
}

func (w *credentialWriter) SubmitClear() {
	w.enqueue(nil, true)
}

func (w *credentialWriter) enqueue(creds transport.Credentials, clear bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		log.Warn().Msg("session.credentialWriter update after close dropped")
		return
	}
	w.pending = creds
	w.clear = clear
	w.dirty = true
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *credentialWriter) run() {
	defer close(w.done)
	for range w.kick {
		w.flush()
	}
	w.flush()
}

func (w *credentialWriter) flush() {
	w.mu.Lock()
	if !w.dirty {
		w.mu.Unlock()
		return
	}
	creds, clear := w.pending, w.clear
	w.dirty = false
	w.mu.Unlock()

	if clear {
		if err := w.store.Clear(); err != nil {
			log.Error().Err(err).Msg("session.credentialWriter clear failed")
		}
		return
	}
	err := w.store.Save(creds)
	observability.RecordCredentialSave(err == nil)
	if err != nil {
		// The session keeps running on the in-memory copy.
		log.Error().Err(err).Msg("session.credentialWriter save failed")
		return
	}
	log.Debug().Int("bytes", len(creds)).Msg("session.credentialWriter saved")
}

// Close stops accepting updates. The returned channel closes once every
// accepted update is on disk.
func (w *credentialWriter) Close() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.kick)
	}
	return w.done
}
