// Package lifecycle tracks in-flight requests per identity and enforces the
// single-active-request rule: beginning a new request synchronously cancels
// and detaches its predecessor so late events from the stale request cannot
// be mistaken for the new one's.
package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
)

// Token is the cancellation handle bound 1:1 to one in-flight request.
// Cancellation propagates through Context's Done channel.
type Token struct {
	identity string
	ctx      context.Context
	cancel   context.CancelFunc

	superseded atomic.Bool
	detachOnce sync.Once
	manager    *Manager
}

// Context returns the request-scoped context. It is cancelled when the token
// is superseded, explicitly cancelled, or detached.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Superseded reports whether a newer request for the same identity displaced
// this token. Superseded requests resolve silently.
func (t *Token) Superseded() bool {
	return t.superseded.Load()
}

// Detach releases the token on natural completion. Detaching a token that is
// no longer current is a no-op.
func (t *Token) Detach() {
	t.detachOnce.Do(func() {
		t.cancel()
		if t.manager != nil {
			t.manager.drop(t.identity, t)
		}
	})
}

// Manager is the per-process request registry. At most one active token
// exists per identity at any time.
type Manager struct {
	mu     sync.Mutex
	active map[string]*Token
	wg     sync.WaitGroup
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{active: make(map[string]*Token)}
}

// Begin registers a new request for identity, cancelling and detaching any
// existing token for it before returning. The old token observes
// Superseded() == true before its context is cancelled.
func (m *Manager) Begin(parent context.Context, identity string) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	token := &Token{
		identity: identity,
		ctx:      ctx,
		cancel:   cancel,
		manager:  m,
	}

	m.mu.Lock()
	old := m.active[identity]
	m.active[identity] = token
	m.wg.Add(1)
	m.mu.Unlock()

	if old != nil {
		old.superseded.Store(true)
		old.Detach()
	}
	return token
}

// CancelCurrent aborts the in-flight request for identity, if any. Calling
// it again without an intervening Begin is a no-op.
func (m *Manager) CancelCurrent(identity string) {
	m.mu.Lock()
	token := m.active[identity]
	m.mu.Unlock()

	if token != nil {
		token.Detach()
	}
}

// IsActive reports whether identity has an in-flight request.
func (m *Manager) IsActive(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[identity] != nil
}

// drop removes token from tracking if it is still the current one for its
// identity. Guards the race where two cancellations arrive for the same
// logical request.
func (m *Manager) drop(identity string, token *Token) {
	m.mu.Lock()
	if m.active[identity] == token {
		delete(m.active, identity)
	}
	m.mu.Unlock()
	m.wg.Done()
}

// CancelAll aborts every in-flight request. Used during shutdown.
func (m *Manager) CancelAll() (cancelled int) {
	m.mu.Lock()
	tokens := make([]*Token, 0, len(m.active))
	for _, t := range m.active {
		tokens = append(tokens, t)
	}
	m.mu.Unlock()

	for _, t := range tokens {
		t.Detach()
		cancelled++
	}
	return cancelled
}

// Wait blocks until every begun request has detached, or ctx expires.
func (m *Manager) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()

	if ctx == nil {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Draining is a tiny process lifecycle flag shared across handlers, used for
// readiness draining during graceful shutdown.
type Draining struct {
	draining atomic.Bool
}

func (d *Draining) Set(draining bool) {
	if d == nil {
		return
	}
	d.draining.Store(draining)
}

func (d *Draining) IsDraining() bool {
	if d == nil {
		return false
	}
	return d.draining.Load()
}
