// Package ratelimit is a single-process, identity-keyed limiter. Each caller
// identity gets a token bucket for request admission plus two concurrency
// caps: total in-flight requests and open streaming responses.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentRequests int
	MaxConcurrentStreams  int

	// Bounds for the in-memory identity map.
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*identityState
}

type identityState struct {
	mu sync.Mutex

	tokens float64
	filled bool
	last   time.Time

	reqSem    chan struct{}
	streamSem chan struct{}

	lastSeen time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*identityState),
	}
}

// Permit releases a concurrency slot. Release is idempotent.
type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int // seconds; 0 when unknown
	Permit     *Permit
}

// AcquireRequest admits one request for the identity: token bucket first,
// then the in-flight concurrency cap. The returned permit must be released
// when the request finishes.
func (l *Limiter) AcquireRequest(identity string, now time.Time) Decision {
	st := l.state(identity, now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		if ok, retryAfter := st.take(now, l.cfg.RPS, l.cfg.Burst); !ok {
			return Decision{Allowed: false, RetryAfter: retryAfter}
		}
	}
	return acquireSlot(st.reqSem, l.cfg.MaxConcurrentRequests)
}

// AcquireStream admits one streaming response for the identity. Streams are
// capped separately from requests because an SSE response can outlive its
// admission by minutes.
func (l *Limiter) AcquireStream(identity string, now time.Time) Decision {
	st := l.state(identity, now)
	return acquireSlot(st.streamSem, l.cfg.MaxConcurrentStreams)
}

func acquireSlot(sem chan struct{}, limit int) Decision {
	if limit <= 0 {
		return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
	}
	select {
	case sem <- struct{}{}:
		return Decision{
			Allowed: true,
			Permit:  &Permit{release: func() { <-sem }},
		}
	default:
		return Decision{Allowed: false, RetryAfter: 1}
	}
}

func (l *Limiter) state(identity string, now time.Time) *identityState {
	if identity == "" {
		identity = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) >= l.cfg.MaxEntries {
		l.evictLocked(now)
		// Still full after TTL eviction: drop an arbitrary entry. Bounded
		// memory beats perfect fairness here.
		if len(l.buckets) >= l.cfg.MaxEntries {
			for k := range l.buckets {
				delete(l.buckets, k)
				break
			}
		}
	}

	if st, ok := l.buckets[identity]; ok {
		st.lastSeen = now
		return st
	}
	st := &identityState{
		reqSem:    make(chan struct{}, semCap(l.cfg.MaxConcurrentRequests)),
		streamSem: make(chan struct{}, semCap(l.cfg.MaxConcurrentStreams)),
		lastSeen:  now,
	}
	l.buckets[identity] = st
	return st
}

func (l *Limiter) evictLocked(now time.Time) {
	for k, st := range l.buckets {
		if now.Sub(st.lastSeen) > l.cfg.EntryTTL {
			delete(l.buckets, k)
		}
	}
}

// take spends one token, refilling at rps up to burst. On refusal it reports
// how long until a token becomes available, rounded up to whole seconds.
func (st *identityState) take(now time.Time, rps float64, burst int) (bool, int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	capacity := float64(burst)
	if !st.filled {
		st.tokens = capacity
		st.last = now
		st.filled = true
	}

	if elapsed := now.Sub(st.last).Seconds(); elapsed > 0 {
		st.tokens = math.Min(capacity, st.tokens+elapsed*rps)
		st.last = now
	}

	if st.tokens >= 1.0 {
		st.tokens -= 1.0
		return true, 0
	}

	retryAfter := int(math.Ceil((1.0 - st.tokens) / rps))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

func semCap(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
