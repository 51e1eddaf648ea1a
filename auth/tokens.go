package auth

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTokenTTL      = 10 * time.Minute
	defaultTokenCapacity = 1024
)

// TokenPool issues single-use correlation tokens for signed hub handshakes.
// The pool is shared mutable process state: issuance, validation and
// consumption are safe under concurrent handshakes. Tokens expire after the
// TTL; once the pool exceeds capacity the oldest token is evicted first.
type TokenPool struct {
	ttl      time.Duration
	capacity int
	nowFn    func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type tokenEntry struct {
	token    string
	issuedAt time.Time
}

// NewTokenPool builds a pool with the provided TTL and capacity; zero values
// select the defaults.
func NewTokenPool(ttl time.Duration, capacity int) *TokenPool {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	if capacity <= 0 {
		capacity = defaultTokenCapacity
	}
	return &TokenPool{
		ttl:      ttl,
		capacity: capacity,
		nowFn:    time.Now,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// SetNowFunc overrides the clock, for deterministic tests.
func (p *TokenPool) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	p.mu.Lock()
	p.nowFn = now
	p.mu.Unlock()
}

// Generate issues a fresh token, pruning expired entries and evicting the
// oldest token when the pool is over capacity.
func (p *TokenPool) Generate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.nowFn()
	p.evictExpired(now.Add(-p.ttl))
	for p.order.Len() >= p.capacity {
		p.removeOldest()
	}
	token := uuid.NewString()
	elem := p.order.PushBack(&tokenEntry{token: token, issuedAt: now})
	p.entries[token] = elem
	return token
}

// Valid reports whether token is live in the pool without consuming it.
func (p *TokenPool) Valid(token string) bool {
	if token == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictExpired(p.nowFn().Add(-p.ttl))
	_, ok := p.entries[token]
	return ok
}

// Consume removes token from the pool after a completed handshake so it
// cannot correlate a second one.
func (p *TokenPool) Consume(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if elem, ok := p.entries[token]; ok {
		p.order.Remove(elem)
		delete(p.entries, token)
	}
}

// Len returns the live token count.
func (p *TokenPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictExpired(p.nowFn().Add(-p.ttl))
	return p.order.Len()
}

func (p *TokenPool) evictExpired(cutoff time.Time) {
	for {
		front := p.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(*tokenEntry)
		if entry.issuedAt.After(cutoff) {
			return
		}
		p.order.Remove(front)
		delete(p.entries, entry.token)
	}
}

func (p *TokenPool) removeOldest() {
	front := p.order.Front()
	if front == nil {
		return
	}
	entry := front.Value.(*tokenEntry)
	p.order.Remove(front)
	delete(p.entries, entry.token)
}
