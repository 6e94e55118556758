package rpc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PeerLimiter keeps one token bucket per terminal address. Buckets not used
// for the idle period are dropped.
type PeerLimiter struct {
	mu        sync.Mutex
	peers     map[string]*peerBucket
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type peerBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPeerLimiter allows each peer perSecond sustained calls with the given
// burst.
func NewPeerLimiter(perSecond float64, burst int, idle time.Duration) *PeerLimiter {
	return &PeerLimiter{
		peers: make(map[string]*peerBucket),
		limit: rate.Limit(perSecond),
		burst: burst,
		idle:  idle,
		now:   time.Now,
	}
}

// Allow reports whether peer may make a call now.
func (l *PeerLimiter) Allow(peer string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.idle > 0 && now.Sub(l.lastSweep) >= l.idle {
		l.evict(now)
		l.lastSweep = now
	}

	b, ok := l.peers[peer]
	if !ok {
		b = &peerBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.peers[peer] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *PeerLimiter) evict(now time.Time) {
	for peer, b := range l.peers {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.peers, peer)
		}
	}
}

// Len returns the number of tracked peers.
func (l *PeerLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}
