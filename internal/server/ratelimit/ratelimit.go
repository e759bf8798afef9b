// Package ratelimit provides per-client, per-endpoint rate limiting backed by
// golang.org/x/time/rate token buckets.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Info contains information about rate limit status.
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	burst    int
	lastSeen time.Time
}

// Limiter manages rate limiting for multiple clients.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry // client:endpoint:method -> limiter
	config  *Config
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLimiter creates a new rate limiter with the given configuration. A nil config
// enables limiting at 2 requests per second with a burst of 5.
func NewLimiter(config *Config) *Limiter {
	if config == nil {
		config = &Config{
			Enabled:         true,
			DefaultRPS:      2,
			DefaultBurst:    5,
			CleanupInterval: 5 * time.Minute,
			IdleTTL:         time.Hour,
		}
	}

	l := &Limiter{
		entries: make(map[string]*entry),
		config:  config,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	if config.Enabled && config.CleanupInterval > 0 {
		go l.cleanupLoop(config.CleanupInterval)
	}
	return l
}

// Allow checks if a request from the given client is allowed for the specified endpoint.
// Returns true if allowed, false if rate limited, along with rate limit information.
func (l *Limiter) Allow(clientID string, endpoint string, method string) (bool, Info) {
	if !l.config.Enabled || l.config.Whitelist[clientID] {
		return true, Info{Allowed: true}
	}
	if l.config.Blacklist[clientID] {
		return false, Info{Allowed: false}
	}

	limit, burst, key := l.resolve(endpoint, method)
	if limit == 0 {
		return true, Info{Allowed: true}
	}

	now := l.now()
	l.mu.Lock()
	e, ok := l.entries[clientID+":"+key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(limit, burst), burst: burst}
		l.entries[clientID+":"+key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	allowed := e.limiter.AllowN(now, 1)
	tokens := e.limiter.TokensAt(now)

	info := Info{
		Allowed:   allowed,
		Limit:     burst,
		Remaining: max(0, int(math.Floor(tokens))),
		ResetTime: now.Add(untilTokens(float64(burst)-tokens, limit)),
	}
	if !allowed {
		info.RetryAfter = untilTokens(1-tokens, limit)
	}
	return allowed, info
}

// resolve returns the rate and burst for a request, and the key its limiter is
// stored under. A zero rate means unlimited.
func (l *Limiter) resolve(endpoint, method string) (rate.Limit, int, string) {
	ep := MatchEndpoint(endpoint, method, l.config.EndpointConfigs)
	if ep == nil {
		if l.config.DefaultRPS <= 0 {
			return 0, 0, ""
		}
		burst := l.config.DefaultBurst
		if burst <= 0 {
			burst = int(math.Ceil(l.config.DefaultRPS))
		}
		return rate.Limit(l.config.DefaultRPS), burst, "*:" + method
	}
	if ep.Limit <= 0 || ep.Window <= 0 {
		return 0, 0, ""
	}
	burst := ep.Burst
	if burst <= 0 {
		burst = ep.Limit
	}
	return rate.Limit(float64(ep.Limit) / ep.Window.Seconds()), burst, ep.Path + ":" + method
}

func untilTokens(deficit float64, limit rate.Limit) time.Duration {
	if deficit <= 0 || limit <= 0 {
		return 0
	}
	return time.Duration(deficit / float64(limit) * float64(time.Second))
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup(l.now())
		case <-l.stop:
			return
		}
	}
}

// cleanup removes limiters that have been idle longer than the configured TTL.
func (l *Limiter) cleanup(now time.Time) {
	ttl := l.config.IdleTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	cutoff := now.Add(-ttl)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

// Len returns the number of tracked limiters
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
