package server

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/HerbHall/counsellor/pkg/models"
	"golang.org/x/time/rate"
)

const (
	// maxTrackedClients triggers eviction of idle buckets.
	maxTrackedClients = 10000
	clientIdleAfter   = 30 * time.Minute
)

// RateLimitTier is a per-client token bucket applied to the requests it
// matches. A nil Match applies the tier to every request.
type RateLimitTier struct {
	Name  string
	RPS   float64
	Burst int
	Match func(r *http.Request) bool
}

// RateLimitMiddleware admits a request only when every matching tier has a
// token for the client. Tokens are taken from all tiers or none.
func RateLimitMiddleware(tiers ...RateLimitTier) Middleware {
	buckets := make([]*clientBuckets, len(tiers))
	for i, t := range tiers {
		buckets[i] = newClientBuckets(rate.Limit(t.RPS), t.Burst)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)
			now := time.Now()

			var held []*rate.Reservation
			release := func() {
				for _, res := range held {
					res.CancelAt(now)
				}
			}
			for i, t := range tiers {
				if t.Match != nil && !t.Match(r) {
					continue
				}
				res := buckets[i].get(client, now).ReserveN(now, 1)
				wait := time.Minute
				if res.OK() {
					held = append(held, res)
					if wait = res.DelayFrom(now); wait == 0 {
						continue
					}
				}
				release()
				rateLimited.WithLabelValues(t.Name).Inc()
				tooManyRequests(w, r, wait)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tooManyRequests(w http.ResponseWriter, r *http.Request, wait time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(max(int(math.Ceil(wait.Seconds())), 1)))
	models.WriteProblem(w, models.APIProblem{
		Type:     models.ProblemTypeRateLimited,
		Status:   http.StatusTooManyRequests,
		Detail:   "too many requests, please try again later",
		Instance: r.URL.Path,
		Code:     "RATE_LIMIT_EXCEEDED",
	})
}

// ExceptPaths matches every request whose path is not listed.
func ExceptPaths(paths ...string) func(*http.Request) bool {
	skip := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		skip[p] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := skip[r.URL.Path]
		return !ok
	}
}

// clientBuckets holds one limiter per client address.
type clientBuckets struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*bucket
}

type bucket struct {
	*rate.Limiter
	seen time.Time
}

func newClientBuckets(limit rate.Limit, burst int) *clientBuckets {
	return &clientBuckets{limit: limit, burst: burst, clients: make(map[string]*bucket)}
}

func (c *clientBuckets) get(client string, now time.Time) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.clients[client]
	if !ok {
		if len(c.clients) >= maxTrackedClients {
			c.evictIdle(now)
		}
		b = &bucket{Limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[client] = b
	}
	b.seen = now
	return b.Limiter
}

// evictIdle drops buckets unused for clientIdleAfter. c.mu must be held.
func (c *clientBuckets) evictIdle(now time.Time) {
	for k, b := range c.clients {
		if now.Sub(b.seen) > clientIdleAfter {
			delete(c.clients, k)
		}
	}
}
