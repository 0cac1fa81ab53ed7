package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/sirupsen/logrus"
)

// BotConfig tunes the bot-score heuristic.
type BotConfig struct {
	// Window is the sliding window for the request rate.
	Window time.Duration
	// RateThreshold is how many requests in Window count as machine speed.
	RateThreshold int
	// MinHumanGap is the shortest plausible gap between human requests.
	MinHumanGap time.Duration
	// DecayAfter consecutive normal requests lowers the score by one.
	DecayAfter int
	// MaxScore blocks the client; it is also the score forced by the
	// login API then login page sequence.
	MaxScore int
	// DelayThreshold is the score from which requests are slowed down.
	DelayThreshold int
	// DelayPerPoint is multiplied by the score to get the added latency.
	DelayPerPoint time.Duration
	// MaxClients bounds the number of tracked client IPs.
	MaxClients int
	// IdleTTL is how long an untouched client is kept by Cleanup.
	IdleTTL time.Duration

	LoginPath    string
	LoginAPIPath string
	AllowedPaths []string

	// TrustedProxies are CIDRs whose forwarding headers are believed.
	// Empty means the client is always RemoteAddr.
	TrustedProxies []string
}

// DefaultBotConfig returns the stock thresholds.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Window:         10 * time.Second,
		RateThreshold:  20,
		MinHumanGap:    250 * time.Millisecond,
		DecayAfter:     10,
		MaxScore:       10,
		DelayThreshold: 5,
		DelayPerPoint:  100 * time.Millisecond,
		MaxClients:     10000,
		IdleTTL:        10 * time.Minute,
		LoginPath:      "/login",
		LoginAPIPath:   "/api/login",
		AllowedPaths:   []string{"/robots.txt"},
	}
}

// Verdict is the outcome of scoring one request.
type Verdict struct {
	Allowed bool
	Scored  bool
	Score   int
	Delay   time.Duration
}

type clientState struct {
	requests    []time.Time
	score       int
	hitLoginAPI bool
	normalRun   int
	lastRequest time.Time
	lastSeen    time.Time
}

// BotScorer keeps a per-IP score. It is a best-effort heuristic held in
// process memory and is not shared between instances.
type BotScorer struct {
	config  BotConfig
	mu      sync.Mutex
	clients *lru.Cache[string, *clientState]
	proxies *ProxyResolver
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	metrics *observability.Metrics
	log     logrus.FieldLogger
}

// BotOption configures a BotScorer.
type BotOption func(*BotScorer)

// WithBotClock sets the scorer's time source.
func WithBotClock(now func() time.Time) BotOption {
	return func(b *BotScorer) { b.now = now }
}

// WithBotSleep replaces the delay implementation.
func WithBotSleep(sleep func(ctx context.Context, d time.Duration) error) BotOption {
	return func(b *BotScorer) { b.sleep = sleep }
}

// WithBotMetrics records blocks and delays.
func WithBotMetrics(m *observability.Metrics) BotOption {
	return func(b *BotScorer) { b.metrics = m }
}

// WithBotLogger sets the scorer's logger.
func WithBotLogger(log logrus.FieldLogger) BotOption {
	return func(b *BotScorer) { b.log = log }
}

// NewBotScorer creates a scorer. Zero config fields take the defaults.
func NewBotScorer(config BotConfig, opts ...BotOption) (*BotScorer, error) {
	config = withBotDefaults(config)

	clients, err := lru.New[string, *clientState](config.MaxClients)
	if err != nil {
		return nil, err
	}

	proxies, err := NewProxyResolver(config.TrustedProxies)
	if err != nil {
		return nil, err
	}

	b := &BotScorer{
		config:  config,
		clients: clients,
		proxies: proxies,
		now:     time.Now,
		sleep:   sleepContext,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func withBotDefaults(c BotConfig) BotConfig {
	d := DefaultBotConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.RateThreshold <= 0 {
		c.RateThreshold = d.RateThreshold
	}
	if c.MinHumanGap <= 0 {
		c.MinHumanGap = d.MinHumanGap
	}
	if c.DecayAfter <= 0 {
		c.DecayAfter = d.DecayAfter
	}
	if c.MaxScore <= 0 {
		c.MaxScore = d.MaxScore
	}
	if c.DelayThreshold <= 0 {
		c.DelayThreshold = d.DelayThreshold
	}
	if c.DelayPerPoint <= 0 {
		c.DelayPerPoint = d.DelayPerPoint
	}
	if c.MaxClients <= 0 {
		c.MaxClients = d.MaxClients
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = d.IdleTTL
	}
	if c.LoginPath == "" {
		c.LoginPath = d.LoginPath
	}
	if c.LoginAPIPath == "" {
		c.LoginAPIPath = d.LoginAPIPath
	}
	if c.AllowedPaths == nil {
		c.AllowedPaths = d.AllowedPaths
	}
	return c
}

// Observe scores one request from ip.
func (b *BotScorer) Observe(ip, method, path string) Verdict {
	for _, allowed := range b.config.AllowedPaths {
		if path == allowed {
			return Verdict{Allowed: true}
		}
	}

	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if strings.HasPrefix(path, "/static/") || strings.HasPrefix(path, "/api/") {
		if method == http.MethodPost && path == b.config.LoginAPIPath {
			state := b.state(ip)
			state.hitLoginAPI = true
			state.lastSeen = now
		}
		return Verdict{Allowed: true}
	}

	state := b.state(ip)

	gap := b.config.MinHumanGap
	if !state.lastRequest.IsZero() {
		gap = now.Sub(state.lastRequest)
	}

	cutoff := now.Add(-b.config.Window)
	kept := state.requests[:0]
	for _, ts := range state.requests {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	state.requests = append(kept, now)

	if len(state.requests) > b.config.RateThreshold && gap < b.config.MinHumanGap {
		if state.score < b.config.MaxScore {
			state.score++
		}
		state.normalRun = 0
	} else {
		state.normalRun++
		if state.normalRun >= b.config.DecayAfter {
			if state.score > 0 {
				state.score--
			}
			state.normalRun = 0
		}
	}

	if state.hitLoginAPI && path == b.config.LoginPath {
		state.score = b.config.MaxScore
	}
	state.lastRequest = now
	state.lastSeen = now

	v := Verdict{Allowed: true, Scored: true, Score: state.score}
	if state.score >= b.config.MaxScore {
		v.Allowed = false
	} else if state.score >= b.config.DelayThreshold {
		v.Delay = time.Duration(state.score) * b.config.DelayPerPoint
	}
	return v
}

// state returns the entry for ip, creating it. Caller holds b.mu.
func (b *BotScorer) state(ip string) *clientState {
	state, ok := b.clients.Get(ip)
	if !ok {
		state = &clientState{}
		b.clients.Add(ip, state)
	}
	return state
}

// Score returns the current score for ip.
func (b *BotScorer) Score(ip string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if state, ok := b.clients.Peek(ip); ok {
		return state.score
	}
	return 0
}

// Len returns the number of tracked clients.
func (b *BotScorer) Len() int {
	return b.clients.Len()
}

// Cleanup drops clients idle for longer than IdleTTL and returns how many
// were removed.
func (b *BotScorer) Cleanup() int {
	cutoff := b.now().Add(-b.config.IdleTTL)

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for _, ip := range b.clients.Keys() {
		state, ok := b.clients.Peek(ip)
		if !ok {
			continue
		}
		if state.lastSeen.Before(cutoff) {
			b.clients.Remove(ip)
			removed++
		}
	}
	b.metrics.SetBotTrackedClients(b.clients.Len())
	return removed
}

// Handler blocks clients at the maximum score and delays suspicious ones.
func (b *BotScorer) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := contextkeys.GetClientIP(r.Context())
		if ip == "" {
			ip = b.proxies.Resolve(r)
			r = r.WithContext(contextkeys.WithClientIP(r.Context(), ip))
		}
		v := b.Observe(ip, r.Method, r.URL.Path)

		if !v.Allowed {
			b.metrics.RecordBotBlocked()
			observability.FromContext(r.Context()).WithFields(logrus.Fields{
				"client_ip": ip,
				"score":     v.Score,
				"path":      r.URL.Path,
			}).Warn("blocked suspected bot")
			httputil.WriteForbidden(w, "Access denied")
			return
		}

		if v.Delay > 0 {
			b.metrics.RecordBotDelay(v.Delay)
			if err := b.sleep(r.Context(), v.Delay); err != nil {
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
