package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/abund-gatekeeper/internal/cache"
	"github.com/abund-gatekeeper/internal/credential"
	"github.com/abund-gatekeeper/internal/metrics"
	"github.com/abund-gatekeeper/internal/privacy"
	"github.com/abund-gatekeeper/internal/quota"
	"github.com/abund-gatekeeper/internal/service"
	"github.com/abund-gatekeeper/internal/store"
)

const (
	headerLimit     = "X-RateLimit-Limit"
	headerRemaining = "X-RateLimit-Remaining"
	headerWindow    = "X-RateLimit-Window"
	headerBypass    = "X-RateLimit-Bypass"

	// callerKeyLength is how much of the credential digest names a counter.
	callerKeyLength = 16
)

// QuotaOptions configures a QuotaEnforcer.
type QuotaOptions struct {
	// Cache holds the counters. A nil cache disables enforcement.
	Cache cache.Cache
	Table *quota.Table
	// Lookup verifies bypass credentials on the pre-authentication pass.
	Lookup   store.CredentialLookup
	Hasher   *privacy.Hasher
	ClientIP ClientIPFunc
	// Enforce is false outside production; requests then pass with a
	// diagnostic header.
	Enforce bool
	// Timeout bounds each cache read and write. Defaults to cache.DefaultTimeout.
	Timeout time.Duration
	// Scheduler takes counter writes off the request path. Without one the
	// write runs inline, still bounded by Timeout.
	Scheduler Scheduler
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// QuotaEnforcer applies the route quota table against counters held in the
// shared cache. It fails open when the cache misbehaves.
type QuotaEnforcer struct {
	cache     cache.Cache
	table     *quota.Table
	lookup    store.CredentialLookup
	hasher    *privacy.Hasher
	clientIP  ClientIPFunc
	enforce   bool
	timeout   time.Duration
	scheduler Scheduler
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewQuotaEnforcer(opts QuotaOptions) *QuotaEnforcer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ClientIP == nil {
		opts.ClientIP = ClientIP(false)
	}
	if opts.Table == nil {
		opts.Table = quota.MustCompile(quota.DefaultRules(), quota.DefaultFallback())
	}
	if opts.Timeout <= 0 {
		opts.Timeout = cache.DefaultTimeout
	}
	return &QuotaEnforcer{
		cache:     opts.Cache,
		table:     opts.Table,
		lookup:    opts.Lookup,
		hasher:    opts.Hasher,
		clientIP:  opts.ClientIP,
		enforce:   opts.Enforce,
		timeout:   opts.Timeout,
		scheduler: opts.Scheduler,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
}

// Middleware enforces the rules of one scope. The ip pass runs before
// authentication and the credential pass after it.
func (q *QuotaEnforcer) Middleware(scope quota.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			match := q.table.Match(r.Method, r.URL.Path)
			if match.Rule.Scope != scope {
				next.ServeHTTP(w, r)
				return
			}
			q.serve(w, r, next, scope, match)
		})
	}
}

func (q *QuotaEnforcer) serve(w http.ResponseWriter, r *http.Request, next http.Handler, scope quota.Scope, match quota.Match) {
	label := string(scope)
	if q.cache == nil {
		q.metrics.QuotaDecision(label, "disabled")
		next.ServeHTTP(w, r)
		return
	}
	if !q.enforce {
		q.metrics.QuotaDecision(label, "disabled")
		w.Header().Set(headerBypass, "environment")
		next.ServeHTTP(w, r)
		return
	}
	if q.bypassed(r, scope) {
		q.metrics.QuotaDecision(label, "bypass")
		next.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	rule := match.Rule
	window := quota.EffectiveWindow(rule.Window, q.cache.MinTTL())
	key := quota.Key(q.callerID(r, scope), r.Method, match.Route)
	now := q.now()

	counter, err := q.load(ctx, key, now, window)
	if err != nil {
		log.Error().Err(err).Str("route", match.Route).Msg("quota counter read failed, allowing request")
		q.metrics.CacheError("get")
		q.metrics.QuotaDecision(label, "fail_open")
		next.ServeHTTP(w, r)
		return
	}

	if counter.Count >= rule.Points {
		wait := counter.RetryAfter(now, window)
		q.metrics.QuotaDecision(label, "rejected")
		respondRateLimited(w, rule, wait)
		return
	}

	w.Header().Set(headerLimit, strconv.Itoa(rule.Points))
	w.Header().Set(headerRemaining, strconv.Itoa(rule.Points-counter.Count-1))
	w.Header().Set(headerWindow, strconv.Itoa(int(window/time.Second)))
	q.metrics.QuotaDecision(label, "allowed")

	ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
	next.ServeHTTP(ww, r)

	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	if status < 200 || status > 299 {
		return
	}

	counter.Count++
	ttl := counter.TTL(q.now(), window, q.cache.MinTTL())
	q.save(context.WithoutCancel(ctx), match.Route, key, counter.Encode(), ttl)
}

// save writes the counter through the scheduler when there is one. A
// write that fails or cannot be queued leaves the old count in place.
func (q *QuotaEnforcer) save(ctx context.Context, route, key, value string, ttl time.Duration) {
	put := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, q.timeout)
		defer cancel()
		if err := q.cache.Put(ctx, key, value, ttl); err != nil {
			log.Error().Err(err).Str("route", route).Msg("quota counter write failed")
			q.metrics.CacheError("put")
			return err
		}
		return nil
	}

	if q.scheduler == nil {
		put(ctx)
		return
	}
	if !q.scheduler.Submit("quota_counter", put) {
		log.Warn().Str("route", route).Msg("background queue full, quota counter write dropped")
		q.metrics.CacheError("put")
	}
}

// load reads the counter for key, starting a fresh window when none is
// cached or the cached one has run out. Undecodable entries are replaced.
func (q *QuotaEnforcer) load(ctx context.Context, key string, now time.Time, window time.Duration) (quota.Counter, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	raw, ok, err := q.cache.Get(ctx, key)
	if err != nil {
		return quota.Counter{}, err
	}
	if !ok {
		return quota.Fresh(now), nil
	}
	counter, err := quota.Decode(raw)
	if err != nil {
		log.Warn().Err(err).Msg("discarding corrupt quota counter")
		return quota.Fresh(now), nil
	}
	if counter.Elapsed(now, window) {
		return quota.Fresh(now), nil
	}
	return counter, nil
}

// bypassed reports whether the caller holds a verified bypass credential.
// After authentication the principal carries the flag; before it the
// credential is verified here.
func (q *QuotaEnforcer) bypassed(r *http.Request, scope quota.Scope) bool {
	if p := GetPrincipal(r.Context()); p != nil {
		return p.BypassQuota
	}
	if scope != quota.ScopeIP || q.lookup == nil {
		return false
	}

	token := extractBearerToken(r)
	if !credential.WellFormed(token) {
		return false
	}
	match, err := verifyCredential(r.Context(), q.lookup, token)
	if err != nil {
		log.Warn().Err(err).Msg("bypass lookup failed, enforcing quota")
		return false
	}
	return match != nil && match.Credential.BypassQuota
}

// callerID names the counter owner: a digest fragment for authenticated
// callers on credential routes, a keyed IP hash otherwise.
func (q *QuotaEnforcer) callerID(r *http.Request, scope quota.Scope) string {
	if scope == quota.ScopeCredential && GetPrincipal(r.Context()) != nil {
		if token := extractBearerToken(r); token != "" {
			return "k:" + credential.Digest(token)[:callerKeyLength]
		}
	}
	ip := q.clientIP(r)
	if q.hasher == nil {
		return "ip:" + credential.Digest(ip)[:callerKeyLength]
	}
	return "ip:" + q.hasher.QuotaHash(ip)
}

func respondRateLimited(w http.ResponseWriter, rule quota.Rule, wait time.Duration) {
	w.Header().Set(headerLimit, strconv.Itoa(rule.Points))
	w.Header().Set(headerRemaining, "0")
	service.RespondError(w, service.NewTooManyRequests(
		quota.LimitMessage(rule.Points, rule.Window, wait),
		quota.LimitHint(wait),
		wait,
	))
}
