package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/abund-gatekeeper/internal/credential"
	"github.com/abund-gatekeeper/internal/metrics"
	"github.com/abund-gatekeeper/internal/model"
	"github.com/abund-gatekeeper/internal/privacy"
	"github.com/abund-gatekeeper/internal/store"
)

const (
	maxUserAgentBytes = 512
	redactedSegment   = "{redacted}"
)

// AuditOptions configures an AuditRecorder.
type AuditOptions struct {
	Sink      store.AuditSink
	Lookup    store.CredentialLookup
	Hasher    *privacy.Hasher
	ClientIP  ClientIPFunc
	Scheduler Scheduler
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// AuditRecorder appends one record per request to the audit sink. The
// write is scheduled after the response and never changes it.
type AuditRecorder struct {
	sink      store.AuditSink
	lookup    store.CredentialLookup
	hasher    *privacy.Hasher
	clientIP  ClientIPFunc
	scheduler Scheduler
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewAuditRecorder(opts AuditOptions) *AuditRecorder {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ClientIP == nil {
		opts.ClientIP = ClientIP(false)
	}
	return &AuditRecorder{
		sink:      opts.Sink,
		lookup:    opts.Lookup,
		hasher:    opts.Hasher,
		clientIP:  opts.ClientIP,
		scheduler: opts.Scheduler,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
}

// requestRecord is what the recorder captures before the request context
// goes away. It holds the raw IP only until the task hashes it.
type requestRecord struct {
	ip        string
	prefix    string
	method    string
	path      string
	status    int
	latency   time.Duration
	userAgent string
	requestID string
	at        time.Time
}

func (a *AuditRecorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := a.now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		rec := requestRecord{
			ip:        a.clientIP(r),
			method:    r.Method,
			path:      redactPath(r.URL.Path),
			status:    status,
			latency:   a.now().Sub(start),
			userAgent: truncateUTF8(r.UserAgent(), maxUserAgentBytes),
			requestID: chimw.GetReqID(r.Context()),
			at:        start.UTC(),
		}
		if token := extractBearerToken(r); credential.WellFormed(token) {
			rec.prefix = credential.LookupPrefix(token)
		}
		a.metrics.ObserveRequest(rec.method, rec.status, rec.latency)

		if a.scheduler == nil || a.sink == nil {
			return
		}
		if !a.scheduler.Submit("audit", func(ctx context.Context) error {
			return a.record(ctx, rec)
		}) {
			log.Warn().Str("request_id", rec.requestID).Msg("audit record dropped")
		}
	})
}

func (a *AuditRecorder) record(ctx context.Context, rec requestRecord) error {
	ipHash, err := a.hashIP(rec.ip, rec.at)
	if err != nil {
		return fmt.Errorf("hash ip: %w", err)
	}

	entry := &model.AuditEntry{
		ID:         newAuditID(),
		IPHash:     ipHash,
		Method:     rec.method,
		Path:       rec.path,
		AccountID:  a.accountID(ctx, rec.prefix),
		StatusCode: rec.status,
		LatencyMS:  rec.latency.Milliseconds(),
		UserAgent:  rec.userAgent,
		RequestID:  rec.requestID,
		CreatedAt:  rec.at,
	}
	if err := a.sink.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (a *AuditRecorder) hashIP(ip string, at time.Time) (string, error) {
	if a.hasher == nil {
		return "", errors.New("no ip hasher configured")
	}
	return a.hasher.AuditHashAt(ip, at)
}

// accountID is diagnostic only. The prefix is not verified against a
// digest, so the result must never authorize anything.
func (a *AuditRecorder) accountID(ctx context.Context, prefix string) *uuid.UUID {
	if prefix == "" || a.lookup == nil {
		return nil
	}
	id, err := a.lookup.AccountIDByPrefix(ctx, prefix)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Msg("audit account lookup failed")
		}
		return nil
	}
	return &id
}

func newAuditID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// redactPath masks path segments carrying a credential or claim code.
func redactPath(path string) string {
	if !strings.Contains(path, credential.Tag) {
		return path
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, credential.Tag) {
			segments[i] = redactedSegment
		}
	}
	return strings.Join(segments, "/")
}
