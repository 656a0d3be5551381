package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/abund-gatekeeper/internal/credential"
	"github.com/abund-gatekeeper/internal/metrics"
	"github.com/abund-gatekeeper/internal/model"
	"github.com/abund-gatekeeper/internal/service"
	"github.com/abund-gatekeeper/internal/store"
)

type contextKey string

const principalContextKey contextKey = "principal"

// GetPrincipal extracts the authenticated principal from the request
// context. It is nil for anonymous requests.
func GetPrincipal(ctx context.Context) *model.Principal {
	p, _ := ctx.Value(principalContextKey).(*model.Principal)
	return p
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// Scheduler runs fire-and-forget work off the request path.
type Scheduler interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

const (
	bearerHint    = "Send your API key as: Authorization: Bearer " + credential.Tag + "..."
	malformedHint = "API keys start with " + credential.Tag + " followed by 32 hex characters"
)

var (
	errAuthenticationRequired = service.NewUnauthorized("authentication_required", "Authentication required").WithHint(bearerHint)
	errMalformedCredential    = service.NewUnauthorized("malformed_credential", "Invalid API key format").WithHint(malformedHint)
	errInvalidCredential      = service.NewUnauthorized("invalid_credential", "Invalid API key")
	errAuthUnavailable        = service.NewUnavailable("service_unavailable", "Authentication is temporarily unavailable")
)

// AuthOptions configures an Authenticator.
type AuthOptions struct {
	Lookup    store.CredentialLookup
	Scheduler Scheduler
	// ClaimBaseURL is joined with the account claim code in 403 responses.
	ClaimBaseURL string
	// TouchLastUsed enables the background last_used_at update.
	TouchLastUsed bool
	// TouchLimiter, when set, sheds touches beyond its rate.
	TouchLimiter *rate.Limiter
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Authenticator resolves bearer credentials into principals.
type Authenticator struct {
	lookup        store.CredentialLookup
	scheduler     Scheduler
	claimBaseURL  string
	touchLastUsed bool
	touchLimiter  *rate.Limiter
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewAuthenticator(opts AuthOptions) *Authenticator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Authenticator{
		lookup:        opts.Lookup,
		scheduler:     opts.Scheduler,
		claimBaseURL:  strings.TrimRight(opts.ClaimBaseURL, "/"),
		touchLastUsed: opts.TouchLastUsed,
		touchLimiter:  opts.TouchLimiter,
		metrics:       opts.Metrics,
		now:           opts.Now,
	}
}

// Require rejects requests that do not carry a valid credential for a
// claimed account. Store failures fail closed.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.resolve(r)
		if err != nil {
			var svcErr *service.Error
			if !errors.As(err, &svcErr) {
				log.Error().Err(err).Str("path", r.URL.Path).Msg("credential lookup failed")
				a.metrics.AuthResult("unavailable")
				svcErr = errAuthUnavailable
			}
			service.RespondError(w, svcErr)
			return
		}
		a.metrics.AuthResult("ok")
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// Optional attaches a principal when the request carries a valid
// credential and otherwise continues anonymously.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.resolve(r)
		if err != nil {
			var svcErr *service.Error
			if !errors.As(err, &svcErr) {
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("optional credential lookup failed, continuing anonymously")
				a.metrics.AuthResult("unavailable")
			}
			next.ServeHTTP(w, r)
			return
		}
		a.metrics.AuthResult("ok")
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// resolve walks the credential state machine. It returns a *service.Error
// for caller mistakes and a plain error for infrastructure failures.
func (a *Authenticator) resolve(r *http.Request) (*model.Principal, error) {
	token := extractBearerToken(r)
	if token == "" {
		a.metrics.AuthResult("missing")
		return nil, errAuthenticationRequired
	}
	if !credential.WellFormed(token) {
		a.metrics.AuthResult("malformed")
		return nil, errMalformedCredential
	}

	match, err := verifyCredential(r.Context(), a.lookup, token)
	if err != nil {
		return nil, err
	}
	if match == nil {
		a.metrics.AuthResult("invalid")
		return nil, errInvalidCredential
	}

	a.scheduleTouch(match.Credential.ID)

	if !match.Account.IsClaimed {
		a.metrics.AuthResult("unclaimed")
		return nil, a.notClaimed(match.Account.ClaimCode)
	}
	return model.NewPrincipal(match), nil
}

// verifyCredential returns the record whose digest matches token, or nil.
// Every candidate sharing the prefix is compared so the work done does not
// depend on which one matches.
func verifyCredential(ctx context.Context, lookup store.CredentialLookup, token string) (*model.CredentialMatch, error) {
	candidates, err := lookup.FindCredentials(ctx, credential.LookupPrefix(token))
	if err != nil {
		return nil, err
	}

	digest := credential.Digest(token)
	var hit *model.CredentialMatch
	for i := range candidates {
		if credential.ConstantTimeEqual(digest, candidates[i].Credential.Digest) && hit == nil {
			hit = &candidates[i]
		}
	}
	return hit, nil
}

func (a *Authenticator) scheduleTouch(id uuid.UUID) {
	if !a.touchLastUsed || a.scheduler == nil {
		return
	}
	if a.touchLimiter != nil && !a.touchLimiter.Allow() {
		a.metrics.BackgroundTask("touch_credential", "shed")
		return
	}
	at := a.now().UTC()
	a.scheduler.Submit("touch_credential", func(ctx context.Context) error {
		return a.lookup.TouchCredential(ctx, id, at)
	})
}

func (a *Authenticator) notClaimed(claimCode string) *service.Error {
	err := service.NewForbidden("account_not_claimed", "This account has not been claimed yet")
	err.ClaimURL = a.claimBaseURL + "/" + claimCode
	err.Hint = "Open claim_url to verify ownership of this account"
	return err
}

// extractBearerToken matches the scheme case-insensitively (RFC 7235).
func extractBearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
