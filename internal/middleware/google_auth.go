package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog/log"

	"github.com/abund-gatekeeper/internal/service"
)

type adminEmailKey struct{}

// GetAdminEmail extracts the authenticated admin email from the request context.
func GetAdminEmail(ctx context.Context) string {
	email, _ := ctx.Value(adminEmailKey{}).(string)
	return email
}

// IDClaims holds the verified claims from a Google ID token.
type IDClaims struct {
	Email         string
	EmailVerified bool
	HD            string
}

// TokenVerifier verifies an ID token and returns its claims.
type TokenVerifier interface {
	VerifyClaims(ctx context.Context, rawToken string) (*IDClaims, error)
}

// googleTokenVerifier implements TokenVerifier using go-oidc.
type googleTokenVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (v *googleTokenVerifier) VerifyClaims(ctx context.Context, rawToken string) (*IDClaims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		HD            string `json:"hd"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}

	return &IDClaims{
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		HD:            claims.HD,
	}, nil
}

// GoogleAuth verifies Google ID tokens and enforces domain + email allowlist restrictions.
type GoogleAuth struct {
	verifier      TokenVerifier
	allowedDomain string
	allowedEmails map[string]struct{}
}

// NewGoogleAuth creates a GoogleAuth middleware that verifies tokens against Google's JWKS.
// It must be called at server startup (it fetches Google's OIDC discovery document).
func NewGoogleAuth(clientID, allowedDomain string, allowedEmails []string) (*GoogleAuth, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
	if err != nil {
		return nil, fmt.Errorf("create Google OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: clientID,
	})

	return NewGoogleAuthWithVerifier(&googleTokenVerifier{verifier: verifier}, allowedDomain, allowedEmails), nil
}

// NewGoogleAuthWithVerifier creates a GoogleAuth with a custom TokenVerifier.
func NewGoogleAuthWithVerifier(verifier TokenVerifier, allowedDomain string, allowedEmails []string) *GoogleAuth {
	emailSet := make(map[string]struct{}, len(allowedEmails))
	for _, e := range allowedEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			emailSet[e] = struct{}{}
		}
	}

	return &GoogleAuth{
		verifier:      verifier,
		allowedDomain: allowedDomain,
		allowedEmails: emailSet,
	}
}

const adminTokenHint = "Send a Google ID token as: Authorization: Bearer <id_token>"

var (
	errAdminTokenMissing    = service.NewUnauthorized("unauthorized", "Missing authorization token").WithHint(adminTokenHint)
	errAdminTokenInvalid    = service.NewUnauthorized("unauthorized", "Invalid ID token")
	errAdminEmailUnverified = service.NewForbidden("forbidden", "Email not verified")
	errAdminDomain          = service.NewForbidden("forbidden", "Domain not allowed")
	errAdminNotAllowed      = service.NewForbidden("forbidden", "User not authorized")
)

// Middleware authenticates admin requests via Google ID tokens. Brute-force
// protection is left to the per-IP limiter mounted in front of it.
func (g *GoogleAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, err := g.authorize(r)
		if err != nil {
			log.Warn().Str("path", r.URL.Path).Str("code", err.Code).Msg(err.Message)
			service.RespondError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), adminEmailKey{}, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *GoogleAuth) authorize(r *http.Request) (string, *service.Error) {
	token := extractBearerToken(r)
	if token == "" {
		return "", errAdminTokenMissing
	}

	claims, err := g.verifier.VerifyClaims(r.Context(), token)
	if err != nil {
		return "", errAdminTokenInvalid
	}
	if !claims.EmailVerified {
		return "", errAdminEmailUnverified
	}
	if claims.HD != g.allowedDomain {
		return "", errAdminDomain
	}
	if _, ok := g.allowedEmails[strings.ToLower(claims.Email)]; !ok {
		return "", errAdminNotAllowed
	}
	return claims.Email, nil
}
