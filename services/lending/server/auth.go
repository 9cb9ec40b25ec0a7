package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"lendcore/crypto"
	"lendcore/native/lending"
	"lendcore/observability/logging"
)

// AuthConfig lists the authenticators accepted by the API. Every accepted
// credential resolves to the address that becomes the caller of the
// request.
type AuthConfig struct {
	// HMACSecret verifies bearer JWTs; the subject claim is the caller.
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
	// APITokens maps static tokens to caller addresses.
	APITokens map[string]string
	// AllowedClientCNs lists client certificate common names (addresses)
	// accepted as callers on mutual TLS connections.
	AllowedClientCNs []string
}

type authContextKey struct{}

// Authenticator resolves request credentials to a caller address.
type Authenticator struct {
	secret      []byte
	issuer      string
	audience    string
	skew        time.Duration
	tokens      map[string]crypto.Address
	commonNames map[string]crypto.Address
	logger      *slog.Logger
}

// NewAuthenticator validates cfg. Token and common name values must parse as
// addresses.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Authenticator{
		secret:      []byte(strings.TrimSpace(cfg.HMACSecret)),
		issuer:      strings.TrimSpace(cfg.Issuer),
		audience:    strings.TrimSpace(cfg.Audience),
		skew:        cfg.ClockSkew,
		tokens:      make(map[string]crypto.Address),
		commonNames: make(map[string]crypto.Address),
		logger:      logger,
	}
	if a.skew <= 0 {
		a.skew = 2 * time.Minute
	}
	for token, raw := range cfg.APITokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("api token %s: %w", logging.MaskValue(token), err)
		}
		a.tokens[token] = addr
	}
	for _, name := range cfg.AllowedClientCNs {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		addr, err := crypto.ParseAddress(name)
		if err != nil {
			return nil, fmt.Errorf("client common name %q: %w", name, err)
		}
		a.commonNames[name] = addr
	}
	return a, nil
}

// Enabled reports whether any authenticator is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && (len(a.secret) > 0 || len(a.tokens) > 0 || len(a.commonNames) > 0)
}

// Middleware attaches the caller to the request context. Presented but
// invalid credentials are always rejected; missing credentials are rejected
// only when required is set.
func (a *Authenticator) Middleware(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, presented, err := a.authenticate(r)
			if err != nil {
				a.logger.Warn("authentication failed", "route", r.URL.Path, "error", err)
				writeJSON(w, http.StatusUnauthorized, apiError{Code: "unauthenticated", Message: "invalid credentials"})
				return
			}
			if !presented {
				if required {
					writeJSON(w, http.StatusUnauthorized, apiError{Code: "unauthenticated", Message: "authentication required"})
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			ctx := lending.WithSender(r.Context(), caller)
			ctx = context.WithValue(ctx, authContextKey{}, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireCaller rejects requests that carry no authenticated caller.
func requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := Caller(r.Context()); !ok {
			writeJSON(w, http.StatusUnauthorized, apiError{Code: "unauthenticated", Message: "authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Caller returns the authenticated address of the request, if any.
func Caller(ctx context.Context) (crypto.Address, bool) {
	if ctx == nil {
		return crypto.Address{}, false
	}
	addr, ok := ctx.Value(authContextKey{}).(crypto.Address)
	return addr, ok
}

func (a *Authenticator) authenticate(r *http.Request) (crypto.Address, bool, error) {
	if token := parseBearerToken(r.Header.Get("Authorization")); token != "" {
		if addr, ok := a.tokens[token]; ok {
			return addr, true, nil
		}
		addr, err := a.parseJWT(token)
		return addr, true, err
	}
	if token := strings.TrimSpace(r.Header.Get("X-API-Token")); token != "" {
		addr, ok := a.tokens[token]
		if !ok {
			return crypto.Address{}, true, errors.New("unknown api token")
		}
		return addr, true, nil
	}
	if r.TLS != nil && len(a.commonNames) > 0 {
		for _, chain := range r.TLS.VerifiedChains {
			if len(chain) == 0 {
				continue
			}
			if addr, ok := a.commonNames[strings.TrimSpace(chain[0].Subject.CommonName)]; ok {
				return addr, true, nil
			}
		}
	}
	return crypto.Address{}, false, nil
}

func (a *Authenticator) parseJWT(raw string) (crypto.Address, error) {
	if len(a.secret) == 0 {
		return crypto.Address{}, errors.New("jwt secret not configured")
	}
	opts := []jwt.ParserOption{jwt.WithLeeway(a.skew), jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return crypto.Address{}, err
	}
	if !token.Valid {
		return crypto.Address{}, errors.New("token invalid")
	}
	addr, err := crypto.ParseAddress(claims.Subject)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("subject: %w", err)
	}
	return addr, nil
}

// IssueToken signs an HS256 token for subject valid for ttl.
func IssueToken(secret, issuer string, subject crypto.Address, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("secret required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject.String(),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
