package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrNoSecret     = errors.New("jwt secret is not configured")
)

// Scopes granted to integration callers.
const (
	ScopeIngest  = "findings:ingest"
	ScopeAssign  = "findings:assign"
	ScopeResolve = "findings:resolve"
	ScopeLinks   = "findings:links"
	ScopeJobs    = "jobs:run"
)

// Claims identify a machine caller such as a finding producer, the ticketing
// webhook or the chat bot. Human users never hold these tokens.
type Claims struct {
	Integration string   `json:"integration"`
	Scopes      []string `json:"scopes"`
	jwt.RegisteredClaims
}

func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

type Config struct {
	JWTSecret   string
	Issuer      string
	TokenExpiry time.Duration
}

type Service struct {
	config Config
	now    func() time.Time
}

func NewService(config Config) *Service {
	if config.Issuer == "" {
		config.Issuer = "compliance"
	}
	if config.TokenExpiry == 0 {
		config.TokenExpiry = 90 * 24 * time.Hour
	}
	return &Service{config: config, now: time.Now}
}

// IssueToken signs an HS256 token for an integration with the given scopes.
func (s *Service) IssueToken(integration string, scopes ...string) (string, time.Time, error) {
	if s.config.JWTSecret == "" {
		return "", time.Time{}, ErrNoSecret
	}
	if integration == "" {
		return "", time.Time{}, fmt.Errorf("integration name is required")
	}

	now := s.now()
	expiresAt := now.Add(s.config.TokenExpiry)
	claims := &Claims{
		Integration: integration,
		Scopes:      scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.config.Issuer,
			Subject:   integration,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if s.config.JWTSecret == "" {
		return nil, ErrNoSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	},
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

type contextKey string

const ClaimsContextKey contextKey = "integration"

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*Claims)
	return claims, ok
}

// Middleware rejects requests without a valid bearer token.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := s.ValidateToken(parts[1])
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenExpired):
				http.Error(w, "token expired", http.StatusUnauthorized)
			case errors.Is(err, ErrNoSecret):
				http.Error(w, "integrations are not configured", http.StatusServiceUnavailable)
			default:
				http.Error(w, "invalid token", http.StatusUnauthorized)
			}
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !claims.HasScope(scope) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
