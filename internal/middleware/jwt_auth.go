package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/mir00r/domain-router/pkg/logger"
)

const subjectKey contextKey = "subject"

// SubjectFromContext returns the authenticated token subject, if any
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey).(string)
	return sub
}

// JWTAuthConfig contains bearer token authentication configuration
type JWTAuthConfig struct {
	// Secret is the HS256 signing key
	Secret string
	// Issuer, when set, must match the token's iss claim
	Issuer    string
	ClockSkew time.Duration
	// SkipPaths are served without a token, e.g. health probes
	SkipPaths []string
}

// JWTAuthMiddleware authenticates admin requests with HS256 bearer tokens.
// It only establishes who is calling; there are no roles or ownership checks.
type JWTAuthMiddleware struct {
	config JWTAuthConfig
	logger *logger.Logger
	now    func() time.Time
}

// NewJWTAuthMiddleware creates a new JWT authentication middleware
func NewJWTAuthMiddleware(config JWTAuthConfig, log *logger.Logger) (*JWTAuthMiddleware, error) {
	if config.Secret == "" {
		return nil, lberrors.NewMissingFieldError("jwt_auth", "admin.auth.secret")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if config.ClockSkew == 0 {
		config.ClockSkew = 30 * time.Second
	}
	return &JWTAuthMiddleware{
		config: config,
		logger: log.MiddlewareLogger("jwt_auth"),
		now:    time.Now,
	}, nil
}

// JWTAuth returns the JWT authentication middleware
func (jm *JWTAuthMiddleware) JWTAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range jm.config.SkipPaths {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			token := extractToken(r)
			if token == "" {
				jm.reject(w, r, "authentication required")
				return
			}

			claims, err := jm.validateToken(token)
			if err != nil {
				jm.reject(w, r, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IssueToken signs a token for subject valid for ttl. Used by the CLI to
// mint operator tokens.
func (jm *JWTAuthMiddleware) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := jm.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    jm.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jm.config.Secret))
}

func (jm *JWTAuthMiddleware) validateToken(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jm.config.Secret), nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	now := jm.now()
	if claims.ExpiresAt == nil || now.After(claims.ExpiresAt.Add(jm.config.ClockSkew)) {
		return nil, fmt.Errorf("token expired")
	}
	if claims.NotBefore != nil && now.Add(jm.config.ClockSkew).Before(claims.NotBefore.Time) {
		return nil, fmt.Errorf("token not valid yet")
	}
	if jm.config.Issuer != "" && claims.Issuer != jm.config.Issuer {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

func (jm *JWTAuthMiddleware) reject(w http.ResponseWriter, r *http.Request, reason string) {
	jm.logger.WithFields(map[string]interface{}{
		"path":       r.URL.Path,
		"method":     r.Method,
		"ip":         getClientIP(r),
		"request_id": RequestIDFromContext(r.Context()),
		"reason":     reason,
	}).Warn("Admin request rejected")

	w.Header().Set("WWW-Authenticate", `Bearer realm="domain-router"`)
	WriteError(w, lberrors.NewAuthenticationError(reason))
}

// extractToken reads the bearer token from the Authorization header
func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
