// Package httpkit provides HTTP middleware infrastructure.
// This is part of the platform layer and contains no business logic.
package httpkit

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"crewcommand_backend/platform/config"
	"crewcommand_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// ContextUserIDKey is the gin context key for the verified token subject.
	ContextUserIDKey = "userID"
	// ContextProfileIDKey is the gin context key for the resolved profile ID.
	ContextProfileIDKey = "profileID"
	// ContextTenantIDKey is the gin context key for the tenant (organization) ID.
	ContextTenantIDKey = "tenantID"
	// ContextRoleKey is the gin context key for the profile role.
	ContextRoleKey = "role"
	// ContextEmailKey holds the token's email claim.
	ContextEmailKey = "email"
	// ContextFullNameKey holds user_metadata.full_name from the token.
	ContextFullNameKey = "fullName"

	// DispatcherSecretHeader carries the shared secret for dispatch triggers.
	DispatcherSecretHeader = "x-dispatcher-secret"

	errMissingToken = "missing token"
	errInvalidToken = "invalid token"
)

// RequestLogger logs HTTP requests with timing.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		clientIP := c.ClientIP()

		if len(c.Errors) > 0 {
			log.HTTPError(c.Request.Method, path, status, c.Errors.Last().Err, clientIP)
			return
		}
		log.HTTPRequest(c.Request.Method, path, status, float64(latency.Milliseconds()), clientIP)
	}
}

// RequestContext stores the request id in the request context so services can
// log with logger.WithContext. SetProfile adds the tenant once it is resolved.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// SecurityHeaders adds security headers to responses.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'none'")
		c.Header("Cache-Control", "no-store")

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// IPRateLimiter manages per-IP rate limiters.
type IPRateLimiter struct {
	limiters sync.Map
	rate     rate.Limit
	burst    int
	log      *logger.Logger
}

// NewIPRateLimiter creates a new IP-based rate limiter.
func NewIPRateLimiter(r rate.Limit, burst int, log *logger.Logger) *IPRateLimiter {
	return &IPRateLimiter{
		rate:  r,
		burst: burst,
		log:   log,
	}
}

func (i *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	limiter, _ := i.limiters.LoadOrStore(ip, rate.NewLimiter(i.rate, i.burst))
	return limiter.(*rate.Limiter)
}

// RateLimit returns a middleware that rate limits by IP.
func (i *IPRateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter := i.getLimiter(ip)

		if !limiter.Allow() {
			if i.log != nil {
				i.log.RateLimitExceeded(ip, c.Request.URL.Path)
			}
			Abort(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}

		c.Next()
	}
}

// AuthRequired returns middleware that validates bearer access tokens signed
// with the shared HMAC secret and stores the subject on the context.
func AuthRequired(cfg config.JWTConfig, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken, ok := extractBearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, errMissingToken)
			return
		}

		claims, err := parseAccessClaims(rawToken, cfg)
		if err != nil {
			if log != nil {
				log.AuthEvent("token_rejected", "", false, err.Error())
			}
			abortUnauthorized(c, errInvalidToken)
			return
		}

		userID, err := parseUserID(claims)
		if err != nil {
			abortUnauthorized(c, errInvalidToken)
			return
		}

		c.Set(ContextUserIDKey, userID)
		if email, ok := claims["email"].(string); ok {
			c.Set(ContextEmailKey, email)
		}
		if name := metadataFullName(claims); name != "" {
			c.Set(ContextFullNameKey, name)
		}
		c.Next()
	}
}

// RequireRole returns middleware that checks if the caller has one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		current := c.GetString(ContextRoleKey)
		for _, role := range roles {
			if current == role {
				c.Next()
				return
			}
		}
		Abort(c, http.StatusForbidden, "forbidden", "forbidden")
	}
}

// DispatcherSecret guards dispatch triggers with a shared secret header.
// An empty secret disables the check.
func DispatcherSecret(secret string) gin.HandlerFunc {
	expected := []byte(secret)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.Next()
			return
		}
		provided := []byte(c.GetHeader(DispatcherSecretHeader))
		if subtle.ConstantTimeCompare(provided, expected) != 1 {
			Abort(c, http.StatusUnauthorized, "unauthorized", "invalid dispatcher secret")
			return
		}
		c.Next()
	}
}

func extractBearerToken(authHeader string) (string, bool) {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", false
	}

	rawToken := strings.TrimSpace(authHeader[len(prefix):])
	if rawToken == "" {
		return "", false
	}

	return rawToken, true
}

func parseAccessClaims(rawToken string, cfg config.JWTConfig) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if aud := cfg.GetJWTAudience(); aud != "" {
		opts = append(opts, jwt.WithAudience(aud))
	}

	parsed, err := jwt.Parse(rawToken, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.GetJWTSecret()), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New(errInvalidToken)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New(errInvalidToken)
	}

	return claims, nil
}

func parseUserID(claims jwt.MapClaims) (uuid.UUID, error) {
	sub, err := claims.GetSubject()
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(sub)
}

func metadataFullName(claims jwt.MapClaims) string {
	metadata, ok := claims["user_metadata"].(map[string]interface{})
	if !ok {
		return ""
	}
	name, _ := metadata["full_name"].(string)
	return name
}

func abortUnauthorized(c *gin.Context, message string) {
	Abort(c, http.StatusUnauthorized, "unauthorized", message)
}
