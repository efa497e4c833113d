package httpkit

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crewcommand_backend/platform/apperr"
	"crewcommand_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type jwtConfig struct {
	secret   string
	audience string
}

func (c jwtConfig) GetJWTSecret() string   { return c.secret }
func (c jwtConfig) GetJWTAudience() string { return c.audience }

func init() {
	gin.SetMode(gin.TestMode)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rec.Body.String())
	}
	if body.OK {
		t.Fatalf("expected ok=false, got %s", rec.Body.String())
	}
	return body
}

func TestOKWrapsData(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	OK(c, gin.H{"accepted": true})

	var body struct {
		OK   bool            `json:"ok"`
		Data map[string]bool `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || !body.Data["accepted"] {
		t.Fatalf("unexpected envelope %s", rec.Body.String())
	}
}

func TestHandleErrorMapsKinds(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", apperr.NotFound("lead not found"), http.StatusNotFound, "not_found"},
		{"custom conflict", apperr.Conflict("busy").WithCode("concurrent_modification"), http.StatusConflict, "concurrent_modification"},
		{"validation", apperr.Validation("bad"), http.StatusBadRequest, "invalid_request"},
		{"wrapped", errors.Join(errors.New("ctx"), apperr.Forbidden("nope")), http.StatusForbidden, "forbidden"},
		{"untyped", errors.New("pg exploded"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodPost, "/x", nil)

			if !HandleError(c, tc.err) {
				t.Fatal("expected error to be handled")
			}
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			body := decodeError(t, rec)
			if body.Error.Code != tc.code {
				t.Fatalf("code = %q, want %q", body.Error.Code, tc.code)
			}
			if tc.status == http.StatusInternalServerError && body.Error.Message != "internal server error" {
				t.Fatalf("internal details leaked: %q", body.Error.Message)
			}
		})
	}
}

func TestHandleErrorNil(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	if HandleError(c, nil) {
		t.Fatal("nil error must not be handled")
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestAuthRequired(t *testing.T) {
	cfg := jwtConfig{secret: "test-secret", audience: "authenticated"}
	subject := uuid.New()

	engine := gin.New()
	engine.GET("/me", AuthRequired(cfg, nil), func(c *gin.Context) {
		id, _ := GetUserID(c)
		c.String(http.StatusOK, id.String())
	})

	valid := signToken(t, cfg.secret, jwt.MapClaims{
		"sub": subject.String(),
		"aud": "authenticated",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	wrongAudience := signToken(t, cfg.secret, jwt.MapClaims{
		"sub": subject.String(),
		"aud": "anon",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	expired := signToken(t, cfg.secret, jwt.MapClaims{
		"sub": subject.String(),
		"aud": "authenticated",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	badSecret := signToken(t, "other", jwt.MapClaims{
		"sub": subject.String(),
		"aud": "authenticated",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong audience", "Bearer " + wrongAudience, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"bad secret", "Bearer " + badSecret, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.status, rec.Body.String())
			}
			if tc.status == http.StatusOK && rec.Body.String() != subject.String() {
				t.Fatalf("subject = %q", rec.Body.String())
			}
		})
	}
}

func TestAuthRequiredKeepsProfileClaims(t *testing.T) {
	cfg := jwtConfig{secret: "test-secret"}
	engine := gin.New()
	engine.GET("/me", AuthRequired(cfg, nil), func(c *gin.Context) {
		email, name := GetTokenProfile(c)
		c.String(http.StatusOK, email+"|"+name)
	})

	token := signToken(t, cfg.secret, jwt.MapClaims{
		"sub":           uuid.NewString(),
		"exp":           time.Now().Add(time.Hour).Unix(),
		"email":         "owner@example.com",
		"user_metadata": map[string]interface{}{"full_name": "Pat Lee"},
	})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Body.String() != "owner@example.com|Pat Lee" {
		t.Fatalf("claims = %q", rec.Body.String())
	}
}

func TestDispatcherSecret(t *testing.T) {
	engine := gin.New()
	engine.POST("/dispatch", DispatcherSecret("s3cret"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	open := gin.New()
	open.POST("/dispatch", DispatcherSecret(""), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodPost, "/dispatch", nil)
	req.Header.Set(DispatcherSecretHeader, "wrong")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/dispatch", nil)
	req.Header.Set(DispatcherSecretHeader, "s3cret")
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("right secret status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dispatch", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unconfigured secret status = %d", rec.Code)
	}
}

func TestGetIdentityRequiresProfile(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Set(ContextUserIDKey, uuid.New())

	if GetIdentity(c).IsAuthenticated() {
		t.Fatal("identity without profile must not be authenticated")
	}

	profileID, tenantID := uuid.New(), uuid.New()
	SetProfile(c, profileID, tenantID, "owner")

	id := GetIdentity(c)
	if !id.IsAuthenticated() || id.TenantID() != tenantID || id.ProfileID() != profileID || !id.HasRole("owner") {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestResolvedProfileTagsRequestLogs(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter("production", &buf)
	tenantID := uuid.New()

	engine := gin.New()
	engine.Use(RequestContext())
	engine.GET("/x", func(c *gin.Context) {
		SetProfile(c, uuid.New(), tenantID, "owner")
		c.Next()
	}, func(c *gin.Context) {
		log.WithContext(c.Request.Context()).Info("handled")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-1")
	engine.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["request_id"] != "req-1" || line["tenant_id"] != tenantID.String() {
		t.Fatalf("log line missing request context: %v", line)
	}
}

func TestRateLimitReturnsEnvelope(t *testing.T) {
	limiter := NewIPRateLimiter(0, 1, nil)
	engine := gin.New()
	engine.GET("/x", limiter.RateLimit(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	first := httptest.NewRecorder()
	engine.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/x", nil))
	second := httptest.NewRecorder()
	engine.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/x", nil))

	if first.Code != http.StatusNoContent {
		t.Fatalf("first status = %d", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", second.Code)
	}
	if body := decodeError(t, second); body.Error.Code != "rate_limited" {
		t.Fatalf("code = %q", body.Error.Code)
	}
}
