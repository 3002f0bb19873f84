// README: Auth middleware tests with real signed tokens.
package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, uid, role string, expiresIn time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid":  uid,
		"role": role,
		"exp":  time.Now().Add(expiresIn).Unix(),
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authEngine(roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := []gin.HandlerFunc{Auth(testSecret)}
	if len(roles) > 0 {
		handlers = append(handlers, RequireRole(roles...))
	}
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": CallerUID(c), "role": CallerRole(c)})
	})
	r.GET("/probe", handlers...)
	return r
}

func probe(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRejectsMissingOrMalformedHeader(t *testing.T) {
	r := authEngine()

	cases := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"not bearer", "Basic abc123"},
		{"bare token", signToken(t, testSecret, "u1", "hospital", time.Hour)},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := probe(r, tc.header); w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
		})
	}
}

func TestAuthRejectsBadSignatureAndExpiry(t *testing.T) {
	r := authEngine()

	wrongKey := signToken(t, "other-secret", "u1", "hospital", time.Hour)
	if w := probe(r, "Bearer "+wrongKey); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: expected 401, got %d", w.Code)
	}

	expired := signToken(t, testSecret, "u1", "hospital", -time.Hour)
	if w := probe(r, "Bearer "+expired); w.Code != http.StatusUnauthorized {
		t.Fatalf("expired: expected 401, got %d", w.Code)
	}
}

func TestAuthRejectsMissingUID(t *testing.T) {
	r := authEngine()
	token := signToken(t, testSecret, "", "hospital", time.Hour)
	if w := probe(r, "Bearer "+token); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for empty uid, got %d", w.Code)
	}
}

func TestAuthSetsCallerIdentity(t *testing.T) {
	r := authEngine()
	token := signToken(t, testSecret, "u1", "Hospital", time.Hour)

	w := probe(r, "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	// Roles are normalised to lowercase.
	body := w.Body.String()
	if !strings.Contains(body, `"uid":"u1"`) || !strings.Contains(body, `"role":"hospital"`) {
		t.Fatalf("unexpected identity payload: %s", body)
	}
}

func TestRequireRole(t *testing.T) {
	r := authEngine("hospital")

	hospital := signToken(t, testSecret, "u1", "hospital", time.Hour)
	if w := probe(r, "Bearer "+hospital); w.Code != http.StatusOK {
		t.Fatalf("hospital role: expected 200, got %d", w.Code)
	}

	driver := signToken(t, testSecret, "u2", "driver", time.Hour)
	if w := probe(r, "Bearer "+driver); w.Code != http.StatusForbidden {
		t.Fatalf("driver role: expected 403, got %d", w.Code)
	}

	multi := authEngine("hospital", "driver")
	if w := probe(multi, "Bearer "+driver); w.Code != http.StatusOK {
		t.Fatalf("multi-role guard: expected 200, got %d", w.Code)
	}
}
