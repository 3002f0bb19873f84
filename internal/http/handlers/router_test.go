// README: HTTP surface tests: auth, role guards, and request validation.
package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"hemohive/internal/config"
	hemohttp "hemohive/internal/http"
	"hemohive/internal/modules/assistant"
	"hemohive/internal/modules/credit"
	"hemohive/internal/modules/dispatch"
	"hemohive/internal/modules/driver"
	"hemohive/internal/modules/inventory"
	"hemohive/internal/modules/request"
)

const testSecret = "test-secret"

// buildTestRouter wires the real router over services with nil stores. Every
// request below is rejected by auth, role guards, or input validation before
// any store access, so no database is needed.
func buildTestRouter() http.Handler {
	log := zerolog.Nop()
	return hemohttp.NewRouter(
		request.NewService(request.NewStore(nil), nil, log),
		dispatch.NewService(dispatch.NewStore(nil), nil, nil, config.DispatchConfig{
			AcceptanceWindow: time.Minute,
			SweepTick:        time.Second,
			SearchRadiusKm:   25,
		}, log),
		inventory.NewService(inventory.NewStore(nil), log),
		driver.NewService(driver.NewStore(nil, nil), log),
		credit.NewService(credit.NewStore(nil), 30*24*time.Hour, log),
		assistant.NewService(nil, "", log),
		testSecret,
		log,
	)
}

func mintToken(t *testing.T, uid, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid":  uid,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doRequest(t *testing.T, r http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	r := buildTestRouter()
	if w := doRequest(t, r, http.MethodGet, "/health", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	r := buildTestRouter()
	paths := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/inventory"},
		{http.MethodPost, "/api/blood-requests"},
		{http.MethodPost, "/api/delivery/accept"},
		{http.MethodPost, "/api/assistant/chat"},
	}
	for _, p := range paths {
		if w := doRequest(t, r, p.method, p.path, nil, ""); w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", p.method, p.path, w.Code)
		}
	}
}

func TestRoleGuards(t *testing.T) {
	r := buildTestRouter()
	hospital := mintToken(t, "hosp1", "hospital")
	courier := mintToken(t, "drv1", "driver")

	// Hospital-only routes reject couriers.
	if w := doRequest(t, r, http.MethodGet, "/api/inventory", nil, courier); w.Code != http.StatusForbidden {
		t.Errorf("inventory as driver: expected 403, got %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodPost, "/api/delivery/request", map[string]any{"request_id": "r1"}, courier); w.Code != http.StatusForbidden {
		t.Errorf("delivery request as driver: expected 403, got %d", w.Code)
	}

	// Courier-only routes reject hospitals.
	if w := doRequest(t, r, http.MethodPost, "/api/delivery/accept", map[string]any{"delivery_id": "d1"}, hospital); w.Code != http.StatusForbidden {
		t.Errorf("accept as hospital: expected 403, got %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodPut, "/api/drivers/d1/availability", map[string]any{"status": "ONLINE"}, hospital); w.Code != http.StatusForbidden {
		t.Errorf("availability as hospital: expected 403, got %d", w.Code)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	r := buildTestRouter()
	token := mintToken(t, "hosp1", "hospital")

	cases := []struct {
		name string
		body any
	}{
		{"empty body", map[string]any{}},
		{"unknown group", map[string]any{"blood_group": "Q+", "units": 1}},
		{"zero units", map[string]any{"blood_group": "O+", "units": 0}},
		{"negative units", map[string]any{"blood_group": "O+", "units": -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(t, r, http.MethodPost, "/api/blood-requests", tc.body, token)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestReviewActionValidation(t *testing.T) {
	r := buildTestRouter()
	token := mintToken(t, "hosp1", "hospital")

	w := doRequest(t, r, http.MethodPut, "/api/hospital/blood-requests/r1", map[string]any{"action": "escalate"}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", w.Code)
	}
}

func TestDeliveryValidation(t *testing.T) {
	r := buildTestRouter()
	hospital := mintToken(t, "hosp1", "hospital")
	courier := mintToken(t, "drv1", "driver")

	if w := doRequest(t, r, http.MethodPost, "/api/delivery/request", map[string]any{}, hospital); w.Code != http.StatusBadRequest {
		t.Errorf("missing request_id: expected 400, got %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodPost, "/api/delivery/accept", map[string]any{}, courier); w.Code != http.StatusBadRequest {
		t.Errorf("missing delivery_id: expected 400, got %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodPost, "/api/delivery/verify", map[string]any{"delivery_id": "d1"}, courier); w.Code != http.StatusBadRequest {
		t.Errorf("missing code: expected 400, got %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodPost, "/api/delivery/verify/dropoff", map[string]any{"code": "ABC123"}, courier); w.Code != http.StatusBadRequest {
		t.Errorf("missing delivery_id: expected 400, got %d", w.Code)
	}
}

func TestInventoryAddValidation(t *testing.T) {
	r := buildTestRouter()
	token := mintToken(t, "hosp1", "hospital")

	if w := doRequest(t, r, http.MethodPost, "/api/inventory/add", map[string]any{}, token); w.Code != http.StatusBadRequest {
		t.Errorf("empty batch: expected 400, got %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodPost, "/api/inventory/add", map[string]any{"items": []any{}}, token); w.Code != http.StatusBadRequest {
		t.Errorf("zero items: expected 400, got %d", w.Code)
	}
}

func TestReturnsValidation(t *testing.T) {
	r := buildTestRouter()
	token := mintToken(t, "donor1", "hospital")

	if w := doRequest(t, r, http.MethodPost, "/api/returns", map[string]any{"credit_id": "c1"}, token); w.Code != http.StatusBadRequest {
		t.Errorf("missing hospital_id: expected 400, got %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodPost, "/api/returns", map[string]any{"hospital_id": "h1"}, token); w.Code != http.StatusBadRequest {
		t.Errorf("missing credit_id: expected 400, got %d", w.Code)
	}
}

func TestAssistantChatValidation(t *testing.T) {
	r := buildTestRouter()
	token := mintToken(t, "donor1", "hospital")

	if w := doRequest(t, r, http.MethodPost, "/api/assistant/chat", map[string]any{"message": "   "}, token); w.Code != http.StatusBadRequest {
		t.Errorf("blank message: expected 400, got %d", w.Code)
	}
}
