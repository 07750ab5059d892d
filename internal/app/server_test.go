package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"go-inventory-ledger/internal/config"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "admin123"
)

type testServer struct {
	app    *App
	server *fiber.App
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		// production keeps the request logger quiet
		Server:    config.ServerConfig{Port: "0", Env: "production"},
		Store:     config.StoreConfig{Driver: config.DriverMemory},
		JWT:       config.JWTConfig{Secret: "test-secret", ExpiryHours: 1},
		Ledger:    config.LedgerConfig{CASRetries: 5, LockTTL: 2 * time.Second, IdempotencyTTL: time.Hour},
		Dashboard: config.DashboardConfig{Timezone: "UTC", LowStockThreshold: 10},
		Admin:     config.AdminConfig{Email: adminEmail, Password: adminPassword},
	}
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NoError(t, a.SeedAdmin(context.Background()))
	return &testServer{app: a, server: a.Server()}
}

type response struct {
	status int
	header http.Header
	raw    []byte
	body   map[string]any
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.server.Test(req, 10_000)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := response{status: resp.StatusCode, header: resp.Header, raw: raw}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out.body), string(raw))
	}
	return out
}

func (s *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	resp := s.do(t, "POST", "/api/v1/auth/login", "", fiber.Map{"email": email, "password": password})
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))
	token, _ := resp.body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (s *testServer) registerUser(t *testing.T, email string) string {
	t.Helper()
	resp := s.do(t, "POST", "/api/v1/auth/register", "", fiber.Map{
		"name": "Clerk", "email": email, "password": "secret1",
	})
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))
	return s.login(t, email, "secret1")
}

func data(t *testing.T, r response) map[string]any {
	t.Helper()
	d, ok := r.body["data"].(map[string]any)
	require.True(t, ok, string(r.raw))
	return d
}

func idOf(t *testing.T, m map[string]any) string {
	t.Helper()
	id, ok := m["id"].(float64)
	require.True(t, ok)
	return strconv.Itoa(int(id))
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, "ok", resp.body["status"])
	assert.Equal(t, config.DriverMemory, resp.body["store"])
}

func TestLoginAndProfile(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, "POST", "/api/v1/auth/login", "", fiber.Map{"email": adminEmail, "password": "wrong"})
	assert.Equal(t, fiber.StatusUnauthorized, resp.status)

	resp = s.do(t, "POST", "/api/v1/auth/login", "", fiber.Map{"email": adminEmail})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	token := s.login(t, adminEmail, adminPassword)
	resp = s.do(t, "GET", "/api/v1/profile", token, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, adminEmail, resp.body["email"])
	assert.Equal(t, "admin", resp.body["role"])
	assert.NotContains(t, string(resp.raw), "password")
}

func TestProtectedRoutesNeedAToken(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, "GET", "/api/v1/products", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.status)

	resp = s.do(t, "GET", "/api/v1/products", "not-a-jwt", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.status)

	resp = s.do(t, "GET", "/api/v1/products", "", nil, "Authorization", "Basic abc")
	assert.Equal(t, fiber.StatusUnauthorized, resp.status)
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, adminEmail, adminPassword)

	resp := s.do(t, "POST", "/api/v1/auth/logout", token, nil)
	require.Equal(t, fiber.StatusOK, resp.status)

	resp = s.do(t, "GET", "/api/v1/profile", token, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.status)
}

func TestPlainUserCannotManageCatalogOrUsers(t *testing.T) {
	s := newTestServer(t)
	token := s.registerUser(t, "clerk@example.com")

	resp := s.do(t, "POST", "/api/v1/products", token, fiber.Map{"name": "X", "sku": "X-1", "price": 1})
	assert.Equal(t, fiber.StatusForbidden, resp.status)
	resp = s.do(t, "POST", "/api/v1/categories", token, fiber.Map{"name": "Tools"})
	assert.Equal(t, fiber.StatusForbidden, resp.status)
	resp = s.do(t, "GET", "/api/v1/users", token, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.status)

	resp = s.do(t, "GET", "/api/v1/products", token, nil)
	assert.Equal(t, fiber.StatusOK, resp.status)
	resp = s.do(t, "GET", "/api/v1/roles", token, nil)
	assert.Equal(t, fiber.StatusOK, resp.status)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, "POST", "/api/v1/auth/register", "", fiber.Map{
		"name": "Someone", "email": adminEmail, "password": "secret1",
	})
	assert.Equal(t, fiber.StatusConflict, resp.status)

	resp = s.do(t, "POST", "/api/v1/auth/register", "", fiber.Map{"name": "No Mail", "password": "secret1"})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.NotEmpty(t, resp.body["details"])
}

func TestStockFlow(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, adminEmail, adminPassword)
	clerk := s.registerUser(t, "clerk@example.com")

	resp := s.do(t, "POST", "/api/v1/suppliers", admin, fiber.Map{"name": "Acme"})
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))
	supplierID := data(t, resp)["id"]

	resp = s.do(t, "POST", "/api/v1/products", admin, fiber.Map{
		"name": "Widget", "sku": "W-1", "price": 10, "stockQuantity": 10,
	})
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))
	productID := data(t, resp)["id"]
	productPath := "/api/v1/products/" + idOf(t, data(t, resp))

	resp = s.do(t, "POST", "/api/v1/products", admin, fiber.Map{"name": "Copy", "sku": "W-1", "price": 1})
	assert.Equal(t, fiber.StatusConflict, resp.status)

	// Sale with an idempotency key.
	sale := fiber.Map{"productId": productID, "quantity": 4}
	resp = s.do(t, "POST", "/api/v1/inventory/sell", clerk, sale, "Idempotency-Key", "sale-1")
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))
	assert.Equal(t, "sale-1", resp.header.Get("Idempotency-Key"))
	product := data(t, resp)["product"].(map[string]any)
	assert.Equal(t, float64(6), product["stockQuantity"])
	tx := data(t, resp)["transaction"].(map[string]any)
	assert.Equal(t, float64(40), tx["totalPrice"])

	// The same request again is a replay.
	resp = s.do(t, "POST", "/api/v1/inventory/sell", clerk, sale, "Idempotency-Key", "sale-1")
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))
	assert.Equal(t, "true", resp.header.Get("Idempotent-Replayed"))
	assert.Equal(t, true, resp.body["replayed"])

	// Same key, different request.
	resp = s.do(t, "POST", "/api/v1/inventory/sell", clerk, fiber.Map{"productId": productID, "quantity": 5}, "Idempotency-Key", "sale-1")
	assert.Equal(t, fiber.StatusConflict, resp.status)

	resp = s.do(t, "POST", "/api/v1/inventory/sell", clerk, fiber.Map{"productId": productID, "quantity": 7})
	assert.Equal(t, fiber.StatusConflict, resp.status)

	resp = s.do(t, "POST", "/api/v1/inventory/sell", clerk, fiber.Map{"productId": productID, "quantity": 0})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = s.do(t, "POST", "/api/v1/inventory/sell", clerk, fiber.Map{"productId": 999, "quantity": 1})
	assert.Equal(t, fiber.StatusNotFound, resp.status)

	resp = s.do(t, "POST", "/api/v1/inventory/purchase", clerk, fiber.Map{
		"productId": productID, "quantity": 2, "supplierId": supplierID, "note": "restock",
	})
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))
	assert.Equal(t, supplierID, data(t, resp)["transaction"].(map[string]any)["supplierId"])

	resp = s.do(t, "GET", productPath, clerk, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, float64(8), resp.body["stockQuantity"])

	// Transactions, newest first.
	resp = s.do(t, "GET", "/api/v1/transactions?perPage=1", clerk, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, float64(2), resp.body["total"])
	assert.Equal(t, float64(2), resp.body["totalPages"])
	rows := resp.body["data"].([]any)
	require.Len(t, rows, 1)
	newest := rows[0].(map[string]any)
	assert.Equal(t, "purchase", newest["type"])

	resp = s.do(t, "GET", "/api/v1/transactions?type=sale", clerk, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, float64(1), resp.body["total"])

	resp = s.do(t, "GET", "/api/v1/transactions?type=refund", clerk, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = s.do(t, "GET", "/api/v1/transactions/"+idOf(t, newest), clerk, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, "Widget", resp.body["product"].(map[string]any)["name"])
	assert.Equal(t, "Acme", resp.body["supplier"].(map[string]any)["name"])

	resp = s.do(t, "GET", "/api/v1/transactions/export", clerk, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(resp.raw, []byte("PK")))

	// Dashboard for the current month.
	now := time.Now().UTC()
	resp = s.do(t, "GET", fmt.Sprintf("/api/v1/dashboard/daily?month=%d&year=%d", now.Month(), now.Year()), clerk, nil)
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))
	totals := resp.body["totals"].(map[string]any)
	assert.Equal(t, float64(2), totals["count"])
	assert.Len(t, resp.body["days"].([]any), time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day())

	resp = s.do(t, "GET", "/api/v1/dashboard/daily?month=13", clerk, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = s.do(t, "GET", "/api/v1/dashboard/stats", clerk, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, float64(1), resp.body["totalProducts"])
	assert.Equal(t, float64(8), resp.body["totalStock"])
	assert.Equal(t, float64(80), resp.body["stockValuation"])

	// Deleting the product keeps its transactions.
	resp = s.do(t, "DELETE", productPath, admin, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	resp = s.do(t, "GET", productPath, clerk, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)
	resp = s.do(t, "GET", "/api/v1/transactions", clerk, nil)
	assert.Equal(t, float64(2), resp.body["total"])
}

func TestUserManagement(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, adminEmail, adminPassword)

	resp := s.do(t, "POST", "/api/v1/users", admin, fiber.Map{
		"name": "Second Admin", "email": "second@example.com", "password": "secret1", "role": "admin",
	})
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))
	created := data(t, resp)

	resp = s.do(t, "POST", "/api/v1/users", admin, fiber.Map{
		"name": "Bad Role", "email": "bad@example.com", "password": "secret1", "role": "root",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = s.do(t, "GET", "/api/v1/users", admin, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Contains(t, string(resp.raw), "second@example.com")

	resp = s.do(t, "GET", "/api/v1/profile", admin, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	selfPath := "/api/v1/users/" + idOf(t, resp.body)
	resp = s.do(t, "DELETE", selfPath, admin, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = s.do(t, "DELETE", "/api/v1/users/"+idOf(t, created), admin, nil)
	assert.Equal(t, fiber.StatusOK, resp.status)
	resp = s.do(t, "GET", "/api/v1/users/"+idOf(t, created), admin, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)

	resp = s.do(t, "GET", "/api/v1/users/abc", admin, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "GET", "/api/v1/products", "", nil)

	resp := s.do(t, "GET", "/metrics", "", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Contains(t, string(resp.raw), "inventory_http_requests_total")
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, "GET", "/ws", "", nil)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.status)
}
