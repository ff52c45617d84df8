package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketforge/ticket-registry/internal/config"
	"github.com/ticketforge/ticket-registry/internal/domain"
	"github.com/ticketforge/ticket-registry/internal/observability"
	"github.com/ticketforge/ticket-registry/internal/registry"
)

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	reg := registry.New("admin", domain.DefaultParams(), nil, nil)
	require.NoError(t, reg.GrantRole("admin", "minter", domain.RoleMinter))
	require.NoError(t, reg.GrantRole("admin", "gate", domain.RoleValidator))

	h := NewHandlers(&config.Config{}, reg, nil, nil, nil)
	srv := httptest.NewServer(SetupRouter(h, observability.NewLogger(), nil))
	t.Cleanup(srv.Close)
	return srv, reg
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, account string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	} else if method == http.MethodPost {
		buf.WriteString("{}")
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if account != "" {
		req.Header.Set("X-Account", account)
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", "test-key-0123456789abcdef")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func mintViaAPI(t *testing.T, srv *httptest.Server, to string, price uint64) uint64 {
	t.Helper()
	resp, body := doRequest(t, srv, http.MethodPost, "/v1/tickets", "minter", map[string]any{
		"to":         to,
		"event_id":   "concert-42",
		"price":      price,
		"event_date": time.Now().Add(30 * 24 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return uint64(body["ticket_id"].(float64))
}

func TestMintEndpoint(t *testing.T) {
	srv, reg := newTestServer(t)

	id := mintViaAPI(t, srv, "alice", 100)
	owner, err := reg.OwnerOf(id)
	require.NoError(t, err)
	assert.Equal(t, domain.Account("alice"), owner)

	// non-minter gets 403
	resp, _ := doRequest(t, srv, http.MethodPost, "/v1/tickets", "alice", map[string]any{
		"to":         "bob",
		"event_id":   "concert-42",
		"price":      uint64(100),
		"event_date": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// past event date gets 422
	resp, _ = doRequest(t, srv, http.MethodPost, "/v1/tickets", "minter", map[string]any{
		"to":         "bob",
		"event_id":   "concert-42",
		"price":      uint64(100),
		"event_date": time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestResaleFlow(t *testing.T) {
	srv, reg := newTestServer(t)
	id := mintViaAPI(t, srv, "alice", 100)
	path := fmt.Sprintf("/v1/tickets/%d", id)

	resp, _ := doRequest(t, srv, http.MethodPost, path+"/list", "alice", map[string]any{"price": uint64(150)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doRequest(t, srv, http.MethodPost, "/v1/accounts/bob/deposit", "bob", map[string]any{"amount": uint64(200)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(200), body["balance"])

	resp, body = doRequest(t, srv, http.MethodPost, path+"/buy", "bob", map[string]any{"paid": uint64(150)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bob", body["owner"])

	resp, body = doRequest(t, srv, http.MethodGet, path+"/owner", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bob", body["owner"])

	assert.Equal(t, uint64(150), reg.Ledger().Balance("alice"))
	assert.Equal(t, uint64(50), reg.Ledger().Balance("bob"))

	// buying again is a 404: the listing is gone
	resp, _ = doRequest(t, srv, http.MethodPost, path+"/buy", "carol", map[string]any{"paid": uint64(150)})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBuyErrorStatuses(t *testing.T) {
	srv, reg := newTestServer(t)
	id := mintViaAPI(t, srv, "alice", 100)
	path := fmt.Sprintf("/v1/tickets/%d/buy", id)

	resp, _ := doRequest(t, srv, http.MethodPost, path, "bob", map[string]any{"paid": uint64(150)})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "not listed yet")

	resp, _ = doRequest(t, srv, http.MethodPost, fmt.Sprintf("/v1/tickets/%d/list", id), "alice", map[string]any{"price": uint64(150)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodPost, path, "alice", map[string]any{"paid": uint64(150)})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "self purchase")

	resp, _ = doRequest(t, srv, http.MethodPost, path, "bob", map[string]any{"paid": uint64(100)})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode, "attached payment below price")

	reg.Ledger().Deposit("bob", 100)
	resp, _ = doRequest(t, srv, http.MethodPost, path, "bob", map[string]any{"paid": uint64(150)})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode, "balance below attached payment")
}

func TestValidateAndBurn(t *testing.T) {
	srv, _ := newTestServer(t)
	id := mintViaAPI(t, srv, "alice", 100)
	path := fmt.Sprintf("/v1/tickets/%d", id)

	resp, _ := doRequest(t, srv, http.MethodPost, path+"/validate", "alice", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := doRequest(t, srv, http.MethodPost, path+"/validate", "gate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["used"])

	resp, _ = doRequest(t, srv, http.MethodPost, path+"/validate", "gate", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodDelete, path, "admin", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminEndpoints(t *testing.T) {
	srv, reg := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodPost, "/v1/admin/royalty", "admin", map[string]any{
		"recipient": "treasury", "bps": uint64(500),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.Account("treasury"), reg.Royalty().Recipient)

	resp, _ = doRequest(t, srv, http.MethodPost, "/v1/admin/royalty", "admin", map[string]any{
		"recipient": "treasury", "bps": uint64(9999),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodPost, "/v1/admin/roles/grant", "admin", map[string]any{
		"account": "eve", "role": "MINTER",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, reg.HasRole("eve", domain.RoleMinter))

	resp, body := doRequest(t, srv, http.MethodGet, "/v1/accounts/eve/roles", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"MINTER"}, body["roles"])

	resp, _ = doRequest(t, srv, http.MethodPost, "/v1/admin/roles/revoke", "admin", map[string]any{
		"account": "eve", "role": "MINTER",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, reg.HasRole("eve", domain.RoleMinter))
}

func TestPauseEndpointsAndReadyz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodGet, "/v1/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodPost, "/v1/admin/pause", "alice", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodPost, "/v1/admin/pause", "admin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodGet, "/v1/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodPost, "/v1/tickets", "minter", map[string]any{
		"to": "alice", "event_id": "e", "price": uint64(100),
		"event_date": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodPost, "/v1/admin/unpause", "admin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodGet, "/v1/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestValidationMiddleware(t *testing.T) {
	srv, _ := newTestServer(t)

	// POST without X-Account
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/admin/pause", bytes.NewBufferString("{}"))
	require.NoError(t, err)
	req.Header.Set("Idempotency-Key", "test-key-0123456789abcdef")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// POST without Idempotency-Key
	req, err = http.NewRequest(http.MethodPost, srv.URL+"/v1/admin/pause", bytes.NewBufferString("{}"))
	require.NoError(t, err)
	req.Header.Set("X-Account", "admin")
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// short Idempotency-Key
	req, err = http.NewRequest(http.MethodPost, srv.URL+"/v1/admin/pause", bytes.NewBufferString("{}"))
	require.NoError(t, err)
	req.Header.Set("X-Account", "admin")
	req.Header.Set("Idempotency-Key", "short")
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetTicketEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	id := mintViaAPI(t, srv, "alice", 100)

	resp, body := doRequest(t, srv, http.MethodGet, fmt.Sprintf("/v1/tickets/%d", id), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", body["owner"])
	assert.Equal(t, false, body["for_sale"])

	resp, _ = doRequest(t, srv, http.MethodGet, "/v1/tickets/999999", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodGet, "/v1/tickets/not-a-number", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
