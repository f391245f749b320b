package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeepr.org/internal/access"
	"gatekeepr.org/internal/audit"
	"gatekeepr.org/internal/auth"
	"gatekeepr.org/internal/authz"
	"gatekeepr.org/internal/catalog"
	"gatekeepr.org/internal/config"
	"gatekeepr.org/internal/identity"
	"gatekeepr.org/internal/store"
	"gatekeepr.org/internal/store/storetest"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *store.Store
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	s := storetest.Open(t)
	rec := audit.NewRecorder(nil)
	resolver, err := authz.NewResolver(config.DefaultPolicy())
	require.NoError(t, err)
	ids, err := identity.NewService(s.Identity(), rec)
	require.NoError(t, err)
	tools, err := catalog.NewService(s.Catalog(), rec)
	require.NoError(t, err)
	requests, err := access.NewService(s.Access(), rec, resolver)
	require.NoError(t, err)
	trail, err := audit.NewService(s)
	require.NoError(t, err)
	tokens, err := auth.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)

	api, err := New(Deps{
		Identity: ids,
		Catalog:  tools,
		Access:   requests,
		Audit:    trail,
		Tokens:   tokens,
		Ready:    ReadyProbe{DB: s.DB()},
	}, Options{
		Version:        "test",
		RateBurst:      1000,
		RatePerSec:     1000,
		AuthRateBurst:  1000,
		AuthRatePerSec: 1000,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), store: s, t: t}
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			b, err := json.Marshal(body)
			require.NoError(c.t, err)
			raw = string(b)
		}
		payload = bytes.NewBufferString(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(authHeader, bearer+token)
	}
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	return resp
}

func (c *apiClient) get(path, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, token, nil)
}

func (c *apiClient) post(path, token string, body any) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, token, body)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body)
	}
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

func expectError(t *testing.T, resp *http.Response, status int, code string) errorBody {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.Equal(t, code, body.Code)
	assert.NotEmpty(t, body.RequestID)
	return body
}

// setupRoot completes first-run setup and returns the super admin's token and id.
func (c *apiClient) setupRoot() (string, int64) {
	c.t.Helper()
	resp := c.post("/setup", "", map[string]string{"email": "root@example.com", "password": "root-password"})
	expectStatus(c.t, resp, http.StatusCreated)
	sess := decode[sessionResponse](c.t, resp)
	me := decode[identity.User](c.t, c.get("/me", sess.Token))
	return sess.Token, me.ID
}

func (c *apiClient) createUser(token, email, role string) int64 {
	c.t.Helper()
	r, err := c.store.GetRoleByName(c.t.Context(), role)
	require.NoError(c.t, err)
	resp := c.post("/api/users", token, map[string]any{
		"email":    email,
		"password": "user-password",
		"role_ids": []int64{r.ID},
	})
	expectStatus(c.t, resp, http.StatusCreated)
	return decode[message](c.t, resp).ID
}

func (c *apiClient) login(email, password string) string {
	c.t.Helper()
	resp := c.post("/login", "", map[string]string{"email": email, "password": password})
	expectStatus(c.t, resp, http.StatusOK)
	return decode[sessionResponse](c.t, resp).Token
}

func TestHealthAndReadiness(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", "")
	expectStatus(t, resp, http.StatusOK)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
	health := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "test", health["version"])

	resp = c.get("/readyz", "")
	expectStatus(t, resp, http.StatusOK)
	assert.Equal(t, "ready", decode[map[string]any](t, resp)["status"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	c := newTestAPI(t)
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/users", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "trace-123")
	resp, err := c.client.Do(req)
	require.NoError(t, err)

	assert.Equal(t, "trace-123", resp.Header.Get(requestIDHeader))
	body := expectError(t, resp, http.StatusUnauthorized, "unauthenticated")
	assert.Equal(t, "trace-123", body.RequestID)
}

func TestSetupLoginAndSession(t *testing.T) {
	c := newTestAPI(t)

	assert.True(t, decode[map[string]bool](t, c.get("/check-setup", ""))["setup_required"])

	resp := c.post("/setup", "", map[string]string{"email": "root@example.com", "password": "root-password"})
	expectStatus(t, resp, http.StatusCreated)
	var cookie *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == cookieName {
			cookie = ck
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	sess := decode[sessionResponse](t, resp)
	assert.Equal(t, []string{identity.SuperAdminRole}, sess.Roles)

	expectError(t, c.post("/setup", "", map[string]string{"email": "other@example.com", "password": "root-password"}),
		http.StatusConflict, "conflict")
	assert.False(t, decode[map[string]bool](t, c.get("/check-setup", ""))["setup_required"])

	body := expectError(t, c.post("/login", "", map[string]string{"email": "root@example.com", "password": "wrong-password"}),
		http.StatusUnauthorized, "unauthenticated")
	assert.Equal(t, "unauthenticated", body.Error)

	token := c.login("ROOT@example.com", "root-password")
	me := decode[identity.User](t, c.get("/me", token))
	assert.Equal(t, "root@example.com", me.Email)
	assert.Contains(t, me.Permissions, identity.PermAuditExport)

	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/me", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: cookie.Value})
	resp, err = c.client.Do(req)
	require.NoError(t, err)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/logout", token, nil)
	expectStatus(t, resp, http.StatusOK)
	for _, ck := range resp.Cookies() {
		if ck.Name == cookieName {
			assert.Empty(t, ck.Value)
			assert.Less(t, ck.MaxAge, 0)
		}
	}
	resp.Body.Close()
}

func TestAuthenticationAndPermissionGuards(t *testing.T) {
	c := newTestAPI(t)
	root, _ := c.setupRoot()

	expectError(t, c.get("/api/users", ""), http.StatusUnauthorized, "unauthenticated")
	expectError(t, c.get("/api/users", "not-a-token"), http.StatusUnauthorized, "unauthenticated")

	c.createUser(root, "alice@example.com", identity.UserRole)
	alice := c.login("alice@example.com", "user-password")

	body := expectError(t, c.get("/api/users", alice), http.StatusForbidden, "not_permitted")
	assert.Equal(t, "not permitted", body.Error)
	expectError(t, c.post("/api/tools", alice, map[string]string{"name": "jira", "display_name": "Jira"}),
		http.StatusForbidden, "not_permitted")

	resp := c.get("/api/tools", alice)
	expectStatus(t, resp, http.StatusOK)
	assert.Empty(t, decode[[]catalog.Tool](t, resp))

	expectError(t, c.get("/api/tools/abc", alice), http.StatusBadRequest, "validation")
	expectError(t, c.get("/api/tools/999", alice), http.StatusNotFound, "not_found")
	expectError(t, c.get("/api/nope", alice), http.StatusNotFound, "not_found")
}

func TestStrictDecoding(t *testing.T) {
	c := newTestAPI(t)
	root, _ := c.setupRoot()

	expectError(t, c.post("/api/tools", root, `{"name":"jira","display_name":"Jira","colour":"red"}`),
		http.StatusBadRequest, "validation")
	expectError(t, c.post("/api/tools", root, `{"name":"jira","display_name":"Jira"} {}`),
		http.StatusBadRequest, "validation")
	expectError(t, c.post("/api/tools", root, nil), http.StatusBadRequest, "validation")
}

func TestDeactivatedUserIsLockedOut(t *testing.T) {
	c := newTestAPI(t)
	root, _ := c.setupRoot()
	bobID := c.createUser(root, "bob@example.com", identity.UserRole)
	bob := c.login("bob@example.com", "user-password")

	resp := c.get("/me", bob)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/api/users/"+itoa(bobID), root, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	expectError(t, c.get("/me", bob), http.StatusUnauthorized, "unauthenticated")
	expectError(t, c.post("/login", "", map[string]string{"email": "bob@example.com", "password": "user-password"}),
		http.StatusUnauthorized, "unauthenticated")
}

func TestAccessRequestFlow(t *testing.T) {
	c := newTestAPI(t)
	root, rootID := c.setupRoot()
	aliceID := c.createUser(root, "alice@example.com", identity.UserRole)
	alice := c.login("alice@example.com", "user-password")

	resp := c.post("/api/tools", root, map[string]string{"name": "grafana", "display_name": "Grafana", "category": "observability"})
	expectStatus(t, resp, http.StatusCreated)
	toolID := decode[message](t, resp).ID

	resp = c.post("/api/tools/"+itoa(toolID)+"/approvers", root, map[string]int64{"user_id": rootID})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()
	approvers := decode[[]catalog.ToolApprover](t, c.get("/api/tools/"+itoa(toolID)+"/approvers", root))
	require.Len(t, approvers, 1)

	resp = c.post("/api/access/request", alice, map[string]any{"target_id": toolID, "access_level": "read", "reason": "dashboards"})
	expectStatus(t, resp, http.StatusCreated)
	reqID := decode[message](t, resp).ID

	expectError(t, c.post("/api/access/request", alice, map[string]any{"target_id": toolID, "access_level": "read"}),
		http.StatusConflict, "conflict")
	expectError(t, c.post("/api/access/request", alice, map[string]any{"target_id": toolID, "access_level": "root"}),
		http.StatusBadRequest, "validation")

	pending := decode[[]access.Request](t, c.get("/api/access/requests/pending", root))
	require.Len(t, pending, 1)
	assert.Equal(t, reqID, pending[0].ID)
	assert.Empty(t, decode[[]access.Request](t, c.get("/api/access/requests/pending", alice)))

	expectError(t, c.post("/api/access/requests/"+itoa(reqID)+"/approve", alice, nil), http.StatusForbidden, "not_permitted")

	resp = c.post("/api/access/requests/"+itoa(reqID)+"/approve", root, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	expectError(t, c.post("/api/access/requests/"+itoa(reqID)+"/approve", root, nil), http.StatusConflict, "invalid_state")
	expectError(t, c.post("/api/access/requests/"+itoa(reqID)+"/reject", root, map[string]string{"reason": "late"}),
		http.StatusConflict, "invalid_state")

	mine := decode[[]access.Request](t, c.get("/api/access/my-requests", alice))
	require.Len(t, mine, 1)
	assert.Equal(t, access.StatusApproved, mine[0].Status)

	got := decode[access.Request](t, c.get("/api/access/requests/"+itoa(reqID), alice))
	assert.Equal(t, access.StatusApproved, got.Status)
	expectError(t, c.get("/api/access/requests", alice), http.StatusForbidden, "not_permitted")
	approved := decode[[]access.Request](t, c.get("/api/access/requests?status=approved&user_id="+itoa(aliceID), root))
	require.Len(t, approved, 1)

	revoke := map[string]any{"user_id": aliceID, "target_type": "tool", "target_id": toolID}
	resp = c.post("/api/access/revoke", root, revoke)
	expectStatus(t, resp, http.StatusOK)
	assert.Equal(t, 1, *decode[message](t, resp).Count)
	resp = c.post("/api/access/revoke", root, revoke)
	expectStatus(t, resp, http.StatusOK)
	assert.Equal(t, 0, *decode[message](t, resp).Count)
}

func TestDirectAndBulkGrant(t *testing.T) {
	c := newTestAPI(t)
	root, _ := c.setupRoot()
	aliceID := c.createUser(root, "alice@example.com", identity.UserRole)
	bobID := c.createUser(root, "bob@example.com", identity.UserRole)

	resp := c.post("/api/tools", root, map[string]string{"name": "vault", "display_name": "Vault"})
	expectStatus(t, resp, http.StatusCreated)
	toolID := decode[message](t, resp).ID

	resp = c.post("/api/access/grant", root, map[string]any{"user_id": aliceID, "target_id": toolID, "access_level": "write", "duration_minutes": 30})
	expectStatus(t, resp, http.StatusCreated)
	granted := decode[access.Request](t, c.get("/api/access/requests/"+itoa(decode[message](t, resp).ID), root))
	assert.Equal(t, access.StatusApproved, granted.Status)
	require.NotNil(t, granted.ExpiresAt)

	resp = c.post("/api/bulk/access/grant", root, map[string]any{"user_ids": []int64{aliceID, bobID, 9999}, "tool_ids": []int64{toolID}})
	expectStatus(t, resp, http.StatusOK)
	res := decode[message](t, resp)
	assert.Equal(t, 2, *res.Count)
	assert.Equal(t, 1, *res.Failed)
}

func TestAuditLogsAndExport(t *testing.T) {
	c := newTestAPI(t)
	root, _ := c.setupRoot()
	c.createUser(root, "alice@example.com", identity.UserRole)
	alice := c.login("alice@example.com", "user-password")

	expectError(t, c.get("/api/audit/logs", alice), http.StatusForbidden, "not_permitted")

	resp := c.get("/api/audit/logs?limit=2&sort_by=created_at&order=asc", root)
	expectStatus(t, resp, http.StatusOK)
	page := decode[audit.Result](t, resp)
	assert.Equal(t, 2, page.Limit)
	assert.Len(t, page.Data, 2)
	assert.GreaterOrEqual(t, page.Total, 3)

	logins := decode[audit.Result](t, c.get("/api/audit/logs?action=login", root))
	require.NotEmpty(t, logins.Data)
	for _, e := range logins.Data {
		assert.Equal(t, audit.ActionLogin, e.Action)
		assert.NotEmpty(t, e.RequestID)
	}

	expectError(t, c.get("/api/audit/logs?sort_by=nope", root), http.StatusBadRequest, "validation")
	expectError(t, c.get("/api/audit/logs?start_date=2026-02-01&end_date=2026-01-01", root), http.StatusBadRequest, "validation")
	expectError(t, c.get("/api/audit/logs?start_date=yesterday", root), http.StatusBadRequest, "validation")

	cats := decode[[]string](t, c.get("/api/audit/categories", root))
	assert.Contains(t, cats, "auth")

	resp = c.get("/api/audit/export", root)
	expectStatus(t, resp, http.StatusOK)
	assert.Equal(t, "attachment; filename=audit_logs_export.json", resp.Header.Get("Content-Disposition"))
	exported := decode[[]audit.Entry](t, resp)
	assert.Len(t, exported, page.Total)

	resp = c.get("/api/audit/export?action=nothing_matches", root)
	expectStatus(t, resp, http.StatusOK)
	assert.Empty(t, decode[[]audit.Entry](t, resp))
}
