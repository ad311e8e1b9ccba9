package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"inspectline/internal/config"
	"inspectline/internal/db"
	"inspectline/internal/engine"
	"inspectline/internal/migrate"
)

var (
	inspectorHeaders  = map[string]string{"X-Actor-Id": "u1", "X-Actor-Email": "u1@example.com"}
	inspector2Headers = map[string]string{"X-Actor-Id": "u2", "X-Actor-Email": "u2@example.com"}
	adminHeaders      = map[string]string{"X-Actor-Id": "a1", "X-Actor-Email": "a1@inspectline.io"}
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{
		JWTSecret:              "test-secret",
		AdminDomain:            cfg.Auth.AdminDomain,
		AllowLegacyActorHeader: true,
		DevLoginEnabled:        true,
	}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createForm(t *testing.T, srv *testServer, headers map[string]string) FormEnvelope {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/forms/save", map[string]any{
		"type":        "equipment",
		"template_id": "tpl-1",
		"meta_data":   map[string]any{"site": "north"},
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("save form status %d: %s", res.StatusCode, string(data))
	}
	var env FormEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if !env.Success || env.Data.ID == "" {
		t.Fatalf("unexpected save envelope: %s", string(data))
	}
	return env
}

func TestFormLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	env := createForm(t, srv, inspectorHeaders)
	if env.Data.Status != "draft" {
		t.Fatalf("expected draft, got %s", env.Data.Status)
	}
	formID := env.Data.ID

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms/"+formID+"/operate", map[string]any{
		"action": "submit",
	}, inspectorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var op OperateEnvelope
	if err := json.Unmarshal(data, &op); err != nil {
		t.Fatalf("unmarshal operate: %v", err)
	}
	if op.Data.NewStatus != "pending" {
		t.Fatalf("expected pending, got %s", op.Data.NewStatus)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms/"+formID+"/operate", map[string]any{
		"action":  "approve",
		"comment": "looks good",
	}, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &op)
	if op.Data.NewStatus != "approved" {
		t.Fatalf("expected approved, got %s", op.Data.NewStatus)
	}
	if op.Data.Form.ReviewComment == nil || *op.Data.Form.ReviewComment != "looks good" {
		t.Fatalf("expected review comment in response")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/forms/"+formID+"/events?limit=10", nil, inspectorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	_ = json.Unmarshal(data, &events)
	if len(events) < 3 {
		t.Fatalf("expected at least 3 events, got %d", len(events))
	}
}

func TestErrorEnvelopes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	formID := createForm(t, srv, inspectorHeaders).Data.ID

	type errBody struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}

	cases := []struct {
		name     string
		method   string
		path     string
		body     any
		headers  map[string]string
		wantCode int
		wantErr  string
	}{
		{
			name: "approve draft is invalid transition", method: http.MethodPost,
			path: "/v0/forms/" + formID + "/operate", body: map[string]any{"action": "approve"},
			headers: adminHeaders, wantCode: http.StatusUnprocessableEntity, wantErr: "invalid_transition",
		},
		{
			name: "unknown action", method: http.MethodPost,
			path: "/v0/forms/" + formID + "/operate", body: map[string]any{"action": "escalate"},
			headers: adminHeaders, wantCode: http.StatusBadRequest, wantErr: "invalid_action",
		},
		{
			name: "non-admin review is forbidden", method: http.MethodPost,
			path: "/v0/forms/" + formID + "/operate", body: map[string]any{"action": "submit"},
			headers: inspector2Headers, wantCode: http.StatusForbidden, wantErr: "forbidden",
		},
		{
			name: "missing form", method: http.MethodGet,
			path: "/v0/forms/nope", headers: adminHeaders,
			wantCode: http.StatusNotFound, wantErr: "not_found",
		},
		{
			name: "foreign form read is forbidden", method: http.MethodGet,
			path: "/v0/forms/" + formID, headers: inspector2Headers,
			wantCode: http.StatusForbidden, wantErr: "forbidden",
		},
		{
			name: "no auth", method: http.MethodGet,
			path: "/v0/forms", headers: nil,
			wantCode: http.StatusUnauthorized, wantErr: "unauthorized",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, client, tc.method, srv.URL+tc.path, tc.body, tc.headers)
			if res.StatusCode != tc.wantCode {
				t.Fatalf("status %d, want %d: %s", res.StatusCode, tc.wantCode, string(data))
			}
			var body errBody
			if err := json.Unmarshal(data, &body); err != nil {
				t.Fatalf("unmarshal error body: %v: %s", err, string(data))
			}
			if body.Error.Code != tc.wantErr {
				t.Fatalf("code %q, want %q", body.Error.Code, tc.wantErr)
			}
		})
	}
}

func TestListVisibilityOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	mine := createForm(t, srv, inspectorHeaders).Data.ID
	theirs := createForm(t, srv, inspector2Headers).Data.ID
	for id, hdrs := range map[string]map[string]string{mine: inspectorHeaders, theirs: inspector2Headers} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms/"+id+"/operate", map[string]any{"action": "submit"}, hdrs)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/forms", nil, inspectorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedForms
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 1 || page.Items[0].ID != mine {
		t.Fatalf("inspector list leaked forms: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/forms?view_mode=reviewer&status=pending", nil, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("queue status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 pending forms in reviewer queue, got %d", len(page.Items))
	}
	if page.Pagination.Total != 2 || page.Pagination.TotalPages != 1 {
		t.Fatalf("unexpected pagination: %+v", page.Pagination)
	}
}

func TestDevLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"uid":   "a9",
		"email": "a9@inspectline.io",
		"name":  "Admin Nine",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("unexpected dev login response: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me MeResponse
	_ = json.Unmarshal(data, &me)
	if me.UID != "a9" || me.Role != "admin" || me.Source != "jwt" {
		t.Fatalf("unexpected identity: %+v", me)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"actor_id":    "bot-1",
		"actor_email": "bot-1@example.com",
		"name":        "ci",
	}, adminHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var created CreateAPIKeyResponse
	if err := json.Unmarshal(data, &created); err != nil || created.Key == "" {
		t.Fatalf("unexpected key response: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": created.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via api key status %d: %s", res.StatusCode, string(data))
	}
	var me MeResponse
	_ = json.Unmarshal(data, &me)
	if me.UID != "bot-1" || me.Role != "primary" || me.Source != "api_key" {
		t.Fatalf("unexpected identity: %+v", me)
	}

	// non-admin cannot mint keys
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"actor_id":    "bot-2",
		"actor_email": "bot-2@example.com",
	}, inspectorHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d: %s", res.StatusCode, string(data))
	}
}
