package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parley/pkg/auth"
	"parley/pkg/config"
	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/store"
	"parley/pkg/sync"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger.InitWithLevel("error")
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mgr := sync.NewManager(sync.Options{
		ReconcileWindow: 2 * time.Second,
		Location:        time.UTC,
	})
	t.Cleanup(mgr.CloseAll)

	srv := httptest.NewServer(NewRouter(mgr, auth.SecConfig{RPS: 1000, Burst: 1000}))
	t.Cleanup(srv.Close)
	return srv
}

func doReq(t *testing.T, method, url string, body any, userID string, role models.Role) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
		req.Header.Set("X-Role-Name", string(role))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, data
}

type listResponse struct {
	Conversation string          `json:"conversation"`
	Groups       []sync.DayGroup `json:"groups"`
}

func listFlat(t *testing.T, srv *httptest.Server, agent, userID string, role models.Role) []sync.ViewModel {
	t.Helper()
	code, body := doReq(t, http.MethodGet, srv.URL+"/v1/conversations/"+agent+"/messages", nil, userID, role)
	if code != http.StatusOK {
		t.Fatalf("list returned %d: %s", code, body)
	}
	var lr listResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	var out []sync.ViewModel
	for _, g := range lr.Groups {
		out = append(out, g.Messages...)
	}
	return out
}

// pollFlat lists repeatedly until cond accepts the projection.
func pollFlat(t *testing.T, srv *httptest.Server, agent, userID string, role models.Role, cond func([]sync.ViewModel) bool) []sync.ViewModel {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		vms := listFlat(t, srv, agent, userID, role)
		if cond(vms) {
			return vms
		}
		if time.Now().After(deadline) {
			t.Fatalf("projection never converged; last: %+v", vms)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func sendAs(t *testing.T, srv *httptest.Server, agent, userID string, role models.Role, content string) string {
	t.Helper()
	code, body := doReq(t, http.MethodPost, srv.URL+"/v1/conversations/"+agent+"/messages",
		map[string]string{"content": content}, userID, role)
	if code != http.StatusAccepted {
		t.Fatalf("send returned %d: %s", code, body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode send response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("send response carries no token")
	}
	return resp.Token
}

func oneConfirmed(vms []sync.ViewModel) bool {
	return len(vms) == 1 && vms[0].ID != ""
}

func TestSendAndList(t *testing.T) {
	srv := newTestServer(t)

	token := sendAs(t, srv, "a1", "a1", models.RoleAgent, "hello over http")
	t.Logf("send accepted with token %s", token)

	vms := pollFlat(t, srv, "a1", "a1", models.RoleAgent, oneConfirmed)
	if vms[0].Content != "hello over http" {
		t.Fatalf("unexpected content %q", vms[0].Content)
	}
	if vms[0].Key != token {
		t.Fatalf("projection key %q does not match correlation token %q", vms[0].Key, token)
	}
	if vms[0].Sender != models.RoleAgent {
		t.Fatalf("unexpected sender %s", vms[0].Sender)
	}
}

func TestIdentityRequired(t *testing.T) {
	srv := newTestServer(t)

	code, body := doReq(t, http.MethodGet, srv.URL+"/v1/conversations/a1/messages", nil, "", "")
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity headers, got %d: %s", code, body)
	}

	code, body = doReq(t, http.MethodGet, srv.URL+"/v1/conversations/a1/messages", nil, "a1", "superuser")
	if code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown role, got %d: %s", code, body)
	}
}

func TestAgentConversationScoping(t *testing.T) {
	srv := newTestServer(t)

	code, body := doReq(t, http.MethodGet, srv.URL+"/v1/conversations/a2/messages", nil, "a1", models.RoleAgent)
	if code != http.StatusForbidden {
		t.Fatalf("agent must not reach another agent's conversation, got %d: %s", code, body)
	}

	// the counterpart side is one inbox over all conversations
	code, _ = doReq(t, http.MethodGet, srv.URL+"/v1/conversations/a2/messages", nil, "support", models.RoleCounterpart)
	if code != http.StatusOK {
		t.Fatalf("counterpart must reach any conversation, got %d", code)
	}
}

func TestEditOwnMessageOnly(t *testing.T) {
	srv := newTestServer(t)

	sendAs(t, srv, "a1", "a1", models.RoleAgent, "first wording")
	vms := pollFlat(t, srv, "a1", "a1", models.RoleAgent, oneConfirmed)
	id := vms[0].ID

	code, body := doReq(t, http.MethodPut, srv.URL+"/v1/messages/"+id,
		map[string]string{"content": "hijacked"}, "support", models.RoleCounterpart)
	if code != http.StatusForbidden {
		t.Fatalf("non-sender edit must be rejected, got %d: %s", code, body)
	}

	code, body = doReq(t, http.MethodPut, srv.URL+"/v1/messages/"+id,
		map[string]string{"content": "second wording"}, "a1", models.RoleAgent)
	if code != http.StatusOK {
		t.Fatalf("sender edit failed with %d: %s", code, body)
	}
	vms = pollFlat(t, srv, "a1", "a1", models.RoleAgent, func(vms []sync.ViewModel) bool {
		return len(vms) == 1 && vms[0].Edited
	})
	if vms[0].Content != "second wording" {
		t.Fatalf("edit not applied: %q", vms[0].Content)
	}
}

func TestHideIsPerViewer(t *testing.T) {
	srv := newTestServer(t)

	sendAs(t, srv, "a1", "a1", models.RoleAgent, "awkward")
	vms := pollFlat(t, srv, "a1", "a1", models.RoleAgent, oneConfirmed)
	id := vms[0].ID

	code, body := doReq(t, http.MethodPost, srv.URL+"/v1/messages/"+id+"/hide", nil, "a1", models.RoleAgent)
	if code != http.StatusNoContent {
		t.Fatalf("hide returned %d: %s", code, body)
	}

	pollFlat(t, srv, "a1", "a1", models.RoleAgent, func(vms []sync.ViewModel) bool { return len(vms) == 0 })
	other := listFlat(t, srv, "a1", "support", models.RoleCounterpart)
	if len(other) != 1 {
		t.Fatalf("hide leaked to the other viewer: %+v", other)
	}
}

func TestDeleteForEveryone(t *testing.T) {
	srv := newTestServer(t)

	sendAs(t, srv, "a1", "a1", models.RoleAgent, "retracted")
	vms := pollFlat(t, srv, "a1", "a1", models.RoleAgent, oneConfirmed)
	id := vms[0].ID

	code, body := doReq(t, http.MethodDelete, srv.URL+"/v1/messages/"+id, nil, "support", models.RoleCounterpart)
	if code != http.StatusForbidden {
		t.Fatalf("only the sender removes for everyone, got %d: %s", code, body)
	}

	code, _ = doReq(t, http.MethodDelete, srv.URL+"/v1/messages/"+id, nil, "a1", models.RoleAgent)
	if code != http.StatusNoContent {
		t.Fatalf("remove returned %d", code)
	}
	pollFlat(t, srv, "a1", "a1", models.RoleAgent, func(vms []sync.ViewModel) bool { return len(vms) == 0 })
	if other := listFlat(t, srv, "a1", "support", models.RoleCounterpart); len(other) != 0 {
		t.Fatalf("removed message still visible to the other viewer: %+v", other)
	}
}

func TestStatusAdvance(t *testing.T) {
	srv := newTestServer(t)

	sendAs(t, srv, "a1", "a1", models.RoleAgent, "read me")
	vms := pollFlat(t, srv, "a1", "a1", models.RoleAgent, oneConfirmed)
	id := vms[0].ID

	code, body := doReq(t, http.MethodPost, srv.URL+"/v1/messages/"+id+"/status",
		map[string]string{"status": "seen"}, "support", models.RoleCounterpart)
	if code != http.StatusOK {
		t.Fatalf("status advance returned %d: %s", code, body)
	}
	pollFlat(t, srv, "a1", "a1", models.RoleAgent, func(vms []sync.ViewModel) bool {
		return len(vms) == 1 && vms[0].Status == models.StatusSeen
	})

	// regression attempt is accepted and ignored
	code, _ = doReq(t, http.MethodPost, srv.URL+"/v1/messages/"+id+"/status",
		map[string]string{"status": "delivered"}, "support", models.RoleCounterpart)
	if code != http.StatusOK {
		t.Fatalf("idempotent regression returned %d", code)
	}
	time.Sleep(50 * time.Millisecond)
	vms = listFlat(t, srv, "a1", "a1", models.RoleAgent)
	if vms[0].Status != models.StatusSeen {
		t.Fatalf("status regressed to %s", vms[0].Status)
	}

	code, body = doReq(t, http.MethodPost, srv.URL+"/v1/messages/"+id+"/status",
		map[string]string{"status": "bogus"}, "support", models.RoleCounterpart)
	if code != http.StatusBadRequest {
		t.Fatalf("unknown status must be rejected, got %d: %s", code, body)
	}
}

func TestMessageRoutesReturn404ForUnknownID(t *testing.T) {
	srv := newTestServer(t)

	code, body := doReq(t, http.MethodPut, srv.URL+"/v1/messages/nope",
		map[string]string{"content": "x"}, "a1", models.RoleAgent)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown message, got %d: %s", code, body)
	}
}

func TestSignedIdentity(t *testing.T) {
	srv := newTestServer(t)

	config.SetRuntime(&config.RuntimeConfig{SigningKeys: map[string]struct{}{"test-key": {}}})
	t.Cleanup(func() { config.SetRuntime(nil) })

	// unsigned requests are rejected once keys exist
	code, body := doReq(t, http.MethodGet, srv.URL+"/v1/conversations/a1/messages", nil, "a1", models.RoleAgent)
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d: %s", code, body)
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/conversations/a1/messages", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-User-ID", "a1")
	req.Header.Set("X-Role-Name", "agent")
	req.Header.Set("X-User-Signature", auth.Sign("test-key", "a1"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signed request rejected with %d", resp.StatusCode)
	}

	req.Header.Set("X-User-Signature", auth.Sign("wrong-key", "a1"))
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged signature accepted with %d", resp2.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		code, _ := doReq(t, http.MethodGet, srv.URL+path, nil, "", "")
		if code != http.StatusOK {
			t.Fatalf("%s returned %d", path, code)
		}
	}
}
