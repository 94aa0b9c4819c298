package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, store tokenStore) (*httptest.Server, *hub) {
	t.Helper()
	h := newHub()
	d := newDispatcher(h)
	g := newGate(store)
	ticker := newMTicker(pingPeriod)
	t.Cleanup(ticker.stop)
	srv := httptest.NewServer(newHandler(h, d, g, ticker, ""))
	t.Cleanup(srv.Close)
	return srv, h
}

func postJSON(t *testing.T, url string, body interface{}) (int, apiResponse) {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatal("marshal:", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatal("post:", err)
	}
	defer resp.Body.Close()
	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatal("decode:", err)
	}
	return resp.StatusCode, parsed
}

func TestTokenIssueCheckDelete(t *testing.T) {
	srv, _ := newTestServer(t, newMemStore())

	// Both fields are required.
	code, resp := postJSON(t, srv.URL+"/token", map[string]string{"purchase_code": "abc"})
	if code != 400 || resp.Status != 400 {
		t.Fatal("Expectation: 400, Received:", code, resp)
	}

	code, resp = postJSON(t, srv.URL+"/token",
		map[string]string{"purchase_code": "abc", "site_url": "http://x"})
	if code != 200 || resp.Status != 200 {
		t.Fatal("Expectation: 200, Received:", code, resp)
	}
	token := resp.Data.(map[string]interface{})["token"].(string)
	if len(token) != 64 {
		t.Fatal("Expectation: 64-char token, Received:", len(token))
	}

	// The issued token checks out for its purchase code only.
	_, resp = postJSON(t, srv.URL+"/check",
		map[string]string{"purchase_code": "abc", "token": token})
	if resp.Status != 200 {
		t.Fatal("Expectation: valid, Received:", resp)
	}
	_, resp = postJSON(t, srv.URL+"/check",
		map[string]string{"purchase_code": "xyz", "token": token})
	if resp.Status != 500 {
		t.Fatal("Expectation: invalid, Received:", resp)
	}

	_, resp = postJSON(t, srv.URL+"/delete",
		map[string]string{"purchase_code": "abc", "token": token})
	if resp.Status != 200 {
		t.Fatal("Expectation: deleted, Received:", resp)
	}
	_, resp = postJSON(t, srv.URL+"/check",
		map[string]string{"purchase_code": "abc", "token": token})
	if resp.Status != 500 {
		t.Fatal("Expectation: invalid after delete, Received:", resp)
	}
	_, resp = postJSON(t, srv.URL+"/delete",
		map[string]string{"purchase_code": "abc", "token": token})
	if resp.Status != 500 {
		t.Fatal("Expectation: token not found, Received:", resp)
	}
}

func TestNotifyRequiresEventName(t *testing.T) {
	srv, _ := newTestServer(t, newMemStore())

	code, resp := postJSON(t, srv.URL+"/notify", map[string]interface{}{})
	if code != 400 || resp.Message != "Missing event name" {
		t.Fatal("Expectation: 400 missing event name, Received:", code, resp)
	}
}

func TestNotifyTokenValidation(t *testing.T) {
	store := newMemStore()
	store.insert(context.Background(), "abc", "http://x", "tok1")
	srv, _ := newTestServer(t, store)

	// Channel-scoped pushes need a valid token.
	code, _ := postJSON(t, srv.URL+"/notify", map[string]interface{}{
		"token": "bogus", "event_name": "price_update"})
	if code != 403 {
		t.Fatal("Expectation: 403, Received:", code)
	}
	code, resp := postJSON(t, srv.URL+"/notify", map[string]interface{}{
		"token": "tok1", "event_name": "price_update", "event_content": 5})
	if code != 200 || resp.Status != 200 {
		t.Fatal("Expectation: 200, Received:", code, resp)
	}

	// Global pushes need no token at all.
	code, _ = postJSON(t, srv.URL+"/notify", map[string]interface{}{
		"event_name": "maintenance"})
	if code != 200 {
		t.Fatal("Expectation: 200, Received:", code)
	}
}

func TestNotifyStoreFailure(t *testing.T) {
	srv, _ := newTestServer(t, brokenStore{err: context.DeadlineExceeded})

	code, _ := postJSON(t, srv.URL+"/notify", map[string]interface{}{
		"token": "tok1", "event_name": "price_update"})
	if code != 500 {
		t.Fatal("Expectation: 500, Received:", code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	store := newMemStore()
	store.insert(context.Background(), "abc", "http://x", "tok1")
	srv, h := newTestServer(t, store)

	code, _ := postJSON(t, srv.URL+"/status", map[string]string{
		"token": "bogus", "socket_id": "a"})
	if code != 403 {
		t.Fatal("Expectation: 403, Received:", code)
	}

	code, resp := postJSON(t, srv.URL+"/status", map[string]string{
		"token": "tok1", "socket_id": "a"})
	if code != 200 || resp.Data.(map[string]interface{})["connected"] != false {
		t.Fatal("Expectation: offline, Received:", code, resp)
	}

	h.admit(newTestConnection(h, newDispatcher(h), "a", "tok1"))
	_, resp = postJSON(t, srv.URL+"/status", map[string]string{
		"token": "tok1", "socket_id": "a"})
	if resp.Data.(map[string]interface{})["connected"] != true {
		t.Fatal("Expectation: online, Received:", resp)
	}
}

func TestConnectRejections(t *testing.T) {
	store := newMemStore()
	store.insert(context.Background(), "abc", "http://x", "tok1")
	srv, _ := newTestServer(t, store)

	for _, tc := range []struct {
		url  string
		want int
	}{
		{srv.URL + "/connect", 401},
		{srv.URL + "/connect?token=bogus", 403},
	} {
		resp, err := http.Get(tc.url)
		if err != nil {
			t.Fatal("get:", err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatal("Expectation:", tc.want, "Received:", resp.StatusCode, "for", tc.url)
		}
	}

	// An unreachable store is a 500, distinct from an unknown token.
	broken, _ := newTestServer(t, brokenStore{err: context.DeadlineExceeded})
	resp, err := http.Get(broken.URL + "/connect?token=tok1")
	if err != nil {
		t.Fatal("get:", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 500 {
		t.Fatal("Expectation: 500, Received:", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, newMemStore())
	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal("get:", err)
		}
		resp.Body.Close()
		if resp.StatusCode != 200 {
			t.Fatal("Expectation: 200, Received:", resp.StatusCode, "for", path)
		}
	}
}
