package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hedgegram/auth"
	"hedgegram/broker"
	"hedgegram/config"
	"hedgegram/journal"
	"hedgegram/session"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAPIKey = "test-key"
const testPIN = "4242"

type testHarness struct {
	server  *Server
	ctrl    *session.Controller
	creds   *auth.Store
	journal *journal.Journal

	// Unique client address per harness so the shared per-IP rate
	// limiter never couples tests.
	remoteAddr string
}

var harnessSeq int

func newHarness(t *testing.T, login *broker.LoginClient, live *broker.LiveSource) *testHarness {
	t.Helper()
	dir := t.TempDir()

	creds := auth.NewStore(filepath.Join(dir, "live_auth.json"), time.UTC)
	modeStore := session.NewModeStore(filepath.Join(dir, "trade_mode.json"))
	j, err := journal.Open(":memory:")
	if err != nil {
		t.Fatalf("journal.Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	cfg := session.Config{
		Paper:        broker.NewPaperSource(""),
		ModeStore:    modeStore,
		Credentials:  creds,
		Journal:      j,
		ModePIN:      testPIN,
		PollInterval: 20 * time.Millisecond,
	}
	if live != nil {
		cfg.Live = live
	}
	ctrl, err := session.NewController(cfg)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	t.Cleanup(func() { ctrl.Stop("") })

	server := NewServer(Options{
		Controller: ctrl,
		Creds:      creds,
		Login:      login,
		Live:       live,
		Journal:    j,
		APIKey:     testAPIKey,
	})

	harnessSeq++
	return &testHarness{
		server:     server,
		ctrl:       ctrl,
		creds:      creds,
		journal:    j,
		remoteAddr: fmt.Sprintf("10.1.%d.1:50000", harnessSeq),
	}
}

func (h *testHarness) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = h.remoteAddr
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("x-api-key", testAPIKey)
	}
	w := httptest.NewRecorder()
	h.server.Router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, w.Body.String())
	}
	return out
}

func TestHealthIsUnauthenticated(t *testing.T) {
	h := newHarness(t, nil, nil)
	w := h.do(t, http.MethodGet, "/health", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", w.Code)
	}
}

func TestControlRequiresAPIKey(t *testing.T) {
	h := newHarness(t, nil, nil)

	w := h.do(t, http.MethodGet, "/control/status", "", false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no key = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/control/status", nil)
	req.RemoteAddr = h.remoteAddr
	req.Header.Set("x-api-key", "wrong")
	w = httptest.NewRecorder()
	h.server.Router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key = %d, want 401", w.Code)
	}

	// The key is also accepted as a query parameter.
	w2 := h.do(t, http.MethodGet, "/control/status?api_key="+testAPIKey, "", false)
	if w2.Code != http.StatusOK {
		t.Fatalf("query key = %d, want 200", w2.Code)
	}
}

func TestStartStopStatusFlow(t *testing.T) {
	h := newHarness(t, nil, nil)

	w := h.do(t, http.MethodPost, "/control/start", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("start = %d, want 200", w.Code)
	}
	if got := decode(t, w)["status"]; got != "started" {
		t.Fatalf("start status = %v, want started", got)
	}

	w = h.do(t, http.MethodPost, "/control/start", "", true)
	if got := decode(t, w)["status"]; got != "already_running" {
		t.Fatalf("second start status = %v, want already_running", got)
	}

	w = h.do(t, http.MethodGet, "/control/status", "", true)
	body := decode(t, w)
	if body["running"] != true || body["mode"] != "paper" {
		t.Fatalf("status body = %v", body)
	}

	w = h.do(t, http.MethodPost, "/control/stop", "", true)
	if got := decode(t, w)["status"]; got != "stopped" {
		t.Fatalf("stop status = %v, want stopped", got)
	}

	w = h.do(t, http.MethodGet, "/control/status", "", true)
	if body := decode(t, w); body["running"] != false {
		t.Fatalf("status after stop = %v", body)
	}
}

func TestPnLAndPositions(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.do(t, http.MethodPost, "/control/start", "", true)

	deadline := time.Now().Add(time.Second)
	var body map[string]interface{}
	for time.Now().Before(deadline) {
		w := h.do(t, http.MethodGet, "/control/positions", "", true)
		body = decode(t, w)
		if count, ok := body["positions_count"].(float64); ok && count > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if count, _ := body["positions_count"].(float64); count != 2 {
		t.Fatalf("positions_count = %v, want 2 (paper book)", body["positions_count"])
	}

	w := h.do(t, http.MethodGet, "/control/pnl", "", true)
	pnlBody := decode(t, w)
	if _, ok := pnlBody["pnl"].(float64); !ok {
		t.Fatalf("pnl body = %v", pnlBody)
	}
}

func TestSetModeValidation(t *testing.T) {
	h := newHarness(t, nil, nil)

	w := h.do(t, http.MethodPost, "/control/mode", `{"mode":"paper","pin":"0000"}`, true)
	if w.Code != http.StatusForbidden {
		t.Fatalf("wrong pin = %d, want 403", w.Code)
	}

	w = h.do(t, http.MethodPost, "/control/mode", `{"mode":"turbo","pin":"4242"}`, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid mode = %d, want 400", w.Code)
	}

	w = h.do(t, http.MethodPost, "/control/mode", `{not json`, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body = %d, want 400", w.Code)
	}

	w = h.do(t, http.MethodPost, "/control/mode", `{"mode":"paper","pin":"4242"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("paper mode = %d, want 200 (%s)", w.Code, w.Body.String())
	}
}

func TestSetModeLiveWithoutCredentialConflicts(t *testing.T) {
	env := &config.EnvConfig{BrokerClientID: "FT0001"}
	creds := auth.NewStore(filepath.Join(t.TempDir(), "unused.json"), time.UTC)
	live := broker.NewLiveSource(env, creds, time.Second)
	h := newHarness(t, nil, live)

	w := h.do(t, http.MethodPost, "/control/mode", `{"mode":"live","pin":"4242"}`, true)
	if w.Code != http.StatusConflict {
		t.Fatalf("live without credential = %d, want 409 (%s)", w.Code, w.Body.String())
	}
}

func TestPanicRequiresConfirmation(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.do(t, http.MethodPost, "/control/start", "", true)

	w := h.do(t, http.MethodPost, "/control/panic", `{}`, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("panic without confirm = %d, want 400", w.Code)
	}
	if !h.ctrl.Running() {
		t.Fatal("unconfirmed panic stopped the session")
	}

	w = h.do(t, http.MethodPost, "/control/panic", `{"confirm":true}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("confirmed panic = %d, want 200", w.Code)
	}
	if got := decode(t, w)["status"]; got != "panic_executed" {
		t.Fatalf("panic status = %v", got)
	}
	if h.ctrl.Running() {
		t.Fatal("session still running after panic")
	}

	events, err := h.journal.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	found := false
	for _, e := range events {
		if e.Kind == journal.KindPanic {
			found = true
		}
	}
	if !found {
		t.Fatal("panic not journaled")
	}
}

func TestTOTPNotConfigured(t *testing.T) {
	h := newHarness(t, nil, nil)
	w := h.do(t, http.MethodPost, "/control/totp", `{"totp":"123456"}`, true)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("totp without login client = %d, want 503", w.Code)
	}
}

func TestTOTPMissingCode(t *testing.T) {
	env := &config.EnvConfig{BrokerClientID: "FT0001", BrokerAPISecret: "secret", BrokerLoginURL: "http://127.0.0.1:0/login"}
	creds := auth.NewStore(filepath.Join(t.TempDir(), "unused.json"), time.UTC)
	login := broker.NewLoginClient(env, creds, time.Second)
	h := newHarness(t, login, nil)

	w := h.do(t, http.MethodPost, "/control/totp", `{"totp":""}`, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("totp without code or seed = %d, want 400 (%s)", w.Code, w.Body.String())
	}
}

func TestTOTPExchangeThroughAPI(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"jwtToken": "tok-api", "sid": "sid-api"})
	}))
	defer upstream.Close()

	credPath := filepath.Join(t.TempDir(), "live_auth.json")
	creds := auth.NewStore(credPath, time.UTC)
	env := &config.EnvConfig{BrokerClientID: "FT0001", BrokerAPISecret: "secret", BrokerLoginURL: upstream.URL}
	login := broker.NewLoginClient(env, creds, 2*time.Second)
	h := newHarness(t, login, nil)

	w := h.do(t, http.MethodPost, "/control/totp", `{"totp":"123456"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("totp exchange = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["status"] != "ok" || body["sid_present"] != true {
		t.Fatalf("totp body = %v", body)
	}
}

func TestTOTPUpstreamRejectionRelaysBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid totp"}`, http.StatusBadRequest)
	}))
	defer upstream.Close()

	creds := auth.NewStore(filepath.Join(t.TempDir(), "unused.json"), time.UTC)
	env := &config.EnvConfig{BrokerClientID: "FT0001", BrokerAPISecret: "secret", BrokerLoginURL: upstream.URL}
	login := broker.NewLoginClient(env, creds, 2*time.Second)
	h := newHarness(t, login, nil)

	w := h.do(t, http.MethodPost, "/control/totp", `{"totp":"000000"}`, true)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("rejected totp = %d, want 502", w.Code)
	}
	body := decode(t, w)
	if body["error"] != "login_failed" {
		t.Fatalf("totp error body = %v", body)
	}
	if !strings.Contains(body["body"].(string), "invalid totp") {
		t.Fatalf("upstream body not relayed: %v", body)
	}
}

func TestLiveAuthMasking(t *testing.T) {
	h := newHarness(t, nil, nil)

	w := h.do(t, http.MethodGet, "/control/liveauth", "", true)
	if w.Code != http.StatusNotFound {
		t.Fatalf("liveauth with no credential = %d, want 404", w.Code)
	}
	w = h.do(t, http.MethodPost, "/control/load_liveauth", "", true)
	if w.Code != http.StatusNotFound {
		t.Fatalf("load_liveauth with no file = %d, want 404", w.Code)
	}

	if err := h.creds.Save(auth.Credential{Token: "super-secret", SessionID: "sid-7", IssuedAt: time.Now()}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	w = h.do(t, http.MethodGet, "/control/liveauth", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("liveauth = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["jwtToken"] != "***REDACTED***" {
		t.Fatalf("token not redacted: %v", body)
	}
	if strings.Contains(w.Body.String(), "super-secret") {
		t.Fatal("raw token leaked in the liveauth response")
	}

	w = h.do(t, http.MethodPost, "/control/load_liveauth", "", true)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "loaded" {
		t.Fatalf("load_liveauth = %d (%s)", w.Code, w.Body.String())
	}
}

func TestEventsEndpoint(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.do(t, http.MethodPost, "/control/start", "", true)
	h.do(t, http.MethodPost, "/control/stop", "", true)

	w := h.do(t, http.MethodGet, "/control/events?limit=10", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("events = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["count"].(float64) < 2 {
		t.Fatalf("events count = %v, want at least start and stop", body["count"])
	}
}
