package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

// fakeServer mimics the session API: GET /login hands out a cookie and a
// token, POST /api/session/extend demands both.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "notary_session", Value: "sess-1", Path: "/"})
		json.NewEncoder(w).Encode(map[string]any{"csrf_token": "tok-1"}) //nolint:errcheck
	})
	mux.HandleFunc("/api/session/extend", func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie("notary_session")
		if err != nil || ck.Value != "sess-1" || r.Header.Get("X-CSRF-Token") != "tok-1" {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"success": false, "message": "Invalid security token.", "error_code": "CSRF_TOKEN_INVALID",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "remaining_time": 1800}) //nolint:errcheck
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "notary_session", Value: "", Path: "/", MaxAge: -1})
		json.NewEncoder(w).Encode(map[string]any{"success": true}) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setupCLI(t *testing.T, addr string) {
	t.Helper()
	t.Setenv("NOTARYCTL_CONFIG", filepath.Join(t.TempDir(), "config.yaml"))
	t.Setenv("NOTARY_ADDR", addr)
	loadConfig()
}

func TestClientKeepsSessionAcrossCalls(t *testing.T) {
	srv := fakeServer(t)
	setupCLI(t, srv.URL)

	client := newClient()
	if _, err := client.post("/api/session/extend", nil); err == nil {
		t.Fatal("expected CSRF error before the login form was fetched")
	} else if !strings.Contains(err.Error(), "CSRF_TOKEN_INVALID") {
		t.Errorf("expected error code in message, got %v", err)
	}

	if err := client.refreshCSRF(); err != nil {
		t.Fatalf("refreshCSRF: %v", err)
	}
	if cfg.CSRFToken != "tok-1" || cfg.Cookies["notary_session"] != "sess-1" {
		t.Fatalf("expected stored session, got %+v", cfg)
	}

	// A new invocation reloads the saved session from disk.
	loadConfig()
	result, err := newClient().post("/api/session/extend", nil)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if result["success"] != true {
		t.Errorf("expected success, got %v", result)
	}
}

func TestClientDropsExpiredCookies(t *testing.T) {
	srv := fakeServer(t)
	setupCLI(t, srv.URL)

	client := newClient()
	if err := client.refreshCSRF(); err != nil {
		t.Fatalf("refreshCSRF: %v", err)
	}
	if _, err := client.post("/logout", nil); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok := cfg.Cookies["notary_session"]; ok {
		t.Error("expected expired cookie to be dropped")
	}
}

func TestTableOutputFormatsDurations(t *testing.T) {
	outputFormat = "table"
	var buf bytes.Buffer
	writeResult(&buf, map[string]any{
		"logged_in":      true,
		"remaining_time": float64(90),
		"user":           map[string]any{"username": "admin", "district_id": nil},
	})
	out := buf.String()
	if !strings.Contains(out, "1m30s") {
		t.Errorf("expected remaining_time as a duration, got:\n%s", out)
	}
	if !strings.Contains(out, "USER") || !strings.Contains(out, "admin") {
		t.Errorf("expected nested user block, got:\n%s", out)
	}
}
