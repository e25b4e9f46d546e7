package signal

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateTurnCredentials(t *testing.T) {
	username, password := GenerateTurnCredentials("supersecret", "alice", 3600)

	parts := strings.SplitN(username, ":", 2)
	if len(parts) != 2 || parts[1] != "alice" {
		t.Fatalf("username = %q, want \"<expires>:alice\"", username)
	}

	mac := hmac.New(sha1.New, []byte("supersecret"))
	mac.Write([]byte(username))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if password != want {
		t.Fatalf("password = %q, want %q", password, want)
	}
}

func TestHandleTurnCredentialsDisabled(t *testing.T) {
	s := NewServer(nil, "")
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/turn-credentials", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleTurnCredentialsEnabled(t *testing.T) {
	s := NewServer(nil, "supersecret")
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/turn-credentials?user=bob", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bob") {
		t.Fatalf("body missing username for bob: %s", rec.Body.String())
	}
}
