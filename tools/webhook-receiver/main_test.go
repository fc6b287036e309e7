package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func post(h http.Handler, body, channel, signature string) int {
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	req.Header.Set("X-Reflex-Channel", channel)
	req.Header.Set("X-Reflex-Signature", signature)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func readStats(t *testing.T, h http.Handler) stats {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var s stats
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	return s
}

func TestHook_VerifiesSignature(t *testing.T) {
	h := newReceiver("s3cret", 0).routes()
	body := `{"event_id":"e1"}`

	if code := post(h, body, "slack", sign("s3cret", body)); code != http.StatusOK {
		t.Errorf("valid signature: expected 200, got %d", code)
	}
	if code := post(h, body, "slack", sign("other", body)); code != http.StatusUnauthorized {
		t.Errorf("bad signature: expected 401, got %d", code)
	}

	s := readStats(t, h)
	if s.Count != 2 || s.BadSignature != 1 || s.ByChannel["slack"] != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestHook_FailEvery(t *testing.T) {
	h := newReceiver("", 2).routes()

	codes := []int{
		post(h, "{}", "email", ""),
		post(h, "{}", "email", ""),
		post(h, "{}", "email", ""),
	}
	want := []int{http.StatusOK, http.StatusServiceUnavailable, http.StatusOK}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d: expected %d, got %d", i+1, want[i], codes[i])
		}
	}

	s := readStats(t, h)
	if s.Rejected != 1 || s.ByChannel["email"] != 2 {
		t.Errorf("unexpected stats: %+v", s)
	}
}
