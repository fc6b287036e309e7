// Command webhook-receiver is a local endpoint for reflexd's webhook
// transport. It verifies X-Reflex-Signature, counts deliveries per channel
// and can reject a share of requests to exercise retries and dead letters.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

type request struct {
	Timestamp string `json:"timestamp"`
	EventID   string `json:"event_id"`
	TenantID  string `json:"tenant_id"`
	Channel   string `json:"channel"`
	Verified  bool   `json:"verified"`
	Status    int    `json:"status"`
	Body      string `json:"body"`
}

type stats struct {
	Count        int64            `json:"count"`
	Rejected     int64            `json:"rejected"`
	BadSignature int64            `json:"bad_signature"`
	ByChannel    map[string]int64 `json:"by_channel"`
	LastRequests []request        `json:"last_requests"`
	Since        string           `json:"since"`
}

type receiver struct {
	secret    string
	failEvery int64 // 0 = never fail
	maxStored int

	mu           sync.Mutex
	count        int64
	rejected     int64
	badSignature int64
	byChannel    map[string]int64
	lastRequests []request
	since        time.Time
}

func newReceiver(secret string, failEvery int64) *receiver {
	return &receiver{
		secret:    secret,
		failEvery: failEvery,
		maxStored: 50,
		byChannel: make(map[string]int64),
		since:     time.Now().UTC(),
	}
}

func main() {
	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	var failEvery int64
	if v := os.Getenv("FAIL_EVERY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			log.Fatalf("invalid FAIL_EVERY %q", v)
		}
		failEvery = n
	}

	rcv := newReceiver(os.Getenv("SECRET"), failEvery)

	log.Printf("webhook-receiver listening on %s (signature check: %t, fail every: %d)",
		addr, rcv.secret != "", failEvery)
	log.Fatal(http.ListenAndServe(addr, rcv.routes()))
}

func (rcv *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/hook", rcv.hookHandler)
	mux.HandleFunc("/stats", rcv.statsHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		rcv.mu.Lock()
		rcv.count = 0
		rcv.rejected = 0
		rcv.badSignature = 0
		rcv.byChannel = make(map[string]int64)
		rcv.lastRequests = nil
		rcv.since = time.Now().UTC()
		rcv.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})
	return mux
}

func (rcv *receiver) hookHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	verified := rcv.secret == "" || verifySignature(rcv.secret, body, r.Header.Get("X-Reflex-Signature"))

	req := request{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventID:   r.Header.Get("X-Reflex-Event-ID"),
		TenantID:  r.Header.Get("X-Reflex-Tenant-ID"),
		Channel:   r.Header.Get("X-Reflex-Channel"),
		Verified:  verified,
		Body:      string(body),
	}

	rcv.mu.Lock()
	rcv.count++
	current := rcv.count
	switch {
	case !verified:
		rcv.badSignature++
		req.Status = http.StatusUnauthorized
	case rcv.failEvery > 0 && current%rcv.failEvery == 0:
		rcv.rejected++
		req.Status = http.StatusServiceUnavailable
	default:
		rcv.byChannel[req.Channel]++
		req.Status = http.StatusOK
	}
	rcv.lastRequests = append(rcv.lastRequests, req)
	if len(rcv.lastRequests) > rcv.maxStored {
		rcv.lastRequests = rcv.lastRequests[len(rcv.lastRequests)-rcv.maxStored:]
	}
	rcv.mu.Unlock()

	log.Printf("hook #%d channel=%s event=%s status=%d", current, req.Channel, req.EventID, req.Status)
	w.WriteHeader(req.Status)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func (rcv *receiver) statsHandler(w http.ResponseWriter, _ *http.Request) {
	rcv.mu.Lock()
	s := stats{
		Count:        rcv.count,
		Rejected:     rcv.rejected,
		BadSignature: rcv.badSignature,
		ByChannel:    make(map[string]int64, len(rcv.byChannel)),
		LastRequests: append([]request(nil), rcv.lastRequests...),
		Since:        rcv.since.Format(time.RFC3339),
	}
	for k, v := range rcv.byChannel {
		s.ByChannel[k] = v
	}
	rcv.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
