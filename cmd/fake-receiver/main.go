// fake-receiver is a test subscriber endpoint. It verifies inbound webhook
// signatures and can simulate flakiness by failing the first N requests,
// which exercises the retry and dead-letter paths end to end.
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hookrelay/hookrelay/internal/config"
	"github.com/hookrelay/hookrelay/internal/delivery"
)

type receiver struct {
	cfg      config.FakeReceiver
	reqCount atomic.Int64
}

func main() {
	cfg := config.FromEnv().FakeReceiver
	rcv := &receiver{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("POST /hook", rcv.handleHook)

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	log.Printf("fake-receiver listening on %s (fail_first_n=%d)", cfg.Port, cfg.FailFirstN)
	log.Fatal(srv.ListenAndServe())
}

func (rc *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	n := rc.reqCount.Add(1)
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	event := r.Header.Get(delivery.EventHeader)
	deliveryID := r.Header.Get(delivery.DeliveryHeader)

	if rc.cfg.SigningSecret != "" {
		sig := r.Header.Get(delivery.SignatureHeader)
		if sig == "" {
			http.Error(w, "missing signature", http.StatusUnauthorized)
			return
		}
		if !delivery.Verify(rc.cfg.SigningSecret, body, sig) {
			log.Printf("fake-receiver signature mismatch delivery=%s", deliveryID)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	if rc.cfg.ResponseDelayMS > 0 {
		time.Sleep(time.Duration(rc.cfg.ResponseDelayMS) * time.Millisecond)
	}

	// Simulate flakiness: first N requests -> 500
	if n <= int64(rc.cfg.FailFirstN) {
		log.Printf("FAILING (%d/%d) event=%s delivery=%s body=%s", n, rc.cfg.FailFirstN, event, deliveryID, truncate(string(body), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.Printf("fake-receiver OK event=%s delivery=%s body=%q", event, deliveryID, truncate(string(body), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// truncate shortens a string to n bytes with an ellipsis if cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
