// Backend is a simple HTTP server for trying dnslb locally. Its /health
// endpoint answers 200 or 503 and can be flipped by hand or on a timer, so
// the daemon sees hosts going down and coming back.
//
// Usage:
//
//	go run backend.go -port 8081 -flap 45s
//
// POST /toggle flips the state, GET /state reports it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the body served on /state.
type State struct {
	ID      string `json:"id"`
	Healthy bool   `json:"healthy"`
	Flips   int64  `json:"flips"`
}

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	match := flag.String("match", "ok", "body served while healthy")
	flapEvery := flag.Duration("flap", 0, "flip health on this interval (0 disables)")
	flag.Parse()

	id := uuid.NewString()
	var healthy atomic.Bool
	var flips atomic.Int64
	healthy.Store(true)

	toggle := func() {
		now := !healthy.Load()
		healthy.Store(now)
		flips.Add(1)
		log.Printf("backend %s healthy=%t", id, now)
	}

	if *flapEvery > 0 {
		go func() {
			for range time.Tick(*flapEvery) {
				toggle()
			}
		}()
	}

	mux := http.NewServeMux()

	// hit by check_http
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("check: host=%s from=%s", r.Host, r.RemoteAddr)
		if !healthy.Load() {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(*match))
	})

	mux.HandleFunc("/toggle", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		toggle()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(State{ID: id, Healthy: healthy.Load(), Flips: flips.Load()})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("starting backend %s on %s", id, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
