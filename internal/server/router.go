package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// RouterOptions describe what the top-level mux serves.
type RouterOptions struct {
	// BasePath is the collection mount point, for example "/foos".
	BasePath string
	// Collection serves BasePath and everything beneath it.
	Collection http.Handler
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	// Health is consulted by /healthz; nil always reports ok.
	Health HealthCheck
}

// NewRouter wires the collection, metrics, and health endpoints onto one mux.
func NewRouter(opts RouterOptions) http.Handler {
	mux := http.NewServeMux()
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		serveHealth(w, r, opts.Health)
	})

	collection := opts.Collection
	if collection == nil {
		collection = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "collection unavailable", http.StatusServiceUnavailable)
		})
	}
	base := "/" + strings.Trim(opts.BasePath, "/")
	if base != "/" {
		mux.Handle(base, collection)
		mux.Handle(base+"/", collection)
	} else {
		mux.Handle("/", collection)
	}
	return mux
}

type healthBody struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func serveHealth(w http.ResponseWriter, r *http.Request, check HealthCheck) {
	body := healthBody{Status: "ok"}
	status := http.StatusOK
	if check != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := check(ctx); err != nil {
			body = healthBody{Status: "unavailable", Error: err.Error()}
			status = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
