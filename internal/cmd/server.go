package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/cdlhelp/telemetry/internal/analytics"
	"github.com/cdlhelp/telemetry/internal/device"
	"github.com/cdlhelp/telemetry/internal/signals"
)

func setupServer(config *Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	registerHandlers(mux, services)
	setupHealthCheck(mux)

	handler := c.Handler(mux)

	// Setup HTTP/2 server
	return &http.Server{
		Addr:    fmt.Sprintf(":%s", getEnv("PORT", "8080")),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

type trackRequest struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
	Critical   bool           `json:"critical"`
}

type pageViewRequest struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Referrer string `json:"referrer"`
}

type identifyRequest struct {
	UserID     string         `json:"user_id"`
	Properties map[string]any `json:"properties"`
}

type downloadIntentRequest struct {
	Platform string `json:"platform"`
	Source   string `json:"source"`
}

type signalRequest struct {
	Signal string `json:"signal"`
}

func registerHandlers(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("POST /v1/track", func(w http.ResponseWriter, r *http.Request) {
		var req trackRequest
		if !decode(w, r, &req) {
			return
		}
		captureDevice(services, r)
		services.Analytics.Track(req.Event, req.Properties, analytics.TrackOptions{Critical: req.Critical})
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /v1/pageview", func(w http.ResponseWriter, r *http.Request) {
		var req pageViewRequest
		if !decode(w, r, &req) {
			return
		}
		captureDevice(services, r)
		services.Device.SetPage(device.Page{URL: req.URL, Title: req.Title, Referrer: req.Referrer})
		services.Analytics.PageView(req.URL)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /v1/identify", func(w http.ResponseWriter, r *http.Request) {
		var req identifyRequest
		if !decode(w, r, &req) {
			return
		}
		services.Analytics.Identify(req.UserID, req.Properties)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /v1/download-intent", func(w http.ResponseWriter, r *http.Request) {
		var req downloadIntentRequest
		if !decode(w, r, &req) {
			return
		}
		services.Analytics.DownloadIntent(req.Platform, req.Source)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /v1/signal", func(w http.ResponseWriter, r *http.Request) {
		var req signalRequest
		if !decode(w, r, &req) {
			return
		}
		kind, ok := signals.ParseKind(req.Signal)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown signal %q", req.Signal), http.StatusBadRequest)
			return
		}
		services.Hub.Notify(kind)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		status := services.Analytics.GetStatus()
		if n, err := services.Offline.Len(); err == nil {
			status.OfflineQueued = n
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Failed to write status response: %v", err)
		}
	})

	mux.HandleFunc("GET /v1/debug/live", services.Live.handle)
}

// captureDevice refreshes the device context from the caller's headers so
// payloads reflect the real user agent and locale.
func captureDevice(services *Services, r *http.Request) {
	d := services.Device.Device()
	if ua := r.UserAgent(); ua != "" {
		d.UserAgent = ua
	}
	if lang := r.Header.Get("Accept-Language"); lang != "" {
		d.Language = lang
	}
	services.Device.SetDevice(d)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Printf("Failed to write health check response: %v", err)
		}
	})
}
