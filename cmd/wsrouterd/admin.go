package main

import (
	"encoding/json"
	"net/http"

	"github.com/cyberinferno/go-wsrouter/chat"
	"github.com/cyberinferno/go-wsrouter/logger"
	"github.com/cyberinferno/go-wsrouter/presence"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// adminRouter serves operational endpoints next to the websocket listener:
// health, Prometheus metrics and presence lookups.
func adminRouter(registry *prometheus.Registry, hub *chat.Hub, store presence.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Get("/presence", func(w http.ResponseWriter, r *http.Request) {
		online, err := store.Count(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{
			"connected": hub.Clients(),
			"online":    online,
		})
	})

	r.Get("/presence/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		addr, ok, err := store.Lookup(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "addr": addr})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func serveAdmin(addr string, handler http.Handler, log logger.Logger) {
	log.Info("admin listening", logger.Field{Key: "addr", Value: addr})
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Error("admin server failed", logger.Field{Key: "addr", Value: addr}, logger.Field{Key: "error", Value: err})
	}
}
