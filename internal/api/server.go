package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/madhatter5501/dispatchd/internal/apperr"
	"github.com/madhatter5501/dispatchd/internal/bus"
	"github.com/madhatter5501/dispatchd/internal/transport"
)

// NewServer builds the main service's http.Handler: every §6.2 route
// falls through to the shared bus.Router (its own ":param" segment
// matcher does the path-parameter binding, so there is exactly one route
// table for both REST and websocket RPC callers), plus the websocket
// gateway at /ws for remote agent workers and streaming clients.
func NewServer(router *bus.Router, b *bus.Bus, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/", dispatchHTTP(router))
	mux.Handle("/ws", transport.New(b, router, log))
	return mux
}

// dispatchHTTP adapts a net/http request into a bus.Request and runs it
// through the same Router every websocket RPC call uses, so REST and
// wire-protocol clients share one handler implementation per route.
func dispatchHTTP(router *bus.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}

		var data json.RawMessage
		if r.Body != nil {
			b, err := io.ReadAll(r.Body)
			if err == nil && len(b) > 0 {
				data = b
			}
		}

		result, err := router.Dispatch(r.Context(), r.Method, r.URL.Path, query, data)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.Validation:
		status = http.StatusBadRequest
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Conflict:
		status = http.StatusConflict
	case apperr.Unauthorized:
		status = http.StatusUnauthorized
	case apperr.Upstream, apperr.Transport:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
