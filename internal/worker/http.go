package worker

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/llmq/internal/metrics"
	"github.com/rzbill/llmq/pkg/log"
)

const maxChatBody = 1 << 20

// NewHandler serves the worker's HTTP surface over c's processor:
// POST /chat, GET /health and GET /metrics.
func NewHandler(c *Consumer, logger log.Logger) http.Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	metrics.Register()
	h := &handler{c: c, logger: logger.WithComponent("worker-http")}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", h.chat)
	mux.HandleFunc("GET /health", h.health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return mux
}

type handler struct {
	c      *Consumer
	logger log.Logger
}

func (h *handler) chat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxChatBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	out, err := h.c.Process(r.Context(), body)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrDeserialize) {
			status = http.StatusBadRequest
		}
		h.logger.Warn("chat failed", log.Err(err), log.Int("status", status))
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
