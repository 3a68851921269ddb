package controllers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/rzbill/llmq/internal/metrics"
	"github.com/rzbill/llmq/internal/runtime"
	"github.com/rzbill/llmq/pkg/log"
)

// GeneralController serves health and metrics.
type GeneralController struct {
	rt      *runtime.Runtime
	logger  log.Logger
	metrics http.Handler
}

// NewGeneralController creates a new general controller. Queue gauges are
// collected from the runtime's broker on every scrape.
func NewGeneralController(rt *runtime.Runtime, logger log.Logger) *GeneralController {
	metrics.Register()
	local := prometheus.NewRegistry()
	local.MustRegister(metrics.NewQueueCollector(rt.Broker()))
	h := promhttp.HandlerFor(prometheus.Gatherers{metrics.Registry, local}, promhttp.HandlerOpts{
		ErrorLog: log.ToStdLogger(logger, log.WarnLevel),
	})
	return &GeneralController{rt: rt, logger: logger, metrics: h}
}

// RegisterRoutes registers /healthz and /metrics.
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", c.handleHealth)
	mux.Handle("GET /metrics", c.metrics)
}

// handleHealth renders a grpc.health.v1 HealthCheckResponse as JSON.
//
// Returns 200 with {"status":"SERVING"} when healthy, 503 otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	res := &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}
	code := http.StatusOK
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		c.logger.Warn("health check failed", log.Err(err))
		res.Status = healthpb.HealthCheckResponse_NOT_SERVING
		code = http.StatusServiceUnavailable
	}
	b, err := protojson.Marshal(res)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}
