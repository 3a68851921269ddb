package controllers

import (
	"net/http"

	"github.com/rzbill/llmq/internal/runtime"
	"github.com/rzbill/llmq/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general *GeneralController
	queues  *QueuesController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(rt *runtime.Runtime, logger log.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(rt, logger),
		queues:  NewQueuesController(rt.Broker(), logger),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
//
// General endpoints cover health and Prometheus metrics; queue endpoints
// follow the management API shape the autoscaler reads backlog from.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.queues.RegisterRoutes(mux)
}
