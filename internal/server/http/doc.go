// Package httpserver hosts the broker's management HTTP API: queue listing
// and backlog (/api/queues), queue administration, health (/healthz) and
// Prometheus metrics (/metrics). The autoscaler reads backlog from here.
package httpserver
