// Package metrics holds llmq's Prometheus collectors and the Record helpers
// components call. Nothing is exported until Register runs.
package metrics
