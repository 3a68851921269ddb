package controllers

import (
	"encoding/json"
	"net/http"

	llmqv1 "github.com/rzbill/llmq/api/llmq/v1"
	"github.com/rzbill/llmq/internal/broker"
	"github.com/rzbill/llmq/pkg/log"
)

// defaultVhost is the only virtual host. The {vhost} routes exist so
// clients written against /api/queues/%2F/<name> keep working.
const defaultVhost = "/"

// QueuesController serves the queue management API.
type QueuesController struct {
	b      *broker.Engine
	logger log.Logger
}

// NewQueuesController creates a queues controller over the broker engine.
func NewQueuesController(b *broker.Engine, logger log.Logger) *QueuesController {
	return &QueuesController{b: b, logger: logger}
}

// RegisterRoutes registers queue routes with the given mux.
func (c *QueuesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/queues", c.handleList)
	mux.HandleFunc("GET /api/queues/{name}", c.handleGet)
	mux.HandleFunc("PUT /api/queues/{name}", c.handleDeclare)
	mux.HandleFunc("DELETE /api/queues/{name}", c.handleDelete)
	mux.HandleFunc("DELETE /api/queues/{name}/contents", c.handlePurge)
	mux.HandleFunc("POST /api/queues/{name}/publish", c.handlePublish)
	mux.HandleFunc("GET /api/queues/{name}/messages", c.handlePeek)
	mux.HandleFunc("GET /api/queues/{vhost}/{name}", c.vhost(c.handleGet))
}

// vhost rejects any virtual host other than the default one.
func (c *QueuesController) vhost(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if v := r.PathValue("vhost"); v != defaultVhost {
			writeError(w, http.StatusNotFound, "unknown vhost "+v)
			return
		}
		next(w, r)
	}
}

func toWire(i broker.QueueInfo) llmqv1.QueueInfo {
	return llmqv1.QueueInfo{
		Name:                   i.Name,
		Durable:                i.Durable,
		Exclusive:              i.Exclusive,
		AutoDelete:             i.AutoDelete,
		DeadLetterQueue:        i.DeadLetterQueue,
		Messages:               int64(i.Messages()),
		MessagesReady:          int64(i.Ready),
		MessagesUnacknowledged: int64(i.Unacked),
		Consumers:              int64(i.Consumers),
	}
}

// handleList returns every queue as a JSON array.
func (c *QueuesController) handleList(w http.ResponseWriter, r *http.Request) {
	infos, err := c.b.ListQueues(r.Context())
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	out := make([]llmqv1.QueueInfo, 0, len(infos))
	for _, i := range infos {
		out = append(out, toWire(i))
	}
	writeJSON(w, out)
}

// handleGet returns one queue. "messages" is the backlog: ready plus
// unacknowledged.
func (c *QueuesController) handleGet(w http.ResponseWriter, r *http.Request) {
	info, err := c.b.QueueInfo(r.Context(), r.PathValue("name"))
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, toWire(info))
}

type declareReq struct {
	Durable         bool   `json:"durable"`
	AutoDelete      bool   `json:"auto_delete"`
	DeadLetterQueue string `json:"dead_letter_queue"`
}

// handleDeclare creates a queue. An empty body declares a durable queue.
func (c *QueuesController) handleDeclare(w http.ResponseWriter, r *http.Request) {
	req := declareReq{Durable: true}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	info, err := c.b.DeclareQueue(r.Context(), broker.QueueSpec{
		Name:            r.PathValue("name"),
		Durable:         req.Durable,
		AutoDelete:      req.AutoDelete,
		DeadLetterQueue: req.DeadLetterQueue,
	})
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toWire(info))
}

// handleDelete removes a queue. ?if-unused and ?if-empty make it
// conditional.
func (c *QueuesController) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	n, err := c.b.DeleteQueue(r.Context(), name, broker.DeleteOptions{
		IfUnused: queryBool(r, "if-unused"),
		IfEmpty:  queryBool(r, "if-empty"),
	})
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	c.logger.Info("queue deleted over http", log.Queue(name), log.Int("messages", n))
	writeJSON(w, map[string]int{"messages": n})
}

// handlePurge drops the ready messages of a queue.
func (c *QueuesController) handlePurge(w http.ResponseWriter, r *http.Request) {
	n, err := c.b.PurgeQueue(r.Context(), r.PathValue("name"))
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, map[string]int{"messages": n})
}

type publishReq struct {
	Payload       json.RawMessage   `json:"payload"`
	CorrelationID string            `json:"correlation_id"`
	ReplyTo       string            `json:"reply_to"`
	Headers       map[string]string `json:"headers"`
}

// handlePublish enqueues a JSON payload. Returns 202 Accepted.
func (c *QueuesController) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	err := c.b.Publish(r.Context(), r.PathValue("name"), broker.Publishing{
		Body:          req.Payload,
		CorrelationID: req.CorrelationID,
		ReplyTo:       req.ReplyTo,
		ContentType:   "application/json",
		Headers:       req.Headers,
	})
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type peekedMessage struct {
	MessageID     string            `json:"message_id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	TimestampMs   int64             `json:"timestamp_ms"`
	Redelivered   bool              `json:"redelivered"`
	Payload       string            `json:"payload"`
}

// handlePeek lists ready messages. ?filter takes a CEL expression and
// ?limit bounds the result (default 10).
func (c *QueuesController) handlePeek(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ds, err := c.b.Peek(r.Context(), r.PathValue("name"), broker.PeekOptions{
		Filter: r.URL.Query().Get("filter"),
		Limit:  limit,
	})
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	out := make([]peekedMessage, 0, len(ds))
	for _, d := range ds {
		out = append(out, peekedMessage{
			MessageID:     d.MessageID,
			CorrelationID: d.CorrelationID,
			ReplyTo:       d.ReplyTo,
			Headers:       d.Headers,
			TimestampMs:   d.TimestampMs,
			Redelivered:   d.Redelivered,
			Payload:       string(d.Body),
		})
	}
	writeJSON(w, out)
}
