package llmqv1

// QueueSpec declares a queue. An empty Name asks the broker to generate one.
type QueueSpec struct {
	Name            string `msgpack:"name"`
	Durable         bool   `msgpack:"durable"`
	Exclusive       bool   `msgpack:"exclusive"`
	AutoDelete      bool   `msgpack:"auto_delete"`
	DeadLetterQueue string `msgpack:"dead_letter_queue,omitempty"`
}

type DeclareQueueRequest struct {
	Queue   QueueSpec `msgpack:"queue"`
	Passive bool      `msgpack:"passive"`
}

// QueueInfo mirrors the management API's queue object.
type QueueInfo struct {
	Name                   string `msgpack:"name" json:"name"`
	Durable                bool   `msgpack:"durable" json:"durable"`
	Exclusive              bool   `msgpack:"exclusive" json:"exclusive"`
	AutoDelete             bool   `msgpack:"auto_delete" json:"auto_delete"`
	DeadLetterQueue        string `msgpack:"dead_letter_queue,omitempty" json:"dead_letter_queue,omitempty"`
	Messages               int64  `msgpack:"messages" json:"messages"`
	MessagesReady          int64  `msgpack:"messages_ready" json:"messages_ready"`
	MessagesUnacknowledged int64  `msgpack:"messages_unacknowledged" json:"messages_unacknowledged"`
	Consumers              int64  `msgpack:"consumers" json:"consumers"`
}

type DeleteQueueRequest struct {
	Name     string `msgpack:"name"`
	IfUnused bool   `msgpack:"if_unused"`
	IfEmpty  bool   `msgpack:"if_empty"`
}

type DeleteQueueResponse struct {
	Messages int64 `msgpack:"messages"`
}

type PurgeQueueRequest struct {
	Name string `msgpack:"name"`
}

type PurgeQueueResponse struct {
	Messages int64 `msgpack:"messages"`
}

type QueueInfoRequest struct {
	Name string `msgpack:"name"`
}

type ListQueuesRequest struct{}

type ListQueuesResponse struct {
	Queues []QueueInfo `msgpack:"queues"`
}

type PublishRequest struct {
	Queue         string            `msgpack:"queue"`
	Body          []byte            `msgpack:"body"`
	CorrelationID string            `msgpack:"correlation_id,omitempty"`
	ReplyTo       string            `msgpack:"reply_to,omitempty"`
	ContentType   string            `msgpack:"content_type,omitempty"`
	Headers       map[string]string `msgpack:"headers,omitempty"`
}

type PublishResponse struct{}

type ConsumeRequest struct {
	Queue       string `msgpack:"queue"`
	ConsumerTag string `msgpack:"consumer_tag,omitempty"`
	Prefetch    int32  `msgpack:"prefetch"`
	Exclusive   bool   `msgpack:"exclusive"`
}

// Delivery is one message handed to a consumer. ListReady returns
// deliveries with a zero DeliveryTag.
type Delivery struct {
	DeliveryTag   uint64            `msgpack:"delivery_tag"`
	ConsumerTag   string            `msgpack:"consumer_tag,omitempty"`
	Queue         string            `msgpack:"queue"`
	MessageID     string            `msgpack:"message_id"`
	Body          []byte            `msgpack:"body"`
	CorrelationID string            `msgpack:"correlation_id,omitempty"`
	ReplyTo       string            `msgpack:"reply_to,omitempty"`
	ContentType   string            `msgpack:"content_type,omitempty"`
	Headers       map[string]string `msgpack:"headers,omitempty"`
	TimestampMs   int64             `msgpack:"timestamp_ms"`
	Redelivered   bool              `msgpack:"redelivered"`
	DeliveryCount uint32            `msgpack:"delivery_count"`
}

type AckRequest struct {
	DeliveryTag uint64 `msgpack:"delivery_tag"`
}

type AckResponse struct{}

type NackRequest struct {
	DeliveryTag uint64 `msgpack:"delivery_tag"`
	Requeue     bool   `msgpack:"requeue"`
}

type NackResponse struct{}

type ListReadyRequest struct {
	Queue  string `msgpack:"queue"`
	Filter string `msgpack:"filter,omitempty"`
	Limit  int32  `msgpack:"limit"`
}

type ListReadyResponse struct {
	Messages []Delivery `msgpack:"messages"`
}
