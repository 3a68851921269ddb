// Package client implements broker.Channel over the llmq.v1.Broker gRPC
// service. Broker errors come back as the same sentinels the in-process
// engine returns, so callers can use errors.Is regardless of transport.
//
// Example:
//
//	c, err := client.Dial(ctx, "127.0.0.1:50051")
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	_ = c.Publish(ctx, broker.WorkQueue, broker.Publishing{Body: []byte(`{"new_message":"hi"}`)})
package client
