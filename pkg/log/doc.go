// Package log is llmq's structured logging facade.
//
// Components receive a Logger by injection and tag themselves with
// Component. Records flow through a log/slog handler into a Formatter
// (JSON or text) and one or more Outputs.
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	)
//	l = l.With(log.Component("broker"), log.Queue("llm_queue"))
//	l.Info("queue declared", log.Bool("durable", true))
//
// ApplyConfig builds a logger from a declarative Config. RedirectStdLog
// captures the standard library logger (Pebble writes through it) and
// ToLogr adapts a Logger for klog so client-go output lands in the same
// stream.
package log
