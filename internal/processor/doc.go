// Package processor defines the contract between a worker and the
// inference backend. A Processor turns a chat Request into a Response; the
// worker never looks inside either beyond JSON coding.
//
// Implementations: HTTP forwards to a model server's /chat endpoint, Func
// adapts a plain function, and Lexicon is a dependency-free backend that
// classifies emotion by keyword, used when no model server is configured.
package processor
