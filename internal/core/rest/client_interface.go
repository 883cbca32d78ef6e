package rest

import "context"

// ClientInterface defines the interface for the rate-limited REST client.
// This allows for easier testing and abstraction.
type ClientInterface interface {
	// Submit queues a request and returns its pending result.
	Submit(method, path string, opts Options) *Future
	// Do performs a request and waits for its result. ctx bounds the wait only.
	Do(ctx context.Context, method, path string, opts Options) (*Envelope, error)
}
