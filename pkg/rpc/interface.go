package rpc

import (
	"context"
)

// Transport abstracts the go-ethereum rpc.Client for easier mocking/testing
type Transport interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	Close()
}

// Caller is the JSON-RPC surface protocol adapters are built on.
// This allows for stubbing the endpoint in adapter tests.
type Caller interface {
	// Call issues method with args and decodes the JSON result into result
	Call(ctx context.Context, result interface{}, method string, args ...interface{}) error
}
