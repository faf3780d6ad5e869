package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/84hero/chain-scanner/pkg/metrics"
	"github.com/84hero/chain-scanner/pkg/record"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// CallError reports a transport or endpoint failure of one RPC call.
// Callers treat it as retryable.
type CallError struct {
	Method string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpc %s: %v", e.Method, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// ErrorCode returns the JSON-RPC error code carried by err, if any.
func ErrorCode(err error) (int, bool) {
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

// Config configures a Client
type Config struct {
	Node        NodeConfig
	CallTimeout time.Duration // 0 means no per-call deadline
}

// Endpoint builds the endpoint URL from its parts.
func Endpoint(scheme, host string, port int) string {
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// Client issues one JSON-RPC call at a time against a single endpoint
type Client struct {
	node    *Node
	timeout time.Duration
	metrics *metrics.Metrics
}

// Option configures optional Client dependencies
type Option func(*Client)

// WithMetrics records call failures on m and exports the node health
// counters as gauges.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient dials the configured endpoint
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	node, err := NewNode(ctx, cfg.Node)
	if err != nil {
		return nil, err
	}
	return NewClientWithNode(node, cfg.CallTimeout, opts...), nil
}

// NewClientWithNode initializes Client with an existing node (for testing or advanced usage)
func NewClientWithNode(node *Node, timeout time.Duration, opts ...Option) *Client {
	c := &Client{node: node, timeout: timeout}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics.WatchNode(node)
	return c
}

// Call implements Caller. Every failure is returned as *CallError.
func (c *Client) Call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := c.node.Acquire(ctx); err != nil {
		return &CallError{Method: method, Err: err}
	}
	defer c.node.Release()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.node.CallContext(ctx, result, method, args...); err != nil {
		c.metrics.ObserveRPCError(method)
		return &CallError{Method: method, Err: err}
	}
	return nil
}

// Close closes the underlying connection
func (c *Client) Close() {
	c.node.Close()
}

// CallRecord issues method and decodes an object result into a record.
// A JSON null result yields a nil record and no error.
func CallRecord(ctx context.Context, c Caller, method string, args ...interface{}) (record.Record, error) {
	var raw json.RawMessage
	if err := c.Call(ctx, &raw, method, args...); err != nil {
		return nil, err
	}
	return DecodeRecord(raw)
}

// DecodeRecord decodes a JSON object keeping numbers as json.Number.
func DecodeRecord(raw json.RawMessage) (record.Record, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out record.Record
	if err := dec.Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode rpc result")
	}
	return out, nil
}
