package rpc

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync/atomic"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// NodeConfig represents configuration for a single RPC endpoint
type NodeConfig struct {
	URL           string
	User          string
	Password      string
	RateLimit     float64 // Max requests per second, 0 means unlimited
	MaxConcurrent int     // Max in-flight requests, 0 means unlimited
}

// Node wraps the underlying rpc transport and provides health monitoring
type Node struct {
	config    NodeConfig
	transport Transport

	limiter   *rate.Limiter
	semaphore chan struct{}

	// Dynamic metrics (atomic operations)
	errorCount  uint64 // Consecutive error count
	totalErrors uint64 // Total error count
	latency     int64  // Average latency (ms)
}

// NewNode dials the endpoint (Production)
func NewNode(ctx context.Context, cfg NodeConfig) (*Node, error) {
	var opts []gethrpc.ClientOption
	if cfg.User != "" || cfg.Password != "" {
		opts = append(opts, gethrpc.WithHTTPAuth(basicAuth(cfg.User, cfg.Password)))
	}
	client, err := gethrpc.DialOptions(ctx, cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", redact(cfg.URL))
	}
	return NewNodeWithTransport(cfg, client), nil
}

// NewNodeWithTransport initializes Node with a pre-created transport (Testing/DI)
func NewNodeWithTransport(cfg NodeConfig, t Transport) *Node {
	n := &Node{
		config:    cfg,
		transport: t,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.MaxConcurrent > 0 {
		n.semaphore = make(chan struct{}, cfg.MaxConcurrent)
	}
	return n
}

func basicAuth(user, password string) gethrpc.HTTPAuth {
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
	return func(h http.Header) error {
		h.Set("Authorization", "Basic "+token)
		return nil
	}
}

// Acquire blocks until a request slot is available or ctx is done.
func (n *Node) Acquire(ctx context.Context) error {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if n.semaphore != nil {
		select {
		case n.semaphore <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Release frees a slot taken by Acquire.
func (n *Node) Release() {
	if n.semaphore != nil {
		select {
		case <-n.semaphore:
		default:
		}
	}
}

// RecordMetric records result of a call, updating latency and error count
func (n *Node) RecordMetric(start time.Time, err error) {
	duration := time.Since(start).Milliseconds()

	// Simple moving average for latency
	oldLatency := atomic.LoadInt64(&n.latency)
	if oldLatency == 0 {
		atomic.StoreInt64(&n.latency, duration)
	} else {
		// New latency weight 20%
		newLatency := (oldLatency*8 + duration*2) / 10
		atomic.StoreInt64(&n.latency, newLatency)
	}

	if err != nil {
		atomic.AddUint64(&n.errorCount, 1)
		atomic.AddUint64(&n.totalErrors, 1)
	} else {
		// Decrease error count slowly on success to avoid "jitter"
		current := atomic.LoadUint64(&n.errorCount)
		if current > 0 {
			atomic.StoreUint64(&n.errorCount, current-1)
		}
	}
}

// GetErrorCount returns the current consecutive error count
func (n *Node) GetErrorCount() uint64 {
	return atomic.LoadUint64(&n.errorCount)
}

// GetTotalErrors returns the total error count
func (n *Node) GetTotalErrors() uint64 {
	return atomic.LoadUint64(&n.totalErrors)
}

// GetLatency returns the average latency in ms
func (n *Node) GetLatency() int64 {
	return atomic.LoadInt64(&n.latency)
}

// CallContext proxies to the transport and records metrics.
func (n *Node) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	start := time.Now()
	err := n.transport.CallContext(ctx, result, method, args...)
	n.RecordMetric(start, err)
	return err
}

func (n *Node) Close() {
	n.transport.Close()
}
