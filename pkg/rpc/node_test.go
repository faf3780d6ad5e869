package rpc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestNewNode(t *testing.T) {
	ctx := context.Background()
	// Fails to dial unknown scheme
	_, err := NewNode(ctx, NodeConfig{URL: "invalid-scheme://host"})
	assert.Error(t, err)
}

func TestNode_RecordMetric(t *testing.T) {
	n := NewNodeWithTransport(NodeConfig{URL: "test"}, new(MockTransport))

	n.RecordMetric(time.Now().Add(-100*time.Millisecond), nil)
	assert.GreaterOrEqual(t, n.GetLatency(), int64(100))
	assert.Equal(t, uint64(0), n.GetErrorCount())

	n.RecordMetric(time.Now(), errors.New("fail"))
	n.RecordMetric(time.Now(), errors.New("fail"))
	assert.Equal(t, uint64(2), n.GetErrorCount())
	assert.Equal(t, uint64(2), n.GetTotalErrors())

	// success decreases the consecutive count, total is kept
	n.RecordMetric(time.Now(), nil)
	assert.Equal(t, uint64(1), n.GetErrorCount())
	assert.Equal(t, uint64(2), n.GetTotalErrors())
}

func TestNode_CallContext(t *testing.T) {
	ctx := context.Background()
	tr := new(MockTransport)
	node := NewNodeWithTransport(NodeConfig{URL: "test"}, tr)

	tr.On("CallContext", ctx, "eth_blockNumber", mock.Anything).Return("0x64", nil).Once()
	var res string
	assert.NoError(t, node.CallContext(ctx, &res, "eth_blockNumber"))
	assert.Equal(t, "0x64", res)

	tr.On("CallContext", ctx, "eth_blockNumber", mock.Anything).Return(nil, errors.New("down")).Once()
	assert.Error(t, node.CallContext(ctx, &res, "eth_blockNumber"))
	assert.Equal(t, uint64(1), node.GetTotalErrors())

	tr.On("Close").Once()
	node.Close()
	tr.AssertExpectations(t)
}

func TestNode_ConcurrencyLimit(t *testing.T) {
	ctx := context.Background()
	node := NewNodeWithTransport(NodeConfig{URL: "test", MaxConcurrent: 3}, new(MockTransport))

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !assert.NoError(t, node.Acquire(ctx)) {
				return
			}
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			node.Release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, int32(3))
	assert.Greater(t, peak, int32(0))
}

func TestNode_RateLimit(t *testing.T) {
	ctx := context.Background()
	node := NewNodeWithTransport(NodeConfig{URL: "test", RateLimit: 10}, new(MockTransport))

	// the burst of 10 is free, the next token takes about 100ms
	for i := 0; i < 10; i++ {
		assert.NoError(t, node.Acquire(ctx))
	}
	start := time.Now()
	assert.NoError(t, node.Acquire(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	tight, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.Error(t, node.Acquire(tight))
}

func TestNode_AcquireCancelled(t *testing.T) {
	node := NewNodeWithTransport(NodeConfig{URL: "test", MaxConcurrent: 1}, new(MockTransport))
	assert.NoError(t, node.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, node.Acquire(ctx), context.DeadlineExceeded)

	node.Release()
	assert.NoError(t, node.Acquire(context.Background()))
}
