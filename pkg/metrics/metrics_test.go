package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New("test")

	m.ObserveBlock(101)
	m.ObserveBlock(102)
	m.ObserveRecords("transaction", 3)
	m.ObserveRecords("transaction", 0)
	m.ObserveRPCError("eth_getBlockByNumber")
	m.ObserveLatest(500)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.BlocksProcessed))
	assert.Equal(t, float64(102), testutil.ToFloat64(m.CurrentHeight))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.RecordsEmitted.WithLabelValues("transaction")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RPCErrors.WithLabelValues("eth_getBlockByNumber")))
	assert.Equal(t, float64(500), testutil.ToFloat64(m.LatestHeight))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_blocks_processed_total 2"))
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	// must not panic
	m.ObserveBlock(1)
	m.ObserveRecords("block", 1)
	m.ObserveRPCError("x")
	m.ObserveLatest(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

type nodeHealth struct{}

func (nodeHealth) GetLatency() int64      { return 42 }
func (nodeHealth) GetErrorCount() uint64  { return 2 }
func (nodeHealth) GetTotalErrors() uint64 { return 7 }

func TestMetrics_WatchNode(t *testing.T) {
	m := New("node")
	m.WatchNode(nodeHealth{})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "node_rpc_latency_milliseconds 42")
	assert.Contains(t, body, "node_rpc_consecutive_errors 2")
	assert.Contains(t, body, "node_rpc_node_errors_total 7")

	var nilMetrics *Metrics
	nilMetrics.WatchNode(nodeHealth{})
}
