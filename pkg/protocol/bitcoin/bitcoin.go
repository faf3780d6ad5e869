// Package bitcoin implements the protocol adapter for bitcoind style
// JSON-RPC endpoints.
package bitcoin

import (
	"context"
	"encoding/json"

	"github.com/84hero/chain-scanner/pkg/protocol"
	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/84hero/chain-scanner/pkg/rpc"
	"github.com/ethereum/go-ethereum/log"
)

// codeOutOfRange is returned by getblockhash above the tip.
const codeOutOfRange = -8

// getblock verbosity including decoded transactions.
const verbosityTransactions = 2

// Adapter talks to a bitcoind node.
type Adapter struct {
	caller rpc.Caller
}

var _ protocol.Protocol = (*Adapter)(nil)

// New creates an adapter.
func New(caller rpc.Caller) *Adapter {
	return &Adapter{caller: caller}
}

// Name implements protocol.Protocol.
func (a *Adapter) Name() string { return protocol.Bitcoin }

// GetBlockCount returns getblockcount.
func (a *Adapter) GetBlockCount(ctx context.Context) (uint64, error) {
	var n uint64
	if err := a.caller.Call(ctx, &n, "getblockcount"); err != nil {
		return 0, err
	}
	return n, nil
}

// GetBlock resolves the block hash at height and fetches the block with its
// transactions. Fields are passed through unchanged.
func (a *Adapter) GetBlock(ctx context.Context, height uint64) (*protocol.Block, bool, error) {
	var hash string
	if err := a.caller.Call(ctx, &hash, "getblockhash", height); err != nil {
		if code, ok := rpc.ErrorCode(err); ok && code == codeOutOfRange {
			return nil, false, nil
		}
		return nil, false, err
	}

	rec, err := rpc.CallRecord(ctx, a.caller, "getblock", hash, verbosityTransactions)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}

	txs := protocol.Records(rec["tx"])
	delete(rec, "tx")

	block := &protocol.Block{
		Height:       height,
		Hash:         hash,
		Data:         rec,
		Transactions: txs,
	}
	if ts, ok := unixTime(rec["time"]); ok {
		block.Timestamp = protocol.FormatTimestamp(ts)
	} else {
		log.Warn("Block has no usable timestamp", "height", height, "time", rec["time"])
	}
	return block, true, nil
}

// GetTransactionReceipt is not available on bitcoin.
func (a *Adapter) GetTransactionReceipt(ctx context.Context, txHash string) (record.Record, error) {
	return nil, protocol.ErrUnsupported
}

func unixTime(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case float64:
		return int64(t), true
	case int64:
		return t, true
	}
	return 0, false
}
