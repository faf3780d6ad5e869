// Package protocol defines the capability a blockchain adapter offers to
// the scanner. Adapters live in the bitcoin and ethereum sub-packages.
package protocol

import (
	"context"
	"time"

	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/pkg/errors"
)

const (
	Bitcoin  = "bitcoin"
	Ethereum = "ethereum"
)

// Names lists the supported protocols.
var Names = []string{Bitcoin, Ethereum}

var (
	// ErrUnsupported is returned for operations a protocol does not offer.
	ErrUnsupported = errors.New("operation not supported by protocol")
	// ErrNotConfigured is returned when an operation needs contract
	// descriptors that were not configured.
	ErrNotConfigured = errors.New("contract inspection not configured")
)

// Block is a fetched and normalized block.
type Block struct {
	Height       uint64
	Hash         string
	Data         record.Record // block fields, without transactions
	Transactions []record.Record
	Timestamp    string // ISO-8601, millisecond precision
}

// Protocol is implemented by every chain adapter.
type Protocol interface {
	Name() string

	// GetBlockCount returns the latest height known to the endpoint.
	GetBlockCount(ctx context.Context) (uint64, error)

	// GetBlock fetches the block at height. found is false, with a nil
	// error, when the endpoint has not reached height yet.
	GetBlock(ctx context.Context, height uint64) (block *Block, found bool, err error)

	// GetTransactionReceipt returns nil, nil when the receipt is not
	// available (yet).
	GetTransactionReceipt(ctx context.Context, txHash string) (record.Record, error)
}

// Inspector is implemented by protocols that understand contract ABIs.
type Inspector interface {
	// DecodeEvent decodes the configured event out of the transaction's
	// receipt. It returns nil when the transaction did not emit it.
	DecodeEvent(ctx context.Context, tx record.Record) (record.Record, error)

	// DeployeeInfo returns the properties of a contract deployed by the
	// configured deployer in tx, or nil when tx deployed nothing.
	DeployeeInfo(ctx context.Context, tx record.Record) (record.Record, error)
}

// Prefilter is implemented by protocols that can rule a block out before
// fetching receipts. False means the block certainly has nothing to inspect.
type Prefilter interface {
	MayEmitEvent(b *Block) bool
	MayDeploy(b *Block) bool
}

const timestampLayout = "2006-01-02T15:04:05.000-07:00"

// FormatTimestamp renders epoch seconds as UTC ISO-8601 with milliseconds.
func FormatTimestamp(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(timestampLayout)
}

// Log is one event log of a transaction receipt.
type Log struct {
	Address string
	Topics  []string
	Data    string
}

// ReceiptLogs extracts the logs of a receipt record. Malformed entries are
// skipped.
func ReceiptLogs(receipt record.Record) []Log {
	raw, _ := receipt["logs"].([]interface{})
	out := make([]Log, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		l := Log{}
		l.Address, _ = m["address"].(string)
		l.Data, _ = m["data"].(string)
		topics, _ := m["topics"].([]interface{})
		for _, t := range topics {
			if s, ok := t.(string); ok {
				l.Topics = append(l.Topics, s)
			}
		}
		out = append(out, l)
	}
	return out
}

// Records converts a decoded JSON array of objects into records.
func Records(v interface{}) []record.Record {
	raw, _ := v.([]interface{})
	out := make([]record.Record, 0, len(raw))
	for _, item := range raw {
		switch m := item.(type) {
		case map[string]interface{}:
			out = append(out, record.Record(m))
		case string:
			// transaction hashes only
			out = append(out, record.Record{"hash": m})
		}
	}
	return out
}
