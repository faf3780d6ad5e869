package scanner

import (
	"context"

	"github.com/84hero/chain-scanner/pkg/protocol"
	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/ethereum/go-ethereum/log"
)

const timestampKey = "@timestamp"

func (s *Scanner) buildEvents(ctx context.Context, b *protocol.Block) ([]record.Event, error) {
	switch s.config.Granularity {
	case GranularityTransaction:
		return s.transactionEvents(b), nil
	case GranularityEvent:
		return s.inspect(ctx, b, s.inspector.DecodeEvent, "transactionHash")
	case GranularityContract:
		return s.inspect(ctx, b, s.inspector.DeployeeInfo, "address")
	default:
		return []record.Event{s.blockEvent(b)}, nil
	}
}

func (s *Scanner) event(b *protocol.Block, key string, data record.Record) record.Event {
	return record.Event{
		Height:      b.Height,
		Granularity: s.config.Granularity,
		Key:         key,
		Data:        data,
	}
}

func (s *Scanner) blockEvent(b *protocol.Block) record.Event {
	r := b.Data.Clone()
	r["tx_info"] = b.Transactions
	r["tx_count"] = len(b.Transactions)
	r[timestampKey] = b.Timestamp
	return s.event(b, b.Hash, r)
}

func (s *Scanner) transactionEvents(b *protocol.Block) []record.Event {
	info := b.Data.Clone()
	info["tx_count"] = len(b.Transactions)

	out := make([]record.Event, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		r := tx.Clone()
		r["block"] = info
		r[timestampKey] = b.Timestamp
		key := r.String("hash")
		if key == "" {
			key = r.String("txid")
		}
		out = append(out, s.event(b, key, r))
	}
	return out
}

type inspectFunc func(ctx context.Context, tx record.Record) (record.Record, error)

// inspect runs fn on every transaction. Undecodable data only drops the
// transaction; any other failure aborts the block.
func (s *Scanner) inspect(ctx context.Context, b *protocol.Block, fn inspectFunc, keyField string) ([]record.Event, error) {
	if pf, ok := s.proto.(protocol.Prefilter); ok {
		may := pf.MayEmitEvent
		if s.config.Granularity == GranularityContract {
			may = pf.MayDeploy
		}
		if !may(b) {
			log.Debug("Block skipped by bloom", "height", b.Height)
			return nil, nil
		}
	}

	var out []record.Event
	for _, tx := range b.Transactions {
		r, err := fn(ctx, tx)
		if err != nil {
			if !skippable(err) {
				return nil, err
			}
			log.Warn("Skipping transaction", "height", b.Height, "tx", tx.String("hash"), "err", err)
			continue
		}
		if len(r) == 0 {
			continue
		}
		if s.config.Granularity == GranularityEvent {
			r[timestampKey] = b.Timestamp
		}
		out = append(out, s.event(b, r.String(keyField), r))
	}
	return out, nil
}
