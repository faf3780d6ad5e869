package ethereum

import (
	"github.com/84hero/chain-scanner/pkg/protocol"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Past this many candidates per position a bloom saturates and stops
// ruling blocks out.
const heavyFilterSize = 20

// logFilter checks a block's logsBloom before any receipt is fetched.
// Contracts and topics are ANDed; candidates inside each are ORed.
type logFilter struct {
	contracts []common.Address
	topics    []common.Hash
}

func (f *logFilter) heavy() bool {
	return len(f.contracts) > heavyFilterSize || len(f.topics) > heavyFilterSize
}

// matches returns false only when no log of the block can match.
func (f *logFilter) matches(bloom types.Bloom) bool {
	if len(f.contracts) > 0 && !anyInBloom(bloom, f.contracts, func(a common.Address) []byte { return a.Bytes() }) {
		return false
	}
	if len(f.topics) > 0 && !anyInBloom(bloom, f.topics, func(h common.Hash) []byte { return h.Bytes() }) {
		return false
	}
	return true
}

func anyInBloom[T any](bloom types.Bloom, items []T, raw func(T) []byte) bool {
	for _, it := range items {
		if bloom.Test(raw(it)) {
			return true
		}
	}
	return false
}

// blockBloom reads logsBloom from a normalized block.
func blockBloom(b *protocol.Block) (types.Bloom, bool) {
	s, ok := b.Data["logsBloom"].(string)
	if !ok {
		return types.Bloom{}, false
	}
	raw, err := hexutil.Decode(s)
	if err != nil || len(raw) != types.BloomByteLength {
		return types.Bloom{}, false
	}
	return types.BytesToBloom(raw), true
}

func mayContain(f *logFilter, b *protocol.Block) bool {
	if f == nil || f.heavy() {
		return true
	}
	bloom, ok := blockBloom(b)
	if !ok {
		return true
	}
	return f.matches(bloom)
}

// MayEmitEvent implements protocol.Prefilter.
func (a *Adapter) MayEmitEvent(b *protocol.Block) bool {
	if a.event == nil {
		return true
	}
	return mayContain(a.event.filter, b)
}

// MayDeploy implements protocol.Prefilter.
func (a *Adapter) MayDeploy(b *protocol.Block) bool {
	if a.deployment == nil {
		return true
	}
	return mayContain(a.deployment.filter, b)
}
