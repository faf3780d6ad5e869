package ethereum

import (
	"strings"
	"testing"

	"github.com/84hero/chain-scanner/pkg/protocol"
	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilter_Matches(t *testing.T) {
	addr1 := common.HexToAddress("0x1111111111111111111111111111111111111111")
	topic1 := common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	bloom := types.Bloom{}
	bloom.Add(addr1.Bytes())
	bloom.Add(topic1.Bytes())

	assert.True(t, (&logFilter{contracts: []common.Address{addr1}}).matches(bloom))
	assert.False(t, (&logFilter{contracts: []common.Address{common.HexToAddress("0x2222222222222222222222222222222222222222")}}).matches(bloom))

	assert.True(t, (&logFilter{topics: []common.Hash{topic1}}).matches(bloom))
	assert.False(t, (&logFilter{topics: []common.Hash{common.HexToHash("0xbb")}}).matches(bloom))

	// contracts AND topics
	assert.True(t, (&logFilter{contracts: []common.Address{addr1}, topics: []common.Hash{topic1}}).matches(bloom))
	assert.False(t, (&logFilter{contracts: []common.Address{addr1}, topics: []common.Hash{common.HexToHash("0xbb")}}).matches(bloom))

	// empty filter matches everything
	assert.True(t, (&logFilter{}).matches(types.Bloom{}))
}

func TestLogFilter_Heavy(t *testing.T) {
	f := &logFilter{}
	assert.False(t, f.heavy())

	f.topics = make([]common.Hash, heavyFilterSize+1)
	assert.True(t, f.heavy())
}

func blockWithBloom(items ...[]byte) *protocol.Block {
	bloom := types.Bloom{}
	for _, it := range items {
		bloom.Add(it)
	}
	return &protocol.Block{Data: record.Record{"logsBloom": hexutil.Encode(bloom.Bytes())}}
}

func TestMayEmitEvent(t *testing.T) {
	a, err := New(&fakeCaller{}, newRegistry(t), Config{Event: &EventConfig{Contract: "Token", Event: "Transfer"}})
	require.NoError(t, err)

	topic := common.HexToHash(a.event.selector)
	token := common.HexToAddress(tokenAddr)

	assert.True(t, a.MayEmitEvent(blockWithBloom(token.Bytes(), topic.Bytes())))
	assert.False(t, a.MayEmitEvent(blockWithBloom(topic.Bytes())))
	assert.False(t, a.MayEmitEvent(blockWithBloom()))

	// unreadable bloom never rules a block out
	assert.True(t, a.MayEmitEvent(&protocol.Block{Data: record.Record{}}))
	assert.True(t, a.MayEmitEvent(&protocol.Block{Data: record.Record{"logsBloom": "0x" + strings.Repeat("0", 10)}}))
}

func TestMayDeploy(t *testing.T) {
	a, _ := newDeploymentAdapter(t, nil)
	topic := common.HexToHash(a.EventSignature("CreateDeployee", []string{"address"}))

	assert.True(t, a.MayDeploy(blockWithBloom(topic.Bytes())))
	assert.False(t, a.MayDeploy(blockWithBloom(common.HexToHash("0x01").Bytes())))

	plain, _ := New(&fakeCaller{}, nil, Config{})
	assert.True(t, plain.MayDeploy(blockWithBloom()))
	assert.True(t, plain.MayEmitEvent(blockWithBloom()))
}
