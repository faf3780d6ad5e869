package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	p, ok := Get("eth-mainnet")
	assert.True(t, ok)
	assert.Equal(t, "1", p.NetworkID)
	assert.Equal(t, 8545, p.Port)

	Register("my-test-chain", Preset{
		Protocol:  "ethereum",
		NetworkID: "123",
		BlockTime: 5 * time.Second,
	})

	p2, ok := Get("my-test-chain")
	assert.True(t, ok)
	assert.Equal(t, "123", p2.NetworkID)
	assert.Equal(t, 5*time.Second, p2.BlockTime)

	_, ok = Get("unknown-chain")
	assert.False(t, ok)
}

func TestForProtocol(t *testing.T) {
	p, ok := ForProtocol("bitcoin")
	assert.True(t, ok)
	assert.Equal(t, 8332, p.Port)

	p, ok = ForProtocol("ethereum")
	assert.True(t, ok)
	assert.Equal(t, 8545, p.Port)
	assert.Equal(t, "1", p.NetworkID)

	_, ok = ForProtocol("dogecoin")
	assert.False(t, ok)
}
