// Package chain holds per-network defaults for the scanner.
package chain

import (
	"sync"
	"time"
)

// Preset defines the default parameters for a network.
type Preset struct {
	Protocol  string
	Port      int           // default JSON-RPC port
	NetworkID string        // key into contract descriptor networks
	BlockTime time.Duration // used as the poll interval when none is set
}

var (
	registry = make(map[string]Preset)
	defaults = make(map[string]string) // protocol -> preset name
	mu       sync.RWMutex
)

// Register adds a new preset to the global registry.
func Register(name string, p Preset) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = p
}

// Get retrieves a preset by name.
func Get(name string) (Preset, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// ForProtocol returns the default preset of a protocol.
func ForProtocol(protocol string) (Preset, bool) {
	mu.RLock()
	name, ok := defaults[protocol]
	mu.RUnlock()
	if !ok {
		return Preset{}, false
	}
	return Get(name)
}

func registerDefault(name string, p Preset) {
	Register(name, p)
	mu.Lock()
	defaults[p.Protocol] = name
	mu.Unlock()
}

// Built-in presets
func init() {
	registerDefault("bitcoin", Preset{
		Protocol:  "bitcoin",
		Port:      8332,
		BlockTime: 10 * time.Minute,
	})
	Register("bitcoin-testnet", Preset{
		Protocol:  "bitcoin",
		Port:      18332,
		BlockTime: 10 * time.Minute,
	})

	registerDefault("eth-mainnet", Preset{
		Protocol:  "ethereum",
		Port:      8545,
		NetworkID: "1",
		BlockTime: 12 * time.Second,
	})
	Register("eth-sepolia", Preset{
		Protocol:  "ethereum",
		Port:      8545,
		NetworkID: "11155111",
		BlockTime: 12 * time.Second,
	})
	Register("bsc-mainnet", Preset{
		Protocol:  "ethereum",
		Port:      8545,
		NetworkID: "56",
		BlockTime: 3 * time.Second,
	})
	Register("polygon-mainnet", Preset{
		Protocol:  "ethereum",
		Port:      8545,
		NetworkID: "137",
		BlockTime: 2 * time.Second,
	})
}
