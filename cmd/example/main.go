package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/84hero/chain-scanner/pkg/chain"
	"github.com/84hero/chain-scanner/pkg/config"
	"github.com/84hero/chain-scanner/pkg/contract"
	"github.com/84hero/chain-scanner/pkg/protocol/ethereum"
	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/84hero/chain-scanner/pkg/rpc"
	"github.com/84hero/chain-scanner/pkg/scanner"
	"github.com/84hero/chain-scanner/pkg/storage"
	"github.com/ethereum/go-ethereum/log"
)

// USDT descriptor fragment (Transfer event only), deployed on network 999
const usdtDescriptor = `{
  "abi": [{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}],
  "networks": {"999": {"address": "0xdAC17F958D2ee523a2206206994597C13D831ec7"}}
}`

func main() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	// [Feature 1: Custom Chain Presets]
	// Suppose we are scanning a private chain "my-chain" (chain: my-chain in config.yaml)
	chain.Register("my-chain", chain.Preset{
		Protocol:  "ethereum",
		Port:      8545,
		NetworkID: "999",
		BlockTime: 1 * time.Second,
	})

	// 1. Load configuration, presets fill what the file leaves out
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Crit("Failed to load config", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize RPC
	client, err := rpc.NewClient(ctx, rpc.Config{
		Node: rpc.NodeConfig{
			URL:       rpc.Endpoint(cfg.RPC.Scheme, cfg.Host, cfg.Port),
			RateLimit: 10,
		},
		CallTimeout: cfg.RPC.CallTimeout,
	})
	if err != nil {
		log.Crit("Failed to init client", "err", err)
	}
	defer client.Close()

	// 3. Register the descriptor in code instead of reading <dir>/USDT.json
	usdt, err := contract.Parse("USDT", []byte(usdtDescriptor))
	if err != nil {
		log.Crit("Failed to parse descriptor", "err", err)
	}
	contracts := contract.NewRegistry(cfg.Ethereum.ContractsDir)
	contracts.Register(usdt)

	// 4. Watch Transfer events of USDT
	adapter, err := ethereum.New(client, contracts, ethereum.Config{
		NetworkID: cfg.Ethereum.NetworkID,
		Event:     &ethereum.EventConfig{Contract: "USDT", Event: "Transfer"},
	})
	if err != nil {
		log.Crit("Failed to init adapter", "err", err)
	}

	// 5. Memory storage (data lost on restart)
	store := storage.NewMemoryStore("example_")

	// 6. Initialize Scanner
	s := scanner.New(adapter, store, scanner.Config{
		StartHeight: cfg.StartHeight,
		Granularity: scanner.GranularityEvent,
		Interval:    cfg.Interval,
	})

	// 7. Set handle callback (Processor Layer)
	s.SetHandler(func(ctx context.Context, events []record.Event) error {
		for _, e := range events {
			// Print human-readable data
			fmt.Printf(" [Event] %s | Block: %d | From: %v | To: %v | Value: %v\n",
				e.Data["event"],
				e.Height,
				e.Data["from"],
				e.Data["to"],
				e.Data["value"],
			)
		}
		return nil
	})

	// 8. Start
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Start(ctx); err != nil && err != context.Canceled {
			log.Error("Scanner stopped", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	cancel()
	<-done
}
