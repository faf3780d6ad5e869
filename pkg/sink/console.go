package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/84hero/chain-scanner/pkg/record"
)

// ConsoleOutput prints records as JSON lines.
type ConsoleOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleOutput() *ConsoleOutput {
	return &ConsoleOutput{w: os.Stdout}
}

func (c *ConsoleOutput) Name() string { return "console" }

func (c *ConsoleOutput) Send(ctx context.Context, events []record.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	enc := json.NewEncoder(c.w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
