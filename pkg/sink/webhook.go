package sink

import (
	"context"
	"sync"

	"github.com/84hero/chain-scanner/internal/webhook"
	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// WebhookConfig configures a WebhookOutput.
type WebhookConfig struct {
	webhook.Config `mapstructure:",squash"`

	// Async queues batches for background workers. Send then succeeds
	// before delivery, so a crash can lose queued batches.
	Async      bool `mapstructure:"async"`
	BufferSize int  `mapstructure:"buffer_size"`
	Workers    int  `mapstructure:"workers"`
}

type WebhookOutput struct {
	client   *webhook.Client
	async    bool
	queue    chan []record.Event
	wg       sync.WaitGroup
	closed   bool
	closedMu sync.Mutex
}

func NewWebhookOutput(cfg WebhookConfig) *WebhookOutput {
	wo := &WebhookOutput{
		client: webhook.NewClient(cfg.Config),
		async:  cfg.Async,
	}

	if cfg.Async {
		if cfg.BufferSize <= 0 {
			cfg.BufferSize = 1000
		}
		if cfg.Workers <= 0 {
			cfg.Workers = 1
		}
		wo.queue = make(chan []record.Event, cfg.BufferSize)
		for i := 0; i < cfg.Workers; i++ {
			wo.wg.Add(1)
			go wo.worker()
		}
	}
	return wo
}

func (w *WebhookOutput) Name() string { return "webhook" }

func (w *WebhookOutput) worker() {
	defer w.wg.Done()
	for events := range w.queue {
		if err := w.client.Send(context.Background(), events); err != nil {
			log.Error("Async webhook delivery failed", "height", events[0].Height, "records", len(events), "err", err)
		}
	}
}

func (w *WebhookOutput) Send(ctx context.Context, events []record.Event) error {
	if len(events) == 0 {
		return nil
	}
	if !w.async {
		return w.client.Send(ctx, events)
	}

	w.closedMu.Lock()
	defer w.closedMu.Unlock()
	if w.closed {
		return errors.New("webhook output is closed")
	}
	select {
	case w.queue <- events:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the async queue.
func (w *WebhookOutput) Close() error {
	if w.async {
		w.closedMu.Lock()
		if !w.closed {
			w.closed = true
			close(w.queue)
		}
		w.closedMu.Unlock()
		w.wg.Wait()
	}
	return nil
}
