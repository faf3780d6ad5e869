// Package sink delivers scanner records to downstream systems.
package sink

import (
	"context"
	"encoding/json"

	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Output defines the interface for the record output pipeline.
type Output interface {
	Name() string
	Send(ctx context.Context, events []record.Event) error
	Close() error
}

// Fanout delivers every batch to all outputs concurrently.
type Fanout struct {
	outputs []Output
}

func NewFanout(outputs ...Output) *Fanout {
	return &Fanout{outputs: outputs}
}

func (f *Fanout) Name() string { return "fanout" }

// Len returns the number of outputs.
func (f *Fanout) Len() int { return len(f.outputs) }

// Send returns the first failure. The scanner then retries the block, so
// outputs that already succeeded see the batch again.
func (f *Fanout) Send(ctx context.Context, events []record.Event) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, o := range f.outputs {
		g.Go(func() error {
			if err := o.Send(gctx, events); err != nil {
				return errors.Wrapf(err, "output %s", o.Name())
			}
			return nil
		})
	}
	return g.Wait()
}

// Close closes every output and returns the first error.
func (f *Fanout) Close() error {
	var first error
	for _, o := range f.outputs {
		if err := o.Close(); err != nil {
			log.Error("Failed to close output", "output", o.Name(), "err", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func encode(e record.Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrapf(err, "encode record %s at height %d", e.Key, e.Height)
	}
	return data, nil
}
