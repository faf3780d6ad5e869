// Package scanner walks a chain one block at a time, turns every block into
// records of the configured granularity and checkpoints progress after each
// block has been handed off.
package scanner

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/84hero/chain-scanner/pkg/decoder"
	"github.com/84hero/chain-scanner/pkg/metrics"
	"github.com/84hero/chain-scanner/pkg/numeric"
	"github.com/84hero/chain-scanner/pkg/protocol"
	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/84hero/chain-scanner/pkg/storage"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// State is the phase the scanner loop is in.
type State int32

const (
	DeterminingStart State = iota
	Fetching
	Waiting
	Processing
	Stopped
)

func (s State) String() string {
	switch s {
	case DeterminingStart:
		return "determining_start"
	case Fetching:
		return "fetching"
	case Waiting:
		return "waiting"
	case Processing:
		return "processing"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

const (
	GranularityBlock       = "block"
	GranularityTransaction = "transaction"
	GranularityEvent       = "event"
	GranularityContract    = "contract"
)

// Granularities lists the supported granularities.
var Granularities = []string{GranularityBlock, GranularityTransaction, GranularityEvent, GranularityContract}

// ValidGranularity reports whether g is supported.
func ValidGranularity(g string) bool {
	for _, v := range Granularities {
		if v == g {
			return true
		}
	}
	return false
}

type Config struct {
	// Key names the checkpoint. Defaults to storage.DefaultKey.
	Key         string
	StartHeight uint64
	// ForceStart ignores any saved checkpoint.
	ForceStart  bool
	Granularity string

	// Interval is the pause between polls once the tip is reached. When
	// zero, RetryBackoff is used instead.
	Interval     time.Duration
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

// Handler receives the records of one block. A returned error keeps the
// checkpoint where it is and the block is retried.
type Handler func(ctx context.Context, events []record.Event) error

type Scanner struct {
	proto     protocol.Protocol
	inspector protocol.Inspector
	store     storage.Persistence
	config    Config
	handler   Handler
	metrics   *metrics.Metrics

	state  atomic.Int32
	height atomic.Uint64
}

type Option func(*Scanner)

// WithMetrics records progress into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

func New(proto protocol.Protocol, store storage.Persistence, cfg Config, opts ...Option) *Scanner {
	if cfg.Key == "" {
		cfg.Key = storage.DefaultKey
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = 30 * cfg.RetryBackoff
	}

	s := &Scanner{
		proto:  proto,
		store:  store,
		config: cfg,
	}
	if in, ok := proto.(protocol.Inspector); ok {
		s.inspector = in
	}

	switch {
	case cfg.Granularity == "":
		s.config.Granularity = GranularityBlock
	case !ValidGranularity(cfg.Granularity):
		log.Warn("Unknown granularity, using block", "granularity", cfg.Granularity)
		s.config.Granularity = GranularityBlock
	case (cfg.Granularity == GranularityEvent || cfg.Granularity == GranularityContract) && s.inspector == nil:
		log.Warn("Protocol cannot inspect contracts, using block granularity", "protocol", proto.Name(), "granularity", cfg.Granularity)
		s.config.Granularity = GranularityBlock
	}

	for _, opt := range opts {
		opt(s)
	}
	s.setState(DeterminingStart)
	return s
}

// SetHandler sets the callback receiving the records of every block.
func (s *Scanner) SetHandler(h Handler) {
	s.handler = h
}

// State returns the current phase.
func (s *Scanner) State() State {
	return State(s.state.Load())
}

// Height returns the next height to be processed.
func (s *Scanner) Height() uint64 {
	return s.height.Load()
}

// Granularity returns the effective granularity.
func (s *Scanner) Granularity() string {
	return s.config.Granularity
}

func (s *Scanner) setState(st State) {
	s.state.Store(int32(st))
}

// Start runs the scan loop until ctx is cancelled.
func (s *Scanner) Start(ctx context.Context) error {
	defer s.setState(Stopped)

	s.setState(DeterminingStart)
	height, err := s.determineStart(ctx)
	if err != nil {
		return err
	}
	s.height.Store(height)
	log.Info("Scanner started", "protocol", s.proto.Name(), "height", height, "granularity", s.config.Granularity)

	backoff := s.config.RetryBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.setState(Fetching)
		block, found, err := s.proto.GetBlock(ctx, height)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("Failed to fetch block", "height", height, "err", err)
			if !s.sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = s.nextBackoff(backoff)
			continue
		}
		if !found {
			s.setState(Waiting)
			log.Debug("Block not available yet", "height", height)
			if !s.sleep(ctx, s.pollInterval()) {
				return ctx.Err()
			}
			continue
		}

		s.setState(Processing)
		if err := s.process(ctx, block); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("Block processing failed", "height", height, "err", err)
			if !s.sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = s.nextBackoff(backoff)
			continue
		}

		next := height + 1
		if err := s.store.SaveCursor(s.config.Key, next); err != nil {
			log.Error("Failed to save checkpoint", "height", next, "err", err)
		}
		s.metrics.ObserveBlock(next)
		height = next
		s.height.Store(height)
		backoff = s.config.RetryBackoff
	}
}

// determineStart waits for the endpoint to answer, then resumes from the
// checkpoint or from the configured height clamped to the tip.
func (s *Scanner) determineStart(ctx context.Context) (uint64, error) {
	latest, err := s.latestHeight(ctx)
	if err != nil {
		return 0, err
	}

	if !s.config.ForceStart {
		saved, ok, err := s.store.LoadCursor(s.config.Key)
		if err != nil {
			return 0, errors.Wrap(err, "load checkpoint")
		}
		if ok {
			log.Info("Start strategy: Resume from checkpoint", "height", saved)
			return saved, nil
		}
	}

	start := s.config.StartHeight
	if start > latest {
		log.Warn("Start height beyond chain tip, clamping", "start_height", start, "latest", latest)
		start = latest
	}
	log.Info("Start strategy: Config start height", "height", start)
	return start, nil
}

func (s *Scanner) latestHeight(ctx context.Context) (uint64, error) {
	backoff := s.config.RetryBackoff
	for {
		latest, err := s.proto.GetBlockCount(ctx)
		if err == nil {
			s.metrics.ObserveLatest(latest)
			return latest, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		log.Error("Failed to get block count", "err", err)
		if !s.sleep(ctx, backoff) {
			return 0, ctx.Err()
		}
		backoff = s.nextBackoff(backoff)
	}
}

// process builds every record of the block before handing the batch off.
func (s *Scanner) process(ctx context.Context, b *protocol.Block) error {
	events, err := s.buildEvents(ctx, b)
	if err != nil {
		return err
	}
	if len(events) > 0 && s.handler != nil {
		if err := s.handler(ctx, events); err != nil {
			return errors.Wrap(err, "handler")
		}
	}
	s.metrics.ObserveRecords(s.config.Granularity, len(events))
	return nil
}

func (s *Scanner) pollInterval() time.Duration {
	if s.config.Interval > 0 {
		return s.config.Interval
	}
	return s.config.RetryBackoff
}

func (s *Scanner) nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > s.config.MaxBackoff {
		d = s.config.MaxBackoff
	}
	return d
}

// sleep waits for d and reports false if ctx was cancelled first.
func (s *Scanner) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// skippable reports whether err is a data problem confined to one
// transaction. Every other error aborts the block so it is retried.
func skippable(err error) bool {
	var (
		unsupported *decoder.UnsupportedTypeError
		outOfRange  *decoder.DecodeRangeError
		encoding    *numeric.EncodingError
	)
	return errors.As(err, &unsupported) || errors.As(err, &outOfRange) || errors.As(err, &encoding)
}
