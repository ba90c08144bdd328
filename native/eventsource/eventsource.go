// Package eventsource implements the reorg-safe Event Source described in
// spec §4.4: it tails a chain of ProtocolExecution/TransferExecuted events,
// subtracts a confirmation depth from the tip, detects reorgs by comparing
// cached block hashes, and rewinds the Ledger Store on mismatch.
package eventsource

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"subledger/native/ledger"
)

// MaxBlockHashCache bounds the reorg-detection hash cache (spec §4.4).
const MaxBlockHashCache = 1_000

// MaxBlocksPerQuery caps a single chunked-RPC-fallback query (spec §4.4).
const MaxBlocksPerQuery = 1_000

// DefaultConfirmationDepth is the number of finalized blocks subtracted from
// the tip before processing (spec §4.4: default 60).
const DefaultConfirmationDepth = 60

// MaxEndpointFailures rotates away from an endpoint after this many
// consecutive failures.
const MaxEndpointFailures = 3

// BlockHeader is the minimal chain header shape the source needs for reorg
// detection.
type BlockHeader struct {
	Number uint64
	Hash   [32]byte
}

// ChainClient is the narrow substrate query surface the Event Source drives.
// A GraphQL-indexer-backed implementation is the primary path; a
// chunked-direct-RPC implementation is the fallback (spec §4.4).
type ChainClient interface {
	HeadBlockNumber(ctx context.Context) (uint64, error)
	BlockHeader(ctx context.Context, number uint64) (BlockHeader, error)
	EventsInRange(ctx context.Context, fromBlock, toBlock uint64) ([]ledger.Event, error)
}

// LedgerStore is the persistence surface the source ingests into and rewinds
// on reorg detection.
type LedgerStore interface {
	Put(evt ledger.Event) error
	RewindFrom(height uint64, tip uint64) error
}

// Config bounds the source's polling and reorg-detection behavior.
type Config struct {
	ConfirmationDepth uint64
	MaxBlocksPerQuery uint64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{ConfirmationDepth: DefaultConfirmationDepth, MaxBlocksPerQuery: MaxBlocksPerQuery}
}

// Source is the reorg-safe Event Source. It is not safe for concurrent use
// by multiple goroutines; callers serialize cycles via the shared pipeline
// mutex described in spec §5.
type Source struct {
	client ChainClient
	store  LedgerStore
	cfg    Config

	started            bool
	lastProcessedBlock uint64
	// blockHashes caches the hash observed for each processed block height,
	// bounded to MaxBlockHashCache entries, oldest evicted first.
	blockHashes map[uint64][32]byte
	order       []uint64

	// limiter throttles outbound chain-client calls so polling never
	// overruns the indexer's own rate limits. Nil means unthrottled.
	limiter *rate.Limiter
}

// SetRateLimiter bounds the rate of outbound ChainClient calls Poll makes.
func (s *Source) SetRateLimiter(limiter *rate.Limiter) {
	if s == nil {
		return
	}
	s.limiter = limiter
}

func (s *Source) throttle(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// NewSource constructs a Source backed by client and store.
func NewSource(client ChainClient, store LedgerStore, cfg Config) *Source {
	return &Source{
		client:      client,
		store:       store,
		cfg:         cfg,
		blockHashes: make(map[uint64][32]byte),
	}
}

// LastProcessedBlock reports the highest block height ingested so far.
func (s *Source) LastProcessedBlock() uint64 {
	return s.lastProcessedBlock
}

func (s *Source) cacheHash(height uint64, hash [32]byte) {
	if _, exists := s.blockHashes[height]; !exists {
		s.order = append(s.order, height)
	}
	s.blockHashes[height] = hash
	for len(s.order) > MaxBlockHashCache {
		evict := s.order[0]
		s.order = s.order[1:]
		delete(s.blockHashes, evict)
	}
}

func (s *Source) dropFrom(height uint64) {
	kept := s.order[:0]
	for _, h := range s.order {
		if h >= height {
			delete(s.blockHashes, h)
			continue
		}
		kept = append(kept, h)
	}
	s.order = kept
}

// Poll runs one ingestion cycle: detect reorgs over the recent window,
// rewind on mismatch, then ingest newly confirmed blocks up to tip -
// confirmation_depth.
func (s *Source) Poll(ctx context.Context) error {
	if err := s.throttle(ctx); err != nil {
		return fmt.Errorf("eventsource: rate limit wait: %w", err)
	}
	head, err := s.client.HeadBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("eventsource: fetch head: %w", err)
	}
	if head < s.cfg.ConfirmationDepth {
		return nil
	}
	confirmedTip := head - s.cfg.ConfirmationDepth

	if err := s.detectAndHandleReorg(ctx, confirmedTip); err != nil {
		return err
	}

	var from uint64
	if s.started {
		from = s.lastProcessedBlock + 1
	}
	if from > confirmedTip {
		return nil
	}

	for from <= confirmedTip {
		to := from + s.cfg.MaxBlocksPerQuery - 1
		if to > confirmedTip {
			to = confirmedTip
		}
		if err := s.throttle(ctx); err != nil {
			return fmt.Errorf("eventsource: rate limit wait: %w", err)
		}
		events, err := s.client.EventsInRange(ctx, from, to)
		if err != nil {
			return fmt.Errorf("eventsource: fetch events [%d,%d]: %w", from, to, err)
		}
		for _, evt := range events {
			if err := s.store.Put(evt); err != nil {
				return fmt.Errorf("eventsource: ingest event: %w", err)
			}
		}
		for h := from; h <= to; h++ {
			if err := s.throttle(ctx); err != nil {
				return fmt.Errorf("eventsource: rate limit wait: %w", err)
			}
			header, err := s.client.BlockHeader(ctx, h)
			if err != nil {
				return fmt.Errorf("eventsource: fetch header %d: %w", h, err)
			}
			s.cacheHash(h, header.Hash)
		}
		s.lastProcessedBlock = to
		s.started = true
		from = to + 1
	}
	return nil
}

// detectAndHandleReorg re-fetches the most recent 2*confirmation_depth
// blocks and compares against cached hashes. On mismatch at height h, every
// cached hash >= h is dropped, last_processed_block is rewound to h-1, and
// the Ledger Store is told to discard events from the rewound range (spec
// §4.4).
func (s *Source) detectAndHandleReorg(ctx context.Context, confirmedTip uint64) error {
	lookback := 2 * s.cfg.ConfirmationDepth
	var start uint64
	if confirmedTip > lookback {
		start = confirmedTip - lookback
	}
	if !s.started {
		return nil
	}
	end := s.lastProcessedBlock
	if end > confirmedTip {
		end = confirmedTip
	}
	for h := start; h <= end; h++ {
		cached, ok := s.blockHashes[h]
		if !ok {
			continue
		}
		if err := s.throttle(ctx); err != nil {
			return fmt.Errorf("eventsource: rate limit wait: %w", err)
		}
		header, err := s.client.BlockHeader(ctx, h)
		if err != nil {
			return fmt.Errorf("eventsource: fetch header %d: %w", h, err)
		}
		if header.Hash != cached {
			if err := s.store.RewindFrom(h, s.lastProcessedBlock); err != nil {
				return fmt.Errorf("eventsource: rewind from %d: %w", h, err)
			}
			s.dropFrom(h)
			if h == 0 {
				s.lastProcessedBlock = 0
				s.started = false
			} else {
				s.lastProcessedBlock = h - 1
			}
			return nil
		}
	}
	return nil
}
