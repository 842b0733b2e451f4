// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package poll

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yessusuper/alpha-source/internal/model"
)

// DefaultInterval matches the production feed refresh cadence.
const DefaultInterval = 3 * time.Second

// fetchTimeout bounds one poll cycle so a hung fetch cannot stall the loop.
const fetchTimeout = 10 * time.Second

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// Fetcher retrieves the full current authoritative log for a conversation.
// There is no cursor; the store deduplicates.
type Fetcher interface {
	FetchMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// Merger is the store-side sink for polled batches. *store.Store satisfies it.
type Merger interface {
	MergeAuthoritative(batch []model.Message) int
}

// =============================================================================
// SYNCHRONIZER
// =============================================================================

// Synchronizer owns the polling lifecycle for any number of conversations,
// one loop per conversation id.
type Synchronizer struct {
	mu     sync.Mutex
	fetch  Fetcher
	logger zerolog.Logger
	loops  map[string]*loop
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSynchronizer creates a synchronizer using the given fetch source.
func NewSynchronizer(fetch Fetcher, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		fetch:  fetch,
		logger: logger,
		loops:  make(map[string]*loop),
	}
}

// Start begins periodic fetches for the conversation, merging each batch
// into target. The first fetch happens immediately, then every interval.
// Starting a conversation that is already polling replaces its loop.
func (s *Synchronizer) Start(conversationID string, target Merger, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.mu.Lock()
	if old, ok := s.loops[conversationID]; ok {
		old.cancel()
		// Wait outside the lock would race a concurrent Start; loops
		// exit promptly on cancel, so block here.
		<-old.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	s.loops[conversationID] = l
	s.mu.Unlock()

	go s.run(ctx, l, conversationID, target, interval)
}

// Stop cancels the polling loop for one conversation and waits for it to
// finish. Stopping an id that is not polling is a no-op.
func (s *Synchronizer) Stop(conversationID string) {
	s.mu.Lock()
	l, ok := s.loops[conversationID]
	if ok {
		delete(s.loops, conversationID)
	}
	s.mu.Unlock()

	if ok {
		l.cancel()
		<-l.done
	}
}

// StopAll cancels every active loop; used on view teardown.
func (s *Synchronizer) StopAll() {
	s.mu.Lock()
	loops := s.loops
	s.loops = make(map[string]*loop)
	s.mu.Unlock()

	for _, l := range loops {
		l.cancel()
		<-l.done
	}
}

// Active reports whether a loop is running for the conversation.
func (s *Synchronizer) Active(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[conversationID]
	return ok
}

// =============================================================================
// LOOP
// =============================================================================

func (s *Synchronizer) run(ctx context.Context, l *loop, conversationID string, target Merger, interval time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.cycle(ctx, conversationID, target)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(ctx, conversationID, target)
		}
	}
}

// cycle runs one fetch-and-merge pass. Failures are absorbed: a failed or
// malformed fetch counts as an empty batch for this cycle.
func (s *Synchronizer) cycle(ctx context.Context, conversationID string, target Merger) {
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	batch, err := s.fetch.FetchMessages(fctx, conversationID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().
			Err(err).
			Str("conversation", conversationID).
			Msg("poll fetch failed, skipping cycle")
		return
	}

	if n := target.MergeAuthoritative(batch); n > 0 {
		s.logger.Debug().
			Int("applied", n).
			Str("conversation", conversationID).
			Msg("merged polled entries")
	}
}
