// Package outbox is the sync agent's durable queue of attendance batches that
// could not be written to the API gateway yet.
package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
)

// Store holds pending batches in enqueue order and mirrors every mutation to
// its Backend. When the backend fails the store keeps working from memory and
// reports Degraded until a later save succeeds.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	batches  []models.AttendanceBatch
	degraded bool

	subMu       sync.Mutex
	notifyMu    sync.Mutex
	subscribers map[int]func(int)
	nextSub     int

	logger *zap.Logger
	now    func() time.Time
}

// Open loads persisted batches from backend. A backend that cannot be read
// yields an empty store in degraded mode rather than an error.
func Open(ctx context.Context, backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &Store{
		backend:     backend,
		subscribers: make(map[int]func(int)),
		logger:      logger.With(zap.String("outbox_backend", backend.Name())),
		now:         func() time.Time { return time.Now().UTC() },
	}
	batches, err := backend.Load(ctx)
	if err != nil {
		s.logger.Error("outbox storage unavailable, running in memory only", zap.Error(err))
		s.degraded = true
		batches = []models.AttendanceBatch{}
	}
	s.batches = batches
	if len(batches) > 0 {
		s.logger.Info("outbox restored", zap.Int("pending", len(batches)))
	}
	return s
}

// Enqueue appends a batch and returns its id. It always succeeds; a
// persistence failure only switches the store to degraded mode.
func (s *Store) Enqueue(ctx context.Context, rows []models.AttendanceRecord, opts models.EnqueueOptions) string {
	now := s.now()
	batch := models.AttendanceBatch{
		ID:        fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8]),
		Kind:      models.OutboxKindAttendance,
		CreatedAt: now,
		Finalize:  opts.Finalize,
		Actor:     copyActor(opts.Actor),
		Meta:      copyMeta(opts.Meta),
		Rows:      append([]models.AttendanceRecord(nil), rows...),
	}

	s.mu.Lock()
	s.batches = append(s.batches, batch)
	count := len(s.batches)
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.logger.Info("attendance batch queued", zap.String("batch_id", batch.ID), zap.Int("rows", len(rows)), zap.Int("pending", count))
	s.notify()
	return batch.ID
}

// Remove drops the batch with id. Unknown ids are ignored.
func (s *Store) Remove(ctx context.Context, id string) {
	s.mu.Lock()
	idx := -1
	for i, batch := range s.batches {
		if batch.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.batches = append(s.batches[:idx:idx], s.batches[idx+1:]...)
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify()
}

// Clear discards every pending batch and returns how many were dropped.
func (s *Store) Clear(ctx context.Context) int {
	s.mu.Lock()
	dropped := len(s.batches)
	s.batches = []models.AttendanceBatch{}
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.logger.Warn("outbox cleared", zap.Int("dropped", dropped))
	s.notify()
	return dropped
}

// Count returns the number of pending batches.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// Snapshot returns the pending batches, oldest first. The slice is a copy.
func (s *Store) Snapshot() []models.AttendanceBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AttendanceBatch, len(s.batches))
	copy(out, s.batches)
	return out
}

// Degraded reports whether the last persistence attempt failed.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Subscribe registers fn to receive the pending count. fn is called once
// immediately and after every mutation, never concurrently, and must not
// mutate the store. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(count int)) func() {
	s.notifyMu.Lock()
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.subMu.Unlock()
	fn(s.Count())
	s.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
		})
	}
}

// notify reads the count under notifyMu so that the last delivery always
// carries the latest count, whatever order concurrent mutations finish in.
func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	count := s.Count()

	s.subMu.Lock()
	fns := make([]func(int), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(count)
	}
}

func (s *Store) persistLocked(ctx context.Context) {
	err := s.backend.Save(context.WithoutCancel(ctx), s.batches)
	switch {
	case err != nil && !s.degraded:
		s.degraded = true
		s.logger.Error("outbox persistence failed, continuing in memory", zap.Error(err))
	case err != nil:
		s.logger.Debug("outbox persistence still failing", zap.Error(err))
	case s.degraded:
		s.degraded = false
		s.logger.Info("outbox persistence recovered", zap.Int("pending", len(s.batches)))
	}
}

func copyMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func copyActor(actor *models.BatchActor) *models.BatchActor {
	if actor == nil {
		return nil
	}
	a := *actor
	return &a
}
