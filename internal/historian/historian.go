// internal/historian/historian.go

// Package historian is the consumer side of the room action log: it pops
// actions from Redis and persists them to postgres in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jason-s-yu/simon/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Queue is the part of the redis client the historian reads with.
type Queue interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Store persists actions. SaveBatch must be idempotent, a failed batch is
// retried as a whole.
type Store interface {
	SaveBatch(ctx context.Context, actions []models.RoomAction) error
	MarkAbandoned(ctx context.Context, roomID string, createdAt int64) error
}

type Options struct {
	QueueName  string
	BatchSize  int
	FlushEvery time.Duration
	PopTimeout time.Duration
	// Inactivity is how long a room may go quiet before it is marked
	// abandoned. Zero disables the check.
	Inactivity time.Duration
	Logger     logrus.FieldLogger
}

const maxRetryDelay = 30 * time.Second

type roomKey struct {
	id      string
	created int64
}

// Service drains the queue. It is single-goroutine: Run owns all state.
type Service struct {
	queue Queue
	store Store
	opts  Options
	log   logrus.FieldLogger

	batch        []models.RoomAction
	lastFlush    time.Time
	retryDelay   time.Duration
	retryAt      time.Time
	lastActivity map[roomKey]time.Time
	now          func() time.Time
}

func New(queue Queue, store Store, opts Options) *Service {
	if opts.BatchSize < 1 {
		opts.BatchSize = 20
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = 500 * time.Millisecond
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Service{
		queue:        queue,
		store:        store,
		opts:         opts,
		log:          opts.Logger.WithField("queue", opts.QueueName),
		batch:        make([]models.RoomAction, 0, opts.BatchSize),
		lastActivity: make(map[roomKey]time.Time),
		now:          time.Now,
	}
}

// Run pops until ctx is cancelled, then flushes what it holds and returns.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("Historian started")
	s.lastFlush = s.now()
	lastSweep := s.now()

	for {
		if ctx.Err() != nil {
			s.flush(context.Background())
			s.log.Info("Historian shutting down")
			return nil
		}

		if len(s.batch) >= s.opts.BatchSize {
			// A full batch that failed to write stays put; the rest of the
			// queue waits in redis until it goes through.
			s.waitForRetry(ctx)
		} else {
			s.pop(ctx)
		}

		due := len(s.batch) >= s.opts.BatchSize || s.now().Sub(s.lastFlush) >= s.opts.FlushEvery
		if due && !s.now().Before(s.retryAt) {
			s.flush(ctx)
		}
		if s.opts.Inactivity > 0 && s.now().Sub(lastSweep) >= s.opts.Inactivity/4 {
			s.sweepInactive(ctx)
			lastSweep = s.now()
		}
	}
}

func (s *Service) pop(ctx context.Context) {
	popTimeout := min(s.opts.PopTimeout, s.opts.FlushEvery)
	res, err := s.queue.BLPop(ctx, popTimeout, s.opts.QueueName).Result()
	switch {
	case err == nil && len(res) == 2:
		s.accept(res[1])
	case err == nil, errors.Is(err, redis.Nil):
	case ctx.Err() != nil:
	default:
		s.log.WithError(err).Error("BLPop failed")
		// back off instead of spinning on a dead connection
		select {
		case <-ctx.Done():
		case <-time.After(popTimeout):
		}
	}
}

func (s *Service) waitForRetry(ctx context.Context) {
	wait := s.retryAt.Sub(s.now())
	if wait <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

func (s *Service) accept(payload string) {
	var action models.RoomAction
	if err := json.Unmarshal([]byte(payload), &action); err != nil {
		s.log.WithError(err).Warn("Invalid action record")
		return
	}
	key := roomKey{action.RoomID, action.RoomCreatedAt}
	if action.ActionType == models.ActionRoomClosed {
		delete(s.lastActivity, key)
	} else {
		s.lastActivity[key] = s.now()
	}
	s.batch = append(s.batch, action)
}

// flush writes the batch in one transaction. On failure the batch is kept
// and the next attempt is pushed back, doubling up to maxRetryDelay.
func (s *Service) flush(ctx context.Context) {
	s.lastFlush = s.now()
	if len(s.batch) == 0 {
		return
	}
	if err := s.store.SaveBatch(ctx, s.batch); err != nil {
		if s.retryDelay == 0 {
			s.retryDelay = s.opts.FlushEvery
		} else {
			s.retryDelay = min(2*s.retryDelay, maxRetryDelay)
		}
		s.retryAt = s.now().Add(s.retryDelay)
		s.log.WithError(err).WithFields(logrus.Fields{
			"actions": len(s.batch),
			"retry":   s.retryDelay,
		}).Error("Failed to flush actions")
		return
	}
	s.log.WithField("actions", len(s.batch)).Debug("Flushed actions to DB")
	s.batch = s.batch[:0]
	s.retryDelay = 0
	s.retryAt = time.Time{}
}

// sweepInactive marks quiet rooms abandoned. Rooms with rows still waiting
// in the batch are left for a later sweep, since their rooms row may not
// exist yet.
func (s *Service) sweepInactive(ctx context.Context) {
	pending := make(map[roomKey]bool, len(s.batch))
	for _, a := range s.batch {
		pending[roomKey{a.RoomID, a.RoomCreatedAt}] = true
	}

	now := s.now()
	for key, last := range s.lastActivity {
		if now.Sub(last) <= s.opts.Inactivity || pending[key] {
			continue
		}
		if err := s.store.MarkAbandoned(ctx, key.id, key.created); err != nil {
			s.log.WithError(err).WithField("room", key.id).Warn("Failed to mark room abandoned")
			continue
		}
		s.log.WithField("room", key.id).Info("Marked room abandoned due to inactivity")
		delete(s.lastActivity, key)
	}
}
