// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/simon/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list (queue) name for room action logs.
const DefaultQueueName = "simon_actions"

// Connect opens a client for addr and checks it answers a PING.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Pusher is the slice of the redis client the action log needs.
type Pusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// ActionLog publishes room actions to a Redis list for the historian. It
// implements game.ActionLogger: LogAction only enqueues, and a single
// goroutine does the network writes in order.
type ActionLog struct {
	rdb   Pusher
	queue string
	log   logrus.FieldLogger

	mu      sync.RWMutex
	closed  bool
	pending chan models.RoomAction
	done    chan struct{}
}

// NewActionLog starts the publishing goroutine. buffer bounds how many
// actions may wait for Redis; beyond that new actions are dropped.
func NewActionLog(rdb Pusher, queue string, buffer int, logger logrus.FieldLogger) *ActionLog {
	if queue == "" {
		queue = DefaultQueueName
	}
	if buffer <= 0 {
		buffer = 1024
	}
	a := &ActionLog{
		rdb:     rdb,
		queue:   queue,
		log:     logger.WithField("queue", queue),
		pending: make(chan models.RoomAction, buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *ActionLog) LogAction(action models.RoomAction) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.pending <- action:
	default:
		a.log.WithFields(logrus.Fields{"room": action.RoomID, "action": action.ActionType}).Warn("Action log backlog full, dropping action")
	}
}

// Close flushes what is queued and stops the goroutine. Actions logged
// afterwards are discarded.
func (a *ActionLog) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.pending)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *ActionLog) run() {
	defer close(a.done)
	for action := range a.pending {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := PublishRoomAction(ctx, a.rdb, a.queue, action); err != nil {
			a.log.WithError(err).Warn("Failed to publish room action")
		}
		cancel()
	}
}

// PublishRoomAction serializes the given action to JSON, then pushes it to the Redis queue.
func PublishRoomAction(ctx context.Context, rdb Pusher, queue string, action models.RoomAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal RoomAction: %w", err)
	}
	if err := rdb.RPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", queue, err)
	}
	return nil
}
