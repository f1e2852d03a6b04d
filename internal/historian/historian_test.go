// internal/historian/historian_test.go
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/simon/internal/cache"
	"github.com/jason-s-yu/simon/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue serves payloads from a channel with BLPop semantics.
type fakeQueue struct {
	items chan string
}

func (q *fakeQueue) BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	select {
	case item := <-q.items:
		cmd.SetVal([]string{keys[0], item})
	case <-time.After(timeout):
		cmd.SetErr(redis.Nil)
	case <-ctx.Done():
		cmd.SetErr(ctx.Err())
	}
	return cmd
}

type fakeStore struct {
	mu        sync.Mutex
	batches   [][]models.RoomAction
	failures  int  // SaveBatch fails this many times first
	down      bool // SaveBatch fails until cleared
	attempts  int
	largest   int
	abandoned []string
}

func (s *fakeStore) SaveBatch(_ context.Context, actions []models.RoomAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	s.largest = max(s.largest, len(actions))
	if s.down {
		return errors.New("db down")
	}
	if s.failures > 0 {
		s.failures--
		return errors.New("db down")
	}
	s.batches = append(s.batches, append([]models.RoomAction(nil), actions...))
	return nil
}

func (s *fakeStore) MarkAbandoned(_ context.Context, roomID string, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = append(s.abandoned, roomID)
	return nil
}

func (s *fakeStore) saved() []models.RoomAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RoomAction
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *fakeStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *fakeStore) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *fakeStore) stats() (attempts, largest int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts, s.largest
}

func (s *fakeStore) abandonedRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.abandoned...)
}

func encode(t *testing.T, a models.RoomAction) string {
	t.Helper()
	data, err := json.Marshal(a)
	require.NoError(t, err)
	return string(data)
}

func action(room string, i int, typ string) models.RoomAction {
	return models.RoomAction{
		RoomID:        room,
		RoomCreatedAt: 1,
		ActionIndex:   i,
		ActorConnID:   uuid.New(),
		ActionType:    typ,
		ActionPayload: map[string]interface{}{},
		Timestamp:     time.Now().UnixMilli(),
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func startService(t *testing.T, q Queue, store Store, opts Options) (cancel func()) {
	t.Helper()
	opts.QueueName = "q"
	opts.Logger = quietLogger()
	svc := New(q, store, opts)
	ctx, cancelFn := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, svc.Run(ctx))
	}()
	return func() {
		cancelFn()
		<-done
	}
}

func TestFlushesFullBatches(t *testing.T) {
	q := &fakeQueue{items: make(chan string, 16)}
	store := &fakeStore{}
	stop := startService(t, q, store, Options{BatchSize: 3, FlushEvery: time.Hour, PopTimeout: 5 * time.Millisecond})

	for i := 1; i <= 6; i++ {
		q.items <- encode(t, action("r1", i, models.ActionPlayerJoined))
	}
	require.Eventually(t, func() bool { return store.batchCount() == 2 }, 2*time.Second, 2*time.Millisecond)
	stop()

	saved := store.saved()
	require.Len(t, saved, 6)
	for i, a := range saved {
		assert.Equal(t, i+1, a.ActionIndex)
	}
}

func TestFlushesPartialBatchOnInterval(t *testing.T) {
	q := &fakeQueue{items: make(chan string, 4)}
	store := &fakeStore{}
	stop := startService(t, q, store, Options{BatchSize: 100, FlushEvery: 10 * time.Millisecond, PopTimeout: 5 * time.Millisecond})
	defer stop()

	q.items <- encode(t, action("r1", 1, models.ActionRoomCreated))
	require.Eventually(t, func() bool { return len(store.saved()) == 1 }, 2*time.Second, 2*time.Millisecond)
}

func TestFlushesOnShutdownAndSkipsGarbage(t *testing.T) {
	q := &fakeQueue{items: make(chan string, 4)}
	store := &fakeStore{}
	stop := startService(t, q, store, Options{BatchSize: 100, FlushEvery: time.Hour, PopTimeout: 5 * time.Millisecond})

	q.items <- "not json"
	q.items <- encode(t, action("r1", 1, models.ActionGameOver))
	require.Eventually(t, func() bool { return len(q.items) == 0 }, 2*time.Second, 2*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	stop()

	saved := store.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, models.ActionGameOver, saved[0].ActionType)
}

func TestFailedBatchIsRetried(t *testing.T) {
	q := &fakeQueue{items: make(chan string, 4)}
	store := &fakeStore{failures: 2}
	stop := startService(t, q, store, Options{BatchSize: 1, FlushEvery: 5 * time.Millisecond, PopTimeout: 5 * time.Millisecond})
	defer stop()

	q.items <- encode(t, action("r1", 1, models.ActionRoomCreated))
	require.Eventually(t, func() bool { return len(store.saved()) == 1 }, 2*time.Second, 2*time.Millisecond)
}

func TestFailingStoreBacksOffAndLeavesQueueInRedis(t *testing.T) {
	q := &fakeQueue{items: make(chan string, 500)}
	store := &fakeStore{down: true}
	for i := 1; i <= 500; i++ {
		q.items <- encode(t, action("r1", i, models.ActionRoundStart))
	}

	stop := startService(t, q, store, Options{BatchSize: 5, FlushEvery: 20 * time.Millisecond, PopTimeout: 5 * time.Millisecond})
	time.Sleep(200 * time.Millisecond)
	attempts, largest := store.stats()
	stop()

	// Delays of 20, 40, 80ms leave room for a handful of attempts at most.
	assert.GreaterOrEqual(t, attempts, 1)
	assert.LessOrEqual(t, attempts, 6)
	assert.Equal(t, 5, largest)
	assert.Equal(t, 495, len(q.items))
}

func TestRecoveredStoreDrainsQueue(t *testing.T) {
	q := &fakeQueue{items: make(chan string, 16)}
	store := &fakeStore{down: true}
	stop := startService(t, q, store, Options{BatchSize: 2, FlushEvery: 5 * time.Millisecond, PopTimeout: 5 * time.Millisecond})
	defer stop()

	for i := 1; i <= 6; i++ {
		q.items <- encode(t, action("r1", i, models.ActionPlayerJoined))
	}
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, store.saved())

	store.setDown(false)
	require.Eventually(t, func() bool { return len(store.saved()) == 6 }, 2*time.Second, 5*time.Millisecond)
	for i, a := range store.saved() {
		assert.Equal(t, i+1, a.ActionIndex)
	}
}

func TestUnflushedRoomIsNotAbandonedUntilWritten(t *testing.T) {
	q := &fakeQueue{items: make(chan string, 4)}
	store := &fakeStore{down: true}
	stop := startService(t, q, store, Options{
		BatchSize:  1,
		FlushEvery: 5 * time.Millisecond,
		PopTimeout: 5 * time.Millisecond,
		Inactivity: 20 * time.Millisecond,
	})
	defer stop()

	q.items <- encode(t, action("quiet", 1, models.ActionGameStart))
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, store.abandonedRooms())

	store.setDown(false)
	require.Eventually(t, func() bool { return len(store.abandonedRooms()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, store.saved(), 1)
	assert.Equal(t, []string{"quiet"}, store.abandonedRooms())
}

func TestInactiveRoomsAreAbandoned(t *testing.T) {
	q := &fakeQueue{items: make(chan string, 4)}
	store := &fakeStore{}
	stop := startService(t, q, store, Options{
		BatchSize:  1,
		FlushEvery: 5 * time.Millisecond,
		PopTimeout: 5 * time.Millisecond,
		Inactivity: 40 * time.Millisecond,
	})
	defer stop()

	q.items <- encode(t, action("quiet", 1, models.ActionGameStart))
	q.items <- encode(t, action("done", 1, models.ActionGameStart))
	q.items <- encode(t, action("done", 2, models.ActionRoomClosed))

	require.Eventually(t, func() bool { return len(store.abandonedRooms()) > 0 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"quiet"}, store.abandonedRooms())
}

// TestAgainstRedis pushes through the real action log and pops it back; it
// needs a local redis and is skipped without one.
func TestAgainstRedis(t *testing.T) {
	ctx := context.Background()
	rdb, err := cache.Connect(ctx, "localhost:6379", 0)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer rdb.Close()

	queue := "simon_test_" + uuid.NewString()
	defer rdb.Del(ctx, queue)

	log := cache.NewActionLog(rdb, queue, 8, quietLogger())
	log.LogAction(action("r1", 1, models.ActionRoomCreated))
	log.Close()

	store := &fakeStore{}
	svc := New(rdb, store, Options{QueueName: queue, BatchSize: 1, PopTimeout: 100 * time.Millisecond, Logger: quietLogger()})
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(runCtx)
	}()
	require.Eventually(t, func() bool { return len(store.saved()) == 1 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
