package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skin-sync/internal/skin_sync/daterange"
	"skin-sync/internal/skin_sync/model"
	"skin-sync/internal/skin_sync/repository"
)

type blockingRunner struct {
	mu      sync.Mutex
	started chan daterange.Range
	release chan struct{}
	calls   []daterange.Range
	err     error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan daterange.Range, 8), release: make(chan struct{})}
}

func (b *blockingRunner) SyncRange(ctx context.Context, r daterange.Range, _ bool) (model.Outcome, error) {
	b.mu.Lock()
	b.calls = append(b.calls, r)
	b.mu.Unlock()
	b.started <- r
	select {
	case <-b.release:
	case <-ctx.Done():
		return model.Outcome{}, ctx.Err()
	}
	if b.err != nil {
		return model.Outcome{}, b.err
	}
	return model.Outcome{Total: 5, Upserts: 5, New: 5}, nil
}

func rangeOf(start, end string) daterange.Range {
	return daterange.Range{Start: start, End: end}
}

func waitStatus(t *testing.T, states repository.SyncStateStore, key string, want model.SyncStatus) *model.SyncState {
	t.Helper()
	var st *model.SyncState
	require.Eventually(t, func() bool {
		got, err := states.Get(context.Background(), key)
		if err != nil {
			return false
		}
		st = got
		return got.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return st
}

func TestOverlappingJobSkippedWhileRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := repository.NewMemorySyncStates()
	runner := newBlockingRunner()
	c := NewCoordinator(zap.NewNop(), states, runner, nil)
	c.PollInterval = 5 * time.Millisecond
	go c.Run(ctx)

	first := rangeOf("2025-01-01 00:00", "2025-01-31 23:59")
	ok, err := c.Enqueue(ctx, Job{Range: first, Reason: "request"})
	require.NoError(t, err)
	require.True(t, ok)
	<-runner.started
	waitStatus(t, states, first.Key(), model.SyncRunning)

	overlap := rangeOf("2025-01-15 00:00", "2025-02-15 23:59")
	ok, err = c.Enqueue(ctx, Job{Range: overlap, Reason: "request"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, c.Snapshot().Queue)
	require.True(t, c.Snapshot().Scraping)

	close(runner.release)
	st := waitStatus(t, states, first.Key(), model.SyncSuccess)
	require.Equal(t, 5, st.NewCount)
	require.NotNil(t, st.LastSuccessAt)

	require.Eventually(t, func() bool { return !c.IsScraping() }, time.Second, 5*time.Millisecond)
	ok, err = c.Enqueue(ctx, Job{Range: overlap, Reason: "request"})
	require.NoError(t, err)
	require.True(t, ok)
	<-runner.started
	waitStatus(t, states, overlap.Key(), model.SyncSuccess)
}

func TestWorkerWaitsForExternalSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := repository.NewMemorySyncStates()
	runner := newBlockingRunner()
	close(runner.release)
	c := NewCoordinator(zap.NewNop(), states, runner, nil)
	c.PollInterval = 5 * time.Millisecond

	require.True(t, c.TryBegin())
	require.False(t, c.TryBegin())
	go c.Run(ctx)

	r := rangeOf("2025-03-01 00:00", "2025-03-31 23:59")
	ok, err := c.Enqueue(ctx, Job{Range: r, Reason: "cron", Incremental: true})
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	runner.mu.Lock()
	require.Empty(t, runner.calls)
	runner.mu.Unlock()
	st, err := states.Get(ctx, r.Key())
	require.NoError(t, err)
	require.Equal(t, model.SyncQueued, st.Status)

	c.End()
	st = waitStatus(t, states, r.Key(), model.SyncSuccess)
	require.True(t, st.Incremental)
}

func TestFailedJobRecordsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := repository.NewMemorySyncStates()
	runner := newBlockingRunner()
	runner.err = errors.New("login failed")
	close(runner.release)
	c := NewCoordinator(zap.NewNop(), states, runner, nil)
	go c.Run(ctx)

	r := rangeOf("2025-04-01 00:00", "2025-04-30 23:59")
	_, err := c.Enqueue(ctx, Job{Range: r, Reason: "request"})
	require.NoError(t, err)

	st := waitStatus(t, states, r.Key(), model.SyncError)
	require.Equal(t, "login failed", st.LastError)
	require.Nil(t, st.LastSuccessAt)
	require.Empty(t, c.Snapshot().Queue)
}

func TestEnsureRange(t *testing.T) {
	ctx := context.Background()
	states := repository.NewMemorySyncStates()
	c := NewCoordinator(zap.NewNop(), states, newBlockingRunner(), nil)
	r := rangeOf("2025-05-01 00:00", "2025-05-31 23:59")

	ok, err := c.EnsureRange(ctx, r, 10, false)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.EnsureRange(ctx, r, 0, false)
	require.NoError(t, err)
	require.True(t, ok)

	// 已排队：不重复入队
	ok, err = c.EnsureRange(ctx, r, 0, false)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = c.EnsureRange(ctx, r, 0, true)
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, c.Snapshot().Queue, 1)
}

func TestShouldTrigger(t *testing.T) {
	queued := &model.SyncState{Status: model.SyncQueued}
	done := &model.SyncState{Status: model.SyncSuccess}

	require.True(t, ShouldTrigger(5, queued, true))
	require.False(t, ShouldTrigger(0, queued, false))
	require.True(t, ShouldTrigger(0, nil, false))
	require.False(t, ShouldTrigger(3, nil, false))
	require.True(t, ShouldTrigger(0, done, false))
	require.False(t, ShouldTrigger(1, done, false))
}

func TestCronTick(t *testing.T) {
	ctx := context.Background()
	states := repository.NewMemorySyncStates()
	c := NewCoordinator(zap.NewNop(), states, newBlockingRunner(), nil)

	latest := ""
	trig := NewCronTrigger(ctx, zap.NewNop(), c, time.UTC,
		func(context.Context) (string, error) { return latest, nil },
		func() string { return "2025-06-01 12:00" },
	)

	ok, err := trig.Tick(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	latest = "2025-06-01 10:30:00"
	ok, err = trig.Tick(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	q := c.Snapshot().Queue
	require.Len(t, q, 1)
	require.Equal(t, rangeOf("2025-06-01 10:31", "2025-06-01 12:00"), q[0].Range)
	require.True(t, q[0].Incremental)
	require.Equal(t, "cron", q[0].Reason)

	require.True(t, c.TryBegin())
	ok, err = trig.Tick(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

// gatedStates Save 阻塞到 release 关闭
type gatedStates struct {
	repository.SyncStateStore
	saving  chan struct{}
	release chan struct{}
}

func (g *gatedStates) Save(ctx context.Context, st *model.SyncState) error {
	g.saving <- struct{}{}
	<-g.release
	return g.SyncStateStore.Save(ctx, st)
}

func TestEnqueueDoesNotHoldLockDuringSave(t *testing.T) {
	ctx := context.Background()
	states := &gatedStates{
		SyncStateStore: repository.NewMemorySyncStates(),
		saving:         make(chan struct{}, 4),
		release:        make(chan struct{}),
	}
	c := NewCoordinator(zap.NewNop(), states, newBlockingRunner(), nil)
	r := rangeOf("2025-06-01 00:00", "2025-06-30 23:59")

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := c.Enqueue(ctx, Job{Range: r, Reason: "request"})
		done <- result{ok, err}
	}()
	<-states.saving

	// 写状态期间其它调用不被阻塞
	responsive := make(chan bool, 1)
	go func() {
		_ = c.IsScraping()
		_ = c.Snapshot()
		began := c.TryBegin()
		c.End()
		responsive <- began
	}()
	select {
	case began := <-responsive:
		require.True(t, began)
	case <-time.After(time.Second):
		t.Fatal("coordinator lock held during state save")
	}

	// 占位中的同区间任务直接跳过
	ok, err := c.Enqueue(ctx, Job{Range: r, Reason: "request", Force: true})
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, c.Snapshot().Queue)

	close(states.release)
	res := <-done
	require.NoError(t, res.err)
	require.True(t, res.ok)
	require.Len(t, c.Snapshot().Queue, 1)

	st, err := states.Get(ctx, r.Key())
	require.NoError(t, err)
	require.Equal(t, model.SyncQueued, st.Status)
}

func TestEnqueueSaveFailureReleasesSlot(t *testing.T) {
	ctx := context.Background()
	states := &failingStates{SyncStateStore: repository.NewMemorySyncStates(), err: errors.New("mongo down")}
	c := NewCoordinator(zap.NewNop(), states, newBlockingRunner(), nil)
	r := rangeOf("2025-07-01 00:00", "2025-07-31 23:59")

	ok, err := c.Enqueue(ctx, Job{Range: r, Reason: "request"})
	require.EqualError(t, err, "mongo down")
	require.False(t, ok)

	states.err = nil
	ok, err = c.Enqueue(ctx, Job{Range: r, Reason: "request"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, c.Snapshot().Queue, 1)
}

type failingStates struct {
	repository.SyncStateStore
	err error
}

func (f *failingStates) Save(ctx context.Context, st *model.SyncState) error {
	if f.err != nil {
		return f.err
	}
	return f.SyncStateStore.Save(ctx, st)
}
