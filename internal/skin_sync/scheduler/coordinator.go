package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"skin-sync/internal/skin_sync/daterange"
	"skin-sync/internal/skin_sync/model"
	"skin-sync/internal/skin_sync/repository"
	"skin-sync/pkg/metrics"
)

// ErrBusy 已有抓取会话在运行
var ErrBusy = errors.New("scheduler: scrape already in progress")

// Runner 执行一次区间同步（抓取 + 入库）
type Runner interface {
	SyncRange(ctx context.Context, r daterange.Range, incremental bool) (model.Outcome, error)
}

// Job 队列中的一个区间同步任务
type Job struct {
	Range       daterange.Range `json:"range"`
	Incremental bool            `json:"incremental"`
	Reason      string          `json:"reason"`
	Force       bool            `json:"force,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
}

// Status 协调器快照
type Status struct {
	Scraping bool  `json:"isScraping"`
	Running  *Job  `json:"running"`
	Queue    []Job `json:"queue"`
}

// Coordinator 持有"是否在抓取"标记和 FIFO 队列，全局同一时刻最多一个抓取会话
type Coordinator struct {
	Log          *zap.Logger
	States       repository.SyncStateStore
	Runner       Runner
	Metrics      *metrics.Metrics
	PollInterval time.Duration

	mu       sync.Mutex
	queue    []Job
	pending  []Job // 已占位、正在写 queued 状态
	running  *Job
	scraping bool
	wake     chan struct{}
}

func NewCoordinator(log *zap.Logger, states repository.SyncStateStore, runner Runner, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		Log:          log,
		States:       states,
		Runner:       runner,
		Metrics:      m,
		PollInterval: time.Second,
		wake:         make(chan struct{}, 1),
	}
}

// inFlightLocked 同 key 或区间重叠的任务已在排队 / 运行
func (c *Coordinator) inFlightLocked(r daterange.Range) bool {
	if c.running != nil && c.running.Range.Overlaps(r) {
		return true
	}
	for _, js := range [][]Job{c.queue, c.pending} {
		for _, j := range js {
			if j.Range.Overlaps(r) {
				return true
			}
		}
	}
	return false
}

func (c *Coordinator) queuedLocked(key string) bool {
	for _, js := range [][]Job{c.queue, c.pending} {
		for _, j := range js {
			if j.Range.Key() == key {
				return true
			}
		}
	}
	return false
}

func (c *Coordinator) dropPendingLocked(key string) {
	for i, j := range c.pending {
		if j.Range.Key() == key {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// Enqueue 入队并把状态置为 queued。已有重叠任务时跳过，Force 只在同 key 已排队时跳过。
func (c *Coordinator) Enqueue(ctx context.Context, job Job) (bool, error) {
	key := job.Range.Key()
	now := time.Now()
	job.EnqueuedAt = now

	// 先占位，状态读写不持锁
	c.mu.Lock()
	if c.queuedLocked(key) || (!job.Force && c.inFlightLocked(job.Range)) {
		c.mu.Unlock()
		c.Log.Info("Sync job skipped, overlapping job in flight",
			zap.String("key", key),
			zap.String("reason", job.Reason),
		)
		return false, nil
	}
	c.pending = append(c.pending, job)
	c.mu.Unlock()

	err := c.saveQueued(ctx, job, now)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropPendingLocked(key)
	if err != nil {
		return false, err
	}
	c.queue = append(c.queue, job)
	c.Metrics.Queue(len(c.queue))
	c.Log.Info("Sync job queued",
		zap.String("key", key),
		zap.String("reason", job.Reason),
		zap.Bool("incremental", job.Incremental),
		zap.Int("queue", len(c.queue)),
	)
	c.signal()
	return true, nil
}

func (c *Coordinator) saveQueued(ctx context.Context, job Job, now time.Time) error {
	st, err := c.loadState(ctx, job.Range)
	if err != nil {
		return err
	}
	st.Status = model.SyncQueued
	st.Incremental = job.Incremental
	st.Reason = job.Reason
	st.LastRequestedAt = &now
	st.UpdatedAt = now
	return c.States.Save(ctx, st)
}

// EnsureRange 读数据时调用：没在跑且（库里为空或强制刷新）就入队
func (c *Coordinator) EnsureRange(ctx context.Context, r daterange.Range, storedTotal int64, refresh bool) (bool, error) {
	st, err := c.States.Get(ctx, r.Key())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return false, err
	}
	if !ShouldTrigger(storedTotal, st, refresh) {
		return false, nil
	}
	return c.Enqueue(ctx, Job{Range: r, Reason: "read-through", Force: refresh})
}

// ShouldTrigger refresh 总是触发；排队 / 运行中不触发；否则库里没数据才触发
func ShouldTrigger(storedTotal int64, st *model.SyncState, refresh bool) bool {
	if refresh {
		return true
	}
	if st.InFlight() {
		return false
	}
	return storedTotal == 0
}

// TryBegin 直接发起的全量同步占用抓取标记
func (c *Coordinator) TryBegin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scraping {
		return false
	}
	c.scraping = true
	return true
}

func (c *Coordinator) End() {
	c.mu.Lock()
	c.scraping = false
	c.mu.Unlock()
	c.signal()
}

func (c *Coordinator) IsScraping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scraping
}

func (c *Coordinator) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{Scraping: c.scraping, Queue: append([]Job{}, c.queue...)}
	if c.running != nil {
		j := *c.running
		s.Running = &j
	}
	return s
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// next 空闲且队列非空时弹出队首并占用抓取标记
func (c *Coordinator) next() (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scraping || len(c.queue) == 0 {
		return Job{}, false
	}
	job := c.queue[0]
	c.queue = c.queue[1:]
	c.scraping = true
	c.running = &job
	c.Metrics.Queue(len(c.queue))
	return job, true
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.scraping = false
	c.running = nil
	c.mu.Unlock()
}

// Run 单个 worker 按 FIFO 消费队列；有其它会话在抓取时轮询等待
func (c *Coordinator) Run(ctx context.Context) {
	poll := c.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if job, ok := c.next(); ok {
			c.execute(ctx, job)
			continue
		}
		select {
		case <-ctx.Done():
			c.Log.Info("Sync worker stopped")
			return
		case <-c.wake:
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) execute(ctx context.Context, job Job) {
	defer c.release()
	c.MarkRunning(ctx, job)
	c.Log.Info("Sync job started",
		zap.String("key", job.Range.Key()),
		zap.String("reason", job.Reason),
		zap.Bool("incremental", job.Incremental),
	)
	outcome, err := c.Runner.SyncRange(ctx, job.Range, job.Incremental)
	c.Record(ctx, job, outcome, err)
}

// MarkRunning 状态置为 running
func (c *Coordinator) MarkRunning(ctx context.Context, job Job) {
	started := time.Now()
	st, err := c.loadState(ctx, job.Range)
	if err != nil {
		c.Log.Warn("Failed to load sync state", zap.String("key", job.Range.Key()), zap.Error(err))
		return
	}
	st.Status = model.SyncRunning
	st.LastStartedAt = &started
	st.UpdatedAt = started
	st.Incremental = job.Incremental
	if job.Reason != "" {
		st.Reason = job.Reason
	}
	if st.LastRequestedAt == nil {
		st.LastRequestedAt = &started
	}
	if err := c.States.Save(ctx, st); err != nil {
		c.Log.Warn("Failed to mark sync running", zap.String("key", job.Range.Key()), zap.Error(err))
	}
}

// Record 写入任务结果；队列外的全量同步也用它落状态
func (c *Coordinator) Record(ctx context.Context, job Job, outcome model.Outcome, runErr error) {
	log := c.Log.With(zap.String("key", job.Range.Key()))
	st, err := c.loadState(context.WithoutCancel(ctx), job.Range)
	if err != nil {
		log.Error("Failed to load sync state", zap.Error(err))
		return
	}
	now := time.Now()
	st.LastFinishedAt = &now
	st.UpdatedAt = now
	st.Incremental = job.Incremental
	if job.Reason != "" {
		st.Reason = job.Reason
	}
	if runErr != nil {
		st.Status = model.SyncError
		st.LastError = runErr.Error()
		log.Error("Sync job failed", zap.Error(runErr))
	} else {
		st.Status = model.SyncSuccess
		st.LastError = ""
		st.LastSuccessAt = &now
		st.TotalRecords = outcome.Total
		st.Upserts = outcome.Upserts
		st.NewCount = outcome.New
		st.UpdatedCount = outcome.Updated
		st.UnchangedCount = outcome.Unchanged
		log.Info("Sync job finished",
			zap.Int("total", outcome.Total),
			zap.Int("new", outcome.New),
			zap.Int("updated", outcome.Updated),
			zap.Int("unchanged", outcome.Unchanged),
		)
	}
	if err := c.States.Save(context.WithoutCancel(ctx), st); err != nil {
		log.Error("Failed to save sync state", zap.Error(err))
	}
}

func (c *Coordinator) loadState(ctx context.Context, r daterange.Range) (*model.SyncState, error) {
	st, err := c.States.Get(ctx, r.Key())
	if errors.Is(err, repository.ErrNotFound) {
		return &model.SyncState{
			Key:        r.Key(),
			RangeStart: r.Start,
			RangeEnd:   r.End,
			Status:     model.SyncIdle,
		}, nil
	}
	return st, err
}
