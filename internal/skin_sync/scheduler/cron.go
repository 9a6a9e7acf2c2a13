package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"skin-sync/internal/skin_sync/daterange"
)

// DefaultCronSpec 每 10 分钟一次增量同步
const DefaultCronSpec = "*/10 * * * *"

// CronTrigger 定时把"库里最新时间 + 1 分钟 → 现在"加入同步队列
type CronTrigger struct {
	Log    *zap.Logger
	Coord  *Coordinator
	Latest func(ctx context.Context) (string, error)
	Now    func() string // 源时区当前时间，Layout 格式

	cron    *cron.Cron
	baseCtx context.Context
}

func NewCronTrigger(baseCtx context.Context, log *zap.Logger, coord *Coordinator, loc *time.Location,
	latest func(ctx context.Context) (string, error), now func() string) *CronTrigger {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CronTrigger{
		Log:     log,
		Coord:   coord,
		Latest:  latest,
		Now:     now,
		cron:    cron.New(cron.WithLocation(loc)),
		baseCtx: baseCtx,
	}
}

func (t *CronTrigger) Add(spec string) (cron.EntryID, error) {
	if spec == "" {
		spec = DefaultCronSpec
	}
	return t.cron.AddFunc(spec, func() {
		if _, err := t.Tick(t.baseCtx); err != nil {
			t.Log.Error("Cron incremental sync failed", zap.Error(err))
		}
	})
}

// Tick 计算增量区间并入队；正在抓取或库里没有数据时跳过
func (t *CronTrigger) Tick(ctx context.Context) (bool, error) {
	if t.Coord.IsScraping() {
		t.Log.Debug("Cron tick skipped, scrape in progress")
		return false, nil
	}
	latest, err := t.Latest(ctx)
	if err != nil {
		return false, err
	}
	if latest == "" {
		t.Log.Info("Cron tick skipped, no stored data yet")
		return false, nil
	}
	start, err := daterange.IncrementalFrom(latest)
	if err != nil {
		return false, err
	}
	end := t.Now()
	if start > end {
		return false, nil
	}
	return t.Coord.Enqueue(ctx, Job{
		Range:       daterange.Range{Start: start, End: end},
		Incremental: true,
		Reason:      "cron",
	})
}

func (t *CronTrigger) Start() {
	t.Log.Info("cron started")
	t.cron.Start()
}

func (t *CronTrigger) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	t.Log.Info("cron stopped")
}
