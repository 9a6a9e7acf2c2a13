package processor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"skin-sync/internal/skin_sync/model"
	"skin-sync/internal/skin_sync/repository"
	"skin-sync/pkg/metrics"
)

// Sink 把抓到的行幂等写入存储并分类计数
type Sink struct {
	Log     *zap.Logger
	Store   repository.RecordStore
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// NewSink 创建入库处理器
func NewSink(log *zap.Logger, store repository.RecordStore, m *metrics.Metrics) *Sink {
	return &Sink{Log: log, Store: store, Metrics: m}
}

// Ingest 逐条 upsert。单条失败只记日志和计数，不影响其它记录；
// 只有 ctx 结束才返回错误。
func (s *Sink) Ingest(ctx context.Context, items []map[string]any) (model.Outcome, error) {
	out := model.Outcome{Total: len(items)}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	for _, raw := range items {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rec := model.ProjectRecord(raw, now)
		res, err := s.Store.Upsert(ctx, rec)
		if err != nil {
			out.Failed++
			s.Metrics.Upsert("failed")
			s.Log.Error("Failed to upsert record",
				zap.String("hashedKey", rec.HashedKey),
				zap.String("id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		out.Upserts++
		switch {
		case res.Inserted:
			out.New++
			s.Metrics.Upsert("new")
		case res.Modified:
			out.Updated++
			s.Metrics.Upsert("updated")
		default:
			out.Unchanged++
			s.Metrics.Upsert("unchanged")
		}
	}

	s.Log.Info("Records ingested",
		zap.Int("total", out.Total),
		zap.Int("new", out.New),
		zap.Int("updated", out.Updated),
		zap.Int("unchanged", out.Unchanged),
		zap.Int("failed", out.Failed),
	)
	return out, nil
}
