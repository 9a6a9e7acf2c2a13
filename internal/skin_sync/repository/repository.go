package repository

import (
	"context"
	"errors"

	"skin-sync/internal/skin_sync/daterange"
	"skin-sync/internal/skin_sync/model"
)

var ErrNotFound = errors.New("repository: not found")

// DefaultTimeField 区间过滤使用的源时间字段
const DefaultTimeField = "testTime"

// UpsertResult 存储层报告的写入结果
type UpsertResult struct {
	Inserted bool
	Modified bool
}

// RecordFilter 记录查询条件
type RecordFilter struct {
	Search    string           // 不区分大小写，匹配 id/customerInfo/account/deviceNumber
	Range     *daterange.Range // 作用在 TimeField 上
	TimeField string
	IDs       []string
}

func (f RecordFilter) timeField() string {
	if f.TimeField == "" {
		return DefaultTimeField
	}
	return f.TimeField
}

// upperBound 区间终点是分钟精度，补到该分钟的最后一秒
func upperBound(end string) string {
	if len(end) == len(daterange.Layout) {
		return end + ":59"
	}
	return end
}

type Sort struct {
	Field string
	Desc  bool
}

type GroupCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// RecordStore 记录存储：按 hashedKey 幂等写入、分页查询、聚合
type RecordStore interface {
	Upsert(ctx context.Context, rec *model.Record) (UpsertResult, error)
	Find(ctx context.Context, f RecordFilter, sort Sort, skip, limit int64) ([]model.Record, error)
	Count(ctx context.Context, f RecordFilter) (int64, error)
	Aggregate(ctx context.Context, f RecordFilter, field string, limit int) ([]GroupCount, error)
	// Extreme 按字段取最小/最大的一条（忽略空值），没有返回 nil
	Extreme(ctx context.Context, f RecordFilter, field string, desc bool) (*model.Record, error)
	// Delete ids 为空时清空
	Delete(ctx context.Context, ids []string) (int64, error)
}

// SyncStateStore 区间同步状态
type SyncStateStore interface {
	Save(ctx context.Context, st *model.SyncState) error
	Get(ctx context.Context, key string) (*model.SyncState, error)
	Latest(ctx context.Context) (*model.SyncState, error)
	// LastSuccess 最近一次成功的同步
	LastSuccess(ctx context.Context) (*model.SyncState, error)
}

// DataRangeOf 条件内 testTime 的最早 / 最晚值
func DataRangeOf(ctx context.Context, store RecordStore, f RecordFilter) (daterange.DataRange, error) {
	var out daterange.DataRange
	field := f.timeField()
	oldest, err := store.Extreme(ctx, f, field, false)
	if err != nil {
		return out, err
	}
	newest, err := store.Extreme(ctx, f, field, true)
	if err != nil {
		return out, err
	}
	if oldest != nil {
		out.From = fieldValue(oldest, field)
	}
	if newest != nil {
		out.To = fieldValue(newest, field)
	}
	return out, nil
}

// LatestSourceTime 增量同步起点：最新的 crtTime，没有则用 testTime
func LatestSourceTime(ctx context.Context, store RecordStore) (string, error) {
	for _, field := range []string{"crtTime", "testTime"} {
		rec, err := store.Extreme(ctx, RecordFilter{}, field, true)
		if err != nil {
			return "", err
		}
		if rec != nil {
			if v := fieldValue(rec, field); v != "" {
				return v, nil
			}
		}
	}
	return "", nil
}

func fieldValue(r *model.Record, field string) string {
	switch field {
	case "id":
		return r.ID
	case "customerInfo":
		return r.CustomerInfo
	case "gender":
		return r.Gender
	case "deviceNumber":
		return r.DeviceNumber
	case "account":
		return r.Account
	case "testTime":
		return r.TestTime
	case "crtTime":
		return r.CrtTime
	case "testStatus":
		return r.TestStatus
	case "remarks":
		return r.Remarks
	case "hashedKey":
		return r.HashedKey
	case "scrapedAt":
		return r.ScrapedAt.UTC().Format("2006-01-02T15:04:05.000000000Z")
	default:
		return model.Stringify(r.Raw[field])
	}
}
