package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"skin-sync/internal/skin_sync/model"
)

// MemoryRecords 进程内记录存储，storage.driver=memory 时使用
type MemoryRecords struct {
	mu    sync.RWMutex
	order []string
	docs  map[string]*model.Record
}

func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{docs: make(map[string]*model.Record)}
}

func (m *MemoryRecords) Upsert(_ context.Context, rec *model.Record) (UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	old, ok := m.docs[rec.HashedKey]
	m.docs[rec.HashedKey] = &cp
	switch {
	case !ok:
		m.order = append(m.order, rec.HashedKey)
		return UpsertResult{Inserted: true}, nil
	case old.ContentHash != rec.ContentHash:
		return UpsertResult{Modified: true}, nil
	default:
		return UpsertResult{}, nil
	}
}

func (m *MemoryRecords) match(r *model.Record, f RecordFilter) bool {
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		hit := false
		for _, v := range []string{r.ID, r.CustomerInfo, r.Account, r.DeviceNumber} {
			if strings.Contains(strings.ToLower(v), q) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if f.Range != nil {
		v := fieldValue(r, f.timeField())
		if v < f.Range.Start || v > upperBound(f.Range.End) {
			return false
		}
	}
	if len(f.IDs) > 0 {
		hit := false
		for _, id := range f.IDs {
			if id == r.ID || id == r.HashedKey {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func (m *MemoryRecords) filtered(f RecordFilter) []*model.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Record
	for _, k := range m.order {
		if r, ok := m.docs[k]; ok && m.match(r, f) {
			out = append(out, r)
		}
	}
	return out
}

func (m *MemoryRecords) Find(_ context.Context, f RecordFilter, s Sort, skip, limit int64) ([]model.Record, error) {
	rows := m.filtered(f)
	if s.Field != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := fieldValue(rows[i], s.Field), fieldValue(rows[j], s.Field)
			if s.Desc {
				return a > b
			}
			return a < b
		})
	}
	if skip >= int64(len(rows)) {
		return []model.Record{}, nil
	}
	rows = rows[skip:]
	if limit > 0 && limit < int64(len(rows)) {
		rows = rows[:limit]
	}
	out := make([]model.Record, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out, nil
}

func (m *MemoryRecords) Count(_ context.Context, f RecordFilter) (int64, error) {
	return int64(len(m.filtered(f))), nil
}

func (m *MemoryRecords) Aggregate(_ context.Context, f RecordFilter, field string, limit int) ([]GroupCount, error) {
	counts := map[string]int64{}
	for _, r := range m.filtered(f) {
		counts[fieldValue(r, field)]++
	}
	out := make([]GroupCount, 0, len(counts))
	for v, n := range counts {
		out = append(out, GroupCount{Value: v, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRecords) Extreme(_ context.Context, f RecordFilter, field string, desc bool) (*model.Record, error) {
	var best *model.Record
	bestVal := ""
	for _, r := range m.filtered(f) {
		v := fieldValue(r, field)
		if v == "" {
			continue
		}
		if best == nil || (desc && v > bestVal) || (!desc && v < bestVal) {
			best, bestVal = r, v
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *MemoryRecords) Delete(_ context.Context, ids []string) (int64, error) {
	targets := m.filtered(RecordFilter{IDs: ids})
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range targets {
		delete(m.docs, r.HashedKey)
	}
	kept := m.order[:0]
	for _, k := range m.order {
		if _, ok := m.docs[k]; ok {
			kept = append(kept, k)
		}
	}
	m.order = kept
	return int64(len(targets)), nil
}

// MemorySyncStates 进程内同步状态存储
type MemorySyncStates struct {
	mu     sync.RWMutex
	states map[string]model.SyncState
}

func NewMemorySyncStates() *MemorySyncStates {
	return &MemorySyncStates{states: make(map[string]model.SyncState)}
}

func (m *MemorySyncStates) Save(_ context.Context, st *model.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.Key] = *st
	return nil
}

func (m *MemorySyncStates) Get(_ context.Context, key string) (*model.SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (m *MemorySyncStates) Latest(_ context.Context) (*model.SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *model.SyncState
	for _, st := range m.states {
		if best == nil || st.UpdatedAt.After(best.UpdatedAt) {
			cp := st
			best = &cp
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (m *MemorySyncStates) LastSuccess(_ context.Context) (*model.SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *model.SyncState
	for _, st := range m.states {
		if st.Status != model.SyncSuccess || st.LastSuccessAt == nil {
			continue
		}
		if best == nil || st.LastSuccessAt.After(*best.LastSuccessAt) {
			cp := st
			best = &cp
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}
