package model

import "time"

type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncQueued  SyncStatus = "queued"
	SyncRunning SyncStatus = "running"
	SyncSuccess SyncStatus = "success"
	SyncError   SyncStatus = "error"
)

// SyncState 某个日期区间的同步状态，按 key 覆盖更新，不删除
type SyncState struct {
	Key             string     `bson:"key" json:"key"` // range:<start>:<end>
	RangeStart      string     `bson:"rangeStart" json:"rangeStart"`
	RangeEnd        string     `bson:"rangeEnd" json:"rangeEnd"`
	Status          SyncStatus `bson:"status" json:"status"`
	Reason          string     `bson:"reason,omitempty" json:"reason,omitempty"`
	LastRequestedAt *time.Time `bson:"lastRequestedAt,omitempty" json:"lastRequestedAt"`
	LastStartedAt   *time.Time `bson:"lastStartedAt,omitempty" json:"lastStartedAt"`
	LastFinishedAt  *time.Time `bson:"lastFinishedAt,omitempty" json:"lastFinishedAt"`
	LastSuccessAt   *time.Time `bson:"lastSuccessAt,omitempty" json:"lastSuccessAt"`
	LastError       string     `bson:"lastError" json:"lastError"`
	TotalRecords    int        `bson:"totalRecords" json:"totalRecords"`
	Upserts         int        `bson:"upserts" json:"upserts"`
	NewCount        int        `bson:"newCount" json:"newCount"`
	UpdatedCount    int        `bson:"updatedCount" json:"updatedCount"`
	UnchangedCount  int        `bson:"unchangedCount" json:"unchangedCount"`
	Incremental     bool       `bson:"incremental" json:"incremental"`
	UpdatedAt       time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// InFlight queued 或 running
func (s *SyncState) InFlight() bool {
	return s != nil && (s.Status == SyncQueued || s.Status == SyncRunning)
}

// Outcome 一次抓取 + 入库的汇总
type Outcome struct {
	Total     int `json:"total"`
	Upserts   int `json:"upserts"`
	New       int `json:"newCount"`
	Updated   int `json:"updatedCount"`
	Unchanged int `json:"unchangedCount"`
	Failed    int `json:"failed"`
}
