package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"skin-sync/internal/middleware/logger"
	"skin-sync/internal/skin_sync/daterange"
	"skin-sync/internal/skin_sync/fetcher"
	"skin-sync/internal/skin_sync/model"
	"skin-sync/internal/skin_sync/repository"
	"skin-sync/internal/skin_sync/scheduler"
	"skin-sync/internal/skin_sync/scraper"
)

const Version = "1.0.0"

// Scraper 同步执行一次抓取会话
type Scraper interface {
	Scrape(ctx context.Context, job scraper.Job) (*scraper.Report, error)
}

type Server struct {
	Log     *zap.Logger
	Records repository.RecordStore
	States  repository.SyncStateStore
	Coord   *scheduler.Coordinator
	Scraper Scraper
	Zones   daterange.Zones
	Metrics http.Handler // 为空时不挂 /metrics
	// ChunkRanges 非增量的全量同步按月分片
	ChunkRanges bool
	// BaseCtx 后台抓取使用，进程退出时取消
	BaseCtx context.Context

	mu      sync.Mutex
	lastRun *RunInfo
}

// RunInfo 最近一次后台全量抓取
type RunInfo struct {
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt"`
	Outcome    model.Outcome   `json:"outcome"`
	Result     *fetcher.Result `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(logger.GinLogger(s.Log), logger.GinRecovery(s.Log))

	g := r.Group("/api")
	g.GET("/health", s.health)

	g.POST("/scrape/full-sync", s.fullSync)
	g.POST("/scrape/all-pages", s.allPages)
	g.GET("/scrape/status", s.scrapeStatus)

	g.GET("/data", s.listData)
	g.GET("/data/stats", s.dataStats)
	g.GET("/data/export", s.exportData)
	g.DELETE("/data", s.deleteData)

	g.GET("/sync/status", s.syncStatus)
	g.POST("/sync/request", s.syncRequest)

	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics))
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

func (s *Server) baseCtx() context.Context {
	if s.BaseCtx == nil {
		return context.Background()
	}
	return s.BaseCtx
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// displayRange 展示时区的数据区间，没有数据时为 nil
func (s *Server) displayRange(d daterange.DataRange) any {
	if d.Empty() {
		return nil
	}
	return s.Zones.DisplayRange(d)
}

func (s *Server) displayBounds(r *daterange.Range) any {
	if r == nil {
		return nil
	}
	return gin.H{"start": s.Zones.ToDisplay(r.Start), "end": s.Zones.ToDisplay(r.End)}
}
