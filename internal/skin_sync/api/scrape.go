package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"skin-sync/internal/skin_sync/daterange"
	"skin-sync/internal/skin_sync/model"
	"skin-sync/internal/skin_sync/repository"
	"skin-sync/internal/skin_sync/scheduler"
	"skin-sync/internal/skin_sync/scraper"
)

// fullSync 同步抓取并直接返回全部数据
func (s *Server) fullSync(c *gin.Context) {
	p := readParams(c)
	if !s.Coord.TryBegin() {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   scheduler.ErrBusy.Error(),
			"status":  s.Coord.Snapshot(),
		})
		return
	}
	defer s.Coord.End()

	ctx := c.Request.Context()
	save := p.flag(true, "save")
	incremental := p.flag(false, "incremental")
	token := p.token()
	start, end := p.bounds()

	if incremental {
		if start == "" {
			latest, err := repository.LatestSourceTime(ctx, s.Records)
			if err != nil {
				fail(c, http.StatusInternalServerError, err.Error())
				return
			}
			if latest != "" {
				if start, err = daterange.IncrementalFrom(latest); err != nil {
					start = ""
				}
			}
		}
		if start == "" {
			fail(c, http.StatusBadRequest, "no stored data for incremental sync, run a full sync or pass start")
			return
		}
	}
	if start != "" && end == "" {
		end = s.Zones.Now()
	}

	var rng *daterange.Range
	if start != "" && end != "" {
		r, err := buildRange(start, end)
		if err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		rng = r
	}

	s.Log.Info("Full sync requested",
		zap.String("start", start),
		zap.String("end", end),
		zap.Bool("incremental", incremental),
		zap.Bool("save", save),
		zap.Bool("token", token != ""),
	)

	var job scheduler.Job
	if rng != nil {
		job = scheduler.Job{Range: *rng, Incremental: incremental, Reason: "full-sync"}
		s.Coord.MarkRunning(ctx, job)
	}
	rep, err := s.Scraper.Scrape(ctx, scraper.Job{
		Range:       rng,
		Incremental: incremental,
		Save:        save,
		Token:       token,
		Chunked:     s.ChunkRanges && !incremental,
		Reason:      "full-sync",
	})
	var outcome model.Outcome
	if rep != nil {
		outcome = rep.Outcome
	}
	if rng != nil {
		s.Coord.Record(ctx, job, outcome, err)
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if rep == nil {
		rep = &scraper.Report{}
	}

	dr, err := repository.DataRangeOf(ctx, s.Records, repository.RecordFilter{})
	if err != nil {
		s.Log.Warn("Failed to read data range", zap.Error(err))
	}
	if !save {
		outcome = model.Outcome{Total: outcome.Total}
	}
	items := rep.Items()
	if items == nil {
		items = []map[string]any{}
	}
	var rangeOut any
	if rng != nil {
		rangeOut = rng
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"saved":          save && rep.Saved,
		"upserts":        outcome.Upserts,
		"newCount":       outcome.New,
		"updatedCount":   outcome.Updated,
		"unchangedCount": outcome.Unchanged,
		"total":          len(items),
		"range":          rangeOut,
		"incremental":    incremental,
		"stats":          gin.H{"dataTimeRange": s.displayRange(dr)},
		"result":         rep.Result,
		"data":           items,
	})
}

// allPages 后台抓取全部数据，立即返回
func (s *Server) allPages(c *gin.Context) {
	p := readParams(c)
	if !s.Coord.TryBegin() {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   scheduler.ErrBusy.Error(),
			"status":  s.Coord.Snapshot(),
		})
		return
	}
	save := p.flag(true, "save")
	token := p.token()

	info := &RunInfo{StartedAt: time.Now()}
	s.setLastRun(info)

	go func() {
		defer s.Coord.End()
		rep, err := s.Scraper.Scrape(s.baseCtx(), scraper.Job{Save: save, Token: token, Reason: "all-pages"})
		done := time.Now()
		out := RunInfo{StartedAt: info.StartedAt, FinishedAt: &done}
		if rep != nil {
			out.Outcome = rep.Outcome
			out.Result = rep.Result
		}
		if err != nil {
			out.Error = err.Error()
			s.Log.Error("Background scrape failed", zap.Error(err))
		}
		s.setLastRun(&out)
	}()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "scrape started, poll GET /api/scrape/status for progress",
		"status":  s.Coord.Snapshot(),
	})
}

func (s *Server) scrapeStatus(c *gin.Context) {
	snap := s.Coord.Snapshot()
	last, err := s.States.Latest(c.Request.Context())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"isScraping": snap.Scraping,
		"running":    snap.Running,
		"queue":      snap.Queue,
		"lastSync":   last,
		"lastRun":    s.getLastRun(),
	})
}

func (s *Server) setLastRun(info *RunInfo) {
	s.mu.Lock()
	s.lastRun = info
	s.mu.Unlock()
}

func (s *Server) getLastRun() *RunInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return nil
	}
	cp := *s.lastRun
	return &cp
}
