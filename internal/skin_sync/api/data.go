package api

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"skin-sync/internal/skin_sync/daterange"
	"skin-sync/internal/skin_sync/model"
	"skin-sync/internal/skin_sync/repository"
	"skin-sync/internal/skin_sync/scheduler"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

var csvHeader = []string{"ID", "Customer Info", "Gender", "Device Number", "Account", "Test Time", "Test Status", "Remarks", "Image", "URL"}

func (s *Server) listData(c *gin.Context) {
	ctx := c.Request.Context()
	p := readParams(c)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	sortBy := c.DefaultQuery("sortBy", "scrapedAt")
	desc := c.Query("sortOrder") != "asc"
	refresh := p.flag(false, "refresh")

	rng, err := p.dateRange()
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	filter := repository.RecordFilter{Search: c.Query("search"), Range: rng}

	total, err := s.Records.Count(ctx, filter)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	rows, err := s.Records.Find(ctx, filter, repository.Sort{Field: sortBy, Desc: desc}, int64((page-1)*limit), int64(limit))
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	var state *model.SyncState
	if rng != nil {
		if _, err := s.Coord.EnsureRange(ctx, *rng, total, refresh); err != nil {
			s.Log.Warn("Read-through enqueue failed", zap.String("key", rng.Key()), zap.Error(err))
		}
		state, err = s.States.Get(ctx, rng.Key())
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.Log.Warn("Failed to load sync state", zap.Error(err))
		}
	}

	dr, err := repository.DataRangeOf(ctx, s.Records, repository.RecordFilter{Range: rng})
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	full, err := repository.DataRangeOf(ctx, s.Records, repository.RecordFilter{})
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	if rng != nil {
		if missing := daterange.ComputeMissing(rng.Start, rng.End, dr); missing != nil {
			reason := "incremental"
			if refresh {
				reason = "refresh-missing"
			}
			if _, err := s.Coord.Enqueue(ctx, scheduler.Job{Range: *missing, Incremental: true, Reason: reason}); err != nil {
				s.Log.Warn("Missing-range enqueue failed", zap.Error(err))
			}
		}
	}

	statsRange := rng
	if dr.From != "" && dr.To != "" {
		statsRange = &daterange.Range{Start: dr.From, End: dr.To}
	}
	fullOut := gin.H{"start": nil, "end": nil}
	if !full.Empty() {
		d := s.Zones.DisplayRange(full)
		fullOut = gin.H{"start": d.From, "end": d.To}
	}

	totalPages := (int(total) + limit - 1) / limit
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    rows,
		"stats": gin.H{
			"dataTimeRange": s.displayRange(dr),
			"fullRange":     fullOut,
			"range":         s.displayBounds(statsRange),
		},
		"range": s.displayBounds(statsRange),
		"sync":  state,
		"pagination": gin.H{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": totalPages,
			"hasNext":    int64(page*limit) < total,
			"hasPrev":    page > 1,
		},
	})
}

func (s *Server) dataStats(c *gin.Context) {
	ctx := c.Request.Context()
	rng, err := readParams(c).dateRange()
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	filter := repository.RecordFilter{Range: rng}

	total, err := s.Records.Count(ctx, filter)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	groups := map[string][]repository.GroupCount{}
	for key, g := range map[string]struct {
		field string
		limit int
	}{
		"byGender":  {"gender", 0},
		"byAccount": {"account", 10},
		"byStatus":  {"testStatus", 0},
	} {
		rows, err := s.Records.Aggregate(ctx, filter, g.field, g.limit)
		if err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		groups[key] = rows
	}

	oldest, err := s.scrapedAt(c, filter, false)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	newest, err := s.scrapedAt(c, filter, true)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	dr, err := repository.DataRangeOf(ctx, s.Records, filter)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	last, err := s.States.LastSuccess(ctx)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	var lastSync any
	if last != nil {
		lastSync = gin.H{
			"rangeStart":    last.RangeStart,
			"rangeEnd":      last.RangeEnd,
			"totalRecords":  last.TotalRecords,
			"lastSuccessAt": last.LastSuccessAt,
			"lastError":     last.LastError,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats": gin.H{
			"total":         total,
			"byGender":      groups["byGender"],
			"byAccount":     groups["byAccount"],
			"byStatus":      groups["byStatus"],
			"oldestRecord":  oldest,
			"newestRecord":  newest,
			"dataTimeRange": s.displayRange(dr),
			"lastSync":      lastSync,
		},
	})
}

func (s *Server) scrapedAt(c *gin.Context, f repository.RecordFilter, desc bool) (*time.Time, error) {
	rows, err := s.Records.Find(c.Request.Context(), f, repository.Sort{Field: "scrapedAt", Desc: desc}, 0, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	t := rows[0].ScrapedAt
	return &t, nil
}

func (s *Server) exportData(c *gin.Context) {
	p := readParams(c)
	rng, err := p.dateRange()
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.Records.Find(c.Request.Context(),
		repository.RecordFilter{Search: c.Query("search"), Range: rng},
		repository.Sort{}, 0, 0)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	stamp := time.Now().UTC().Format("2006-01-02")

	if c.DefaultQuery("format", "json") != "csv" {
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="skin-data-%s.json"`, stamp))
		c.JSON(http.StatusOK, rows)
		return
	}
	if len(rows) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no data to export"})
		return
	}
	data, err := encodeCSV(rows)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="skin-data-%s.csv"`, stamp))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

func encodeCSV(rows []model.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			r.ID, r.CustomerInfo, r.Gender, r.DeviceNumber, r.Account,
			r.TestTime, r.TestStatus, r.Remarks, r.Image, r.URL,
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

type deleteRequest struct {
	Confirm string   `json:"confirm"`
	IDs     []string `json:"ids"`
}

func (s *Server) deleteData(c *gin.Context) {
	var req deleteRequest
	_ = c.ShouldBindJSON(&req)
	if req.Confirm != "yes" {
		fail(c, http.StatusBadRequest, `confirmation required: send {"confirm":"yes"}`)
		return
	}
	n, err := s.Records.Delete(c.Request.Context(), req.IDs)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.Log.Warn("Records deleted", zap.Int64("count", n), zap.Int("ids", len(req.IDs)))
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      fmt.Sprintf("deleted %d records", n),
		"deletedCount": n,
	})
}
