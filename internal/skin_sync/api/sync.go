package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"skin-sync/internal/skin_sync/model"
	"skin-sync/internal/skin_sync/repository"
	"skin-sync/internal/skin_sync/scheduler"
)

func (s *Server) syncStatus(c *gin.Context) {
	ctx := c.Request.Context()
	rng, err := readParams(c).dateRange()
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	var st *model.SyncState
	if rng != nil {
		st, err = s.States.Get(ctx, rng.Key())
	} else {
		st, err = s.States.Latest(ctx)
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sync": st})
}

func (s *Server) syncRequest(c *gin.Context) {
	ctx := c.Request.Context()
	p := readParams(c)
	rng, err := p.dateRange()
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if rng == nil {
		fail(c, http.StatusBadRequest, "start and end are required")
		return
	}
	queued, err := s.Coord.Enqueue(ctx, scheduler.Job{
		Range:       *rng,
		Incremental: p.flag(false, "incremental"),
		Force:       p.flag(false, "force"),
		Reason:      "manual",
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	st, err := s.States.Get(ctx, rng.Key())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "queued": queued, "sync": st})
}
