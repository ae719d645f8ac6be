package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelmedia/reelforge/pkg/taskstate"
)

// approveGateRequest is POST /tasks/:id/approve's body: the operator names
// the status they're advancing the task to. Letting the caller name the
// target (rather than this handler hardcoding "approve" vs "reject")
// covers both outcomes a review gate supports - e.g. ASSETS_READY can only
// go to ASSETS_APPROVED or ASSET_ERROR, and taskstate.Validate rejects
// anything else - without this endpoint needing its own copy of the
// transition table.
type approveGateRequest struct {
	Status string `json:"status" binding:"required"`
}

// approveGateHandler implements the external-acknowledgement path for
// review gates: the driver never picks up a task sitting on a *_READY or
// FINAL_REVIEW status, so something outside the worker pool has to move
// it off. This is that something.
func (s *Server) approveGateHandler(c *gin.Context) {
	taskID := c.Param("id")

	var req approveGateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request: " + err.Error()})
		return
	}

	task, err := s.store.GetByID(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "task not found"})
		return
	}

	if !taskstate.IsReviewGate(task.Status) {
		c.JSON(http.StatusConflict, errorResponse{Error: "task is not sitting at a review gate"})
		return
	}

	target := taskstate.Status(req.Status)
	if err := taskstate.Validate(task.Status, target); err != nil {
		var invalid *taskstate.InvalidStateTransition
		if errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "validation failed"})
		return
	}

	if err := s.store.Advance(c.Request.Context(), task.ID, task.Status, target, nil); err != nil {
		c.JSON(http.StatusConflict, errorResponse{Error: "task status changed concurrently, retry"})
		return
	}

	if s.sync != nil {
		payload := map[string]any{"status": string(target), "retry_count": task.RetryCount}
		_ = s.sync.Enqueue(c.Request.Context(), task.ID, task.ChannelID, task.PlanningPageID, payload)
	}

	c.JSON(http.StatusOK, gin.H{"task_id": task.ID, "status": string(target)})
}
