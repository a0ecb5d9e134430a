package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/souqnear/ranking-service/internal/jobs"
)

// RebuildAccepted is returned when a batch job was started.
type RebuildAccepted struct {
	Job    jobs.Name `json:"job"`
	Status string    `json:"status"`
}

// RebuildStatusResponse lists the running jobs and the last summary of each job.
type RebuildStatusResponse struct {
	Running []jobs.Name     `json:"running"`
	Last    []*jobs.Summary `json:"last"`
}

// TriggerRebuild starts a batch job in the background.
// POST /internal/rebuild/:job
func (h *Handlers) TriggerRebuild(c *gin.Context) {
	job, err := jobs.ParseName(c.Param("job"))
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := h.jobs.Trigger(job); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, RebuildAccepted{Job: job, Status: "started"})
}

// RebuildStatus reports batch job progress.
// GET /internal/rebuild/status
func (h *Handlers) RebuildStatus(c *gin.Context) {
	running, last := h.jobs.Status()
	if running == nil {
		running = []jobs.Name{}
	}
	if last == nil {
		last = []*jobs.Summary{}
	}
	c.JSON(http.StatusOK, RebuildStatusResponse{Running: running, Last: last})
}
