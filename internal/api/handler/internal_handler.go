package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/buildbid/docproc-service/internal/api/dto"
	"github.com/buildbid/docproc-service/internal/jobs/domain"
	"github.com/gin-gonic/gin"
)

// Worker write-back handlers. Routes live under /internal/v1/jobs/:job_id.

// StartJob handles POST .../start
func (h *JobHandler) StartJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if !validUUID(c, "job_id", jobID) {
		return
	}
	h.respondJob(c, func() (*domain.Job, error) {
		return h.jobs.StartJob(c.Request.Context(), jobID)
	})
}

// StartStep handles POST .../steps/:step_key/start
func (h *JobHandler) StartStep(c *gin.Context) {
	jobID, stepKey, ok := stepParams(c)
	if !ok {
		return
	}
	h.respondJob(c, func() (*domain.Job, error) {
		return h.jobs.StartStep(c.Request.Context(), jobID, stepKey)
	})
}

// ReportStepProgress handles POST .../steps/:step_key/progress
func (h *JobHandler) ReportStepProgress(c *gin.Context) {
	jobID, stepKey, ok := stepParams(c)
	if !ok {
		return
	}

	var req dto.StepProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid progress report", slog.String("error", err.Error()))
		AbortWithError(c, http.StatusBadRequest, CodeBadRequest, "Invalid request body")
		return
	}

	h.respondJob(c, func() (*domain.Job, error) {
		return h.jobs.ReportProgress(c.Request.Context(), jobID, stepKey, req.ToUpdate())
	})
}

// CompleteStep handles POST .../steps/:step_key/complete
func (h *JobHandler) CompleteStep(c *gin.Context) {
	jobID, stepKey, ok := stepParams(c)
	if !ok {
		return
	}

	var req dto.CompleteStepRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, http.StatusBadRequest, CodeBadRequest, "Invalid request body")
		return
	}

	h.respondJob(c, func() (*domain.Job, error) {
		return h.jobs.CompleteStep(c.Request.Context(), jobID, stepKey, req.Details)
	})
}

// SkipStep handles POST .../steps/:step_key/skip
func (h *JobHandler) SkipStep(c *gin.Context) {
	jobID, stepKey, ok := stepParams(c)
	if !ok {
		return
	}

	var req dto.SkipStepRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, http.StatusBadRequest, CodeBadRequest, "Invalid request body")
		return
	}

	h.respondJob(c, func() (*domain.Job, error) {
		return h.jobs.SkipStep(c.Request.Context(), jobID, stepKey, req.Reason)
	})
}

// FailStep handles POST .../steps/:step_key/fail
func (h *JobHandler) FailStep(c *gin.Context) {
	jobID, stepKey, ok := stepParams(c)
	if !ok {
		return
	}

	var req dto.FailStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, CodeBadRequest, "error is required")
		return
	}

	h.respondJob(c, func() (*domain.Job, error) {
		return h.jobs.FailStep(c.Request.Context(), jobID, stepKey, req.Error)
	})
}

func (h *JobHandler) respondJob(c *gin.Context, fn func() (*domain.Job, error)) {
	job, err := fn()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.DataResponse{Data: dto.NewJobDTO(job)})
}

func stepParams(c *gin.Context) (string, string, bool) {
	jobID := c.Param("job_id")
	if !validUUID(c, "job_id", jobID) {
		return "", "", false
	}
	stepKey := c.Param("step_key")
	if stepKey == "" {
		AbortWithError(c, http.StatusBadRequest, CodeBadRequest, "step_key is required")
		return "", "", false
	}
	return jobID, stepKey, true
}
