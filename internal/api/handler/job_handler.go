package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/buildbid/docproc-service/internal/api/dto"
	"github.com/buildbid/docproc-service/internal/jobs/domain"
	"github.com/buildbid/docproc-service/internal/jobs/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ProcessDocument handles POST /api/v1/projects/:project_id/documents/:document_id/process
// Creates a processing job for the document and, unless auto_start is false, starts it
func (h *JobHandler) ProcessDocument(c *gin.Context) {
	projectID := c.Param("project_id")
	documentID := c.Param("document_id")

	h.logger.Info("ProcessDocument called",
		slog.String("project_id", projectID),
		slog.String("document_id", documentID),
	)

	if !validUUID(c, "document_id", documentID) {
		return
	}

	var req dto.ProcessDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		AbortWithError(c, http.StatusBadRequest, CodeBadRequest, "Invalid request body")
		return
	}

	job, err := h.jobs.Create(c.Request.Context(), projectID, documentID, req.ShouldAutoStart())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, dto.DataResponse{Data: dto.NewJobDTO(job)})
}

// ListJobs handles GET /api/v1/projects/:project_id/jobs
// Lists a project's jobs, newest first, with page/per_page pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	projectID := c.Param("project_id")

	h.logger.Info("ListJobs called",
		slog.String("project_id", projectID),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		AbortWithError(c, http.StatusBadRequest, CodeBadRequest, "Invalid query parameters")
		return
	}

	filter := storage.JobFilter{DocumentID: req.DocumentID}
	if req.Status != "" {
		status, err := domain.ParseJobStatus(req.Status)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		filter.Status = status
	}
	if req.DocumentID != "" && !validUUID(c, "document_id", req.DocumentID) {
		return
	}

	page := normalizePage(req.Page, req.PerPage)
	jobs, total, err := h.jobs.List(c.Request.Context(), projectID, filter, page)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Data:       dto.NewJobDTOs(jobs),
		Pagination: newPagination(page, total),
	})
}

// GetJob handles GET /api/v1/projects/:project_id/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	projectID := c.Param("project_id")
	jobID := c.Param("job_id")

	h.logger.Info("GetJob called",
		slog.String("project_id", projectID),
		slog.String("job_id", jobID),
	)

	if !validUUID(c, "job_id", jobID) {
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), projectID, jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.DataResponse{Data: dto.NewJobDTO(job)})
}

// ControlJob handles POST /api/v1/projects/:project_id/jobs/:job_id/control
// Applies pause, resume, cancel, retry_step or retry_job
func (h *JobHandler) ControlJob(c *gin.Context) {
	projectID := c.Param("project_id")
	jobID := c.Param("job_id")

	if !validUUID(c, "job_id", jobID) {
		return
	}

	var req dto.ControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid control request", slog.String("error", err.Error()))
		AbortWithError(c, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	action, err := req.ToAction()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("ControlJob called",
		slog.String("project_id", projectID),
		slog.String("job_id", jobID),
		slog.String("action", action.Name()),
	)

	job, err := h.jobs.Control(c.Request.Context(), projectID, jobID, action, c.GetString(UserIDKey))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.DataResponse{Data: dto.NewJobDTO(job)})
}

func validUUID(c *gin.Context, name, value string) bool {
	if _, err := uuid.Parse(value); err != nil {
		AbortWithError(c, http.StatusBadRequest, CodeBadRequest, name+" must be a valid UUID")
		return false
	}
	return true
}
