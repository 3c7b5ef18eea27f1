package router

import (
	"net/http"

	"github.com/buildbid/docproc-service/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.Database != nil {
			if err := deps.Database.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": deps.ServiceName,
					"error":   "database unavailable",
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": deps.ServiceName,
		})
	})

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(RequireAuth(deps.Tokens))
	{
		project := v1.Group("/projects/:project_id")
		project.Use(RequireProjectOwner(deps.Owners, deps.Logger))
		{
			// POST /api/v1/projects/:project_id/documents/:document_id/process - Start processing
			project.POST("/documents/:document_id/process", jobHandler.ProcessDocument)

			// GET /api/v1/projects/:project_id/jobs - List jobs with filtering and pagination
			project.GET("/jobs", jobHandler.ListJobs)

			// GET /api/v1/projects/:project_id/jobs/stream - Progress events (SSE)
			project.GET("/jobs/stream", jobHandler.StreamJobs)

			// GET /api/v1/projects/:project_id/jobs/:job_id - Get job details
			project.GET("/jobs/:job_id", jobHandler.GetJob)

			// POST /api/v1/projects/:project_id/jobs/:job_id/control - Pause, resume, cancel, retry
			project.POST("/jobs/:job_id/control", jobHandler.ControlJob)
		}
	}

	// Worker write-back routes
	internal := r.Group("/internal/v1/jobs/:job_id")
	internal.Use(RequireInternalToken(deps.InternalToken))
	{
		internal.POST("/start", jobHandler.StartJob)
		internal.POST("/steps/:step_key/start", jobHandler.StartStep)
		internal.POST("/steps/:step_key/progress", jobHandler.ReportStepProgress)
		internal.POST("/steps/:step_key/complete", jobHandler.CompleteStep)
		internal.POST("/steps/:step_key/skip", jobHandler.SkipStep)
		internal.POST("/steps/:step_key/fail", jobHandler.FailStep)
	}

	return r
}
