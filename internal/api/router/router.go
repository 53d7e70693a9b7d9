package router

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/rabbit-jobqueue/internal/api/handler"
	"github.com/cuongbtq/rabbit-jobqueue/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	jobHandler := handler.NewJobHandler(deps)
	versionHandler := handler.NewVersionHandler(deps)
	failedJobHandler := handler.NewFailedJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Dispatch a job
			jobs.POST("", jobHandler.DispatchJob)

			// GET /api/v1/jobs - List configured job types
			jobs.GET("", jobHandler.ListJobDefinitions)
		}

		versions := v1.Group("/versions")
		{
			// GET /api/v1/versions - All version lists
			versions.GET("", versionHandler.ListVersions)

			// GET /api/v1/versions/:identifier - Versions applied under one identifier
			versions.GET("/:identifier", versionHandler.GetVersions)
		}

		failedJobs := v1.Group("/failed-jobs")
		{
			// GET /api/v1/failed-jobs - List failures with cursor pagination
			failedJobs.GET("", failedJobHandler.ListFailedJobs)

			// GET /api/v1/failed-jobs/:event_id - Get one failure
			failedJobs.GET("/:event_id", failedJobHandler.GetFailedJob)
		}
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		broker := rabbitmq.StatusWorking
		if deps.Broker != nil {
			broker = deps.Broker.Status()
		}

		status, code := "healthy", http.StatusOK
		if broker != rabbitmq.StatusWorking {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}

		body := gin.H{
			"service": "jobqueue-api-service",
			"broker":  broker,
		}

		if deps.Database != nil {
			database := "working"
			if err := deps.Database.HealthCheck(c.Request.Context()); err != nil {
				deps.Logger.Warn("Database health check failed", slog.Any("error", err))
				database = "failing"
				status, code = "unhealthy", http.StatusServiceUnavailable
			}
			body["database"] = database
		}

		body["status"] = status
		c.JSON(code, body)
	}
}
