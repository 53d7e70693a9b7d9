package handler

import (
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	"github.com/cuongbtq/rabbit-jobqueue/internal/api/dto"
	"github.com/cuongbtq/rabbit-jobqueue/internal/domain"
	"github.com/gin-gonic/gin"
)

// DispatchJob handles POST /api/v1/jobs
// Builds a fresh job from its definition and publishes it to the job's exchange
func (h *JobHandler) DispatchJob(c *gin.Context) {
	var req dto.DispatchJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	def, err := h.factory.Get(req.JobName)
	if err != nil {
		h.logger.Warn("Unknown job requested",
			slog.String("job_name", req.JobName),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusNotFound, gin.H{
			"error": err.Error(),
		})
		return
	}

	j, err := h.factory.New(req.JobName, req.State)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	if err := h.dispatcher.Dispatch(c.Request.Context(), j, def.Exchange); err != nil {
		h.logger.Error("Failed to dispatch job",
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)

		status := http.StatusBadGateway
		if errors.Is(err, domain.ErrValidation) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"error": "Failed to dispatch job",
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.DispatchJobResponse{
		JobName:    j.Name,
		Exchange:   def.Exchange,
		RoutingKey: j.RoutingKey(),
	})
}

// ListJobDefinitions handles GET /api/v1/jobs
// Lists the configured job types
func (h *JobHandler) ListJobDefinitions(c *gin.Context) {
	jobs := h.factory.JobMap()

	resp := dto.ListJobDefinitionsResponse{Jobs: make([]dto.JobDefinitionDTO, 0, len(jobs))}
	for _, name := range slices.Sorted(maps.Keys(jobs)) {
		def := jobs[name]
		resp.Jobs = append(resp.Jobs, dto.JobDefinitionDTO{
			Name:          name,
			Exchange:      def.Exchange,
			Queue:         def.Queue,
			RoutingKey:    def.RoutingKey,
			Handler:       def.Handler,
			RetryInterval: def.Strategy.RetryInterval.String(),
			MaxRetries:    def.Strategy.MaxRetries,
		})
	}

	c.JSON(http.StatusOK, resp)
}
