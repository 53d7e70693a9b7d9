package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/rabbit-jobqueue/internal/api/dto"
	"github.com/cuongbtq/rabbit-jobqueue/internal/domain"
	"github.com/cuongbtq/rabbit-jobqueue/internal/failed"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListFailedJobs handles GET /api/v1/failed-jobs
// Lists recorded failures, newest first, with cursor pagination
func (h *FailedJobHandler) ListFailedJobs(c *gin.Context) {
	if !h.available(c) {
		return
	}

	var req dto.ListFailedJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeFailedJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	records, next, err := h.failures.List(c.Request.Context(), failed.Filter{
		JobName: req.JobName,
		Limit:   req.PageSize,
		Cursor:  cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list failed jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list failed jobs",
		})
		return
	}

	resp := dto.ListFailedJobsResponse{FailedJobs: make([]dto.FailedJobDTO, len(records))}
	for i, record := range records {
		resp.FailedJobs[i] = toFailedJobDTO(record)
	}
	if next != nil {
		resp.NextCursor = EncodeFailedJobCursor(next)
	}

	c.JSON(http.StatusOK, resp)
}

// GetFailedJob handles GET /api/v1/failed-jobs/:event_id
func (h *FailedJobHandler) GetFailedJob(c *gin.Context) {
	if !h.available(c) {
		return
	}

	eventID, err := uuid.Parse(c.Param("event_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "event_id must be a valid UUID",
		})
		return
	}

	record, err := h.failures.Get(c.Request.Context(), eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Failed job not found",
			})
			return
		}
		h.logger.Error("Failed to get failed job",
			slog.String("event_id", eventID.String()),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get failed job",
		})
		return
	}

	c.JSON(http.StatusOK, toFailedJobDTO(record))
}

func (h *FailedJobHandler) available(c *gin.Context) bool {
	if h.failures != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error": "Failed job storage is disabled",
	})
	return false
}

func toFailedJobDTO(record failed.Record) dto.FailedJobDTO {
	return dto.FailedJobDTO{
		EventID:        record.EventID.String(),
		Channel:        record.Channel,
		JobName:        record.JobName,
		FailedJobState: record.FailedJobState,
		Metadata:       record.Metadata,
		FailedAt:       record.FailedAt.UTC().Format(time.RFC3339Nano),
	}
}
