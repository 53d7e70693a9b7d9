package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/rabbit-jobqueue/internal/api/dto"
	"github.com/cuongbtq/rabbit-jobqueue/internal/domain"
	"github.com/cuongbtq/rabbit-jobqueue/internal/versionstore"
	"github.com/gin-gonic/gin"
)

// ListVersions handles GET /api/v1/versions
func (h *VersionHandler) ListVersions(c *gin.Context) {
	lists, err := h.versions.ReadAll(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to read version records", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to read version records",
		})
		return
	}

	resp := dto.ListVersionsResponse{Lists: make([]dto.VersionListDTO, len(lists))}
	for i, list := range lists {
		resp.Lists[i] = toVersionListDTO(list)
	}

	c.JSON(http.StatusOK, resp)
}

// GetVersions handles GET /api/v1/versions/:identifier
func (h *VersionHandler) GetVersions(c *gin.Context) {
	identifier := c.Param("identifier")

	list, err := h.versions.Read(c.Request.Context(), identifier)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": err.Error(),
			})
		case errors.Is(err, domain.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
		default:
			h.logger.Error("Failed to read version records",
				slog.String("identifier", identifier),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusBadGateway, gin.H{
				"error": "Failed to read version records",
			})
		}
		return
	}

	c.JSON(http.StatusOK, toVersionListDTO(list))
}

func toVersionListDTO(list versionstore.StructureVersionList) dto.VersionListDTO {
	out := dto.VersionListDTO{
		Identifier: list.Identifier,
		Versions:   make([]dto.VersionDTO, len(list.Versions)),
	}
	for i, v := range list.Versions {
		out.Versions[i] = dto.VersionDTO{
			TargetName:  v.TargetName,
			Version:     v.Version,
			CreatedDate: v.CreatedDate,
		}
	}
	return out
}
