package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fixwork_backend/internal/jobstatus"
	"fixwork_backend/internal/middleware"
	"fixwork_backend/internal/models"
	"fixwork_backend/internal/services"
	"fixwork_backend/internal/services/dto"
	"fixwork_backend/pkg/apperrors"
)

type JobHandler struct {
	*BaseHandler
	jobService services.JobService
}

func NewJobHandler(base *BaseHandler, jobService services.JobService) *JobHandler {
	return &JobHandler{
		BaseHandler: base,
		jobService:  jobService,
	}
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	jobs := r.Group("/jobs")
	jobs.Use(middleware.AuthMiddleware())
	{
		jobs.PUT("/:id/status", h.UpdateStatus)
		jobs.POST("/:id/apply", middleware.RequireRoles(models.UserRoleFixer), h.Apply)
	}
}

func (h *JobHandler) UpdateStatus(c *gin.Context) {
	userID, ok := h.CurrentUserID(c)
	if !ok {
		return
	}

	var req dto.UpdateJobStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}

	actor := jobstatus.Actor{ID: userID, Role: middleware.CurrentRole(c)}
	resp, err := h.jobService.UpdateStatus(c.Request.Context(), c.Param("id"), actor, &req)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) Apply(c *gin.Context) {
	userID, ok := h.CurrentUserID(c)
	if !ok {
		return
	}

	var req dto.ApplyToJobRequest
	if !h.BindJSON(c, &req) {
		return
	}

	if err := h.jobService.Apply(c.Request.Context(), c.Param("id"), userID, &req); err != nil {
		apperrors.HandleError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}
