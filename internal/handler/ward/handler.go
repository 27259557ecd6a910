package ward

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/hms-api/internal/model"
	"github.com/jwalitptl/hms-api/pkg/httputil"
)

type Service interface {
	CreateWard(ctx context.Context, req *model.CreateWardRequest) (*model.Ward, error)
	UpdateWard(ctx context.Context, id uuid.UUID, req *model.UpdateWardRequest) (*model.Ward, error)
	GetWard(ctx context.Context, id uuid.UUID) (*model.Ward, error)
	ListWards(ctx context.Context) ([]*model.Ward, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	wards := r.Group("/wards")
	{
		wards.GET("", h.ListWards)
		wards.POST("", h.CreateWard)
		wards.GET("/:id", h.GetWard)
		wards.PUT("/:id", h.UpdateWard)
	}
}

func (h *Handler) CreateWard(c *gin.Context) {
	var req model.CreateWardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	ward, err := h.service.CreateWard(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, ward)
}

func (h *Handler) GetWard(c *gin.Context) {
	id, ok := httputil.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	ward, err := h.service.GetWard(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, ward)
}

func (h *Handler) UpdateWard(c *gin.Context) {
	id, ok := httputil.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req model.UpdateWardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	ward, err := h.service.UpdateWard(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, ward)
}

func (h *Handler) ListWards(c *gin.Context) {
	wards, err := h.service.ListWards(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, wards)
}
