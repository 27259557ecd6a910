package bed

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/hms-api/internal/model"
	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
	"github.com/jwalitptl/hms-api/pkg/httputil"
)

type Service interface {
	CreateBed(ctx context.Context, req *model.CreateBedRequest) (*model.Bed, error)
	GetBed(ctx context.Context, id uuid.UUID) (*model.Bed, error)
	ListBeds(ctx context.Context, filters *model.BedFilters) ([]*model.Bed, error)
	AssignPatient(ctx context.Context, id uuid.UUID, req *model.AssignBedRequest) (*model.Bed, error)
	Discharge(ctx context.Context, id uuid.UUID) (*model.Bed, error)
	SetMaintenance(ctx context.Context, id uuid.UUID) (*model.Bed, error)
	ClearMaintenance(ctx context.Context, id uuid.UUID) (*model.Bed, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	beds := r.Group("/beds")
	{
		beds.POST("", h.CreateBed)
		beds.GET("", h.ListBeds)
		beds.GET("/:id", h.GetBed)
		beds.POST("/:id/assign", h.AssignPatient)
		beds.POST("/:id/discharge", h.transition(Service.Discharge))
		beds.POST("/:id/maintenance", h.transition(Service.SetMaintenance))
		beds.DELETE("/:id/maintenance", h.transition(Service.ClearMaintenance))
	}
}

func (h *Handler) CreateBed(c *gin.Context) {
	var req model.CreateBedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	bed, err := h.service.CreateBed(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, bed)
}

func (h *Handler) GetBed(c *gin.Context) {
	id, ok := httputil.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	bed, err := h.service.GetBed(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, bed)
}

func (h *Handler) ListBeds(c *gin.Context) {
	filters := &model.BedFilters{Status: model.BedStatus(c.Query("status"))}
	if ward := c.Query("ward"); ward != "" {
		wardID, err := uuid.Parse(ward)
		if err != nil {
			httputil.RespondWithError(c, apperrors.Validation("invalid ward", err))
			return
		}
		filters.WardID = wardID
	}

	beds, err := h.service.ListBeds(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, beds)
}

func (h *Handler) AssignPatient(c *gin.Context) {
	id, ok := httputil.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req model.AssignBedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	bed, err := h.service.AssignPatient(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, bed)
}

// transition serves the body-less state changes.
func (h *Handler) transition(fn func(Service, context.Context, uuid.UUID) (*model.Bed, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := httputil.ParseUUIDParam(c, "id")
		if !ok {
			return
		}

		bed, err := fn(h.service, c.Request.Context(), id)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		httputil.RespondWithSuccess(c, http.StatusOK, bed)
	}
}
