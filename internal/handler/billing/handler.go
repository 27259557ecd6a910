package billing

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/hms-api/internal/model"
	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
	"github.com/jwalitptl/hms-api/pkg/httputil"
)

type Service interface {
	CreateInvoice(ctx context.Context, req *model.CreateInvoiceRequest) (*model.Invoice, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
	ListInvoices(ctx context.Context, filters *model.InvoiceFilters) ([]*model.Invoice, error)
	Summary(ctx context.Context, filters *model.InvoiceFilters) (model.BillingSummary, error)
	UpdateInvoice(ctx context.Context, id uuid.UUID, req *model.UpdateInvoiceRequest) (*model.Invoice, error)
	AddItem(ctx context.Context, id uuid.UUID, input model.LineItemInput) (*model.Invoice, error)
	RemoveItem(ctx context.Context, id uuid.UUID, index int) (*model.Invoice, error)
	AddRoomCharge(ctx context.Context, id uuid.UUID, days int) (*model.Invoice, error)
	ApplyDiscount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*model.Invoice, error)
	RecordPayment(ctx context.Context, id uuid.UUID, req *model.RecordPaymentRequest) (*model.Invoice, error)
	SetStatus(ctx context.Context, id uuid.UUID, status model.InvoiceStatus) (*model.Invoice, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	billing := r.Group("/billing")
	{
		billing.POST("", h.CreateInvoice)
		billing.GET("", h.ListInvoices)
		billing.GET("/summary", h.Summary)
		billing.GET("/:id", h.GetInvoice)
		billing.PUT("/:id", h.UpdateInvoice)
		billing.POST("/:id/items", h.AddItem)
		billing.DELETE("/:id/items/:index", h.RemoveItem)
		billing.POST("/:id/room-charges", h.AddRoomCharge)
		billing.POST("/:id/discount", h.ApplyDiscount)
		billing.POST("/:id/payments", h.RecordPayment)
		billing.POST("/:id/status", h.SetStatus)
	}
}

func (h *Handler) CreateInvoice(c *gin.Context) {
	var req model.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	invoice, err := h.service.CreateInvoice(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, invoice)
}

func (h *Handler) GetInvoice(c *gin.Context) {
	id, ok := httputil.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	invoice, err := h.service.GetInvoice(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, invoice)
}

func (h *Handler) ListInvoices(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	invoices, err := h.service.ListInvoices(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, invoices)
}

func (h *Handler) Summary(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, summary)
}

func (h *Handler) UpdateInvoice(c *gin.Context) {
	id, ok := httputil.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req model.UpdateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	h.respond(c)(h.service.UpdateInvoice(c.Request.Context(), id, &req))
}

func (h *Handler) AddItem(c *gin.Context) {
	id, ok := httputil.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req model.LineItemInput
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	h.respond(c)(h.service.AddItem(c.Request.Context(), id, req))
}

func (h *Handler) RemoveItem(c *gin.Context) {
	id, ok := httputil.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid item index", err))
		return
	}

	h.respond(c)(h.service.RemoveItem(c.Request.Context(), id, index))
}

func (h *Handler) AddRoomCharge(c *gin.Context) {
	id, ok := httputil.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req model.RoomChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	h.respond(c)(h.service.AddRoomCharge(c.Request.Context(), id, req.Days))
}

func (h *Handler) ApplyDiscount(c *gin.Context) {
	id, ok := httputil.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req model.DiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	h.respond(c)(h.service.ApplyDiscount(c.Request.Context(), id, req.Amount))
}

func (h *Handler) RecordPayment(c *gin.Context) {
	id, ok := httputil.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req model.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	h.respond(c)(h.service.RecordPayment(c.Request.Context(), id, &req))
}

func (h *Handler) SetStatus(c *gin.Context) {
	id, ok := httputil.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req model.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	h.respond(c)(h.service.SetStatus(c.Request.Context(), id, req.Status))
}

func (h *Handler) respond(c *gin.Context) func(*model.Invoice, error) {
	return func(invoice *model.Invoice, err error) {
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		httputil.RespondWithSuccess(c, http.StatusOK, invoice)
	}
}

func parseFilters(c *gin.Context) (*model.InvoiceFilters, error) {
	filters := &model.InvoiceFilters{Status: model.InvoiceStatus(c.Query("status"))}

	if v := c.Query("patientId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, apperrors.Validation("invalid patientId", err)
		}
		filters.PatientID = id
	}
	if v := c.Query("fromDate"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			return nil, apperrors.Validation(err.Error(), err)
		}
		filters.FromDate = d.Time
	}
	if v := c.Query("toDate"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			return nil, apperrors.Validation(err.Error(), err)
		}
		filters.ToDate = d.Time
		// a calendar date covers the whole day
		if !strings.Contains(v, "T") {
			filters.ToDate = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
	}
	return filters, nil
}
