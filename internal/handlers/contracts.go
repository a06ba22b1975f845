package handlers

import (
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finbase/revrec/internal/services"
	"github.com/finbase/revrec/pkg/errors"
	"github.com/finbase/revrec/pkg/response"
)

// ContractHandler exposes contract, obligation, and revenue schedule
// operations.
type ContractHandler struct {
	contracts *services.ContractService
	schedules *services.ScheduleService
}

func NewContractHandler(contracts *services.ContractService, schedules *services.ScheduleService) *ContractHandler {
	return &ContractHandler{contracts: contracts, schedules: schedules}
}

const contractDateLayout = "2006-01-02"

type obligationRequest struct {
	Name              string `json:"name" validate:"required"`
	AllocationPercent int    `json:"allocation_percent" validate:"required,min=1,max=100"`
	Method            string `json:"method" validate:"omitempty,oneof=straight_line point_in_time"`
}

type createContractRequest struct {
	Number          string              `json:"number" validate:"required"`
	CustomerName    string              `json:"customer_name" validate:"required"`
	TotalValueCents int64               `json:"total_value_cents" validate:"required,min=1"`
	Currency        string              `json:"currency" validate:"omitempty,len=3"`
	StartDate       string              `json:"start_date" validate:"required"`
	EndDate         string              `json:"end_date"`
	Terms           map[string]any      `json:"terms"`
	Obligations     []obligationRequest `json:"obligations" validate:"required,min=1,dive"`
}

// POST /api/contracts
func (h *ContractHandler) Create(c *gin.Context) {
	var req createContractRequest
	if !bindAndValidate(c, &req) {
		return
	}

	start, err := time.Parse(contractDateLayout, req.StartDate)
	if err != nil {
		response.Error(c, errors.NewBadRequest("start_date must be formatted YYYY-MM-DD"))
		return
	}

	var end *time.Time
	if strings.TrimSpace(req.EndDate) != "" {
		parsed, err := time.Parse(contractDateLayout, req.EndDate)
		if err != nil {
			response.Error(c, errors.NewBadRequest("end_date must be formatted YYYY-MM-DD"))
			return
		}
		end = &parsed
	}

	input := services.CreateContractInput{
		TenantID:        currentTenantID(c),
		Number:          req.Number,
		CustomerName:    req.CustomerName,
		TotalValueCents: req.TotalValueCents,
		Currency:        req.Currency,
		StartDate:       start,
		EndDate:         end,
		Terms:           req.Terms,
	}
	for _, ob := range req.Obligations {
		input.Obligations = append(input.Obligations, services.ObligationInput{
			Name:              ob.Name,
			AllocationPercent: ob.AllocationPercent,
			Method:            ob.Method,
		})
	}

	contract, err := h.contracts.Create(requestContext(c), input, requestActor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, contract)
}

// GET /api/contracts
func (h *ContractHandler) List(c *gin.Context) {
	opts := services.ContractListOptions{
		TenantID: currentTenantID(c),
		Status:   c.Query("status"),
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "page_size", 25),
	}

	contracts, total, err := h.contracts.List(requestContext(c), opts)
	if err != nil {
		h.writeError(c, err)
		return
	}

	meta := &response.Meta{
		Page:    opts.Page,
		PerPage: opts.PageSize,
		Total:   int(total),
	}
	if opts.PageSize > 0 {
		meta.TotalPages = (int(total) + opts.PageSize - 1) / opts.PageSize
	}

	response.SuccessWithMeta(c, http.StatusOK, contracts, meta)
}

// GET /api/contracts/:id
func (h *ContractHandler) Get(c *gin.Context) {
	contract, err := h.contracts.Get(requestContext(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, contract)
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft active completed cancelled"`
}

// POST /api/contracts/:id/status
func (h *ContractHandler) SetStatus(c *gin.Context) {
	var req setStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}

	contract, err := h.contracts.SetStatus(requestContext(c), c.Param("id"), req.Status, requestActor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, contract)
}

// POST /api/contracts/:id/obligations/:obligationId/satisfy
func (h *ContractHandler) SatisfyObligation(c *gin.Context) {
	obligation, err := h.contracts.SatisfyObligation(requestContext(c), c.Param("obligationId"), requestActor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, obligation)
}

// POST /api/contracts/:id/schedule
func (h *ContractHandler) GenerateSchedule(c *gin.Context) {
	if err := h.schedules.Generate(requestContext(c), c.Param("id"), requestActor(c)); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"generated": true})
}

// GET /api/contracts/:id/outlook
func (h *ContractHandler) Outlook(c *gin.Context) {
	outlook, err := h.schedules.Outlook(requestContext(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, outlook)
}

// POST /api/revenue/recognize
//
// Posts journal entries for every unrecognized schedule period due on or
// before the given date (default: today).
func (h *ContractHandler) RecognizeDue(c *gin.Context) {
	asOf := time.Now().UTC()
	if raw := strings.TrimSpace(c.Query("as_of")); raw != "" {
		parsed, err := time.Parse(contractDateLayout, raw)
		if err != nil {
			response.Error(c, errors.NewBadRequest("as_of must be formatted YYYY-MM-DD"))
			return
		}
		asOf = parsed
	}

	recognized, err := h.schedules.RecognizeDue(requestContext(c), currentTenantID(c), asOf)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"recognized": recognized})
}

func (h *ContractHandler) writeError(c *gin.Context, err error) {
	switch {
	case stderrors.Is(err, services.ErrContractNotFound):
		response.Error(c, errors.NewNotFound("contract not found"))
	case stderrors.Is(err, services.ErrObligationNotFound):
		response.Error(c, errors.NewNotFound("performance obligation not found"))
	case stderrors.Is(err, services.ErrContractDuplicateNumber):
		response.Error(c, errors.NewConflict("CONTRACT_NUMBER_TAKEN", "contract number already in use"))
	case stderrors.Is(err, services.ErrContractInvalidTransition):
		response.Error(c, errors.NewConflict("CONTRACT_INVALID_TRANSITION", "contract status transition not allowed"))
	case stderrors.Is(err, services.ErrScheduleExists):
		response.Error(c, errors.NewConflict("SCHEDULE_EXISTS", "revenue schedule already generated"))
	case stderrors.Is(err, services.ErrScheduleContractDate):
		response.Error(c, errors.NewBadRequest("contract needs an end date for straight-line recognition"))
	case stderrors.Is(err, services.ErrContractInvalidInput):
		response.Error(c, errors.NewBadRequest(err.Error()))
	default:
		response.Error(c, errors.ErrInternalServer)
	}
}
