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

// JournalHandler exposes double-entry journal operations.
type JournalHandler struct {
	journal *services.JournalService
}

func NewJournalHandler(journal *services.JournalService) *JournalHandler {
	return &JournalHandler{journal: journal}
}

type journalLineRequest struct {
	Account     string `json:"account" validate:"required"`
	DebitCents  int64  `json:"debit_cents" validate:"omitempty,min=0"`
	CreditCents int64  `json:"credit_cents" validate:"omitempty,min=0"`
}

type postEntryRequest struct {
	ContractID string               `json:"contract_id" validate:"omitempty,uuid4"`
	Memo       string               `json:"memo" validate:"required"`
	Lines      []journalLineRequest `json:"lines" validate:"required,min=2,dive"`
}

// POST /api/journal/entries
func (h *JournalHandler) Post(c *gin.Context) {
	var req postEntryRequest
	if !bindAndValidate(c, &req) {
		return
	}

	input := services.PostEntryInput{
		TenantID: currentTenantID(c),
		Memo:     req.Memo,
	}
	if req.ContractID != "" {
		input.ContractID = &req.ContractID
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, services.JournalLineInput{
			Account:     line.Account,
			DebitCents:  line.DebitCents,
			CreditCents: line.CreditCents,
		})
	}

	entry, err := h.journal.Post(requestContext(c), input)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, entry)
}

// GET /api/journal/entries
func (h *JournalHandler) List(c *gin.Context) {
	entries, err := h.journal.List(requestContext(c), currentTenantID(c), c.Query("contract_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, entries)
}

// GET /api/journal/trial-balance
func (h *JournalHandler) TrialBalance(c *gin.Context) {
	until := time.Now().UTC()
	if raw := strings.TrimSpace(c.Query("until")); raw != "" {
		parsed, err := time.Parse(contractDateLayout, raw)
		if err != nil {
			response.Error(c, errors.NewBadRequest("until must be formatted YYYY-MM-DD"))
			return
		}
		// Include postings through the end of the named day.
		until = parsed.AddDate(0, 0, 1)
	}

	balances, err := h.journal.TrialBalance(requestContext(c), currentTenantID(c), until)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var net int64
	for _, balance := range balances {
		net += balance.NetCents
	}

	response.Success(c, http.StatusOK, gin.H{
		"accounts":  balances,
		"net_cents": net,
		"balanced":  net == 0,
	})
}

func (h *JournalHandler) writeError(c *gin.Context, err error) {
	switch {
	case stderrors.Is(err, services.ErrJournalUnbalanced):
		response.Error(c, errors.NewBadRequest("debits and credits must balance"))
	case stderrors.Is(err, services.ErrJournalEmpty):
		response.Error(c, errors.NewBadRequest("journal entry requires at least two lines"))
	default:
		response.Error(c, errors.ErrInternalServer)
	}
}
