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

// LicenseHandler exposes license lifecycle operations: the unauthenticated
// client check-in protocol, user-facing self-service, and admin overrides.
type LicenseHandler struct {
	licenses *services.LicenseService
}

func NewLicenseHandler(licenses *services.LicenseService) *LicenseHandler {
	return &LicenseHandler{licenses: licenses}
}

type validateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,license_key"`
	IP         string `json:"ip" validate:"omitempty,ip"`
}

// POST /api/license/validate
//
// Client check-in. Unauthenticated: the license key is the credential. The IP
// defaults to the connection's client IP when the body omits it. A denial
// discloses the currently bound IP so a locked-out user can recognise their
// own other device.
func (h *LicenseHandler) Validate(c *gin.Context) {
	var req validateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ip := strings.TrimSpace(req.IP)
	if ip == "" {
		ip = c.ClientIP()
	}

	result, err := h.licenses.Validate(requestContext(c), req.LicenseKey, ip)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	if result.Valid {
		response.Success(c, http.StatusOK, result)
		return
	}

	switch result.Outcome {
	case services.ValidationOutcomeNotFound:
		response.Error(c, errors.NewNotFound(result.Message))
	case services.ValidationOutcomeInUse:
		response.ErrorWithDetails(c, errors.New("LICENSE_IN_USE", result.Message, http.StatusForbidden), map[string]any{
			"current_ip": result.CurrentIP,
		})
	default:
		response.Error(c, errors.New("LICENSE_NOT_ACTIVE", result.Message, http.StatusForbidden))
	}
}

type heartbeatRequest struct {
	LicenseKey string `json:"license_key" validate:"required,license_key"`
}

// POST /api/license/heartbeat
//
// Liveness ping. Deliberately skips the IP check so a client mid-migration
// keeps its binding fresh.
func (h *LicenseHandler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.licenses.Heartbeat(requestContext(c), req.LicenseKey); err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"alive": true})
}

type activateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,license_key"`
	IP         string `json:"ip" validate:"omitempty,ip"`
}

// POST /api/licenses/activate
func (h *LicenseHandler) Activate(c *gin.Context) {
	var req activateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ip := strings.TrimSpace(req.IP)
	if ip == "" {
		ip = c.ClientIP()
	}

	err := h.licenses.Activate(requestContext(c), services.ActivateInput{
		UserID:     currentUserID(c),
		LicenseKey: req.LicenseKey,
		IP:         ip,
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"activated": true})
}

// GET /api/licenses
func (h *LicenseHandler) List(c *gin.Context) {
	licenses, err := h.licenses.List(requestContext(c), currentTenantID(c), false)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, licenses)
}

// GET /api/licenses/active
func (h *LicenseHandler) ListActive(c *gin.Context) {
	licenses, err := h.licenses.List(requestContext(c), currentTenantID(c), true)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, licenses)
}

// GET /api/licenses/:id
func (h *LicenseHandler) Get(c *gin.Context) {
	license, err := h.licenses.Get(requestContext(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, license)
}

// GET /api/licenses/:id/sessions
func (h *LicenseHandler) Sessions(c *gin.Context) {
	sessions, err := h.licenses.Sessions(requestContext(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, sessions)
}

// POST /api/licenses/:id/release
func (h *LicenseHandler) Release(c *gin.Context) {
	if err := h.licenses.Release(requestContext(c), c.Param("id"), requestActor(c)); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"released": true})
}

// POST /api/licenses/:id/suspend
func (h *LicenseHandler) Suspend(c *gin.Context) {
	if err := h.licenses.Suspend(requestContext(c), c.Param("id"), requestActor(c)); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"suspended": true})
}

// POST /api/licenses/:id/revoke
func (h *LicenseHandler) Revoke(c *gin.Context) {
	if err := h.licenses.Revoke(requestContext(c), c.Param("id"), requestActor(c)); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

type createLicenseRequest struct {
	TenantID string `json:"tenant_id" validate:"required,uuid4"`
	Seats    int    `json:"seats" validate:"omitempty,min=1"`
}

// POST /api/admin/licenses
func (h *LicenseHandler) AdminCreate(c *gin.Context) {
	var req createLicenseRequest
	if !bindAndValidate(c, &req) {
		return
	}

	license, err := h.licenses.Create(requestContext(c), services.CreateLicenseInput{
		TenantID: req.TenantID,
		Seats:    req.Seats,
	}, requestActor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, license)
}

// POST /api/admin/licenses/:id/release
func (h *LicenseHandler) AdminRelease(c *gin.Context) {
	if err := h.licenses.AdminRelease(requestContext(c), c.Param("id"), requestActor(c)); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"released": true})
}

// POST /api/admin/licenses/:id/suspend
func (h *LicenseHandler) AdminSuspend(c *gin.Context) {
	if err := h.licenses.AdminSuspend(requestContext(c), c.Param("id"), requestActor(c)); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"suspended": true})
}

// POST /api/admin/licenses/:id/activate
func (h *LicenseHandler) AdminActivate(c *gin.Context) {
	if err := h.licenses.AdminActivate(requestContext(c), c.Param("id"), requestActor(c)); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"activated": true})
}

// POST /api/admin/licenses/:id/revoke
func (h *LicenseHandler) AdminRevoke(c *gin.Context) {
	if err := h.licenses.AdminRevoke(requestContext(c), c.Param("id"), requestActor(c)); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

type grantGraceRequest struct {
	Minutes int `json:"minutes" validate:"omitempty,min=1,max=1440"`
}

// POST /api/admin/licenses/:id/grace
func (h *LicenseHandler) AdminGrantGrace(c *gin.Context) {
	var req grantGraceRequest
	if !bindAndValidate(c, &req) {
		return
	}

	license, err := h.licenses.GrantGrace(requestContext(c), c.Param("id"), time.Duration(req.Minutes)*time.Minute, requestActor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"grace_until": license.GraceUntil,
	})
}

func (h *LicenseHandler) writeError(c *gin.Context, err error) {
	switch {
	case stderrors.Is(err, services.ErrLicenseNotFound):
		response.Error(c, errors.NewNotFound("license not found"))
	case stderrors.Is(err, services.ErrLicenseNotActive):
		response.Error(c, errors.New("LICENSE_NOT_ACTIVE", "license is not active", http.StatusForbidden))
	case stderrors.Is(err, services.ErrLicenseAlreadyActivated):
		response.Error(c, errors.NewConflict("LICENSE_ALREADY_ACTIVATED", "license already activated by another user"))
	default:
		response.Error(c, errors.ErrInternalServer)
	}
}
