package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	iauth "github.com/finbase/revrec/internal/auth"
	"github.com/finbase/revrec/internal/auth/mfa"
	"github.com/finbase/revrec/internal/middleware"
	"github.com/finbase/revrec/internal/models"
	"github.com/finbase/revrec/pkg/errors"
	"github.com/finbase/revrec/pkg/metrics"
	"github.com/finbase/revrec/pkg/response"
)

// AuthHandler manages authentication flows (login/refresh/logout/me).
type AuthHandler struct {
	db       *gorm.DB
	sessions *iauth.SessionService
	totp     *mfa.TOTPService
}

func NewAuthHandler(db *gorm.DB, sessions *iauth.SessionService, totp *mfa.TOTPService) *AuthHandler {
	return &AuthHandler{db: db, sessions: sessions, totp: totp}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	MFACode  string `json:"mfa_code"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	if err := h.db.Take(&user, "email = ?", req.Email).Error; err != nil {
		// Burn a comparison anyway so missing users cost the same as bad passwords.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOa5kYO5cC1lqiIhHeTTi6dcGGI07mO2y"), []byte(req.Password))
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, errors.ErrInvalidCredentials)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, errors.ErrInvalidCredentials)
		return
	}

	if !user.IsActive {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, errors.ErrForbidden)
		return
	}

	if user.MFAEnabled {
		if !h.verifyMFA(user.ID, req.MFACode) {
			metrics.AuthAttempts.WithLabelValues("failure").Inc()
			if strings.TrimSpace(req.MFACode) == "" {
				response.Error(c, errors.ErrMFARequired)
			} else {
				response.Error(c, errors.ErrMFAInvalid)
			}
			return
		}
	}

	pair, _, err := h.sessions.CreateSession(user.ID, iauth.SessionMetadata{
		TenantID:  user.TenantID,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, errors.ErrInternalServer)
		return
	}

	updates := map[string]any{"last_login_at": time.Now().UTC(), "last_login_ip": c.ClientIP()}
	if err := h.db.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()

	response.Success(c, http.StatusOK, gin.H{
		"tokens": tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken},
		"user":   userPayload(&user),
	})
}

func (h *AuthHandler) verifyMFA(userID, code string) bool {
	if h.totp == nil {
		return false
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	if ok, err := h.totp.VerifyCode(userID, code); err == nil && ok {
		return true
	}
	ok, err := h.totp.UseBackupCode(userID, code)
	return err == nil && ok
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		response.Error(c, errors.NewBadRequest("refresh token is required"))
		return
	}

	pair, _, err := h.sessions.RefreshSession(req.RefreshToken)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	sid := c.GetString(middleware.CtxSessionIDKey)
	if sid == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.sessions.RevokeSession(sid); err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var user models.User
	if err := h.db.Preload("Tenant").Take(&user, "id = ?", userID).Error; err != nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	payload := userPayload(&user)
	if user.Tenant != nil {
		payload["tenant"] = gin.H{
			"id":       user.Tenant.ID,
			"name":     user.Tenant.Name,
			"slug":     user.Tenant.Slug,
			"currency": user.Tenant.Currency,
		}
	}

	response.Success(c, http.StatusOK, payload)
}

func userPayload(user *models.User) gin.H {
	return gin.H{
		"id":          user.ID,
		"tenant_id":   user.TenantID,
		"email":       user.Email,
		"first_name":  user.FirstName,
		"last_name":   user.LastName,
		"is_admin":    user.IsAdmin,
		"is_active":   user.IsActive,
		"mfa_enabled": user.MFAEnabled,
		"license_key": user.LicenseKey,
	}
}
