package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/finbase/revrec/internal/models"
	"github.com/finbase/revrec/internal/services"
)

func TestLicenseValidateEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := newHandlerTestDB(t)
	tenant := seedHandlerTenant(t, db)
	svc := newLicenseTestService(t, db)
	handler := NewLicenseHandler(svc)

	license, err := svc.Create(context.Background(), services.CreateLicenseInput{TenantID: tenant.ID}, services.Actor{})
	require.NoError(t, err)

	r := gin.New()
	r.POST("/api/license/validate", handler.Validate)

	// Unknown key -> 404
	w, payload := doJSON(t, r, http.MethodPost, "/api/license/validate", gin.H{
		"license_key": "LIC-NOPENOPE",
		"ip":          "10.0.0.1",
	})
	require.Equal(t, http.StatusNotFound, w.Code)
	require.False(t, payload.Success)
	require.Equal(t, "NOT_FOUND", payload.Error.Code)

	// First check-in binds the IP
	w, payload = doJSON(t, r, http.MethodPost, "/api/license/validate", gin.H{
		"license_key": license.Key,
		"ip":          "10.0.0.1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, payload.Success)

	var result services.ValidationResult
	dataAs(t, payload, &result)
	require.True(t, result.Valid)
	require.Equal(t, services.ValidationOutcomeActivated, result.Outcome)

	// Same IP renews
	w, payload = doJSON(t, r, http.MethodPost, "/api/license/validate", gin.H{
		"license_key": license.Key,
		"ip":          "10.0.0.1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	dataAs(t, payload, &result)
	require.Equal(t, services.ValidationOutcomeRenewed, result.Outcome)

	// Different IP is denied and the response names the conflicting binding
	w, payload = doJSON(t, r, http.MethodPost, "/api/license/validate", gin.H{
		"license_key": license.Key,
		"ip":          "10.0.0.2",
	})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.False(t, payload.Success)
	require.Equal(t, "LICENSE_IN_USE", payload.Error.Code)
	require.Equal(t, "10.0.0.1", payload.Error.Details["current_ip"])

	// Malformed IP -> 400 before the service is consulted
	w, payload = doJSON(t, r, http.MethodPost, "/api/license/validate", gin.H{
		"license_key": license.Key,
		"ip":          "not-an-ip",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "BAD_REQUEST", payload.Error.Code)

	// Malformed key -> 400 as well
	w, payload = doJSON(t, r, http.MethodPost, "/api/license/validate", gin.H{
		"license_key": "not-a-key",
		"ip":          "10.0.0.1",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "BAD_REQUEST", payload.Error.Code)
}

func TestLicenseValidateFallsBackToClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := newHandlerTestDB(t)
	tenant := seedHandlerTenant(t, db)
	svc := newLicenseTestService(t, db)
	handler := NewLicenseHandler(svc)

	license, err := svc.Create(context.Background(), services.CreateLicenseInput{TenantID: tenant.ID}, services.Actor{})
	require.NoError(t, err)

	r := gin.New()
	r.POST("/api/license/validate", handler.Validate)

	// No ip in the body: the connection's client IP is bound instead.
	// httptest requests originate from 192.0.2.1.
	w, payload := doJSON(t, r, http.MethodPost, "/api/license/validate", gin.H{
		"license_key": license.Key,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result services.ValidationResult
	dataAs(t, payload, &result)
	require.Equal(t, services.ValidationOutcomeActivated, result.Outcome)

	var bound models.License
	require.NoError(t, db.Take(&bound, "id = ?", license.ID).Error)
	require.NotNil(t, bound.CurrentIP)
	require.Equal(t, "192.0.2.1", *bound.CurrentIP)
}

func TestLicenseHeartbeatEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := newHandlerTestDB(t)
	tenant := seedHandlerTenant(t, db)
	svc := newLicenseTestService(t, db)
	handler := NewLicenseHandler(svc)

	license, err := svc.Create(context.Background(), services.CreateLicenseInput{TenantID: tenant.ID}, services.Actor{})
	require.NoError(t, err)

	r := gin.New()
	r.POST("/api/license/heartbeat", handler.Heartbeat)

	w, payload := doJSON(t, r, http.MethodPost, "/api/license/heartbeat", gin.H{"license_key": license.Key})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, payload.Success)

	w, payload = doJSON(t, r, http.MethodPost, "/api/license/heartbeat", gin.H{"license_key": "LIC-MISSING1"})
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", payload.Error.Code)
}

func TestLicenseActivateAndSelfService(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := newHandlerTestDB(t)
	tenant := seedHandlerTenant(t, db)
	user := seedHandlerUser(t, db, tenant.ID, "owner@initech.test", "pw")
	svc := newLicenseTestService(t, db)
	handler := NewLicenseHandler(svc)

	license, err := svc.Create(context.Background(), services.CreateLicenseInput{TenantID: tenant.ID}, services.Actor{})
	require.NoError(t, err)

	r := gin.New()
	authed := r.Group("/api", asIdentity(user.ID, tenant.ID))
	authed.POST("/licenses/activate", handler.Activate)
	authed.GET("/licenses", handler.List)
	authed.GET("/licenses/active", handler.ListActive)
	authed.POST("/licenses/:id/release", handler.Release)

	w, payload := doJSON(t, r, http.MethodPost, "/api/licenses/activate", gin.H{
		"license_key": license.Key,
		"ip":          "192.168.1.10",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, payload.Success)

	var bound models.License
	require.NoError(t, db.Take(&bound, "id = ?", license.ID).Error)
	require.NotNil(t, bound.CurrentIP)
	require.Equal(t, "192.168.1.10", *bound.CurrentIP)

	// A different user cannot hijack the activation
	other := seedHandlerUser(t, db, tenant.ID, "intruder@initech.test", "pw")
	hijack := gin.New()
	hijack.POST("/api/licenses/activate", asIdentity(other.ID, tenant.ID), handler.Activate)
	w, payload = doJSON(t, hijack, http.MethodPost, "/api/licenses/activate", gin.H{
		"license_key": license.Key,
		"ip":          "192.168.1.66",
	})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "LICENSE_ALREADY_ACTIVATED", payload.Error.Code)

	// Bound license shows up in the active listing
	w, payload = doJSON(t, r, http.MethodGet, "/api/licenses/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active []models.License
	dataAs(t, payload, &active)
	require.Len(t, active, 1)

	// Release clears the binding; releasing again is a no-op
	w, _ = doJSON(t, r, http.MethodPost, "/api/licenses/"+license.ID+"/release", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(t, r, http.MethodPost, "/api/licenses/"+license.ID+"/release", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, payload = doJSON(t, r, http.MethodGet, "/api/licenses/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	dataAs(t, payload, &active)
	require.Empty(t, active)
}

func TestLicenseAdminEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := newHandlerTestDB(t)
	tenant := seedHandlerTenant(t, db)
	admin := seedHandlerUser(t, db, tenant.ID, "admin@initech.test", "pw")
	svc := newLicenseTestService(t, db)
	handler := NewLicenseHandler(svc)

	r := gin.New()
	group := r.Group("/api/admin", asIdentity(admin.ID, tenant.ID))
	group.POST("/licenses", handler.AdminCreate)
	group.POST("/licenses/:id/suspend", handler.AdminSuspend)
	group.POST("/licenses/:id/activate", handler.AdminActivate)
	group.POST("/licenses/:id/revoke", handler.AdminRevoke)
	group.POST("/licenses/:id/grace", handler.AdminGrantGrace)

	w, payload := doJSON(t, r, http.MethodPost, "/api/admin/licenses", gin.H{"tenant_id": tenant.ID})
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.License
	dataAs(t, payload, &created)
	require.NotEmpty(t, created.Key)

	w, _ = doJSON(t, r, http.MethodPost, "/api/admin/licenses/"+created.ID+"/suspend", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var reloaded models.License
	require.NoError(t, db.Take(&reloaded, "id = ?", created.ID).Error)
	require.Equal(t, models.LicenseStatusSuspended, reloaded.Status)

	w, _ = doJSON(t, r, http.MethodPost, "/api/admin/licenses/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, payload = doJSON(t, r, http.MethodPost, "/api/admin/licenses/"+created.ID+"/grace", gin.H{"minutes": 30})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, payload.Success)

	require.NoError(t, db.Take(&reloaded, "id = ?", created.ID).Error)
	require.NotNil(t, reloaded.GraceUntil)

	// Revocation is terminal: reactivation is refused
	w, _ = doJSON(t, r, http.MethodPost, "/api/admin/licenses/"+created.ID+"/revoke", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, payload = doJSON(t, r, http.MethodPost, "/api/admin/licenses/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "LICENSE_NOT_ACTIVE", payload.Error.Code)
}
