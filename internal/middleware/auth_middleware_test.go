package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/finbase/revrec/internal/auth"
	"github.com/finbase/revrec/internal/database"
	"github.com/finbase/revrec/internal/models"
)

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "secret",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Minute,
	})
	require.NoError(t, err)

	token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{
		UserID:    "user-123",
		TenantID:  "tenant-xyz",
		SessionID: "session-abc",
	})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/secure", Auth(jwtSvc), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":    c.GetString(CtxUserIDKey),
			"tenant_id":  c.GetString(CtxTenantIDKey),
			"session_id": c.GetString(CtxSessionIDKey),
		})
	})

	// Missing Authorization header -> 401
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Garbage token -> 401 with a challenge header
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	// Valid token -> downstream handler executes with identity set
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, "user-123", payload["user_id"])
	require.Equal(t, "tenant-xyz", payload["tenant_id"])
	require.Equal(t, "session-abc", payload["session_id"])
}

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		sqlDB, dbErr := db.DB()
		require.NoError(t, dbErr)
		require.NoError(t, sqlDB.Close())
	})

	tenant := models.Tenant{Name: "Acme", Slug: "acme"}
	require.NoError(t, db.Create(&tenant).Error)

	admin := models.User{TenantID: tenant.ID, Email: "admin@acme.test", Password: "x", IsAdmin: true, IsActive: true}
	member := models.User{TenantID: tenant.ID, Email: "member@acme.test", Password: "x", IsActive: true}
	require.NoError(t, db.Create(&admin).Error)
	require.NoError(t, db.Create(&member).Error)

	asUser := func(id string) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Set(CtxUserIDKey, id)
		}
	}

	run := func(id string) int {
		r := gin.New()
		r.GET("/admin", asUser(id), RequireAdmin(db), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		r.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusOK, run(admin.ID))
	require.Equal(t, http.StatusForbidden, run(member.ID))
	require.Equal(t, http.StatusForbidden, run("no-such-user"))

	// Demotion takes effect on the next request, not on token expiry.
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", admin.ID).Update("is_admin", false).Error)
	require.Equal(t, http.StatusForbidden, run(admin.ID))

	// Missing identity (Auth not run) -> 401
	r := gin.New()
	r.GET("/admin", RequireAdmin(db), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
