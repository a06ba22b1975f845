package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/finbase/revrec/internal/database"
	"github.com/finbase/revrec/internal/middleware"
	"github.com/finbase/revrec/internal/models"
	"github.com/finbase/revrec/internal/services"
	"github.com/finbase/revrec/pkg/response"
)

func newHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		sqlDB, dbErr := db.DB()
		require.NoError(t, dbErr)
		require.NoError(t, sqlDB.Close())
	})

	return db
}

func seedHandlerTenant(t *testing.T, db *gorm.DB) *models.Tenant {
	t.Helper()
	tenant := models.Tenant{Name: "Initech-" + t.Name(), Slug: "initech-" + t.Name()}
	require.NoError(t, db.Create(&tenant).Error)
	return &tenant
}

func seedHandlerUser(t *testing.T, db *gorm.DB, tenantID, email, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := models.User{
		TenantID: tenantID,
		Email:    email,
		Password: string(hash),
		IsActive: true,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func newLicenseTestService(t *testing.T, db *gorm.DB) *services.LicenseService {
	t.Helper()
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)
	svc, err := services.NewLicenseService(db, audit)
	require.NoError(t, err)
	return svc
}

// doJSON performs a request against the router and decodes the envelope.
func doJSON(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var payload response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	return w, payload
}

// asIdentity injects an authenticated identity the way the auth middleware would.
func asIdentity(userID, tenantID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.CtxUserIDKey, userID)
		if tenantID != "" {
			c.Set(middleware.CtxTenantIDKey, tenantID)
		}
	}
}

func dataAs[T any](t *testing.T, payload response.Response, dest *T) {
	t.Helper()
	raw, err := json.Marshal(payload.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dest))
}

func newAuthedRequest(t *testing.T, method, path string, body any, token string) *http.Request {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder, dest *T) {
	t.Helper()
	var payload response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	dataAs(t, payload, dest)
}
