package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/finbase/revrec/internal/auth"
	"github.com/finbase/revrec/internal/middleware"
)

func newAuthTestHandler(t *testing.T) (*AuthHandler, *iauth.JWTService, *gin.Engine, string) {
	t.Helper()

	db := newHandlerTestDB(t)
	tenant := seedHandlerTenant(t, db)
	user := seedHandlerUser(t, db, tenant.ID, "dana@initech.test", "correct-horse")

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "handler-test-secret",
		Issuer:         "revrec",
		AccessTokenTTL: time.Minute,
	})
	require.NoError(t, err)

	sessions, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{RefreshTokenTTL: time.Hour})
	require.NoError(t, err)

	handler := NewAuthHandler(db, sessions, nil)

	r := gin.New()
	r.POST("/api/auth/login", handler.Login)
	r.POST("/api/auth/refresh", handler.Refresh)
	r.POST("/api/auth/logout", middleware.Auth(jwtSvc), handler.Logout)
	r.GET("/api/auth/me", middleware.Auth(jwtSvc), handler.Me)

	return handler, jwtSvc, r, user.ID
}

func TestAuthLoginFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)

	_, _, r, userID := newAuthTestHandler(t)

	// Wrong password -> 401
	w, payload := doJSON(t, r, http.MethodPost, "/api/auth/login", gin.H{
		"email":    "dana@initech.test",
		"password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "INVALID_CREDENTIALS", payload.Error.Code)

	// Unknown user -> same 401, no user enumeration
	w, payload = doJSON(t, r, http.MethodPost, "/api/auth/login", gin.H{
		"email":    "ghost@initech.test",
		"password": "whatever",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "INVALID_CREDENTIALS", payload.Error.Code)

	// Valid credentials -> tokens plus user payload
	w, payload = doJSON(t, r, http.MethodPost, "/api/auth/login", gin.H{
		"email":    "dana@initech.test",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, payload.Success)

	var loginData struct {
		Tokens tokenResponse `json:"tokens"`
		User   struct {
			ID       string `json:"id"`
			TenantID string `json:"tenant_id"`
		} `json:"user"`
	}
	dataAs(t, payload, &loginData)
	require.NotEmpty(t, loginData.Tokens.AccessToken)
	require.NotEmpty(t, loginData.Tokens.RefreshToken)
	require.Equal(t, userID, loginData.User.ID)

	// Refresh rotates the pair
	w, payload = doJSON(t, r, http.MethodPost, "/api/auth/refresh", gin.H{
		"refresh_token": loginData.Tokens.RefreshToken,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var rotated tokenResponse
	dataAs(t, payload, &rotated)
	require.NotEmpty(t, rotated.AccessToken)
	require.NotEqual(t, loginData.Tokens.RefreshToken, rotated.RefreshToken)

	// The consumed refresh token no longer works
	w, _ = doJSON(t, r, http.MethodPost, "/api/auth/refresh", gin.H{
		"refresh_token": loginData.Tokens.RefreshToken,
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMeAndLogout(t *testing.T) {
	gin.SetMode(gin.TestMode)

	_, _, r, userID := newAuthTestHandler(t)

	w, payload := doJSON(t, r, http.MethodPost, "/api/auth/login", gin.H{
		"email":    "dana@initech.test",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var loginData struct {
		Tokens tokenResponse `json:"tokens"`
	}
	dataAs(t, payload, &loginData)

	req := newAuthedRequest(t, http.MethodGet, "/api/auth/me", nil, loginData.Tokens.AccessToken)
	w2 := serve(r, req)
	require.Equal(t, http.StatusOK, w2.Code)

	var me struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	decodeData(t, w2, &me)
	require.Equal(t, userID, me.ID)
	require.Equal(t, "dana@initech.test", me.Email)

	// Logout revokes the session; the refresh token dies with it
	req = newAuthedRequest(t, http.MethodPost, "/api/auth/logout", nil, loginData.Tokens.AccessToken)
	w2 = serve(r, req)
	require.Equal(t, http.StatusOK, w2.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/api/auth/refresh", gin.H{
		"refresh_token": loginData.Tokens.RefreshToken,
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
