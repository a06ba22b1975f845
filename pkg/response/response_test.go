package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/finbase/revrec/pkg/errors"
)

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, recorder
}

func TestSuccessEnvelope(t *testing.T) {
	c, recorder := newTestContext(t)

	Success(c, http.StatusOK, map[string]string{"status": "ok"})

	require.Equal(t, http.StatusOK, recorder.Code)

	var payload Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.True(t, payload.Success)
	require.Nil(t, payload.Error)
}

func TestErrorEnvelope(t *testing.T) {
	c, recorder := newTestContext(t)

	Error(c, appErrors.ErrNotFound)

	require.Equal(t, http.StatusNotFound, recorder.Code)

	var payload Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.False(t, payload.Success)
	require.Equal(t, appErrors.ErrNotFound.Code, payload.Error.Code)
}

func TestErrorWithDetailsCarriesFields(t *testing.T) {
	c, recorder := newTestContext(t)

	ErrorWithDetails(c, appErrors.NewConflict("license.in_use", "License in use elsewhere"), map[string]any{
		"current_ip": "1.2.3.4",
	})

	require.Equal(t, http.StatusForbidden, recorder.Code)

	var payload Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.Equal(t, "1.2.3.4", payload.Error.Details["current_ip"])
}

func TestNilErrorDefaultsToInternal(t *testing.T) {
	c, recorder := newTestContext(t)

	Error(c, nil)

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
}
