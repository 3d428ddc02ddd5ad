package evaluate

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	v1 "github.com/pivotcache-lab/pivotcache/internal/api/v1"
	httperr "github.com/pivotcache-lab/pivotcache/internal/core/errors"
	"github.com/pivotcache-lab/pivotcache/internal/core/storage"
)

func newTestRouter(t *testing.T, svc *Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc.RegisterRoutes(r)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestHandleEvaluate_Hit(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Upsert(context.Background(), storage.Entry{Key: "SALESTOTAL|WEST", Value: "42"}))
	r := newTestRouter(t, newTestService(t, store, nil, false))

	resp := postJSON(t, r, "/v1/evaluate", v1.EvaluateRequest{Function: "SALESTOTAL", Values: []string{"west"}})
	require.Equal(t, http.StatusOK, resp.Code)

	var result v1.EvaluateResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, v1.StatusHit, result.Status)
	require.Equal(t, "42", result.Display)
}

func TestHandleEvaluate_Miss(t *testing.T) {
	r := newTestRouter(t, newTestService(t, storage.NewMemoryStore(), nil, false))

	resp := postJSON(t, r, "/v1/evaluate", v1.EvaluateRequest{Function: "SALESTOTAL", Values: []string{"west"}})
	require.Equal(t, http.StatusOK, resp.Code)

	var result v1.EvaluateResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, v1.StatusMiss, result.Status)
	require.Equal(t, v1.NeedsRefreshMarker, result.Display)
	require.Nil(t, result.Value)
}

func TestHandleEvaluate_UnknownFunction(t *testing.T) {
	r := newTestRouter(t, newTestService(t, storage.NewMemoryStore(), nil, false))

	resp := postJSON(t, r, "/v1/evaluate", v1.EvaluateRequest{Function: "NOPE"})
	require.Equal(t, http.StatusNotFound, resp.Code)

	var result httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, httperr.HttpUnknownFunctionError, result.ErrorType)
}

func TestHandleEvaluate_TooManyArguments(t *testing.T) {
	r := newTestRouter(t, newTestService(t, storage.NewMemoryStore(), nil, false))

	resp := postJSON(t, r, "/v1/evaluate", v1.EvaluateRequest{
		Function: "SALESTOTAL",
		Values:   []string{"a", "b", "c"},
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	var result httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, httperr.HttpInvalidArgumentsError, result.ErrorType)
}

func TestHandleEvaluate_InvalidJSON(t *testing.T) {
	r := newTestRouter(t, newTestService(t, storage.NewMemoryStore(), nil, false))

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleEvaluate_MissingFunction(t *testing.T) {
	r := newTestRouter(t, newTestService(t, storage.NewMemoryStore(), nil, false))

	resp := postJSON(t, r, "/v1/evaluate", v1.EvaluateRequest{Function: "  "})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleRefresh_InvalidScope(t *testing.T) {
	r := newTestRouter(t, newTestService(t, storage.NewMemoryStore(), nil, false))

	resp := postJSON(t, r, "/v1/refresh", v1.RefreshRequest{Scope: "galaxy:andromeda"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleRefresh_UnavailableWithoutWorkbook(t *testing.T) {
	r := newTestRouter(t, newTestService(t, storage.NewMemoryStore(), nil, false))

	resp := postJSON(t, r, "/v1/refresh", v1.RefreshRequest{Scope: "workbook"})
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)

	var result httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, httperr.HttpRefreshFailedError, result.ErrorType)
}

func TestHandleClearCache(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Upsert(context.Background(), storage.Entry{Key: "SALESTOTAL|WEST", Value: "42"}))
	r := newTestRouter(t, newTestService(t, store, nil, false))

	req := httptest.NewRequest(http.MethodDelete, "/v1/cache", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, 0, store.Len())
}

func TestHandleListFunctions(t *testing.T) {
	r := newTestRouter(t, newTestService(t, storage.NewMemoryStore(), nil, false))

	req := httptest.NewRequest(http.MethodGet, "/v1/functions", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var result struct {
		Functions []struct {
			Name string `json:"Name"`
		} `json:"functions"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Len(t, result.Functions, 1)
	require.Equal(t, "SALESTOTAL", result.Functions[0].Name)
}
