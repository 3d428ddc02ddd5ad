package evaluate

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/pivotcache-lab/pivotcache/internal/api/v1"
	httperr "github.com/pivotcache-lab/pivotcache/internal/core/errors"
	"github.com/pivotcache-lab/pivotcache/internal/refresh"
)

// RegisterRoutes registers the evaluation API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/evaluate", s.HandleEvaluate)
	r.POST("/v1/refresh", s.HandleRefresh)
	r.DELETE("/v1/cache", s.HandleClearCache)
	r.GET("/v1/functions", s.HandleListFunctions)
}

// HandleEvaluate handles POST /v1/evaluate
func (s *Service) HandleEvaluate(c *gin.Context) {
	var req v1.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid request body",
			Details:   err.Error(),
		})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid evaluate request",
			Details:   err.Error(),
		})
		return
	}

	resp, err := s.Evaluate(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownFunction):
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpUnknownFunctionError,
				Message:   "Unknown function",
				Details:   err.Error(),
			})
		case errors.Is(err, ErrInvalidArguments):
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidArgumentsError,
				Message:   "Invalid arguments",
				Details:   err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
				ErrorType: httperr.HttpInternalError,
				Message:   "Failed to evaluate function",
				Details:   err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleRefresh handles POST /v1/refresh
func (s *Service) HandleRefresh(c *gin.Context) {
	var req v1.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid request body",
			Details:   err.Error(),
		})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid refresh request",
			Details:   err.Error(),
		})
		return
	}

	report, err := s.Refresh(c.Request.Context(), req.Scope, req.Force)
	if err != nil {
		if errors.Is(err, refresh.ErrBusy) {
			c.JSON(http.StatusConflict, httperr.ErrorResponse{
				ErrorType: httperr.HttpRefreshBusyError,
				Message:   "A refresh cycle is already running",
			})
			return
		}
		c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
			ErrorType: httperr.HttpRefreshFailedError,
			Message:   "Refresh failed",
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, v1.RefreshResponse{
		CycleID:       report.CycleID,
		Scope:         report.Scope,
		Collected:     report.Collected,
		SkippedCells:  report.SkippedCells,
		Pools:         report.Pools,
		Orphans:       report.Orphans,
		Batches:       report.Batches,
		FailedBatches: report.FailedBatches,
		RowsStored:    report.RowsStored,
		Errors:        report.Errors,
	})
}

// HandleClearCache handles DELETE /v1/cache
func (s *Service) HandleClearCache(c *gin.Context) {
	if err := s.ClearCache(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to clear cache",
			Details:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// HandleListFunctions handles GET /v1/functions
func (s *Service) HandleListFunctions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"functions": s.Functions()})
}
