package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docuflow/ingest-backend/pkg/coordinator"
	errorsx "github.com/docuflow/ingest-backend/pkg/errors"
	"github.com/docuflow/ingest-backend/pkg/metrics"
	"github.com/docuflow/ingest-backend/pkg/repository"
)

// CoordinatorHandler exposes the coordination operations over HTTP. It does
// no coordination logic itself; everything routes to the Coordinator.
type CoordinatorHandler struct {
	coord *coordinator.Coordinator
}

func NewCoordinatorHandler(coord *coordinator.Coordinator) *CoordinatorHandler {
	return &CoordinatorHandler{coord: coord}
}

// SetupRoutes mounts the coordination surface on the engine.
func SetupRoutes(r *gin.Engine, h *CoordinatorHandler) {
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.DefaultRegistry, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	{
		v1.POST("/locks/acquire", h.AcquireLock)
		v1.POST("/locks/release", h.ReleaseLock)
		v1.GET("/locks/:documentID", h.CheckLock)
		v1.POST("/state", h.UpdateState)
		v1.GET("/state/:documentID", h.GetState)
		v1.POST("/deduplicate", h.Deduplicate)
		v1.POST("/cleanup", h.Cleanup)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *CoordinatorHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type acquireLockRequest struct {
	DocumentID string `json:"document_id" binding:"required"`
	LockType   string `json:"lock_type" binding:"required"`
	TTLSeconds int    `json:"ttl_seconds"`
	WorkerID   string `json:"worker_id" binding:"required"`
}

func (h *CoordinatorHandler) AcquireLock(c *gin.Context) {
	var req acquireLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	grant, err := h.coord.AcquireLock(c.Request.Context(), req.DocumentID,
		repository.LockType(req.LockType), time.Duration(req.TTLSeconds)*time.Second, req.WorkerID)
	if err != nil {
		var conflict *coordinator.ConflictError
		if errors.As(err, &conflict) {
			c.JSON(http.StatusConflict, gin.H{
				"error":  err.Error(),
				"holder": conflict.Holder,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, grant)
}

type releaseLockRequest struct {
	DocumentID string `json:"document_id" binding:"required"`
	LockID     string `json:"lock_id" binding:"required"`
	WorkerID   string `json:"worker_id" binding:"required"`
}

func (h *CoordinatorHandler) ReleaseLock(c *gin.Context) {
	var req releaseLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	err := h.coord.ReleaseLock(c.Request.Context(), req.DocumentID, req.LockID, req.WorkerID)
	switch {
	case errors.Is(err, errorsx.ErrLockNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, errorsx.ErrLockNotOwned):
		c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"released": true})
	}
}

func (h *CoordinatorHandler) CheckLock(c *gin.Context) {
	lock, err := h.coord.CheckLock(c.Request.Context(), c.Param("documentID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if lock == nil {
		c.JSON(http.StatusOK, gin.H{"locked": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"locked": true, "lock": lock})
}

func (h *CoordinatorHandler) UpdateState(c *gin.Context) {
	var update coordinator.StateUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if update.DocumentID == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "document_id is required"})
		return
	}

	state, err := h.coord.UpdateState(c.Request.Context(), update)
	if err != nil {
		if errors.Is(err, errorsx.ErrStateTerminal) {
			c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *CoordinatorHandler) GetState(c *gin.Context) {
	state, err := h.coord.GetState(c.Request.Context(), c.Param("documentID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if state == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "no processing state"})
		return
	}
	c.JSON(http.StatusOK, state)
}

type deduplicateRequest struct {
	DocumentID  string `json:"document_id" binding:"required"`
	ContentHash string `json:"content_hash" binding:"required"`
}

func (h *CoordinatorHandler) Deduplicate(c *gin.Context) {
	var req deduplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := h.coord.Deduplicate(c.Request.Context(), req.DocumentID, req.ContentHash)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *CoordinatorHandler) Cleanup(c *gin.Context) {
	result, err := h.coord.Cleanup(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
