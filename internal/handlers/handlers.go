package handlers

import (
	"errors"
	"net/http"
	"time"

	"codeguard/internal/analysis"
	"codeguard/internal/builder"
	"codeguard/internal/service"
	"codeguard/internal/session"
	"codeguard/internal/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AnalysisService is what the HTTP API needs from the service layer.
type AnalysisService interface {
	Start(req analysis.Request) (string, error)
	Status(id string) (service.Status, error)
	Cancel(id string) bool
	Result(id string) ([]types.VulnerabilityReport, error)
}

type StartRequest struct {
	SourceCode string   `json:"source_code"`
	Path       string   `json:"path" binding:"required"`
	Mode       string   `json:"mode"`
	Seeds      [][]byte `json:"seeds"`       // base64 in JSON
	FuzzBudget string   `json:"fuzz_budget"` // Go duration, e.g. "90s"
}

type Handler struct {
	svc    AnalysisService
	logger *zap.Logger
}

func NewHandler(svc AnalysisService, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.Named("http")}
}

// Register mounts the API on r.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.GET("/health", h.Health)
	v1.POST("/analysis", h.StartAnalysis)
	v1.GET("/analysis/:id", h.GetStatus)
	v1.DELETE("/analysis/:id", h.CancelAnalysis)
	v1.GET("/analysis/:id/result", h.GetResult)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) StartAnalysis(c *gin.Context) {
	var body StartRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode, err := analysis.ParseMode(body.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var budget time.Duration
	if body.FuzzBudget != "" {
		if budget, err = time.ParseDuration(body.FuzzBudget); err != nil || budget <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fuzz_budget"})
			return
		}
	}
	if body.SourceCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_code is required"})
		return
	}

	id, err := h.svc.Start(analysis.Request{
		SourceCode: []byte(body.SourceCode),
		Path:       body.Path,
		Mode:       mode,
		Seeds:      body.Seeds,
		FuzzBudget: budget,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, builder.ErrUnsupportedSource) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("analysis started", zap.String("session_id", id), zap.String("path", body.Path), zap.String("mode", string(mode)))
	c.JSON(http.StatusAccepted, gin.H{"session_id": id})
}

func (h *Handler) GetStatus(c *gin.Context) {
	st, err := h.svc.Status(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) CancelAnalysis(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.svc.Status(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": h.svc.Cancel(id)})
}

func (h *Handler) GetResult(c *gin.Context) {
	reports, err := h.svc.Result(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reports)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNotCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
