package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fraudguard/fraud-filter/pkg/filter"
)

// Invalidator drops artifact snapshots; the artifact cache implements it
type Invalidator interface {
	Invalidate(kind string) error
}

// Handler serves the validation HTTP surface
type Handler struct {
	filter         *filter.FraudFilter
	invalidator    Invalidator
	requestTimeout time.Duration
}

// SetupRouter wires all routes on a gin engine
func SetupRouter(f *filter.FraudFilter, invalidator Invalidator, requestTimeout time.Duration) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	handler := &Handler{
		filter:         f,
		invalidator:    invalidator,
		requestTimeout: requestTimeout,
	}

	r.POST("/validate", handler.handleValidate)
	r.GET("/healthz", handler.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/admin/cache/invalidate", handler.handleInvalidate)

	return r
}

// handleValidate evaluates one address. Malformed input is the only
// client-visible failure and returns 400; every other condition degrades
// inside the pipeline and still answers 200.
func (h *Handler) handleValidate(c *gin.Context) {
	var req filter.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	res := h.filter.Evaluate(ctx, req)

	c.Header("X-Fraud-Decision", res.Decision)
	c.Header("X-Fraud-Risk-Score", strconv.FormatFloat(res.RiskScore, 'f', 4, 64))
	if res.BlockReason != "" {
		c.Header("X-Fraud-Reason", res.BlockReason)
	}
	if res.Fingerprint != nil {
		c.Header("X-Fraud-Fingerprint", res.Fingerprint.Hash)
	}

	status := http.StatusOK
	if !res.Valid {
		status = http.StatusBadRequest
	}
	c.JSON(status, res)
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleInvalidate drops cached artifact snapshots by kind, or all of them
func (h *Handler) handleInvalidate(c *gin.Context) {
	var body struct {
		Kind string `json:"kind" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind is required"})
		return
	}

	if err := h.invalidator.Invalidate(body.Kind); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": body.Kind})
}
