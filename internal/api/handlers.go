package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"signal-engine/internal/alerts"
	"signal-engine/internal/decision"
	"signal-engine/internal/detection"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds":   int64(time.Since(s.startedAt).Seconds()),
		"scanner":          s.deps.Scanner.Status(),
		"detections":       s.deps.Detections.Summarize(),
		"active_cooldowns": s.deps.Cooldown.Active(),
		"ws_subscribers":   s.deps.Bus.SubscriberCount(),
	})
}

func (s *Server) handleStrategies(c *gin.Context) {
	all := s.deps.Registry.All()
	metas := make([]any, 0, len(all))
	for _, st := range all {
		metas = append(metas, st.Meta())
	}
	c.JSON(http.StatusOK, gin.H{"strategies": metas})
}

func (s *Server) handleScannerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Scanner.Status())
}

func (s *Server) handleScanNow(c *gin.Context) {
	if !s.deps.Scanner.TriggerScan() {
		c.JSON(http.StatusConflict, gin.H{"error": "scanner is not running"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scan requested"})
}

func (s *Server) handleDetections(c *gin.Context) {
	f := detection.Filter{
		Symbol:     c.Query("symbol"),
		StrategyID: c.Query("strategy"),
		Status:     detection.Status(c.Query("status")),
		MinGrade:   decision.Grade(c.Query("min_grade")),
		Limit:      queryInt(c, "limit", 50),
		Offset:     queryInt(c, "offset", 0),
	}
	results := s.deps.Detections.Query(f)
	c.JSON(http.StatusOK, gin.H{"detections": results, "count": len(results)})
}

func (s *Server) handleDetectionSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Detections.Summarize())
}

func (s *Server) handleDetection(c *gin.Context) {
	d, ok := s.deps.Detections.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "detection not found"})
		return
	}
	c.JSON(http.StatusOK, d)
}

type transitionRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) handleExecute(c *gin.Context) {
	s.handleTransition(c, s.deps.Detections.Execute)
}

func (s *Server) handleDismiss(c *gin.Context) {
	s.handleTransition(c, s.deps.Detections.Dismiss)
}

func (s *Server) handleTransition(c *gin.Context, fn func(ctx context.Context, id, notes string) error) {
	var req transitionRequest
	_ = c.ShouldBindJSON(&req)

	err := fn(c.Request.Context(), c.Param("id"), req.Notes)
	switch {
	case errors.Is(err, detection.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "detection not found"})
	case errors.Is(err, detection.ErrTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "detection already terminal"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		d, _ := s.deps.Detections.Get(c.Param("id"))
		c.JSON(http.StatusOK, d)
	}
}

func (s *Server) handleRecentSignals(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusOK, gin.H{"signals": []decision.Decision{}})
		return
	}
	signals, err := s.deps.History.RecentSignals(c.Request.Context(), queryInt(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

func (s *Server) handleRecentAlerts(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusOK, gin.H{"alerts": []alerts.Alert{}})
		return
	}
	recent, err := s.deps.History.RecentAlerts(c.Request.Context(), queryInt(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": recent, "count": len(recent)})
}

func (s *Server) handleUpgrades(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"upgrades": s.deps.Tracker.Recent()})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cache":   s.deps.Cache.GetStats(),
		"limiter": s.deps.Limiter.GetStats(),
	})
}

func (s *Server) handleCircuits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"circuits": s.deps.Breakers.AllStats()})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
