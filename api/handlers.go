package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hedgegram/auth"
	"hedgegram/broker"
	"hedgegram/journal"
	"hedgegram/logs"
	"hedgegram/session"

	"github.com/gin-gonic/gin"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) start(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": string(s.ctrl.Start())})
}

func (s *Server) stop(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": string(s.ctrl.Stop(""))})
}

func (s *Server) status(c *gin.Context) {
	snap := s.ctrl.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"mode":            string(snap.Mode),
		"running":         snap.Running,
		"pnl":             snap.TotalPnL,
		"positions_count": len(snap.Positions),
		"last_error":      snap.LastError,
	})
}

func (s *Server) pnl(c *gin.Context) {
	snap := s.ctrl.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"pnl":       snap.TotalPnL,
		"positions": len(snap.Positions),
	})
}

func (s *Server) positions(c *gin.Context) {
	snap := s.ctrl.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"pnl":             snap.TotalPnL,
		"positions":       snap.Positions,
		"positions_count": len(snap.Positions),
	})
}

type modeRequest struct {
	Mode string `json:"mode"`
	PIN  string `json:"pin"`
}

func (s *Server) setMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch err := s.ctrl.SetMode(mode, req.PIN); {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": string(mode)})
	case errors.Is(err, session.ErrBadPIN):
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid pin"})
	case errors.Is(err, auth.ErrNoCredential), errors.Is(err, auth.ErrStaleCredential):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type totpRequest struct {
	TOTP string `json:"totp"`
}

func (s *Server) totp(c *gin.Context) {
	if s.login == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live login not configured"})
		return
	}
	var req totpRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	code := strings.TrimSpace(req.TOTP)
	if code == "" && !s.login.CanAutoGenerate() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'totp'"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	cred, err := s.login.Exchange(ctx, code)
	if err != nil {
		var upstream *broker.UpstreamError
		if errors.As(err, &upstream) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "login_failed", "body": upstream.Body})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "login_failed", "body": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sid_present": cred.SessionID != ""})
}

func (s *Server) liveAuth(c *gin.Context) {
	masked, ok := s.creds.Masked()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no live auth"})
		return
	}
	c.JSON(http.StatusOK, masked)
}

func (s *Server) loadLiveAuth(c *gin.Context) {
	_, ok, err := s.creds.Load()
	if err != nil || !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "live auth file not found or invalid"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "loaded"})
}

type panicRequest struct {
	Confirm bool `json:"confirm"`
}

// panic is the operator's emergency stop: cancel outstanding orders at the
// brokerage (live mode, best-effort) and force the session down.
func (s *Server) panic(c *gin.Context) {
	var req panicRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Confirm {
		c.JSON(http.StatusBadRequest, gin.H{"error": "panic requires {\"confirm\": true}"})
		return
	}

	if s.ctrl.Mode() == session.ModeLive && s.live != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		if err := s.live.CancelAllOrders(ctx); err != nil {
			logs.Errorf("[API] Panic cancel-all failed (continuing with stop): %v", err)
		}
		cancel()
	}

	s.ctrl.Stop("panic")
	s.notifier.Notify("panic executed: trading halted")
	if s.journal != nil {
		if err := s.journal.Record(journal.KindPanic, "operator panic"); err != nil {
			logs.Warnf("[API] Journal write failed: %v", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "panic_executed"})
}

func (s *Server) events(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := s.journal.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
