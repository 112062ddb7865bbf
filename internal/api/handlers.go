package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/koshedutech/candlewatch/internal/auth"
)

// minJustificationLength is the shortest justification string a
// dashboard-triggered manual close action accepts, matching the
// mobile client's own input validation.
const minJustificationLength = 10

var errJustificationTooShort = errors.New("justification must be at least 10 characters")

func errorResponse(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func paginationParams(c *gin.Context) (limit, offset int) {
	limit = 50
	offset = 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func (s *Server) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	resp, err := s.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		errorResponse(c, http.StatusUnauthorized, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetPortfolioSummary(c *gin.Context) {
	summary, err := s.engine.PortfolioSummary(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleGetPositions(c *gin.Context) {
	positions, err := s.db.OpenPositions(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) handleGetClosedTrades(c *gin.Context) {
	limit, offset := paginationParams(c)
	positions, err := s.db.ClosedPositions(c.Request.Context(), limit, offset)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) handleGetSignals(c *gin.Context) {
	limit, offset := paginationParams(c)
	signals, err := s.db.RecentSignals(c.Request.Context(), limit, offset)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, signals)
}

func (s *Server) handleGetDecisions(c *gin.Context) {
	limit, offset := paginationParams(c)
	decisions, err := s.db.RecentDecisions(c.Request.Context(), limit, offset)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, decisions)
}

func (s *Server) handleGetEvents(c *gin.Context) {
	limit, _ := paginationParams(c)
	events, err := s.db.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) handleMarkEventsPosted(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	if err := s.db.MarkEventsPosted(c.Request.Context(), req.IDs); err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": len(req.IDs)})
}

func (s *Server) handleGetEventStats(c *gin.Context) {
	stats, err := s.db.EventStats(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGetExitScannerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.ExitScannerStatus())
}

func (s *Server) handlePauseTrading(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	s.engine.Pause(req.Reason)
	c.JSON(http.StatusOK, gin.H{"paused": true, "reason": req.Reason})
}

func (s *Server) handleResumeTrading(c *gin.Context) {
	s.engine.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

type closePositionRequest struct {
	Justification string `json:"justification" binding:"required"`
}

func (s *Server) handleClosePosition(c *gin.Context) {
	symbol := c.Param("symbol")
	var req closePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Justification) < minJustificationLength {
		errorResponse(c, http.StatusBadRequest, errJustificationTooShort)
		return
	}
	outcome, err := s.engine.ClosePosition(c.Request.Context(), symbol, req.Justification)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// handleCloseAllPositions is the dashboard's "panic button" — it closes
// every open position with the same justification and reports a per-symbol
// outcome so a partial failure doesn't hide the positions that did close.
func (s *Server) handleCloseAllPositions(c *gin.Context) {
	var req closePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Justification) < minJustificationLength {
		errorResponse(c, http.StatusBadRequest, errJustificationTooShort)
		return
	}

	positions, err := s.db.OpenPositions(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}

	results := make(map[string]interface{}, len(positions))
	for _, pos := range positions {
		outcome, err := s.engine.ClosePosition(c.Request.Context(), pos.Symbol, req.Justification)
		if err != nil {
			results[pos.Symbol] = gin.H{"error": err.Error()}
			continue
		}
		results[pos.Symbol] = outcome
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleAnalyzePosition(c *gin.Context) {
	symbol := c.Param("symbol")
	decision, err := s.engine.AnalyzePosition(c.Request.Context(), symbol)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// handleUpdateSettings only adjusts the Engine's own cycle-accounting
// capital figures (see orchestrator.Engine.UpdateCapitalSettings) — it does
// not resize the Executor's or risk Supervisor's position-sizing caps,
// which are fixed at process startup.
func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req struct {
		TotalCapitalUSD        float64 `json:"total_capital_usd"`
		MaxConcurrentPositions int     `json:"max_concurrent_positions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	s.engine.UpdateCapitalSettings(req.TotalCapitalUSD, req.MaxConcurrentPositions)
	c.JSON(http.StatusOK, gin.H{"updated": true})
}
