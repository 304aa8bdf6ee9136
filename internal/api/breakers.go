package api

import (
	"net/http"

	"github.com/kirillm/riskgate/internal/domain"
)

type DrawdownCheckRequest struct {
	CurrentCapital *float64 `json:"current_capital"`
}

type DrawdownResetRequest struct {
	OperatorID string   `json:"operator_id"`
	NewPeak    *float64 `json:"new_peak,omitempty"`
}

type WinRateResetRequest struct {
	OperatorID   string `json:"operator_id"`
	ClearHistory bool   `json:"clear_history"`
}

// ==================== Capital drawdown ====================

func (s *Server) handleDrawdownStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.sendSuccess(w, s.reg.Drawdown.Status())
}

func (s *Server) handleDrawdownCheck(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	var req DrawdownCheckRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.CurrentCapital == nil {
		s.sendError(w, "current_capital is required", http.StatusBadRequest)
		return
	}

	result, err := s.reg.Drawdown.CheckDrawdown(r.Context(), *req.CurrentCapital)
	if err != nil {
		s.sendDomainError(w, "Drawdown check failed", err)
		return
	}
	s.syncAndRespond(w, r, result)
}

func (s *Server) handleDrawdownReset(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	var req DrawdownResetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.reg.Drawdown.Reset(r.Context(), req.OperatorID, req.NewPeak); err != nil {
		s.sendDomainError(w, "Drawdown reset failed", err)
		return
	}
	s.syncAndRespond(w, r, s.reg.Drawdown.Status())
}

func (s *Server) handleDrawdownConfig(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if r.Method == http.MethodGet {
		s.sendSuccess(w, s.reg.Drawdown.Config())
		return
	}

	// Незаданные поля сохраняют текущие значения
	cfg := s.reg.Drawdown.Config()
	if !s.decode(w, r, &cfg) {
		return
	}
	if err := s.reg.Drawdown.UpdateConfig(r.Context(), cfg); err != nil {
		s.sendDomainError(w, "Failed to update drawdown config", err)
		return
	}
	s.sendSuccess(w, s.reg.Drawdown.Config())
}

// ==================== Rolling win rate ====================

func (s *Server) handleWinRateStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.sendSuccess(w, s.reg.WinRate.Status())
}

func (s *Server) handleWinRateAnalysis(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.sendSuccess(w, s.reg.WinRate.AnalyzeRecentTrades())
}

// handleWinRateTrade записывает закрытую сделку в win rate и throttle
func (s *Server) handleWinRateTrade(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	var outcome domain.TradeOutcome
	if !s.decode(w, r, &outcome) {
		return
	}
	if err := s.gate.RecordTrade(r.Context(), outcome); err != nil {
		s.sendDomainError(w, "Failed to record trade", err)
		return
	}
	s.sendSuccess(w, s.reg.WinRate.Snapshot())
}

func (s *Server) handleWinRateCheck(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	result, err := s.reg.WinRate.CheckWinRate(r.Context())
	if err != nil {
		s.sendDomainError(w, "Win rate check failed", err)
		return
	}
	s.syncAndRespond(w, r, result)
}

func (s *Server) handleWinRateReset(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	var req WinRateResetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.reg.WinRate.Reset(r.Context(), req.OperatorID, req.ClearHistory); err != nil {
		s.sendDomainError(w, "Win rate reset failed", err)
		return
	}
	s.syncAndRespond(w, r, s.reg.WinRate.Status())
}

func (s *Server) handleWinRateConfig(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if r.Method == http.MethodGet {
		s.sendSuccess(w, s.reg.WinRate.Config())
		return
	}

	cfg := s.reg.WinRate.Config()
	if !s.decode(w, r, &cfg) {
		return
	}
	if err := s.reg.WinRate.UpdateConfig(r.Context(), cfg); err != nil {
		s.sendDomainError(w, "Failed to update win rate config", err)
		return
	}
	s.sendSuccess(w, s.reg.WinRate.Config())
}

// ==================== Consecutive loss throttle ====================

func (s *Server) handleThrottleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.sendSuccess(w, s.reg.Throttle.Status())
}

func (s *Server) handleThrottleReset(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	var req OperatorRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.reg.Throttle.ManualReset(r.Context(), req.OperatorID); err != nil {
		s.sendDomainError(w, "Throttle reset failed", err)
		return
	}
	s.sendSuccess(w, s.reg.Throttle.Status())
}

func (s *Server) handleThrottleConfig(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if r.Method == http.MethodGet {
		s.sendSuccess(w, s.reg.Throttle.Config())
		return
	}

	cfg := s.reg.Throttle.Config()
	if !s.decode(w, r, &cfg) {
		return
	}
	if err := s.reg.Throttle.UpdateConfig(r.Context(), cfg); err != nil {
		s.sendDomainError(w, "Failed to update throttle config", err)
		return
	}
	s.sendSuccess(w, s.reg.Throttle.Config())
}
