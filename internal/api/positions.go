package api

import (
	"net/http"
	"strings"
)

type PositionRequest struct {
	SignalID   string                 `json:"signal_id"`
	SignalData map[string]interface{} `json:"signal_data,omitempty"`
}

type PositionClosedRequest struct {
	PositionID string `json:"position_id"`
}

func (s *Server) handlePositionLimit(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.sendSuccess(w, s.reg.Positions.CheckCanOpen())
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	status, err := s.reg.Positions.QueueStatus(r.Context())
	if err != nil {
		s.sendDomainError(w, "Failed to get queue", err)
		return
	}
	s.sendSuccess(w, status)
}

// handleCancelQueued - DELETE /positions/queue/{signal_id}
func (s *Server) handleCancelQueued(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodDelete) {
		return
	}

	signalID := strings.TrimPrefix(r.URL.Path, "/positions/queue/")
	if signalID == "" || strings.Contains(signalID, "/") {
		s.sendError(w, "signal_id is required", http.StatusBadRequest)
		return
	}

	cancelled, err := s.reg.Positions.CancelQueuedSignal(r.Context(), signalID)
	if err != nil {
		s.sendDomainError(w, "Failed to cancel queued signal", err)
		return
	}
	if !cancelled {
		s.sendError(w, "Signal not found in queue", http.StatusNotFound)
		return
	}
	s.sendSuccess(w, map[string]interface{}{
		"signal_id": signalID,
		"cancelled": true,
	})
}

func (s *Server) handlePositionRequest(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	var req PositionRequest
	if !s.decode(w, r, &req) {
		return
	}
	decision, err := s.reg.Positions.RequestPosition(r.Context(), req.SignalID, req.SignalData)
	if err != nil {
		s.sendDomainError(w, "Position request failed", err)
		return
	}
	s.sendSuccess(w, decision)
}

func (s *Server) handlePositionClosed(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	var req PositionClosedRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.PositionID == "" {
		s.sendError(w, "position_id is required", http.StatusBadRequest)
		return
	}

	dequeued, err := s.reg.Positions.OnPositionClosed(r.Context(), req.PositionID)
	if err != nil {
		s.sendDomainError(w, "Failed to release position slot", err)
		return
	}
	s.sendSuccess(w, map[string]interface{}{
		"position_id":     req.PositionID,
		"dequeued_signal": dequeued,
		"limit":           s.reg.Positions.CheckCanOpen(),
	})
}

func (s *Server) handlePositionConfig(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if r.Method == http.MethodGet {
		s.sendSuccess(w, s.reg.Positions.Config())
		return
	}

	cfg := s.reg.Positions.Config()
	if !s.decode(w, r, &cfg) {
		return
	}
	if err := s.reg.Positions.UpdateConfig(r.Context(), cfg); err != nil {
		s.sendDomainError(w, "Failed to update position limit config", err)
		return
	}
	s.sendSuccess(w, s.reg.Positions.Config())
}
