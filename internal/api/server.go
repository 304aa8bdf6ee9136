package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/gate"
	"github.com/kirillm/riskgate/internal/monitoring"
	"github.com/kirillm/riskgate/pkg/utils"
)

type Server struct {
	logger *utils.Logger
	gate   *gate.Gate
	reg    *gate.Registry
	port   int
	server *http.Server
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type OperatorRequest struct {
	OperatorID string `json:"operator_id"`
	Reason     string `json:"reason,omitempty"`
}

func NewServer(logger *utils.Logger, g *gate.Gate, port int) *Server {
	s := &Server{
		logger: logger.Named("api"),
		gate:   g,
		reg:    g.Registry(),
		port:   port,
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler собирает маршруты
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", monitoring.NewMetricsHandler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/system/halt", s.handleHalt)
	mux.HandleFunc("/system/resume", s.handleResume)

	// Capital drawdown
	mux.HandleFunc("/breakers/drawdown", s.handleDrawdownStatus)
	mux.HandleFunc("/breakers/drawdown/check", s.handleDrawdownCheck)
	mux.HandleFunc("/breakers/drawdown/reset", s.handleDrawdownReset)
	mux.HandleFunc("/breakers/drawdown/config", s.handleDrawdownConfig)

	// Rolling win rate
	mux.HandleFunc("/breakers/winrate", s.handleWinRateStatus)
	mux.HandleFunc("/breakers/winrate/analysis", s.handleWinRateAnalysis)
	mux.HandleFunc("/breakers/winrate/trades", s.handleWinRateTrade)
	mux.HandleFunc("/breakers/winrate/check", s.handleWinRateCheck)
	mux.HandleFunc("/breakers/winrate/reset", s.handleWinRateReset)
	mux.HandleFunc("/breakers/winrate/config", s.handleWinRateConfig)

	// Consecutive loss throttle
	mux.HandleFunc("/breakers/throttle", s.handleThrottleStatus)
	mux.HandleFunc("/breakers/throttle/reset", s.handleThrottleReset)
	mux.HandleFunc("/breakers/throttle/config", s.handleThrottleConfig)

	// Position limit
	mux.HandleFunc("/positions/limit", s.handlePositionLimit)
	mux.HandleFunc("/positions/queue", s.handleQueue)
	mux.HandleFunc("/positions/queue/", s.handleCancelQueued)
	mux.HandleFunc("/positions/request", s.handlePositionRequest)
	mux.HandleFunc("/positions/closed", s.handlePositionClosed)
	mux.HandleFunc("/positions/config", s.handlePositionConfig)

	mux.HandleFunc("/signals/evaluate", s.handleEvaluate)

	return mux
}

// Start блокирует до остановки сервера
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает сервер, дожидаясь текущих запросов
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth - health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"status":        "healthy",
		"system_status": s.reg.SystemStatus(),
		"timestamp":     time.Now().Unix(),
	})
}

// handleStatus - сводка по всем предохранителям
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.sendSuccess(w, s.reg.Snapshot())
}

func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	var req OperatorRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.reg.KillSwitch.Activate(r.Context(), req.OperatorID, req.Reason); err != nil {
		s.sendDomainError(w, "Failed to halt trading", err)
		return
	}
	s.syncAndRespond(w, r, s.reg.KillSwitch.Status())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	var req OperatorRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.reg.KillSwitch.Deactivate(r.Context(), req.OperatorID); err != nil {
		s.sendDomainError(w, "Failed to resume trading", err)
		return
	}
	s.syncAndRespond(w, r, s.reg.KillSwitch.Status())
}

// handleEvaluate - полный вердикт RiskGate. При ошибке сигнал не допускается.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	var signal gate.Signal
	if !s.decode(w, r, &signal) {
		return
	}
	verdict, err := s.gate.Evaluate(r.Context(), signal)
	if err != nil {
		s.sendDomainError(w, "Evaluation failed, signal blocked", err)
		return
	}
	s.sendSuccess(w, verdict)
}

// syncAndRespond записывает system_status после смены состояния предохранителя
func (s *Server) syncAndRespond(w http.ResponseWriter, r *http.Request, data interface{}) {
	if err := s.reg.SyncSystemStatus(r.Context()); err != nil {
		s.sendDomainError(w, "Failed to update system status", err)
		return
	}
	s.sendSuccess(w, data)
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Response{
		Success: true,
		Data:    data,
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   message,
	})
}

// sendDomainError подбирает HTTP статус по ошибке домена
func (s *Server) sendDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrOperatorRequired):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("%s: %v", message, err)
	}
	s.sendError(w, fmt.Sprintf("%s: %v", message, err), status)
}
