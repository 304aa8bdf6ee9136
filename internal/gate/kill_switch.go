package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/riskgate/internal/config"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/pkg/utils"
)

// KillSwitch ручная аварийная остановка приема сигналов.
// Состояние хранится в system_status, поэтому переживает рестарт.
type KillSwitch struct {
	mu          sync.RWMutex
	store       config.ParamStore
	logger      *utils.Logger
	active      bool
	activatedAt time.Time
	activatedBy string
	reason      string
}

// KillSwitchStatus снимок состояния kill switch
type KillSwitchStatus struct {
	Active      bool       `json:"active"`
	Reason      string     `json:"reason,omitempty"`
	ActivatedBy string     `json:"activated_by,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// NewKillSwitch создает новый kill switch
func NewKillSwitch(store config.ParamStore, logger *utils.Logger) *KillSwitch {
	return &KillSwitch{
		store:  store,
		logger: logger.Named("killswitch"),
	}
}

// restore поднимает ручную остановку из хранилища
func (ks *KillSwitch) restore(ctx context.Context) error {
	raw, err := ks.store.GetConfigParam(ctx, domain.StateKeyHaltReason)
	if err != nil {
		return fmt.Errorf("load halt reason: %w: %w", domain.ErrPersistence, err)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.active = raw != ""
	ks.reason = raw
	if ks.active {
		ks.logger.Warn("kill switch restored: %s", raw)
	}
	return nil
}

// Activate активирует kill switch
func (ks *KillSwitch) Activate(ctx context.Context, operatorID, reason string) error {
	if operatorID == "" {
		return domain.ErrOperatorRequired
	}
	if reason == "" {
		reason = "manual halt"
	}
	stored := fmt.Sprintf("%s (by %s)", reason, operatorID)
	if err := ks.store.SetConfigParam(ctx, domain.StateKeyHaltReason, stored); err != nil {
		return fmt.Errorf("save halt reason: %w: %w", domain.ErrPersistence, err)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.active = true
	ks.activatedAt = time.Now()
	ks.activatedBy = operatorID
	ks.reason = stored

	ks.logger.Error("KILL SWITCH ACTIVATED: %s", stored)
	return nil
}

// Deactivate деактивирует kill switch (требует ручного вмешательства)
func (ks *KillSwitch) Deactivate(ctx context.Context, operatorID string) error {
	if operatorID == "" {
		return domain.ErrOperatorRequired
	}
	if err := ks.store.SetConfigParam(ctx, domain.StateKeyHaltReason, ""); err != nil {
		return fmt.Errorf("clear halt reason: %w: %w", domain.ErrPersistence, err)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.active = false
	ks.reason = ""
	ks.activatedBy = ""
	ks.activatedAt = time.Time{}

	ks.logger.Info("kill switch deactivated by %s", operatorID)
	return nil
}

// IsActive проверяет активен ли kill switch
func (ks *KillSwitch) IsActive() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.active
}

// Status возвращает статус kill switch
func (ks *KillSwitch) Status() KillSwitchStatus {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	status := KillSwitchStatus{Active: ks.active, Reason: ks.reason, ActivatedBy: ks.activatedBy}
	if !ks.activatedAt.IsZero() {
		at := ks.activatedAt
		status.ActivatedAt = &at
	}
	return status
}
