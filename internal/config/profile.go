package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillm/riskgate/internal/domain"
)

// DefaultProfileName профиль по умолчанию
const DefaultProfileName = "moderate"

// RiskProfile стартовые настройки всех предохранителей.
// Сохраненные через API настройки имеют приоритет над профилем.
type RiskProfile struct {
	Name          string                     `yaml:"-"`
	Drawdown      domain.DrawdownConfig      `yaml:"capital_drawdown"`
	WinRate       domain.WinRateConfig       `yaml:"rolling_win_rate"`
	Throttle      domain.ThrottleConfig      `yaml:"consecutive_loss"`
	PositionLimit domain.PositionLimitConfig `yaml:"position_limit"`
}

// DefaultRiskProfile профиль со встроенными значениями
func DefaultRiskProfile() RiskProfile {
	return RiskProfile{
		Name:          DefaultProfileName,
		Drawdown:      domain.DefaultDrawdownConfig(),
		WinRate:       domain.DefaultWinRateConfig(),
		Throttle:      domain.DefaultThrottleConfig(),
		PositionLimit: domain.DefaultPositionLimitConfig(),
	}
}

// LoadRiskProfile загружает профиль name из YAML. Поля, не указанные в профиле,
// берутся из DefaultRiskProfile. Отсутствующий файл не ошибка: используются дефолты.
func LoadRiskProfile(path, name string) (RiskProfile, error) {
	if name == "" {
		name = DefaultProfileName
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		profile := DefaultRiskProfile()
		profile.Name = name
		return profile, nil
	}
	if err != nil {
		return RiskProfile{}, fmt.Errorf("failed to read risk profiles: %w", err)
	}
	return ParseRiskProfile(data, name)
}

// ParseRiskProfile разбирает YAML с секцией risk_profiles и возвращает профиль name
func ParseRiskProfile(data []byte, name string) (RiskProfile, error) {
	var file struct {
		RiskProfiles map[string]yaml.Node `yaml:"risk_profiles"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return RiskProfile{}, fmt.Errorf("failed to parse risk profiles: %w", err)
	}

	node, ok := file.RiskProfiles[name]
	if !ok {
		return RiskProfile{}, fmt.Errorf("risk profile %s not found", name)
	}

	profile := DefaultRiskProfile()
	if err := node.Decode(&profile); err != nil {
		return RiskProfile{}, fmt.Errorf("failed to decode risk profile %s: %w", name, err)
	}
	profile.Name = name
	if err := profile.Validate(); err != nil {
		return RiskProfile{}, fmt.Errorf("risk profile %s: %w", name, err)
	}
	return profile, nil
}

// Validate проверяет настройки всех предохранителей профиля
func (p RiskProfile) Validate() error {
	if err := p.Drawdown.Validate(); err != nil {
		return fmt.Errorf("capital_drawdown: %w", err)
	}
	if err := p.WinRate.Validate(); err != nil {
		return fmt.Errorf("rolling_win_rate: %w", err)
	}
	if err := p.Throttle.Validate(); err != nil {
		return fmt.Errorf("consecutive_loss: %w", err)
	}
	if err := p.PositionLimit.Validate(); err != nil {
		return fmt.Errorf("position_limit: %w", err)
	}
	return nil
}
