package config

import (
	"context"
	"encoding/json"
	"fmt"
)

// ParamStore хранилище параметров конфигурации ключ/значение
type ParamStore interface {
	SetConfigParam(ctx context.Context, key, value string) error
	GetConfigParam(ctx context.Context, key string) (string, error)
}

// SaveBlob сохраняет конфигурацию целиком как JSON под ключом key
func SaveBlob(ctx context.Context, store ParamStore, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return store.SetConfigParam(ctx, key, string(data))
}

// LoadBlob читает JSON под ключом key в v. Возвращает false, если ключ не задан.
func LoadBlob(ctx context.Context, store ParamStore, key string, v interface{}) (bool, error) {
	raw, err := store.GetConfigParam(ctx, key)
	if err != nil {
		return false, err
	}
	if raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}
