package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
)

// LogEntry запись системного лога в памяти
type LogEntry struct {
	Level   string
	Message string
	Data    string
}

// MemoryStorage хранилище в памяти с тем же контрактом, что и PostgresStorage.
// Используется в тестах и в dry-run режиме без БД.
type MemoryStorage struct {
	mu sync.Mutex

	failErr error

	triggerSeq int64
	triggers   []domain.TriggerRecord

	tradeSeq int64
	trades   []memTrade

	queuedSeq int64
	queued    map[string]memQueued

	blockedSeq int64
	blocked    []domain.BlockedSignal

	slotSeq int64
	slots   []domain.SlotEvent

	config map[string]string
	logs   []LogEntry
}

type memTrade struct {
	seq     int64
	outcome domain.TradeOutcome
}

// memQueued строка очереди с порядком вставки для сигналов с одинаковым queued_at
type memQueued struct {
	seq    int64
	signal domain.QueuedSignal
}

// NewMemoryStorage создает пустое хранилище в памяти
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		queued: make(map[string]memQueued),
		config: make(map[string]string),
	}
}

// SetFailure заставляет все последующие операции возвращать err (nil снимает сбой)
func (m *MemoryStorage) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// ==================== TRIGGERS ====================

func (m *MemoryStorage) InsertActiveTrigger(ctx context.Context, record *domain.TriggerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	for _, t := range m.triggers {
		if t.BreakerType == record.BreakerType && t.ResetAt == nil {
			return domain.ErrStateConflict
		}
	}
	if record.TriggeredAt.IsZero() {
		record.TriggeredAt = time.Now()
	}
	m.triggerSeq++
	record.ID = m.triggerSeq
	m.triggers = append(m.triggers, *record)
	return nil
}

func (m *MemoryStorage) GetActiveTrigger(ctx context.Context, breakerType domain.BreakerType) (*domain.TriggerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	for i := len(m.triggers) - 1; i >= 0; i-- {
		t := m.triggers[i]
		if t.BreakerType == breakerType && t.ResetAt == nil {
			return &t, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) ResolveTrigger(ctx context.Context, id int64, resetBy string, resetAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	for i := range m.triggers {
		if m.triggers[i].ID == id && m.triggers[i].ResetAt == nil {
			at := resetAt
			m.triggers[i].ResetAt = &at
			m.triggers[i].ResetBy = resetBy
		}
	}
	return nil
}

func (m *MemoryStorage) GetRecentTriggers(ctx context.Context, limit int) ([]domain.TriggerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	var out []domain.TriggerRecord
	for i := len(m.triggers) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.triggers[i])
	}
	return out, nil
}

// ==================== TRADE OUTCOMES ====================

func (m *MemoryStorage) SaveTradeOutcome(ctx context.Context, outcome *domain.TradeOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	if outcome.ClosedAt.IsZero() {
		outcome.ClosedAt = time.Now()
	}
	m.tradeSeq++
	m.trades = append(m.trades, memTrade{seq: m.tradeSeq, outcome: *outcome})
	return nil
}

func (m *MemoryStorage) GetRecentTradeOutcomes(ctx context.Context, since time.Time, limit int) ([]domain.TradeOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	trades := make([]memTrade, 0, len(m.trades))
	for _, t := range m.trades {
		if t.outcome.ClosedAt.After(since) {
			trades = append(trades, t)
		}
	}
	sort.Slice(trades, func(i, j int) bool {
		if !trades[i].outcome.ClosedAt.Equal(trades[j].outcome.ClosedAt) {
			return trades[i].outcome.ClosedAt.After(trades[j].outcome.ClosedAt)
		}
		return trades[i].seq > trades[j].seq
	})

	out := make([]domain.TradeOutcome, 0, limit)
	for _, t := range trades {
		if len(out) >= limit {
			break
		}
		out = append(out, t.outcome)
	}
	return out, nil
}

// ==================== QUEUED SIGNALS ====================

func (m *MemoryStorage) SaveQueuedSignal(ctx context.Context, signal *domain.QueuedSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	row, ok := m.queued[signal.ID]
	if !ok {
		m.queuedSeq++
		row.seq = m.queuedSeq
	}
	row.signal = *signal
	m.queued[signal.ID] = row
	return nil
}

func (m *MemoryStorage) UpdateQueuedSignalStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	row, ok := m.queued[id]
	if !ok || row.signal.Status != domain.QueueStatusPending {
		return nil
	}
	row.signal.Status = status
	m.queued[id] = row
	return nil
}

func (m *MemoryStorage) GetQueuedSignalsByStatus(ctx context.Context, status string) ([]domain.QueuedSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	rows := make([]memQueued, 0, len(m.queued))
	for _, row := range m.queued {
		if row.signal.Status == status {
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].signal.QueuedAt.Equal(rows[j].signal.QueuedAt) {
			return rows[i].signal.QueuedAt.Before(rows[j].signal.QueuedAt)
		}
		return rows[i].seq < rows[j].seq
	})

	out := make([]domain.QueuedSignal, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.signal)
	}
	return out, nil
}

// QueuedSignal возвращает строку очереди по id
func (m *MemoryStorage) QueuedSignal(id string) (domain.QueuedSignal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.queued[id]
	return row.signal, ok
}

// ==================== AUDIT ====================

func (m *MemoryStorage) SaveBlockedSignal(ctx context.Context, signal *domain.BlockedSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	if signal.BlockedAt.IsZero() {
		signal.BlockedAt = time.Now()
	}
	m.blockedSeq++
	signal.ID = m.blockedSeq
	m.blocked = append(m.blocked, *signal)
	return nil
}

func (m *MemoryStorage) SaveSlotEvent(ctx context.Context, event *domain.SlotEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	m.slotSeq++
	event.ID = m.slotSeq
	m.slots = append(m.slots, *event)
	return nil
}

// BlockedSignals возвращает копию всех аудит-записей об отклонении
func (m *MemoryStorage) BlockedSignals() []domain.BlockedSignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.BlockedSignal(nil), m.blocked...)
}

// SlotEvents возвращает копию всех событий освобождения слота
func (m *MemoryStorage) SlotEvents() []domain.SlotEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SlotEvent(nil), m.slots...)
}

// Triggers возвращает копию всех триггеров в порядке создания
func (m *MemoryStorage) Triggers() []domain.TriggerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TriggerRecord(nil), m.triggers...)
}

// ==================== CONFIG PARAMS ====================

func (m *MemoryStorage) SetConfigParam(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	m.config[key] = value
	return nil
}

func (m *MemoryStorage) GetConfigParam(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return "", m.failErr
	}

	return m.config[key], nil
}

// ==================== LOGS ====================

func (m *MemoryStorage) SaveLog(ctx context.Context, level, message, data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	m.logs = append(m.logs, LogEntry{Level: level, Message: message, Data: data})
	return nil
}

// Logs возвращает копию системных логов
func (m *MemoryStorage) Logs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), m.logs...)
}

// Close ничего не делает для хранилища в памяти
func (m *MemoryStorage) Close() error {
	return nil
}
