package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
)

// TradeOutcomeRepository реализует работу с историей закрытых сделок
type TradeOutcomeRepository struct {
	db *sql.DB
}

// NewTradeOutcomeRepository создает новый репозиторий
func NewTradeOutcomeRepository(db *sql.DB) *TradeOutcomeRepository {
	return &TradeOutcomeRepository{db: db}
}

// Save сохраняет результат сделки
func (r *TradeOutcomeRepository) Save(ctx context.Context, outcome *domain.TradeOutcome) error {
	if outcome.ClosedAt.IsZero() {
		outcome.ClosedAt = time.Now()
	}
	query := `
		INSERT INTO trade_outcomes (trade_id, closed_at, is_win, pnl_percent)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, outcome.TradeID, outcome.ClosedAt, outcome.IsWin, outcome.PnLPercent)
	return err
}

// GetRecent получает последние N сделок, закрытых после since
func (r *TradeOutcomeRepository) GetRecent(ctx context.Context, since time.Time, limit int) ([]domain.TradeOutcome, error) {
	query := `
		SELECT trade_id, closed_at, is_win, pnl_percent
		FROM trade_outcomes
		WHERE closed_at > $1
		ORDER BY closed_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []domain.TradeOutcome
	for rows.Next() {
		var o domain.TradeOutcome
		if err := rows.Scan(&o.TradeID, &o.ClosedAt, &o.IsWin, &o.PnLPercent); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}

	return outcomes, rows.Err()
}
