package repository

import (
	"database/sql"
	"time"

	"straddle/internal/models"
)

// FillRepository - работа с таблицей fills.
//
// Журнал только пополняется, исполнения не редактируются. Колонка
// market_id хранит базовый id рынка, leg_id хранит id ноги как он
// пришел от биржи. Чтение восстанавливает событие с id ноги.
//
// Агрегаты по рынкам (счетчики сделок, последние выходы) считает
// StatsRepository запросами к той же таблице.
type FillRepository struct {
	db *sql.DB
}

// NewFillRepository создает новый экземпляр репозитория
func NewFillRepository(db *sql.DB) *FillRepository {
	return &FillRepository{db: db}
}

// Create записывает исполнение в журнал
func (r *FillRepository) Create(fill *models.FillEvent) error {
	query := `
		INSERT INTO fills (order_hash, market_id, leg_id, side, price, size, fee, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if fill.Timestamp.IsZero() {
		fill.Timestamp = time.Now()
	}

	_, err := r.db.Exec(
		query,
		fill.OrderHash,
		fill.BaseMarketID(),
		fill.MarketID,
		fill.Side,
		fill.Price,
		fill.Size,
		fill.Fee,
		fill.Timestamp,
	)
	if err != nil {
		return err
	}

	return nil
}

// GetByOrderHash возвращает исполнения ордера в порядке поступления.
// Восстановление так отличает уже записанное исполнение от нового.
func (r *FillRepository) GetByOrderHash(orderHash string) ([]*models.FillEvent, error) {
	query := `
		SELECT order_hash, leg_id, side, price, size, fee, created_at
		FROM fills
		WHERE order_hash = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(query, orderHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []*models.FillEvent
	for rows.Next() {
		var fill models.FillEvent
		err := rows.Scan(
			&fill.OrderHash,
			&fill.MarketID,
			&fill.Side,
			&fill.Price,
			&fill.Size,
			&fill.Fee,
			&fill.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		fills = append(fills, &fill)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return fills, nil
}
