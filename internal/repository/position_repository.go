package repository

import (
	"database/sql"
	"errors"
	"time"

	"straddle/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

// PositionRepository - работа с таблицей positions
//
// Позиция идентифицируется market_id: запись либо вставляется,
// либо целиком замещается (ON CONFLICT DO UPDATE). RESOLVED
// позиции остаются в таблице для аудита, но исключаются из
// активных выборок.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Save вставляет или целиком замещает позицию по market_id
func (r *PositionRepository) Save(position *models.StraddlePosition) error {
	query := `
		INSERT INTO straddle_positions (market_id, yes_entry_price, no_entry_price, yes_size, no_size, cheap_side, favorite_side, state, entry_time, last_update_time, exit_price, exit_time, realized_pnl, unrealized_pnl)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (market_id) DO UPDATE SET
			yes_entry_price = EXCLUDED.yes_entry_price,
			no_entry_price = EXCLUDED.no_entry_price,
			yes_size = EXCLUDED.yes_size,
			no_size = EXCLUDED.no_size,
			cheap_side = EXCLUDED.cheap_side,
			favorite_side = EXCLUDED.favorite_side,
			state = EXCLUDED.state,
			entry_time = EXCLUDED.entry_time,
			last_update_time = EXCLUDED.last_update_time,
			exit_price = EXCLUDED.exit_price,
			exit_time = EXCLUDED.exit_time,
			realized_pnl = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl`

	_, err := r.db.Exec(
		query,
		position.MarketID,
		position.YesEntryPrice,
		position.NoEntryPrice,
		position.YesSize,
		position.NoSize,
		position.CheapSide,
		position.FavoriteSide,
		position.State,
		position.EntryTime,
		position.LastUpdateTime,
		position.ExitPrice,
		position.ExitTime,
		position.RealizedPnl,
		position.UnrealizedPnl,
	)

	return err
}

// GetByMarketID возвращает позицию по идентификатору рынка
func (r *PositionRepository) GetByMarketID(marketID string) (*models.StraddlePosition, error) {
	query := `
		SELECT market_id, yes_entry_price, no_entry_price, yes_size, no_size, cheap_side, favorite_side, state, entry_time, last_update_time, exit_price, exit_time, realized_pnl, unrealized_pnl
		FROM straddle_positions
		WHERE market_id = $1`

	position := &models.StraddlePosition{}
	err := r.db.QueryRow(query, marketID).Scan(
		&position.MarketID,
		&position.YesEntryPrice,
		&position.NoEntryPrice,
		&position.YesSize,
		&position.NoSize,
		&position.CheapSide,
		&position.FavoriteSide,
		&position.State,
		&position.EntryTime,
		&position.LastUpdateTime,
		&position.ExitPrice,
		&position.ExitTime,
		&position.RealizedPnl,
		&position.UnrealizedPnl,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}

	return position, nil
}

// LoadActive возвращает все незавершенные позиции (state != RESOLVED)
//
// Используется при старте для восстановления состояния трекера.
func (r *PositionRepository) LoadActive() ([]*models.StraddlePosition, error) {
	query := `
		SELECT market_id, yes_entry_price, no_entry_price, yes_size, no_size, cheap_side, favorite_side, state, entry_time, last_update_time, exit_price, exit_time, realized_pnl, unrealized_pnl
		FROM straddle_positions
		WHERE state != $1
		ORDER BY entry_time DESC`

	rows, err := r.db.Query(query, models.StateResolved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.StraddlePosition
	for rows.Next() {
		position := &models.StraddlePosition{}
		err := rows.Scan(
			&position.MarketID,
			&position.YesEntryPrice,
			&position.NoEntryPrice,
			&position.YesSize,
			&position.NoSize,
			&position.CheapSide,
			&position.FavoriteSide,
			&position.State,
			&position.EntryTime,
			&position.LastUpdateTime,
			&position.ExitPrice,
			&position.ExitTime,
			&position.RealizedPnl,
			&position.UnrealizedPnl,
		)
		if err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}

// GetAll возвращает все позиции, включая разрешенные
func (r *PositionRepository) GetAll() ([]*models.StraddlePosition, error) {
	query := `
		SELECT market_id, yes_entry_price, no_entry_price, yes_size, no_size, cheap_side, favorite_side, state, entry_time, last_update_time, exit_price, exit_time, realized_pnl, unrealized_pnl
		FROM straddle_positions
		ORDER BY entry_time DESC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.StraddlePosition
	for rows.Next() {
		position := &models.StraddlePosition{}
		err := rows.Scan(
			&position.MarketID,
			&position.YesEntryPrice,
			&position.NoEntryPrice,
			&position.YesSize,
			&position.NoSize,
			&position.CheapSide,
			&position.FavoriteSide,
			&position.State,
			&position.EntryTime,
			&position.LastUpdateTime,
			&position.ExitPrice,
			&position.ExitTime,
			&position.RealizedPnl,
			&position.UnrealizedPnl,
		)
		if err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}

// GetByState возвращает позиции в указанном состоянии
func (r *PositionRepository) GetByState(state string) ([]*models.StraddlePosition, error) {
	query := `
		SELECT market_id, yes_entry_price, no_entry_price, yes_size, no_size, cheap_side, favorite_side, state, entry_time, last_update_time, exit_price, exit_time, realized_pnl, unrealized_pnl
		FROM straddle_positions
		WHERE state = $1
		ORDER BY entry_time DESC`

	rows, err := r.db.Query(query, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.StraddlePosition
	for rows.Next() {
		position := &models.StraddlePosition{}
		err := rows.Scan(
			&position.MarketID,
			&position.YesEntryPrice,
			&position.NoEntryPrice,
			&position.YesSize,
			&position.NoSize,
			&position.CheapSide,
			&position.FavoriteSide,
			&position.State,
			&position.EntryTime,
			&position.LastUpdateTime,
			&position.ExitPrice,
			&position.ExitTime,
			&position.RealizedPnl,
			&position.UnrealizedPnl,
		)
		if err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}

// Count возвращает общее количество позиций
func (r *PositionRepository) Count() (int, error) {
	query := `SELECT COUNT(*) FROM straddle_positions`

	var count int
	err := r.db.QueryRow(query).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// CountActive возвращает количество незавершенных позиций
func (r *PositionRepository) CountActive() (int, error) {
	query := `SELECT COUNT(*) FROM straddle_positions WHERE state != $1`

	var count int
	err := r.db.QueryRow(query, models.StateResolved).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Delete удаляет позицию по market_id
func (r *PositionRepository) Delete(marketID string) error {
	query := `DELETE FROM straddle_positions WHERE market_id = $1`

	result, err := r.db.Exec(query, marketID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPositionNotFound
	}

	return nil
}

// DeleteResolvedOlderThan удаляет разрешенные позиции старше указанной даты
//
// Активные позиции не затрагиваются независимо от возраста.
func (r *PositionRepository) DeleteResolvedOlderThan(timestamp time.Time) (int64, error) {
	query := `DELETE FROM straddle_positions WHERE state = $1 AND last_update_time < $2`

	result, err := r.db.Exec(query, models.StateResolved, timestamp)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
