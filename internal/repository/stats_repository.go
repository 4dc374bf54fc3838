package repository

import (
	"database/sql"
	"time"

	"straddle/internal/models"
)

// StatsRepository - агрегация статистики торговли.
//
// Отдельной таблицы сделок нет: реализованный PnL накапливается в
// positions (продажа дешевой ноги плюс выплата за фаворита), а
// активность по рынкам считается из журнала fills. Репозиторий
// читает агрегаты, единственная запись - полный сброс истории
// завершенных позиций по команде оператора (ResetHistory).
type StatsRepository struct {
	db *sql.DB
}

// NewStatsRepository создает новый экземпляр репозитория
func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// GetPeriodStats возвращает количество позиций и суммарный
// реализованный PnL за период. Нулевые from и to означают все время.
// Окно считается по last_update_time: позиция попадает в период,
// в котором по ней была последняя активность.
func (r *StatsRepository) GetPeriodStats(from, to time.Time) (int, float64, error) {
	var (
		count int
		pnl   float64
		err   error
	)

	if from.IsZero() && to.IsZero() {
		query := `SELECT COUNT(*), COALESCE(SUM(realized_pnl), 0) FROM straddle_positions`
		err = r.db.QueryRow(query).Scan(&count, &pnl)
	} else {
		query := `SELECT COUNT(*), COALESCE(SUM(realized_pnl), 0) FROM straddle_positions WHERE last_update_time >= $1 AND last_update_time <= $2`
		err = r.db.QueryRow(query, from, to).Scan(&count, &pnl)
	}

	if err != nil {
		return 0, 0, err
	}

	return count, pnl, nil
}

// GetWinLossCounts возвращает количество выигрышных и проигрышных
// разрешений. Выигрышем считается разрешенная позиция с положительным
// итоговым PnL (выплата за фаворита перекрыла потерю на выходе).
func (r *StatsRepository) GetWinLossCounts() (int, int, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE realized_pnl > 0),
			COUNT(*) FILTER (WHERE realized_pnl <= 0)
		FROM straddle_positions
		WHERE state = $1`

	var wins, losses int
	err := r.db.QueryRow(query, models.StateResolved).Scan(&wins, &losses)
	if err != nil {
		return 0, 0, err
	}

	return wins, losses, nil
}

// CountExitsInRange возвращает количество продаж дешевой стороны за период
func (r *StatsRepository) CountExitsInRange(from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM straddle_positions
		WHERE exit_time IS NOT NULL AND exit_time >= $1 AND exit_time <= $2`

	var count int
	err := r.db.QueryRow(query, from, to).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// CountResolutionsInRange возвращает количество разрешений рынков за период
func (r *StatsRepository) CountResolutionsInRange(from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM straddle_positions
		WHERE state = $1 AND last_update_time >= $2 AND last_update_time <= $3`

	var count int
	err := r.db.QueryRow(query, models.StateResolved, from, to).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// GetTopMarketsByTrades возвращает топ рынков по количеству исполнений
func (r *StatsRepository) GetTopMarketsByTrades(limit int) ([]*models.MarketStat, error) {
	query := `
		SELECT market_id, COUNT(*) as trade_count
		FROM fills
		GROUP BY market_id
		ORDER BY trade_count DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*models.MarketStat
	for rows.Next() {
		stat := &models.MarketStat{}
		if err := rows.Scan(&stat.MarketID, &stat.Value); err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// GetTopMarketsByProfit возвращает топ прибыльных рынков
func (r *StatsRepository) GetTopMarketsByProfit(limit int) ([]*models.MarketStat, error) {
	query := `
		SELECT market_id, realized_pnl
		FROM straddle_positions
		WHERE realized_pnl > 0
		ORDER BY realized_pnl DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*models.MarketStat
	for rows.Next() {
		stat := &models.MarketStat{}
		if err := rows.Scan(&stat.MarketID, &stat.Value); err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// GetTopMarketsByLoss возвращает топ убыточных рынков
func (r *StatsRepository) GetTopMarketsByLoss(limit int) ([]*models.MarketStat, error) {
	query := `
		SELECT market_id, realized_pnl
		FROM straddle_positions
		WHERE realized_pnl < 0
		ORDER BY realized_pnl ASC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*models.MarketStat
	for rows.Next() {
		stat := &models.MarketStat{}
		if err := rows.Scan(&stat.MarketID, &stat.Value); err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// GetPnlByMarket возвращает реализованный PnL рынка, 0 если позиций не было
func (r *StatsRepository) GetPnlByMarket(marketID string) (float64, error) {
	query := `SELECT COALESCE(SUM(realized_pnl), 0) FROM straddle_positions WHERE market_id = $1`

	var pnl float64
	err := r.db.QueryRow(query, marketID).Scan(&pnl)
	if err != nil {
		return 0, err
	}

	return pnl, nil
}

// GetRecentExits возвращает последние продажи дешевой стороны
func (r *StatsRepository) GetRecentExits(limit int) ([]models.ExitEvent, error) {
	query := `
		SELECT market_id, cheap_side, exit_price, exit_time
		FROM straddle_positions
		WHERE exit_time IS NOT NULL
		ORDER BY exit_time DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.ExitEvent
	for rows.Next() {
		var ev models.ExitEvent
		if err := rows.Scan(&ev.MarketID, &ev.Side, &ev.Price, &ev.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// GetRecentResolutions возвращает последние разрешения рынков.
//
// Отдельной колонки исхода нет: выплата восстанавливается как
// realized_pnl минус результат продажи дешевой ноги, положительная
// выплата означает победу фаворита.
func (r *StatsRepository) GetRecentResolutions(limit int) ([]models.ResolutionEvent, error) {
	query := `
		SELECT market_id, favorite_side, cheap_side,
		       yes_entry_price, no_entry_price, yes_size, no_size,
		       exit_price, realized_pnl, last_update_time
		FROM straddle_positions
		WHERE state = $1
		ORDER BY last_update_time DESC
		LIMIT $2`

	rows, err := r.db.Query(query, models.StateResolved, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.ResolutionEvent
	for rows.Next() {
		var (
			ev         models.ResolutionEvent
			cheapSide  string
			yesPrice   float64
			noPrice    float64
			yesSize    float64
			noSize     float64
			exitPrice  sql.NullFloat64
			realized   float64
		)

		err := rows.Scan(
			&ev.MarketID,
			&ev.Favorite,
			&cheapSide,
			&yesPrice,
			&noPrice,
			&yesSize,
			&noSize,
			&exitPrice,
			&realized,
			&ev.Timestamp,
		)
		if err != nil {
			return nil, err
		}

		cheapEntry, cheapSize := yesPrice, yesSize
		if cheapSide == models.SideNo {
			cheapEntry, cheapSize = noPrice, noSize
		}

		exitPnl := 0.0
		if exitPrice.Valid {
			exitPnl = (exitPrice.Float64 - cheapEntry) * cheapSize
		}

		if payout := realized - exitPnl; payout > 1e-9 {
			ev.Outcome = ev.Favorite
			ev.Payout = payout
		} else if ev.Favorite == models.SideYes {
			ev.Outcome = models.SideNo
		} else {
			ev.Outcome = models.SideYes
		}

		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// ResetHistory удаляет разрешенные позиции и их исполнения.
//
// ВАЖНО: операция необратима. Активные позиции, их ордера и
// исполнения не затрагиваются. Возвращает количество удаленных
// позиций.
func (r *StatsRepository) ResetHistory() (int64, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`DELETE FROM fills WHERE market_id IN (SELECT market_id FROM straddle_positions WHERE state = $1)`,
		models.StateResolved,
	)
	if err != nil {
		return 0, err
	}

	result, err := tx.Exec(`DELETE FROM straddle_positions WHERE state = $1`, models.StateResolved)
	if err != nil {
		return 0, err
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return deleted, nil
}
