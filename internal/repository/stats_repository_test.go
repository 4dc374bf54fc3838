package repository

import (
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"straddle/internal/models"
)

// ============================================================
// StatsRepository Tests
// ============================================================

func TestNewStatsRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewStatsRepository(db)
	if repo == nil {
		t.Fatal("NewStatsRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestStatsRepositoryGetPeriodStats(t *testing.T) {
	now := time.Now()
	from := now.AddDate(0, 0, -7)
	to := now

	tests := []struct {
		name          string
		from          time.Time
		to            time.Time
		expectedCount int
		expectedPnl   float64
		mockSetup     func(mock sqlmock.Sqlmock)
		expectError   bool
	}{
		{
			name:          "with time range",
			from:          from,
			to:            to,
			expectedCount: 10,
			expectedPnl:   45.5,
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"count", "pnl"}).AddRow(10, 45.5)
				mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(SUM\(realized_pnl\), 0\) FROM straddle_positions WHERE last_update_time >= \$1 AND last_update_time <= \$2`).
					WithArgs(from, to).
					WillReturnRows(rows)
			},
			expectError: false,
		},
		{
			name:          "all time (zero range)",
			from:          time.Time{},
			to:            time.Time{},
			expectedCount: 100,
			expectedPnl:   312.8,
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"count", "pnl"}).AddRow(100, 312.8)
				mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(SUM\(realized_pnl\), 0\) FROM straddle_positions`).
					WillReturnRows(rows)
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewStatsRepository(db)
			count, pnl, err := repo.GetPeriodStats(tt.from, tt.to)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if count != tt.expectedCount {
					t.Errorf("expected count=%d, got %d", tt.expectedCount, count)
				}
				if pnl != tt.expectedPnl {
					t.Errorf("expected pnl=%f, got %f", tt.expectedPnl, pnl)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestStatsRepositoryGetWinLossCounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"wins", "losses"}).AddRow(12, 5)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FILTER \(WHERE realized_pnl > 0\), COUNT\(\*\) FILTER \(WHERE realized_pnl <= 0\) FROM straddle_positions WHERE state = \$1`).
		WithArgs(models.StateResolved).
		WillReturnRows(rows)

	repo := NewStatsRepository(db)
	wins, losses, err := repo.GetWinLossCounts()

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if wins != 12 {
		t.Errorf("expected wins=12, got %d", wins)
	}
	if losses != 5 {
		t.Errorf("expected losses=5, got %d", losses)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStatsRepositoryCountExitsInRange(t *testing.T) {
	now := time.Now()
	from := now.AddDate(0, 0, -1)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"count"}).AddRow(4)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM straddle_positions WHERE exit_time IS NOT NULL AND exit_time >= \$1 AND exit_time <= \$2`).
		WithArgs(from, now).
		WillReturnRows(rows)

	repo := NewStatsRepository(db)
	count, err := repo.CountExitsInRange(from, now)

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if count != 4 {
		t.Errorf("expected count=4, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStatsRepositoryCountResolutionsInRange(t *testing.T) {
	now := time.Now()
	from := now.AddDate(0, 0, -7)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"count"}).AddRow(9)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM straddle_positions WHERE state = \$1 AND last_update_time >= \$2 AND last_update_time <= \$3`).
		WithArgs(models.StateResolved, from, now).
		WillReturnRows(rows)

	repo := NewStatsRepository(db)
	count, err := repo.CountResolutionsInRange(from, now)

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if count != 9 {
		t.Errorf("expected count=9, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStatsRepositoryGetTopMarketsByTrades(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"market_id", "trade_count"}).
		AddRow("csgo-navi-vs-faze", float64(6)).
		AddRow("dota-og-vs-liquid", float64(4)).
		AddRow("lol-t1-vs-g2", float64(2))
	mock.ExpectQuery(`SELECT market_id, COUNT\(\*\) as trade_count FROM fills GROUP BY market_id ORDER BY trade_count DESC LIMIT \$1`).
		WithArgs(5).
		WillReturnRows(rows)

	repo := NewStatsRepository(db)
	result, err := repo.GetTopMarketsByTrades(5)

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if len(result) != 3 {
		t.Errorf("expected 3 results, got %d", len(result))
	}
	if result[0].MarketID != "csgo-navi-vs-faze" {
		t.Errorf("expected first market=csgo-navi-vs-faze, got %s", result[0].MarketID)
	}
	if result[0].Value != 6 {
		t.Errorf("expected first value=6, got %f", result[0].Value)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStatsRepositoryGetTopMarketsByProfit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"market_id", "realized_pnl"}).
		AddRow("csgo-navi-vs-faze", 28.85).
		AddRow("dota-og-vs-liquid", 9.6)
	mock.ExpectQuery(`SELECT market_id, realized_pnl FROM straddle_positions WHERE realized_pnl > 0 ORDER BY realized_pnl DESC LIMIT \$1`).
		WithArgs(5).
		WillReturnRows(rows)

	repo := NewStatsRepository(db)
	result, err := repo.GetTopMarketsByProfit(5)

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Errorf("expected 2 results, got %d", len(result))
	}
	if result[0].Value != 28.85 {
		t.Errorf("expected first value=28.85, got %f", result[0].Value)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStatsRepositoryGetTopMarketsByLoss(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"market_id", "realized_pnl"}).
		AddRow("lol-t1-vs-g2", -19.2).
		AddRow("cs2-vitality-vs-mouz", -12.0)
	mock.ExpectQuery(`SELECT market_id, realized_pnl FROM straddle_positions WHERE realized_pnl < 0 ORDER BY realized_pnl ASC LIMIT \$1`).
		WithArgs(5).
		WillReturnRows(rows)

	repo := NewStatsRepository(db)
	result, err := repo.GetTopMarketsByLoss(5)

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Errorf("expected 2 results, got %d", len(result))
	}
	if result[0].Value != -19.2 {
		t.Errorf("expected first value=-19.2, got %f", result[0].Value)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStatsRepositoryGetPnlByMarket(t *testing.T) {
	tests := []struct {
		name     string
		marketID string
		expected float64
	}{
		{"positive PnL", "csgo-navi-vs-faze", 28.85},
		{"negative PnL", "lol-t1-vs-g2", -19.2},
		{"no positions - zero PnL", "unknown-market", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			rows := sqlmock.NewRows([]string{"pnl"}).AddRow(tt.expected)
			mock.ExpectQuery(`SELECT COALESCE\(SUM\(realized_pnl\), 0\) FROM straddle_positions WHERE market_id = \$1`).
				WithArgs(tt.marketID).
				WillReturnRows(rows)

			repo := NewStatsRepository(db)
			result, err := repo.GetPnlByMarket(tt.marketID)

			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected PnL=%f, got %f", tt.expected, result)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestStatsRepositoryGetRecentExits(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"market_id", "cheap_side", "exit_price", "exit_time"}).
		AddRow("csgo-navi-vs-faze", models.SideNo, 0.19, now).
		AddRow("lol-t1-vs-g2", models.SideYes, 0.20, now.Add(-time.Hour))
	mock.ExpectQuery(`SELECT market_id, cheap_side, exit_price, exit_time FROM straddle_positions WHERE exit_time IS NOT NULL ORDER BY exit_time DESC LIMIT \$1`).
		WithArgs(10).
		WillReturnRows(rows)

	repo := NewStatsRepository(db)
	events, err := repo.GetRecentExits(10)

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].MarketID != "csgo-navi-vs-faze" {
		t.Errorf("expected market csgo-navi-vs-faze, got %s", events[0].MarketID)
	}
	if events[0].Side != models.SideNo {
		t.Errorf("expected Side=NO, got %s", events[0].Side)
	}
	if events[0].Price != 0.19 {
		t.Errorf("expected Price=0.19, got %f", events[0].Price)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStatsRepositoryGetRecentResolutions(t *testing.T) {
	now := time.Now()

	cols := []string{
		"market_id", "favorite_side", "cheap_side",
		"yes_entry_price", "no_entry_price", "yes_size", "no_size",
		"exit_price", "realized_pnl", "last_update_time",
	}

	tests := []struct {
		name           string
		row            []driver.Value
		expectedOut    string
		expectedPayout float64
	}{
		{
			// выход по 0.19 с входа 0.48: exitPnl = -29, realized = -29+48.96
			name:           "favorite won after exit",
			row:            []driver.Value{"csgo-navi-vs-faze", models.SideYes, models.SideNo, 0.52, 0.48, 100.0, 100.0, 0.19, 19.96, now},
			expectedOut:    models.SideYes,
			expectedPayout: 48.96,
		},
		{
			// выплаты не было: realized равен результату выхода
			name:           "favorite lost after exit",
			row:            []driver.Value{"lol-t1-vs-g2", models.SideNo, models.SideYes, 0.48, 0.52, 100.0, 100.0, 0.20, -28.0, now},
			expectedOut:    models.SideYes,
			expectedPayout: 0,
		},
		{
			// разрешение из ENTERED: выхода не было, exit_price NULL
			name:           "favorite won without exit",
			row:            []driver.Value{"dota-spirit-vs-liquid", models.SideYes, models.SideNo, 0.51, 0.49, 100.0, 100.0, nil, 49.0, now},
			expectedOut:    models.SideYes,
			expectedPayout: 49.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			rows := sqlmock.NewRows(cols).AddRow(tt.row...)
			mock.ExpectQuery(`SELECT market_id, favorite_side, cheap_side, .+ FROM straddle_positions WHERE state = \$1 ORDER BY last_update_time DESC LIMIT \$2`).
				WithArgs(models.StateResolved, 10).
				WillReturnRows(rows)

			repo := NewStatsRepository(db)
			events, err := repo.GetRecentResolutions(10)

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(events))
			}
			if events[0].Outcome != tt.expectedOut {
				t.Errorf("expected Outcome=%s, got %s", tt.expectedOut, events[0].Outcome)
			}
			if diff := events[0].Payout - tt.expectedPayout; diff > 0.0001 || diff < -0.0001 {
				t.Errorf("expected Payout=%f, got %f", tt.expectedPayout, events[0].Payout)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestStatsRepositoryResetHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM fills WHERE market_id IN \(SELECT market_id FROM straddle_positions WHERE state = \$1\)`).
		WithArgs(models.StateResolved).
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec(`DELETE FROM straddle_positions WHERE state = \$1`).
		WithArgs(models.StateResolved).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	repo := NewStatsRepository(db)
	deleted, err := repo.ResetHistory()

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if deleted != 4 {
		t.Errorf("expected 4 deleted positions, got %d", deleted)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStatsRepositoryResetHistoryRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM fills WHERE market_id IN \(SELECT market_id FROM straddle_positions WHERE state = \$1\)`).
		WithArgs(models.StateResolved).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	repo := NewStatsRepository(db)
	if _, err := repo.ResetHistory(); err == nil {
		t.Error("expected error, got nil")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
