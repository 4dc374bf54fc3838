package repository

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"straddle/internal/models"
)

// ============================================================
// PositionRepository Tests
// ============================================================

func TestNewPositionRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewPositionRepository(db)
	if repo == nil {
		t.Fatal("NewPositionRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestPositionRepositorySave(t *testing.T) {
	now := time.Now()
	exitPrice := 0.18
	exitTime := now.Add(30 * time.Minute)

	tests := []struct {
		name        string
		position    *models.StraddlePosition
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "insert entered position",
			position: &models.StraddlePosition{
				MarketID:       "csgo-navi-vs-faze",
				YesEntryPrice:  0.48,
				NoEntryPrice:   0.52,
				YesSize:        62.5,
				NoSize:         57.7,
				CheapSide:      models.SideYes,
				FavoriteSide:   models.SideNo,
				State:          models.StateEntered,
				EntryTime:      now,
				LastUpdateTime: now,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO straddle_positions`).
					WithArgs("csgo-navi-vs-faze", 0.48, 0.52, 62.5, 57.7, models.SideYes, models.SideNo, models.StateEntered, now, now, nil, nil, float64(0), float64(0)).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
			expectError: false,
		},
		{
			name: "upsert exited position",
			position: &models.StraddlePosition{
				MarketID:       "csgo-navi-vs-faze",
				YesEntryPrice:  0.48,
				NoEntryPrice:   0.52,
				YesSize:        62.5,
				NoSize:         57.7,
				CheapSide:      models.SideYes,
				FavoriteSide:   models.SideNo,
				State:          models.StateExited,
				EntryTime:      now,
				LastUpdateTime: exitTime,
				ExitPrice:      &exitPrice,
				ExitTime:       &exitTime,
				RealizedPnl:    -18.75,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO straddle_positions`).
					WithArgs("csgo-navi-vs-faze", 0.48, 0.52, 62.5, 57.7, models.SideYes, models.SideNo, models.StateExited, now, exitTime, 0.18, exitTime, -18.75, float64(0)).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
			expectError: false,
		},
		{
			name: "database error",
			position: &models.StraddlePosition{
				MarketID:       "dota-og-vs-liquid",
				YesEntryPrice:  0.5,
				NoEntryPrice:   0.5,
				YesSize:        60,
				NoSize:         60,
				CheapSide:      models.SideNo,
				FavoriteSide:   models.SideYes,
				State:          models.StateEntered,
				EntryTime:      now,
				LastUpdateTime: now,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO straddle_positions`).
					WithArgs("dota-og-vs-liquid", 0.5, 0.5, float64(60), float64(60), models.SideNo, models.SideYes, models.StateEntered, now, now, nil, nil, float64(0), float64(0)).
					WillReturnError(errors.New("connection refused"))
			},
			expectError: true,
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

			repo := NewPositionRepository(db)
			err = repo.Save(tt.position)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPositionRepositoryGetByMarketID(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		marketID    string
		mockSetup   func(mock sqlmock.Sqlmock)
		expected    *models.StraddlePosition
		expectError error
	}{
		{
			name:     "success",
			marketID: "csgo-navi-vs-faze",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"market_id", "yes_entry_price", "no_entry_price", "yes_size", "no_size", "cheap_side", "favorite_side", "state", "entry_time", "last_update_time", "exit_price", "exit_time", "realized_pnl", "unrealized_pnl"}).
					AddRow("csgo-navi-vs-faze", 0.48, 0.52, 62.5, 57.7, "YES", "NO", models.StateEntered, now, now, nil, nil, 0.0, 1.25)
				mock.ExpectQuery(`SELECT .+ FROM straddle_positions WHERE market_id = \$1`).
					WithArgs("csgo-navi-vs-faze").
					WillReturnRows(rows)
			},
			expected: &models.StraddlePosition{
				MarketID:     "csgo-navi-vs-faze",
				CheapSide:    models.SideYes,
				FavoriteSide: models.SideNo,
				State:        models.StateEntered,
			},
			expectError: nil,
		},
		{
			name:     "not found",
			marketID: "unknown-market",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM straddle_positions WHERE market_id = \$1`).
					WithArgs("unknown-market").
					WillReturnError(sql.ErrNoRows)
			},
			expected:    nil,
			expectError: ErrPositionNotFound,
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

			repo := NewPositionRepository(db)
			result, err := repo.GetByMarketID(tt.marketID)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if result.MarketID != tt.expected.MarketID {
					t.Errorf("expected MarketID=%s, got %s", tt.expected.MarketID, result.MarketID)
				}
				if result.State != tt.expected.State {
					t.Errorf("expected State=%s, got %s", tt.expected.State, result.State)
				}
				if result.ExitPrice != nil {
					t.Error("expected nil ExitPrice for entered position")
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPositionRepositoryLoadActive(t *testing.T) {
	now := time.Now()
	exitPrice := 0.15
	exitTime := now.Add(time.Hour)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	// RESOLVED позиции исключаются самим запросом
	rows := sqlmock.NewRows([]string{"market_id", "yes_entry_price", "no_entry_price", "yes_size", "no_size", "cheap_side", "favorite_side", "state", "entry_time", "last_update_time", "exit_price", "exit_time", "realized_pnl", "unrealized_pnl"}).
		AddRow("csgo-navi-vs-faze", 0.48, 0.52, 62.5, 57.7, "YES", "NO", models.StateEntered, now, now, nil, nil, 0.0, 0.0).
		AddRow("dota-og-vs-liquid", 0.45, 0.55, 66.7, 54.5, "YES", "NO", models.StateExited, now, now, exitPrice, exitTime, -20.0, 0.0)
	mock.ExpectQuery(`SELECT .+ FROM straddle_positions WHERE state != \$1`).
		WithArgs(models.StateResolved).
		WillReturnRows(rows)

	repo := NewPositionRepository(db)
	result, err := repo.LoadActive()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(result))
	}
	if result[0].State != models.StateEntered {
		t.Errorf("expected first position ENTERED, got %s", result[0].State)
	}
	if result[1].State != models.StateExited {
		t.Errorf("expected second position EXITED, got %s", result[1].State)
	}
	if result[1].ExitPrice == nil || *result[1].ExitPrice != 0.15 {
		t.Error("expected exit price 0.15 on exited position")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryGetByState(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"market_id", "yes_entry_price", "no_entry_price", "yes_size", "no_size", "cheap_side", "favorite_side", "state", "entry_time", "last_update_time", "exit_price", "exit_time", "realized_pnl", "unrealized_pnl"}).
		AddRow("csgo-navi-vs-faze", 0.48, 0.52, 62.5, 57.7, "YES", "NO", models.StateEntered, now, now, nil, nil, 0.0, 0.0)
	mock.ExpectQuery(`SELECT .+ FROM straddle_positions WHERE state = \$1`).
		WithArgs(models.StateEntered).
		WillReturnRows(rows)

	repo := NewPositionRepository(db)
	result, err := repo.GetByState(models.StateEntered)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 position, got %d", len(result))
	}
	if result[0].MarketID != "csgo-navi-vs-faze" {
		t.Errorf("expected MarketID=csgo-navi-vs-faze, got %s", result[0].MarketID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryGetAll(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"market_id", "yes_entry_price", "no_entry_price", "yes_size", "no_size", "cheap_side", "favorite_side", "state", "entry_time", "last_update_time", "exit_price", "exit_time", "realized_pnl", "unrealized_pnl"}).
		AddRow("csgo-navi-vs-faze", 0.48, 0.52, 62.5, 57.7, "YES", "NO", models.StateResolved, now, now, nil, nil, 28.85, 0.0).
		AddRow("dota-og-vs-liquid", 0.45, 0.55, 66.7, 54.5, "YES", "NO", models.StateEntered, now, now, nil, nil, 0.0, 0.0)
	mock.ExpectQuery(`SELECT .+ FROM straddle_positions`).
		WillReturnRows(rows)

	repo := NewPositionRepository(db)
	result, err := repo.GetAll()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(result))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM straddle_positions`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	repo := NewPositionRepository(db)
	count, err := repo.Count()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 5 {
		t.Errorf("expected count=5, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryCountActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM straddle_positions WHERE state != \$1`).
		WithArgs(models.StateResolved).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	repo := NewPositionRepository(db)
	count, err := repo.CountActive()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("expected count=3, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryDelete(t *testing.T) {
	tests := []struct {
		name        string
		marketID    string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name:     "success",
			marketID: "csgo-navi-vs-faze",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`DELETE FROM straddle_positions WHERE market_id = \$1`).
					WithArgs("csgo-navi-vs-faze").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectError: nil,
		},
		{
			name:     "not found",
			marketID: "unknown-market",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`DELETE FROM straddle_positions WHERE market_id = \$1`).
					WithArgs("unknown-market").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			expectError: ErrPositionNotFound,
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

			repo := NewPositionRepository(db)
			err = repo.Delete(tt.marketID)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPositionRepositoryDeleteResolvedOlderThan(t *testing.T) {
	cutoff := time.Now().AddDate(0, -1, 0)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM straddle_positions WHERE state = \$1 AND last_update_time < \$2`).
		WithArgs(models.StateResolved, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	repo := NewPositionRepository(db)
	deleted, err := repo.DeleteResolvedOlderThan(cutoff)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 7 {
		t.Errorf("expected 7 deleted, got %d", deleted)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
