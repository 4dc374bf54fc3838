package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"straddle/internal/models"
)

// ============================================================
// FillRepository Tests
// ============================================================

func fillColumns() []string {
	return []string{"order_hash", "leg_id", "side", "price", "size", "fee", "created_at"}
}

func TestNewFillRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewFillRepository(db)
	if repo == nil {
		t.Fatal("NewFillRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestFillRepositoryCreate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		fill        *models.FillEvent
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "entry fill on yes leg",
			fill: &models.FillEvent{
				OrderHash: "0xabc123",
				MarketID:  "csgo-navi-vs-faze-YES",
				Side:      models.OrderSideBuy,
				Price:     0.48,
				Size:      62.5,
				Fee:       0.12,
				Timestamp: now,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				// базовый id рынка вычисляется из id ноги
				mock.ExpectExec(`INSERT INTO fills`).
					WithArgs("0xabc123", "csgo-navi-vs-faze", "csgo-navi-vs-faze-YES", models.OrderSideBuy, 0.48, 62.5, 0.12, now).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
			expectError: false,
		},
		{
			name: "zero timestamp gets filled",
			fill: &models.FillEvent{
				OrderHash: "0xdef456",
				MarketID:  "dota-og-vs-liquid-NO",
				Side:      models.OrderSideSell,
				Price:     0.18,
				Size:      60,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO fills`).
					WithArgs("0xdef456", "dota-og-vs-liquid", "dota-og-vs-liquid-NO", models.OrderSideSell, 0.18, float64(60), float64(0), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
			expectError: false,
		},
		{
			name: "database error",
			fill: &models.FillEvent{
				OrderHash: "0xabc123",
				MarketID:  "csgo-navi-vs-faze-YES",
				Side:      models.OrderSideBuy,
				Price:     0.48,
				Size:      62.5,
				Timestamp: now,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO fills`).
					WithArgs("0xabc123", "csgo-navi-vs-faze", "csgo-navi-vs-faze-YES", models.OrderSideBuy, 0.48, 62.5, float64(0), now).
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

			repo := NewFillRepository(db)
			err = repo.Create(tt.fill)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if tt.fill.Timestamp.IsZero() {
					t.Error("expected timestamp to be set")
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestFillRepositoryGetByOrderHash(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	// частичные исполнения одного ордера
	rows := sqlmock.NewRows(fillColumns()).
		AddRow("0xabc123", "csgo-navi-vs-faze-YES", "BUY", 0.48, 30.0, 0.05, now).
		AddRow("0xabc123", "csgo-navi-vs-faze-YES", "BUY", 0.48, 32.5, 0.07, now.Add(time.Second))
	mock.ExpectQuery(`SELECT .+ FROM fills WHERE order_hash = \$1`).
		WithArgs("0xabc123").
		WillReturnRows(rows)

	repo := NewFillRepository(db)
	result, err := repo.GetByOrderHash("0xabc123")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(result))
	}
	if result[0].MarketID != "csgo-navi-vs-faze-YES" {
		t.Errorf("expected leg id preserved, got %s", result[0].MarketID)
	}
	if result[0].BaseMarketID() != "csgo-navi-vs-faze" {
		t.Errorf("expected base market csgo-navi-vs-faze, got %s", result[0].BaseMarketID())
	}
	if result[0].Size+result[1].Size != 62.5 {
		t.Errorf("expected total size 62.5, got %f", result[0].Size+result[1].Size)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestFillRepositoryGetByOrderHashEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM fills WHERE order_hash = \$1`).
		WithArgs("0xunknown").
		WillReturnRows(sqlmock.NewRows(fillColumns()))

	repo := NewFillRepository(db)
	result, err := repo.GetByOrderHash("0xunknown")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("expected no fills, got %d", len(result))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
