package repository

import (
	"database/sql"
	"fmt"
)

// Migrate создает схему базы данных, если она еще не создана
//
// Бот самодостаточен: при старте достраивает недостающие таблицы
// и индексы. Повторный запуск безопасен (IF NOT EXISTS).
func Migrate(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS straddle_positions (
			id SERIAL PRIMARY KEY,
			market_id VARCHAR(128) UNIQUE NOT NULL,
			yes_entry_price DECIMAL(10, 6) NOT NULL,
			no_entry_price DECIMAL(10, 6) NOT NULL,
			yes_size DECIMAL(20, 8) NOT NULL,
			no_size DECIMAL(20, 8) NOT NULL,
			cheap_side VARCHAR(3) NOT NULL,
			favorite_side VARCHAR(3) NOT NULL,
			state VARCHAR(20) NOT NULL,
			entry_time TIMESTAMP NOT NULL,
			last_update_time TIMESTAMP NOT NULL,
			exit_price DECIMAL(10, 6),
			exit_time TIMESTAMP,
			realized_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			unrealized_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id SERIAL PRIMARY KEY,
			order_hash VARCHAR(128) UNIQUE NOT NULL,
			market_id VARCHAR(136) NOT NULL,
			side VARCHAR(4) NOT NULL,
			price DECIMAL(10, 6) NOT NULL,
			size DECIMAL(20, 8) NOT NULL,
			ttl_seconds INT NOT NULL DEFAULT 0,
			client_order_id VARCHAR(64) NOT NULL DEFAULT '',
			correlation_id VARCHAR(64) NOT NULL DEFAULT '',
			leg VARCHAR(3) NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS fills (
			id SERIAL PRIMARY KEY,
			order_hash VARCHAR(128) NOT NULL,
			market_id VARCHAR(128) NOT NULL,
			leg_id VARCHAR(136) NOT NULL,
			side VARCHAR(4) NOT NULL,
			price DECIMAL(10, 6) NOT NULL,
			size DECIMAL(20, 8) NOT NULL,
			fee DECIMAL(20, 8) NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS blacklist (
			id SERIAL PRIMARY KEY,
			market_id VARCHAR(128) UNIQUE NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id SERIAL PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL DEFAULT NOW(),
			type VARCHAR(50) NOT NULL,
			severity VARCHAR(10) NOT NULL DEFAULT 'info',
			market_id VARCHAR(128),
			message TEXT NOT NULL,
			meta JSONB DEFAULT '{}'
		)`,
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_straddle_positions_state ON straddle_positions (state)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_market ON orders (market_id)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_order_hash ON fills (order_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_market ON fills (market_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_ts ON notifications (timestamp)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, index := range indexes {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
