package repository

import (
	"database/sql"
	"errors"
	"time"

	"straddle/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrMissingOrderHash = errors.New("order hash is empty")
)

// OrderRepository - работа с таблицей orders.
//
// Ключом служит order_hash, назначенный биржей. Ордера со статусом
// failed хэша не имеют и в журнал не попадают, о них сообщает
// сервис уведомлений.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Upsert сохраняет ордер по хэшу. Повторная запись того же хэша
// обновляет только статус и updated_at, параметры ордера неизменны.
func (r *OrderRepository) Upsert(order *models.LiveOrder) error {
	if order.OrderHash == "" {
		return ErrMissingOrderHash
	}

	query := `
		INSERT INTO orders (order_hash, market_id, side, price, size, ttl_seconds, client_order_id, correlation_id, leg, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (order_hash) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = NOW()`

	_, err := r.db.Exec(
		query,
		order.OrderHash,
		order.Intent.MarketID,
		order.Intent.Side,
		order.Intent.Price,
		order.Intent.Size,
		order.Intent.TTLSeconds,
		order.Intent.ClientOrderID,
		order.Intent.Metadata[models.MetaCorrelationID],
		order.Intent.Metadata[models.MetaLeg],
		order.Status,
		order.CreatedAt,
	)
	if err != nil {
		return err
	}

	return nil
}

// GetByHash возвращает ордер по хэшу биржи
func (r *OrderRepository) GetByHash(orderHash string) (*models.LiveOrder, error) {
	query := `
		SELECT order_hash, market_id, side, price, size, ttl_seconds, client_order_id, correlation_id, leg, status, created_at
		FROM orders
		WHERE order_hash = $1`

	var (
		order         models.LiveOrder
		correlationID string
		leg           string
	)

	err := r.db.QueryRow(query, orderHash).Scan(
		&order.OrderHash,
		&order.Intent.MarketID,
		&order.Intent.Side,
		&order.Intent.Price,
		&order.Intent.Size,
		&order.Intent.TTLSeconds,
		&order.Intent.ClientOrderID,
		&correlationID,
		&leg,
		&order.Status,
		&order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	attachOrderMetadata(&order, correlationID, leg)
	return &order, nil
}

// GetByMarketID возвращает ордера рынка, включая обе синтетические ноги
func (r *OrderRepository) GetByMarketID(marketID string) ([]*models.LiveOrder, error) {
	query := `
		SELECT order_hash, market_id, side, price, size, ttl_seconds, client_order_id, correlation_id, leg, status, created_at
		FROM orders
		WHERE market_id IN ($1, $1 || '-YES', $1 || '-NO')
		ORDER BY created_at DESC`

	rows, err := r.db.Query(query, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.LiveOrder
	for rows.Next() {
		var (
			order         models.LiveOrder
			correlationID string
			leg           string
		)
		err := rows.Scan(
			&order.OrderHash,
			&order.Intent.MarketID,
			&order.Intent.Side,
			&order.Intent.Price,
			&order.Intent.Size,
			&order.Intent.TTLSeconds,
			&order.Intent.ClientOrderID,
			&correlationID,
			&leg,
			&order.Status,
			&order.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		attachOrderMetadata(&order, correlationID, leg)
		orders = append(orders, &order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// GetByCorrelationID возвращает ордера одной попытки входа.
// Оба входных ордера стрэддла несут общий correlation_id.
func (r *OrderRepository) GetByCorrelationID(correlationID string) ([]*models.LiveOrder, error) {
	query := `
		SELECT order_hash, market_id, side, price, size, ttl_seconds, client_order_id, correlation_id, leg, status, created_at
		FROM orders
		WHERE correlation_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(query, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.LiveOrder
	for rows.Next() {
		var (
			order  models.LiveOrder
			corrID string
			leg    string
		)
		err := rows.Scan(
			&order.OrderHash,
			&order.Intent.MarketID,
			&order.Intent.Side,
			&order.Intent.Price,
			&order.Intent.Size,
			&order.Intent.TTLSeconds,
			&order.Intent.ClientOrderID,
			&corrID,
			&leg,
			&order.Status,
			&order.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		attachOrderMetadata(&order, corrID, leg)
		orders = append(orders, &order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// GetByStatus возвращает ордера с указанным статусом
func (r *OrderRepository) GetByStatus(status string) ([]*models.LiveOrder, error) {
	query := `
		SELECT order_hash, market_id, side, price, size, ttl_seconds, client_order_id, correlation_id, leg, status, created_at
		FROM orders
		WHERE status = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.LiveOrder
	for rows.Next() {
		var (
			order         models.LiveOrder
			correlationID string
			leg           string
		)
		err := rows.Scan(
			&order.OrderHash,
			&order.Intent.MarketID,
			&order.Intent.Side,
			&order.Intent.Price,
			&order.Intent.Size,
			&order.Intent.TTLSeconds,
			&order.Intent.ClientOrderID,
			&correlationID,
			&leg,
			&order.Status,
			&order.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		attachOrderMetadata(&order, correlationID, leg)
		orders = append(orders, &order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// GetActive возвращает ордера в нетерминальных статусах (pending, open).
// Используется при старте для отмены ордеров, осиротевших после рестарта.
func (r *OrderRepository) GetActive() ([]*models.LiveOrder, error) {
	query := `
		SELECT order_hash, market_id, side, price, size, ttl_seconds, client_order_id, correlation_id, leg, status, created_at
		FROM orders
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC`

	rows, err := r.db.Query(query, models.OrderStatusPending, models.OrderStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.LiveOrder
	for rows.Next() {
		var (
			order         models.LiveOrder
			correlationID string
			leg           string
		)
		err := rows.Scan(
			&order.OrderHash,
			&order.Intent.MarketID,
			&order.Intent.Side,
			&order.Intent.Price,
			&order.Intent.Size,
			&order.Intent.TTLSeconds,
			&order.Intent.ClientOrderID,
			&correlationID,
			&leg,
			&order.Status,
			&order.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		attachOrderMetadata(&order, correlationID, leg)
		orders = append(orders, &order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// GetRecent возвращает последние ордера
func (r *OrderRepository) GetRecent(limit int) ([]*models.LiveOrder, error) {
	query := `
		SELECT order_hash, market_id, side, price, size, ttl_seconds, client_order_id, correlation_id, leg, status, created_at
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.LiveOrder
	for rows.Next() {
		var (
			order         models.LiveOrder
			correlationID string
			leg           string
		)
		err := rows.Scan(
			&order.OrderHash,
			&order.Intent.MarketID,
			&order.Intent.Side,
			&order.Intent.Price,
			&order.Intent.Size,
			&order.Intent.TTLSeconds,
			&order.Intent.ClientOrderID,
			&correlationID,
			&leg,
			&order.Status,
			&order.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		attachOrderMetadata(&order, correlationID, leg)
		orders = append(orders, &order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// UpdateStatus обновляет статус ордера по хэшу
func (r *OrderRepository) UpdateStatus(orderHash, status string) error {
	query := `UPDATE orders SET status = $1, updated_at = NOW() WHERE order_hash = $2`

	result, err := r.db.Exec(query, status, orderHash)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrOrderNotFound
	}

	return nil
}

// Count возвращает общее количество ордеров
func (r *OrderRepository) Count() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CountByStatus возвращает количество ордеров с указанным статусом
func (r *OrderRepository) CountByStatus(status string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM orders WHERE status = $1`, status).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteOlderThan удаляет терминальные ордера старше указанного времени.
// Активные ордера не трогает независимо от возраста.
func (r *OrderRepository) DeleteOlderThan(timestamp time.Time) (int64, error) {
	query := `DELETE FROM orders WHERE created_at < $1 AND status IN ($2, $3, $4)`

	result, err := r.db.Exec(query, timestamp,
		models.OrderStatusFilled, models.OrderStatusCancelled, models.OrderStatusFailed)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// attachOrderMetadata восстанавливает метаданные из плоских колонок
func attachOrderMetadata(order *models.LiveOrder, correlationID, leg string) {
	if correlationID == "" && leg == "" {
		return
	}
	order.Intent.Metadata = make(map[string]string, 2)
	if correlationID != "" {
		order.Intent.Metadata[models.MetaCorrelationID] = correlationID
	}
	if leg != "" {
		order.Intent.Metadata[models.MetaLeg] = leg
	}
}
