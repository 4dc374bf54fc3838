package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"straddle/internal/models"
)

// Ошибки репозитория черного списка
var (
	ErrBlacklistEntryNotFound = errors.New("blacklist entry not found")
	ErrBlacklistEntryExists   = errors.New("market already in blacklist")
)

// BlacklistRepository - работа с таблицей blacklist.
//
// Id рынков регистрозависимы, нормализация не выполняется.
type BlacklistRepository struct {
	db *sql.DB
}

// NewBlacklistRepository создает новый экземпляр репозитория
func NewBlacklistRepository(db *sql.DB) *BlacklistRepository {
	return &BlacklistRepository{db: db}
}

// Create добавляет рынок в черный список
func (r *BlacklistRepository) Create(entry *models.BlacklistEntry) error {
	query := `
		INSERT INTO blacklist (market_id, reason, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`

	entry.CreatedAt = time.Now()

	err := r.db.QueryRow(query, entry.MarketID, entry.Reason, entry.CreatedAt).Scan(&entry.ID)
	if isUniqueViolation(err) {
		return ErrBlacklistEntryExists
	}
	return err
}

// GetAll возвращает весь черный список, свежие записи первыми
func (r *BlacklistRepository) GetAll() ([]*models.BlacklistEntry, error) {
	query := `
		SELECT id, market_id, reason, created_at
		FROM blacklist
		ORDER BY created_at DESC`

	return r.queryEntries(query)
}

// GetByMarketID возвращает запись по id рынка
func (r *BlacklistRepository) GetByMarketID(marketID string) (*models.BlacklistEntry, error) {
	query := `
		SELECT id, market_id, reason, created_at
		FROM blacklist
		WHERE market_id = $1`

	entry := &models.BlacklistEntry{}
	err := r.db.QueryRow(query, marketID).Scan(
		&entry.ID,
		&entry.MarketID,
		&entry.Reason,
		&entry.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBlacklistEntryNotFound
		}
		return nil, err
	}

	return entry, nil
}

// Delete удаляет рынок из черного списка по id рынка
func (r *BlacklistRepository) Delete(marketID string) error {
	return r.execExpectingRow(`DELETE FROM blacklist WHERE market_id = $1`, marketID)
}

// Exists проверяет наличие рынка в черном списке
func (r *BlacklistRepository) Exists(marketID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM blacklist WHERE market_id = $1)`

	var exists bool
	if err := r.db.QueryRow(query, marketID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// UpdateReason обновляет причину добавления в черный список
func (r *BlacklistRepository) UpdateReason(marketID string, reason string) error {
	query := `
		UPDATE blacklist
		SET reason = $1
		WHERE market_id = $2`

	return r.execExpectingRow(query, reason, marketID)
}

// Count возвращает количество записей в черном списке
func (r *BlacklistRepository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM blacklist`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteAll очищает весь черный список
func (r *BlacklistRepository) DeleteAll() error {
	_, err := r.db.Exec(`DELETE FROM blacklist`)
	return err
}

// Search ищет записи по части id рынка
func (r *BlacklistRepository) Search(query string) ([]*models.BlacklistEntry, error) {
	sqlQuery := `
		SELECT id, market_id, reason, created_at
		FROM blacklist
		WHERE market_id LIKE $1
		ORDER BY market_id`

	return r.queryEntries(sqlQuery, "%"+query+"%")
}

// queryEntries выполняет выборку списка записей
func (r *BlacklistRepository) queryEntries(query string, args ...interface{}) ([]*models.BlacklistEntry, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.BlacklistEntry
	for rows.Next() {
		entry := &models.BlacklistEntry{}
		if err := rows.Scan(&entry.ID, &entry.MarketID, &entry.Reason, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// execExpectingRow выполняет запрос, обязанный затронуть хотя бы одну
// строку; ноль затронутых строк означает, что записи нет.
func (r *BlacklistRepository) execExpectingRow(query string, args ...interface{}) error {
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrBlacklistEntryNotFound
	}
	return nil
}

// isUniqueViolation распознает нарушение UNIQUE constraint постгреса
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}
