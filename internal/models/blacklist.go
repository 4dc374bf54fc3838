package models

import "time"

// BlacklistEntry представляет запись в черном списке рынков
type BlacklistEntry struct {
	ID        int       `json:"id" db:"id"`
	MarketID  string    `json:"market_id" db:"market_id"` // рынок, исключенный из сканирования
	Reason    string    `json:"reason" db:"reason"`       // пользовательская заметка
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
