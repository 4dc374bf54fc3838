package models

import "time"

// MarketMetadata представляет описание бинарного рынка из каталога биржи.
//
// Одна выплачиваемая сторона: при разрешении победившая доля стоит 1.00,
// проигравшая 0.00.
type MarketMetadata struct {
	MarketID    string    `json:"market_id" db:"market_id"`
	Title       string    `json:"title" db:"title"`             // например "Team A побеждает Team B"
	EventID     string    `json:"event_id" db:"event_id"`       // родительское событие (матч)
	YesTokenID  string    `json:"yes_token_id" db:"yes_token_id"` // id доли YES в книге
	NoTokenID   string    `json:"no_token_id" db:"no_token_id"`   // id доли NO в книге
	StartTime   time.Time `json:"start_time" db:"start_time"`
	Volume24h   float64   `json:"volume_24h" db:"volume_24h"`
	Liquidity   float64   `json:"liquidity" db:"liquidity"`
	Active      bool      `json:"active" db:"active"`
	Closed      bool      `json:"closed" db:"closed"`
	DiscoveredAt time.Time `json:"discovered_at" db:"discovered_at"`
}

// OrderBookSnapshot представляет моментальный срез стакана одной стороны.
//
// Указатели различают "нет данных" и нулевую цену: пустая сторона книги
// не то же самое, что цена 0. Nil-срез целиком означает, что данных по
// рынку еще не было.
type OrderBookSnapshot struct {
	MarketID       string     `json:"market_id"`
	BestBid        *float64   `json:"best_bid,omitempty"`
	BestAsk        *float64   `json:"best_ask,omitempty"`
	BidDepth       float64    `json:"bid_depth"` // суммарный размер на лучшем биде
	AskDepth       float64    `json:"ask_depth"` // суммарный размер на лучшем аске
	LastTradePrice *float64   `json:"last_trade_price,omitempty"`
	ReceivedAt     time.Time  `json:"received_at"`
}

// HasAsk возвращает true если в срезе есть пригодная цена предложения
func (s *OrderBookSnapshot) HasAsk() bool {
	return s != nil && s.BestAsk != nil && *s.BestAsk > 0
}

// HasBid возвращает true если в срезе есть пригодная цена спроса
func (s *OrderBookSnapshot) HasBid() bool {
	return s != nil && s.BestBid != nil && *s.BestBid > 0
}

// Ask возвращает лучшую цену предложения, 0 если данных нет
func (s *OrderBookSnapshot) Ask() float64 {
	if !s.HasAsk() {
		return 0
	}
	return *s.BestAsk
}

// Bid возвращает лучшую цену спроса, 0 если данных нет
func (s *OrderBookSnapshot) Bid() float64 {
	if !s.HasBid() {
		return 0
	}
	return *s.BestBid
}

// Mid возвращает середину спреда, 0 если какой-либо стороны нет
func (s *OrderBookSnapshot) Mid() float64 {
	if !s.HasAsk() || !s.HasBid() {
		return 0
	}
	return (*s.BestBid + *s.BestAsk) / 2
}

// Spread возвращает ширину спреда, 0 если какой-либо стороны нет
func (s *OrderBookSnapshot) Spread() float64 {
	if !s.HasAsk() || !s.HasBid() {
		return 0
	}
	return *s.BestAsk - *s.BestBid
}

// Age возвращает возраст среза относительно переданного момента
func (s *OrderBookSnapshot) Age(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	return now.Sub(s.ReceivedAt)
}

// Float64Ptr возвращает указатель на значение. Удобно для построения
// срезов в тестах и при разборе ответов биржи.
func Float64Ptr(v float64) *float64 {
	return &v
}
