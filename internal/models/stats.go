package models

import "time"

// Stats представляет агрегированную статистику торговли
type Stats struct {
	TotalPositions     int             `json:"total_positions"`
	TotalPnl           float64         `json:"total_pnl"`
	TodayPositions     int             `json:"today_positions"`
	TodayPnl           float64         `json:"today_pnl"`
	WeekPositions      int             `json:"week_positions"`
	WeekPnl            float64         `json:"week_pnl"`
	MonthPositions     int             `json:"month_positions"`
	MonthPnl           float64         `json:"month_pnl"`
	ExitStats          ExitStats       `json:"exit_stats"`
	ResolutionStats    ResolutionStats `json:"resolution_stats"`
	TopMarketsByTrades []MarketStat    `json:"top_markets_by_trades"` // топ-5
	TopMarketsByProfit []MarketStat    `json:"top_markets_by_profit"` // топ-5
	TopMarketsByLoss   []MarketStat    `json:"top_markets_by_loss"`   // топ-5
}

// ExitStats представляет статистику продаж дешевой стороны
type ExitStats struct {
	Today  int         `json:"today"`
	Week   int         `json:"week"`
	Month  int         `json:"month"`
	Events []ExitEvent `json:"events"`
}

// ExitEvent представляет событие продажи дешевой стороны
type ExitEvent struct {
	MarketID  string    `json:"market_id"`
	Side      string    `json:"side"`  // какая нога была дешевой
	Price     float64   `json:"price"` // цена продажи
	Timestamp time.Time `json:"timestamp"`
}

// ResolutionStats представляет статистику разрешений рынков
type ResolutionStats struct {
	Today  int               `json:"today"`
	Week   int               `json:"week"`
	Month  int               `json:"month"`
	Wins   int               `json:"wins"`   // фаворит совпал с исходом
	Losses int               `json:"losses"` // фаворит проиграл
	Events []ResolutionEvent `json:"events"`
}

// ResolutionEvent представляет событие разрешения рынка
type ResolutionEvent struct {
	MarketID  string    `json:"market_id"`
	Outcome   string    `json:"outcome"`  // победившая сторона
	Favorite  string    `json:"favorite"` // удерживаемая сторона
	Payout    float64   `json:"payout"`   // зачисленная выплата
	Timestamp time.Time `json:"timestamp"`
}

// MarketStat представляет статистику по рынку
type MarketStat struct {
	MarketID string  `json:"market_id"`
	Title    string  `json:"title,omitempty"`
	Value    float64 `json:"value"` // количество позиций или PNL
}
