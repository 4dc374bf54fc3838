package models

import "time"

// StraddlePosition представляет стрэддл-позицию по бинарному рынку.
//
// Позиция держит обе стороны рынка одновременно (YES и NO ноги).
// Идентичность позиции - market_id: не более одной открытой позиции
// на рынок в любой момент времени.
type StraddlePosition struct {
	MarketID       string     `json:"market_id" db:"market_id"`
	YesEntryPrice  float64    `json:"yes_entry_price" db:"yes_entry_price"`   // цена входа YES ноги (0..1)
	NoEntryPrice   float64    `json:"no_entry_price" db:"no_entry_price"`     // цена входа NO ноги (0..1)
	YesSize        float64    `json:"yes_size" db:"yes_size"`                 // размер YES ноги в долях исхода
	NoSize         float64    `json:"no_size" db:"no_size"`                   // размер NO ноги
	CheapSide      string     `json:"cheap_side" db:"cheap_side"`             // YES или NO, дешевая нога
	FavoriteSide   string     `json:"favorite_side" db:"favorite_side"`       // противоположная (фаворит)
	State          string     `json:"state" db:"state"`                       // WAITING_ENTRY, ENTERED, EXITED, RESOLVED
	EntryTime      time.Time  `json:"entry_time" db:"entry_time"`
	LastUpdateTime time.Time  `json:"last_update_time" db:"last_update_time"`
	ExitPrice      *float64   `json:"exit_price,omitempty" db:"exit_price"`   // цена продажи дешевой ноги
	ExitTime       *time.Time `json:"exit_time,omitempty" db:"exit_time"`
	RealizedPnl    float64    `json:"realized_pnl" db:"realized_pnl"`         // со знаком: убыток отрицательный
	UnrealizedPnl  float64    `json:"unrealized_pnl" db:"unrealized_pnl"`
}

// Состояния позиции (state machine)
const (
	StateWaitingEntry = "WAITING_ENTRY" // обе ноги еще не подтверждены (позиция не материализована)
	StateEntered      = "ENTERED"       // обе ноги исполнены, мониторинг порога выхода
	StateExited       = "EXITED"        // дешевая нога продана, фаворит ждет резолюции рынка
	StateResolved     = "RESOLVED"      // рынок разрешен, PNL финализирован
)

// Стороны бинарного рынка
const (
	SideYes = "YES"
	SideNo  = "NO"
)

// Исходы резолюции рынка совпадают со сторонами: SideYes или SideNo.

// YesLegID возвращает синтетический идентификатор YES ноги рынка
func YesLegID(marketID string) string {
	return marketID + "-YES"
}

// NoLegID возвращает синтетический идентификатор NO ноги рынка
func NoLegID(marketID string) string {
	return marketID + "-NO"
}

// CheapEntryPrice возвращает цену входа дешевой ноги
func (p *StraddlePosition) CheapEntryPrice() float64 {
	if p.CheapSide == SideYes {
		return p.YesEntryPrice
	}
	return p.NoEntryPrice
}

// CheapSize возвращает размер дешевой ноги
func (p *StraddlePosition) CheapSize() float64 {
	if p.CheapSide == SideYes {
		return p.YesSize
	}
	return p.NoSize
}

// FavoriteEntryPrice возвращает цену входа ноги-фаворита
func (p *StraddlePosition) FavoriteEntryPrice() float64 {
	if p.FavoriteSide == SideYes {
		return p.YesEntryPrice
	}
	return p.NoEntryPrice
}

// FavoriteSize возвращает размер ноги-фаворита
func (p *StraddlePosition) FavoriteSize() float64 {
	if p.FavoriteSide == SideYes {
		return p.YesSize
	}
	return p.NoSize
}

// Exposure возвращает долларовую экспозицию позиции (обе ноги по цене входа)
func (p *StraddlePosition) Exposure() float64 {
	return p.YesEntryPrice*p.YesSize + p.NoEntryPrice*p.NoSize
}

// IsActive возвращает true пока рынок не разрешен
func (p *StraddlePosition) IsActive() bool {
	return p.State != StateResolved
}
