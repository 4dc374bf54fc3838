package models

import (
	"strings"
	"time"
)

// FillEvent представляет факт исполнения (полного или частичного) ордера.
//
// Приходит из канала исполнений биржи. MarketID наследует id ноги из
// ордера: суффикс -YES/-NO определяет, какая сторона исполнилась.
type FillEvent struct {
	OrderHash string    `json:"order_hash" db:"order_hash"`
	MarketID  string    `json:"market_id" db:"market_id"` // id ноги: <market>-YES или <market>-NO
	Side      string    `json:"side" db:"side"`           // BUY, SELL
	Price     float64   `json:"price" db:"price"`
	Size      float64   `json:"size" db:"size"`
	Fee       float64   `json:"fee" db:"fee"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// BaseMarketID возвращает id рынка без суффикса ноги
func (f *FillEvent) BaseMarketID() string {
	return TrimLegSuffix(f.MarketID)
}

// LegSide возвращает YES или NO по суффиксу id ноги, пустую строку
// если суффикса нет
func (f *FillEvent) LegSide() string {
	return LegSideOf(f.MarketID)
}

// TrimLegSuffix убирает суффикс -YES/-NO из id ноги
func TrimLegSuffix(legID string) string {
	switch LegSideOf(legID) {
	case SideYes:
		return strings.TrimSuffix(legID, "-YES")
	case SideNo:
		return strings.TrimSuffix(legID, "-NO")
	}
	return legID
}

// LegSideOf возвращает сторону по суффиксу id ноги
func LegSideOf(legID string) string {
	switch {
	case strings.HasSuffix(legID, "-YES"):
		return SideYes
	case strings.HasSuffix(legID, "-NO"):
		return SideNo
	}
	return ""
}
