package models

import "time"

// OrderIntent представляет желаемый ордер до отправки на биржу.
//
// Неизменяем после создания. ClientOrderID - идемпотентный токен,
// генерируется на стороне бота и передается бирже при отправке.
type OrderIntent struct {
	MarketID      string            `json:"market_id" db:"market_id"`           // id рынка или синтетической ноги (<market>-YES / <market>-NO)
	Side          string            `json:"side" db:"side"`                     // BUY, SELL
	Price         float64           `json:"price" db:"price"`                   // в диапазоне [0, 1]
	Size          float64           `json:"size" db:"size"`                     // количество долей, > 0
	TTLSeconds    int               `json:"ttl_seconds" db:"ttl_seconds"`       // время жизни ордера
	ClientOrderID string            `json:"client_order_id" db:"client_order_id"`
	Metadata      map[string]string `json:"metadata,omitempty"`                 // JSON в БД
}

// LiveOrder представляет ордер, переданный в работу бирже.
//
// OrderHash назначается биржей и пустой до принятия (или навсегда при
// status=failed). Статус мутирует только протокол исполнения.
type LiveOrder struct {
	OrderHash string      `json:"order_hash" db:"order_hash"`
	Intent    OrderIntent `json:"intent"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	Status    string      `json:"status" db:"status"` // pending, open, filled, cancelled, failed
}

// Стороны ордера
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

// Статусы ордера
const (
	OrderStatusPending   = "pending"   // принят биржей, ждет матчинга
	OrderStatusOpen      = "open"      // стоит в стакане
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusFailed    = "failed" // отправка исчерпала retry, ордер не существует на бирже
)

// Ключи метаданных ордера
const (
	MetaCorrelationID = "correlation_id" // связывает пару входных ордеров одного стрэддла
	MetaLeg           = "leg"            // YES или NO
	MetaExitThreshold = "exit_threshold" // порог, по которому сгенерирован выходной ордер
	MetaExitSide      = "exit_side"      // дешевая сторона на момент выхода
)

// IsTerminalOrderStatus возвращает true для статусов, после которых
// ордер больше не изменится
func IsTerminalOrderStatus(status string) bool {
	return status == OrderStatusFilled || status == OrderStatusCancelled || status == OrderStatusFailed
}

// IsTerminal возвращает true если ордер достиг конечного статуса
func (o *LiveOrder) IsTerminal() bool {
	return IsTerminalOrderStatus(o.Status)
}

// IsFilled возвращает true если ордер полностью исполнен
func (o *LiveOrder) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// FailedOrder создает синтетический LiveOrder со статусом failed.
//
// Используется когда отправка исчерпала все попытки: вызывающий код
// ветвится по статусу вместо обработки транспортных ошибок.
func FailedOrder(intent OrderIntent) LiveOrder {
	return LiveOrder{
		OrderHash: "",
		Intent:    intent,
		CreatedAt: time.Now().UTC(),
		Status:    OrderStatusFailed,
	}
}
