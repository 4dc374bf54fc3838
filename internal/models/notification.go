package models

import "time"

// Notification представляет уведомление о событии
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`             // ENTRY, EXIT, RESOLVE, CANCEL, ERROR, RISK_PAUSE, LEG_FAIL
	Severity  string                 `json:"severity" db:"severity"`     // info, warn, error
	MarketID  *string                `json:"market_id,omitempty" db:"market_id"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"`   // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeEntry     = "ENTRY"      // вход в стрэддл (обе ноги исполнены)
	NotificationTypeExit      = "EXIT"       // продажа дешевой стороны
	NotificationTypeResolve   = "RESOLVE"    // разрешение рынка
	NotificationTypeCancel    = "CANCEL"     // отмена неисполненных ордеров
	NotificationTypeError     = "ERROR"      // ошибка API/ордера
	NotificationTypeRiskPause = "RISK_PAUSE" // просадка превысила лимит
	NotificationTypeLegFail   = "LEG_FAIL"   // исполнилась только одна нога входа
	NotificationTypeRecovery  = "RECOVERY"   // итоги восстановления после рестарта
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
