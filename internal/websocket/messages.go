package websocket

import (
	"time"

	"straddle/internal/bot"
	"straddle/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypePositionUpdate - обновление состояния позиции стрэддла
	// Отправляется при каждом переходе state machine и раз в тик
	// для позиций с открытым фаворитом (актуализация unrealized PNL)
	MessageTypePositionUpdate MessageType = "positionUpdate"

	// MessageTypeNotification - новое уведомление
	// Отправляется при событиях: вход, выход, резолюция, отмена, ошибки
	MessageTypeNotification MessageType = "notification"

	// MessageTypeStatsUpdate - обновление статистики торговли
	// Отправляется периодически (STATS_UPDATE_FREQ) и после сброса истории
	MessageTypeStatsUpdate MessageType = "statsUpdate"

	// MessageTypeRiskUpdate - обновление состояния риск-менеджера
	// Отправляется движком вместе с пачкой positionUpdate раз в тик
	MessageTypeRiskUpdate MessageType = "riskUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// PositionUpdateMessage - сообщение об обновлении позиции стрэддла
//
// Содержит актуальное состояние позиции:
// - Состояние state machine (ENTERED, EXITED, RESOLVED)
// - Цены и размеры обеих ног входа
// - Реализованный и нереализованный PNL
//
// Отправляется при входе, выходе, резолюции и периодически для
// позиций, удерживающих фаворита до разрешения рынка
type PositionUpdateMessage struct {
	BaseMessage
	MarketID string              `json:"market_id"`
	Data     *PositionUpdateData `json:"data"`
}

// PositionUpdateData - данные обновления позиции
type PositionUpdateData struct {
	// Состояние позиции (WAITING_ENTRY, ENTERED, EXITED, RESOLVED)
	State string `json:"state"`

	// Цены входа ног (0..1)
	YesEntryPrice float64 `json:"yes_entry_price"`
	NoEntryPrice  float64 `json:"no_entry_price"`

	// Размеры ног в долях исхода
	YesSize float64 `json:"yes_size"`
	NoSize  float64 `json:"no_size"`

	// Дешевая нога (продается по порогу выхода)
	CheapSide string `json:"cheap_side"`

	// Фаворит (удерживается до резолюции)
	FavoriteSide string `json:"favorite_side"`

	// Цена продажи дешевой ноги (после выхода)
	ExitPrice *float64 `json:"exit_price,omitempty"`

	// Реализованный PNL (со знаком, убыток отрицательный)
	RealizedPnl float64 `json:"realized_pnl"`

	// Нереализованный PNL открытой части
	UnrealizedPnl float64 `json:"unrealized_pnl"`

	// Время последнего обновления
	LastUpdate time.Time `json:"last_update"`
}

// NotificationMessage - сообщение о новом уведомлении
//
// Содержит информацию о событии:
// - Тип события (ENTRY, EXIT, RESOLVE, CANCEL, ERROR, и т.д.)
// - Уровень важности (info, warn, error)
// - Текст сообщения
// - Дополнительные метаданные
type NotificationMessage struct {
	BaseMessage
	Data *NotificationData `json:"data"`
}

// NotificationData - данные уведомления
type NotificationData struct {
	// ID уведомления в БД
	ID int `json:"id"`

	// Тип уведомления (ENTRY, EXIT, RESOLVE, CANCEL, ERROR, RISK_PAUSE, LEG_FAIL, RECOVERY)
	Type string `json:"type"`

	// Уровень важности (info, warn, error)
	Severity string `json:"severity"`

	// ID связанного рынка (если применимо)
	MarketID *string `json:"market_id,omitempty"`

	// Текст сообщения
	Message string `json:"message"`

	// Дополнительные метаданные (цены, размеры, PNL и т.д.)
	Meta map[string]interface{} `json:"meta,omitempty"`

	// Время создания уведомления
	Timestamp time.Time `json:"timestamp"`
}

// StatsUpdateMessage - сообщение об обновлении статистики
//
// Отправляется периодически фоновым рассыльщиком статистики
// Содержит агрегированные счетчики без списков событий:
// полные данные доступны через REST /api/v1/stats
type StatsUpdateMessage struct {
	BaseMessage
	Data *StatsUpdateData `json:"data"`
}

// StatsUpdateData - данные статистики
type StatsUpdateData struct {
	// Количество позиций по периодам
	TodayPositions int `json:"today_positions"`
	WeekPositions  int `json:"week_positions"`
	MonthPositions int `json:"month_positions"`
	TotalPositions int `json:"total_positions"`

	// PNL по периодам
	TodayPnl float64 `json:"today_pnl"`
	WeekPnl  float64 `json:"week_pnl"`
	MonthPnl float64 `json:"month_pnl"`
	TotalPnl float64 `json:"total_pnl"`

	// Продажи дешевой стороны
	ExitsToday int `json:"exits_today"`
	ExitsWeek  int `json:"exits_week"`
	ExitsMonth int `json:"exits_month"`

	// Разрешения рынков
	ResolutionsToday int `json:"resolutions_today"`
	ResolutionsWeek  int `json:"resolutions_week"`
	ResolutionsMonth int `json:"resolutions_month"`

	// Исходы резолюций относительно удерживаемого фаворита
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

// RiskUpdateMessage - сообщение о состоянии риск-менеджера
//
// Отправляется движком раз в тик вместе с обновлениями позиций
// Позволяет frontend отображать банкролл и просадку в реальном времени
type RiskUpdateMessage struct {
	BaseMessage
	Data *RiskUpdateData `json:"data"`
}

// RiskUpdateData - данные риск-менеджера
type RiskUpdateData struct {
	// Текущий банкролл
	Bankroll float64 `json:"bankroll"`

	// Стартовый банкролл (база для расчета просадки)
	InitialBankroll float64 `json:"initial_bankroll"`

	// Суммарная экспозиция активных позиций
	TotalExposure float64 `json:"total_exposure"`

	// Количество активных позиций
	ActivePositions int `json:"active_positions"`

	// Просадка от пика банкролла (0..1)
	Drawdown float64 `json:"drawdown"`

	// Превышен лимит просадки, входы приостановлены
	PauseAdvised bool `json:"pause_advised"`
}

// ============ Фабричные функции для создания сообщений ============

// NewPositionUpdateMessage создает сообщение обновления позиции
func NewPositionUpdateMessage(pos *models.StraddlePosition) *PositionUpdateMessage {
	return &PositionUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypePositionUpdate,
			Timestamp: time.Now(),
		},
		MarketID: pos.MarketID,
		Data: &PositionUpdateData{
			State:         pos.State,
			YesEntryPrice: pos.YesEntryPrice,
			NoEntryPrice:  pos.NoEntryPrice,
			YesSize:       pos.YesSize,
			NoSize:        pos.NoSize,
			CheapSide:     pos.CheapSide,
			FavoriteSide:  pos.FavoriteSide,
			ExitPrice:     pos.ExitPrice,
			RealizedPnl:   pos.RealizedPnl,
			UnrealizedPnl: pos.UnrealizedPnl,
			LastUpdate:    pos.LastUpdateTime,
		},
	}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			Timestamp: time.Now(),
		},
		Data: &NotificationData{
			ID:        notif.ID,
			Type:      notif.Type,
			Severity:  notif.Severity,
			MarketID:  notif.MarketID,
			Message:   notif.Message,
			Meta:      notif.Meta,
			Timestamp: notif.Timestamp,
		},
	}
}

// NewStatsUpdateMessage создает сообщение обновления статистики
func NewStatsUpdateMessage(stats *models.Stats) *StatsUpdateMessage {
	return &StatsUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeStatsUpdate,
			Timestamp: time.Now(),
		},
		Data: &StatsUpdateData{
			TodayPositions: stats.TodayPositions,
			WeekPositions:  stats.WeekPositions,
			MonthPositions: stats.MonthPositions,
			TotalPositions: stats.TotalPositions,

			TodayPnl: stats.TodayPnl,
			WeekPnl:  stats.WeekPnl,
			MonthPnl: stats.MonthPnl,
			TotalPnl: stats.TotalPnl,

			ExitsToday: stats.ExitStats.Today,
			ExitsWeek:  stats.ExitStats.Week,
			ExitsMonth: stats.ExitStats.Month,

			ResolutionsToday: stats.ResolutionStats.Today,
			ResolutionsWeek:  stats.ResolutionStats.Week,
			ResolutionsMonth: stats.ResolutionStats.Month,

			Wins:   stats.ResolutionStats.Wins,
			Losses: stats.ResolutionStats.Losses,
		},
	}
}

// NewRiskUpdateMessage создает сообщение состояния риск-менеджера
func NewRiskUpdateMessage(status bot.RiskStatus) *RiskUpdateMessage {
	return &RiskUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeRiskUpdate,
			Timestamp: time.Now(),
		},
		Data: &RiskUpdateData{
			Bankroll:        status.Bankroll,
			InitialBankroll: status.InitialBankroll,
			TotalExposure:   status.TotalExposure,
			ActivePositions: status.ActivePositions,
			Drawdown:        status.Drawdown,
			PauseAdvised:    status.PauseAdvised,
		},
	}
}
