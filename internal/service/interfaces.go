package service

import (
	"time"

	"straddle/internal/bot"
	"straddle/internal/models"
	"straddle/internal/repository"
)

// BlacklistRepositoryInterface определяет интерфейс репозитория черного списка
type BlacklistRepositoryInterface interface {
	Create(entry *models.BlacklistEntry) error
	GetAll() ([]*models.BlacklistEntry, error)
	GetByMarketID(marketID string) (*models.BlacklistEntry, error)
	Delete(marketID string) error
	Exists(marketID string) (bool, error)
	UpdateReason(marketID string, reason string) error
	Count() (int, error)
	DeleteAll() error
	Search(query string) ([]*models.BlacklistEntry, error)
}

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(notif *models.Notification) error
	GetRecent(limit int) ([]*models.Notification, error)
	GetByTypes(types []string, limit int) ([]*models.Notification, error)
	DeleteAll() error
	Count() (int, error)
	KeepRecent(keepCount int) (int64, error)
}

// StatsRepositoryInterface определяет интерфейс репозитория статистики
type StatsRepositoryInterface interface {
	GetPeriodStats(from, to time.Time) (int, float64, error)
	GetWinLossCounts() (int, int, error)
	CountExitsInRange(from, to time.Time) (int, error)
	CountResolutionsInRange(from, to time.Time) (int, error)
	GetTopMarketsByTrades(limit int) ([]*models.MarketStat, error)
	GetTopMarketsByProfit(limit int) ([]*models.MarketStat, error)
	GetTopMarketsByLoss(limit int) ([]*models.MarketStat, error)
	GetRecentExits(limit int) ([]models.ExitEvent, error)
	GetRecentResolutions(limit int) ([]models.ResolutionEvent, error)
	GetPnlByMarket(marketID string) (float64, error)
	ResetHistory() (int64, error)
}

// PositionRepositoryInterface определяет интерфейс репозитория позиций
type PositionRepositoryInterface interface {
	GetAll() ([]*models.StraddlePosition, error)
	GetByMarketID(marketID string) (*models.StraddlePosition, error)
	GetByState(state string) ([]*models.StraddlePosition, error)
	Count() (int, error)
	CountActive() (int, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ BlacklistRepositoryInterface = (*repository.BlacklistRepository)(nil)
var _ NotificationRepositoryInterface = (*repository.NotificationRepository)(nil)
var _ StatsRepositoryInterface = (*repository.StatsRepository)(nil)
var _ PositionRepositoryInterface = (*repository.PositionRepository)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// BlacklistServiceInterface определяет интерфейс сервиса черного списка
type BlacklistServiceInterface interface {
	AddToBlacklist(marketID, reason string) (*models.BlacklistEntry, error)
	GetBlacklist() ([]*models.BlacklistEntry, error)
	RemoveFromBlacklist(marketID string) error
	GetByMarketID(marketID string) (*models.BlacklistEntry, error)
	IsBlacklisted(marketID string) bool
	UpdateReason(marketID, reason string) error
	Search(query string) ([]*models.BlacklistEntry, error)
	GetCount() (int, error)
	ClearAll() error
}

// NotificationServiceInterface определяет интерфейс сервиса уведомлений
type NotificationServiceInterface interface {
	GetNotifications(types []string, limit int) ([]*models.Notification, error)
	ClearNotifications() error
	CreateNotification(notif *models.Notification) error
	GetNotificationCount() (int, error)
}

// StatsServiceInterface определяет интерфейс сервиса статистики
type StatsServiceInterface interface {
	GetStats() (*models.Stats, error)
	GetTopMarkets(metric string, limit int) ([]models.MarketStat, error)
	ResetStats() (int64, error)
}

// PositionServiceInterface определяет интерфейс сервиса позиций
type PositionServiceInterface interface {
	GetPositions(state string) ([]*models.StraddlePosition, error)
	GetPosition(marketID string) (*models.StraddlePosition, error)
	ResolvePosition(marketID, outcome string) (*models.StraddlePosition, error)
	EngineStatus() (bot.EngineStats, bool)
	RiskStatus() (bot.RiskStatus, bool)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ BlacklistServiceInterface = (*BlacklistService)(nil)
var _ NotificationServiceInterface = (*NotificationService)(nil)
var _ StatsServiceInterface = (*StatsService)(nil)
var _ PositionServiceInterface = (*PositionService)(nil)

// Сканер движка фильтрует кандидатов через кэш сервиса, без похода в БД
var _ bot.BlacklistChecker = (*BlacklistService)(nil)
