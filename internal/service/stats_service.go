package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"straddle/internal/models"
	"straddle/pkg/utils"
)

// recentEventsLimit - сколько последних событий попадает в сводку
const recentEventsLimit = 10

// StatsBroadcaster - интерфейс для отправки обновлений статистики через WebSocket
type StatsBroadcaster interface {
	BroadcastStatsUpdate(stats *models.Stats)
}

// StatsService предоставляет бизнес-логику для работы со статистикой.
//
// Функции:
// - GetStats: собрать полную агрегированную сводку
// - GetTopMarkets: топ рынков по указанной метрике
// - ResetStats: сброс истории завершенных позиций
// - RunBroadcaster: периодическая рассылка сводки через WebSocket
//
// Отдельной таблицы статистики нет, сводка каждый раз собирается
// из positions и fills. Объемы у бота небольшие (единицы входов в
// час), поэтому пересборка по запросу дешевле инкрементальных
// счетчиков.
type StatsService struct {
	statsRepo StatsRepositoryInterface
	wsHub     StatsBroadcaster
	log       zerolog.Logger
}

// NewStatsService создает новый экземпляр StatsService
func NewStatsService(statsRepo StatsRepositoryInterface, log zerolog.Logger) *StatsService {
	return &StatsService{
		statsRepo: statsRepo,
		log:       log.With().Str("component", "stats_service").Logger(),
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast статистики.
//
// Вызывается после инициализации Hub в main.go:
//
//	statsService := service.NewStatsService(statsRepo, logger)
//	statsService.SetWebSocketHub(wsHub)
func (s *StatsService) SetWebSocketHub(hub StatsBroadcaster) {
	s.wsHub = hub
}

// GetStats возвращает полную агрегированную статистику.
//
// Включает:
// - Количество позиций и PNL (сегодня/неделя/месяц/всего)
// - Счетчики продаж дешевой стороны + последние события
// - Счетчики разрешений, победы/поражения фаворита + последние события
// - Топ-5 рынков по исполнениям, прибыли и убыткам
//
// Календарные окна: сегодня - с полуночи, неделя - с понедельника,
// месяц - с первого числа.
func (s *StatsService) GetStats() (*models.Stats, error) {
	now := time.Now()
	dayStart := utils.DayStart(now)
	weekStart := utils.WeekStart(now)
	monthStart := utils.MonthStart(now)

	stats := &models.Stats{}

	var err error
	stats.TotalPositions, stats.TotalPnl, err = s.statsRepo.GetPeriodStats(time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	stats.TodayPositions, stats.TodayPnl, err = s.statsRepo.GetPeriodStats(dayStart, now)
	if err != nil {
		return nil, err
	}
	stats.WeekPositions, stats.WeekPnl, err = s.statsRepo.GetPeriodStats(weekStart, now)
	if err != nil {
		return nil, err
	}
	stats.MonthPositions, stats.MonthPnl, err = s.statsRepo.GetPeriodStats(monthStart, now)
	if err != nil {
		return nil, err
	}

	// Продажи дешевой стороны
	exits := models.ExitStats{}
	exits.Today, err = s.statsRepo.CountExitsInRange(dayStart, now)
	if err != nil {
		return nil, err
	}
	exits.Week, err = s.statsRepo.CountExitsInRange(weekStart, now)
	if err != nil {
		return nil, err
	}
	exits.Month, err = s.statsRepo.CountExitsInRange(monthStart, now)
	if err != nil {
		return nil, err
	}
	exits.Events, err = s.statsRepo.GetRecentExits(recentEventsLimit)
	if err != nil {
		return nil, err
	}
	if exits.Events == nil {
		exits.Events = []models.ExitEvent{}
	}
	stats.ExitStats = exits

	// Разрешения рынков
	resolutions := models.ResolutionStats{}
	resolutions.Today, err = s.statsRepo.CountResolutionsInRange(dayStart, now)
	if err != nil {
		return nil, err
	}
	resolutions.Week, err = s.statsRepo.CountResolutionsInRange(weekStart, now)
	if err != nil {
		return nil, err
	}
	resolutions.Month, err = s.statsRepo.CountResolutionsInRange(monthStart, now)
	if err != nil {
		return nil, err
	}
	resolutions.Wins, resolutions.Losses, err = s.statsRepo.GetWinLossCounts()
	if err != nil {
		return nil, err
	}
	resolutions.Events, err = s.statsRepo.GetRecentResolutions(recentEventsLimit)
	if err != nil {
		return nil, err
	}
	if resolutions.Events == nil {
		resolutions.Events = []models.ResolutionEvent{}
	}
	stats.ResolutionStats = resolutions

	// Топы рынков
	topTrades, err := s.statsRepo.GetTopMarketsByTrades(5)
	if err != nil {
		return nil, err
	}
	topProfit, err := s.statsRepo.GetTopMarketsByProfit(5)
	if err != nil {
		return nil, err
	}
	topLoss, err := s.statsRepo.GetTopMarketsByLoss(5)
	if err != nil {
		return nil, err
	}
	stats.TopMarketsByTrades = derefMarketStats(topTrades)
	stats.TopMarketsByProfit = derefMarketStats(topProfit)
	stats.TopMarketsByLoss = derefMarketStats(topLoss)

	return stats, nil
}

// GetTopMarkets возвращает топ рынков по указанной метрике.
//
// Поддерживаемые метрики:
// - "trades": рынки с наибольшим количеством исполнений
// - "profit": рынки с наибольшей прибылью (PNL > 0)
// - "loss": рынки с наибольшими убытками (PNL < 0)
//
// Возвращает массив MarketStat с полями MarketID и Value.
func (s *StatsService) GetTopMarkets(metric string, limit int) ([]models.MarketStat, error) {
	if limit <= 0 {
		limit = 5
	}

	var (
		stats []*models.MarketStat
		err   error
	)

	switch metric {
	case "trades":
		stats, err = s.statsRepo.GetTopMarketsByTrades(limit)
	case "profit":
		stats, err = s.statsRepo.GetTopMarketsByProfit(limit)
	case "loss":
		stats, err = s.statsRepo.GetTopMarketsByLoss(limit)
	default:
		// По умолчанию возвращаем топ по исполнениям
		stats, err = s.statsRepo.GetTopMarketsByTrades(limit)
	}
	if err != nil {
		return nil, err
	}

	return derefMarketStats(stats), nil
}

// ResetStats сбрасывает историю завершенных позиций.
//
// ВАЖНО: Это действие необратимо!
// Удаляет разрешенные позиции и их исполнения, активные позиции не
// затрагиваются. Используется по явному запросу оператора.
// После сброса отправляет statsUpdate через WebSocket.
func (s *StatsService) ResetStats() (int64, error) {
	deleted, err := s.statsRepo.ResetHistory()
	if err != nil {
		return 0, err
	}

	s.log.Info().Int64("deleted_positions", deleted).Msg("история статистики сброшена")

	// Broadcast обнуленной статистики через WebSocket
	if s.wsHub != nil {
		stats, err := s.GetStats()
		if err == nil && stats != nil {
			s.wsHub.BroadcastStatsUpdate(stats)
		}
	}

	return deleted, nil
}

// GetPnlByMarket возвращает суммарный реализованный PNL рынка.
func (s *StatsService) GetPnlByMarket(marketID string) (float64, error) {
	return s.statsRepo.GetPnlByMarket(marketID)
}

// RunBroadcaster периодически рассылает сводку подписчикам дашборда.
//
// Запускается одной горутиной из main и живет до отмены контекста.
// Если hub не установлен, горутина просто тикает вхолостую.
func (s *StatsService) RunBroadcaster(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast()
		}
	}
}

// broadcast собирает свежую сводку и отправляет в hub
func (s *StatsService) broadcast() {
	if s.wsHub == nil {
		return
	}

	stats, err := s.GetStats()
	if err != nil {
		s.log.Warn().Err(err).Msg("не удалось собрать статистику для рассылки")
		return
	}

	s.wsHub.BroadcastStatsUpdate(stats)
}

// derefMarketStats переводит результат репозитория в значения для JSON ответа
func derefMarketStats(stats []*models.MarketStat) []models.MarketStat {
	out := make([]models.MarketStat, 0, len(stats))
	for _, st := range stats {
		if st != nil {
			out = append(out, *st)
		}
	}
	return out
}
