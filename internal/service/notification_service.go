package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"straddle/internal/models"
)

const (
	// keepRecentNotifications - сколько последних записей переживает подрезку журнала
	keepRecentNotifications = 500

	// notificationCleanupPeriod - как часто диспетчер подрезает журнал
	notificationCleanupPeriod = 10 * time.Minute
)

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(notif *models.Notification)
}

// NotificationService предоставляет бизнес-логику для управления уведомлениями.
//
// Отвечает за:
// - Прием событий движка из канала и запись их в журнал
// - Получение списка уведомлений с фильтрацией
// - Очистку журнала уведомлений
// - Broadcast уведомлений через WebSocket
//
// Типы уведомлений:
// - ENTRY: вход в стредл (обе ноги исполнены)
// - EXIT: продажа дешевой стороны по порогу
// - RESOLVE: разрешение рынка
// - CANCEL: отмена входной пары (вторая нога не исполнилась)
// - ERROR: ошибка API/ордера
// - RISK_PAUSE: вход заблокирован риск-менеджером
// - LEG_FAIL: нога не выставилась или отклонена биржей
// - RECOVERY: итоги восстановления после рестарта
type NotificationService struct {
	notificationRepo NotificationRepositoryInterface
	wsHub            WebSocketBroadcaster
	log              zerolog.Logger
}

// NewNotificationService создает новый экземпляр NotificationService.
func NewNotificationService(notificationRepo NotificationRepositoryInterface, log zerolog.Logger) *NotificationService {
	return &NotificationService{
		notificationRepo: notificationRepo,
		log:              log.With().Str("component", "notification_service").Logger(),
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
//
// Вызывается после инициализации Hub в main.go:
//
//	notifService := service.NewNotificationService(notifRepo, logger)
//	notifService.SetWebSocketHub(wsHub)
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// Run потребляет события движка до отмены контекста.
//
// Каждое событие записывается в журнал и рассылается подписчикам
// дашборда. Раз в notificationCleanupPeriod журнал подрезается до
// последних keepRecentNotifications записей. Запускается одной
// горутиной из main.
func (s *NotificationService) Run(ctx context.Context, events <-chan *models.Notification) {
	ticker := time.NewTicker(notificationCleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Дочитываем буфер, чтобы не потерять события при остановке
			s.drain(events)
			return
		case notif, ok := <-events:
			if !ok {
				return
			}
			s.record(notif)
		case <-ticker.C:
			removed, err := s.CleanupOld(keepRecentNotifications)
			if err != nil {
				s.log.Warn().Err(err).Msg("очистка журнала уведомлений не удалась")
			} else if removed > 0 {
				s.log.Debug().Int64("removed", removed).Msg("журнал уведомлений подрезан")
			}
		}
	}
}

// record пишет событие в журнал, ошибка не останавливает диспетчер
func (s *NotificationService) record(notif *models.Notification) {
	if notif == nil {
		return
	}
	if err := s.CreateNotification(notif); err != nil {
		s.log.Error().Err(err).
			Str("type", notif.Type).
			Str("message", notif.Message).
			Msg("не удалось записать уведомление")
	}
}

// drain дочитывает оставшиеся события канала без блокировки
func (s *NotificationService) drain(events <-chan *models.Notification) {
	for {
		select {
		case notif, ok := <-events:
			if !ok {
				return
			}
			s.record(notif)
		default:
			return
		}
	}
}

// CreateNotification создает новое уведомление.
//
// После успешной записи в БД отправляет broadcast через WebSocket
// (если hub настроен).
//
// Параметры:
// - notif: данные уведомления (Type, Severity, MarketID, Message, Meta)
func (s *NotificationService) CreateNotification(notif *models.Notification) error {
	if err := s.notificationRepo.Create(notif); err != nil {
		return err
	}

	// Broadcast через WebSocket hub для real-time обновления UI
	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(notif)
	}

	return nil
}

// GetNotifications возвращает список уведомлений с фильтрацией.
//
// Параметры:
// - types: список типов для фильтрации (например: ["ENTRY", "EXIT", "RESOLVE"])
//          если пустой - возвращаются все типы
// - limit: максимальное количество записей (по умолчанию 100)
//
// Возвращает уведомления отсортированные по времени (новые сверху).
func (s *NotificationService) GetNotifications(types []string, limit int) ([]*models.Notification, error) {
	// Устанавливаем дефолтный лимит
	if limit <= 0 {
		limit = 100
	}

	// Ограничиваем максимальный лимит
	if limit > 500 {
		limit = 500
	}

	// Нормализуем типы (приводим к верхнему регистру)
	normalizedTypes := make([]string, 0, len(types))
	for _, t := range types {
		normalized := strings.ToUpper(strings.TrimSpace(t))
		if normalized != "" && s.isValidNotificationType(normalized) {
			normalizedTypes = append(normalizedTypes, normalized)
		}
	}

	// Если типы указаны, фильтруем по ним
	if len(normalizedTypes) > 0 {
		return s.notificationRepo.GetByTypes(normalizedTypes, limit)
	}

	// Если типы не указаны, возвращаем все
	return s.notificationRepo.GetRecent(limit)
}

// ClearNotifications очищает журнал уведомлений.
//
// Удаляет все уведомления из базы данных.
func (s *NotificationService) ClearNotifications() error {
	return s.notificationRepo.DeleteAll()
}

// GetNotificationCount возвращает общее количество уведомлений.
func (s *NotificationService) GetNotificationCount() (int, error) {
	return s.notificationRepo.Count()
}

// CleanupOld удаляет уведомления, оставляя только последние N записей.
//
// Используется диспетчером для автоматической подрезки журнала.
func (s *NotificationService) CleanupOld(keepCount int) (int64, error) {
	if keepCount <= 0 {
		keepCount = keepRecentNotifications
	}
	return s.notificationRepo.KeepRecent(keepCount)
}

// isValidNotificationType проверяет, является ли тип допустимым.
func (s *NotificationService) isValidNotificationType(notifType string) bool {
	validTypes := map[string]bool{
		models.NotificationTypeEntry:     true,
		models.NotificationTypeExit:      true,
		models.NotificationTypeResolve:   true,
		models.NotificationTypeCancel:    true,
		models.NotificationTypeError:     true,
		models.NotificationTypeRiskPause: true,
		models.NotificationTypeLegFail:   true,
		models.NotificationTypeRecovery:  true,
	}
	return validTypes[strings.ToUpper(notifType)]
}
