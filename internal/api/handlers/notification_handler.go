package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"straddle/internal/models"
	"straddle/internal/service"
)

// Пагинация журнала. Лимит из query режется сверху, чтобы один запрос
// не выгребал весь журнал.
const (
	defaultNotificationLimit = 100
	maxNotificationLimit     = 500
)

// NotificationHandler отдаёт журнал событий бота: входы, выходы,
// резолюции, отмены, ошибки исполнения и паузы риск-менеджера.
//
// Endpoints:
// - GET /api/v1/notifications?types=entry,exit&limit=50
// - DELETE /api/v1/notifications
type NotificationHandler struct {
	notificationService service.NotificationServiceInterface
}

// NewNotificationHandler создает новый NotificationHandler с внедрением зависимости
func NewNotificationHandler(notificationService service.NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
	}
}

// NotificationDTO представляет уведомление в API
type NotificationDTO struct {
	ID        int                    `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	MarketID  *string                `json:"market_id,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

func toNotificationDTO(n *models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        n.ID,
		Timestamp: n.Timestamp.Format(time.RFC3339),
		Type:      n.Type,
		Severity:  n.Severity,
		MarketID:  n.MarketID,
		Message:   n.Message,
		Meta:      n.Meta,
	}
}

// GetNotificationsResponse представляет ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications []NotificationDTO `json:"notifications"`
	Total         int               `json:"total"`
}

// GetNotifications возвращает журнал событий, новые сверху.
//
// GET /api/v1/notifications
//
// Query параметры:
// - types: фильтр по типам через запятую, регистр не важен
//   (entry, exit, resolve, cancel, error, risk_pause, leg_fail, recovery)
// - limit: количество записей, по умолчанию 100, больше 500 не отдаём
//
// Пустой журнал - это 200 с пустым массивом, не ошибка.
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	types := parseTypeFilter(r.URL.Query().Get("types"))
	limit := parseLimit(r.URL.Query().Get("limit"))

	notifications, err := h.notificationService.GetNotifications(types, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get notifications: "+err.Error())
		return
	}

	dtos := make([]NotificationDTO, 0, len(notifications))
	for _, n := range notifications {
		dtos = append(dtos, toNotificationDTO(n))
	}

	respondJSON(w, http.StatusOK, GetNotificationsResponse{
		Notifications: dtos,
		Total:         len(dtos),
	})
}

// ClearNotifications очищает журнал уведомлений.
//
// DELETE /api/v1/notifications
//
// Действие необратимо: журнал в базе удаляется целиком.
func (h *NotificationHandler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := h.notificationService.ClearNotifications(); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to clear notifications: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{
		Message: "Notifications cleared successfully",
	})
}

// parseTypeFilter разбирает список типов из query.
// Типы в базе хранятся в верхнем регистре, фильтр приводим к нему же.
// Неизвестные типы не отсекаются: запрос с опечаткой вернет пустой
// список, а не 400.
func parseTypeFilter(raw string) []string {
	if raw == "" {
		return nil
	}
	var types []string
	for _, part := range strings.Split(raw, ",") {
		if t := strings.TrimSpace(part); t != "" {
			types = append(types, strings.ToUpper(t))
		}
	}
	return types
}

// parseLimit разбирает лимит пагинации и режет его границами.
// Мусор в параметре трактуется как отсутствие параметра.
func parseLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		return maxNotificationLimit
	}
	return limit
}
