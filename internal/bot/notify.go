package bot

import "straddle/internal/models"

// enqueueNotification кладет уведомление в канал, не блокируя
// торговый цикл. Потерянное из-за полного буфера событие попадает
// в метрики переполнения, вызывающий решает, что писать в лог.
func enqueueNotification(ch chan<- *models.Notification, n *models.Notification) bool {
	if ch == nil || n == nil {
		return false
	}

	select {
	case ch <- n:
		return true
	default:
	}

	RecordBufferOverflow("notification")
	RecordBufferBacklog("notification", cap(ch), len(ch))
	return false
}
