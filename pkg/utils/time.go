package utils

import (
	"time"
)

// time.go - границы периодов для агрегации статистики и проверка
// протухания ордеров. Вся арифметика в UTC: биржа и база живут в нем.

// DayStart возвращает начало дня (00:00:00 UTC), содержащего t.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// WeekStart возвращает понедельник 00:00:00 UTC недели, содержащей t
// (неделя по ISO 8601).
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	// Weekday считает воскресенье нулем, приводим отсчет к понедельнику
	daysBack := (int(t.Weekday()) + 6) % 7
	monday := t.AddDate(0, 0, -daysBack)
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthStart возвращает первое число 00:00:00 UTC месяца, содержащего t.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// IsExpired сообщает, прошло ли с момента createdAt больше ttl.
//
// Сметание неисполненных входных ордеров зовет его с TTL из конфига;
// now передается явно для тестируемости. Нулевой и отрицательный TTL
// отключают протухание.
func IsExpired(createdAt time.Time, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(createdAt) > ttl
}
