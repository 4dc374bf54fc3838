package bot

import "straddle/internal/models"

// ValidTransitions определяет допустимые переходы между состояниями.
// Движение только вперед: вернуться из EXITED в ENTERED нельзя.
var ValidTransitions = map[string][]string{
	models.StateWaitingEntry: {models.StateEntered},
	models.StateEntered:      {models.StateExited, models.StateResolved}, // Resolved если рынок разрешился до порога выхода
	models.StateExited:       {models.StateResolved},
	models.StateResolved:     {}, // Терминальное состояние
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s string) string {
	switch s {
	case models.StateWaitingEntry:
		return "Ожидание исполнения входных ордеров"
	case models.StateEntered:
		return "Обе ноги исполнены (мониторинг порога выхода)"
	case models.StateExited:
		return "Дешевая нога продана, фаворит ждет резолюции"
	case models.StateResolved:
		return "Рынок разрешен, PNL финализирован"
	default:
		return "Неизвестное состояние"
	}
}

// IsActive возвращает true пока позиция требует мониторинга
func IsActive(s string) bool {
	return s == models.StateWaitingEntry || s == models.StateEntered || s == models.StateExited
}

// HasOpenPosition возвращает true если на бирже удерживаются доли
func HasOpenPosition(s string) bool {
	return s == models.StateEntered || s == models.StateExited
}
