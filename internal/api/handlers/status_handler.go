package handlers

import (
	"encoding/json"
	"net/http"

	"straddle/internal/bot"
	"straddle/internal/service"
)

// StatusResponse - сводка рабочего состояния бота
type StatusResponse struct {
	Engine bot.EngineStats `json:"engine"`
	Risk   *bot.RiskStatus `json:"risk,omitempty"`
}

// StatusHandler отвечает за статус торгового движка
//
// Endpoints:
// - GET /api/v1/status - текущее состояние движка и риск-менеджера
//
// Назначение:
// Один endpoint для дашборда и мониторинга: работает ли движок,
// сколько тиков/входов/выходов он сделал, сколько рынков удерживается,
// и снимок риск-менеджера (bankroll, exposure, drawdown, pause).
// Реальные деньги в работе - оператору нужен быстрый ответ на вопрос
// "бот жив и торгует?".
type StatusHandler struct {
	positionService service.PositionServiceInterface
}

// NewStatusHandler создает новый StatusHandler
func NewStatusHandler(positionService service.PositionServiceInterface) *StatusHandler {
	return &StatusHandler{
		positionService: positionService,
	}
}

// GetStatus возвращает состояние движка и риск-менеджера
// GET /api/v1/status
//
// Ответ:
//
//	{
//	  "engine": {
//	    "running": true,
//	    "ticks": 4512,
//	    "entries": 12,
//	    "exits": 9,
//	    "candidates": 3,
//	    "held_markets": 4,
//	    "pending_orders": 1
//	  },
//	  "risk": {
//	    "bankroll": 487.50,
//	    "initial_bankroll": 500.00,
//	    "total_exposure": 96.00,
//	    "active_positions": 4,
//	    "drawdown": 0.025,
//	    "pause_advised": false
//	  }
//	}
//
// Ответы:
// - 200 OK: состояние получено
// - 503 Service Unavailable: движок не подключен (API поднят без торгового цикла)
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	engineStats, ok := h.positionService.EngineStatus()
	if !ok {
		h.respondWithError(w, http.StatusServiceUnavailable, "Engine is not attached", "Trading loop is not running")
		return
	}

	response := StatusResponse{Engine: engineStats}

	// Риск-менеджер опционален: без него отдаем только движок
	if riskStatus, ok := h.positionService.RiskStatus(); ok {
		response.Risk = &riskStatus
	}

	h.respondWithJSON(w, http.StatusOK, response)
}

// respondWithJSON отправляет JSON ответ
func (h *StatusHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// respondWithError отправляет JSON ответ с ошибкой
func (h *StatusHandler) respondWithError(w http.ResponseWriter, code int, message string, details string) {
	h.respondWithJSON(w, code, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
