package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"straddle/internal/models"
	"straddle/internal/service"

	"github.com/gorilla/mux"
)

// PositionHandler отвечает за просмотр и ручное управление позициями
//
// Endpoints:
// - GET /api/v1/positions                       - список всех позиций
// - GET /api/v1/positions?state=ENTERED         - фильтр по состоянию
// - GET /api/v1/positions/{market_id}           - конкретная позиция
// - POST /api/v1/positions/{market_id}/resolve  - ручная резолюция рынка
//
// Назначение:
// Позиции открывает и закрывает движок автоматически, оператор через
// API только наблюдает за ними. Единственная ручная операция -
// резолюция рынка: оракул venue иногда запаздывает, и оператор может
// зафиксировать исход досрочно, указав победившую сторону.
type PositionHandler struct {
	positionService service.PositionServiceInterface
}

// NewPositionHandler создает новый PositionHandler с внедрением зависимости
func NewPositionHandler(positionService service.PositionServiceInterface) *PositionHandler {
	return &PositionHandler{
		positionService: positionService,
	}
}

// ResolvePositionRequest структура запроса на ручную резолюцию
type ResolvePositionRequest struct {
	Outcome string `json:"outcome"` // YES или NO - победившая сторона
}

// PositionResponse структура ответа с данными позиции
type PositionResponse struct {
	MarketID       string   `json:"market_id"`
	YesEntryPrice  float64  `json:"yes_entry_price"`
	NoEntryPrice   float64  `json:"no_entry_price"`
	YesSize        float64  `json:"yes_size"`
	NoSize         float64  `json:"no_size"`
	CheapSide      string   `json:"cheap_side"`
	FavoriteSide   string   `json:"favorite_side"`
	State          string   `json:"state"`
	EntryTime      string   `json:"entry_time"`
	LastUpdateTime string   `json:"last_update_time"`
	ExitPrice      *float64 `json:"exit_price,omitempty"`
	ExitTime       *string  `json:"exit_time,omitempty"`
	RealizedPnl    float64  `json:"realized_pnl"`
	UnrealizedPnl  float64  `json:"unrealized_pnl"`
}

// GetPositionsResponse представляет ответ списка позиций
type GetPositionsResponse struct {
	Positions []PositionResponse `json:"positions"`
	Total     int                `json:"total"`
}

// GetPositions возвращает список позиций
// GET /api/v1/positions
//
// Query Parameters:
// - state: фильтр по состоянию (WAITING_ENTRY, ENTERED, EXITED, RESOLVED)
//
// Активные позиции отдаются из памяти движка (актуальный unrealized
// PNL), завершенные - из БД.
//
// Response:
// - 200 OK: список позиций
// - 400 Bad Request: неизвестное состояние в фильтре
func (h *PositionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")

	positions, err := h.positionService.GetPositions(state)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	response := GetPositionsResponse{
		Positions: make([]PositionResponse, 0, len(positions)),
		Total:     len(positions),
	}
	for _, pos := range positions {
		response.Positions = append(response.Positions, h.positionToResponse(pos))
	}

	h.respondWithJSON(w, http.StatusOK, response)
}

// GetPosition возвращает конкретную позицию по id рынка
// GET /api/v1/positions/{market_id}
//
// Response:
// - 200 OK: данные позиции
// - 404 Not Found: позиция не найдена
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	marketID := mux.Vars(r)["market_id"]
	if marketID == "" {
		h.respondWithError(w, http.StatusBadRequest, "missing_market_id", "Market id is required", "")
		return
	}

	pos, err := h.positionService.GetPosition(marketID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, h.positionToResponse(pos))
}

// ResolvePosition вручную разрешает рынок позиции
// POST /api/v1/positions/{market_id}/resolve
//
// Request Body:
//
//	{"outcome": "YES"}
//
// Движок финализирует PNL: если фаворит совпал с исходом, зачисляется
// выплата по его ногам, иначе фаворит сгорает. Позиция переходит в
// RESOLVED и после записи в БД покидает память.
//
// Response:
// - 200 OK: позиция разрешена, возвращается финальное состояние
// - 400 Bad Request: исход не YES/NO
// - 404 Not Found: позиция не найдена
// - 409 Conflict: позиция уже разрешена
// - 503 Service Unavailable: движок не запущен
func (h *PositionHandler) ResolvePosition(w http.ResponseWriter, r *http.Request) {
	marketID := mux.Vars(r)["market_id"]
	if marketID == "" {
		h.respondWithError(w, http.StatusBadRequest, "missing_market_id", "Market id is required", "")
		return
	}

	var req ResolvePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	pos, err := h.positionService.ResolvePosition(marketID, req.Outcome)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, h.positionToResponse(pos))
}

// ============ Helper методы ============

// positionToResponse конвертирует модель позиции в ответ API
func (h *PositionHandler) positionToResponse(pos *models.StraddlePosition) PositionResponse {
	response := PositionResponse{
		MarketID:       pos.MarketID,
		YesEntryPrice:  pos.YesEntryPrice,
		NoEntryPrice:   pos.NoEntryPrice,
		YesSize:        pos.YesSize,
		NoSize:         pos.NoSize,
		CheapSide:      pos.CheapSide,
		FavoriteSide:   pos.FavoriteSide,
		State:          pos.State,
		EntryTime:      pos.EntryTime.Format(time.RFC3339),
		LastUpdateTime: pos.LastUpdateTime.Format(time.RFC3339),
		ExitPrice:      pos.ExitPrice,
		RealizedPnl:    pos.RealizedPnl,
		UnrealizedPnl:  pos.UnrealizedPnl,
	}

	if pos.ExitTime != nil {
		exitTime := pos.ExitTime.Format(time.RFC3339)
		response.ExitTime = &exitTime
	}

	return response
}

// handleServiceError обрабатывает ошибки от сервиса и возвращает соответствующий HTTP статус
func (h *PositionHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrPositionNotFound):
		h.respondWithError(w, http.StatusNotFound, "position_not_found", "Position not found", "")

	case errors.Is(err, service.ErrPositionAlreadyResolved):
		h.respondWithError(w, http.StatusConflict, "position_resolved", "Position is already resolved", "")

	case errors.Is(err, service.ErrInvalidOutcome):
		h.respondWithError(w, http.StatusBadRequest, "invalid_outcome", "Outcome must be YES or NO", "")

	case errors.Is(err, service.ErrInvalidStateFilter):
		h.respondWithError(w, http.StatusBadRequest, "invalid_state", "Unknown position state filter", "")

	case errors.Is(err, service.ErrEngineUnavailable):
		h.respondWithError(w, http.StatusServiceUnavailable, "engine_unavailable", "Trading engine is not available", "")

	default:
		h.respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
	}
}

// respondWithJSON отправляет JSON ответ
func (h *PositionHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondWithError отправляет JSON ответ с ошибкой
func (h *PositionHandler) respondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	response := ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	}
	h.respondWithJSON(w, statusCode, response)
}
