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

// BlacklistHandler отвечает за управление черным списком рынков
//
// Endpoints:
// - GET /api/v1/blacklist - получение черного списка (поддерживает ?q= поиск)
// - POST /api/v1/blacklist - добавление рынка в черный список
// - PATCH /api/v1/blacklist/{market_id} - обновление причины
// - DELETE /api/v1/blacklist/{market_id} - удаление из черного списка
//
// Назначение:
// Черный список оперативный: сканер движка пропускает перечисленные
// рынки и не открывает по ним стрэддлы. Причина - заметка оператора,
// почему рынок исключен (манипулируемый, неликвидный и т.д.).
// Id рынков регистрозависимы и передаются как есть.
type BlacklistHandler struct {
	blacklistService service.BlacklistServiceInterface
}

// NewBlacklistHandler создает новый BlacklistHandler с внедрением зависимости
func NewBlacklistHandler(blacklistService service.BlacklistServiceInterface) *BlacklistHandler {
	return &BlacklistHandler{
		blacklistService: blacklistService,
	}
}

// blacklistResponse представляет ответ со списком записей
type blacklistResponse struct {
	Entries []blacklistEntryResponse `json:"entries"`
	Total   int                      `json:"total"`
}

// blacklistEntryResponse представляет одну запись черного списка
type blacklistEntryResponse struct {
	ID        int    `json:"id"`
	MarketID  string `json:"market_id"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at"`
}

// addToBlacklistRequest представляет запрос на добавление рынка
type addToBlacklistRequest struct {
	MarketID string `json:"market_id"`
	Reason   string `json:"reason"`
}

// updateReasonRequest представляет запрос на обновление причины
type updateReasonRequest struct {
	Reason string `json:"reason"`
}

// GetBlacklist возвращает черный список рынков
//
// GET /api/v1/blacklist
// GET /api/v1/blacklist?q=csgo - поиск по подстроке id или причины
//
// HTTP коды:
// - 200 OK: список записей
// - 500 Internal Server Error: ошибка сервера
func (h *BlacklistHandler) GetBlacklist(w http.ResponseWriter, r *http.Request) {
	var (
		entries []*models.BlacklistEntry
		err     error
	)

	if query := r.URL.Query().Get("q"); query != "" {
		entries, err = h.blacklistService.Search(query)
	} else {
		entries, err = h.blacklistService.GetBlacklist()
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get blacklist: "+err.Error())
		return
	}

	response := blacklistResponse{
		Entries: make([]blacklistEntryResponse, 0, len(entries)),
		Total:   len(entries),
	}
	for _, entry := range entries {
		response.Entries = append(response.Entries, entryToResponse(entry))
	}

	respondJSON(w, http.StatusOK, response)
}

// AddToBlacklist добавляет рынок в черный список
//
// POST /api/v1/blacklist
//
// Request Body:
//
//	{"market_id": "csgo-navi-vs-faze-2026", "reason": "manipulated books"}
//
// HTTP коды:
// - 201 Created: запись создана
// - 400 Bad Request: невалидный JSON или пустой market_id
// - 409 Conflict: рынок уже в списке
// - 500 Internal Server Error: ошибка сервера
func (h *BlacklistHandler) AddToBlacklist(w http.ResponseWriter, r *http.Request) {
	var req addToBlacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	entry, err := h.blacklistService.AddToBlacklist(req.MarketID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBlacklistMarketEmpty):
			respondError(w, http.StatusBadRequest, "market_id is required")
		case errors.Is(err, service.ErrBlacklistMarketExists):
			respondError(w, http.StatusConflict, "market already in blacklist")
		default:
			respondError(w, http.StatusInternalServerError, "failed to add to blacklist: "+err.Error())
		}
		return
	}

	respondJSON(w, http.StatusCreated, entryToResponse(entry))
}

// UpdateReason обновляет причину записи черного списка
//
// PATCH /api/v1/blacklist/{market_id}
//
// Request Body:
//
//	{"reason": "books recovered, keep watching"}
//
// HTTP коды:
// - 200 OK: обновленная запись
// - 400 Bad Request: невалидный JSON или пустой market_id
// - 404 Not Found: рынок не в списке
// - 500 Internal Server Error: ошибка сервера
func (h *BlacklistHandler) UpdateReason(w http.ResponseWriter, r *http.Request) {
	marketID := mux.Vars(r)["market_id"]
	if marketID == "" {
		respondError(w, http.StatusBadRequest, "market_id is required")
		return
	}

	var req updateReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.blacklistService.UpdateReason(marketID, req.Reason); err != nil {
		switch {
		case errors.Is(err, service.ErrBlacklistEntryNotFound):
			respondError(w, http.StatusNotFound, "market not found in blacklist")
		case errors.Is(err, service.ErrBlacklistMarketEmpty):
			respondError(w, http.StatusBadRequest, "market_id is required")
		default:
			respondError(w, http.StatusInternalServerError, "failed to update reason: "+err.Error())
		}
		return
	}

	entry, err := h.blacklistService.GetByMarketID(marketID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reason updated but failed to fetch entry: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, entryToResponse(entry))
}

// RemoveFromBlacklist удаляет рынок из черного списка
//
// DELETE /api/v1/blacklist/{market_id}
//
// HTTP коды:
// - 204 No Content: запись удалена
// - 400 Bad Request: пустой market_id
// - 404 Not Found: рынок не в списке
// - 500 Internal Server Error: ошибка сервера
func (h *BlacklistHandler) RemoveFromBlacklist(w http.ResponseWriter, r *http.Request) {
	marketID := mux.Vars(r)["market_id"]
	if marketID == "" {
		respondError(w, http.StatusBadRequest, "market_id is required")
		return
	}

	if err := h.blacklistService.RemoveFromBlacklist(marketID); err != nil {
		switch {
		case errors.Is(err, service.ErrBlacklistEntryNotFound):
			respondError(w, http.StatusNotFound, "market not found in blacklist")
		case errors.Is(err, service.ErrBlacklistMarketEmpty):
			respondError(w, http.StatusBadRequest, "market_id is required")
		default:
			respondError(w, http.StatusInternalServerError, "failed to remove from blacklist: "+err.Error())
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// entryToResponse конвертирует модель записи в ответ API
func entryToResponse(entry *models.BlacklistEntry) blacklistEntryResponse {
	return blacklistEntryResponse{
		ID:        entry.ID,
		MarketID:  entry.MarketID,
		Reason:    entry.Reason,
		CreatedAt: entry.CreatedAt.Format(time.RFC3339),
	}
}
