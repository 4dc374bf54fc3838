package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"straddle/internal/models"
	"straddle/internal/service"
)

// StatsHandler обрабатывает HTTP запросы для статистики торговли.
//
// Endpoints:
// - GET /api/v1/stats - получить агрегированную статистику
// - GET /api/v1/stats/top-markets?metric=trades|profit|loss - топ рынков по метрике
// - POST /api/v1/stats/reset - сброс счетчиков статистики
//
// Статистика включает:
// - Количество завершенных позиций (день/неделя/месяц/всего)
// - Общий PNL (день/неделя/месяц/всего)
// - Продажи дешевой стороны с деталями событий
// - Резолюции рынков (wins/losses фаворита) с деталями
// - Топ-5 рынков по разным метрикам
type StatsHandler struct {
	statsService service.StatsServiceInterface
}

// NewStatsHandler создает новый StatsHandler с внедрением зависимостей.
func NewStatsHandler(statsService service.StatsServiceInterface) *StatsHandler {
	return &StatsHandler{
		statsService: statsService,
	}
}

// GetStats возвращает агрегированную статистику торговли.
//
// GET /api/v1/stats
//
// Response 200 OK:
//
//	{
//	  "total_positions": 150,
//	  "total_pnl": 1250.50,
//	  "today_positions": 5,
//	  "today_pnl": 45.20,
//	  "week_positions": 25,
//	  "week_pnl": 180.75,
//	  "month_positions": 80,
//	  "month_pnl": 620.30,
//	  "exit_stats": {
//	    "today": 3,
//	    "week": 18,
//	    "month": 61,
//	    "events": [
//	      {
//	        "market_id": "navi-vs-faze-map2",
//	        "side": "NO",
//	        "price": 0.19,
//	        "timestamp": "2025-11-30T14:32:00Z"
//	      }
//	    ]
//	  },
//	  "resolution_stats": {
//	    "today": 2,
//	    "week": 15,
//	    "month": 52,
//	    "wins": 40,
//	    "losses": 12,
//	    "events": [
//	      {
//	        "market_id": "navi-vs-faze-map2",
//	        "outcome": "YES",
//	        "favorite": "YES",
//	        "payout": 52.0,
//	        "timestamp": "2025-11-30T16:05:00Z"
//	      }
//	    ]
//	  },
//	  "top_markets_by_trades": [
//	    {"market_id": "navi-vs-faze-map2", "title": "NaVi vs FaZe: Map 2", "value": 3}
//	  ],
//	  "top_markets_by_profit": [...],
//	  "top_markets_by_loss": [...]
//	}
//
// Response 500 Internal Server Error:
//
//	{"error": "failed to get stats", "details": "..."}
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.statsService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "stats service not initialized",
		})
		return
	}

	stats, err := h.statsService.GetStats()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "failed to get stats",
			"details": err.Error(),
		})
		return
	}

	// Пустые массивы должны сериализоваться как [], а не null
	if stats.TopMarketsByTrades == nil {
		stats.TopMarketsByTrades = []models.MarketStat{}
	}
	if stats.TopMarketsByProfit == nil {
		stats.TopMarketsByProfit = []models.MarketStat{}
	}
	if stats.TopMarketsByLoss == nil {
		stats.TopMarketsByLoss = []models.MarketStat{}
	}
	if stats.ExitStats.Events == nil {
		stats.ExitStats.Events = []models.ExitEvent{}
	}
	if stats.ResolutionStats.Events == nil {
		stats.ResolutionStats.Events = []models.ResolutionEvent{}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(stats)
}

// GetTopMarkets возвращает топ рынков по указанной метрике.
//
// GET /api/v1/stats/top-markets?metric=trades|profit|loss&limit=5
//
// Query Parameters:
// - metric (optional): "trades" (default), "profit", или "loss"
// - limit (optional): количество рынков (по умолчанию 5, максимум 20)
//
// Response 200 OK:
//
//	[
//	  {"market_id": "navi-vs-faze-map2", "title": "NaVi vs FaZe: Map 2", "value": 3},
//	  {"market_id": "g2-vs-vitality-map1", "title": "G2 vs Vitality: Map 1", "value": 2}
//	]
//
// Response 400 Bad Request:
//
//	{"error": "invalid metric", "valid_metrics": ["trades", "profit", "loss"]}
//
// Response 500 Internal Server Error:
//
//	{"error": "failed to get top markets", "details": "..."}
func (h *StatsHandler) GetTopMarkets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.statsService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "stats service not initialized",
		})
		return
	}

	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = "trades"
	}

	validMetrics := map[string]bool{
		"trades": true,
		"profit": true,
		"loss":   true,
	}
	if !validMetrics[metric] {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":         "invalid metric",
			"valid_metrics": []string{"trades", "profit", "loss"},
		})
		return
	}

	limit := 5
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
			if limit > 20 {
				limit = 20
			}
		}
	}

	topMarkets, err := h.statsService.GetTopMarkets(metric, limit)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "failed to get top markets",
			"details": err.Error(),
		})
		return
	}

	if topMarkets == nil {
		topMarkets = []models.MarketStat{}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(topMarkets)
}

// ResetStats сбрасывает счетчики статистики.
//
// POST /api/v1/stats/reset
//
// ВАЖНО: Это действие необратимо! История завершенных позиций будет удалена.
// Активные позиции (ENTERED, EXITED) не затрагиваются.
//
// Response 200 OK:
//
//	{"message": "stats reset successfully", "deleted": 150}
//
// Response 500 Internal Server Error:
//
//	{"error": "failed to reset stats", "details": "..."}
func (h *StatsHandler) ResetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.statsService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "stats service not initialized",
		})
		return
	}

	deleted, err := h.statsService.ResetStats()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "failed to reset stats",
			"details": err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "stats reset successfully",
		"deleted": deleted,
	})
}
