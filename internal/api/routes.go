package api

import (
	"net/http"

	"straddle/internal/api/handlers"
	"straddle/internal/api/middleware"
	"straddle/internal/config"
	"straddle/internal/service"
	"straddle/internal/websocket"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	PositionService     *service.PositionService
	StatsService        *service.StatsService
	NotificationService *service.NotificationService
	BlacklistService    *service.BlacklistService

	// Hub для real-time стрима на дашборд (может быть nil в тестах)
	Hub *websocket.Hub

	// Security управляет Basic auth на /api/v1 (пустой hash = auth выключен)
	Security config.SecurityConfig

	Log zerolog.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Назначение:
// Центральное место для определения всех API endpoints.
// Регистрирует handlers для каждого маршрута.
// Применяет middleware к группам маршрутов.
// Организует версионирование API (v1).
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /status
//	│   └── GET / - состояние движка и риск-менеджера
//	├── /positions/
//	│   ├── GET / - список позиций (?state= фильтр)
//	│   ├── GET /{market_id} - получить позицию
//	│   └── POST /{market_id}/resolve - ручная резолюция рынка
//	├── /notifications/
//	│   ├── GET / - получить журнал событий
//	│   └── DELETE / - очистить журнал
//	├── /stats/
//	│   ├── GET / - получить статистику
//	│   ├── GET /top-markets - топ рынков по метрике
//	│   └── POST /reset - сбросить счетчики
//	└── /blacklist/
//	    ├── GET / - получить черный список (?q= поиск)
//	    ├── POST / - добавить рынок
//	    ├── PATCH /{market_id} - обновить причину
//	    └── DELETE /{market_id} - удалить из черного списка
//
// /ws/
//
//	└── /stream - WebSocket для real-time обновлений
//
// /metrics - Prometheus метрики
// /health - проверка живости
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. BasicAuth (только /api/v1; /metrics и /ws/stream остаются
//    открытыми - Prometheus scraper и браузерный WebSocket не
//    передают Basic auth заголовки)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	var (
		log zerolog.Logger
		sec config.SecurityConfig
	)
	if deps != nil {
		log = deps.Log
		sec = deps.Security
	}

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logging(log))
	router.Use(middleware.CORS)

	// Создание handlers с внедрением зависимостей
	var positionHandler *handlers.PositionHandler
	var statusHandler *handlers.StatusHandler
	if deps != nil && deps.PositionService != nil {
		positionHandler = handlers.NewPositionHandler(deps.PositionService)
		statusHandler = handlers.NewStatusHandler(deps.PositionService)
	}

	// Stats handler с внедрением зависимости
	var statsHandler *handlers.StatsHandler
	if deps != nil && deps.StatsService != nil {
		statsHandler = handlers.NewStatsHandler(deps.StatsService)
	}

	// Notification handler с внедрением зависимости
	var notificationHandler *handlers.NotificationHandler
	if deps != nil && deps.NotificationService != nil {
		notificationHandler = handlers.NewNotificationHandler(deps.NotificationService)
	}

	// Blacklist handler с внедрением зависимости
	var blacklistHandler *handlers.BlacklistHandler
	if deps != nil && deps.BlacklistService != nil {
		blacklistHandler = handlers.NewBlacklistHandler(deps.BlacklistService)
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Управляющий API закрыт Basic auth: ручки resolve/reset/blacklist
	// меняют торговое состояние
	api.Use(middleware.BasicAuth(sec.APIAuthUser, sec.APIAuthPasswordHash))

	// Status route
	if statusHandler != nil {
		api.HandleFunc("/status", statusHandler.GetStatus).Methods("GET")
	}

	// Position routes
	if positionHandler != nil {
		api.HandleFunc("/positions", positionHandler.GetPositions).Methods("GET")
		api.HandleFunc("/positions/{market_id}", positionHandler.GetPosition).Methods("GET")
		api.HandleFunc("/positions/{market_id}/resolve", positionHandler.ResolvePosition).Methods("POST")
	}

	// Notification routes
	if notificationHandler != nil {
		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
		api.HandleFunc("/notifications", notificationHandler.ClearNotifications).Methods("DELETE")
	}

	// Stats routes
	if statsHandler != nil {
		api.HandleFunc("/stats", statsHandler.GetStats).Methods("GET")
		api.HandleFunc("/stats/top-markets", statsHandler.GetTopMarkets).Methods("GET")
		api.HandleFunc("/stats/reset", statsHandler.ResetStats).Methods("POST")
	}

	// Blacklist routes
	if blacklistHandler != nil {
		api.HandleFunc("/blacklist", blacklistHandler.GetBlacklist).Methods("GET")
		api.HandleFunc("/blacklist", blacklistHandler.AddToBlacklist).Methods("POST")
		api.HandleFunc("/blacklist/{market_id}", blacklistHandler.UpdateReason).Methods("PATCH")
		api.HandleFunc("/blacklist/{market_id}", blacklistHandler.RemoveFromBlacklist).Methods("DELETE")
	}

	// WebSocket route (origin проверяется в websocket.ServeWS)
	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
