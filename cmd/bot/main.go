package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"straddle/internal/api"
	"straddle/internal/bot"
	"straddle/internal/config"
	"straddle/internal/models"
	"straddle/internal/repository"
	"straddle/internal/service"
	"straddle/internal/venue"
	"straddle/internal/websocket"
	"straddle/pkg/ratelimit"
	"straddle/pkg/utils"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Буфер канала уведомлений. Движок пишет в него неблокирующе:
// при переполнении события теряются, поэтому берем с запасом.
const notifyChanBuffer = 256

func main() {
	// .env удобен в разработке; в проде переменные приходят из окружения
	_ = godotenv.Load()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	log.Info().
		Str("gamma_url", cfg.Venue.GammaURL).
		Str("clob_url", cfg.Venue.ClobURL).
		Str("db", cfg.Database.DSNWithoutPassword()).
		Msg("straddle bot starting")

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := repository.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("connected to database, schema up to date")

	// Инициализация репозиториев
	positionRepo := repository.NewPositionRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	fillRepo := repository.NewFillRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	statsRepo := repository.NewStatsRepository(db)
	blacklistRepo := repository.NewBlacklistRepository(db)

	// Бюджет запросов к бирже, разложенный по категориям
	limiter := ratelimit.ForVenue(cfg.Venue.RateLimitRPS)

	// Клиенты биржи
	gammaClient, err := venue.NewGammaClient(venue.GammaConfig{
		BaseURL:       cfg.Venue.GammaURL,
		Tags:          cfg.Strategy.MarketTags,
		MinMarketAge:  cfg.Strategy.MinMarketAge,
		MinVolume24h:  cfg.Strategy.MinVolume24h,
		MaxStartAhead: cfg.Strategy.MaxStartAhead,
		HTTPTimeout:   cfg.Venue.HTTPTimeout,
	}, limiter, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gamma client")
	}

	clobClient, err := venue.NewClobClient(venue.ClobConfig{
		BaseURL: cfg.Venue.ClobURL,
		Credentials: venue.ClobCredentials{
			Address:       cfg.Venue.Address,
			APIKey:        cfg.Venue.APIKey,
			APISecret:     cfg.Venue.APISecret,
			APIPassphrase: cfg.Venue.APIPassphrase,
		},
		HTTPTimeout: cfg.Venue.HTTPTimeout,
	}, limiter, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create clob client")
	}

	// Контекст фоновых задач, отменяется при остановке
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Кэш книг и WebSocket поток. Бот переживает падение потока:
	// движок сам откатывается на REST опрос пока идет реконнект
	books := venue.NewBookCache(0)

	feedCfg := venue.DefaultFeedConfig(cfg.Venue.WSURL)
	feedCfg.InitialDelay = cfg.Bot.WSReconnectDelay
	feedCfg.PingInterval = cfg.Bot.WSPingInterval
	feedCfg.ReadTimeout = cfg.Bot.WSReadTimeout
	feed := venue.NewMarketFeed(feedCfg, books, log)
	if err := feed.Connect(); err != nil {
		// Реконнект-цикл потока стартует только после первого удачного
		// подключения, поэтому добиваем его отсюда. До тех пор движок
		// читает книги через REST
		log.Warn().Err(err).Msg("market feed unavailable at startup, books will use REST")
		go retryFeedConnect(ctx, feed, feedCfg.MaxDelay, log)
	}

	// Торговые компоненты
	tracker := bot.NewPositionTracker()
	risk := bot.NewRiskManager(cfg.Risk)
	strategy := bot.NewStraddleStrategy(cfg.Strategy)
	executor := bot.NewOrderExecutor(clobClient, cfg.Bot, log)

	notifyChan := make(chan *models.Notification, notifyChanBuffer)

	// WebSocket hub для дашборда
	hub := websocket.NewHub()
	go hub.Run()

	blacklistService := service.NewBlacklistService(blacklistRepo)

	engine := bot.NewEngine(cfg, bot.EngineDeps{
		Markets:    gammaClient,
		Blacklist:  blacklistService,
		Books:      books,
		Clob:       clobClient,
		Feed:       feed,
		Strategy:   strategy,
		Tracker:    tracker,
		Risk:       risk,
		Executor:   executor,
		Positions:  positionRepo,
		Orders:     orderRepo,
		Fills:      fillRepo,
		Hub:        hub,
		NotifyChan: notifyChan,
	}, log)

	// Восстановление после рестарта: позиции из БД, сверка ордеров
	recovery := bot.NewRecoveryManager(engine, positionRepo, orderRepo, fillRepo, notifyChan, nil, log)
	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), time.Minute)
	result, err := recovery.Recover(recoverCtx)
	cancelRecover()
	if err != nil {
		log.Fatal().Err(err).Msg("recovery failed, refusing to trade with unknown state")
	}
	log.Info().
		Int("positions", result.PositionsLoaded).
		Int("missed_exits", result.MissedExits).
		Int("missed_entries", result.MissedEntries).
		Int("orders_reconciled", result.OrdersReconciled).
		Dur("took", result.Duration).
		Msg("recovery complete")

	// Инициализация сервисов
	positionService := service.NewPositionService(positionRepo, tracker)
	positionService.SetEngine(engine)
	positionService.SetRiskSource(risk)

	notificationService := service.NewNotificationService(notificationRepo, log)
	notificationService.SetWebSocketHub(hub)

	statsService := service.NewStatsService(statsRepo, log)
	statsService.SetWebSocketHub(hub)

	// Фоновые задачи
	go notificationService.Run(ctx, notifyChan)
	go statsService.RunBroadcaster(ctx, cfg.Bot.StatsUpdateFreq)

	monitor := bot.NewRiskMonitor(risk, notifyChan, cfg.Bot.StatsUpdateFreq, cfg.Risk.MaxDrawdownPct, log)
	monitor.Start()

	// Запуск торгового цикла
	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start engine")
	}

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		PositionService:     positionService,
		StatsService:        statsService,
		NotificationService: notificationService,
		BlacklistService:    blacklistService,
		Hub:                 hub,
		Security:            cfg.Security,
		Log:                 log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		log.Info().Str("addr", server.Addr).Bool("https", cfg.Server.UseHTTPS).Msg("starting http server")
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdown(cancel, engine, monitor, feed, hub, server, log)
	log.Info().Msg("bye")
}

// retryFeedConnect пытается поднять поток книг, пока это не удастся
// или бот не начнет останавливаться
func retryFeedConnect(ctx context.Context, feed *venue.MarketFeed, delay time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := feed.Connect(); err != nil {
				log.Debug().Err(err).Msg("market feed still unavailable")
				continue
			}
			return
		}
	}
}

// shutdown останавливает компоненты в порядке, обратном запуску.
// Сначала торговый цикл: Done() гарантирует, что ордера отменены и
// позиции сброшены в БД до закрытия остальных соединений.
func shutdown(
	cancel context.CancelFunc,
	engine *bot.Engine,
	monitor *bot.RiskMonitor,
	feed *venue.MarketFeed,
	hub *websocket.Hub,
	server *http.Server,
	log zerolog.Logger,
) {
	engine.Stop()
	select {
	case <-engine.Done():
	case <-time.After(30 * time.Second):
		log.Error().Msg("engine did not stop in time")
	}

	monitor.Stop()
	cancel() // останавливает Run уведомлений и бродкастер статистики

	if err := feed.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing market feed")
	}
	hub.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server forced to shutdown")
	}
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
