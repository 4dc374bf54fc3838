package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Venue    VenueConfig
	Strategy StrategyConfig
	Risk     RiskConfig
	Bot      BotConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	APIAuthUser         string // логин Basic auth для операторского API
	APIAuthPasswordHash string // bcrypt-хэш пароля; пусто = API без аутентификации
}

// VenueConfig - настройки подключения к бирже предсказаний
type VenueConfig struct {
	GammaURL      string // каталог рынков
	ClobURL       string // REST ордеров и книг
	WSURL         string // поток книг и исполнений
	Address       string // адрес торгового аккаунта
	APIKey        string
	APISecret     string
	APIPassphrase string
	HTTPTimeout   time.Duration
	RateLimitRPS  float64       // лимит запросов к REST API
	BookStaleAfter time.Duration // возраст среза книги, после которого берем REST
}

// StrategyConfig - параметры стратегии входа и выхода
type StrategyConfig struct {
	EntryTolerance  float64       // допуск |p - 0.5| для обеих сторон
	ExitThreshold   float64       // цена дешевой стороны, при которой продаем
	OrderTTL        time.Duration // время жизни входных ордеров
	ScanInterval    time.Duration // частота опроса каталога рынков
	MarketTags      []string      // теги дисциплины для фильтра каталога
	MinMarketAge    time.Duration // не входим в рынки моложе этого возраста
	MinVolume24h    float64       // минимальный суточный объем рынка
	MaxStartAhead   time.Duration // не входим в рынки, стартующие позже этого горизонта
	CalibrationFile string        // YAML с калибровкой, пусто = только env
}

// RiskConfig - лимиты риска
type RiskConfig struct {
	InitialBankroll        float64
	PositionSizePct        float64 // доля банкролла на одну позицию
	MaxExposurePerMarket   float64 // потолок долларовой экспозиции на рынок
	MaxTotalExposure       float64 // потолок суммарной экспозиции
	MaxConcurrentPositions int
	MaxDrawdownPct         float64 // просадка, при которой советуем паузу
}

// BotConfig - настройки торгового цикла
type BotConfig struct {
	// Основной цикл
	TickInterval     time.Duration // период одного прохода цикла
	FillPollInterval time.Duration // частота опроса статусов ордеров
	FillWaitTimeout  time.Duration // сколько ждем исполнения входной пары

	// WebSocket настройки потока книг
	WSReconnectDelay time.Duration // задержка перед переподключением WS
	WSPingInterval   time.Duration // интервал ping для поддержания соединения
	WSReadTimeout    time.Duration // таймаут чтения WS сообщений

	// Периодические задачи (не влияют на торговлю)
	StatsUpdateFreq time.Duration // обновление статистики для UI

	// Retry логика для критических операций
	MaxRetries   int
	RetryBackoff time.Duration
	OrderTimeout time.Duration // таймаут одного HTTP вызова отправки ордера
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "straddle"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			APIAuthUser:         getEnv("API_AUTH_USER", "admin"),
			APIAuthPasswordHash: getEnv("API_AUTH_PASSWORD_HASH", ""),
		},
		Venue: VenueConfig{
			GammaURL:       getEnv("VENUE_GAMMA_URL", "https://gamma-api.polymarket.com"),
			ClobURL:        getEnv("VENUE_CLOB_URL", "https://clob.polymarket.com"),
			WSURL:          getEnv("VENUE_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws"),
			Address:        getEnv("VENUE_ADDRESS", ""),
			APIKey:         getEnv("VENUE_API_KEY", ""),
			APISecret:      getEnv("VENUE_API_SECRET", ""),
			APIPassphrase:  getEnv("VENUE_API_PASSPHRASE", ""),
			HTTPTimeout:    getEnvAsDuration("VENUE_HTTP_TIMEOUT", 10*time.Second),
			RateLimitRPS:   getEnvAsFloat("VENUE_RATE_LIMIT_RPS", 8),
			BookStaleAfter: getEnvAsDuration("BOOK_STALE_AFTER", 10*time.Second),
		},
		Strategy: StrategyConfig{
			EntryTolerance:  getEnvAsFloat("STRATEGY_ENTRY_TOLERANCE", 0.05),
			ExitThreshold:   getEnvAsFloat("STRATEGY_EXIT_THRESHOLD", 0.20),
			OrderTTL:        getEnvAsDuration("STRATEGY_ORDER_TTL", 30*time.Second),
			ScanInterval:    getEnvAsDuration("SCAN_INTERVAL", 1*time.Minute),
			MarketTags:      getEnvAsSlice("SCAN_MARKET_TAGS", []string{"esports"}),
			MinMarketAge:    getEnvAsDuration("SCAN_MIN_MARKET_AGE", 10*time.Minute),
			MinVolume24h:    getEnvAsFloat("SCAN_MIN_VOLUME", 1000),
			MaxStartAhead:   getEnvAsDuration("SCAN_MAX_START_AHEAD", 12*time.Hour),
			CalibrationFile: getEnv("STRATEGY_CALIBRATION_FILE", ""),
		},
		Risk: RiskConfig{
			InitialBankroll:        getEnvAsFloat("RISK_INITIAL_BANKROLL", 1000),
			PositionSizePct:        getEnvAsFloat("RISK_POSITION_SIZE_PCT", 0.03),
			MaxExposurePerMarket:   getEnvAsFloat("RISK_MAX_EXPOSURE_PER_MARKET", 50),
			MaxTotalExposure:       getEnvAsFloat("RISK_MAX_TOTAL_EXPOSURE", 500),
			MaxConcurrentPositions: getEnvAsInt("RISK_MAX_CONCURRENT_POSITIONS", 10),
			MaxDrawdownPct:         getEnvAsFloat("RISK_MAX_DRAWDOWN_PCT", 0.20),
		},
		Bot: BotConfig{
			// Основной цикл
			TickInterval:     getEnvAsDuration("TICK_INTERVAL", 5*time.Second),
			FillPollInterval: getEnvAsDuration("FILL_POLL_INTERVAL", 1*time.Second),
			FillWaitTimeout:  getEnvAsDuration("FILL_WAIT_TIMEOUT", 60*time.Second),

			// WebSocket - event-driven, без polling!
			WSReconnectDelay: getEnvAsDuration("WS_RECONNECT_DELAY", 1*time.Second),
			WSPingInterval:   getEnvAsDuration("WS_PING_INTERVAL", 15*time.Second),
			WSReadTimeout:    getEnvAsDuration("WS_READ_TIMEOUT", 30*time.Second),

			// Периодические задачи для UI (не критичны для торговли)
			StatsUpdateFreq: getEnvAsDuration("STATS_UPDATE_FREQ", 5*time.Second),

			// Retry для ордеров
			MaxRetries:   getEnvAsInt("MAX_RETRIES", 4),
			RetryBackoff: getEnvAsDuration("RETRY_BACKOFF", 500*time.Millisecond),
			OrderTimeout: getEnvAsDuration("ORDER_TIMEOUT", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Калибровка стратегии из YAML, env-переменные имеют приоритет
	if err := cfg.applyCalibration(); err != nil {
		return nil, err
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// Ключи биржи обязательны: без них невозможна подпись запросов
	if c.Venue.APIKey == "" {
		return fmt.Errorf("VENUE_API_KEY is required for signing venue requests")
	}

	if c.Venue.APISecret == "" {
		return fmt.Errorf("VENUE_API_SECRET is required for signing venue requests")
	}

	if c.Venue.APIPassphrase == "" {
		return fmt.Errorf("VENUE_API_PASSPHRASE is required for signing venue requests")
	}

	if c.Venue.Address == "" {
		return fmt.Errorf("VENUE_ADDRESS is required for signing venue requests")
	}

	// Хэш пароля API опционален, но если задан - должен быть bcrypt
	if h := c.Security.APIAuthPasswordHash; h != "" {
		if !strings.HasPrefix(h, "$2a$") && !strings.HasPrefix(h, "$2b$") && !strings.HasPrefix(h, "$2y$") {
			return fmt.Errorf("API_AUTH_PASSWORD_HASH must be a bcrypt hash")
		}
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	// Валидация параметров стратегии
	if c.Strategy.EntryTolerance <= 0 || c.Strategy.EntryTolerance > 0.5 {
		return fmt.Errorf("STRATEGY_ENTRY_TOLERANCE must be in (0, 0.5], got %f", c.Strategy.EntryTolerance)
	}

	if c.Strategy.ExitThreshold <= 0 || c.Strategy.ExitThreshold >= 1 {
		return fmt.Errorf("STRATEGY_EXIT_THRESHOLD must be in (0, 1), got %f", c.Strategy.ExitThreshold)
	}

	if c.Strategy.OrderTTL <= 0 {
		return fmt.Errorf("STRATEGY_ORDER_TTL must be positive, got %v", c.Strategy.OrderTTL)
	}

	// Валидация лимитов риска
	if c.Risk.InitialBankroll <= 0 {
		return fmt.Errorf("RISK_INITIAL_BANKROLL must be positive, got %f", c.Risk.InitialBankroll)
	}

	if c.Risk.PositionSizePct <= 0 || c.Risk.PositionSizePct > 1 {
		return fmt.Errorf("RISK_POSITION_SIZE_PCT must be in (0, 1], got %f", c.Risk.PositionSizePct)
	}

	if c.Risk.MaxConcurrentPositions < 1 {
		return fmt.Errorf("RISK_MAX_CONCURRENT_POSITIONS must be at least 1, got %d", c.Risk.MaxConcurrentPositions)
	}

	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 1 {
		return fmt.Errorf("RISK_MAX_DRAWDOWN_PCT must be in (0, 1], got %f", c.Risk.MaxDrawdownPct)
	}

	// Валидация retry параметров
	if c.Bot.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES cannot be negative, got %d", c.Bot.MaxRetries)
	}

	if c.Bot.MaxRetries > 10 {
		return fmt.Errorf("MAX_RETRIES should not exceed 10, got %d", c.Bot.MaxRetries)
	}

	// Валидация таймаутов (должны быть положительными)
	if c.Bot.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %v", c.Bot.TickInterval)
	}

	if c.Bot.FillPollInterval <= 0 {
		return fmt.Errorf("FILL_POLL_INTERVAL must be positive, got %v", c.Bot.FillPollInterval)
	}

	if c.Bot.OrderTimeout <= 0 {
		return fmt.Errorf("ORDER_TIMEOUT must be positive, got %v", c.Bot.OrderTimeout)
	}

	if c.Bot.WSReadTimeout <= 0 {
		return fmt.Errorf("WS_READ_TIMEOUT must be positive, got %v", c.Bot.WSReadTimeout)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
