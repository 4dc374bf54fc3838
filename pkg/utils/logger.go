package utils

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// logger.go - настройка логирования
//
// Назначение:
// Инициализация структурированного логирования через zerolog.
// Настраивает глобальный log.Logger: пакеты пишут через
// log.Info().Str(...).Msg(...) или через дочерний ComponentLogger.
//
// Функции:
// - InitLogger: настроить глобальный логгер
//   * Выбор формата (json, text)
//   * Уровни: debug, info, warn, error
//   * Вывод в файл или stdout
// - ComponentLogger: дочерний логгер с полем component
// - ParseLevel: разбор уровня из строки

// LogConfig - параметры инициализации логгера
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json или text (консольный вывод с цветом)
	Output string // путь к файлу, пусто = stdout
}

// InitLogger настраивает глобальный zerolog-логгер и возвращает его.
//
// При недоступном файле вывода откатывается на stdout без паники.
func InitLogger(cfg LogConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var w io.Writer = os.Stdout
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			w = f
		}
		// При ошибке открытия остаемся на stdout
	}

	if strings.ToLower(cfg.Format) == "text" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(w).With().Timestamp().Logger().Level(ParseLevel(cfg.Level))
	log.Logger = logger
	return logger
}

// ParseLevel разбирает уровень логирования из строки.
// Неизвестный уровень дает info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ComponentLogger возвращает дочерний логгер с полем component.
//
// Пример:
//
//	logger := utils.ComponentLogger("executor")
//	logger.Info().Str("market_id", id).Msg("ордер отправлен")
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
