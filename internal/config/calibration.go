package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// calibration - параметры стратегии из YAML файла.
//
// Файл пишется офлайн-исследованием порогов и подхватывается ботом
// при старте. Указатели отличают "не задано" от нулевого значения.
type calibration struct {
	EntryTolerance *float64 `yaml:"entry_tolerance"`
	ExitThreshold  *float64 `yaml:"exit_threshold"`
	OrderTTL       *string  `yaml:"order_ttl"` // формат time.ParseDuration, например "30s"
	MinVolume24h   *float64 `yaml:"min_volume_24h"`
	MarketTags     []string `yaml:"market_tags"` // теги дисциплины, под которую калиброван порог
}

// applyCalibration накладывает YAML-калибровку на параметры стратегии.
//
// Переменные окружения имеют приоритет: значение из файла применяется
// только если соответствующая переменная не установлена. Отсутствие
// файла при пустом CalibrationFile - не ошибка.
func (c *Config) applyCalibration() error {
	path := c.Strategy.CalibrationFile
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading calibration file %s: %w", path, err)
	}

	var cal calibration
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return fmt.Errorf("parsing calibration file %s: %w", path, err)
	}

	if cal.EntryTolerance != nil && os.Getenv("STRATEGY_ENTRY_TOLERANCE") == "" {
		c.Strategy.EntryTolerance = *cal.EntryTolerance
	}
	if cal.ExitThreshold != nil && os.Getenv("STRATEGY_EXIT_THRESHOLD") == "" {
		c.Strategy.ExitThreshold = *cal.ExitThreshold
	}
	if cal.OrderTTL != nil && os.Getenv("STRATEGY_ORDER_TTL") == "" {
		ttl, err := time.ParseDuration(*cal.OrderTTL)
		if err != nil {
			return fmt.Errorf("parsing order_ttl in %s: %w", path, err)
		}
		c.Strategy.OrderTTL = ttl
	}
	if cal.MinVolume24h != nil && os.Getenv("SCAN_MIN_VOLUME") == "" {
		c.Strategy.MinVolume24h = *cal.MinVolume24h
	}
	if len(cal.MarketTags) > 0 && os.Getenv("SCAN_MARKET_TAGS") == "" {
		c.Strategy.MarketTags = cal.MarketTags
	}

	return nil
}
