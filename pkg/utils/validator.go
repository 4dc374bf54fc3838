package utils

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// validator.go - валидация данных
//
// Назначение:
// Проверка корректности входных данных перед отправкой ордеров
// и записью в БД.
//
// Функции:
// - ValidateMarketID: проверка формата id рынка
// - ValidatePrice: проверка цены доли (0, 1)
// - ValidateSize: проверка объема (> 0)
// - ValidateOrderSide: проверка стороны ордера (BUY/SELL)
// - ValidateLegSide: проверка стороны ноги (YES/NO)
// - ValidateOrderIntent: комбинированная проверка ордера
//
// Возвращает error с описанием проблемы или nil

// Сентинельные ошибки валидации
var (
	ErrInvalidMarketID = errors.New("invalid market id")
	ErrInvalidPrice    = errors.New("price must be in (0, 1)")
	ErrInvalidSize     = errors.New("size must be positive and finite")
	ErrInvalidSide     = errors.New("side must be BUY or SELL")
	ErrInvalidLegSide  = errors.New("leg side must be YES or NO")
	ErrInvalidTTL      = errors.New("ttl cannot be negative")
)

const (
	minMarketIDLen = 2
	maxMarketIDLen = 128 // condition id в hex плюс суффикс ноги
)

// ValidateMarketID проверяет формат id рынка.
//
// Допустимы латинские буквы, цифры, дефис и подчеркивание.
// Суффиксы ног (-YES/-NO) проходят проверку как часть id.
func ValidateMarketID(id string) error {
	if len(id) < minMarketIDLen {
		return fmt.Errorf("%w: too short (%d chars)", ErrInvalidMarketID, len(id))
	}
	if len(id) > maxMarketIDLen {
		return fmt.Errorf("%w: too long (%d chars)", ErrInvalidMarketID, len(id))
	}

	for _, r := range id {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum && r != '-' && r != '_' {
			return fmt.Errorf("%w: illegal character %q", ErrInvalidMarketID, r)
		}
	}

	return nil
}

// ValidatePrice проверяет цену доли бинарного рынка.
//
// Цена строго между 0 и 1: доли по 0.00 и 1.00 не торгуются.
func ValidatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidPrice, price)
	}
	if price <= 0 || price >= 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidPrice, price)
	}
	return nil
}

// ValidateSize проверяет объем ордера
func ValidateSize(size float64) error {
	if math.IsNaN(size) || math.IsInf(size, 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidSize, size)
	}
	if size <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidSize, size)
	}
	return nil
}

// ValidateOrderSide проверяет сторону ордера
func ValidateOrderSide(side string) error {
	if side != "BUY" && side != "SELL" {
		return fmt.Errorf("%w: got %q", ErrInvalidSide, side)
	}
	return nil
}

// ValidateLegSide проверяет сторону ноги стрэддла
func ValidateLegSide(side string) error {
	if side != "YES" && side != "NO" {
		return fmt.Errorf("%w: got %q", ErrInvalidLegSide, side)
	}
	return nil
}

// ValidateTTL проверяет время жизни ордера в секундах.
// 0 означает бессрочный ордер.
func ValidateTTL(ttlSeconds int) error {
	if ttlSeconds < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidTTL, ttlSeconds)
	}
	return nil
}

// NormalizeSide приводит сторону к каноническому виду (BUY, SELL, YES, NO)
func NormalizeSide(side string) string {
	return strings.ToUpper(strings.TrimSpace(side))
}

// OrderIntentValidation - поля ордера для комбинированной проверки.
// Локальная структура, чтобы не тянуть зависимость на models.
type OrderIntentValidation struct {
	MarketID   string
	Side       string
	Price      float64
	Size       float64
	TTLSeconds int
}

// ValidateOrderIntent проверяет все поля ордера разом.
//
// Возвращает ValidationErrors со всеми найденными проблемами,
// nil если ордер корректен.
func ValidateOrderIntent(intent OrderIntentValidation) error {
	var errs ValidationErrors

	errs.AddError("market_id", ValidateMarketID(intent.MarketID))
	errs.AddError("side", ValidateOrderSide(intent.Side))
	errs.AddError("price", ValidatePrice(intent.Price))
	errs.AddError("size", ValidateSize(intent.Size))
	errs.AddError("ttl_seconds", ValidateTTL(intent.TTLSeconds))

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ============================================================
// Накопление ошибок валидации
// ============================================================

// ValidationError - одна ошибка валидации с привязкой к полю
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors - набор ошибок валидации
type ValidationErrors []ValidationError

// Add добавляет ошибку по полю и сообщению
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// AddError добавляет ошибку если она не nil
func (v *ValidationErrors) AddError(field string, err error) {
	if err == nil {
		return
	}
	*v = append(*v, ValidationError{Field: field, Message: err.Error()})
}

// HasErrors возвращает true если есть хотя бы одна ошибка
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// Error собирает все ошибки в одну строку
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}

	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return strings.Join(parts, "; ")
}

// ============================================================
// Bool-хелперы
// ============================================================

// IsValidMarketID возвращает true для корректного id рынка
func IsValidMarketID(id string) bool {
	return ValidateMarketID(id) == nil
}

// IsValidPrice возвращает true для корректной цены
func IsValidPrice(price float64) bool {
	return ValidatePrice(price) == nil
}

// IsValidOrderSide возвращает true для BUY или SELL
func IsValidOrderSide(side string) bool {
	return ValidateOrderSide(side) == nil
}
