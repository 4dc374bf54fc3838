package utils

import (
	"math"
)

// math.go - математические утилиты для торговли бинарными исходами
//
// Назначение:
// Вспомогательные функции для расчетов стратегии и риска.
// Все функции являются чистыми (pure functions) без побочных эффектов.
//
// Функции:
// - RoundToLotSize: округление объёма до шага биржи
// - ComplementProbability: вероятность противоположной стороны
// - DistanceFromEven: удаленность цены от 50/50
// - SharesForStake: количество долей на долларовую ставку
// - CalculateLegPnl: PNL одной ноги
// - CalculateResolutionPayout: выплата за победившую сторону

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Используется для округления количества долей до минимального шага биржи.
// Округление вниз гарантирует, что мы не превысим запланированную ставку.
//
// Параметры:
//   - value: исходное значение (количество долей)
//   - lotSize: минимальный шаг изменения объёма на бирже
//
// Возвращает:
//   - Округлённое значение, кратное lotSize
//   - Если lotSize <= 0, возвращает исходное значение
//
// Примеры:
//   - RoundToLotSize(57.6923, 0.01) = 57.69
//   - RoundToLotSize(62.5, 1.0) = 62.0
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	// Используем math.Floor для округления вниз
	// Это безопаснее для торговли - не превысим запланированную ставку
	return math.Floor(value/lotSize) * lotSize
}

// RoundToLotSizeUp округляет значение ВВЕРХ до ближайшего кратного lotSize.
//
// Используется когда нужно гарантировать минимальный объём (например, для minQty).
func RoundToLotSizeUp(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Ceil(value/lotSize) * lotSize
}

// RoundToLotSizeNearest округляет к ближайшему кратному lotSize.
//
// Стандартное математическое округление.
func RoundToLotSizeNearest(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Round(value/lotSize) * lotSize
}

// ComplementProbability возвращает вероятность противоположной стороны.
//
// В бинарном рынке цена доли и есть подразумеваемая вероятность,
// поэтому p_NO = 1 - p_YES. Результат зажимается в [0, 1] на случай
// кривых данных книги.
//
// Примеры:
//   - ComplementProbability(0.52) = 0.48
//   - ComplementProbability(1.2) = 0
func ComplementProbability(p float64) float64 {
	return Clamp(1-p, 0, 1)
}

// DistanceFromEven возвращает удаленность вероятности от 50/50.
//
// Используется проверкой входа: обе стороны должны быть близки к 0.5.
//
// Примеры:
//   - DistanceFromEven(0.52) = 0.02
//   - DistanceFromEven(0.40) = 0.10
func DistanceFromEven(p float64) float64 {
	return math.Abs(p - 0.5)
}

// IsNearEven проверяет что вероятность в пределах допуска от 0.5.
//
// Параметры:
//   - p: подразумеваемая вероятность
//   - tolerance: допуск (например, 0.05 для окна [0.45, 0.55])
//
// Возвращает:
//   - true если |p - 0.5| <= tolerance
func IsNearEven(p, tolerance float64) bool {
	return DistanceFromEven(p) <= tolerance
}

// SharesForStake возвращает количество долей на долларовую ставку.
//
// Обе ноги стрэддла получают одинаковую долларовую ставку, поэтому
// дешевая сторона получает больше долей.
//
// Параметры:
//   - stake: ставка в долларах
//   - price: цена доли в диапазоне (0, 1]
//
// Возвращает:
//   - stake / price
//   - 0 если цена или ставка некорректны
//
// Примеры:
//   - SharesForStake(30, 0.52) = 57.69...
//   - SharesForStake(30, 0.48) = 62.5
func SharesForStake(stake, price float64) float64 {
	if stake <= 0 || price <= 0 {
		return 0
	}
	return stake / price
}

// CalculateLegPnl расчитывает PNL одной ноги позиции.
//
// Доли бинарного рынка всегда длинные, поэтому формула одна:
//
//	PNL = (P_марк - P_входа) × объём
//
// Отрицательный результат означает убыток. Та же формула применяется
// к реализованному PNL при продаже дешевой стороны.
//
// Примеры:
//   - CalculateLegPnl(0.50, 0.18, 60) = -19.2
//   - CalculateLegPnl(0.48, 0.55, 62.5) = 4.375
func CalculateLegPnl(entryPrice, markPrice, size float64) float64 {
	if size <= 0 {
		return 0
	}
	return (markPrice - entryPrice) * size
}

// CalculateResolutionPayout расчитывает выплату за победившую сторону.
//
// При разрешении рынка победившая доля стоит 1.00, поэтому прибыль
// держателя равна (1 - цена входа) на каждую долю.
//
// Параметры:
//   - entryPrice: цена входа в победившую сторону
//   - size: количество долей
//
// Возвращает:
//   - (1.0 - entryPrice) × size
//   - 0 если объём некорректен
//
// Примеры:
//   - CalculateResolutionPayout(0.55, 54.5) = 24.525
//   - CalculateResolutionPayout(0.52, 57.69) = 27.69...
func CalculateResolutionPayout(entryPrice, size float64) float64 {
	if size <= 0 {
		return 0
	}
	return (1.0 - entryPrice) * size
}

// CalculateDrawdown расчитывает относительную просадку банкролла.
//
// Формула:
//
//	Просадка = max(0, (начальный - эффективный) / начальный)
//
// Эффективный банкролл включает нереализованный PNL открытых позиций.
// Рост банкролла дает 0, не отрицательную просадку.
//
// Примеры:
//   - CalculateDrawdown(1000, 900) = 0.1
//   - CalculateDrawdown(1000, 1100) = 0
func CalculateDrawdown(initial, effective float64) float64 {
	if initial <= 0 {
		return 0
	}
	return math.Max(0, (initial-effective)/initial)
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
