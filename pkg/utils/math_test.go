package utils

import (
	"math"
	"testing"
)

// ============================================================
// Тесты RoundToLotSize
// ============================================================

func TestRoundToLotSize(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		lotSize  float64
		expected float64
	}{
		// Базовые кейсы
		{"exact match", 0.123, 0.001, 0.123},
		{"round down", 0.123456, 0.001, 0.123},
		{"round down 2", 1.999, 0.01, 1.99},
		{"whole numbers", 100.5, 1.0, 100.0},

		// Граничные случаи
		{"zero value", 0, 0.001, 0},
		{"zero lotSize", 0.123, 0, 0.123},
		{"negative lotSize", 0.123, -0.001, 0.123},
		{"very small lotSize", 1.23456789, 0.00000001, 1.23456789},

		// Доли на ставку 30$ при цене 0.52
		{"shares lot 0.01", 57.6923, 0.01, 57.69},
		{"shares lot 1", 62.5, 1.0, 62.0},

		// Большие числа
		{"large number", 12345.6789, 0.01, 12345.67},
		{"very large", 1000000.999, 1.0, 1000000.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToLotSize(tt.value, tt.lotSize)
			if !floatEquals(result, tt.expected) {
				t.Errorf("RoundToLotSize(%v, %v) = %v, want %v",
					tt.value, tt.lotSize, result, tt.expected)
			}
		})
	}
}

func TestRoundToLotSizeUp(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		lotSize  float64
		expected float64
	}{
		{"exact match", 0.123, 0.001, 0.123},
		{"round up", 0.1231, 0.001, 0.124},
		{"round up 2", 1.991, 0.01, 2.0},
		{"zero lotSize", 0.123, 0, 0.123},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToLotSizeUp(tt.value, tt.lotSize)
			if !floatEquals(result, tt.expected) {
				t.Errorf("RoundToLotSizeUp(%v, %v) = %v, want %v",
					tt.value, tt.lotSize, result, tt.expected)
			}
		})
	}
}

func TestRoundToLotSizeNearest(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		lotSize  float64
		expected float64
	}{
		{"exact match", 0.123, 0.001, 0.123},
		{"round down", 0.1234, 0.001, 0.123},
		{"round up", 0.1236, 0.001, 0.124},
		{"midpoint rounds up", 0.1235, 0.001, 0.124}, // Go округляет 0.5 вверх
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToLotSizeNearest(tt.value, tt.lotSize)
			if !floatEquals(result, tt.expected) {
				t.Errorf("RoundToLotSizeNearest(%v, %v) = %v, want %v",
					tt.value, tt.lotSize, result, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты вероятностей
// ============================================================

func TestComplementProbability(t *testing.T) {
	tests := []struct {
		name     string
		p        float64
		expected float64
	}{
		// Базовые кейсы
		{"even market", 0.5, 0.5},
		{"slight favorite", 0.52, 0.48},
		{"heavy favorite", 0.83, 0.17},

		// Зажим в [0, 1] при кривых данных
		{"above one", 1.2, 0},
		{"negative", -0.1, 1},
		{"exactly one", 1.0, 0},
		{"exactly zero", 0.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComplementProbability(tt.p)
			if !floatEquals(result, tt.expected) {
				t.Errorf("ComplementProbability(%v) = %v, want %v", tt.p, result, tt.expected)
			}
		})
	}
}

func TestDistanceFromEven(t *testing.T) {
	tests := []struct {
		name     string
		p        float64
		expected float64
	}{
		{"exactly even", 0.50, 0},
		{"above even", 0.52, 0.02},
		{"below even", 0.40, 0.10},
		{"certainty", 1.0, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DistanceFromEven(tt.p)
			if !floatEquals(result, tt.expected) {
				t.Errorf("DistanceFromEven(%v) = %v, want %v", tt.p, result, tt.expected)
			}
		})
	}
}

func TestIsNearEven(t *testing.T) {
	tests := []struct {
		name      string
		p         float64
		tolerance float64
		expected  bool
	}{
		// Допуск 0.05: окно [0.45, 0.55]
		{"inside window", 0.52, 0.05, true},
		{"on boundary", 0.55, 0.05, true},
		{"outside window", 0.56, 0.05, false},
		{"far outside", 0.80, 0.05, false},
		{"exactly even", 0.50, 0.05, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsNearEven(tt.p, tt.tolerance)
			if result != tt.expected {
				t.Errorf("IsNearEven(%v, %v) = %v, want %v",
					tt.p, tt.tolerance, result, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты SharesForStake
// ============================================================

func TestSharesForStake(t *testing.T) {
	tests := []struct {
		name     string
		stake    float64
		price    float64
		expected float64
	}{
		// Равная долларовая ставка, разные цены
		{"yes leg", 30.0, 0.52, 57.692307},
		{"no leg", 30.0, 0.48, 62.5},
		{"even market", 30.0, 0.50, 60.0},

		// Граничные случаи
		{"zero stake", 0, 0.5, 0},
		{"zero price", 30.0, 0, 0},
		{"negative price", 30.0, -0.5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SharesForStake(tt.stake, tt.price)
			if !floatEquals(result, tt.expected) {
				t.Errorf("SharesForStake(%v, %v) = %v, want %v",
					tt.stake, tt.price, result, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты CalculateLegPnl
// ============================================================

func TestCalculateLegPnl(t *testing.T) {
	tests := []struct {
		name       string
		entryPrice float64
		markPrice  float64
		size       float64
		expected   float64
	}{
		// Продажа дешевой стороны почти всегда в убыток
		{"cheap side exit loss", 0.50, 0.18, 60.0, -19.2},
		{"cheap side exit deep loss", 0.48, 0.10, 62.5, -23.75},

		// Фаворит дорожает
		{"favorite gain", 0.52, 0.70, 57.69, 10.3842},
		{"breakeven", 0.50, 0.50, 60.0, 0.0},

		// Граничные случаи
		{"zero size", 0.50, 0.18, 0, 0},
		{"negative size", 0.50, 0.18, -10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateLegPnl(tt.entryPrice, tt.markPrice, tt.size)
			if !floatEquals(result, tt.expected) {
				t.Errorf("CalculateLegPnl(%v, %v, %v) = %v, want %v",
					tt.entryPrice, tt.markPrice, tt.size, result, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты CalculateResolutionPayout
// ============================================================

func TestCalculateResolutionPayout(t *testing.T) {
	tests := []struct {
		name       string
		entryPrice float64
		size       float64
		expected   float64
	}{
		{"favorite wins", 0.55, 54.5, 24.525},
		{"even entry", 0.50, 60.0, 30.0},
		{"cheap entry wins big", 0.20, 150.0, 120.0},

		// Граничные случаи
		{"zero size", 0.55, 0, 0},
		{"entry at one", 1.0, 60.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateResolutionPayout(tt.entryPrice, tt.size)
			if !floatEquals(result, tt.expected) {
				t.Errorf("CalculateResolutionPayout(%v, %v) = %v, want %v",
					tt.entryPrice, tt.size, result, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты CalculateDrawdown
// ============================================================

func TestCalculateDrawdown(t *testing.T) {
	tests := []struct {
		name      string
		initial   float64
		effective float64
		expected  float64
	}{
		{"10 percent down", 1000, 900, 0.1},
		{"25 percent down", 1000, 750, 0.25},
		{"no drawdown", 1000, 1000, 0},
		{"bankroll grew", 1000, 1100, 0}, // рост дает 0, не отрицательное
		{"zero initial", 0, 900, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateDrawdown(tt.initial, tt.effective)
			if !floatEquals(result, tt.expected) {
				t.Errorf("CalculateDrawdown(%v, %v) = %v, want %v",
					tt.initial, tt.effective, result, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты утилит
// ============================================================

func TestClamp(t *testing.T) {
	tests := []struct {
		value, min, max, expected float64
	}{
		{5, 0, 10, 5},   // в диапазоне
		{-5, 0, 10, 0},  // ниже min
		{15, 0, 10, 10}, // выше max
		{0, 0, 10, 0},   // на границе min
		{10, 0, 10, 10}, // на границе max
	}

	for _, tt := range tests {
		result := Clamp(tt.value, tt.min, tt.max)
		if result != tt.expected {
			t.Errorf("Clamp(%v, %v, %v) = %v, want %v",
				tt.value, tt.min, tt.max, result, tt.expected)
		}
	}
}

func TestMinMax(t *testing.T) {
	if Min(30, 50) != 30 {
		t.Error("Min(30, 50) должен быть 30")
	}
	if Max(30, 50) != 50 {
		t.Error("Max(30, 50) должен быть 50")
	}
	if Abs(-19.2) != 19.2 {
		t.Error("Abs(-19.2) должен быть 19.2")
	}
}

// ============================================================
// Бенчмарки
// ============================================================

func BenchmarkRoundToLotSize(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RoundToLotSize(57.6923456, 0.01)
	}
}

func BenchmarkSharesForStake(b *testing.B) {
	for i := 0; i < b.N; i++ {
		SharesForStake(30.0, 0.52)
	}
}

func BenchmarkCalculateLegPnl(b *testing.B) {
	for i := 0; i < b.N; i++ {
		CalculateLegPnl(0.50, 0.18, 60.0)
	}
}

func BenchmarkIsNearEven(b *testing.B) {
	for i := 0; i < b.N; i++ {
		IsNearEven(0.52, 0.05)
	}
}

// ============================================================
// Вспомогательные функции
// ============================================================

const floatEpsilon = 1e-6

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatEpsilon
}
