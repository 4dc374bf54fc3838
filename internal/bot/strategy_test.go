package bot

import (
	"testing"
	"time"

	"straddle/internal/config"
	"straddle/internal/models"
)

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		EntryTolerance: 0.05,
		ExitThreshold:  0.20,
		OrderTTL:       60 * time.Second,
	}
}

func bookWithAsk(marketID string, ask float64) *models.OrderBookSnapshot {
	return &models.OrderBookSnapshot{
		MarketID:   marketID,
		BestAsk:    models.Float64Ptr(ask),
		AskDepth:   500,
		ReceivedAt: time.Now().UTC(),
	}
}

func testMarket(marketID string) *models.MarketMetadata {
	return &models.MarketMetadata{
		MarketID:   marketID,
		Title:      "Team A побеждает Team B",
		EventID:    "event-1",
		YesTokenID: "token-yes",
		NoTokenID:  "token-no",
		StartTime:  time.Now().UTC().Add(30 * time.Minute),
		Volume24h:  15000,
		Active:     true,
	}
}

// ============================================================
// Условия входа
// ============================================================

// TestShouldEnter_ToleranceMatrix проверяет допуск обеих сторон вокруг 0.5
func TestShouldEnter_ToleranceMatrix(t *testing.T) {
	tests := []struct {
		name     string
		askYes   float64
		wantOK   bool
	}{
		// Допуск 0.05: обе цены должны лежать в [0.45, 0.55]
		{name: "dead even", askYes: 0.50, wantOK: true},
		{name: "yes at lower edge", askYes: 0.45, wantOK: true},
		{name: "yes near upper edge", askYes: 0.54, wantOK: true},
		{name: "yes slightly inside", askYes: 0.46, wantOK: true},
		{name: "yes below range", askYes: 0.44, wantOK: false},
		{name: "yes above range", askYes: 0.56, wantOK: false},
		{name: "clear favorite", askYes: 0.80, wantOK: false},
		{name: "clear underdog", askYes: 0.15, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategy := NewStraddleStrategy(testStrategyConfig())
			decision := strategy.ShouldEnter(testMarket("m1"), bookWithAsk("m1", tt.askYes))

			if decision.CanEnter != tt.wantOK {
				t.Errorf("ShouldEnter(ask=%.2f).CanEnter = %v (%s), want %v",
					tt.askYes, decision.CanEnter, decision.Reason, tt.wantOK)
			}
			if !tt.wantOK && decision.Reason == "" {
				t.Error("rejection without reason")
			}
			if decision.YesPrice != tt.askYes {
				t.Errorf("YesPrice = %.4f, want %.4f", decision.YesPrice, tt.askYes)
			}
			if absFloat(decision.NoPrice-(1-tt.askYes)) > 0.0001 {
				t.Errorf("NoPrice = %.4f, want %.4f", decision.NoPrice, 1-tt.askYes)
			}
		})
	}
}

// TestShouldEnter_NoBookData проверяет отказ при отсутствии данных книги
func TestShouldEnter_NoBookData(t *testing.T) {
	strategy := NewStraddleStrategy(testStrategyConfig())

	tests := []struct {
		name   string
		market *models.MarketMetadata
		book   *models.OrderBookSnapshot
	}{
		{name: "nil market", market: nil, book: bookWithAsk("m1", 0.50)},
		{name: "nil book", market: testMarket("m1"), book: nil},
		{name: "book without ask", market: testMarket("m1"), book: &models.OrderBookSnapshot{MarketID: "m1"}},
		{name: "zero ask", market: testMarket("m1"), book: &models.OrderBookSnapshot{MarketID: "m1", BestAsk: models.Float64Ptr(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := strategy.ShouldEnter(tt.market, tt.book)
			if decision.CanEnter {
				t.Error("ShouldEnter allowed entry without usable book data")
			}
			if decision.AskOK {
				t.Error("AskOK = true without usable ask")
			}
		})
	}
}

// TestShouldEnter_DecisionFlags проверяет детальные флаги решения
func TestShouldEnter_DecisionFlags(t *testing.T) {
	strategy := NewStraddleStrategy(testStrategyConfig())

	// Цена в допуске: все флаги подняты
	decision := strategy.ShouldEnter(testMarket("m1"), bookWithAsk("m1", 0.50))
	if !decision.AskOK || !decision.YesInRange || !decision.NoInRange {
		t.Errorf("flags = (ask=%v, yes=%v, no=%v), want all true",
			decision.AskOK, decision.YesInRange, decision.NoInRange)
	}

	// Цена вне допуска: аск есть, диапазон не прошел
	decision = strategy.ShouldEnter(testMarket("m1"), bookWithAsk("m1", 0.80))
	if !decision.AskOK {
		t.Error("AskOK = false with a usable ask")
	}
	if decision.YesInRange {
		t.Error("YesInRange = true at 0.80 with tolerance 0.05")
	}
}

// ============================================================
// Входные ордера
// ============================================================

// TestEntryOrders_EqualDollarStake проверяет равную долларовую ставку ног.
// Ставка 30 при ценах 0.48/0.52: размеры 62.5 и 57.69, стоимость обеих 30.
func TestEntryOrders_EqualDollarStake(t *testing.T) {
	strategy := NewStraddleStrategy(testStrategyConfig())
	market := testMarket("m1")

	intents, err := strategy.EntryOrders(market, bookWithAsk("m1", 0.48), 30)
	if err != nil {
		t.Fatalf("EntryOrders failed: %v", err)
	}
	if len(intents) != 2 {
		t.Fatalf("intents = %d, want 2", len(intents))
	}

	yes, no := intents[0], intents[1]
	if yes.MarketID != models.YesLegID("m1") || no.MarketID != models.NoLegID("m1") {
		t.Errorf("leg ids = (%s, %s), want (%s, %s)",
			yes.MarketID, no.MarketID, models.YesLegID("m1"), models.NoLegID("m1"))
	}
	if yes.Side != models.OrderSideBuy || no.Side != models.OrderSideBuy {
		t.Error("entry legs must be BUY orders")
	}

	// Долларовая стоимость каждой ноги равна ставке
	if cost := yes.Price * yes.Size; absFloat(cost-30.0) > 0.0001 {
		t.Errorf("yes leg cost = %.4f, want 30.0", cost)
	}
	if cost := no.Price * no.Size; absFloat(cost-30.0) > 0.0001 {
		t.Errorf("no leg cost = %.4f, want 30.0", cost)
	}
	if absFloat(yes.Price-0.48) > 0.0001 || absFloat(no.Price-0.52) > 0.0001 {
		t.Errorf("prices = (%.4f, %.4f), want (0.48, 0.52)", yes.Price, no.Price)
	}
}

// TestEntryOrders_CorrelationMetadata проверяет связывание пары через correlation id
func TestEntryOrders_CorrelationMetadata(t *testing.T) {
	strategy := NewStraddleStrategy(testStrategyConfig())

	intents, err := strategy.EntryOrders(testMarket("m1"), bookWithAsk("m1", 0.50), 30)
	if err != nil {
		t.Fatalf("EntryOrders failed: %v", err)
	}

	yesCorr := intents[0].Metadata[models.MetaCorrelationID]
	noCorr := intents[1].Metadata[models.MetaCorrelationID]
	if yesCorr == "" {
		t.Fatal("correlation id is empty")
	}
	if yesCorr != noCorr {
		t.Errorf("correlation ids differ: %s vs %s", yesCorr, noCorr)
	}

	if leg := intents[0].Metadata[models.MetaLeg]; leg != models.SideYes {
		t.Errorf("yes leg metadata = %s, want %s", leg, models.SideYes)
	}
	if leg := intents[1].Metadata[models.MetaLeg]; leg != models.SideNo {
		t.Errorf("no leg metadata = %s, want %s", leg, models.SideNo)
	}

	if intents[0].ClientOrderID == "" || intents[0].ClientOrderID == intents[1].ClientOrderID {
		t.Error("client order ids must be unique and non-empty")
	}

	ttl := int(testStrategyConfig().OrderTTL.Seconds())
	if intents[0].TTLSeconds != ttl || intents[1].TTLSeconds != ttl {
		t.Errorf("ttl = (%d, %d), want %d", intents[0].TTLSeconds, intents[1].TTLSeconds, ttl)
	}

	// Каждый вызов дает новый correlation id
	again, _ := strategy.EntryOrders(testMarket("m1"), bookWithAsk("m1", 0.50), 30)
	if again[0].Metadata[models.MetaCorrelationID] == yesCorr {
		t.Error("correlation id reused across entries")
	}
}

// TestEntryOrders_Validation проверяет отклонение непригодных входов
func TestEntryOrders_Validation(t *testing.T) {
	strategy := NewStraddleStrategy(testStrategyConfig())

	tests := []struct {
		name   string
		market *models.MarketMetadata
		book   *models.OrderBookSnapshot
		stake  float64
	}{
		{name: "nil market", market: nil, book: bookWithAsk("m1", 0.50), stake: 30},
		{name: "zero stake", market: testMarket("m1"), book: bookWithAsk("m1", 0.50), stake: 0},
		{name: "negative stake", market: testMarket("m1"), book: bookWithAsk("m1", 0.50), stake: -10},
		{name: "no ask", market: testMarket("m1"), book: &models.OrderBookSnapshot{MarketID: "m1"}, stake: 30},
		{name: "ask at 1.0 leaves no complement", market: testMarket("m1"), book: bookWithAsk("m1", 1.0), stake: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := strategy.EntryOrders(tt.market, tt.book, tt.stake); err == nil {
				t.Error("EntryOrders succeeded, want error")
			}
		})
	}
}

// ============================================================
// Стороны и условия выхода
// ============================================================

// TestComputeSides проверяет назначение дешевой стороны по текущим ценам
func TestComputeSides(t *testing.T) {
	tests := []struct {
		name         string
		yesPrice     float64
		noPrice      float64
		wantCheap    string
		wantFavorite string
	}{
		{name: "yes cheaper", yesPrice: 0.30, noPrice: 0.70, wantCheap: models.SideYes, wantFavorite: models.SideNo},
		{name: "no cheaper", yesPrice: 0.70, noPrice: 0.30, wantCheap: models.SideNo, wantFavorite: models.SideYes},
		{name: "tie defaults to no", yesPrice: 0.50, noPrice: 0.50, wantCheap: models.SideNo, wantFavorite: models.SideYes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cheap, favorite := ComputeSides(tt.yesPrice, tt.noPrice)
			if cheap != tt.wantCheap || favorite != tt.wantFavorite {
				t.Errorf("ComputeSides(%.2f, %.2f) = (%s, %s), want (%s, %s)",
					tt.yesPrice, tt.noPrice, cheap, favorite, tt.wantCheap, tt.wantFavorite)
			}
		})
	}
}

// TestCheckExits_ThresholdBoundary проверяет порог выхода: продаем при цене
// дешевой стороны не выше 0.20
func TestCheckExits_ThresholdBoundary(t *testing.T) {
	tests := []struct {
		name     string
		askYes   float64 // YES дешевая сторона позиции
		wantSell bool
	}{
		{name: "well below threshold", askYes: 0.17, wantSell: true},
		{name: "exactly at threshold", askYes: 0.20, wantSell: true},
		{name: "just above threshold", askYes: 0.21, wantSell: false},
		{name: "above threshold", askYes: 0.25, wantSell: false},
		{name: "near even", askYes: 0.48, wantSell: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategy := NewStraddleStrategy(testStrategyConfig())
			pos := &models.StraddlePosition{
				MarketID:      "m1",
				State:         models.StateEntered,
				YesEntryPrice: 0.48,
				NoEntryPrice:  0.52,
				YesSize:       62.5,
				NoSize:        57.69,
				CheapSide:     models.SideYes,
				FavoriteSide:  models.SideNo,
			}

			intents := strategy.CheckExits(pos, bookWithAsk("m1", tt.askYes))
			if tt.wantSell {
				if len(intents) != 1 {
					t.Fatalf("intents = %d at ask %.2f, want 1", len(intents), tt.askYes)
				}
				sell := intents[0]
				if sell.Side != models.OrderSideSell {
					t.Errorf("side = %s, want SELL", sell.Side)
				}
				if sell.MarketID != models.YesLegID("m1") {
					t.Errorf("leg = %s, want %s", sell.MarketID, models.YesLegID("m1"))
				}
				// Продается вся дешевая нога целиком
				if absFloat(sell.Size-62.5) > 0.0001 {
					t.Errorf("size = %.4f, want 62.5 (full leg)", sell.Size)
				}
				if absFloat(sell.Price-tt.askYes) > 0.0001 {
					t.Errorf("price = %.4f, want %.4f", sell.Price, tt.askYes)
				}
				if sell.Metadata[models.MetaExitSide] != models.SideYes {
					t.Errorf("exit side metadata = %s, want YES", sell.Metadata[models.MetaExitSide])
				}
			} else if len(intents) != 0 {
				t.Errorf("intents = %d at ask %.2f, want 0", len(intents), tt.askYes)
			}
		})
	}
}

// TestCheckExits_FavoriteFlip проверяет выход по текущей дешевой стороне,
// а не по записанной при входе
func TestCheckExits_FavoriteFlip(t *testing.T) {
	strategy := NewStraddleStrategy(testStrategyConfig())

	// При входе дешевой была YES, но цены развернулись:
	// YES 0.85, комплемент NO 0.15 ниже порога
	pos := &models.StraddlePosition{
		MarketID:      "m1",
		State:         models.StateEntered,
		YesEntryPrice: 0.48,
		NoEntryPrice:  0.52,
		YesSize:       62.5,
		NoSize:        57.69,
		CheapSide:     models.SideYes,
		FavoriteSide:  models.SideNo,
	}

	intents := strategy.CheckExits(pos, bookWithAsk("m1", 0.85))
	if len(intents) != 1 {
		t.Fatalf("intents = %d, want 1 (NO side crossed threshold)", len(intents))
	}
	sell := intents[0]
	if sell.MarketID != models.NoLegID("m1") {
		t.Errorf("leg = %s, want %s (current cheap side)", sell.MarketID, models.NoLegID("m1"))
	}
	if absFloat(sell.Size-57.69) > 0.0001 {
		t.Errorf("size = %.4f, want 57.69 (NO leg size)", sell.Size)
	}
	if absFloat(sell.Price-0.15) > 0.0001 {
		t.Errorf("price = %.4f, want 0.15 (complement)", sell.Price)
	}
}

// TestCheckExits_IgnoredStates проверяет, что выход генерируется только для ENTERED
func TestCheckExits_IgnoredStates(t *testing.T) {
	strategy := NewStraddleStrategy(testStrategyConfig())
	base := models.StraddlePosition{
		MarketID:      "m1",
		YesEntryPrice: 0.48,
		NoEntryPrice:  0.52,
		YesSize:       62.5,
		NoSize:        57.69,
		CheapSide:     models.SideYes,
		FavoriteSide:  models.SideNo,
	}

	tests := []struct {
		name  string
		state string
	}{
		{name: "waiting entry", state: models.StateWaitingEntry},
		{name: "already exited", state: models.StateExited},
		{name: "resolved", state: models.StateResolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := base
			pos.State = tt.state
			if intents := strategy.CheckExits(&pos, bookWithAsk("m1", 0.15)); len(intents) != 0 {
				t.Errorf("intents = %d for state %s, want 0", len(intents), tt.state)
			}
		})
	}

	t.Run("nil position", func(t *testing.T) {
		if intents := strategy.CheckExits(nil, bookWithAsk("m1", 0.15)); len(intents) != 0 {
			t.Error("intents generated for nil position")
		}
	})

	t.Run("no book data", func(t *testing.T) {
		pos := base
		pos.State = models.StateEntered
		if intents := strategy.CheckExits(&pos, nil); len(intents) != 0 {
			t.Error("intents generated without book data")
		}
	})
}

// TestStrategyMetrics проверяет счетчики сигналов
func TestStrategyMetrics(t *testing.T) {
	strategy := NewStraddleStrategy(testStrategyConfig())

	strategy.ShouldEnter(testMarket("m1"), bookWithAsk("m1", 0.50)) // вход разрешен
	strategy.ShouldEnter(testMarket("m2"), bookWithAsk("m2", 0.80)) // отклонен, не считается

	pos := &models.StraddlePosition{
		MarketID: "m1", State: models.StateEntered,
		YesEntryPrice: 0.48, NoEntryPrice: 0.52,
		YesSize: 62.5, NoSize: 57.69,
		CheapSide: models.SideYes, FavoriteSide: models.SideNo,
	}
	strategy.CheckExits(pos, bookWithAsk("m1", 0.18)) // выход сигнален
	strategy.CheckExits(pos, bookWithAsk("m1", 0.40)) // нет сигнала

	metrics := strategy.GetMetrics()
	if metrics.EntriesSignaled != 1 {
		t.Errorf("EntriesSignaled = %d, want 1", metrics.EntriesSignaled)
	}
	if metrics.ExitsSignaled != 1 {
		t.Errorf("ExitsSignaled = %d, want 1", metrics.ExitsSignaled)
	}
}
