package bot

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"straddle/internal/config"
	"straddle/internal/models"
	"straddle/pkg/utils"
)

// ============================================================
// StraddleStrategy - сигналы входа и выхода
// ============================================================
//
// Логика стратегии:
// - Вход: рынок максимально неопределен, обе стороны около 0.5.
//   Покупаем обе ноги на равную долларовую ставку.
// - Выход: цена дешевой стороны упала до порога. Продаем дешевую
//   ногу целиком одним ордером, фаворит держим до резолюции.
//
// Стратегия работает с книгой YES стороны: цена NO берется как
// комплемент 1 - pYes. Бинарные доли комплементарны, отдельная
// книга NO для сигналов не нужна.

// StraddleStrategy принимает торговые решения по срезам книги
type StraddleStrategy struct {
	cfg config.StrategyConfig

	// Счетчики для мониторинга
	entriesSignaled int64
	exitsSignaled   int64
}

// NewStraddleStrategy создает стратегию с параметрами из конфигурации
func NewStraddleStrategy(cfg config.StrategyConfig) *StraddleStrategy {
	return &StraddleStrategy{cfg: cfg}
}

// ExitThreshold возвращает действующий порог выхода
func (s *StraddleStrategy) ExitThreshold() float64 {
	return s.cfg.ExitThreshold
}

// ============================================================
// Условия входа
// ============================================================

// EntryDecision - результат проверки условий входа
type EntryDecision struct {
	CanEnter bool
	Reason   string // причина отказа если CanEnter=false

	// Детали проверки
	AskOK       bool
	YesInRange  bool
	NoInRange   bool

	// Подразумеваемые цены сторон на момент проверки
	YesPrice float64
	NoPrice  float64
}

// ShouldEnter проверяет условия входа в стрэддл.
//
// Вход разрешен только когда обе подразумеваемые цены лежат в пределах
// EntryTolerance от 0.5. Без пригодного аска решение отрицательное:
// отсутствие данных книги никогда не трактуется как нулевая цена.
func (s *StraddleStrategy) ShouldEnter(market *models.MarketMetadata, book *models.OrderBookSnapshot) *EntryDecision {
	decision := &EntryDecision{}

	if market == nil || !book.HasAsk() {
		decision.Reason = "no usable ask price"
		return decision
	}
	decision.AskOK = true

	pYes := book.Ask()
	pNo := utils.ComplementProbability(pYes)
	decision.YesPrice = pYes
	decision.NoPrice = pNo

	tol := s.cfg.EntryTolerance
	if !utils.IsNearEven(pYes, tol) {
		decision.Reason = fmt.Sprintf("yes price %.4f outside tolerance %.4f of 0.5", pYes, tol)
		return decision
	}
	decision.YesInRange = true

	if !utils.IsNearEven(pNo, tol) {
		decision.Reason = fmt.Sprintf("no price %.4f outside tolerance %.4f of 0.5", pNo, tol)
		return decision
	}
	decision.NoInRange = true

	decision.CanEnter = true
	atomic.AddInt64(&s.entriesSignaled, 1)
	return decision
}

// EntryOrders строит пару входных BUY ордеров на равную долларовую ставку.
//
// Размер каждой ноги равен stake / price, так что price * size обеих
// ног совпадает. Оба ордера несут общий correlation id: по нему
// исполнения входа сопоставляются в пару.
func (s *StraddleStrategy) EntryOrders(market *models.MarketMetadata, book *models.OrderBookSnapshot, stake float64) ([]models.OrderIntent, error) {
	if market == nil {
		return nil, fmt.Errorf("market is required")
	}
	if stake <= 0 {
		return nil, fmt.Errorf("stake must be positive, got %.4f", stake)
	}
	if !book.HasAsk() {
		return nil, fmt.Errorf("no usable ask price for market %s", market.MarketID)
	}

	pYes := book.Ask()
	pNo := utils.ComplementProbability(pYes)
	if pYes <= 0 || pYes >= 1 || pNo <= 0 {
		return nil, fmt.Errorf("implied prices outside (0, 1): yes=%.4f no=%.4f", pYes, pNo)
	}

	correlationID := uuid.NewString()
	ttl := int(s.cfg.OrderTTL.Seconds())

	intents := []models.OrderIntent{
		{
			MarketID:      models.YesLegID(market.MarketID),
			Side:          models.OrderSideBuy,
			Price:         pYes,
			Size:          utils.SharesForStake(stake, pYes),
			TTLSeconds:    ttl,
			ClientOrderID: uuid.NewString(),
			Metadata: map[string]string{
				models.MetaCorrelationID: correlationID,
				models.MetaLeg:           models.SideYes,
			},
		},
		{
			MarketID:      models.NoLegID(market.MarketID),
			Side:          models.OrderSideBuy,
			Price:         pNo,
			Size:          utils.SharesForStake(stake, pNo),
			TTLSeconds:    ttl,
			ClientOrderID: uuid.NewString(),
			Metadata: map[string]string{
				models.MetaCorrelationID: correlationID,
				models.MetaLeg:           models.SideNo,
			},
		},
	}

	return intents, nil
}

// ============================================================
// Условия выхода
// ============================================================

// ExitReason причина генерации выходного ордера
type ExitReason string

const (
	ExitReasonNone      ExitReason = ""
	ExitReasonThreshold ExitReason = "threshold_reached" // дешевая сторона достигла порога
)

// ComputeSides возвращает дешевую и фаворитную стороны по текущим ценам.
// Дешевая - строго меньшая цена; при равенстве дешевой считается NO.
func ComputeSides(yesPrice, noPrice float64) (cheap, favorite string) {
	if yesPrice < noPrice {
		return models.SideYes, models.SideNo
	}
	return models.SideNo, models.SideYes
}

// CheckExits проверяет условие выхода для позиции.
//
// Работает только с ENTERED позициями. Стороны пересчитываются по
// свежему срезу перед сравнением с порогом: фаворит может смениться
// за время матча, и продавать нужно текущую дешевую ногу, а не
// записанную при входе. Вызывающий код обязан синхронизировать
// пересчет с трекером (RecomputeSides) до сопоставления исполнений.
//
// При cheapPrice <= ExitThreshold возвращает ровно один SELL на полный
// размер дешевой ноги. Никакой лесенки частичных выходов: порог один,
// выход атомарный.
func (s *StraddleStrategy) CheckExits(pos *models.StraddlePosition, book *models.OrderBookSnapshot) []models.OrderIntent {
	if pos == nil || pos.State != models.StateEntered {
		return nil
	}
	if !book.HasAsk() {
		return nil
	}

	yesPrice := book.Ask()
	noPrice := utils.ComplementProbability(yesPrice)
	cheap, _ := ComputeSides(yesPrice, noPrice)

	cheapPrice := yesPrice
	cheapSize := pos.YesSize
	legID := models.YesLegID(pos.MarketID)
	if cheap == models.SideNo {
		cheapPrice = noPrice
		cheapSize = pos.NoSize
		legID = models.NoLegID(pos.MarketID)
	}

	if cheapPrice > s.cfg.ExitThreshold {
		return nil
	}
	if cheapSize <= 0 {
		return nil
	}

	atomic.AddInt64(&s.exitsSignaled, 1)

	return []models.OrderIntent{
		{
			MarketID:      legID,
			Side:          models.OrderSideSell,
			Price:         cheapPrice,
			Size:          cheapSize,
			TTLSeconds:    int(s.cfg.OrderTTL.Seconds()),
			ClientOrderID: uuid.NewString(),
			Metadata: map[string]string{
				models.MetaExitThreshold: strconv.FormatFloat(s.cfg.ExitThreshold, 'f', -1, 64),
				models.MetaExitSide:      cheap,
			},
		},
	}
}

// ============================================================
// Метрики для мониторинга
// ============================================================

// StrategyMetrics счетчики сигналов стратегии
type StrategyMetrics struct {
	EntriesSignaled int64
	ExitsSignaled   int64
}

// GetMetrics возвращает текущие счетчики
func (s *StraddleStrategy) GetMetrics() StrategyMetrics {
	return StrategyMetrics{
		EntriesSignaled: atomic.LoadInt64(&s.entriesSignaled),
		ExitsSignaled:   atomic.LoadInt64(&s.exitsSignaled),
	}
}
