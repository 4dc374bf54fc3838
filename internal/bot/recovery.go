package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"straddle/internal/models"
)

// ============================================================
// Восстановление после рестарта
// ============================================================
//
// Процесс бота может умереть в любой момент: между отправкой ноги и
// ее исполнением, между исполнением и записью позиции, с висящим
// выходным SELL. RecoveryManager приводит память и биржу к согласию
// с БД до первого тика движка.

// RecoveryManager восстанавливает состояние бота из БД и биржи
type RecoveryManager struct {
	engine    *Engine
	positions PositionStore
	orders    OrderStore
	fills     FillStore

	notifyChan chan<- *models.Notification
	log        zerolog.Logger

	// Настройки восстановления
	cancelOrphanedEntries bool // отменять живые входные ордера без позиции
	recoveryTimeout       time.Duration
}

// RecoveryConfig - конфигурация восстановления
type RecoveryConfig struct {
	// CancelOrphanedEntries - отменять входные ордера, оставшиеся в
	// стакане без контекста пары. Без второй ноги они бесполезны,
	// а исполнившись создадут неучтенную экспозицию.
	CancelOrphanedEntries bool

	// RecoveryTimeout - таймаут на весь процесс восстановления
	RecoveryTimeout time.Duration
}

// DefaultRecoveryConfig возвращает конфигурацию по умолчанию
func DefaultRecoveryConfig() *RecoveryConfig {
	return &RecoveryConfig{
		CancelOrphanedEntries: true,
		RecoveryTimeout:       30 * time.Second,
	}
}

// NewRecoveryManager создает менеджер восстановления
func NewRecoveryManager(
	engine *Engine,
	positions PositionStore,
	orders OrderStore,
	fills FillStore,
	notifyChan chan<- *models.Notification,
	recoveryConfig *RecoveryConfig,
	log zerolog.Logger,
) *RecoveryManager {
	if recoveryConfig == nil {
		recoveryConfig = DefaultRecoveryConfig()
	}

	return &RecoveryManager{
		engine:                engine,
		positions:             positions,
		orders:                orders,
		fills:                 fills,
		notifyChan:            notifyChan,
		log:                   log.With().Str("component", "recovery").Logger(),
		cancelOrphanedEntries: recoveryConfig.CancelOrphanedEntries,
		recoveryTimeout:       recoveryConfig.RecoveryTimeout,
	}
}

// RecoveryResult содержит итоги процесса восстановления
type RecoveryResult struct {
	// PositionsLoaded - позиции, поднятые из БД в трекер
	PositionsLoaded int

	// ExposureRestored - суммарная восстановленная экспозиция
	ExposureRestored float64

	// MarketsResubscribed - рынки, по которым заново получены
	// метаданные и подписки на книги
	MarketsResubscribed int

	// OrdersChecked - активные ордера из БД, сверенные с биржей
	OrdersChecked int

	// OrdersReconciled - ордера, чей статус изменился после сверки
	OrdersReconciled int

	// OrdersCancelled - отмененные осиротевшие входные ордера
	OrdersCancelled int

	// MissedExits - продажи дешевой стороны, исполнившиеся пока бот
	// лежал и примененные задним числом
	MissedExits int

	// MissedEntries - пары входных исполнений, собранные в позиции
	MissedEntries int

	// LonelyLegs - исполненные ноги входа, оставшиеся без пары
	LonelyLegs int

	// Errors - некритичные ошибки процесса
	Errors []string

	// Duration - длительность восстановления
	Duration time.Duration
}

// Recover выполняет полный процесс восстановления.
//
// Шаги:
//  1. Загрузка активных позиций из БД
//  2. Восстановление кэша трекера
//  3. Восстановление экспозиции риск-менеджера
//  4. Метаданные и подписки удерживаемых рынков
//  5. Сверка активных ордеров с биржей
//  6. Применение пропущенных выходов
//  7. Сборка пропущенных входов, отмена осиротевших ордеров
//  8. Сводное уведомление
//
// Недоступность БД на шаге 1 фатальна: старт вслепую задублировал бы
// позиции. Остальные шаги деградируют до записей в Errors.
func (rm *RecoveryManager) Recover(ctx context.Context) (*RecoveryResult, error) {
	start := time.Now()
	result := &RecoveryResult{Errors: make([]string, 0)}

	ctx, cancel := context.WithTimeout(ctx, rm.recoveryTimeout)
	defer cancel()

	// Шаг 1: Загрузка активных позиций из БД
	positions, err := rm.positions.LoadActive()
	if err != nil {
		return result, fmt.Errorf("load active positions: %w", err)
	}

	// Шаг 2: Восстановление кэша трекера
	result.PositionsLoaded = rm.engine.tracker.Load(positions)

	// Шаг 3: Восстановление экспозиции риск-менеджера
	for _, pos := range positions {
		if pos == nil || pos.MarketID == "" {
			continue
		}
		rm.engine.risk.RegisterPosition(pos)
		if pos.State == models.StateEntered && pos.UnrealizedPnl != 0 {
			rm.engine.risk.SetUnrealized(pos.MarketID, pos.UnrealizedPnl)
		}
	}
	result.ExposureRestored = rm.engine.risk.TotalExposure()

	// Шаг 4: Метаданные и подписки удерживаемых рынков
	result.MarketsResubscribed = rm.prefetchMarkets(ctx, positions)

	// Шаг 5: Сверка активных ордеров с биржей
	poll := rm.reconcileOrders(ctx, result)

	if poll != nil {
		// Шаг 6: Применение пропущенных выходов
		rm.applyMissedExits(poll.Fills, result)

		// Шаг 7: Сборка пропущенных входов, отмена осиротевших
		rm.assembleMissedEntries(ctx, poll.Orders, result)
	}

	// Шаг 8: Сводное уведомление
	result.Duration = time.Since(start)
	rm.notifySummary(result)

	rm.log.Info().
		Int("positions", result.PositionsLoaded).
		Float64("exposure", result.ExposureRestored).
		Int("orders_checked", result.OrdersChecked).
		Int("missed_exits", result.MissedExits).
		Int("missed_entries", result.MissedEntries).
		Int("lonely_legs", result.LonelyLegs).
		Int("cancelled", result.OrdersCancelled).
		Dur("duration", result.Duration).
		Msg("восстановление завершено")

	return result, nil
}

// prefetchMarkets заново узнает токены книг удерживаемых рынков.
// Неудача не фатальна: движок повторит запрос лениво при проверке
// выхода.
func (rm *RecoveryManager) prefetchMarkets(ctx context.Context, positions []*models.StraddlePosition) int {
	count := 0
	for _, pos := range positions {
		if pos == nil || pos.State != models.StateEntered {
			continue
		}
		meta, err := rm.engine.markets.GetMarket(ctx, pos.MarketID)
		if err != nil {
			rm.log.Warn().Err(err).Str("market_id", pos.MarketID).Msg("метаданные рынка не восстановлены")
			continue
		}
		rm.engine.RegisterHeldMarket(meta)
		count++
	}
	return count
}

// reconcileOrders сверяет незакрытые ордера из БД с биржей.
//
// Ордера регистрируются в индексе исполнителя и опрашиваются одним
// проходом: исполнившиеся дают FillEvent, терминальные обновляют
// статус в БД, живые остаются под наблюдением фазы fills.
func (rm *RecoveryManager) reconcileOrders(ctx context.Context, result *RecoveryResult) *FillWaitResult {
	active, err := rm.orders.GetActive()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("загрузка активных ордеров: %v", err))
		return nil
	}
	if len(active) == 0 {
		return nil
	}
	result.OrdersChecked = len(active)

	statusBefore := make(map[string]string, len(active))
	for _, o := range active {
		if o == nil || o.OrderHash == "" {
			continue
		}
		statusBefore[o.OrderHash] = o.Status
		rm.engine.executor.RegisterPending(o)
	}

	poll := rm.engine.executor.PollPending(ctx)
	for _, o := range poll.Orders {
		if o == nil || o.OrderHash == "" {
			continue
		}
		if before, ok := statusBefore[o.OrderHash]; ok && before != o.Status {
			result.OrdersReconciled++
			if err := rm.orders.UpdateStatus(o.OrderHash, o.Status); err != nil {
				rm.log.Warn().Err(err).Str("order_hash", o.OrderHash).Msg("статус ордера не обновлен в БД")
			}
		}
	}
	return poll
}

// applyMissedExits проводит через трекер исполнения, случившиеся
// пока бот лежал. Продажа дешевой стороны двигает позицию в EXITED
// точно так же, как в живой фазе fills.
//
// Исполнение может уже лежать в журнале: прошлый запуск записал его,
// но упал до обновления статуса ордера, и сверка принесла ордер
// второй раз. Такое исполнение применяется к трекеру без повторной
// записи, иначе сделка задвоится в статистике по рынкам.
func (rm *RecoveryManager) applyMissedExits(fills []*models.FillEvent, result *RecoveryResult) {
	for _, fill := range fills {
		if fill == nil {
			continue
		}

		var applied bool
		if rm.alreadyJournaled(fill) {
			applied = rm.engine.advanceOnFill(fill)
		} else {
			applied = rm.engine.applyFill(fill)
		}
		if applied {
			result.MissedExits++
			rm.log.Info().
				Str("market_id", fill.BaseMarketID()).
				Float64("price", fill.Price).
				Msg("пропущенный выход применен задним числом")
		}
	}
}

// alreadyJournaled сообщает, записано ли исполнение ордера в журнал.
// Недоступный журнал не блокирует применение исполнения.
func (rm *RecoveryManager) alreadyJournaled(fill *models.FillEvent) bool {
	if rm.fills == nil || fill.OrderHash == "" {
		return false
	}
	existing, err := rm.fills.GetByOrderHash(fill.OrderHash)
	if err != nil {
		rm.log.Warn().Err(err).Str("order_hash", fill.OrderHash).Msg("журнал исполнений недоступен, проверка дубля пропущена")
		return false
	}
	return len(existing) > 0
}

// assembleMissedEntries разбирает исполненные входные ордера без
// позиции: пара исполненных ног собирается в позицию, живые ордера
// без контекста отменяются.
func (rm *RecoveryManager) assembleMissedEntries(ctx context.Context, orders []*models.LiveOrder, result *RecoveryResult) {
	correlations := make(map[string]bool)

	for _, o := range orders {
		if o == nil || o.OrderHash == "" || o.Intent.Side != models.OrderSideBuy {
			continue
		}
		base := models.TrimLegSuffix(o.Intent.MarketID)
		if base == "" || rm.engine.tracker.Has(base) {
			continue
		}

		if !o.IsTerminal() {
			// Живая нога входа без позиции: без второй ноги она
			// бесполезна, а исполнившись даст неучтенную экспозицию
			if rm.cancelOrphanedEntries {
				if rm.engine.executor.CancelOrder(ctx, o.OrderHash) {
					if err := rm.orders.UpdateStatus(o.OrderHash, models.OrderStatusCancelled); err != nil {
						rm.log.Warn().Err(err).Str("order_hash", o.OrderHash).Msg("статус ордера не обновлен в БД")
					}
					result.OrdersCancelled++
				}
			}
			continue
		}

		if !o.IsFilled() {
			continue
		}
		corr := o.Intent.Metadata[models.MetaCorrelationID]
		if corr != "" {
			correlations[corr] = true
		}
	}

	for corr := range correlations {
		rm.assemblePair(corr, result)
	}
}

// assemblePair пытается собрать позицию из пары исполненных ног
// с общим correlation id
func (rm *RecoveryManager) assemblePair(correlationID string, result *RecoveryResult) {
	legs, err := rm.orders.GetByCorrelationID(correlationID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("ордера корреляции %s: %v", correlationID, err))
		return
	}

	var yesLeg, noLeg *models.LiveOrder
	for _, o := range legs {
		if o == nil || !o.IsFilled() || o.Intent.Side != models.OrderSideBuy {
			continue
		}
		switch models.LegSideOf(o.Intent.MarketID) {
		case models.SideYes:
			yesLeg = o
		case models.SideNo:
			noLeg = o
		}
	}

	if yesLeg == nil || noLeg == nil {
		// Исполнилась только одна нога: осталась на руках,
		// дальнейшая судьба за оператором
		result.LonelyLegs++
		leg := yesLeg
		if leg == nil {
			leg = noLeg
		}
		if leg != nil {
			marketID := models.TrimLegSuffix(leg.Intent.MarketID)
			rm.notify(models.NotificationTypeLegFail, models.SeverityError, &marketID,
				fmt.Sprintf("восстановление: у рынка %s исполнена только одна нога входа", marketID),
				map[string]interface{}{
					"correlation_id": correlationID,
					"leg":            models.LegSideOf(leg.Intent.MarketID),
					"price":          leg.Intent.Price,
					"size":           leg.Intent.Size,
				})
		}
		return
	}

	marketID := models.TrimLegSuffix(yesLeg.Intent.MarketID)
	pos, err := rm.engine.tracker.CreatePosition(marketID, yesLeg, noLeg)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("сборка позиции %s: %v", marketID, err))
		return
	}

	rm.engine.risk.RegisterPosition(pos)
	rm.engine.persistPosition(pos)
	result.MissedEntries++

	rm.log.Info().
		Str("market_id", marketID).
		Str("correlation_id", correlationID).
		Msg("позиция собрана из исполнений, пропущенных при рестарте")

	rm.notify(models.NotificationTypeEntry, models.SeverityInfo, &marketID,
		fmt.Sprintf("восстановление: вход в %s исполнился, пока бот был выключен", marketID),
		map[string]interface{}{
			"correlation_id": correlationID,
			"yes_price":      pos.YesEntryPrice,
			"no_price":       pos.NoEntryPrice,
		})
}

func (rm *RecoveryManager) notifySummary(result *RecoveryResult) {
	meta := map[string]interface{}{
		"positions_loaded":  result.PositionsLoaded,
		"exposure_restored": result.ExposureRestored,
		"orders_checked":    result.OrdersChecked,
		"orders_reconciled": result.OrdersReconciled,
		"orders_cancelled":  result.OrdersCancelled,
		"missed_exits":      result.MissedExits,
		"missed_entries":    result.MissedEntries,
		"lonely_legs":       result.LonelyLegs,
		"duration_ms":       result.Duration.Milliseconds(),
	}
	if len(result.Errors) > 0 {
		meta["errors"] = result.Errors
	}

	severity := models.SeverityInfo
	if len(result.Errors) > 0 || result.LonelyLegs > 0 {
		severity = models.SeverityWarn
	}

	rm.notify(models.NotificationTypeRecovery, severity, nil,
		fmt.Sprintf("восстановление: %d позиций, %d ордеров сверено, %d выходов и %d входов применено задним числом",
			result.PositionsLoaded, result.OrdersChecked, result.MissedExits, result.MissedEntries),
		meta)
}

func (rm *RecoveryManager) notify(notifType, severity string, marketID *string, message string, meta map[string]interface{}) {
	if rm.notifyChan == nil {
		return
	}
	n := &models.Notification{
		Timestamp: time.Now().UTC(),
		Type:      notifType,
		Severity:  severity,
		MarketID:  marketID,
		Message:   message,
		Meta:      meta,
	}
	if !enqueueNotification(rm.notifyChan, n) {
		rm.log.Warn().Str("type", notifType).Msg("буфер уведомлений переполнен")
	}
}
