package bot

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"straddle/internal/config"
	"straddle/internal/models"
	"straddle/internal/venue"
	"straddle/pkg/retry"
	"straddle/pkg/utils"
)

// ============================================================
// OrderExecutor - протокол отправки и сопровождения ордеров
// ============================================================
//
// Протокол одного ордера:
// 1. POST с retry: транспортные ошибки, 5xx и 429 повторяются
//    с экспоненциальным backoff и jitter; остальные 4xx - нет.
// 2. Исчерпанные попытки дают синтетический LiveOrder со статусом
//    failed и пустым хэшем. Отправка НИКОГДА не возвращает ошибку:
//    вызывающий код ветвится по статусу.
// 3. Принятый ордер попадает в pending-индекс по хэшу.
// 4. WaitForFills опрашивает статусы раз в секунду до терминальности
//    всех ордеров или таймаута.
// 5. Отмена best-effort: ошибки логируются и глотаются.

// OrderSink - способность биржи принимать и сопровождать ордера.
// Продакшн реализация - venue.ClobClient, тесты подставляют фейк.
type OrderSink interface {
	SubmitOrder(ctx context.Context, intent models.OrderIntent) (*models.LiveOrder, error)
	CancelOrder(ctx context.Context, orderHash string) error
	GetOrder(ctx context.Context, orderHash string) (*venue.OrderState, error)
}

// OrderExecutor отправляет ордера и сопровождает их до терминального статуса
type OrderExecutor struct {
	venue OrderSink
	log   zerolog.Logger

	submitCfg    retry.Config
	orderTimeout time.Duration // таймаут одного HTTP вызова
	pollInterval time.Duration // период опроса статусов

	// Pending-индекс: хэш -> ордер в нетерминальном статусе
	mu      sync.Mutex
	pending map[string]*models.LiveOrder

	// Счетчики для мониторинга
	submitted      int64
	submitFailures int64
	cancels        int64
}

// NewOrderExecutor создает исполнитель поверх клиента биржи
func NewOrderExecutor(sink OrderSink, cfg config.BotConfig, log zerolog.Logger) *OrderExecutor {
	submitCfg := retry.Config{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.RetryBackoff,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
		RetryIf:      submitRetryable,
	}

	pollInterval := cfg.FillPollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	return &OrderExecutor{
		venue:        sink,
		log:          log.With().Str("component", "executor").Logger(),
		submitCfg:    submitCfg,
		orderTimeout: cfg.OrderTimeout,
		pollInterval: pollInterval,
		pending:      make(map[string]*models.LiveOrder),
	}
}

// submitRetryable отделяет временные ошибки отправки от постоянных.
// Транспортные ошибки и 5xx/429 повторяются; прочие 4xx означают,
// что биржа отвергла сам ордер и повтор даст тот же ответ.
func submitRetryable(err error) bool {
	var ve *venue.VenueError
	if errors.As(err, &ve) {
		if code, convErr := strconv.Atoi(ve.Code); convErr == nil {
			if code == http.StatusTooManyRequests {
				return true
			}
			if code >= 400 && code < 500 {
				return false
			}
		}
	}
	return retry.RetryIfNotContext(err)
}

// Submit отправляет ордер с повторными попытками.
//
// Всегда возвращает ордер: при исчерпании попыток или отклонении
// биржей это синтетический failed без хэша. Принятые нетерминальные
// ордера регистрируются в pending-индексе.
func (e *OrderExecutor) Submit(ctx context.Context, intent models.OrderIntent) *models.LiveOrder {
	start := time.Now()

	order, err := retry.DoWithResult(ctx, func() (*models.LiveOrder, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, e.orderTimeout)
		defer cancel()
		return e.venue.SubmitOrder(attemptCtx, intent)
	}, e.submitCfg)

	latencyMs := float64(time.Since(start).Milliseconds())

	if err != nil {
		atomic.AddInt64(&e.submitFailures, 1)
		RecordOrderSubmit(intent.Side, false, latencyMs)
		e.log.Warn().
			Err(err).
			Str("market_id", intent.MarketID).
			Str("side", intent.Side).
			Float64("price", intent.Price).
			Float64("size", intent.Size).
			Msg("отправка ордера исчерпала попытки")
		failed := models.FailedOrder(intent)
		return &failed
	}

	atomic.AddInt64(&e.submitted, 1)
	RecordOrderSubmit(intent.Side, true, latencyMs)

	if !order.IsTerminal() && order.OrderHash != "" {
		e.trackPending(order)
	}

	e.log.Info().
		Str("order_hash", order.OrderHash).
		Str("market_id", intent.MarketID).
		Str("side", intent.Side).
		Float64("price", intent.Price).
		Float64("size", intent.Size).
		Str("status", order.Status).
		Msg("ордер отправлен на биржу")

	return order
}

// SubmitPair отправляет обе входные ноги стрэддла параллельно.
//
// Обе отправки завершаются всегда: отказ одной из ног приходит как
// failed ордер, решение об откате успешной ноги принимает
// вызывающий цикл.
func (e *OrderExecutor) SubmitPair(ctx context.Context, yesIntent, noIntent models.OrderIntent) (yesOrder, noOrder *models.LiveOrder) {
	yesChan := make(chan *models.LiveOrder, 1)
	noChan := make(chan *models.LiveOrder, 1)

	go func() {
		yesChan <- e.Submit(ctx, yesIntent)
	}()
	go func() {
		noChan <- e.Submit(ctx, noIntent)
	}()

	// Собираем оба результата: каналы буферизованы, горутины не зависнут
	for yesOrder == nil || noOrder == nil {
		select {
		case o := <-yesChan:
			yesOrder = o
		case o := <-noChan:
			noOrder = o
		}
	}

	return yesOrder, noOrder
}

// ============================================================
// Ожидание исполнений
// ============================================================

// FillWaitResult - итог ожидания исполнений
type FillWaitResult struct {
	// AllTerminal true когда каждый ордер достиг терминального статуса
	// до таймаута. false означает таймаут с частичным покрытием.
	AllTerminal bool

	// Fills содержит исполнения ордеров, достигших статуса filled
	Fills []*models.FillEvent

	// Orders - те же ордера с обновленными статусами
	Orders []*models.LiveOrder
}

// WaitForFills опрашивает статусы ордеров до терминальности или таймаута.
//
// Частичное покрытие (исполнилась одна нога из двух) возвращается
// как есть: решение об отмене неисполненной ноги принимает цикл.
func (e *OrderExecutor) WaitForFills(ctx context.Context, orders []*models.LiveOrder, timeout time.Duration) *FillWaitResult {
	start := time.Now()
	result := &FillWaitResult{Orders: orders}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// done отмечает ордера, по которым решение уже принято
	done := make(map[string]bool, len(orders))

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// Первый опрос сразу: за время отправки статус мог стать терминальным
	for {
		if e.pollOrders(waitCtx, orders, done, result) {
			result.AllTerminal = true
			break
		}
		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			RecordFillWait(time.Since(start).Seconds(), false)
			return result
		}
	}

	RecordFillWait(time.Since(start).Seconds(), true)
	return result
}

// PollPending делает один проход опроса по всем отслеживаемым ордерам.
//
// Выходные SELL не ждутся на месте после отправки: их судьбу выясняет
// фаза обработки исполнений, вызывая этот метод каждый тик.
func (e *OrderExecutor) PollPending(ctx context.Context) *FillWaitResult {
	orders := e.PendingOrders()
	result := &FillWaitResult{Orders: orders}
	if len(orders) == 0 {
		result.AllTerminal = true
		return result
	}

	done := make(map[string]bool, len(orders))
	result.AllTerminal = e.pollOrders(ctx, orders, done, result)
	return result
}

// pollOrders опрашивает статусы одной пачки ордеров. Терминальные
// убираются из индекса отслеживания, исполненные дают FillEvent.
// Возвращает true когда терминальны все.
func (e *OrderExecutor) pollOrders(ctx context.Context, orders []*models.LiveOrder, done map[string]bool, result *FillWaitResult) bool {
	allTerminal := true
	for _, order := range orders {
		if order == nil {
			continue
		}
		key := order.OrderHash
		if key == "" {
			// failed ордер без хэша: терминален с рождения
			continue
		}
		if done[key] || order.IsTerminal() {
			done[key] = true
			continue
		}

		state, err := e.venue.GetOrder(ctx, key)
		if err != nil {
			if errors.Is(err, venue.ErrOrderNotKnown) {
				// Биржа забыла ордер: считаем отмененным
				order.Status = models.OrderStatusCancelled
				e.untrackPending(key)
				done[key] = true
				e.log.Warn().Str("order_hash", key).Msg("биржа не знает ордер, считаем отмененным")
				continue
			}
			e.log.Warn().Err(err).Str("order_hash", key).Msg("опрос статуса ордера не удался")
			allTerminal = false
			continue
		}

		order.Status = state.MappedStatus()
		if !order.IsTerminal() {
			allTerminal = false
			continue
		}

		done[key] = true
		e.untrackPending(key)

		if order.IsFilled() {
			result.Fills = append(result.Fills, fillFromState(order, state))
			RecordEvent("fill")
		}
	}
	return allTerminal
}

// fillFromState синтезирует событие исполнения из состояния ордера.
// Цена и размер биржи приоритетны, параметры intent - запасной вариант.
func fillFromState(order *models.LiveOrder, state *venue.OrderState) *models.FillEvent {
	price := state.Price
	if price <= 0 {
		price = order.Intent.Price
	}
	size := state.SizeMatched
	if size <= 0 {
		size = order.Intent.Size
	}

	return &models.FillEvent{
		OrderHash: order.OrderHash,
		MarketID:  order.Intent.MarketID,
		Side:      order.Intent.Side,
		Price:     price,
		Size:      size,
		Timestamp: time.Now().UTC(),
	}
}

// ============================================================
// Отмена ордеров
// ============================================================

// CancelOrder отменяет ордер best-effort.
//
// Ошибки логируются и глотаются: биржа могла уже исполнить или
// экспирировать ордер, гарантии отмены нет. Возвращает true если
// биржа приняла отмену.
func (e *OrderExecutor) CancelOrder(ctx context.Context, orderHash string) bool {
	if orderHash == "" {
		return false
	}

	err := e.venue.CancelOrder(ctx, orderHash)
	e.untrackPending(orderHash)

	if err != nil {
		e.log.Warn().Err(err).Str("order_hash", orderHash).Msg("отмена ордера не прошла")
		return false
	}

	atomic.AddInt64(&e.cancels, 1)
	RecordOrderCancelled()
	e.log.Info().Str("order_hash", orderHash).Msg("ордер отменен")
	return true
}

// CancelUnfilledOrders отменяет нетерминальные ордера старше порога.
// Механизм уборки зависших ног после таймаута WaitForFills.
// olderThan = 0 означает "отменить независимо от возраста".
// Возвращает количество принятых биржей отмен.
func (e *OrderExecutor) CancelUnfilledOrders(ctx context.Context, orders []*models.LiveOrder, olderThan time.Duration) int {
	now := time.Now()
	cancelled := 0

	for _, order := range orders {
		if order == nil || order.OrderHash == "" || order.IsTerminal() {
			continue
		}
		if olderThan > 0 && !utils.IsExpired(order.CreatedAt, olderThan, now) {
			continue
		}
		if e.CancelOrder(ctx, order.OrderHash) {
			order.Status = models.OrderStatusCancelled
			cancelled++
		}
	}

	return cancelled
}

// ============================================================
// Pending-индекс
// ============================================================

// RegisterPending добавляет ордер в индекс незавершенных.
// Используется восстановлением после рестарта.
func (e *OrderExecutor) RegisterPending(order *models.LiveOrder) {
	if order == nil || order.OrderHash == "" || order.IsTerminal() {
		return
	}
	e.trackPending(order)
}

// PendingOrders возвращает копию списка незавершенных ордеров
func (e *OrderExecutor) PendingOrders() []*models.LiveOrder {
	e.mu.Lock()
	defer e.mu.Unlock()

	orders := make([]*models.LiveOrder, 0, len(e.pending))
	for _, order := range e.pending {
		cp := *order
		orders = append(orders, &cp)
	}
	return orders
}

// PendingCount возвращает размер pending-индекса
func (e *OrderExecutor) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *OrderExecutor) trackPending(order *models.LiveOrder) {
	e.mu.Lock()
	e.pending[order.OrderHash] = order
	e.mu.Unlock()
}

func (e *OrderExecutor) untrackPending(orderHash string) {
	e.mu.Lock()
	delete(e.pending, orderHash)
	e.mu.Unlock()
}

// ============================================================
// Метрики для мониторинга
// ============================================================

// ExecutorStats счетчики исполнителя с момента старта
type ExecutorStats struct {
	Submitted      int64 `json:"submitted"`
	SubmitFailures int64 `json:"submit_failures"`
	Cancels        int64 `json:"cancels"`
	Pending        int   `json:"pending"`
}

// GetStats возвращает счетчики исполнителя
func (e *OrderExecutor) GetStats() ExecutorStats {
	return ExecutorStats{
		Submitted:      atomic.LoadInt64(&e.submitted),
		SubmitFailures: atomic.LoadInt64(&e.submitFailures),
		Cancels:        atomic.LoadInt64(&e.cancels),
		Pending:        e.PendingCount(),
	}
}
