package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"straddle/internal/config"
	"straddle/internal/models"
	"straddle/internal/venue"
)

// ============================================================
// Торговый движок
// ============================================================
//
// Engine крутит основной цикл бота: каждый тик проходит три фазы
// строго последовательно в одной горутине.
//
//  1. scan  - опрос каталога рынков и попытки входа в стрэддлы
//  2. exits - проверка порога выхода по открытым позициям
//  3. fills - опрос статусов выставленных ордеров и обработка исполнений
//
// Паника или ошибка внутри фазы гасится на границе фазы: бот
// переживает сбой любого тика и продолжает со следующего.
// Блокирующие вызовы биржи (скан каталога, ожидание исполнения
// входной пары) выполняются внутри тика: одновременно работает не
// больше одного экземпляра каждой фазы, гонок за состояние нет.

const (
	// shutdownTimeout ограничивает время на отмену ордеров и сброс
	// позиций при остановке: родительский контекст уже отменен
	shutdownTimeout = 10 * time.Second

	// candidateStaleAfter - кандидат выбрасывается спустя это время
	// после старта матча: цены уже поляризованы, стрэддл не собрать
	candidateStaleAfter = 2 * time.Hour
)

// ============================================================
// Интерфейсы внешних зависимостей
// ============================================================

// MarketSource - способность каталога биржи поставлять рынки.
// Боевая реализация - venue.GammaClient.
type MarketSource interface {
	// ScanMarkets возвращает новые подходящие рынки (уже виденные
	// каталог не повторяет)
	ScanMarkets(ctx context.Context) ([]models.MarketMetadata, error)

	// GetMarket возвращает метаданные одного рынка по id.
	// Нужен после рестарта: у позиций из БД нет токенов книг.
	GetMarket(ctx context.Context, marketID string) (*models.MarketMetadata, error)
}

// BookFetcher - способность получить срез книги по REST.
// Запасной путь при устаревании кэша WS потока. Боевая реализация -
// venue.ClobClient.
type BookFetcher interface {
	GetBook(ctx context.Context, tokenID string) (*models.OrderBookSnapshot, error)
}

// FeedControl - управление подписками потока книг.
// Боевая реализация - venue.MarketFeed.
type FeedControl interface {
	Subscribe(tokenIDs ...string) error
	Unsubscribe(tokenIDs ...string) error
	IsConnected() bool
}

// PositionStore - долговременное хранение позиций.
// Боевая реализация - repository.PositionRepository.
type PositionStore interface {
	Save(position *models.StraddlePosition) error
	LoadActive() ([]*models.StraddlePosition, error)
}

// OrderStore - долговременное хранение ордеров.
// Боевая реализация - repository.OrderRepository.
type OrderStore interface {
	Upsert(order *models.LiveOrder) error
	UpdateStatus(orderHash, status string) error
	GetActive() ([]*models.LiveOrder, error)
	GetByCorrelationID(correlationID string) ([]*models.LiveOrder, error)
}

// FillStore - журнал исполнений.
// Боевая реализация - repository.FillRepository.
// Чтение по хэшу нужно восстановлению: сверка после рестарта может
// принести исполнение, которое прошлый запуск уже записал.
type FillStore interface {
	Create(fill *models.FillEvent) error
	GetByOrderHash(orderHash string) ([]*models.FillEvent, error)
}

// BlacklistChecker - проверка рынка по черному списку оператора.
// Боевая реализация - service.BlacklistService.
type BlacklistChecker interface {
	IsBlacklisted(marketID string) bool
}

// WebSocketHub - интерфейс для отправки данных клиентам UI.
//
// Реализуется пакетом internal/websocket. Уведомления и статистику
// рассылает сервисный слой, движок шлет только то, чем владеет:
//   - positionUpdate: состояние позиций
//   - riskUpdate: банкролл, экспозиция, просадка
type WebSocketHub interface {
	BroadcastPositionUpdate(pos *models.StraddlePosition)
	BroadcastRiskUpdate(status RiskStatus)
}

// ============================================================
// Engine
// ============================================================

// EngineDeps - зависимости движка, собираются в main
type EngineDeps struct {
	Markets   MarketSource
	Blacklist BlacklistChecker // nil = черный список отключен
	Books     *venue.BookCache
	Clob      BookFetcher
	Feed      FeedControl // nil = только REST книги

	Strategy *StraddleStrategy
	Tracker  *PositionTracker
	Risk     *RiskManager
	Executor *OrderExecutor

	Positions PositionStore
	Orders    OrderStore
	Fills     FillStore

	Hub        WebSocketHub                // nil = без UI
	NotifyChan chan<- *models.Notification // nil = без уведомлений
}

// Engine - торговый цикл бота
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	markets   MarketSource
	blacklist BlacklistChecker
	books     *venue.BookCache
	clob      BookFetcher
	feed      FeedControl

	strategy *StraddleStrategy
	tracker  *PositionTracker
	risk     *RiskManager
	executor *OrderExecutor

	positions PositionStore
	orders    OrderStore
	fills     FillStore

	wsHub      WebSocketHub
	notifyChan chan<- *models.Notification

	// mu защищает candidates, held, dirty и lastScan.
	// Торговый цикл однопоточный, но ручное разрешение позиций
	// приходит из HTTP обработчиков.
	mu         sync.Mutex
	candidates map[string]*models.MarketMetadata // найденные рынки, вход еще не случился
	held       map[string]*models.MarketMetadata // рынки с открытой позицией
	dirty      map[string]bool                   // позиции, не записавшиеся в БД
	lastScan   time.Time

	running  int32
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}

	ticksDone   int64
	entriesDone int64
	exitsDone   int64
}

// NewEngine создает движок. Зависимости без пометки nil обязательны.
func NewEngine(cfg *config.Config, deps EngineDeps, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		log:        log.With().Str("component", "engine").Logger(),
		markets:    deps.Markets,
		blacklist:  deps.Blacklist,
		books:      deps.Books,
		clob:       deps.Clob,
		feed:       deps.Feed,
		strategy:   deps.Strategy,
		tracker:    deps.Tracker,
		risk:       deps.Risk,
		executor:   deps.Executor,
		positions:  deps.Positions,
		orders:     deps.Orders,
		fills:      deps.Fills,
		wsHub:      deps.Hub,
		notifyChan: deps.NotifyChan,
		candidates: make(map[string]*models.MarketMetadata),
		held:       make(map[string]*models.MarketMetadata),
		dirty:      make(map[string]bool),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start запускает торговый цикл в отдельной горутине
func (e *Engine) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		return fmt.Errorf("engine already running")
	}
	go e.run(ctx)
	return nil
}

// Stop сигнализирует остановку. Завершение дождаться через Done().
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Done закрывается когда цикл полностью остановлен: ордера отменены,
// позиции сброшены в БД
func (e *Engine) Done() <-chan struct{} {
	return e.doneCh
}

// Running возвращает true пока цикл работает
func (e *Engine) Running() bool {
	return atomic.LoadInt32(&e.running) == 1
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)
	defer atomic.StoreInt32(&e.running, 0)

	periodicCtx, cancelPeriodic := context.WithCancel(ctx)
	defer cancelPeriodic()
	go e.periodicTasks(periodicCtx)

	e.log.Info().
		Dur("tick_interval", e.cfg.Bot.TickInterval).
		Dur("scan_interval", e.cfg.Strategy.ScanInterval).
		Msg("торговый цикл запущен")

	ticker := time.NewTicker(e.cfg.Bot.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-e.stopCh:
			e.shutdown()
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick - один проход цикла: три фазы строго по порядку
func (e *Engine) tick(ctx context.Context) {
	atomic.AddInt64(&e.ticksDone, 1)

	e.runPhase(ctx, "scan", e.phaseScanAndEnter)
	e.runPhase(ctx, "exits", e.phaseCheckExits)
	e.runPhase(ctx, "fills", e.phaseProcessFills)
}

// runPhase выполняет фазу с подавлением паники на границе.
// Упавшая фаза портит только текущий тик.
func (e *Engine) runPhase(ctx context.Context, phase string, fn func(context.Context) error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			RecordPhasePanic(phase)
			e.log.Error().
				Interface("panic", r).
				Str("phase", phase).
				Bytes("stack", debug.Stack()).
				Msg("паника в фазе тика подавлена")
		}
		RecordTickPhase(phase, float64(time.Since(start).Milliseconds()))
	}()

	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.log.Error().Err(err).Str("phase", phase).Msg("фаза тика завершилась ошибкой")
	}
}

// ============================================================
// Фаза 1: скан каталога и входы
// ============================================================

func (e *Engine) phaseScanAndEnter(ctx context.Context) error {
	// Просадка выше лимита: новые входы замораживаем, выходы и
	// обработка исполнений продолжают работать
	if e.risk.ShouldPauseTrading(e.cfg.Risk.MaxDrawdownPct) {
		e.log.Debug().Float64("drawdown", e.risk.Drawdown()).Msg("входы приостановлены из-за просадки")
		return nil
	}

	e.maybeScanCatalog(ctx)
	return e.tryEnterCandidates(ctx)
}

// maybeScanCatalog опрашивает каталог не чаще ScanInterval.
// Тик короче интервала скана: между опросами фаза только
// переоценивает уже найденных кандидатов.
func (e *Engine) maybeScanCatalog(ctx context.Context) {
	e.mu.Lock()
	due := time.Since(e.lastScan) >= e.cfg.Strategy.ScanInterval
	if due {
		e.lastScan = time.Now()
	}
	e.mu.Unlock()
	if !due {
		return
	}

	markets, err := e.markets.ScanMarkets(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("скан каталога рынков не удался")
		return
	}
	RecordMarketsScanned(len(markets))
	if len(markets) == 0 {
		return
	}

	freshTokens := make([]string, 0, len(markets)*2)
	accepted := 0

	e.mu.Lock()
	for i := range markets {
		m := markets[i]
		if e.tracker.Has(m.MarketID) {
			continue
		}
		if _, ok := e.candidates[m.MarketID]; ok {
			continue
		}
		if e.blacklist != nil && e.blacklist.IsBlacklisted(m.MarketID) {
			continue
		}
		mc := m
		e.candidates[m.MarketID] = &mc
		freshTokens = append(freshTokens, m.YesTokenID, m.NoTokenID)
		accepted++
	}
	total := len(e.candidates)
	e.mu.Unlock()

	if len(freshTokens) > 0 && e.feed != nil {
		if err := e.feed.Subscribe(freshTokens...); err != nil {
			e.log.Warn().Err(err).Msg("подписка на книги кандидатов не удалась")
		}
	}

	e.log.Debug().
		Int("new", accepted).
		Int("candidates", total).
		Msg("каталог обработан")
}

func (e *Engine) tryEnterCandidates(ctx context.Context) error {
	e.mu.Lock()
	cands := make([]*models.MarketMetadata, 0, len(e.candidates))
	for _, m := range e.candidates {
		cands = append(cands, m)
	}
	e.mu.Unlock()

	for _, market := range cands {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e.evaluateCandidate(ctx, market)
	}
	return nil
}

func (e *Engine) evaluateCandidate(ctx context.Context, market *models.MarketMetadata) {
	if !market.StartTime.IsZero() && time.Since(market.StartTime) > candidateStaleAfter {
		e.dropCandidate(market, "матч давно начался")
		return
	}
	if e.blacklist != nil && e.blacklist.IsBlacklisted(market.MarketID) {
		e.dropCandidate(market, "рынок в черном списке")
		return
	}

	book := e.bookFor(ctx, market.YesTokenID)
	if book == nil {
		// Среза книги пока нет, вернемся в следующий тик
		return
	}

	decision := e.strategy.ShouldEnter(market, book)
	if !decision.CanEnter {
		// Цены могут вернуться к 0.5, кандидата не выбрасываем
		return
	}

	size := e.risk.CalculatePositionSize()
	ok, reason := e.risk.CanEnterNewPosition(size)
	if !ok {
		e.log.Debug().
			Str("market_id", market.MarketID).
			Str("reason", reason).
			Msg("вход отклонен риск-менеджером")
		return
	}

	e.enterStraddle(ctx, market, book, size)
}

// enterStraddle отправляет входную пару и ждет исполнения обеих ног.
// Размер позиции делится поровну между ногами: price*size каждой ноги
// равен половине общей долларовой ставки.
func (e *Engine) enterStraddle(ctx context.Context, market *models.MarketMetadata, book *models.OrderBookSnapshot, size float64) {
	intents, err := e.strategy.EntryOrders(market, book, size/2)
	if err != nil {
		e.log.Warn().Err(err).Str("market_id", market.MarketID).Msg("входная пара не сгенерирована")
		return
	}

	e.log.Info().
		Str("market_id", market.MarketID).
		Str("title", market.Title).
		Float64("stake", size).
		Float64("yes_price", intents[0].Price).
		Float64("no_price", intents[1].Price).
		Msg("входим в стрэддл")

	yesOrder, noOrder := e.executor.SubmitPair(ctx, intents[0], intents[1])
	e.persistOrder(yesOrder)
	e.persistOrder(noOrder)

	// Биржа не приняла хотя бы одну ногу: вторую отменяем сразу,
	// однобокий стрэддл нам не нужен
	if yesOrder.Status == models.OrderStatusFailed || noOrder.Status == models.OrderStatusFailed {
		for _, o := range []*models.LiveOrder{yesOrder, noOrder} {
			if o.OrderHash != "" && !o.IsTerminal() {
				if e.executor.CancelOrder(ctx, o.OrderHash) {
					o.Status = models.OrderStatusCancelled
					e.persistOrder(o)
				}
			}
		}
		e.notifyEntryFailed(market, yesOrder, noOrder)
		return
	}

	pair := []*models.LiveOrder{yesOrder, noOrder}
	result := e.executor.WaitForFills(ctx, pair, e.cfg.Bot.FillWaitTimeout)
	for _, o := range pair {
		e.persistOrder(o)
	}
	for _, fill := range result.Fills {
		e.persistFill(fill)
	}

	if yesOrder.IsFilled() && noOrder.IsFilled() {
		e.completeEntry(market, yesOrder, noOrder)
		return
	}

	// Таймаут или частичное исполнение: все неисполненное отменяем
	cancelled := e.executor.CancelUnfilledOrders(ctx, pair, 0)
	for _, o := range pair {
		e.persistOrder(o)
	}

	if yesOrder.IsFilled() || noOrder.IsFilled() {
		// Исполнилась ровно одна нога: она остается на руках,
		// дальнейшая судьба за оператором. Повторный вход в этот
		// рынок запрещаем: экспозиция одинокой ноги не учтена.
		RecordStraddle("leg_failed", 0)
		e.notifyLegFail(market, yesOrder, noOrder)
		e.dropCandidate(market, "одинокая нога входа")
		return
	}

	if cancelled > 0 {
		e.notifyCancelled(market, cancelled)
	}
}

func (e *Engine) completeEntry(market *models.MarketMetadata, yesOrder, noOrder *models.LiveOrder) {
	pos, err := e.tracker.CreatePosition(market.MarketID, yesOrder, noOrder)
	if err != nil {
		// Ноги исполнены, а позицию создать нельзя: гонка с
		// восстановлением или дубликат. Требует разбора руками.
		e.log.Error().Err(err).Str("market_id", market.MarketID).Msg("позиция не создана после исполнения обеих ног")
		e.notifyError(market.MarketID, fmt.Sprintf("обе ноги исполнены, позиция не создана: %v", err))
		return
	}

	e.risk.RegisterPosition(pos)
	e.persistPosition(pos)

	e.mu.Lock()
	delete(e.candidates, market.MarketID)
	mc := *market
	e.held[market.MarketID] = &mc
	e.mu.Unlock()

	atomic.AddInt64(&e.entriesDone, 1)
	RecordStraddle("entered", 0)
	UpdateRiskGauges(e.risk.Status())

	e.log.Info().
		Str("market_id", pos.MarketID).
		Str("cheap_side", pos.CheapSide).
		Str("favorite_side", pos.FavoriteSide).
		Float64("exposure", pos.Exposure()).
		Msg("стрэддл открыт")

	e.notifyEntry(pos, market)
	if e.wsHub != nil {
		e.wsHub.BroadcastPositionUpdate(pos)
	}
}

func (e *Engine) dropCandidate(market *models.MarketMetadata, reason string) {
	e.mu.Lock()
	delete(e.candidates, market.MarketID)
	e.mu.Unlock()

	if e.feed != nil {
		_ = e.feed.Unsubscribe(market.YesTokenID, market.NoTokenID)
	}
	if e.books != nil {
		e.books.Remove(market.YesTokenID)
		e.books.Remove(market.NoTokenID)
	}

	e.log.Debug().Str("market_id", market.MarketID).Str("reason", reason).Msg("кандидат выброшен")
}

// ============================================================
// Фаза 2: проверка порога выхода
// ============================================================

func (e *Engine) phaseCheckExits(ctx context.Context) error {
	actives := e.tracker.ActivePositions()

	entered, exited := 0, 0
	for _, pos := range actives {
		switch pos.State {
		case models.StateEntered:
			entered++
		case models.StateExited:
			exited++
		}
	}
	UpdateActivePositions(entered, exited)

	for _, pos := range actives {
		if pos.State != models.StateEntered {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e.checkExitFor(ctx, pos)
	}
	return nil
}

func (e *Engine) checkExitFor(ctx context.Context, pos *models.StraddlePosition) {
	meta := e.heldMeta(ctx, pos.MarketID)
	if meta == nil {
		return
	}
	book := e.bookFor(ctx, meta.YesTokenID)
	if book == nil || !book.HasAsk() {
		return
	}

	yesPrice := book.Ask()
	noPrice := 1 - yesPrice

	// Фаворит мог смениться с момента входа: сначала приводим
	// стороны позиции к текущим ценам, потом проверяем порог
	fresh, changed := e.tracker.RecomputeSides(pos.MarketID, yesPrice, noPrice)
	if fresh == nil {
		// Позицию разрешили вручную между фазами
		return
	}
	if changed {
		e.persistPosition(fresh)
		e.log.Info().
			Str("market_id", fresh.MarketID).
			Str("cheap_side", fresh.CheapSide).
			Msg("стороны позиции пересчитаны")
	}

	// Переоценка для UI и риск-монитора
	if unreal, ok := e.tracker.MarkToMarket(pos.MarketID, yesPrice, noPrice); ok {
		e.risk.SetUnrealized(pos.MarketID, unreal)
	}

	for _, intent := range e.strategy.CheckExits(fresh, book) {
		order := e.executor.Submit(ctx, intent)
		e.persistOrder(order)
		if order.Status == models.OrderStatusFailed {
			e.notifyError(fresh.MarketID, "выходной SELL не принят биржей")
			continue
		}
		e.log.Info().
			Str("market_id", fresh.MarketID).
			Str("order_hash", order.OrderHash).
			Str("side", fresh.CheapSide).
			Float64("price", intent.Price).
			Float64("size", intent.Size).
			Msg("выставлен SELL дешевой стороны")
	}
}

// heldMeta возвращает метаданные удерживаемого рынка.
// После рестарта их нет в памяти, узнаем у каталога заново.
func (e *Engine) heldMeta(ctx context.Context, marketID string) *models.MarketMetadata {
	e.mu.Lock()
	meta := e.held[marketID]
	e.mu.Unlock()
	if meta != nil {
		return meta
	}

	m, err := e.markets.GetMarket(ctx, marketID)
	if err != nil {
		e.log.Warn().Err(err).Str("market_id", marketID).Msg("метаданные рынка недоступны, проверка выхода отложена")
		return nil
	}

	e.mu.Lock()
	e.held[marketID] = m
	e.mu.Unlock()

	if e.feed != nil {
		if err := e.feed.Subscribe(m.YesTokenID, m.NoTokenID); err != nil {
			e.log.Warn().Err(err).Str("market_id", marketID).Msg("подписка на книги рынка не удалась")
		}
	}
	return m
}

// ============================================================
// Фаза 3: обработка исполнений
// ============================================================

func (e *Engine) phaseProcessFills(ctx context.Context) error {
	e.retryDirtySaves()

	result := e.executor.PollPending(ctx)
	for _, order := range result.Orders {
		if order != nil && order.OrderHash != "" {
			e.persistOrder(order)
		}
	}
	for _, fill := range result.Fills {
		e.applyFill(fill)
	}
	return nil
}

// applyFill записывает исполнение и двигает позицию, если это
// продажа дешевой стороны. Возвращает true при переходе в EXITED.
func (e *Engine) applyFill(fill *models.FillEvent) bool {
	e.persistFill(fill)
	return e.advanceOnFill(fill)
}

// advanceOnFill двигает позицию по исполнению без записи в журнал.
// Отдельный вход для восстановления: уже записанные исполнения
// применяются к трекеру повторно, но журнал не трогают.
func (e *Engine) advanceOnFill(fill *models.FillEvent) bool {
	pos, transitioned := e.tracker.UpdateFromFill(fill)
	if !transitioned {
		if pos == nil {
			// Исполнение вне позиций: одинокая нога входа или
			// ордер из прошлой жизни процесса
			e.log.Debug().Str("order_hash", fill.OrderHash).Str("market_id", fill.MarketID).Msg("исполнение без позиции")
		}
		return false
	}

	// Дешевая сторона продана: ENTERED -> EXITED
	e.risk.ApplyRealized(pos.RealizedPnl)
	e.risk.SetUnrealized(pos.MarketID, 0)
	e.persistPosition(pos)

	atomic.AddInt64(&e.exitsDone, 1)
	RecordStraddle("exited", pos.RealizedPnl)
	UpdateRiskGauges(e.risk.Status())

	e.log.Info().
		Str("market_id", pos.MarketID).
		Str("side", fill.LegSide()).
		Float64("exit_price", fill.Price).
		Float64("realized_pnl", pos.RealizedPnl).
		Msg("дешевая сторона продана")

	e.notifyExit(pos, fill)
	if e.wsHub != nil {
		e.wsHub.BroadcastPositionUpdate(pos)
	}
	return true
}

// retryDirtySaves повторяет неудавшиеся записи позиций.
// Сбой БД фатален только для того тика, в котором случился.
func (e *Engine) retryDirtySaves() {
	e.mu.Lock()
	if len(e.dirty) == 0 {
		e.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(e.dirty))
	for id := range e.dirty {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		pos, ok := e.tracker.Get(id)
		if !ok {
			e.mu.Lock()
			delete(e.dirty, id)
			e.mu.Unlock()
			continue
		}
		e.persistPosition(pos)
	}
}

// ============================================================
// Разрешение рынка
// ============================================================

// ResolvePosition фиксирует финальный исход рынка.
//
// Вызывается сервисным слоем по команде оператора: бот сам исходы
// не опрашивает. Выплата фаворита зачисляется в банкролл, позиция
// переходит в RESOLVED и после записи в БД покидает память.
func (e *Engine) ResolvePosition(marketID, outcome string) (*models.StraddlePosition, error) {
	pos, payout, err := e.tracker.ResolvePosition(marketID, outcome)
	if err != nil {
		return nil, err
	}

	if payout > 0 {
		e.risk.ApplyRealized(payout)
	}
	e.risk.UnregisterPosition(marketID)
	e.persistPosition(pos)

	result := "resolved_loss"
	if payout > 0 {
		result = "resolved_win"
	}
	RecordStraddle(result, payout)
	UpdateRiskGauges(e.risk.Status())

	e.log.Info().
		Str("market_id", marketID).
		Str("outcome", outcome).
		Str("favorite_side", pos.FavoriteSide).
		Float64("payout", payout).
		Msg("рынок разрешен")

	e.notifyResolve(pos, outcome, payout)
	if e.wsHub != nil {
		e.wsHub.BroadcastPositionUpdate(pos)
	}
	return pos, nil
}

// ============================================================
// Персистентность
// ============================================================

// persistPosition пишет позицию в БД. Неудача помечает позицию
// грязной: фаза fills повторит запись в следующем тике.
func (e *Engine) persistPosition(pos *models.StraddlePosition) {
	if e.positions == nil {
		return
	}
	if err := e.positions.Save(pos); err != nil {
		e.log.Error().Err(err).Str("market_id", pos.MarketID).Msg("позиция не записана, повторим в следующий тик")
		e.mu.Lock()
		e.dirty[pos.MarketID] = true
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	delete(e.dirty, pos.MarketID)
	e.mu.Unlock()

	// Разрешенная позиция покидает память только после успешной записи
	if pos.State == models.StateResolved {
		e.releaseMarket(pos.MarketID)
	}
}

// releaseMarket убирает рынок из памяти и отписывается от его книг
func (e *Engine) releaseMarket(marketID string) {
	e.tracker.Evict(marketID)

	e.mu.Lock()
	meta := e.held[marketID]
	delete(e.held, marketID)
	e.mu.Unlock()

	if meta == nil {
		return
	}
	if e.feed != nil {
		_ = e.feed.Unsubscribe(meta.YesTokenID, meta.NoTokenID)
	}
	if e.books != nil {
		e.books.Remove(meta.YesTokenID)
		e.books.Remove(meta.NoTokenID)
	}
}

func (e *Engine) persistOrder(order *models.LiveOrder) {
	if e.orders == nil || order == nil || order.OrderHash == "" {
		// failed ордер не существует на бирже, хранить нечего
		return
	}
	if err := e.orders.Upsert(order); err != nil {
		e.log.Warn().Err(err).Str("order_hash", order.OrderHash).Msg("ордер не записан в БД")
	}
}

func (e *Engine) persistFill(fill *models.FillEvent) {
	if e.fills == nil || fill == nil {
		return
	}
	if err := e.fills.Create(fill); err != nil {
		e.log.Warn().Err(err).Str("order_hash", fill.OrderHash).Msg("исполнение не записано в БД")
	}
}

// ============================================================
// Периодические задачи (не влияют на торговлю)
// ============================================================

func (e *Engine) periodicTasks(ctx context.Context) {
	statsTicker := time.NewTicker(e.cfg.Bot.StatsUpdateFreq)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-statsTicker.C:
			e.broadcastRuntimeState()
		}
	}
}

// broadcastRuntimeState обновляет метрики и шлет снимок состояния в UI
func (e *Engine) broadcastRuntimeState() {
	connected := e.feed != nil && e.feed.IsConnected()
	cached := 0
	if e.books != nil {
		cached = e.books.Len()
	}
	UpdateFeedStatus(connected, cached)
	UpdateGoroutineCount()

	status := e.risk.Status()
	UpdateRiskGauges(status)

	if e.wsHub == nil {
		return
	}
	e.wsHub.BroadcastRiskUpdate(status)
	for _, pos := range e.tracker.ActivePositions() {
		e.wsHub.BroadcastPositionUpdate(pos)
	}
}

// ============================================================
// Остановка
// ============================================================

// shutdown отменяет невыполненные ордера и сбрасывает активные
// позиции в БД. Родительский контекст уже мог быть отменен, поэтому
// работаем на свежем контексте с собственным таймаутом.
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	pending := e.executor.PendingOrders()
	if len(pending) > 0 {
		cancelled := e.executor.CancelUnfilledOrders(ctx, pending, 0)
		for _, o := range pending {
			e.persistOrder(o)
		}
		e.log.Info().Int("pending", len(pending)).Int("cancelled", cancelled).Msg("незавершенные ордера отменены")
	}

	flushed := 0
	for _, pos := range e.tracker.ActivePositions() {
		if e.positions == nil {
			break
		}
		if err := e.positions.Save(pos); err != nil {
			e.log.Error().Err(err).Str("market_id", pos.MarketID).Msg("позиция не сброшена при остановке")
			continue
		}
		flushed++
	}

	e.log.Info().
		Int64("ticks", atomic.LoadInt64(&e.ticksDone)).
		Int64("entries", atomic.LoadInt64(&e.entriesDone)).
		Int64("exits", atomic.LoadInt64(&e.exitsDone)).
		Int("positions_flushed", flushed).
		Msg("торговый цикл остановлен")
}

// ============================================================
// Уведомления
// ============================================================

func (e *Engine) notify(n *models.Notification) {
	if e.notifyChan == nil {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	if !enqueueNotification(e.notifyChan, n) {
		e.log.Warn().Str("type", n.Type).Msg("буфер уведомлений переполнен")
	}
}

func (e *Engine) notifyEntry(pos *models.StraddlePosition, market *models.MarketMetadata) {
	marketID := pos.MarketID
	e.notify(&models.Notification{
		Type:     models.NotificationTypeEntry,
		Severity: models.SeverityInfo,
		MarketID: &marketID,
		Message: fmt.Sprintf("вход в стрэддл %s: YES %.3f x %.1f, NO %.3f x %.1f",
			market.Title, pos.YesEntryPrice, pos.YesSize, pos.NoEntryPrice, pos.NoSize),
		Meta: map[string]interface{}{
			"title":         market.Title,
			"yes_price":     pos.YesEntryPrice,
			"yes_size":      pos.YesSize,
			"no_price":      pos.NoEntryPrice,
			"no_size":       pos.NoSize,
			"cheap_side":    pos.CheapSide,
			"favorite_side": pos.FavoriteSide,
			"exposure":      pos.Exposure(),
		},
	})
}

func (e *Engine) notifyExit(pos *models.StraddlePosition, fill *models.FillEvent) {
	marketID := pos.MarketID
	e.notify(&models.Notification{
		Type:     models.NotificationTypeExit,
		Severity: models.SeverityInfo,
		MarketID: &marketID,
		Message:  fmt.Sprintf("дешевая сторона %s продана по %.3f, pnl %.2f", fill.LegSide(), fill.Price, pos.RealizedPnl),
		Meta: map[string]interface{}{
			"exit_side":    fill.LegSide(),
			"exit_price":   fill.Price,
			"exit_size":    fill.Size,
			"realized_pnl": pos.RealizedPnl,
			"threshold":    e.strategy.ExitThreshold(),
		},
	})
}

func (e *Engine) notifyResolve(pos *models.StraddlePosition, outcome string, payout float64) {
	marketID := pos.MarketID
	msg := fmt.Sprintf("рынок разрешен в %s, фаворит %s проиграл", outcome, pos.FavoriteSide)
	if payout > 0 {
		msg = fmt.Sprintf("рынок разрешен в %s, выплата фаворита %.2f", outcome, payout)
	}
	e.notify(&models.Notification{
		Type:     models.NotificationTypeResolve,
		Severity: models.SeverityInfo,
		MarketID: &marketID,
		Message:  msg,
		Meta: map[string]interface{}{
			"outcome":       outcome,
			"favorite_side": pos.FavoriteSide,
			"payout":        payout,
			"realized_pnl":  pos.RealizedPnl,
		},
	})
}

func (e *Engine) notifyLegFail(market *models.MarketMetadata, yesOrder, noOrder *models.LiveOrder) {
	marketID := market.MarketID
	filled := models.SideYes
	if noOrder.IsFilled() {
		filled = models.SideNo
	}
	e.notify(&models.Notification{
		Type:     models.NotificationTypeLegFail,
		Severity: models.SeverityError,
		MarketID: &marketID,
		Message:  fmt.Sprintf("исполнилась только %s нога входа в %s, вторая отменена", filled, market.Title),
		Meta: map[string]interface{}{
			"title":      market.Title,
			"filled_leg": filled,
			"yes_status": yesOrder.Status,
			"no_status":  noOrder.Status,
		},
	})
}

func (e *Engine) notifyEntryFailed(market *models.MarketMetadata, yesOrder, noOrder *models.LiveOrder) {
	marketID := market.MarketID
	e.notify(&models.Notification{
		Type:     models.NotificationTypeError,
		Severity: models.SeverityError,
		MarketID: &marketID,
		Message:  fmt.Sprintf("входная пара в %s не принята биржей", market.Title),
		Meta: map[string]interface{}{
			"title":      market.Title,
			"yes_status": yesOrder.Status,
			"no_status":  noOrder.Status,
		},
	})
}

func (e *Engine) notifyCancelled(market *models.MarketMetadata, count int) {
	marketID := market.MarketID
	e.notify(&models.Notification{
		Type:     models.NotificationTypeCancel,
		Severity: models.SeverityInfo,
		MarketID: &marketID,
		Message:  fmt.Sprintf("входная пара в %s не исполнилась за отведенное время, ордера отменены", market.Title),
		Meta: map[string]interface{}{
			"title":     market.Title,
			"cancelled": count,
		},
	})
}

func (e *Engine) notifyError(marketID, message string) {
	id := marketID
	e.notify(&models.Notification{
		Type:     models.NotificationTypeError,
		Severity: models.SeverityError,
		MarketID: &id,
		Message:  message,
	})
}

// ============================================================
// Снимок состояния для API
// ============================================================

// EngineStats - счетчики движка для ручек мониторинга
type EngineStats struct {
	Running       bool  `json:"running"`
	Ticks         int64 `json:"ticks"`
	Entries       int64 `json:"entries"`
	Exits         int64 `json:"exits"`
	Candidates    int   `json:"candidates"`
	HeldMarkets   int   `json:"held_markets"`
	PendingOrders int   `json:"pending_orders"`
}

// GetStats возвращает снимок счетчиков движка
func (e *Engine) GetStats() EngineStats {
	e.mu.Lock()
	candidates := len(e.candidates)
	held := len(e.held)
	e.mu.Unlock()

	return EngineStats{
		Running:       e.Running(),
		Ticks:         atomic.LoadInt64(&e.ticksDone),
		Entries:       atomic.LoadInt64(&e.entriesDone),
		Exits:         atomic.LoadInt64(&e.exitsDone),
		Candidates:    candidates,
		HeldMarkets:   held,
		PendingOrders: e.executor.PendingCount(),
	}
}

// RegisterHeldMarket подкладывает метаданные удерживаемого рынка.
// Вызывается восстановлением, чтобы не ходить в каталог на первом тике.
func (e *Engine) RegisterHeldMarket(meta *models.MarketMetadata) {
	if meta == nil || meta.MarketID == "" {
		return
	}
	e.mu.Lock()
	e.held[meta.MarketID] = meta
	e.mu.Unlock()

	if e.feed != nil {
		_ = e.feed.Subscribe(meta.YesTokenID, meta.NoTokenID)
	}
}

// ============================================================
// Книги
// ============================================================

// bookFor возвращает свежий срез книги: сперва кэш WS потока,
// при устаревании - REST запрос с записью обратно в кэш
func (e *Engine) bookFor(ctx context.Context, tokenID string) *models.OrderBookSnapshot {
	if tokenID == "" {
		return nil
	}
	if e.books != nil {
		if snap := e.books.GetFresh(tokenID, e.cfg.Venue.BookStaleAfter, time.Now()); snap != nil {
			return snap
		}
	}
	if e.clob == nil {
		return nil
	}

	snap, err := e.clob.GetBook(ctx, tokenID)
	if err != nil {
		e.log.Warn().Err(err).Str("token_id", tokenID).Msg("REST срез книги недоступен")
		return nil
	}
	if snap != nil && e.books != nil {
		e.books.Update(snap)
	}
	return snap
}
