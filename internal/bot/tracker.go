package bot

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"straddle/internal/models"
	"straddle/pkg/utils"
)

// ============================================================
// PositionTracker - учет стрэддл-позиций
// ============================================================
//
// Трекер - единственный владелец карты market_id -> позиция.
// Весь остальной код получает копии: мутации проходят только
// через методы трекера под мьютексом, переходы состояний
// валидируются через ValidTransitions.
//
// Жизненный цикл позиции:
// - CreatePosition: обе входные ноги исполнены -> ENTERED
// - UpdateFromFill: SELL дешевой ноги -> EXITED, фиксация убытка
// - ResolvePosition: рынок разрешен -> RESOLVED, зачисление выплаты

// Ошибки трекера
var (
	ErrPositionExists     = errors.New("position already exists for market")
	ErrPositionNotTracked = errors.New("position is not tracked")
	ErrPositionResolved   = errors.New("position is already resolved")
)

// TransitionHook вызывается после каждого перехода состояния.
// Получает копию позиции: хранить и мутировать ее безопасно.
type TransitionHook func(pos *models.StraddlePosition, from, to string)

// PositionTracker отслеживает открытые стрэддл-позиции
type PositionTracker struct {
	mu        sync.RWMutex
	positions map[string]*models.StraddlePosition

	// Хук переходов (broadcast, уведомления). Устанавливается до старта.
	onTransition TransitionHook

	// Счетчики для мониторинга
	entriesRecorded     int64
	exitsRecorded       int64
	resolutionsRecorded int64
}

// NewPositionTracker создает пустой трекер
func NewPositionTracker() *PositionTracker {
	return &PositionTracker{
		positions: make(map[string]*models.StraddlePosition),
	}
}

// SetTransitionHook устанавливает callback переходов состояний.
// Не потокобезопасно: вызывать до начала торговли.
func (t *PositionTracker) SetTransitionHook(hook TransitionHook) {
	t.onTransition = hook
}

// CreatePosition материализует позицию из двух исполненных входных ордеров.
//
// Обе ноги должны быть BUY со статусом filled. Дешевая сторона - строго
// меньшая цена входа; при равенстве цен дешевой назначается NO.
// Позиция сразу создается в состоянии ENTERED: WAITING_ENTRY существует
// только как значение перечисления для неисполненных попыток входа.
func (t *PositionTracker) CreatePosition(marketID string, yesOrder, noOrder *models.LiveOrder) (*models.StraddlePosition, error) {
	if marketID == "" {
		return nil, fmt.Errorf("market id is required")
	}
	if err := validateEntryLeg(yesOrder, models.SideYes); err != nil {
		return nil, err
	}
	if err := validateEntryLeg(noOrder, models.SideNo); err != nil {
		return nil, err
	}

	yesPrice := yesOrder.Intent.Price
	noPrice := noOrder.Intent.Price

	// Равные цены: дешевой считаем NO
	cheapSide := models.SideNo
	favoriteSide := models.SideYes
	if yesPrice < noPrice {
		cheapSide = models.SideYes
		favoriteSide = models.SideNo
	}

	now := time.Now().UTC()
	pos := &models.StraddlePosition{
		MarketID:       marketID,
		YesEntryPrice:  yesPrice,
		NoEntryPrice:   noPrice,
		YesSize:        yesOrder.Intent.Size,
		NoSize:         noOrder.Intent.Size,
		CheapSide:      cheapSide,
		FavoriteSide:   favoriteSide,
		State:          models.StateEntered,
		EntryTime:      now,
		LastUpdateTime: now,
	}

	t.mu.Lock()
	if _, exists := t.positions[marketID]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPositionExists, marketID)
	}
	t.positions[marketID] = pos
	t.mu.Unlock()

	atomic.AddInt64(&t.entriesRecorded, 1)
	result := copyPosition(pos)
	t.fireTransition(result, models.StateWaitingEntry, models.StateEntered)

	return result, nil
}

// validateEntryLeg проверяет пригодность ордера как входной ноги
func validateEntryLeg(order *models.LiveOrder, side string) error {
	if order == nil {
		return fmt.Errorf("%s leg order is nil", side)
	}
	if order.Intent.Side != models.OrderSideBuy {
		return fmt.Errorf("%s leg must be a BUY order, got %s", side, order.Intent.Side)
	}
	if !order.IsFilled() {
		return fmt.Errorf("%s leg is not filled: status %s", side, order.Status)
	}
	if order.Intent.Price <= 0 || order.Intent.Price >= 1 {
		return fmt.Errorf("%s leg price %.4f outside (0, 1)", side, order.Intent.Price)
	}
	if order.Intent.Size <= 0 {
		return fmt.Errorf("%s leg size must be positive, got %.4f", side, order.Intent.Size)
	}
	return nil
}

// UpdateFromFill применяет исполнение к отслеживаемой позиции.
//
// Реагирует только на SELL ноги, совпадающей с записанной дешевой
// стороной, и только в состоянии ENTERED: повторные SELL по уже
// вышедшей позиции игнорируются. Возвращает копию позиции и признак
// того, что переход ENTERED -> EXITED произошел.
//
// Убыток выхода отрицательный: вход 0.50, выход 0.18, размер 60
// дает RealizedPnl -19.2.
func (t *PositionTracker) UpdateFromFill(fill *models.FillEvent) (*models.StraddlePosition, bool) {
	if fill == nil || fill.Side != models.OrderSideSell {
		return nil, false
	}

	legSide := fill.LegSide()
	if legSide == "" {
		return nil, false
	}

	t.mu.Lock()

	pos, ok := t.positions[fill.BaseMarketID()]
	if !ok {
		t.mu.Unlock()
		return nil, false
	}
	if pos.State != models.StateEntered || legSide != pos.CheapSide {
		t.mu.Unlock()
		return nil, false
	}

	exitPrice := fill.Price
	exitTime := fill.Timestamp
	if exitTime.IsZero() {
		exitTime = time.Now().UTC()
	}

	pos.ExitPrice = &exitPrice
	pos.ExitTime = &exitTime
	pos.RealizedPnl = utils.CalculateLegPnl(pos.CheapEntryPrice(), exitPrice, fill.Size)
	pos.UnrealizedPnl = 0
	from := t.transitionLocked(pos, models.StateExited)
	result := copyPosition(pos)
	t.mu.Unlock()

	atomic.AddInt64(&t.exitsRecorded, 1)
	t.fireTransition(result, from, models.StateExited)
	return result, true
}

// ResolvePosition фиксирует исход рынка.
//
// Выплата favoriteSize * (1 - favoriteEntryPrice) зачисляется в
// RealizedPnl только при совпадении фаворита с исходом; переход в
// RESOLVED происходит в любом случае. Допустим как из EXITED, так и
// из ENTERED: рынок может разрешиться раньше порога выхода.
func (t *PositionTracker) ResolvePosition(marketID, outcome string) (*models.StraddlePosition, float64, error) {
	if outcome != models.SideYes && outcome != models.SideNo {
		return nil, 0, fmt.Errorf("invalid outcome %q: expected %s or %s", outcome, models.SideYes, models.SideNo)
	}

	t.mu.Lock()

	pos, ok := t.positions[marketID]
	if !ok {
		t.mu.Unlock()
		return nil, 0, fmt.Errorf("%w: %s", ErrPositionNotTracked, marketID)
	}
	if pos.State == models.StateResolved {
		t.mu.Unlock()
		return nil, 0, fmt.Errorf("%w: %s", ErrPositionResolved, marketID)
	}

	var payout float64
	if pos.FavoriteSide == outcome {
		payout = utils.CalculateResolutionPayout(pos.FavoriteEntryPrice(), pos.FavoriteSize())
		pos.RealizedPnl += payout
	}

	pos.UnrealizedPnl = 0
	from := t.transitionLocked(pos, models.StateResolved)
	result := copyPosition(pos)
	t.mu.Unlock()

	atomic.AddInt64(&t.resolutionsRecorded, 1)
	t.fireTransition(result, from, models.StateResolved)
	return result, payout, nil
}

// Get возвращает копию позиции рынка
func (t *PositionTracker) Get(marketID string) (*models.StraddlePosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pos, ok := t.positions[marketID]
	if !ok {
		return nil, false
	}
	return copyPosition(pos), true
}

// Has возвращает true если рынок уже отслеживается.
// Используется фазой сканирования для дедупликации входов.
func (t *PositionTracker) Has(marketID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.positions[marketID]
	return ok
}

// ActivePositions возвращает копии всех незавершенных позиций
func (t *PositionTracker) ActivePositions() []*models.StraddlePosition {
	t.mu.RLock()
	defer t.mu.RUnlock()

	active := make([]*models.StraddlePosition, 0, len(t.positions))
	for _, pos := range t.positions {
		if pos.State != models.StateResolved {
			active = append(active, copyPosition(pos))
		}
	}
	return active
}

// ActiveCount возвращает количество незавершенных позиций
func (t *PositionTracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, pos := range t.positions {
		if pos.State != models.StateResolved {
			count++
		}
	}
	return count
}

// Evict убирает позицию из памяти.
//
// Вызывается после успешной записи RESOLVED позиции в хранилище:
// до этого позиция остается в карте, чтобы следующий тик мог
// повторить запись.
func (t *PositionTracker) Evict(marketID string) {
	t.mu.Lock()
	delete(t.positions, marketID)
	t.mu.Unlock()
}

// Load замещает содержимое трекера позициями из хранилища.
//
// RESOLVED записи пропускаются: в памяти живут только позиции,
// требующие мониторинга. Возвращает количество принятых позиций.
func (t *PositionTracker) Load(positions []*models.StraddlePosition) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.positions = make(map[string]*models.StraddlePosition, len(positions))
	loaded := 0
	for _, pos := range positions {
		if pos == nil || pos.MarketID == "" || pos.State == models.StateResolved {
			continue
		}
		t.positions[pos.MarketID] = copyPosition(pos)
		loaded++
	}
	return loaded
}

// MarkToMarket пересчитывает нереализованный PNL позиции по текущим
// ценам обеих сторон. Возвращает значение и признак применения.
func (t *PositionTracker) MarkToMarket(marketID string, yesPrice, noPrice float64) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[marketID]
	if !ok {
		return 0, false
	}

	pnl := UnrealizedPnl(pos, yesPrice, noPrice)
	pos.UnrealizedPnl = pnl
	return pnl, true
}

// RecomputeSides переназначает дешевую и фаворитную стороны позиции
// по текущим ценам. Фаворит может смениться за время матча: продажа
// по порогу всегда касается текущей дешевой ноги, и записанная сторона
// должна совпасть с ногой будущего SELL исполнения.
//
// Мутирует только ENTERED позиции: после выхода стороны зафиксированы.
// Возвращает копию позиции (nil если рынок не отслеживается) и признак
// фактической смены сторон.
func (t *PositionTracker) RecomputeSides(marketID string, yesPrice, noPrice float64) (*models.StraddlePosition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[marketID]
	if !ok {
		return nil, false
	}
	if pos.State != models.StateEntered {
		return copyPosition(pos), false
	}

	cheap, favorite := ComputeSides(yesPrice, noPrice)
	if pos.CheapSide == cheap {
		return copyPosition(pos), false
	}

	pos.CheapSide = cheap
	pos.FavoriteSide = favorite
	pos.LastUpdateTime = time.Now().UTC()
	return copyPosition(pos), true
}

// UnrealizedPnl оценивает позицию по текущим ценам.
//
// Обе ноги переоцениваются только в состоянии ENTERED. После выхода
// дешевая нога продана, а фаворит ждет бинарной резолюции: промежуточная
// рыночная цена не несет информации о финальном PNL, возвращаем 0.
func UnrealizedPnl(pos *models.StraddlePosition, yesPrice, noPrice float64) float64 {
	if pos == nil || pos.State != models.StateEntered {
		return 0
	}
	return utils.CalculateLegPnl(pos.YesEntryPrice, yesPrice, pos.YesSize) +
		utils.CalculateLegPnl(pos.NoEntryPrice, noPrice, pos.NoSize)
}

// TrackerStats счетчики трекера с момента старта процесса
type TrackerStats struct {
	EntriesRecorded     int64 `json:"entries_recorded"`
	ExitsRecorded       int64 `json:"exits_recorded"`
	ResolutionsRecorded int64 `json:"resolutions_recorded"`
}

// GetStats возвращает счетчики трекера
func (t *PositionTracker) GetStats() TrackerStats {
	return TrackerStats{
		EntriesRecorded:     atomic.LoadInt64(&t.entriesRecorded),
		ExitsRecorded:       atomic.LoadInt64(&t.exitsRecorded),
		ResolutionsRecorded: atomic.LoadInt64(&t.resolutionsRecorded),
	}
}

// transitionLocked применяет переход состояния и возвращает исходное.
// Вызывать под t.mu. Хук вызывается отдельно после снятия мьютекса,
// чтобы медленный подписчик не блокировал трекер.
func (t *PositionTracker) transitionLocked(pos *models.StraddlePosition, to string) string {
	from := pos.State
	if !CanTransition(from, to) {
		// Недопустимый переход - ошибка программиста, а не данных
		panic(fmt.Sprintf("invalid position transition %s -> %s for market %s", from, to, pos.MarketID))
	}
	pos.State = to
	pos.LastUpdateTime = time.Now().UTC()
	return from
}

// fireTransition вызывает хук переходов. pos уже должен быть копией.
func (t *PositionTracker) fireTransition(pos *models.StraddlePosition, from, to string) {
	if t.onTransition == nil {
		return
	}
	t.onTransition(pos, from, to)
}

// copyPosition возвращает глубокую копию позиции
func copyPosition(pos *models.StraddlePosition) *models.StraddlePosition {
	cp := *pos
	if pos.ExitPrice != nil {
		v := *pos.ExitPrice
		cp.ExitPrice = &v
	}
	if pos.ExitTime != nil {
		ts := *pos.ExitTime
		cp.ExitTime = &ts
	}
	return &cp
}
