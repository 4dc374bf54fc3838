package bot

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"straddle/internal/config"
	"straddle/internal/models"
	"straddle/pkg/utils"
)

// ============================================================
// RiskManager - контроль экспозиции и просадки
// ============================================================
//
// Агрегирует экспозицию по всем активным позициям и пропускает
// новые входы через лимиты:
// - количество одновременных позиций
// - суммарная долларовая экспозиция
// - просадка банкролла (только сигнал, торговлю не останавливает)
//
// Все методы потокобезопасны: карта экспозиций защищена мьютексом,
// так как к менеджеру обращаются торговый цикл и операторский API.

// RiskManager контролирует лимиты риска
type RiskManager struct {
	mu  sync.Mutex
	cfg config.RiskConfig

	// Банкролл = начальный капитал + накопленный реализованный PNL
	bankroll float64

	// Экспозиция по рынкам: entry_price * size по обеим ногам
	exposures     map[string]float64
	totalExposure float64

	// Нереализованный PNL по рынкам (для расчета просадки)
	unrealized map[string]float64
}

// NewRiskManager создает менеджер с начальным банкроллом из конфигурации
func NewRiskManager(cfg config.RiskConfig) *RiskManager {
	return &RiskManager{
		cfg:        cfg,
		bankroll:   cfg.InitialBankroll,
		exposures:  make(map[string]float64),
		unrealized: make(map[string]float64),
	}
}

// CanEnterNewPosition проверяет допустимость нового входа.
//
// Сначала быстрая проверка количества позиций, затем экспозиция:
// вход отклоняется, когда суммарная экспозиция с учетом нового входа
// превысила бы оба потолка сразу - и расчетный от банкролла
// (bankroll * maxPositions * sizePct), и абсолютный MaxTotalExposure.
// Пока хотя бы один потолок не достигнут, вход разрешен.
func (rm *RiskManager) CanEnterNewPosition(proposedSize float64) (bool, string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if len(rm.exposures) >= rm.cfg.MaxConcurrentPositions {
		return false, fmt.Sprintf("max concurrent positions reached: %d", rm.cfg.MaxConcurrentPositions)
	}

	proposed := rm.totalExposure + proposedSize
	bankrollCap := rm.bankroll * float64(rm.cfg.MaxConcurrentPositions) * rm.cfg.PositionSizePct
	if proposed > bankrollCap && proposed > rm.cfg.MaxTotalExposure {
		return false, fmt.Sprintf("exposure %.2f would exceed caps (bankroll cap %.2f, absolute cap %.2f)",
			proposed, bankrollCap, rm.cfg.MaxTotalExposure)
	}

	return true, ""
}

// CalculatePositionSize возвращает долларовую ставку на один стрэддл:
// доля текущего банкролла, ограниченная потолком на рынок.
// При банкролле 1000 и доле 0.03 ставка равна 30.
func (rm *RiskManager) CalculatePositionSize() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	size := rm.bankroll * rm.cfg.PositionSizePct
	if size > rm.cfg.MaxExposurePerMarket {
		size = rm.cfg.MaxExposurePerMarket
	}
	return size
}

// RegisterPosition учитывает экспозицию позиции.
// Повторная регистрация того же рынка замещает прежнее значение.
func (rm *RiskManager) RegisterPosition(pos *models.StraddlePosition) {
	if pos == nil {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	exposure := pos.Exposure()
	if prev, ok := rm.exposures[pos.MarketID]; ok {
		rm.totalExposure -= prev
	}
	rm.exposures[pos.MarketID] = exposure
	rm.totalExposure += exposure
}

// UnregisterPosition снимает рынок с учета.
//
// Суммарная экспозиция пересчитывается с нуля по оставшимся рынкам:
// инкрементальное вычитание накапливает ошибку округления float64
// на длинных сериях позиций.
func (rm *RiskManager) UnregisterPosition(marketID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delete(rm.exposures, marketID)
	delete(rm.unrealized, marketID)

	total := 0.0
	for _, e := range rm.exposures {
		total += e
	}
	rm.totalExposure = total
}

// ApplyRealized зачисляет реализованный PNL в банкролл.
// Убыток выхода приходит отрицательным, выплата резолюции положительной.
func (rm *RiskManager) ApplyRealized(pnl float64) {
	rm.mu.Lock()
	rm.bankroll += pnl
	rm.mu.Unlock()
}

// SetUnrealized обновляет нереализованный PNL рынка для расчета просадки
func (rm *RiskManager) SetUnrealized(marketID string, pnl float64) {
	rm.mu.Lock()
	rm.unrealized[marketID] = pnl
	rm.mu.Unlock()
}

// Drawdown возвращает текущую просадку как долю начального банкролла.
// Учитывает нереализованный PNL активных позиций, floor на нуле.
func (rm *RiskManager) Drawdown() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.drawdownLocked()
}

func (rm *RiskManager) drawdownLocked() float64 {
	equity := rm.bankroll
	for _, pnl := range rm.unrealized {
		equity += pnl
	}
	return utils.CalculateDrawdown(rm.cfg.InitialBankroll, equity)
}

// ShouldPauseTrading возвращает true при просадке не ниже порога.
// Сигнал совещательный: цикл сам решает, останавливать ли входы.
func (rm *RiskManager) ShouldPauseTrading(threshold float64) bool {
	if threshold <= 0 {
		return false
	}
	return rm.Drawdown() >= threshold
}

// Bankroll возвращает текущий банкролл
func (rm *RiskManager) Bankroll() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.bankroll
}

// TotalExposure возвращает суммарную экспозицию активных позиций
func (rm *RiskManager) TotalExposure() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalExposure
}

// ActiveCount возвращает количество рынков на учете
func (rm *RiskManager) ActiveCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.exposures)
}

// RiskStatus - срез состояния риска для UI и broadcast
type RiskStatus struct {
	Bankroll        float64 `json:"bankroll"`
	InitialBankroll float64 `json:"initial_bankroll"`
	TotalExposure   float64 `json:"total_exposure"`
	ActivePositions int     `json:"active_positions"`
	Drawdown        float64 `json:"drawdown"`
	PauseAdvised    bool    `json:"pause_advised"`
}

// Status возвращает срез состояния одним снимком
func (rm *RiskManager) Status() RiskStatus {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	dd := rm.drawdownLocked()
	return RiskStatus{
		Bankroll:        rm.bankroll,
		InitialBankroll: rm.cfg.InitialBankroll,
		TotalExposure:   rm.totalExposure,
		ActivePositions: len(rm.exposures),
		Drawdown:        dd,
		PauseAdvised:    rm.cfg.MaxDrawdownPct > 0 && dd >= rm.cfg.MaxDrawdownPct,
	}
}

// ============================================================
// RiskMonitor - фоновый контроль просадки
// ============================================================

// RiskMonitor периодически проверяет просадку и шлет уведомление
// при пересечении порога. Уведомление отправляется один раз на
// пересечение: повторное придет только после выхода из просадки.
type RiskMonitor struct {
	risk       *RiskManager
	notifyChan chan<- *models.Notification
	interval   time.Duration
	threshold  float64
	log        zerolog.Logger

	stopCh  chan struct{}
	stopped sync.Once

	// Флаг "уже предупредили" для edge-triggered уведомлений
	advised bool
}

// NewRiskMonitor создает монитор просадки
func NewRiskMonitor(risk *RiskManager, notifyChan chan<- *models.Notification, interval time.Duration, threshold float64, log zerolog.Logger) *RiskMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RiskMonitor{
		risk:       risk,
		notifyChan: notifyChan,
		interval:   interval,
		threshold:  threshold,
		log:        log.With().Str("component", "risk_monitor").Logger(),
		stopCh:     make(chan struct{}),
	}
}

// Start запускает фоновую проверку
func (m *RiskMonitor) Start() {
	go m.run()
	m.log.Info().
		Dur("interval", m.interval).
		Float64("threshold", m.threshold).
		Msg("риск-монитор запущен")
}

// Stop останавливает монитор. Повторные вызовы безопасны.
func (m *RiskMonitor) Stop() {
	m.stopped.Do(func() {
		close(m.stopCh)
	})
}

func (m *RiskMonitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkDrawdown()
		case <-m.stopCh:
			return
		}
	}
}

// checkDrawdown сверяет просадку с порогом
func (m *RiskMonitor) checkDrawdown() {
	if m.threshold <= 0 {
		return
	}

	dd := m.risk.Drawdown()
	RecordDrawdown(dd)

	if dd < m.threshold {
		if m.advised {
			m.log.Info().Float64("drawdown", dd).Msg("просадка вернулась ниже порога")
		}
		m.advised = false
		return
	}

	if m.advised {
		return // уже предупреждали об этом пересечении
	}
	m.advised = true

	status := m.risk.Status()
	m.log.Warn().
		Float64("drawdown", dd).
		Float64("threshold", m.threshold).
		Float64("bankroll", status.Bankroll).
		Msg("просадка превысила порог, советуем паузу")

	m.notifyDrawdown(dd, status)
}

// notifyDrawdown отправляет RISK_PAUSE уведомление
func (m *RiskMonitor) notifyDrawdown(dd float64, status RiskStatus) {
	notif := &models.Notification{
		Timestamp: time.Now().UTC(),
		Type:      models.NotificationTypeRiskPause,
		Severity:  models.SeverityWarn,
		Message: fmt.Sprintf("просадка %.1f%% превысила порог %.1f%%, новые входы стоит приостановить",
			dd*100, m.threshold*100),
		Meta: map[string]interface{}{
			"drawdown":         dd,
			"threshold":        m.threshold,
			"bankroll":         status.Bankroll,
			"total_exposure":   status.TotalExposure,
			"active_positions": status.ActivePositions,
		},
	}

	if !enqueueNotification(m.notifyChan, notif) {
		m.log.Warn().Msg("буфер уведомлений переполнен, сигнал о просадке потерян")
	}
}
