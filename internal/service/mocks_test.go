package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"straddle/internal/bot"
	"straddle/internal/models"
	"straddle/internal/repository"
)

// Общие ошибки для тестов
var (
	ErrMockDatabase = errors.New("mock database error")
)

// ============ Mock BlacklistRepository ============

type MockBlacklistRepository struct {
	entries   map[string]*models.BlacklistEntry
	createErr error
	getErr    error
	deleteErr error
	existsErr error
	updateErr error
	searchErr error
	nextID    int
}

func NewMockBlacklistRepository() *MockBlacklistRepository {
	return &MockBlacklistRepository{
		entries: make(map[string]*models.BlacklistEntry),
		nextID:  1,
	}
}

func (m *MockBlacklistRepository) Create(entry *models.BlacklistEntry) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, exists := m.entries[entry.MarketID]; exists {
		return repository.ErrBlacklistEntryExists
	}
	entry.ID = m.nextID
	m.nextID++
	entry.CreatedAt = time.Now()
	m.entries[entry.MarketID] = entry
	return nil
}

func (m *MockBlacklistRepository) GetAll() ([]*models.BlacklistEntry, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.BlacklistEntry, 0, len(m.entries))
	for _, e := range m.entries {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (m *MockBlacklistRepository) GetByMarketID(marketID string) (*models.BlacklistEntry, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if entry, exists := m.entries[marketID]; exists {
		return entry, nil
	}
	return nil, repository.ErrBlacklistEntryNotFound
}

func (m *MockBlacklistRepository) Delete(marketID string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, exists := m.entries[marketID]; !exists {
		return repository.ErrBlacklistEntryNotFound
	}
	delete(m.entries, marketID)
	return nil
}

func (m *MockBlacklistRepository) Exists(marketID string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, exists := m.entries[marketID]
	return exists, nil
}

func (m *MockBlacklistRepository) UpdateReason(marketID string, reason string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	entry, exists := m.entries[marketID]
	if !exists {
		return repository.ErrBlacklistEntryNotFound
	}
	entry.Reason = reason
	return nil
}

func (m *MockBlacklistRepository) Count() (int, error) {
	if m.getErr != nil {
		return 0, m.getErr
	}
	return len(m.entries), nil
}

func (m *MockBlacklistRepository) DeleteAll() error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.entries = make(map[string]*models.BlacklistEntry)
	return nil
}

func (m *MockBlacklistRepository) Search(query string) ([]*models.BlacklistEntry, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	lowered := strings.ToLower(query)
	var result []*models.BlacklistEntry
	for _, e := range m.entries {
		if strings.Contains(strings.ToLower(e.MarketID), lowered) {
			result = append(result, e)
		}
	}
	return result, nil
}

// ============ Mock NotificationRepository ============

type MockNotificationRepository struct {
	mu            sync.Mutex
	notifications []*models.Notification
	createErr     error
	getErr        error
	deleteErr     error
	countErr      error
	keepErr       error
	nextID        int
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{nextID: 1}
}

func (m *MockNotificationRepository) Create(notif *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	notif.ID = m.nextID
	m.nextID++
	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now()
	}
	m.notifications = append([]*models.Notification{notif}, m.notifications...)
	return nil
}

func (m *MockNotificationRepository) GetRecent(limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if limit > len(m.notifications) {
		limit = len(m.notifications)
	}
	return append([]*models.Notification{}, m.notifications[:limit]...), nil
}

func (m *MockNotificationRepository) GetByTypes(types []string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	var result []*models.Notification
	for _, n := range m.notifications {
		if wanted[n.Type] {
			result = append(result, n)
		}
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MockNotificationRepository) DeleteAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.notifications = nil
	return nil
}

func (m *MockNotificationRepository) Count() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	return len(m.notifications), nil
}

func (m *MockNotificationRepository) KeepRecent(keepCount int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keepErr != nil {
		return 0, m.keepErr
	}
	if keepCount >= len(m.notifications) {
		return 0, nil
	}
	removed := int64(len(m.notifications) - keepCount)
	m.notifications = m.notifications[:keepCount]
	return removed, nil
}

// ============ Mock StatsRepository ============

type MockStatsRepository struct {
	periodCount int
	periodPnl   float64
	wins        int
	losses      int
	exitCount   int
	resolvCount int
	topTrades   []*models.MarketStat
	topProfit   []*models.MarketStat
	topLoss     []*models.MarketStat
	exitEvents  []models.ExitEvent
	resolEvents []models.ResolutionEvent
	pnlByMarket map[string]float64
	resetCount  int64

	periodErr error
	topErr    error
	resetErr  error
}

func NewMockStatsRepository() *MockStatsRepository {
	return &MockStatsRepository{pnlByMarket: make(map[string]float64)}
}

func (m *MockStatsRepository) GetPeriodStats(from, to time.Time) (int, float64, error) {
	if m.periodErr != nil {
		return 0, 0, m.periodErr
	}
	return m.periodCount, m.periodPnl, nil
}

func (m *MockStatsRepository) GetWinLossCounts() (int, int, error) {
	if m.periodErr != nil {
		return 0, 0, m.periodErr
	}
	return m.wins, m.losses, nil
}

func (m *MockStatsRepository) CountExitsInRange(from, to time.Time) (int, error) {
	if m.periodErr != nil {
		return 0, m.periodErr
	}
	return m.exitCount, nil
}

func (m *MockStatsRepository) CountResolutionsInRange(from, to time.Time) (int, error) {
	if m.periodErr != nil {
		return 0, m.periodErr
	}
	return m.resolvCount, nil
}

func (m *MockStatsRepository) GetTopMarketsByTrades(limit int) ([]*models.MarketStat, error) {
	if m.topErr != nil {
		return nil, m.topErr
	}
	return m.topTrades, nil
}

func (m *MockStatsRepository) GetTopMarketsByProfit(limit int) ([]*models.MarketStat, error) {
	if m.topErr != nil {
		return nil, m.topErr
	}
	return m.topProfit, nil
}

func (m *MockStatsRepository) GetTopMarketsByLoss(limit int) ([]*models.MarketStat, error) {
	if m.topErr != nil {
		return nil, m.topErr
	}
	return m.topLoss, nil
}

func (m *MockStatsRepository) GetRecentExits(limit int) ([]models.ExitEvent, error) {
	if m.topErr != nil {
		return nil, m.topErr
	}
	return m.exitEvents, nil
}

func (m *MockStatsRepository) GetRecentResolutions(limit int) ([]models.ResolutionEvent, error) {
	if m.topErr != nil {
		return nil, m.topErr
	}
	return m.resolEvents, nil
}

func (m *MockStatsRepository) GetPnlByMarket(marketID string) (float64, error) {
	if m.periodErr != nil {
		return 0, m.periodErr
	}
	return m.pnlByMarket[marketID], nil
}

func (m *MockStatsRepository) ResetHistory() (int64, error) {
	if m.resetErr != nil {
		return 0, m.resetErr
	}
	return m.resetCount, nil
}

// ============ Mock PositionRepository ============

type MockPositionRepository struct {
	positions map[string]*models.StraddlePosition
	getErr    error
}

func NewMockPositionRepository() *MockPositionRepository {
	return &MockPositionRepository{positions: make(map[string]*models.StraddlePosition)}
}

func (m *MockPositionRepository) AddPosition(pos *models.StraddlePosition) {
	m.positions[pos.MarketID] = pos
}

func (m *MockPositionRepository) GetAll() ([]*models.StraddlePosition, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.StraddlePosition, 0, len(m.positions))
	for _, p := range m.positions {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MarketID < result[j].MarketID })
	return result, nil
}

func (m *MockPositionRepository) GetByMarketID(marketID string) (*models.StraddlePosition, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if pos, exists := m.positions[marketID]; exists {
		return pos, nil
	}
	return nil, repository.ErrPositionNotFound
}

func (m *MockPositionRepository) GetByState(state string) ([]*models.StraddlePosition, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.StraddlePosition
	for _, p := range m.positions {
		if p.State == state {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MarketID < result[j].MarketID })
	return result, nil
}

func (m *MockPositionRepository) Count() (int, error) {
	if m.getErr != nil {
		return 0, m.getErr
	}
	return len(m.positions), nil
}

func (m *MockPositionRepository) CountActive() (int, error) {
	if m.getErr != nil {
		return 0, m.getErr
	}
	count := 0
	for _, p := range m.positions {
		if p.State != models.StateResolved {
			count++
		}
	}
	return count, nil
}

// ============ Mock WebSocketBroadcaster ============

type MockWebSocketBroadcaster struct {
	mu            sync.Mutex
	notifications []*models.Notification
}

func NewMockWebSocketBroadcaster() *MockWebSocketBroadcaster {
	return &MockWebSocketBroadcaster{}
}

func (m *MockWebSocketBroadcaster) BroadcastNotification(notif *models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, notif)
}

func (m *MockWebSocketBroadcaster) BroadcastCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifications)
}

// ============ Mock StatsBroadcaster ============

type MockStatsBroadcaster struct {
	mu      sync.Mutex
	updates []*models.Stats
}

func NewMockStatsBroadcaster() *MockStatsBroadcaster {
	return &MockStatsBroadcaster{}
}

func (m *MockStatsBroadcaster) BroadcastStatsUpdate(stats *models.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, stats)
}

func (m *MockStatsBroadcaster) UpdateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

// ============ Mock StraddleEngine ============

type MockStraddleEngine struct {
	mu         sync.Mutex
	resolvable map[string]*models.StraddlePosition
	resolved   map[string]bool
	resolveErr error
	running    bool
	stats      bot.EngineStats
}

func NewMockStraddleEngine() *MockStraddleEngine {
	return &MockStraddleEngine{
		resolvable: make(map[string]*models.StraddlePosition),
		resolved:   make(map[string]bool),
		running:    true,
	}
}

func (m *MockStraddleEngine) AddResolvable(pos *models.StraddlePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolvable[pos.MarketID] = pos
}

func (m *MockStraddleEngine) ResolvePosition(marketID, outcome string) (*models.StraddlePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolveErr != nil {
		return nil, m.resolveErr
	}
	if m.resolved[marketID] {
		return nil, fmt.Errorf("%w: %s", bot.ErrPositionResolved, marketID)
	}
	pos, exists := m.resolvable[marketID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", bot.ErrPositionNotTracked, marketID)
	}
	m.resolved[marketID] = true
	pos.State = models.StateResolved
	return pos, nil
}

func (m *MockStraddleEngine) GetStats() bot.EngineStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.stats
	stats.Running = m.running
	return stats
}

func (m *MockStraddleEngine) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// ============ Mock RiskStatusSource ============

type MockRiskSource struct {
	status bot.RiskStatus
}

func (m *MockRiskSource) Status() bot.RiskStatus {
	return m.status
}

// ============ Проверяем, что моки реализуют интерфейсы ============

var _ BlacklistRepositoryInterface = (*MockBlacklistRepository)(nil)
var _ NotificationRepositoryInterface = (*MockNotificationRepository)(nil)
var _ StatsRepositoryInterface = (*MockStatsRepository)(nil)
var _ PositionRepositoryInterface = (*MockPositionRepository)(nil)
var _ WebSocketBroadcaster = (*MockWebSocketBroadcaster)(nil)
var _ StatsBroadcaster = (*MockStatsBroadcaster)(nil)
var _ StraddleEngine = (*MockStraddleEngine)(nil)
var _ RiskStatusSource = (*MockRiskSource)(nil)
