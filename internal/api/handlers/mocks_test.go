package handlers

import (
	"errors"
	"strings"
	"sync"
	"time"

	"straddle/internal/bot"
	"straddle/internal/models"
	"straddle/internal/service"
)

// ============ Mock Blacklist Service ============

// MockBlacklistService мок для BlacklistServiceInterface
type MockBlacklistService struct {
	entries   map[string]*models.BlacklistEntry
	addErr    error
	getErr    error
	removeErr error
	searchErr error
	updateErr error
	nextID    int
	mu        sync.RWMutex
}

// NewMockBlacklistService создает новый мок сервиса черного списка
func NewMockBlacklistService() *MockBlacklistService {
	return &MockBlacklistService{
		entries: make(map[string]*models.BlacklistEntry),
		nextID:  1,
	}
}

func (m *MockBlacklistService) AddToBlacklist(marketID, reason string) (*models.BlacklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.addErr != nil {
		return nil, m.addErr
	}

	if strings.TrimSpace(marketID) == "" {
		return nil, service.ErrBlacklistMarketEmpty
	}

	if _, exists := m.entries[marketID]; exists {
		return nil, service.ErrBlacklistMarketExists
	}

	entry := &models.BlacklistEntry{
		ID:        m.nextID,
		MarketID:  marketID,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	m.nextID++
	m.entries[marketID] = entry
	return entry, nil
}

func (m *MockBlacklistService) GetBlacklist() ([]*models.BlacklistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	result := make([]*models.BlacklistEntry, 0, len(m.entries))
	for _, e := range m.entries {
		result = append(result, e)
	}
	return result, nil
}

func (m *MockBlacklistService) RemoveFromBlacklist(marketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.removeErr != nil {
		return m.removeErr
	}

	if _, exists := m.entries[marketID]; !exists {
		return service.ErrBlacklistEntryNotFound
	}

	delete(m.entries, marketID)
	return nil
}

func (m *MockBlacklistService) GetByMarketID(marketID string) (*models.BlacklistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	if entry, exists := m.entries[marketID]; exists {
		return entry, nil
	}
	return nil, service.ErrBlacklistEntryNotFound
}

func (m *MockBlacklistService) IsBlacklisted(marketID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.entries[marketID]
	return exists
}

func (m *MockBlacklistService) UpdateReason(marketID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}

	if entry, exists := m.entries[marketID]; exists {
		entry.Reason = reason
		return nil
	}
	return service.ErrBlacklistEntryNotFound
}

func (m *MockBlacklistService) Search(query string) ([]*models.BlacklistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.searchErr != nil {
		return nil, m.searchErr
	}

	needle := strings.ToLower(query)
	result := make([]*models.BlacklistEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if strings.Contains(strings.ToLower(e.MarketID), needle) ||
			strings.Contains(strings.ToLower(e.Reason), needle) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MockBlacklistService) GetCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return 0, m.getErr
	}
	return len(m.entries), nil
}

func (m *MockBlacklistService) ClearAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*models.BlacklistEntry)
	return nil
}

// SetError устанавливает ошибку для указанной операции
func (m *MockBlacklistService) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch operation {
	case "add":
		m.addErr = err
	case "get":
		m.getErr = err
	case "remove":
		m.removeErr = err
	case "search":
		m.searchErr = err
	case "update":
		m.updateErr = err
	}
}

// AddEntry добавляет запись напрямую (для настройки тестов)
func (m *MockBlacklistService) AddEntry(marketID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[marketID] = &models.BlacklistEntry{
		ID:        m.nextID,
		MarketID:  marketID,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	m.nextID++
}

// ============ Mock Notification Service ============

// MockNotificationService мок для NotificationServiceInterface
type MockNotificationService struct {
	notifications []*models.Notification
	createErr     error
	getErr        error
	clearErr      error
	nextID        int
	mu            sync.RWMutex
}

// NewMockNotificationService создает новый мок сервиса уведомлений
func NewMockNotificationService() *MockNotificationService {
	return &MockNotificationService{
		notifications: make([]*models.Notification, 0),
		nextID:        1,
	}
}

func (m *MockNotificationService) GetNotifications(types []string, limit int) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	result := make([]*models.Notification, 0, len(m.notifications))

	if len(types) == 0 {
		result = append(result, m.notifications...)
	} else {
		typeSet := make(map[string]bool)
		for _, t := range types {
			typeSet[t] = true
		}
		for _, n := range m.notifications {
			if typeSet[n.Type] {
				result = append(result, n)
			}
		}
	}

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (m *MockNotificationService) ClearNotifications() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.clearErr != nil {
		return m.clearErr
	}

	m.notifications = make([]*models.Notification, 0)
	return nil
}

func (m *MockNotificationService) CreateNotification(notif *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}

	notif.ID = m.nextID
	m.nextID++
	notif.Timestamp = time.Now()
	m.notifications = append(m.notifications, notif)
	return nil
}

func (m *MockNotificationService) GetNotificationCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return 0, m.getErr
	}
	return len(m.notifications), nil
}

// SetError устанавливает ошибку для указанной операции
func (m *MockNotificationService) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch operation {
	case "create":
		m.createErr = err
	case "get":
		m.getErr = err
	case "clear":
		m.clearErr = err
	}
}

// AddNotification добавляет уведомление напрямую (для настройки тестов)
func (m *MockNotificationService) AddNotification(notifType, severity, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifications = append(m.notifications, &models.Notification{
		ID:        m.nextID,
		Type:      notifType,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now(),
	})
	m.nextID++
}

// AddMarketNotification добавляет уведомление, привязанное к рынку
func (m *MockNotificationService) AddMarketNotification(notifType, severity, marketID, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifications = append(m.notifications, &models.Notification{
		ID:        m.nextID,
		Type:      notifType,
		Severity:  severity,
		MarketID:  &marketID,
		Message:   message,
		Timestamp: time.Now(),
	})
	m.nextID++
}

// ============ Mock Stats Service ============

// MockStatsService мок для StatsServiceInterface
type MockStatsService struct {
	stats        *models.Stats
	topMarkets   map[string][]models.MarketStat
	getErr       error
	topMarketErr error
	resetErr     error
	mu           sync.RWMutex
}

// NewMockStatsService создает новый мок сервиса статистики
func NewMockStatsService() *MockStatsService {
	return &MockStatsService{
		stats:      &models.Stats{},
		topMarkets: make(map[string][]models.MarketStat),
	}
}

func (m *MockStatsService) GetStats() (*models.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.stats, nil
}

func (m *MockStatsService) GetTopMarkets(metric string, limit int) ([]models.MarketStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.topMarketErr != nil {
		return nil, m.topMarketErr
	}

	markets, exists := m.topMarkets[metric]
	if !exists {
		return []models.MarketStat{}, nil
	}

	if limit > 0 && len(markets) > limit {
		return markets[:limit], nil
	}
	return markets, nil
}

func (m *MockStatsService) ResetStats() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resetErr != nil {
		return 0, m.resetErr
	}

	deleted := int64(m.stats.TotalPositions)
	m.stats = &models.Stats{}
	m.topMarkets = make(map[string][]models.MarketStat)
	return deleted, nil
}

// SetError устанавливает ошибку для указанной операции
func (m *MockStatsService) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch operation {
	case "get":
		m.getErr = err
	case "topMarkets":
		m.topMarketErr = err
	case "reset":
		m.resetErr = err
	}
}

// SetStats устанавливает статистику напрямую (для настройки тестов)
func (m *MockStatsService) SetStats(stats *models.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats = stats
}

// SetTopMarkets устанавливает топ рынков для метрики
func (m *MockStatsService) SetTopMarkets(metric string, markets []models.MarketStat) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.topMarkets[metric] = markets
}

// ============ Mock Position Service ============

// MockPositionService мок для PositionServiceInterface
type MockPositionService struct {
	positions  map[string]*models.StraddlePosition
	order      []string // порядок вставки для детерминированных ответов
	getErr     error
	resolveErr error

	engineStats    bot.EngineStats
	engineAttached bool
	riskStatus     bot.RiskStatus
	riskAttached   bool

	mu sync.RWMutex
}

// NewMockPositionService создает новый мок сервиса позиций
func NewMockPositionService() *MockPositionService {
	return &MockPositionService{
		positions: make(map[string]*models.StraddlePosition),
	}
}

func (m *MockPositionService) GetPositions(state string) ([]*models.StraddlePosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	state = strings.ToUpper(strings.TrimSpace(state))
	if state != "" && !isKnownState(state) {
		return nil, service.ErrInvalidStateFilter
	}

	result := make([]*models.StraddlePosition, 0, len(m.positions))
	for _, marketID := range m.order {
		pos := m.positions[marketID]
		if state == "" || pos.State == state {
			result = append(result, pos)
		}
	}
	return result, nil
}

func (m *MockPositionService) GetPosition(marketID string) (*models.StraddlePosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	if pos, exists := m.positions[marketID]; exists {
		return pos, nil
	}
	return nil, service.ErrPositionNotFound
}

func (m *MockPositionService) ResolvePosition(marketID, outcome string) (*models.StraddlePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resolveErr != nil {
		return nil, m.resolveErr
	}

	outcome = strings.ToUpper(strings.TrimSpace(outcome))
	if outcome != models.SideYes && outcome != models.SideNo {
		return nil, service.ErrInvalidOutcome
	}

	if !m.engineAttached {
		return nil, service.ErrEngineUnavailable
	}

	pos, exists := m.positions[marketID]
	if !exists {
		return nil, service.ErrPositionNotFound
	}
	if pos.State == models.StateResolved {
		return nil, service.ErrPositionAlreadyResolved
	}

	// Упрощенная резолюция: фаворит выиграл - выплата по его ногам
	pos.State = models.StateResolved
	if pos.FavoriteSide == outcome {
		pos.RealizedPnl += pos.FavoriteSize() * (1 - pos.FavoriteEntryPrice())
	}
	pos.LastUpdateTime = time.Now()
	return pos, nil
}

func (m *MockPositionService) EngineStatus() (bot.EngineStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engineStats, m.engineAttached
}

func (m *MockPositionService) RiskStatus() (bot.RiskStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.riskStatus, m.riskAttached
}

// SetError устанавливает ошибку для указанной операции
func (m *MockPositionService) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch operation {
	case "get":
		m.getErr = err
	case "resolve":
		m.resolveErr = err
	}
}

// AddPosition добавляет позицию напрямую (для настройки тестов)
func (m *MockPositionService) AddPosition(pos *models.StraddlePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.positions[pos.MarketID]; !exists {
		m.order = append(m.order, pos.MarketID)
	}
	m.positions[pos.MarketID] = pos
}

// AttachEngine эмулирует подключенный движок
func (m *MockPositionService) AttachEngine(stats bot.EngineStats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.engineStats = stats
	m.engineAttached = true
}

// AttachRisk эмулирует подключенный риск-менеджер
func (m *MockPositionService) AttachRisk(status bot.RiskStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.riskStatus = status
	m.riskAttached = true
}

func isKnownState(state string) bool {
	switch state {
	case models.StateWaitingEntry, models.StateEntered, models.StateExited, models.StateResolved:
		return true
	default:
		return false
	}
}

// ============ Helper errors for tests ============

var (
	ErrMockDatabase = errors.New("mock database error")
	ErrMockService  = errors.New("mock service error")
)

// ============ Проверяем, что моки реализуют интерфейсы ============

var _ service.BlacklistServiceInterface = (*MockBlacklistService)(nil)
var _ service.NotificationServiceInterface = (*MockNotificationService)(nil)
var _ service.StatsServiceInterface = (*MockStatsService)(nil)
var _ service.PositionServiceInterface = (*MockPositionService)(nil)
