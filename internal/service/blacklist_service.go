package service

import (
	"errors"
	"strings"
	"sync"

	"straddle/internal/models"
	"straddle/internal/repository"
)

// Ошибки сервиса черного списка
var (
	ErrBlacklistMarketEmpty   = errors.New("market id cannot be empty")
	ErrBlacklistMarketExists  = errors.New("market already in blacklist")
	ErrBlacklistEntryNotFound = errors.New("blacklist entry not found")
)

// BlacklistService предоставляет бизнес-логику для управления черным списком.
//
// Черный список БОЕВОЙ: сканер движка пропускает перечисленные рынки
// и не открывает на них стредлы. Для этого сервис держит кэш id в
// памяти - проверка IsBlacklisted вызывается на каждый рынок каждого
// тика и не должна ходить в БД.
//
// Id рынков регистрозависимы и сохраняются как есть, без нормализации.
type BlacklistService struct {
	blacklistRepo BlacklistRepositoryInterface

	mu    sync.RWMutex
	cache map[string]struct{}
}

// NewBlacklistService создает новый экземпляр BlacklistService.
//
// Кэш пуст до вызова WarmCache: до прогрева IsBlacklisted отвечает
// false на все рынки.
func NewBlacklistService(blacklistRepo BlacklistRepositoryInterface) *BlacklistService {
	return &BlacklistService{
		blacklistRepo: blacklistRepo,
		cache:         make(map[string]struct{}),
	}
}

// WarmCache загружает черный список из БД в память.
//
// Вызывается один раз при старте, до запуска движка.
func (s *BlacklistService) WarmCache() (int, error) {
	entries, err := s.blacklistRepo.GetAll()
	if err != nil {
		return 0, err
	}

	cache := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		cache[entry.MarketID] = struct{}{}
	}

	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()

	return len(cache), nil
}

// AddToBlacklist добавляет рынок в черный список.
//
// Параметры:
// - marketID: идентификатор рынка (например, "csgo-navi-vs-faze")
// - reason: причина добавления (опционально, заметка оператора)
//
// Уже открытая позиция на этом рынке не закрывается - список влияет
// только на будущие входы.
//
// Возвращает:
// - *models.BlacklistEntry: созданная запись
// - error: ErrBlacklistMarketEmpty если id пустой,
//          ErrBlacklistMarketExists если рынок уже в списке
func (s *BlacklistService) AddToBlacklist(marketID, reason string) (*models.BlacklistEntry, error) {
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return nil, ErrBlacklistMarketEmpty
	}

	// Проверяем, не существует ли уже
	exists, err := s.blacklistRepo.Exists(marketID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrBlacklistMarketExists
	}

	entry := &models.BlacklistEntry{
		MarketID: marketID,
		Reason:   strings.TrimSpace(reason),
	}

	if err := s.blacklistRepo.Create(entry); err != nil {
		// Дополнительная проверка на unique violation (race condition)
		if errors.Is(err, repository.ErrBlacklistEntryExists) {
			return nil, ErrBlacklistMarketExists
		}
		return nil, err
	}

	s.mu.Lock()
	s.cache[marketID] = struct{}{}
	s.mu.Unlock()

	return entry, nil
}

// GetBlacklist возвращает весь черный список.
//
// Записи отсортированы по дате добавления (новые сверху).
func (s *BlacklistService) GetBlacklist() ([]*models.BlacklistEntry, error) {
	entries, err := s.blacklistRepo.GetAll()
	if err != nil {
		return nil, err
	}

	// Гарантируем возврат пустого массива вместо nil
	if entries == nil {
		entries = []*models.BlacklistEntry{}
	}

	return entries, nil
}

// RemoveFromBlacklist удаляет рынок из черного списка.
//
// Возвращает:
// - error: ErrBlacklistEntryNotFound если рынок не найден
func (s *BlacklistService) RemoveFromBlacklist(marketID string) error {
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return ErrBlacklistMarketEmpty
	}

	err := s.blacklistRepo.Delete(marketID)
	if err != nil {
		if errors.Is(err, repository.ErrBlacklistEntryNotFound) {
			return ErrBlacklistEntryNotFound
		}
		return err
	}

	s.mu.Lock()
	delete(s.cache, marketID)
	s.mu.Unlock()

	return nil
}

// GetByMarketID возвращает запись черного списка по id рынка.
func (s *BlacklistService) GetByMarketID(marketID string) (*models.BlacklistEntry, error) {
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return nil, ErrBlacklistMarketEmpty
	}

	entry, err := s.blacklistRepo.GetByMarketID(marketID)
	if err != nil {
		if errors.Is(err, repository.ErrBlacklistEntryNotFound) {
			return nil, ErrBlacklistEntryNotFound
		}
		return nil, err
	}

	return entry, nil
}

// IsBlacklisted проверяет, находится ли рынок в черном списке.
//
// Читает только кэш в памяти: метод стоит на горячем пути сканера
// и обязан быть дешевым. Ошибок не возвращает - неизвестный рынок
// считается разрешенным.
func (s *BlacklistService) IsBlacklisted(marketID string) bool {
	s.mu.RLock()
	_, ok := s.cache[marketID]
	s.mu.RUnlock()
	return ok
}

// UpdateReason обновляет причину добавления в черный список.
func (s *BlacklistService) UpdateReason(marketID, reason string) error {
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return ErrBlacklistMarketEmpty
	}

	err := s.blacklistRepo.UpdateReason(marketID, strings.TrimSpace(reason))
	if err != nil {
		if errors.Is(err, repository.ErrBlacklistEntryNotFound) {
			return ErrBlacklistEntryNotFound
		}
		return err
	}

	return nil
}

// Search ищет записи по части id рынка.
//
// Поиск регистронезависимый.
func (s *BlacklistService) Search(query string) ([]*models.BlacklistEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.GetBlacklist()
	}

	entries, err := s.blacklistRepo.Search(query)
	if err != nil {
		return nil, err
	}

	if entries == nil {
		entries = []*models.BlacklistEntry{}
	}

	return entries, nil
}

// GetCount возвращает количество записей в черном списке.
func (s *BlacklistService) GetCount() (int, error) {
	return s.blacklistRepo.Count()
}

// ClearAll очищает весь черный список.
//
// Используйте с осторожностью - удаляет все записи без возможности восстановления.
func (s *BlacklistService) ClearAll() error {
	if err := s.blacklistRepo.DeleteAll(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache = make(map[string]struct{})
	s.mu.Unlock()

	return nil
}
