package service

import (
	"errors"
	"strings"

	"straddle/internal/bot"
	"straddle/internal/models"
	"straddle/internal/repository"
)

// Ошибки сервиса позиций
var (
	ErrPositionNotFound        = errors.New("position not found")
	ErrPositionAlreadyResolved = errors.New("position is already resolved")
	ErrInvalidOutcome          = errors.New("outcome must be YES or NO")
	ErrInvalidStateFilter      = errors.New("unknown position state filter")
	ErrEngineUnavailable       = errors.New("trading engine is not available")
)

// StraddleEngine определяет интерфейс для взаимодействия с торговым движком
type StraddleEngine interface {
	// ResolvePosition фиксирует исход рынка и финализирует PNL
	ResolvePosition(marketID, outcome string) (*models.StraddlePosition, error)
	// GetStats возвращает снимок счетчиков движка
	GetStats() bot.EngineStats
	// Running сообщает, работает ли основной цикл
	Running() bool
}

// RiskStatusSource - источник снимка состояния риск-менеджера
type RiskStatusSource interface {
	Status() bot.RiskStatus
}

// PositionService - бизнес-логика для просмотра и ручного разрешения позиций.
//
// Позиции открывает и закрывает только движок, оператор через API их
// не создает. Сервис склеивает два источника: БД (история, выживает
// рестарты) и трекер движка (живое состояние с актуальным
// нереализованным PNL). При расхождении живое состояние побеждает.
type PositionService struct {
	positionRepo PositionRepositoryInterface

	// Трекер движка (может быть nil в тестах без движка)
	tracker *bot.PositionTracker

	// Торговый движок (может быть nil при инициализации)
	engine StraddleEngine

	// Риск-менеджер (может быть nil при инициализации)
	risk RiskStatusSource
}

// NewPositionService создает новый экземпляр сервиса позиций
func NewPositionService(positionRepo PositionRepositoryInterface, tracker *bot.PositionTracker) *PositionService {
	return &PositionService{
		positionRepo: positionRepo,
		tracker:      tracker,
	}
}

// SetEngine устанавливает торговый движок
// Вызывается после инициализации Engine
func (s *PositionService) SetEngine(engine StraddleEngine) {
	s.engine = engine
}

// SetRiskSource устанавливает источник снимков риск-менеджера
func (s *PositionService) SetRiskSource(risk RiskStatusSource) {
	s.risk = risk
}

// GetPositions возвращает позиции с опциональным фильтром по состоянию.
//
// Выполняет:
// 1. Валидацию фильтра (WAITING_ENTRY, ENTERED, EXITED, RESOLVED)
// 2. Чтение позиций из БД
// 3. Подмену записей живыми копиями из трекера
// 4. Добавление позиций, которые еще не успели записаться в БД
//
// Возвращает позиции отсортированные по времени входа (новые сверху),
// живые позиции без записи в БД - в конце списка.
func (s *PositionService) GetPositions(state string) ([]*models.StraddlePosition, error) {
	// 1. Валидация фильтра
	state = strings.ToUpper(strings.TrimSpace(state))
	if state != "" && !isValidStateFilter(state) {
		return nil, ErrInvalidStateFilter
	}

	// 2. Чтение из БД
	var (
		positions []*models.StraddlePosition
		err       error
	)
	if state != "" {
		positions, err = s.positionRepo.GetByState(state)
	} else {
		positions, err = s.positionRepo.GetAll()
	}
	if err != nil {
		return nil, err
	}

	// 3. Подмена живыми копиями из трекера
	live := s.liveByMarket()
	seen := make(map[string]struct{}, len(positions))
	for i, pos := range positions {
		seen[pos.MarketID] = struct{}{}
		lp, ok := live[pos.MarketID]
		if !ok {
			continue
		}
		if state == "" || lp.State == state {
			positions[i] = lp
		}
	}

	// 4. Живые позиции, еще не записанные в БД (запись повторится
	// в следующем тике, но оператор должен видеть их уже сейчас)
	for marketID, lp := range live {
		if _, ok := seen[marketID]; ok {
			continue
		}
		if state == "" || lp.State == state {
			positions = append(positions, lp)
		}
	}

	// Гарантируем возврат пустого массива вместо nil
	if positions == nil {
		positions = []*models.StraddlePosition{}
	}

	return positions, nil
}

// GetPosition возвращает позицию рынка.
//
// Живая копия из трекера имеет приоритет над записью в БД.
func (s *PositionService) GetPosition(marketID string) (*models.StraddlePosition, error) {
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return nil, ErrPositionNotFound
	}

	if s.tracker != nil {
		if pos, ok := s.tracker.Get(marketID); ok {
			return pos, nil
		}
	}

	pos, err := s.positionRepo.GetByMarketID(marketID)
	if err != nil {
		if errors.Is(err, repository.ErrPositionNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}

	return pos, nil
}

// ResolvePosition фиксирует исход рынка по команде оператора.
//
// Бот не опрашивает исходы сам: биржа не отдает их через торговый
// API, поэтому разрешение вводится вручную через дашборд.
//
// Параметры:
// - marketID: идентификатор рынка
// - outcome: победившая сторона, YES или NO
//
// Возвращает:
// - *models.StraddlePosition: позиция в состоянии RESOLVED
// - error: ErrInvalidOutcome, ErrEngineUnavailable,
//          ErrPositionNotFound, ErrPositionAlreadyResolved
func (s *PositionService) ResolvePosition(marketID, outcome string) (*models.StraddlePosition, error) {
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return nil, ErrPositionNotFound
	}

	outcome = strings.ToUpper(strings.TrimSpace(outcome))
	if outcome != models.SideYes && outcome != models.SideNo {
		return nil, ErrInvalidOutcome
	}

	if s.engine == nil {
		return nil, ErrEngineUnavailable
	}

	pos, err := s.engine.ResolvePosition(marketID, outcome)
	if err != nil {
		switch {
		case errors.Is(err, bot.ErrPositionResolved):
			return nil, ErrPositionAlreadyResolved
		case errors.Is(err, bot.ErrPositionNotTracked):
			// Разрешенные позиции покидают трекер: отличаем повторное
			// разрешение от неизвестного рынка по записи в БД
			if stored, dbErr := s.positionRepo.GetByMarketID(marketID); dbErr == nil && stored.State == models.StateResolved {
				return nil, ErrPositionAlreadyResolved
			}
			return nil, ErrPositionNotFound
		default:
			return nil, err
		}
	}

	return pos, nil
}

// EngineStatus возвращает снимок счетчиков движка.
// Второе значение false, если движок еще не подключен.
func (s *PositionService) EngineStatus() (bot.EngineStats, bool) {
	if s.engine == nil {
		return bot.EngineStats{}, false
	}
	return s.engine.GetStats(), true
}

// RiskStatus возвращает снимок состояния риск-менеджера.
// Второе значение false, если риск-менеджер еще не подключен.
func (s *PositionService) RiskStatus() (bot.RiskStatus, bool) {
	if s.risk == nil {
		return bot.RiskStatus{}, false
	}
	return s.risk.Status(), true
}

// ============ Вспомогательные методы ============

// liveByMarket возвращает живые позиции трекера по id рынка
func (s *PositionService) liveByMarket() map[string]*models.StraddlePosition {
	if s.tracker == nil {
		return nil
	}

	active := s.tracker.ActivePositions()
	live := make(map[string]*models.StraddlePosition, len(active))
	for _, pos := range active {
		live[pos.MarketID] = pos
	}
	return live
}

// isValidStateFilter проверяет значение фильтра состояния
func isValidStateFilter(state string) bool {
	switch state {
	case models.StateWaitingEntry, models.StateEntered, models.StateExited, models.StateResolved:
		return true
	default:
		return false
	}
}
