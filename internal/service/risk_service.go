package service

// RiskService - бизнес-логика управления рисками
//
// ВАЖНО: Функционал управления рисками реализован в пакете bot, а не в service.
// См. internal/bot/risk.go для полной реализации:
//
// - RiskManager: централизованный менеджер рисков
//   - CanEnterNewPosition: проверка лимитов перед входом (экспозиция, количество позиций, просадка)
//   - CalculatePositionSize: размер новой позиции как доля банкролла
//   - RegisterPosition / UnregisterPosition: учет экспозиции открытых стредлов
//   - ApplyRealized / SetUnrealized: ведение банкролла и нереализованного PNL
//   - Status: снимок состояния для API и riskUpdate рассылки
//
// - RiskMonitor: воркер для периодической проверки просадки
//   - Start: запуск мониторинга
//   - checkDrawdown: при превышении порога шлет RISK_PAUSE уведомление
//
// Архитектурное решение:
// RiskManager работает как часть торгового движка (bot package), а не как отдельный
// сервис, потому что:
// 1. Требует прямого доступа к трекеру позиций и runtime данным
// 2. Должен мгновенно реагировать на каждое исполнение (без сетевых запросов к БД)
// 3. Фаза сканирования спрашивает его перед каждым входом, на каждом тике
//
// Сервисному слою доступен только снимок: PositionService.RiskStatus
// отдает RiskManager.Status через интерфейс RiskStatusSource.
//
// Использование:
//
//	// В main.go при инициализации:
//	risk := bot.NewRiskManager(cfg.Risk)
//	monitor := bot.NewRiskMonitor(risk, notifyChan, interval, cfg.Risk.MaxDrawdownPct, logger)
//	monitor.Start()
//
// См. также:
// - internal/bot/tracker.go: PositionTracker для учета позиций и PNL
// - internal/bot/executor.go: OrderExecutor для выставления ордеров
