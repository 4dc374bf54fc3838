package venue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"straddle/internal/models"
)

// FeedConfig - конфигурация websocket-потока книг
type FeedConfig struct {
	// URL публичного канала книг
	URL string
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Максимальное количество попыток (0 = бесконечно)
	MaxRetries int
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Дедлайн чтения, продлевается каждым сообщением и pong
	ReadTimeout time.Duration
	// Дедлайн записи ping и подписок
	WriteTimeout time.Duration
}

// DefaultFeedConfig возвращает конфигурацию по умолчанию.
// Backoff: 2s, 4s, 8s, 16s. Попытки не ограничены: пока поток лежит,
// торговый цикл живёт на REST-срезах через staleness-порог.
func DefaultFeedConfig(url string) FeedConfig {
	return FeedConfig{
		URL:            url,
		InitialDelay:   2 * time.Second,
		MaxDelay:       16 * time.Second,
		MaxRetries:     0,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   15 * time.Second,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// FeedState - состояние websocket соединения
type FeedState int32

const (
	FeedDisconnected FeedState = iota
	FeedConnecting
	FeedConnected
	FeedReconnecting
	FeedClosed
)

func (s FeedState) String() string {
	switch s {
	case FeedDisconnected:
		return "disconnected"
	case FeedConnecting:
		return "connecting"
	case FeedConnected:
		return "connected"
	case FeedReconnecting:
		return "reconnecting"
	case FeedClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarketFeed держит websocket-подписку на книги и наполняет BookCache.
//
// Назначение:
// Принимает полные срезы книг и последние сделки по подписанным токенам,
// автоматически переподключается при разрывах с exponential backoff и
// восстанавливает подписку после переподключения.
//
// Поток - источник свежести, не истина: при разрыве кэш доезжает
// REST-срезами, стратегия отличает устаревшие данные по возрасту среза.
type MarketFeed struct {
	cfg   FeedConfig
	books *BookCache
	log   zerolog.Logger

	// WebSocket соединение
	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex // сериализует записи: ping и подписки идут из разных горутин

	// Состояние
	state      int32 // atomic FeedState
	retryCount int32 // atomic

	closeChan chan struct{}

	// Подписка для восстановления после переподключения
	subscribed map[string]struct{}
	subMu      sync.RWMutex
}

// NewMarketFeed создаёт поток книг поверх кэша
func NewMarketFeed(cfg FeedConfig, books *BookCache, log zerolog.Logger) *MarketFeed {
	return &MarketFeed{
		cfg:        cfg,
		books:      books,
		log:        log,
		closeChan:  make(chan struct{}),
		subscribed: make(map[string]struct{}),
	}
}

// State возвращает текущее состояние соединения
func (f *MarketFeed) State() FeedState {
	return FeedState(atomic.LoadInt32(&f.state))
}

// IsConnected проверяет, установлено ли соединение
func (f *MarketFeed) IsConnected() bool {
	return f.State() == FeedConnected
}

// RetryCount возвращает текущее количество попыток переподключения
func (f *MarketFeed) RetryCount() int {
	return int(atomic.LoadInt32(&f.retryCount))
}

// SubscribedCount возвращает количество токенов в подписке
func (f *MarketFeed) SubscribedCount() int {
	f.subMu.RLock()
	defer f.subMu.RUnlock()
	return len(f.subscribed)
}

// Connect устанавливает соединение и запускает горутины чтения и ping
func (f *MarketFeed) Connect() error {
	select {
	case <-f.closeChan:
		return fmt.Errorf("feed is closed")
	default:
	}

	atomic.StoreInt32(&f.state, int32(FeedConnecting))

	if err := f.dial(); err != nil {
		atomic.StoreInt32(&f.state, int32(FeedDisconnected))
		return err
	}

	atomic.StoreInt32(&f.state, int32(FeedConnected))
	atomic.StoreInt32(&f.retryCount, 0)

	go f.readPump()
	go f.pingPump()

	f.log.Info().Str("url", f.cfg.URL).Msg("поток книг подключен")

	return nil
}

// Subscribe добавляет токены в подписку.
// При активном соединении биржа получает полный набор заново:
// канал книг не поддерживает инкрементальную подписку.
func (f *MarketFeed) Subscribe(tokenIDs ...string) error {
	f.subMu.Lock()
	added := 0
	for _, id := range tokenIDs {
		if id == "" {
			continue
		}
		if _, ok := f.subscribed[id]; !ok {
			f.subscribed[id] = struct{}{}
			added++
		}
	}
	f.subMu.Unlock()

	if added == 0 || !f.IsConnected() {
		return nil
	}
	return f.sendSubscription()
}

// Unsubscribe убирает токены из подписки и чистит их срезы из кэша.
// Вызывается после разрешения рынка.
func (f *MarketFeed) Unsubscribe(tokenIDs ...string) error {
	f.subMu.Lock()
	removed := 0
	for _, id := range tokenIDs {
		if _, ok := f.subscribed[id]; ok {
			delete(f.subscribed, id)
			removed++
		}
	}
	f.subMu.Unlock()

	for _, id := range tokenIDs {
		f.books.Remove(id)
	}

	if removed == 0 || !f.IsConnected() {
		return nil
	}
	return f.sendSubscription()
}

// Close закрывает соединение и останавливает переподключение
func (f *MarketFeed) Close() error {
	select {
	case <-f.closeChan:
		return nil
	default:
		close(f.closeChan)
	}

	atomic.StoreInt32(&f.state, int32(FeedClosed))

	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn != nil {
		err := f.conn.Close()
		f.conn = nil
		return err
	}

	return nil
}

// ============================================================
// Соединение и переподключение
// ============================================================

// dial выполняет подключение и отправляет текущую подписку
func (f *MarketFeed) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: f.cfg.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("feed dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	// Восстанавливаем подписку
	if f.SubscribedCount() > 0 {
		if err := f.sendSubscription(); err != nil {
			f.log.Warn().Err(err).Msg("не удалось восстановить подписку потока")
			// Не считаем фатальным: подписка уйдёт при следующем Subscribe
		}
	}

	return nil
}

// subscribeRequest - сообщение подписки публичного канала книг
type subscribeRequest struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

// sendSubscription отправляет полный набор подписанных токенов
func (f *MarketFeed) sendSubscription() error {
	f.subMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subMu.RUnlock()

	f.connMu.RLock()
	conn := f.conn
	f.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("feed not connected")
	}

	payload, err := wireJSON.Marshal(subscribeRequest{AssetIDs: ids, Type: "market"})
	if err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("feed subscribe: %w", err)
	}

	f.log.Debug().Int("tokens", len(ids)).Msg("подписка потока отправлена")
	return nil
}

// readPump читает сообщения потока.
// Дедлайн чтения продлевается каждым сообщением и pong: молчащее
// соединение умирает по таймауту и уходит в переподключение.
func (f *MarketFeed) readPump() {
	f.connMu.RLock()
	conn := f.conn
	f.connMu.RUnlock()

	if conn == nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		return nil
	})

	for {
		select {
		case <-f.closeChan:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			f.handleDisconnect(err)
			return
		}

		conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		f.handleMessage(message)
	}
}

// pingPump отправляет ping для проверки соединения
func (f *MarketFeed) pingPump() {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.closeChan:
			return
		case <-ticker.C:
			f.connMu.RLock()
			conn := f.conn
			f.connMu.RUnlock()

			if conn == nil || f.State() != FeedConnected {
				return
			}

			f.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			f.writeMu.Unlock()

			if err != nil {
				f.log.Warn().Err(err).Msg("ping потока не прошёл")
				f.handleDisconnect(err)
				return
			}
		}
	}
}

// handleDisconnect обрабатывает разрыв соединения
func (f *MarketFeed) handleDisconnect(err error) {
	select {
	case <-f.closeChan:
		return
	default:
	}

	// Избегаем повторной обработки: пампы падают парой
	state := f.State()
	if state == FeedReconnecting || state == FeedClosed {
		return
	}

	atomic.StoreInt32(&f.state, int32(FeedReconnecting))

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()

	if err != nil {
		f.log.Warn().Err(err).Msg("поток книг отключился")
	}

	go f.reconnectLoop()
}

// reconnectLoop выполняет переподключение с exponential backoff
func (f *MarketFeed) reconnectLoop() {
	delay := f.cfg.InitialDelay

	for {
		select {
		case <-f.closeChan:
			return
		default:
		}

		retryCount := atomic.AddInt32(&f.retryCount, 1)

		if f.cfg.MaxRetries > 0 && int(retryCount) > f.cfg.MaxRetries {
			f.log.Error().
				Int("max_retries", f.cfg.MaxRetries).
				Msg("попытки переподключения потока исчерпаны")
			atomic.StoreInt32(&f.state, int32(FeedDisconnected))
			return
		}

		f.log.Info().
			Dur("delay", delay).
			Int32("attempt", retryCount).
			Msg("переподключение потока книг")

		select {
		case <-f.closeChan:
			return
		case <-time.After(delay):
		}

		if err := f.dial(); err != nil {
			f.log.Warn().Err(err).Msg("переподключение потока не удалось")

			// Exponential backoff
			delay = delay * 2
			if delay > f.cfg.MaxDelay {
				delay = f.cfg.MaxDelay
			}
			continue
		}

		atomic.StoreInt32(&f.state, int32(FeedConnected))
		atomic.StoreInt32(&f.retryCount, 0)

		f.log.Info().Msg("поток книг переподключен")

		go f.readPump()
		go f.pingPump()

		return
	}
}

// ============================================================
// Разбор событий потока
// ============================================================

// feedEvent - событие публичного канала книг.
// Интересуют event_type=book (полный срез) и last_trade_price;
// остальные типы игнорируются.
type feedEvent struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Market    string      `json:"market"`
	Price     string      `json:"price"` // last_trade_price
	Bids      []bookLevel `json:"bids"`
	Asks      []bookLevel `json:"asks"`
	Timestamp string      `json:"timestamp"` // unix миллисекунды строкой
}

// handleMessage разбирает кадр потока.
// Биржа шлёт и одиночные события, и массивы событий.
func (f *MarketFeed) handleMessage(data []byte) {
	trimmed := 0
	for trimmed < len(data) && (data[trimmed] == ' ' || data[trimmed] == '\n' || data[trimmed] == '\t' || data[trimmed] == '\r') {
		trimmed++
	}
	if trimmed == len(data) {
		return
	}

	if data[trimmed] == '[' {
		var events []feedEvent
		if err := wireJSON.Unmarshal(data, &events); err != nil {
			f.log.Debug().Err(err).Msg("нечитаемый кадр потока")
			return
		}
		for i := range events {
			f.handleEvent(&events[i])
		}
		return
	}

	var event feedEvent
	if err := wireJSON.Unmarshal(data, &event); err != nil {
		f.log.Debug().Err(err).Msg("нечитаемый кадр потока")
		return
	}
	f.handleEvent(&event)
}

func (f *MarketFeed) handleEvent(ev *feedEvent) {
	if ev.AssetID == "" {
		return
	}

	switch ev.EventType {
	case "book":
		f.applyBook(ev)
	case "last_trade_price":
		f.applyLastTrade(ev)
	default:
		// price_change и служебные события не применяем:
		// кэш живёт полными срезами
	}
}

// applyBook строит срез из полного события книги и кладёт его в кэш
func (f *MarketFeed) applyBook(ev *feedEvent) {
	snapshot := &models.OrderBookSnapshot{
		MarketID:   ev.AssetID,
		ReceivedAt: feedTime(ev.Timestamp),
	}

	if price, size, ok := bestLevel(ev.Bids, true); ok {
		snapshot.BestBid = models.Float64Ptr(price)
		snapshot.BidDepth = size
	}
	if price, size, ok := bestLevel(ev.Asks, false); ok {
		snapshot.BestAsk = models.Float64Ptr(price)
		snapshot.AskDepth = size
	}

	// Последняя сделка переживает замену среза
	if existing := f.books.Get(ev.AssetID); existing != nil {
		snapshot.LastTradePrice = existing.LastTradePrice
	}

	f.books.Update(snapshot)
}

// applyLastTrade обновляет цену последней сделки в текущем срезе.
// Свежесть книги сделка не продлевает: ReceivedAt остаётся от среза.
func (f *MarketFeed) applyLastTrade(ev *feedEvent) {
	price, err := strconv.ParseFloat(ev.Price, 64)
	if err != nil || price <= 0 {
		return
	}

	var snapshot models.OrderBookSnapshot
	if existing := f.books.Get(ev.AssetID); existing != nil {
		snapshot = *existing
	} else {
		snapshot.MarketID = ev.AssetID
		snapshot.ReceivedAt = feedTime(ev.Timestamp)
	}
	snapshot.LastTradePrice = models.Float64Ptr(price)

	f.books.Update(&snapshot)
}

// feedTime разбирает timestamp события (unix миллисекунды строкой).
// Нечитаемое время заменяется текущим: возраст среза важнее точности.
func feedTime(ts string) time.Time {
	if ts == "" {
		return time.Now().UTC()
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
