package websocket

import (
	"bytes"
	"log"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"straddle/internal/bot"
	"straddle/internal/models"
)

// streamJSON сериализует исходящие сообщения без рефлексии stdlib
var streamJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ ОПТИМИЗАЦИЯ: sync.Pool для буферов сериализации ============
// Убирает аллокации при каждом Broadcast (движок шлет пачку
// positionUpdate раз в тик плюс statsUpdate каждые несколько секунд)

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512)) // начальный размер 512 байт
	},
}

// byteSlicePool переиспользует копии сообщений, не попавшие в канал.
// Слайс, ушедший в broadcast канал, принадлежит получателям и в пул
// не возвращается; при сбросе переполненного канала возвращаем сразу.
var byteSlicePool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 512)
		return &b
	},
}

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Центральный менеджер для broadcast сообщений всем подключенным клиентам.
// Обеспечивает real-time обновления данных на frontend без необходимости polling.
//
// Функции:
// - Регистрация новых WebSocket клиентов
// - Отмена регистрации отключенных клиентов
// - Broadcast сообщений всем активным клиентам
// - Маршрутизация сообщений по типам (positionUpdate, notification, statsUpdate, riskUpdate)
// - Отсечение медленных клиентов (переполненный буфер отправки)
// - Потокобезопасная работа с клиентами (sync.RWMutex)
//
// Broadcast неблокирующий: при переполнении канала сообщение
// сбрасывается и увеличивается счетчик droppedMessages. Торговый
// цикл никогда не ждет UI.
//
// Использование:
// 1. Создать hub: hub := NewHub()
// 2. Запустить в горутине: go hub.Run()
// 3. Отправлять сообщения: hub.BroadcastPositionUpdate(pos)
// 4. Остановить при завершении: hub.Stop()
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений всем клиентам
	broadcast chan []byte

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	// Сигнал остановки главного цикла
	done chan struct{}

	// Защита от повторного Stop
	stopOnce sync.Once

	// Счетчик клиентов для lock-free ClientCount
	clientCount int64

	// Счетчик сброшенных сообщений (канал был переполнен)
	droppedMessages uint64

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
// Обрабатывает регистрацию, отмену регистрации и broadcast.
// Завершается после Stop(), закрыв каналы всех клиентов.
//
// Рассылка без race condition при удалении клиентов:
// копируем список под коротким RLock → отправляем без блокировки →
// удаляем медленных под Write Lock
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			atomic.StoreInt64(&h.clientCount, 0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			total := atomic.AddInt64(&h.clientCount, 1)
			log.Printf("Client connected. Total clients: %d", total)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			if ok {
				total := atomic.AddInt64(&h.clientCount, -1)
				log.Printf("Client disconnected. Total clients: %d", total)
			}

		case message := <-h.broadcast:
			// Копируем список клиентов под коротким RLock
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			// Отправляем сообщения БЕЗ блокировки (не блокируем register/unregister)
			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
					// Сообщение отправлено успешно
				default:
					// Клиент не успевает обрабатывать сообщения - помечаем для удаления
					toRemove = append(toRemove, client)
				}
			}

			// Удаляем медленных клиентов под Write Lock
			if len(toRemove) > 0 {
				removed := 0
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
						removed++
					}
				}
				h.mu.Unlock()
				if removed > 0 {
					total := atomic.AddInt64(&h.clientCount, int64(-removed))
					log.Printf("Removed %d slow clients. Total clients: %d", removed, total)
				}
			}
		}
	}
}

// Stop останавливает главный цикл и отключает всех клиентов
// Повторные вызовы безопасны
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast сериализует сообщение и отправляет всем подключенным клиентам
//
// Неблокирующий: при переполнении канала сообщение сбрасывается.
// Использует sync.Pool для буферов (убирает аллокации на горячем пути)
func (h *Hub) Broadcast(message interface{}) {
	// Получаем буфер из пула
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	// Сериализуем в буфер
	if err := streamJSON.NewEncoder(buf).Encode(message); err != nil {
		log.Printf("Error marshaling broadcast message: %v", err)
		jsonBufferPool.Put(buf)
		return
	}

	// Убираем trailing newline от Encode
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	h.submit(data)
	jsonBufferPool.Put(buf)
}

// BroadcastRaw отправляет уже сериализованное сообщение
// Данные копируются: вызывающий может переиспользовать свой слайс
func (h *Hub) BroadcastRaw(data []byte) {
	h.submit(data)
}

// submit копирует данные в слайс из пула и неблокирующе кладет в канал
func (h *Hub) submit(data []byte) {
	bufPtr := byteSlicePool.Get().(*[]byte)
	*bufPtr = append((*bufPtr)[:0], data...)

	select {
	case h.broadcast <- *bufPtr:
		// Слайсом теперь владеют получатели, в пул не возвращаем
	case <-h.done:
		byteSlicePool.Put(bufPtr)
	default:
		atomic.AddUint64(&h.droppedMessages, 1)
		byteSlicePool.Put(bufPtr)
	}
}

// ============ Типизированные методы рассылки ============
// Типизированные структуры вместо map[string]interface{}:
// jsoniter сериализует известные типы без рефлексии

// BroadcastPositionUpdate отправляет обновление состояния позиции
func (h *Hub) BroadcastPositionUpdate(pos *models.StraddlePosition) {
	h.Broadcast(NewPositionUpdateMessage(pos))
}

// BroadcastNotification отправляет новое уведомление
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	h.Broadcast(NewNotificationMessage(notif))
}

// BroadcastStatsUpdate отправляет обновление статистики
func (h *Hub) BroadcastStatsUpdate(stats *models.Stats) {
	h.Broadcast(NewStatsUpdateMessage(stats))
}

// BroadcastRiskUpdate отправляет состояние риск-менеджера
func (h *Hub) BroadcastRiskUpdate(status bot.RiskStatus) {
	h.Broadcast(NewRiskUpdateMessage(status))
}

// ClientCount возвращает количество подключенных клиентов
// Lock-free: читается из atomic счетчика, без блокировки hub
func (h *Hub) ClientCount() int {
	return int(atomic.LoadInt64(&h.clientCount))
}

// DroppedMessages возвращает количество сброшенных сообщений
func (h *Hub) DroppedMessages() uint64 {
	return atomic.LoadUint64(&h.droppedMessages)
}

// Движок рассылает positionUpdate и riskUpdate через этот hub
var _ bot.WebSocketHub = (*Hub)(nil)
