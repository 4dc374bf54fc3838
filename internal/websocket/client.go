package websocket

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал отправки ping сообщений (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Поток односторонний: дашборд ничего содержательного не шлет,
	// поэтому лимит на входящие сообщения минимальный
	maxMessageSize = 512

	// Размер буфера отправки клиента. Пачка positionUpdate после тика
	// движка приходит разом, буфер должен ее вмещать
	clientSendBufferSize = 512
)

// streamOrigins - origins, которым разрешено подключение к /ws/stream.
// Набор тот же, что у CORS middleware: браузерный дашборд.
var streamOrigins = map[string]bool{
	"http://localhost:3000": true,
	"http://127.0.0.1:3000": true,
	"http://localhost:8080": true,
	"http://127.0.0.1:8080": true,
	"http://localhost:5173": true, // Vite dev server
	"http://127.0.0.1:5173": true,
}

var streamAllowAll bool

func init() {
	origins := os.Getenv("ALLOWED_ORIGINS")
	if origins == "" || origins == "*" {
		streamAllowAll = true
		return
	}
	for _, origin := range strings.Split(origins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			streamOrigins[origin] = true
		}
	}
}

// checkStreamOrigin пропускает подключения без Origin (curl, скрипты)
// и браузерные из списка разрешенных.
func checkStreamOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || streamAllowAll {
		return true
	}
	return streamOrigins[origin]
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	CheckOrigin:       checkStreamOrigin,
	EnableCompression: true,
}

var newline = []byte{'\n'}

// Client - одно WebSocket подключение дашборда.
//
// На каждое подключение работают две горутины: readPump следит за
// живостью соединения, writePump гонит сообщения из канала send.
// Hub закрывает send при отключении клиента.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
}

// readPump держит цикл чтения до обрыва соединения.
//
// Входящие сообщения игнорируются: цикл нужен для обработки pong
// и обнаружения разрыва. При выходе клиент снимается с регистрации.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
			// Hub уже остановлен и закрыл каналы клиентов сам
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}

// writeFrame пишет first и все скопившиеся в send сообщения одним
// фреймом, чтобы не платить за фрейм на каждое обновление при
// всплесках после тика движка.
func (c *Client) writeFrame(first []byte) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	w.Write(first)

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return w.Close()
			}
			w.Write(newline)
			w.Write(msg)
		default:
			return w.Close()
		}
	}
}

// writePump гонит сообщения из send в соединение и пингует клиента.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeFrame(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS апгрейдит HTTP запрос до WebSocket и подключает клиента к хабу.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		hub:  hub,
		send: make(chan []byte, clientSendBufferSize),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		// Hub остановлен, соединение не обслуживаем
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
