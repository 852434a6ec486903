package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"algoedge/internal/metrics"
	"algoedge/internal/models"
	"algoedge/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const outboundBufferSize = 256

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// envelope - сообщение для всех соединений одного пользователя
type envelope struct {
	userID int64
	data   []byte
}

// Hub управляет WebSocket соединениями пользователей.
//
// Соединения сгруппированы по user id: событие счёта получает только
// владелец (все его вкладки). Отправка никогда не блокирует вызывающего:
// при переполненной очереди сообщение отбрасывается и учитывается
// в DroppedMessages.
//
// Использование:
//
//	hub := NewHub(cfg.Server.AllowedOrigins, logger)
//	go hub.Run()
//	defer hub.Stop()
//	hub.SendToUser(userID, msg)
type Hub struct {
	clients map[int64]map[*Client]struct{}
	mu      sync.RWMutex

	outbound   chan envelope
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	dropped atomic.Int64

	upgrader websocket.Upgrader
	logger   *utils.Logger
}

// NewHub создает новый Hub. allowedOrigins пустой или "*" - разрешены все.
func NewHub(allowedOrigins []string, logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.L()
	}
	checker := NewOriginChecker(allowedOrigins)

	return &Hub{
		clients:    make(map[int64]map[*Client]struct{}),
		outbound:   make(chan envelope, outboundBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		upgrader:   newUpgrader(checker),
		logger:     logger.WithComponent("ws"),
	}
}

// Run - главный цикл Hub, запускается в отдельной горутине.
// Возвращается после Stop, закрыв все соединения.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			h.logger.Debug("client connected", utils.UserID(client.userID))

		case client := <-h.unregister:
			h.remove(client)

		case env := <-h.outbound:
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients[env.userID]))
			for client := range h.clients[env.userID] {
				targets = append(targets, client)
			}
			h.mu.RUnlock()

			var slow []*Client
			for _, client := range targets {
				select {
				case client.send <- env.data:
				default:
					slow = append(slow, client)
				}
			}
			for _, client := range slow {
				h.remove(client)
			}
			if len(slow) > 0 {
				h.logger.Warn("removed slow clients", utils.UserID(env.userID), utils.Int("count", len(slow)))
			}

		case <-h.stop:
			h.mu.Lock()
			for userID, set := range h.clients {
				for client := range set {
					close(client.send)
					metrics.WebSocketClients.Dec()
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
	close(client.send)
	metrics.WebSocketClients.Dec()
}

// Stop останавливает Run. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// SendToUser сериализует сообщение и ставит его в очередь пользователю
func (h *Hub) SendToUser(userID int64, message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("marshal websocket message", utils.Err(err))
		jsonBufferPool.Put(buf)
		return
	}

	data := bytes.TrimRight(buf.Bytes(), "\n")
	msg := make([]byte, len(data))
	copy(msg, data)
	jsonBufferPool.Put(buf)

	h.SendRawToUser(userID, msg)
}

// SendRawToUser ставит в очередь уже сериализованное сообщение
func (h *Hub) SendRawToUser(userID int64, data []byte) {
	select {
	case h.outbound <- envelope{userID: userID, data: data}:
	case <-h.stop:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastAccountUpdate отправляет владельцу событие по MT5 счёту
func (h *Hub) BroadcastAccountUpdate(userID int64, event string, account *models.MT5Account) {
	h.SendToUser(userID, NewAccountUpdateMessage(event, account))
}

// ClientCount возвращает общее количество соединений
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// UserClientCount возвращает число соединений пользователя
func (h *Hub) UserClientCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// DroppedMessages - сколько сообщений отброшено из-за переполнения очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
