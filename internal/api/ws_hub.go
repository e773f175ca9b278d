package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"possales/server/internal/services"

	"github.com/gorilla/websocket"
)

// Hub управляет WebSocket соединениями дашборда прогнозов
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.RWMutex
}

// NewHub создает хаб с буферизованным каналом рассылки
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 256),
	}
}

// ForecastHub - хаб для событий обучения и прогнозов
var ForecastHub = NewHub()

// Run запускает рассылку; завершается при отмене ctx
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.broadcast:
			h.mutex.RLock()
			var failed []*websocket.Conn
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
					failed = append(failed, client)
				}
			}
			h.mutex.RUnlock()
			for _, client := range failed {
				h.RemoveClient(client)
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// AddClient добавляет нового клиента
func (h *Hub) AddClient(conn *websocket.Conn) {
	h.mutex.Lock()
	h.clients[conn] = true
	h.mutex.Unlock()
}

// RemoveClient удаляет клиента
func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mutex.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mutex.Unlock()
}

// BroadcastMessage ставит сообщение в очередь рассылки; при переполнении сообщение отбрасывается
func (h *Hub) BroadcastMessage(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		return false
	}
}

// GetClientsCount возвращает количество подключенных клиентов
func (h *Hub) GetClientsCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HubMessage - конверт сообщения для дашборда
type HubMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// Broadcast упаковывает данные в HubMessage и рассылает
func (h *Hub) Broadcast(messageType string, data interface{}) error {
	payload, err := json.Marshal(HubMessage{Type: messageType, Data: data, Timestamp: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("ошибка маршалинга сообщения %s: %w", messageType, err)
	}
	if !h.BroadcastMessage(payload) {
		log.Printf("⚠️ Очередь WebSocket переполнена, сообщение %s пропущено", messageType)
	}
	return nil
}

// PublishRun рассылает событие о завершенном запуске обучения
func (h *Hub) PublishRun(_ context.Context, event services.RunEvent) error {
	return h.Broadcast("forecast_run", event)
}
