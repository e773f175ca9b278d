package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Дашборд открывается с любого origin
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeForecastWS подключает дашборд к потоку событий прогнозирования
func ServeForecastWS(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("⚠️ Ошибка обновления WebSocket соединения: %v", err)
			return
		}

		hub.AddClient(conn)
		log.Printf("📈 Дашборд подключен. Всего подключений: %d", hub.GetClientsCount())

		defer func() {
			hub.RemoveClient(conn)
			log.Printf("📈 Дашборд отключен. Осталось подключений: %d", hub.GetClientsCount())
		}()

		// Входящие сообщения не используются, чтение нужно для ping/pong и закрытия
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("⚠️ WebSocket ошибка: %v", err)
				}
				break
			}
		}
	}
}
