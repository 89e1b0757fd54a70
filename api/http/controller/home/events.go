package home

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"terrain/api/api/common"
	"terrain/api/log"
)

const (
	pingPeriod = 30 * time.Second
	writeWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type watcher struct {
	conn     *websocket.Conn
	connLock sync.Mutex
}

func (w *watcher) write(messageType int, v any) error {
	w.connLock.Lock()
	defer w.connLock.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if messageType == websocket.PingMessage {
		return w.conn.WriteMessage(websocket.PingMessage, nil)
	}
	return w.conn.WriteJSON(v)
}

// GET /map/events
// Streams service.Event JSON messages until the client goes away.
func Events(c *gin.Context) {
	res := common.NewResponse()
	s, ok := session(c, res)
	if !ok {
		return
	}
	// subscribe before the handshake completes so no save is missed
	events, cancel := s.Events().Subscribe()
	defer cancel()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Info("events upgrade failed: ", err)
		return
	}
	defer conn.Close()
	w := &watcher{conn: conn}

	// the read side only notices the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := w.write(websocket.TextMessage, e); err != nil {
				return
			}
		case <-ticker.C:
			if err := w.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
