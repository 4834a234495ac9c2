package realtime

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

var relations = map[string]bool{
	models.RelationUsers:       true,
	models.RelationChats:       true,
	models.RelationChatMembers: true,
	models.RelationLabels:      true,
	models.RelationChatLabels:  true,
	models.RelationMessages:    true,
}

// EncodeSubscription renders sub as the query of a realtime request.
func EncodeSubscription(sub models.Subscription) url.Values {
	q := url.Values{}
	q.Set("relation", sub.Relation)
	q.Set("events", sub.Events.String())
	if sub.Filter != nil {
		q.Set("column", sub.Filter.Column)
		q.Set("value", sub.Filter.Value)
	}
	return q
}

// ParseSubscription reads a subscription from the query of a realtime request.
func ParseSubscription(q url.Values) (models.Subscription, error) {
	sub := models.Subscription{Relation: q.Get("relation")}
	if !relations[sub.Relation] {
		return sub, errors.New("unknown relation")
	}
	mask, err := models.ParseEventMask(q.Get("events"))
	if err != nil {
		return sub, err
	}
	sub.Events = mask
	if col := q.Get("column"); col != "" {
		sub.Filter = &models.Filter{Column: col, Value: q.Get("value")}
	}
	return sub, nil
}

// ServeWs upgrades the request and streams the events matching sub to the
// peer as JSON text frames until either side goes away.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, sub models.Subscription, logger *zap.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	s := hub.Subscribe(sub)
	go writePump(conn, s, logger)
	go readPump(conn, s)
}

// readPump discards inbound frames; it exists to process control frames and
// to notice the peer closing the connection.
func readPump(conn *websocket.Conn, s *Subscriber) {
	defer func() {
		s.Close()
		conn.Close()
	}()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, s *Subscriber, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-s.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("Websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
