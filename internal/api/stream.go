package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dock108/aicli-companion/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// LogEntryEvent names the event pushed for every captured line.
const LogEntryEvent = "log-entry"

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	streamBuffer = 256
)

// StreamMessage is one frame on the log stream.
type StreamMessage struct {
	Event   string        `json:"event"`
	Payload logging.Entry `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     allowLocalOrigin,
}

// allowLocalOrigin accepts non-browser clients and pages served from loopback.
func allowLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// handleLogStream upgrades to a websocket and pushes every new entry as a
// log-entry event. With ?replay=true the current snapshot is sent first.
// A slow client misses entries instead of stalling the sink.
func (s *Server) handleLogStream(c *gin.Context) {
	logging.SkipGinRequestLogging(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Debug("log stream upgrade failed")
		return
	}

	entries, cancel := s.ctrl.SubscribeLogs(streamBuffer)
	defer cancel()

	closed := make(chan struct{})
	go readUntilClose(conn, closed)

	replay, _ := strconv.ParseBool(c.Query("replay"))
	if replay {
		for _, e := range s.ctrl.Logs() {
			if err := writeEntry(conn, e); err != nil {
				_ = conn.Close()
				return
			}
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-closed:
			return
		case <-s.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			if err := writeEntry(conn, e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEntry(conn *websocket.Conn, e logging.Entry) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(StreamMessage{Event: LogEntryEvent, Payload: e})
}

// readUntilClose discards client frames and closes done when the peer goes away.
func readUntilClose(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.WithError(err).Debug("log stream read error")
			}
			return
		}
	}
}
