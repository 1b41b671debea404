package desktopctl

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dock108/aicli-companion/internal/logging"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const logEntryEvent = "log-entry"

// StreamLogs follows the host's log stream and calls handler for each entry
// until ctx is done or the connection drops. With replay the current buffer
// is delivered first.
func (c *Client) StreamLogs(ctx context.Context, replay bool, handler func(logging.Entry)) error {
	wsURL, err := c.streamURL(replay)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to log stream: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("log stream: %w", err)
		}

		entry, ok := decodeStreamMessage(message)
		if !ok {
			log.Debugf("ignoring log stream frame: %s", message)
			continue
		}
		handler(entry)
	}
}

func decodeStreamMessage(message []byte) (logging.Entry, bool) {
	if gjson.GetBytes(message, "event").String() != logEntryEvent {
		return logging.Entry{}, false
	}
	payload := gjson.GetBytes(message, "payload")
	if !payload.IsObject() {
		return logging.Entry{}, false
	}
	var entry logging.Entry
	if err := json.Unmarshal([]byte(payload.Raw), &entry); err != nil {
		return logging.Entry{}, false
	}
	return entry, true
}
