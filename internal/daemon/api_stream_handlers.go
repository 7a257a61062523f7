package daemon

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"relay/internal/logging"
	"relay/internal/types"
)

const streamWriteWait = 10 * time.Second

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients are local tools and mobile apps, not browsers; the API key
	// check already ran before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamRun upgrades the connection and relays hub frames over a websocket.
// Subscribing happens before the upgrade so bad input still gets a JSON
// error response.
func (a *API) streamRun(w http.ResponseWriter, r *http.Request, runID string) {
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ServiceErrorInvalidInput, "since must be a non-negative integer")
		return
	}
	frames, cancel, err := a.Hub.Subscribe(r.Context(), runID, since)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		if a.Logger != nil {
			a.Logger.Warn("stream_upgrade_failed",
				logging.F("run_id", runID),
				logging.F("error", err),
			)
		}
		return
	}

	go a.streamReadLoop(conn, cancel)
	a.streamWriteLoop(conn, runID, frames)
	cancel()
	_ = conn.Close()
}

func (a *API) streamWriteLoop(conn *websocket.Conn, runID string, frames <-chan types.StreamFrame) {
	for frame := range frames {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(frame); err != nil {
			if a.Logger != nil {
				a.Logger.Debug("stream_write_failed",
					logging.F("run_id", runID),
					logging.F("error", err),
				)
			}
			return
		}
	}
	// Hub closed the channel: the subscriber was dropped or the run's
	// stream shut down.
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
}

// streamReadLoop drains client messages so close frames are processed; any
// read error tears the subscription down.
func (a *API) streamReadLoop(conn *websocket.Conn, cancel func()) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
