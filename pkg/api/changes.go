package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	changesWriteWait  = 10 * time.Second
	changesPingPeriod = 30 * time.Second
)

var changesUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleRunChanges streams created and updated runs as JSON messages.
// ?test_id= narrows the feed to one test.
func (s *server) handleRunChanges(w http.ResponseWriter, r *http.Request) {
	testID := r.URL.Query().Get("test_id")

	conn, err := changesUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("Changes upgrade failed")

		return
	}
	defer conn.Close()

	runs, cancel := s.docs.Subscribe(testID)
	defer cancel()

	// Reads only detect the peer going away.
	gone := make(chan struct{})

	go func() {
		defer close(gone)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(changesPingPeriod)
	defer ping.Stop()

	log := s.log.WithField("test_id", testID)
	log.Debug("Changes subscriber connected")

	for {
		select {
		case run, ok := <-runs:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(changesWriteWait))

				return
			}

			_ = conn.SetWriteDeadline(time.Now().Add(changesWriteWait))

			if err := conn.WriteJSON(toRunResponse(run)); err != nil {
				log.WithError(err).Debug("Changes subscriber write failed")

				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(changesWriteWait)); err != nil {
				return
			}
		case <-gone:
			log.Debug("Changes subscriber disconnected")

			return
		case <-s.done:
			return
		}
	}
}
