package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"hostwatch/internal/logger"
	"hostwatch/internal/metrics"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Stream pushes the latest sample to websocket clients whenever the store
// version changes.
type Stream struct {
	store        StateReader
	upgrader     websocket.Upgrader
	pollInterval time.Duration
}

// NewStream creates a stream handler polling store every pollInterval.
func NewStream(store StateReader, pollInterval time.Duration) *Stream {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &Stream{
		store:        store,
		pollInterval: pollInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // auth is enforced by middleware
			},
		},
	}
}

// ServeHTTP handles GET /api/stream.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	log := logger.WithComponent("stream").With().Str("remote_addr", r.RemoteAddr).Logger()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()
	log.Info().Msg("stream client connected")
	defer log.Info().Msg("stream client disconnected")

	// Reader: handles pongs and notices when the client goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var sent uint64
	send := func() bool {
		version := s.store.Version()
		if version == sent {
			return true
		}
		latest, ok := s.store.Latest()
		if !ok {
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(latest); err != nil {
			log.Debug().Err(err).Msg("stream write failed")
			return false
		}
		sent = version
		return true
	}

	if !send() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-poll.C:
			if !send() {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
