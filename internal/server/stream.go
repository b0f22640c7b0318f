package server

import (
	"time"

	"codeberg.org/mutker/telemetryd/internal/broadcast"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// handleStream upgrades to a WebSocket and relays broadcast frames until
// either side goes away. The subscription is removed before returning.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.ctrl.Subscribe()
	defer s.ctrl.Unsubscribe(sub)

	log := s.log.With("stream")
	log.Info().Str("subscriber", sub.ID().String()).Str("remote", c.Request.RemoteAddr).Msg("Subscriber connected")

	closed := make(chan struct{})
	go s.readLoop(conn, closed)

	if err := s.writeLoop(conn, sub, closed); err != nil {
		log.Debug().Err(err).Str("subscriber", sub.ID().String()).Msg("Stream write ended")
	}

	log.Info().
		Str("subscriber", sub.ID().String()).
		Uint64("dropped", sub.Dropped()).
		Msg("Subscriber disconnected")
}

// readLoop discards inbound messages and exists to notice pongs and
// close frames. It closes closed when the connection fails.
func (s *Server) readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	pongWait := 2 * s.config.PingInterval
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, sub *broadcast.Subscription, closed <-chan struct{}) error {
	ping := time.NewTicker(s.config.PingInterval)
	defer ping.Stop()

	for {
		select {
		case frame := <-sub.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				return err
			}
		case <-ping.C:
			deadline := time.Now().Add(s.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return err
			}
		case <-sub.Done():
			deadline := time.Now().Add(s.config.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			return conn.WriteControl(websocket.CloseMessage, msg, deadline)
		case <-closed:
			return nil
		}
	}
}
