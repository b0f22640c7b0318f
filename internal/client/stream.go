package client

import (
	"context"
	"encoding/json"

	"codeberg.org/mutker/telemetryd/internal/broadcast"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"github.com/gorilla/websocket"
)

// wireFrame defers decoding of data until the event name is known.
type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Stream reads frames from the daemon's WebSocket endpoint. Telemetry
// events go to the consumer queue; everything else goes straight to the
// renderer.
type Stream struct {
	url      string
	dialer   *websocket.Dialer
	consumer *Consumer
	renderer Renderer
	log      logger.Logger
}

func NewStream(url string, consumer *Consumer, renderer Renderer, log logger.Logger) *Stream {
	if log == nil {
		log = logger.Nop()
	}
	return &Stream{
		url:      url,
		dialer:   websocket.DefaultDialer,
		consumer: consumer,
		renderer: renderer,
		log:      log,
	}
}

// Run dials and reads until ctx is done or the connection fails.
func (s *Stream) Run(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return errors.New().Wrap(errors.ErrUnavailable, err).WithMessage("failed to connect to " + s.url)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.log.Info().Str("url", s.url).Msg("Connected to telemetry stream")

	for {
		var frame wireFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.New().Wrap(errors.ErrReadFailed, err)
		}
		s.dispatch(frame)
	}
}

func (s *Stream) dispatch(frame wireFrame) {
	if frame.Event != broadcast.EventTelemetryData {
		if s.renderer != nil {
			s.renderer.RenderStatus(frame.Event, frame.Data)
		}
		return
	}

	var ev telemetry.Event
	if err := json.Unmarshal(frame.Data, &ev); err != nil {
		s.log.Warn().Err(err).Msg("Discarding undecodable telemetry frame")
		return
	}
	s.consumer.Arrive(ev)
}
