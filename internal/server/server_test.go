package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/telemetryd/internal/broadcast"
	"codeberg.org/mutker/telemetryd/internal/pipeline"
	"codeberg.org/mutker/telemetryd/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setup(t *testing.T) (*pipeline.Pipeline, *httptest.Server) {
	t.Helper()

	p, err := pipeline.Open(pipeline.Config{UDPAddress: "127.0.0.1:0", StatusInterval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	srv, err := server.NewServer(p)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		cancel()
		<-done
		ts.Close()
	})
	return p, ts
}

func post(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestControlRoutes(t *testing.T) {
	_, ts := setup(t)

	code, body := post(t, ts.URL+"/api/simulator/start")
	assert.Equal(t, http.StatusOK, code)
	status := body["status"].(map[string]any)
	assert.Equal(t, true, status["isRunning"])

	code, body = post(t, ts.URL+"/api/simulator/pause")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["status"].(map[string]any)["isPaused"])

	code, body = post(t, ts.URL+"/api/simulator/resume")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["status"].(map[string]any)["isRunning"])

	code, body = post(t, ts.URL+"/api/simulator/stop")
	assert.Equal(t, http.StatusOK, code)
	status = body["status"].(map[string]any)
	assert.Equal(t, false, status["isRunning"])
	assert.Equal(t, false, status["isPaused"])
}

func TestStressModeRoute(t *testing.T) {
	_, ts := setup(t)

	code, body := post(t, ts.URL+"/api/simulator/stress/high_frequency")
	assert.Equal(t, http.StatusOK, code)
	status := body["status"].(map[string]any)
	assert.Equal(t, "high_frequency", status["mode"])
	assert.Equal(t, map[string]any{"interval": 100.0, "jitter": 20.0}, status["profile"])

	code, body = post(t, ts.URL+"/api/simulator/stress/nope")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_profile", body["code"])
	assert.ElementsMatch(t,
		[]any{"normal", "high_frequency", "burst", "variable", "kafka_simulation"},
		body["validModes"])
	assert.Equal(t, "high_frequency", body["status"].(map[string]any)["mode"])
}

func TestQueryRoutes(t *testing.T) {
	p, ts := setup(t)

	for _, path := range []string{"/health", "/api/metrics", "/api/udp/connections", "/api/simulator/status"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err, path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/api/udp/connections")
	require.NoError(t, err)
	defer resp.Body.Close()

	var conns struct {
		Connections []map[string]any `json:"connections"`
		Port        float64          `json:"port"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conns))
	require.Len(t, conns.Connections, 1)
	assert.Equal(t, "listening", conns.Connections[0]["status"])
	assert.Equal(t, float64(p.LocalAddr().Port()), conns.Port)
}

func TestPrometheusExposition(t *testing.T) {
	_, ts := setup(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "telemetryd_messages_received_total 0")
	assert.Contains(t, text, "telemetryd_subscribers 0")
	assert.Contains(t, text, `telemetryd_generator_running{mode="normal"} 0`)
}

func TestStreamDeliversSnapshotAndTracksSubscribers(t *testing.T) {
	p, ts := setup(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var events []string
	for i := 0; i < 3; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&frame))
		events = append(events, frame.Event)
	}
	assert.Equal(t, []string{
		broadcast.EventPerformanceMetrics,
		broadcast.EventUDPConnections,
		broadcast.EventSimulatorStatus,
	}, events)
	assert.Equal(t, int64(1), p.Metrics().ConnectionsCount)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return p.Metrics().ConnectionsCount == 0
	}, 2*time.Second, 10*time.Millisecond)
}
