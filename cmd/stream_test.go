package cmd

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonandersen/apca/pkg/tradeapi/stream"
)

// newFakeStream serves script on a websocket test server and returns its
// ws:// URL.
func newFakeStream(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()
		script(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// acceptClient plays connect and authentication and returns the
// subscribe frame the client sends next.
func acceptClient(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"success","msg":"connected"}]`)))

	var auth map[string]any
	require.NoError(t, conn.ReadJSON(&auth))
	assert.Equal(t, "auth", auth["action"])
	assert.Equal(t, "PKTEST", auth["key"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"success","msg":"authenticated"}]`)))

	var sub map[string]any
	require.NoError(t, conn.ReadJSON(&sub))
	return sub
}

func drainConn(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testStreamOptions(url string) *streamOptions {
	return &streamOptions{
		clientOptions: testClientOptions("http://127.0.0.1:1"),
		url:           url,
		streamOpts: []stream.Option{
			stream.WithJSON(),
			stream.WithReconnectBackoff(10*time.Millisecond, 50*time.Millisecond),
			stream.WithStopTimeout(2 * time.Second),
		},
	}
}

func TestStreamCmd_TradesAndQuotesByDefault(t *testing.T) {
	url := newFakeStream(t, func(conn *websocket.Conn) {
		sub := acceptClient(t, conn)
		assert.Equal(t, "subscribe", sub["action"])
		assert.Equal(t, []any{"AAPL"}, sub["trades"])
		assert.Equal(t, []any{"AAPL"}, sub["quotes"])

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[
			{"T":"subscription","trades":["AAPL"],"quotes":["AAPL"]},
			{"T":"t","S":"AAPL","p":185.25,"s":100,"x":"V","t":"2024-01-02T14:30:00Z"},
			{"T":"q","S":"AAPL","bp":185.2,"bs":3,"ap":185.3,"as":5,"t":"2024-01-02T14:30:01Z"}
		]`))
		drainConn(conn)
	})

	cmd := newStreamCmd(testStreamOptions(url))
	out, err := executeCmd(t, cmd, "aapl", "--count", "2")

	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "trade   AAPL 100 @ 185.25 V", lines[0])
	assert.Equal(t, "quote   AAPL bid 185.2 x 3  ask 185.3 x 5", lines[1])
}

func TestStreamCmd_JSONEvents(t *testing.T) {
	url := newFakeStream(t, func(conn *websocket.Conn) {
		sub := acceptClient(t, conn)
		assert.Equal(t, []any{"SPY"}, sub["bars"])
		assert.Nil(t, sub["trades"])

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[
			{"T":"b","S":"SPY","o":470,"h":471,"l":469.5,"c":470.5,"v":12000,"t":"2024-01-02T14:31:00Z"}
		]`))
		drainConn(conn)
	})

	opts := testStreamOptions(url)
	opts.jsonMode = true
	cmd := newStreamCmd(opts)
	out, err := executeCmd(t, cmd, "SPY", "--bars", "--count", "1")
	require.NoError(t, err)

	var event struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &event))
	assert.Equal(t, "bar", event.Type)
	assert.Equal(t, "SPY", event.Data["Symbol"])
	assert.Equal(t, 470.5, event.Data["Close"])
}

func TestStreamCmd_NewsDefaultsToAllSymbols(t *testing.T) {
	url := newFakeStream(t, func(conn *websocket.Conn) {
		sub := acceptClient(t, conn)
		assert.Equal(t, []any{"*"}, sub["news"])

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[
			{"T":"n","id":7,"headline":"Markets rally","symbols":["SPY","QQQ"],"created_at":"2024-01-02T12:00:00Z"}
		]`))
		drainConn(conn)
	})

	cmd := newStreamCmd(testStreamOptions(url))
	out, err := executeCmd(t, cmd, "--news", "--count", "1")

	require.NoError(t, err)
	assert.Equal(t, "news    [SPY,QQQ] Markets rally\n", out)
}

func TestStreamCmd_DurationStopsCleanly(t *testing.T) {
	url := newFakeStream(t, func(conn *websocket.Conn) {
		acceptClient(t, conn)
		drainConn(conn)
	})

	cmd := newStreamCmd(testStreamOptions(url))
	start := time.Now()
	_, err := executeCmd(t, cmd, "AAPL", "--trades", "--duration", "200ms")

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStreamCmd_AuthFailure(t *testing.T) {
	url := newFakeStream(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"success","msg":"connected"}]`))
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"error","code":402,"msg":"auth failed"}]`))
	})

	cmd := newStreamCmd(testStreamOptions(url))
	_, err := executeCmd(t, cmd, "AAPL")

	require.Error(t, err)
	var perr *stream.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 402, perr.Code)
	assert.Contains(t, err.Error(), "stream failed")
}

func TestStreamCmd_Validation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no symbols", []string{"--trades"}, "at least one symbol"},
		{"news with stock channel", []string{"AAPL", "--news", "--trades"}, "cannot be combined"},
		{"negative count", []string{"AAPL", "--count", "-1"}, "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newStreamCmd(testStreamOptions("ws://127.0.0.1:1"))
			_, err := executeCmd(t, cmd, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStreamCmd_RejectsOAuthCredentials(t *testing.T) {
	opts := testStreamOptions("ws://127.0.0.1:1")
	opts.creds.KeyID, opts.creds.SecretKey, opts.creds.OAuthToken = "", "", "token"
	cmd := newStreamCmd(opts)

	_, err := executeCmd(t, cmd, "AAPL")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create stream")
}

func TestStreamFlags_URL(t *testing.T) {
	assert.Equal(t, stream.StockURL("iex"), streamFlags{}.streamURL("iex"))
	assert.Equal(t, stream.StockURL("sip"), streamFlags{feed: "sip"}.streamURL("iex"))
	assert.Equal(t, stream.NewsURL, streamFlags{news: true}.streamURL("iex"))
	assert.Equal(t, stream.TestURL, streamFlags{test: true}.streamURL("iex"))
}

func TestServeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "apca_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	addr, shutdown, err := serveMetrics("127.0.0.1:0", reg, zap.NewNop())
	require.NoError(t, err)
	defer shutdown()

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "apca_test_total 1")
}
