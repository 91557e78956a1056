package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramic/engramic/pkg/plugin"
)

const testSecret = "test-shared-secret"

func testServer(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := &Service{secret: testSecret, relay: &Relay{}}

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		svc.handleWS(c.Writer, c.Request)
	})
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return svc, ts
}

func signToken(t *testing.T, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "dashboard",
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func dial(t *testing.T, ts *httptest.Server, query string) (*websocket.Conn, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + ts.URL[len("http"):] + "/ws" + query
	conn, resp, err := websocket.Dial(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	return conn, err
}

func readClose(t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	return websocket.CloseStatus(err)
}

func TestMissingTokenClosedWith4001(t *testing.T) {
	_, ts := testServer(t)

	conn, err := dial(t, ts, "")
	require.NoError(t, err)
	assert.Equal(t, CloseMissingToken, readClose(t, conn))
}

func TestInvalidTokenClosedWith4002(t *testing.T) {
	_, ts := testServer(t)

	conn, err := dial(t, ts, "?access_token="+signToken(t, "wrong-secret"))
	require.NoError(t, err)
	assert.Equal(t, CloseInvalidToken, readClose(t, conn))
}

func TestValidTokenReceivesRelayedPackets(t *testing.T) {
	svc, ts := testServer(t)

	conn, err := dial(t, ts, "?access_token="+signToken(t, testSecret))
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The relay attaches asynchronously once the handler runs.
	require.Eventually(t, func() bool {
		svc.relay.mu.Lock()
		defer svc.relay.mu.Unlock()
		return svc.relay.conn != nil
	}, 2*time.Second, 10*time.Millisecond)

	svc.relay.Send(plugin.StreamPacket{Text: "The", IsTerminal: false})
	svc.relay.Send(plugin.StreamPacket{Text: ".", IsTerminal: true, Marker: "End"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	kind, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, kind)
	var first plugin.StreamPacket
	require.NoError(t, json.Unmarshal(data, &first))
	assert.Equal(t, "The", first.Text)
	assert.False(t, first.IsTerminal)

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	var last plugin.StreamPacket
	require.NoError(t, json.Unmarshal(data, &last))
	assert.True(t, last.IsTerminal)
	assert.Equal(t, "End", last.Marker)
}

func TestSendWithoutConnectionIsDropped(t *testing.T) {
	relay := &Relay{}
	// Must not block or panic.
	relay.Send(plugin.StreamPacket{Text: "nobody listening"})
}

func TestValidateToken(t *testing.T) {
	svc := &Service{secret: testSecret}
	assert.NoError(t, svc.validateToken(signToken(t, testSecret)))
	assert.Error(t, svc.validateToken(signToken(t, "other")))
	assert.Error(t, svc.validateToken("garbage"))
}
