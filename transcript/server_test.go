package transcript

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/erkyrath/remote-if-demo/glkote"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return logger.Sugar()
}

func newHTTPServer(t *testing.T) (*Server, *httptest.Server) {
	s := NewServer(WithLogger(testLogger(t)))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func record(t *testing.T, ts *httptest.Server, body string) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/record", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecordAndList(t *testing.T) {
	_, ts := newHTTPServer(t)

	record(t, ts, `{"sessionId":"200","label":"Second","timestamp":2000,"output":{"generation":1}}`)
	record(t, ts, `{"sessionId":"100","label":"First","timestamp":1000,"output":{"generation":1}}`)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var games []struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&games))
	require.Len(t, games, 2)
	assert.Equal(t, "First", games[0].Label)
	assert.Equal(t, "Second", games[1].Label)
}

func TestRecordMalformed(t *testing.T) {
	s, ts := newHTTPServer(t)

	resp, err := http.Post(ts.URL+"/record", "application/json", strings.NewReader(`{"label":"x"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, s.Store().Games())
}

func TestRepeat(t *testing.T) {
	_, ts := newHTTPServer(t)
	record(t, ts, `{"sessionId":"55","label":"g","timestamp":1,"output":{"generation":1}}`)

	resp, err := http.Get(ts.URL + "/repeat/55")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/repeat/99")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestViewerSocket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, ts := newHTTPServer(t)
	record(t, ts, `{"sessionId":"7","label":"g","timestamp":1,"output":{
		"generation": 1,
		"windows": [{"id": 2, "type": "buffer"}],
		"content": [{"id": 2, "text": ["Welcome"]}]
	}}`)

	conn, _, err := websocket.Dial(ctx, ts.URL+"/websocket/7", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The late joiner is bootstrapped with a snapshot.
	var snap map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &snap))
	assert.Equal(t, "update", snap["type"])
	assert.Equal(t, float64(1), snap["generation"])
	require.Contains(t, snap, "windows")

	// Live updates follow, with the player's input stripped.
	record(t, ts, `{"sessionId":"7","label":"g","timestamp":1,"output":{
		"generation": 2,
		"content": [{"id": 2, "text": ["..."]}],
		"input": [{"id": 2, "gen": 2}]
	}}`)
	var view map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &view))
	assert.Equal(t, float64(2), view["generation"])
	assert.NotContains(t, view, "input")
	assert.Contains(t, view, "content")
}

func TestViewerSocketUnknownGame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, ts := newHTTPServer(t)
	_, _, err := websocket.Dial(ctx, ts.URL+"/websocket/404", nil) //nolint:bodyclose
	require.Error(t, err)
}

func TestViewerDisconnectReleasesSubscription(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, ts := newHTTPServer(t)
	record(t, ts, `{"sessionId":"7","label":"g","timestamp":1,"output":{"generation":1,"windows":[]}}`)

	conn, _, err := websocket.Dial(ctx, ts.URL+"/websocket/7", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	assert.Eventually(t, func() bool {
		s.Store().mu.Lock()
		defer s.Store().mu.Unlock()
		return len(s.Store().conns) == 0
	}, 5*time.Second, 10*time.Millisecond)

	// Dropping the viewer does not drop the game.
	assert.True(t, s.Store().Has("7"))
}

func TestRecordBanner(t *testing.T) {
	_, ts := newHTTPServer(t)
	resp, err := http.Get(ts.URL + "/record")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientRecord(t *testing.T) {
	ctx := context.Background()
	s, ts := newHTTPServer(t)

	client := NewClient(testLogger(t), ts.URL)
	u := parseUpdate(t, "31", `{"generation":1,"windows":[{"id":2,"type":"buffer"}]}`)
	require.NoError(t, client.Record(ctx, u))
	assert.True(t, s.Store().Has("31"))

	games := s.Store().Games()
	require.Len(t, games, 1)
	assert.Equal(t, "Test Game", games[0].Label)
}

func TestClientRecordRejected(t *testing.T) {
	ctx := context.Background()
	_, ts := newHTTPServer(t)

	client := NewClient(testLogger(t), ts.URL)
	// An envelope with no session id is rejected by the server and
	// surfaces as an error, not a retry loop.
	err := client.Record(ctx, &glkote.Update{Output: &glkote.Output{Gen: 1}})
	require.Error(t, err)
}
