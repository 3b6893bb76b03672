package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// ---------- helpers ----------

// msgFrame tags binary frames once decoded; they carry no type on the wire
const msgFrame = "frame"

type testServer struct {
	srv       *httptest.Server
	wsURL     string
	hub       *Hub
	arenas    *ArenaManager
	analytics *Analytics
	stopOnce  sync.Once
}

// flushAnalytics stops the analytics writer so everything tracked so far is in the DB
func (ts *testServer) flushAnalytics() {
	ts.stopOnce.Do(ts.analytics.Stop)
}

// startTestServer spins up an httptest.Server with the full stack wired the
// way main does it. An empty password leaves every client a controller.
func startTestServer(t *testing.T, password string) *testServer {
	t.Helper()

	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte("<html>test</html>"), 0o644)

	db := openTestDB(t)
	analytics := NewAnalytics(db)
	arenas := NewArenaManager(SimConfig{Width: 400, Height: 300, Capacity: 1, Interval: 5 * time.Millisecond, Seed: 1}, analytics)
	auth := NewAuth(db, password)
	hub := NewHub(arenas, auth, analytics)
	go hub.Run()

	srv := httptest.NewServer(SetupRoutes(hub, tmpDir))
	ts := &testServer{
		srv:       srv,
		wsURL:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		hub:       hub,
		arenas:    arenas,
		analytics: analytics,
	}
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
		arenas.StopAll()
		ts.flushAnalytics()
	})
	return ts
}

// dialWS opens a WebSocket connection with optional query parameters
func dialWS(t *testing.T, wsURL string, query url.Values) *websocket.Conn {
	t.Helper()
	if len(query) > 0 {
		wsURL += "?" + query.Encode()
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEnvelope reads one message. Binary messages are msgpack frames and
// come back as a msgFrame envelope carrying a Frame.
func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read WS: %v", err)
	}
	if msgType == websocket.BinaryMessage {
		var f Frame
		if err := msgpack.Unmarshal(raw, &f); err != nil {
			t.Fatalf("msgpack unmarshal: %v", err)
		}
		return Envelope{T: msgFrame, Data: f}
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

// readUntil skips messages until one of type want arrives
func readUntil(t *testing.T, conn *websocket.Conn, want string) Envelope {
	t.Helper()
	for i := 0; i < 500; i++ {
		env := readEnvelope(t, conn)
		if env.T == want {
			return env
		}
	}
	t.Fatalf("no %s message received", want)
	return Envelope{}
}

// readFrameWhere reads frames until match accepts one
func readFrameWhere(t *testing.T, conn *websocket.Conn, match func(Frame) bool) Frame {
	t.Helper()
	for i := 0; i < 500; i++ {
		env := readEnvelope(t, conn)
		if env.T != msgFrame {
			continue
		}
		if f := env.Data.(Frame); match(f) {
			return f
		}
	}
	t.Fatal("no matching frame received")
	return Frame{}
}

func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	raw, _ := json.Marshal(Envelope{T: msgType, Data: data})
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write WS: %v", err)
	}
}

// dataMap extracts the Data field as map[string]interface{}
func dataMap(t *testing.T, env Envelope) map[string]interface{} {
	t.Helper()
	raw, _ := json.Marshal(env.Data)
	var m map[string]interface{}
	json.Unmarshal(raw, &m)
	return m
}

func fetchToken(t *testing.T, ts *testServer, password string) (string, int) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"password": password})
	resp, err := http.Post(ts.srv.URL+"/api/token", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]string
	json.NewDecoder(resp.Body).Decode(&out)
	return out["token"], resp.StatusCode
}

// ---------- connection & welcome ----------

func TestWelcomeOnConnect(t *testing.T) {
	ts := startTestServer(t, "")
	conn := dialWS(t, ts.wsURL, nil)

	welcome := readEnvelope(t, conn)
	if welcome.T != MsgWelcome {
		t.Fatalf("expected welcome first, got %s", welcome.T)
	}
	d := dataMap(t, welcome)
	if d["aid"] != DefaultArenaID {
		t.Errorf("expected default arena, got %v", d["aid"])
	}
	if d["w"] != float64(400) || d["h"] != float64(300) {
		t.Errorf("expected 400x300, got %vx%v", d["w"], d["h"])
	}
	if d["ctrl"] != true {
		t.Error("open server should make every client a controller")
	}
}

func TestUnknownArenaFallsBackToDefault(t *testing.T) {
	ts := startTestServer(t, "")
	conn := dialWS(t, ts.wsURL, url.Values{"arena": {"nope"}})

	welcome := readUntil(t, conn, MsgWelcome)
	if dataMap(t, welcome)["aid"] != DefaultArenaID {
		t.Error("unknown arena should fall back to the default arena")
	}
}

// ---------- generate & frames ----------

func TestGenerateStreamsFrames(t *testing.T) {
	ts := startTestServer(t, "")
	conn := dialWS(t, ts.wsURL, nil)
	readUntil(t, conn, MsgWelcome)

	req := DefaultGenerateRequest(400, 300)
	req.Count = 40
	sendMsg(t, conn, MsgGenerate, req)

	gen := readUntil(t, conn, MsgGenerated)
	d := dataMap(t, gen)
	if d["count"] != float64(40) {
		t.Errorf("expected count 40, got %v", d["count"])
	}
	run, _ := d["run"].(string)
	if len(run) != 36 {
		t.Errorf("expected a uuid run id, got %q", run)
	}

	f := readFrameWhere(t, conn, func(f Frame) bool { return len(f.Bodies) == 40 && f.Stats.Indexed == 40 })
	if f.ArenaID != DefaultArenaID {
		t.Errorf("frame for wrong arena %q", f.ArenaID)
	}
	if len(f.Nodes) < 5 {
		t.Errorf("40 bodies at capacity 1 should subdivide, got %d nodes", len(f.Nodes))
	}
	if f.Nodes[0] != (Rect{X: 0, Y: 0, W: 400, H: 300}) {
		t.Errorf("first node should be the arena, got %+v", f.Nodes[0])
	}
	for _, b := range f.Bodies {
		if b.X-b.R < -0.1 || b.X+b.R > 400.1 || b.Y-b.R < -0.1 || b.Y+b.R > 300.1 {
			t.Errorf("body %d outside arena: %+v", b.ID, b)
		}
	}
}

func TestGenerateInvalidRequest(t *testing.T) {
	ts := startTestServer(t, "")
	conn := dialWS(t, ts.wsURL, nil)
	readUntil(t, conn, MsgWelcome)

	req := DefaultGenerateRequest(400, 300)
	req.Count = 0
	sendMsg(t, conn, MsgGenerate, req)

	env := readUntil(t, conn, MsgError)
	if msg, _ := dataMap(t, env)["msg"].(string); !strings.Contains(msg, "count") {
		t.Errorf("expected count error, got %q", msg)
	}
	if ts.arenas.Default().Sim.BodyCount() != 0 {
		t.Error("rejected request should not create bodies")
	}
}

func TestResize(t *testing.T) {
	ts := startTestServer(t, "")
	conn := dialWS(t, ts.wsURL, nil)
	readUntil(t, conn, MsgWelcome)

	sendMsg(t, conn, MsgResize, ResizeMsg{W: 640, H: 480})
	resized := readUntil(t, conn, MsgResized)
	if d := dataMap(t, resized); d["w"] != float64(640) || d["h"] != float64(480) {
		t.Errorf("unexpected resize ack %v", d)
	}

	readFrameWhere(t, conn, func(f Frame) bool {
		return f.W == 640 && f.H == 480 && len(f.Nodes) > 0 && f.Nodes[0].W == 640
	})

	sendMsg(t, conn, MsgResize, ResizeMsg{W: 5, H: 480})
	readUntil(t, conn, MsgError)
}

// ---------- arenas ----------

func TestCreateListJoin(t *testing.T) {
	ts := startTestServer(t, "")
	conn := dialWS(t, ts.wsURL, nil)
	readUntil(t, conn, MsgWelcome)

	sendMsg(t, conn, MsgCreate, CreateMsg{Name: "Lab"})
	aid, _ := dataMap(t, readUntil(t, conn, MsgCreated))["aid"].(string)
	if aid == "" {
		t.Fatal("expected arena id")
	}

	sendMsg(t, conn, MsgList, nil)
	list := readUntil(t, conn, MsgArenas)
	raw, _ := json.Marshal(list.Data)
	var infos []ArenaInfo
	json.Unmarshal(raw, &infos)
	if len(infos) != 2 {
		t.Fatalf("expected 2 arenas, got %d", len(infos))
	}

	sendMsg(t, conn, MsgJoin, JoinMsg{ArenaID: aid})
	readUntil(t, conn, MsgJoined)
	welcome := readUntil(t, conn, MsgWelcome)
	if dataMap(t, welcome)["aid"] != aid {
		t.Error("welcome after join should name the new arena")
	}

	readFrameWhere(t, conn, func(f Frame) bool { return f.ArenaID == aid })
	if ts.arenas.Default().Viewers() != 0 {
		t.Error("client should have left the default arena")
	}
	if ts.arenas.Get(aid).Viewers() != 1 {
		t.Error("client should be watching the new arena")
	}
}

func TestJoinUnknownArena(t *testing.T) {
	ts := startTestServer(t, "")
	conn := dialWS(t, ts.wsURL, nil)
	readUntil(t, conn, MsgWelcome)

	sendMsg(t, conn, MsgJoin, JoinMsg{ArenaID: "missing"})
	env := readUntil(t, conn, MsgError)
	if dataMap(t, env)["msg"] != "arena not found" {
		t.Errorf("unexpected error %v", dataMap(t, env))
	}
}

// ---------- authorization ----------

func TestViewerCannotControl(t *testing.T) {
	ts := startTestServer(t, "secret")
	conn := dialWS(t, ts.wsURL, nil)

	welcome := readUntil(t, conn, MsgWelcome)
	if dataMap(t, welcome)["ctrl"] == true {
		t.Fatal("client without token should not be a controller")
	}

	for _, msg := range []string{MsgGenerate, MsgResize, MsgCreate} {
		sendMsg(t, conn, msg, map[string]int{"count": 3, "w": 500, "h": 500})
		env := readUntil(t, conn, MsgError)
		if dataMap(t, env)["msg"] != "not a controller" {
			t.Errorf("%s: expected rejection, got %v", msg, dataMap(t, env))
		}
	}

	// Viewers may still list and watch
	sendMsg(t, conn, MsgList, nil)
	readUntil(t, conn, MsgArenas)
}

func TestControllerToken(t *testing.T) {
	ts := startTestServer(t, "secret")

	if _, status := fetchToken(t, ts, "wrong"); status != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", status)
	}
	token, status := fetchToken(t, ts, "secret")
	if status != http.StatusOK || token == "" {
		t.Fatalf("expected token, got %d %q", status, token)
	}

	conn := dialWS(t, ts.wsURL, url.Values{"token": {token}})
	welcome := readUntil(t, conn, MsgWelcome)
	if dataMap(t, welcome)["ctrl"] != true {
		t.Fatal("token holder should be a controller")
	}

	req := DefaultGenerateRequest(400, 300)
	req.Count = 5
	sendMsg(t, conn, MsgGenerate, req)
	readUntil(t, conn, MsgGenerated)
}

func TestTokenEndpointMethod(t *testing.T) {
	ts := startTestServer(t, "")
	resp, err := http.Get(ts.srv.URL + "/api/token")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

// ---------- HTTP API ----------

func TestRunsEndpoint(t *testing.T) {
	ts := startTestServer(t, "")

	req := DefaultGenerateRequest(400, 300)
	req.Count = 7
	runID, err := ts.arenas.Default().Sim.Generate(req)
	if err != nil {
		t.Fatal(err)
	}
	ts.flushAnalytics()

	resp, err := http.Get(ts.srv.URL + "/api/runs?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var runs []RunRow
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != runID || runs[0].ArenaID != DefaultArenaID {
		t.Fatalf("unexpected runs %+v", runs)
	}
	var params GenerateRequest
	json.Unmarshal([]byte(runs[0].Params), &params)
	if params.Count != 7 {
		t.Errorf("expected stored params with count 7, got %+v", params)
	}
}

func TestArenasAndStatsEndpoints(t *testing.T) {
	ts := startTestServer(t, "")

	resp, err := http.Get(ts.srv.URL + "/api/arenas")
	if err != nil {
		t.Fatal(err)
	}
	var infos []ArenaInfo
	json.NewDecoder(resp.Body).Decode(&infos)
	resp.Body.Close()
	if len(infos) != 1 || infos[0].ID != DefaultArenaID {
		t.Errorf("unexpected arenas %+v", infos)
	}

	resp, err = http.Get(ts.srv.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var stats map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&stats)
	if stats["arenas"] != float64(1) {
		t.Errorf("expected 1 arena in stats, got %v", stats["arenas"])
	}
	ticks, _ := stats["ticks"].(map[string]interface{})
	if _, ok := ticks[DefaultArenaID]; !ok {
		t.Errorf("expected tick stats for the default arena, got %v", stats["ticks"])
	}
}

func TestQRCode(t *testing.T) {
	ts := startTestServer(t, "")

	resp, err := http.Get(ts.srv.URL + "/qr.png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")) {
		t.Error("body is not a PNG")
	}

	resp2, err := http.Get(ts.srv.URL + "/qr.png?arena=missing")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown arena, got %d", resp2.StatusCode)
	}
}

func TestCacheControlHeader(t *testing.T) {
	ts := startTestServer(t, "")

	resp, err := http.Get(ts.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected Cache-Control: no-cache, got %q", cc)
	}
}

// ---------- disconnect ----------

func TestDisconnectDetaches(t *testing.T) {
	ts := startTestServer(t, "")
	conn := dialWS(t, ts.wsURL, nil)
	readUntil(t, conn, MsgWelcome)

	deadline := time.Now().Add(2 * time.Second)
	for ts.arenas.Default().Viewers() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	conn.Close()

	for time.Now().Before(deadline) {
		if ts.arenas.Default().Viewers() == 0 && ts.hub.ClientCount() == 0 && ts.hub.TotalConns() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("client not cleaned up: viewers=%d clients=%d conns=%d",
		ts.arenas.Default().Viewers(), ts.hub.ClientCount(), ts.hub.TotalConns())
}

// ---------- util ----------

func TestGenerateIDLength(t *testing.T) {
	if id := GenerateID(4); len(id) != 8 {
		t.Errorf("expected 8 chars, got %d: %s", len(id), id)
	}
	if id := GenerateID(8); len(id) != 16 {
		t.Errorf("expected 16 chars, got %d: %s", len(id), id)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		v, min, max, want int
	}{
		{5, 0, 10, 5},
		{-1, 0, 10, 0},
		{15, 0, 10, 10},
		{0, 0, 10, 0},
		{10, 0, 10, 10},
	}
	for _, tt := range tests {
		if got := Clamp(tt.v, tt.min, tt.max); got != tt.want {
			t.Errorf("Clamp(%d, %d, %d) = %d, want %d", tt.v, tt.min, tt.max, got, tt.want)
		}
	}
}
