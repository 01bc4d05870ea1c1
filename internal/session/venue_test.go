package session

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// venueRequest is one frame received by the mock venue.
type venueRequest struct {
	conn int
	kind string
	body map[string]any
	raw  string
}

// venueConn is one server side connection.
type venueConn struct {
	n  int
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *venueConn) send(frame string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

// venue is a scripted mock of the trading venue.
type venue struct {
	t        *testing.T
	server   *httptest.Server
	requests chan venueRequest
	handle   func(c *venueConn, req venueRequest)

	mu    sync.Mutex
	conns []*venueConn
}

// newVenue starts a mock venue. handle may be nil, in which case authorize
// is accepted and everything else is ignored.
func newVenue(t *testing.T, handle func(c *venueConn, req venueRequest)) *venue {
	t.Helper()

	if handle == nil {
		handle = acceptAuthorize
	}
	v := &venue{
		t:        t,
		requests: make(chan venueRequest, 256),
		handle:   handle,
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	v.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer ws.Close()

		v.mu.Lock()
		c := &venueConn{n: len(v.conns) + 1, ws: ws}
		v.conns = append(v.conns, c)
		v.mu.Unlock()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var body map[string]any
			if err := json.Unmarshal(data, &body); err != nil {
				t.Errorf("venue got invalid JSON: %s", data)
				continue
			}
			req := venueRequest{conn: c.n, kind: requestKind(body), body: body, raw: string(data)}
			v.requests <- req
			v.handle(c, req)
		}
	}))
	t.Cleanup(v.server.Close)

	return v
}

func (v *venue) url() string {
	return "ws" + strings.TrimPrefix(v.server.URL, "http")
}

// dropAll kills every connection without a close frame.
func (v *venue) dropAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, c := range v.conns {
		c.ws.UnderlyingConn().Close()
	}
}

func (v *venue) connCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.conns)
}

// expect waits for the next request of the given kind, skipping others.
func (v *venue) expect(kind string) venueRequest {
	v.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case req := <-v.requests:
			if req.kind == kind {
				return req
			}
		case <-timeout:
			v.t.Fatalf("timeout waiting for %s request", kind)
			return venueRequest{}
		}
	}
}

func requestKind(body map[string]any) string {
	for _, k := range []string{"authorize", "ticks", "balance", "proposal_open_contract", "proposal", "buy", "forget", "ping"} {
		if _, ok := body[k]; ok {
			return k
		}
	}
	return ""
}

// reqID returns the req_id the client sent, or 0.
func (r venueRequest) reqID() int64 {
	id, _ := r.body["req_id"].(float64)
	return int64(id)
}

func acceptAuthorize(c *venueConn, req venueRequest) {
	if req.kind == "authorize" {
		c.send(fmt.Sprintf(`{"msg_type":"authorize","req_id":%d,"echo_req":{"authorize":"<hidden>"},"authorize":{"loginid":"CR123","currency":"USD","balance":10000,"is_virtual":1}}`, req.reqID()))
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSessionConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.Client.URL = url
	cfg.Client.BufferSize = 100
	cfg.AuthTimeout = 2 * time.Second
	cfg.RequestTimeout = 2 * time.Second
	cfg.EventBuffer = 16
	cfg.Reconnect = ReconnectConfig{
		InitialDelay: 10 * time.Millisecond,
		BackoffStep:  10 * time.Millisecond,
		MaxAttempts:  3,
	}
	return cfg
}
