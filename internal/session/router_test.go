package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/deriv-stream/internal/connection"
	"github.com/rickgao/deriv-stream/internal/protocol"
)

// fakeClient records sent frames and never touches the network.
type fakeClient struct {
	mu        sync.Mutex
	sent      []map[string]any
	messages  chan connection.TimestampedMessage
	lost      chan *connection.LostError
	connected atomic.Bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		messages: make(chan connection.TimestampedMessage, 16),
		lost:     make(chan *connection.LostError, 4),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.connected.Store(true)
	return nil
}

func (f *fakeClient) Close() error {
	f.connected.Store(false)
	return nil
}

func (f *fakeClient) Send(ctx context.Context, data []byte) error {
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, body)
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Messages() <-chan connection.TimestampedMessage { return f.messages }
func (f *fakeClient) Lost() <-chan *connection.LostError            { return f.lost }
func (f *fakeClient) IsConnected() bool                              { return f.connected.Load() }

func (f *fakeClient) sentFrames() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.sent...)
}

func newRouterSession(t *testing.T, buffer int) (*Session, *fakeClient) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EventBuffer = buffer
	client := newFakeClient()
	s := newSession(cfg, client, discardLogger())
	t.Cleanup(func() { s.Close() })
	return s, client
}

func frame(s string) connection.TimestampedMessage {
	return connection.TimestampedMessage{Data: []byte(s), ReceivedAt: time.Now()}
}

// armAuthorize sends an authorize through the fake client and returns the
// req_id it carried.
func armAuthorize(t *testing.T, s *Session, client *fakeClient, token string) int64 {
	t.Helper()
	if err := s.Authorize(context.Background(), token); err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	sent := client.sentFrames()
	last := sent[len(sent)-1]
	if last["authorize"] != token {
		t.Fatalf("last frame = %v, want authorize %s", last, token)
	}
	return int64(last["req_id"].(float64))
}

func TestRouter_MalformedFramesAreCounted(t *testing.T) {
	s, _ := newRouterSession(t, 4)

	s.router.route(frame(`{not json`))
	s.router.route(frame(`{"echo_req":{}}`))
	s.router.route(frame(`{"msg_type":"tick","tick":{"symbol":"R_100","quote":{"bad":1}}}`))

	stats := s.Stats()
	if stats.ProtocolAnomalies != 3 {
		t.Errorf("ProtocolAnomalies = %d, want 3", stats.ProtocolAnomalies)
	}
	if stats.FramesRouted != 3 {
		t.Errorf("FramesRouted = %d, want 3", stats.FramesRouted)
	}
}

func TestRouter_UnknownFramesAreCounted(t *testing.T) {
	s, _ := newRouterSession(t, 4)

	s.router.route(frame(`{"msg_type":"website_status","website_status":{}}`))

	if n := s.Stats().UnknownFrames; n != 1 {
		t.Errorf("UnknownFrames = %d, want 1", n)
	}
	if n := s.Stats().ProtocolAnomalies; n != 0 {
		t.Errorf("ProtocolAnomalies = %d, want 0", n)
	}
}

func TestRouter_AuthErrorCodesClearAuthentication(t *testing.T) {
	tests := []struct {
		code  string
		clear bool
	}{
		{"InvalidToken", true},
		{"AuthorizationRequired", true},
		{"DisabledClient", true},
		{"RateLimit", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			s, client := newRouterSession(t, 4)
			id := armAuthorize(t, s, client, "tok")
			s.router.route(frame(fmt.Sprintf(`{"msg_type":"authorize","req_id":%d,"authorize":{"loginid":"CR1","currency":"USD"}}`, id)))
			if !s.Snapshot().Authenticated {
				t.Fatal("expected Authenticated after authorize")
			}

			s.router.route(frame(`{"msg_type":"error","error":{"code":"` + tt.code + `","message":"x"}}`))

			if got := !s.Snapshot().Authenticated; got != tt.clear {
				t.Errorf("cleared = %v, want %v", got, tt.clear)
			}
		})
	}
}

func TestRouter_StaleAuthorizeReplyIsDropped(t *testing.T) {
	s, client := newRouterSession(t, 4)
	ctx := context.Background()

	first := armAuthorize(t, s, client, "slow-good")
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	err := s.WaitUntilAuthorized(waitCtx)
	cancel()
	if err == nil {
		t.Fatal("expected the first wait to give up")
	}

	second := armAuthorize(t, s, client, "bad")
	if second == first {
		t.Fatalf("both handshakes use req_id %d", first)
	}

	// The venue answers the abandoned handshake first.
	s.router.route(frame(fmt.Sprintf(`{"msg_type":"authorize","req_id":%d,"authorize":{"loginid":"CR1","currency":"USD"}}`, first)))
	if s.Snapshot().Authenticated {
		t.Fatal("stale success marked the session authenticated")
	}
	s.router.route(frame(fmt.Sprintf(`{"msg_type":"authorize","req_id":%d,"error":{"code":"InvalidToken","message":"The token is invalid."}}`, second)))

	err = s.WaitUntilAuthorized(ctx)
	var authErr *AuthorizationError
	if !errors.As(err, &authErr) || authErr.Code != "InvalidToken" {
		t.Errorf("WaitUntilAuthorized = %v, want InvalidToken", err)
	}
	if s.Snapshot().Authenticated {
		t.Error("rejected token reported as authenticated")
	}
}

func TestRouter_RejectionClearsEarlierAuthorization(t *testing.T) {
	s, client := newRouterSession(t, 4)

	id := armAuthorize(t, s, client, "good")
	s.router.route(frame(fmt.Sprintf(`{"msg_type":"authorize","req_id":%d,"authorize":{"loginid":"CR1","currency":"USD"}}`, id)))
	if !s.Snapshot().Authenticated {
		t.Fatal("expected Authenticated after authorize")
	}

	id = armAuthorize(t, s, client, "revoked")
	s.router.route(frame(fmt.Sprintf(`{"msg_type":"authorize","req_id":%d,"error":{"code":"InvalidToken","message":"x"}}`, id)))
	if s.Snapshot().Authenticated {
		t.Error("expected Authenticated cleared by rejection")
	}
}

func TestRouter_UndecodableReplyFailsItsRequest(t *testing.T) {
	s, _ := newRouterSession(t, 4)
	p := s.quotes.Allocate()

	s.router.route(frame(fmt.Sprintf(`{"msg_type":"proposal","req_id":%d,"proposal":{"id":"q1","ask_price":"n/a","payout":"2.00"}}`, p.ID)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := p.Wait(ctx)
	if !errors.Is(err, protocol.ErrMalformedFrame) {
		t.Errorf("Wait error = %v, want ErrMalformedFrame", err)
	}
	if n := s.Stats().ProtocolAnomalies; n != 1 {
		t.Errorf("ProtocolAnomalies = %d, want 1", n)
	}
	if n := s.Stats().PendingRequests; n != 0 {
		t.Errorf("PendingRequests = %d, want 0", n)
	}
}

func TestRouter_RejectedTickSubscription(t *testing.T) {
	tests := []struct {
		code    string
		tracked bool
	}{
		{"InvalidSymbol", false},
		{"MarketIsClosed", false},
		{"RateLimit", true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			s, _ := newRouterSession(t, 4)
			if err := s.SubscribeTicks(context.Background(), "R_XX"); err != nil {
				t.Fatalf("SubscribeTicks failed: %v", err)
			}

			s.router.route(frame(`{"msg_type":"tick","echo_req":{"ticks":"R_XX","subscribe":1},"error":{"code":"` + tt.code + `","message":"x"}}`))

			if got := len(s.Symbols()) == 1; got != tt.tracked {
				t.Errorf("tracked = %v, want %v (symbols %v)", got, tt.tracked, s.Symbols())
			}
		})
	}
}

func TestRouter_FinishedContractStreamIsForgotten(t *testing.T) {
	s, client := newRouterSession(t, 4)

	fin := `{"msg_type":"proposal_open_contract","passthrough":{"strategy":"s1","client_trade_id":"t1"},"subscription":{"id":"poc-1"},"proposal_open_contract":{"contract_id":11,"is_sold":1,"profit":"0.95","sell_time":1700000100}}`
	s.router.route(frame(fin))
	s.router.route(frame(fin))

	select {
	case out := <-s.Outcomes():
		if out.TradeID != "t1" || out.ContractID != 11 {
			t.Errorf("outcome = %+v", out)
		}
	default:
		t.Fatal("expected an outcome")
	}
	select {
	case out := <-s.Outcomes():
		t.Errorf("duplicate outcome %+v", out)
	default:
	}

	forgets := 0
	for _, f := range client.sentFrames() {
		if f["forget"] == "poc-1" {
			forgets++
		}
	}
	if forgets != 1 {
		t.Errorf("forget poc-1 sent %d times, want 1", forgets)
	}
}

func TestRecentIDs_EvictsOldest(t *testing.T) {
	r := newRecentIDs(3)

	for _, id := range []int64{1, 2, 3} {
		if !r.add(id) {
			t.Errorf("add(%d) = false, want true", id)
		}
	}
	if r.add(2) {
		t.Error("add(2) twice = true, want false")
	}

	r.add(4) // evicts 1
	if r.len() != 3 {
		t.Errorf("len = %d, want 3", r.len())
	}
	if !r.add(1) {
		t.Error("evicted id 1 still remembered")
	}
	if r.add(3) {
		t.Error("id 3 evicted too early")
	}
}

func TestRouter_ErrorFrameFailsCorrelatedRequest(t *testing.T) {
	s, _ := newRouterSession(t, 4)
	p := s.quotes.Allocate()

	s.router.route(frame(`{"msg_type":"error","req_id":1,"error":{"code":"RateLimit","message":"slow down"}}`))

	_, err := p.Wait(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Code != "RateLimit" {
		t.Errorf("Wait error = %v, want RequestError RateLimit", err)
	}
}

func TestRouter_LateProposalIsDropped(t *testing.T) {
	s, _ := newRouterSession(t, 4)

	s.router.route(frame(`{"msg_type":"proposal","req_id":99,"proposal":{"id":"x","ask_price":1,"payout":2}}`))

	if n := s.Stats().PendingRequests; n != 0 {
		t.Errorf("PendingRequests = %d, want 0", n)
	}
	if n := s.Stats().ProtocolAnomalies; n != 0 {
		t.Errorf("ProtocolAnomalies = %d, want 0", n)
	}
}

func TestRouter_TickStreamLifecycle(t *testing.T) {
	s, client := newRouterSession(t, 4)
	ctx := context.Background()

	if err := s.SubscribeTicks(ctx, "R_100"); err != nil {
		t.Fatalf("SubscribeTicks failed: %v", err)
	}
	s.router.route(frame(`{"msg_type":"tick","subscription":{"id":"sub-1"},"tick":{"id":"sub-1","symbol":"R_100","quote":"99.5","epoch":"1700000000"}}`))

	select {
	case tick := <-s.Ticks():
		if tick.Price != 99.5 || tick.Time.Unix() != 1700000000 {
			t.Errorf("tick = %+v", tick)
		}
	default:
		t.Fatal("expected a tick")
	}

	if err := s.UnsubscribeTicks(ctx, "R_100"); err != nil {
		t.Fatalf("UnsubscribeTicks failed: %v", err)
	}
	sent := client.sentFrames()
	if last := sent[len(sent)-1]; last["forget"] != "sub-1" {
		t.Errorf("last frame = %v, want forget sub-1", last)
	}
	if len(s.Symbols()) != 0 {
		t.Errorf("Symbols = %v, want none", s.Symbols())
	}

	// A tick still in flight for the dropped stream is forgotten, not published.
	s.router.route(frame(`{"msg_type":"tick","tick":{"id":"sub-2","symbol":"R_100","quote":100,"epoch":1700000001}}`))
	select {
	case tick := <-s.Ticks():
		t.Errorf("unexpected tick %+v", tick)
	default:
	}
	sent = client.sentFrames()
	if last := sent[len(sent)-1]; last["forget"] != "sub-2" {
		t.Errorf("last frame = %v, want forget sub-2", last)
	}
}

func TestRouter_DropsTicksWhenBufferFull(t *testing.T) {
	s, _ := newRouterSession(t, 1)
	s.subs.add("R_100")

	for i := 0; i < 3; i++ {
		s.router.route(frame(`{"msg_type":"tick","tick":{"symbol":"R_100","quote":1,"epoch":1700000000}}`))
	}

	if n := s.Stats().TicksDropped; n != 2 {
		t.Errorf("TicksDropped = %d, want 2", n)
	}
}

func TestRouter_BalanceUpdatesState(t *testing.T) {
	s, _ := newRouterSession(t, 4)

	s.router.route(frame(`{"msg_type":"balance","balance":{"balance":"1234.50","currency":"EUR","loginid":"CR1"}}`))
	s.router.route(frame(`{"msg_type":"balance","error":{"code":"AuthorizationRequired","message":"Please log in."}}`))

	snap := s.Snapshot()
	if !snap.Balance.Equal(decimal.RequireFromString("1234.5")) || snap.Currency != "EUR" {
		t.Errorf("snapshot = %+v", snap)
	}

	select {
	case u := <-s.Balances():
		if u.Currency != "EUR" {
			t.Errorf("Currency = %q, want EUR", u.Currency)
		}
	default:
		t.Fatal("expected a balance update")
	}
	select {
	case u := <-s.Balances():
		t.Errorf("unexpected update from error frame: %+v", u)
	default:
	}
}

func TestRouter_OutcomeWithoutTradeIDIsNotPublished(t *testing.T) {
	s, _ := newRouterSession(t, 4)

	s.router.route(frame(`{"msg_type":"proposal_open_contract","proposal_open_contract":{"contract_id":7,"is_sold":1,"profit":-1}}`))
	s.router.route(frame(`{"msg_type":"proposal_open_contract","passthrough":"oops","proposal_open_contract":{"contract_id":8,"is_sold":1,"profit":-1}}`))

	select {
	case out := <-s.Outcomes():
		t.Errorf("unexpected outcome %+v", out)
	default:
	}
}

func TestRouter_ConnectionLossFailsPendingWork(t *testing.T) {
	s, client := newRouterSession(t, 4)
	ctx := context.Background()
	s.supervisor.Stop()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := s.Authorize(ctx, "tok"); err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	p := s.quotes.Allocate()

	client.lost <- &connection.LostError{Reason: "read: EOF", At: time.Now()}

	if _, err := p.Wait(ctx); !errors.Is(err, connection.ErrConnectionLost) {
		t.Errorf("pending request error = %v, want ErrConnectionLost", err)
	}
	if err := s.WaitUntilAuthorized(ctx); !errors.Is(err, connection.ErrConnectionLost) {
		t.Errorf("WaitUntilAuthorized = %v, want ErrConnectionLost", err)
	}

	select {
	case ev := <-s.Closed():
		if ev.Reason != "read: EOF" {
			t.Errorf("Reason = %q", ev.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for ConnectionClosed")
	}
}
