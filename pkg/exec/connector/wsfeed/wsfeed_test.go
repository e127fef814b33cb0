package wsfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/joripage/execution-dev/pkg/exec/model"
)

var upgrader = websocket.Upgrader{}

// testServer accepts order-stream connections, records the subscription
// frame, emits one ack event per connection, and drops the first
// connection to force a reconnect.
type testServer struct {
	srv      *httptest.Server
	conns    int32
	subs     chan []byte
	dropOnce bool
}

func newTestServer(t *testing.T, dropOnce bool) *testServer {
	t.Helper()
	ts := &testServer{subs: make(chan []byte, 8), dropOnce: dropOnce}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := atomic.AddInt32(&ts.conns, 1)

		_, sub, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		ts.subs <- sub

		ev := model.OrderEvent{
			ClientOrderIndex: uint64(n),
			Kind:             model.EventKindAck,
			ExchangeTS:       time.Now(),
		}
		payload, _ := json.Marshal(ev)
		_ = conn.WriteMessage(websocket.TextMessage, payload)

		if ts.dropOnce && n == 1 {
			conn.Close()
			return
		}
		// hold the connection open; reads keep the server side alive
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func waitEvent(t *testing.T, ch <-chan model.OrderEvent) model.OrderEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return model.OrderEvent{}
	}
}

func TestFeedDecodesAndStamps(t *testing.T) {
	ts := newTestServer(t, false)
	feed := New(Config{
		Venue:         "simex",
		URL:           ts.wsURL(),
		Subscriptions: [][]byte{[]byte(`{"op":"subscribe","channel":"orders"}`)},
	}, zap.NewNop().Sugar())
	feed.Start(context.Background())
	defer feed.Stop()

	select {
	case sub := <-ts.subs:
		if !strings.Contains(string(sub), "orders") {
			t.Errorf("unexpected subscription frame %s", sub)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription frame never arrived")
	}

	ev := waitEvent(t, feed.Events())
	if ev.Kind != model.EventKindAck || ev.ClientOrderIndex != 1 {
		t.Errorf("got %+v", ev)
	}
	if ev.Venue != "simex" || ev.Source != model.SourcePush {
		t.Errorf("event not stamped: venue=%q source=%q", ev.Venue, ev.Source)
	}
	if ev.Raw == "" {
		t.Error("raw payload not kept")
	}
}

func TestFeedEmitsGapOnReconnect(t *testing.T) {
	ts := newTestServer(t, true)
	feed := New(Config{
		Venue:         "simex",
		URL:           ts.wsURL(),
		Subscriptions: [][]byte{[]byte(`sub`)},
	}, zap.NewNop().Sugar())
	feed.Start(context.Background())
	defer feed.Stop()

	first := waitEvent(t, feed.Events())
	if first.ClientOrderIndex != 1 {
		t.Fatalf("got %+v", first)
	}

	gap := waitEvent(t, feed.Events())
	if gap.Kind != model.EventKindStreamGap {
		t.Fatalf("expected stream gap after reconnect, got %+v", gap)
	}

	second := waitEvent(t, feed.Events())
	if second.ClientOrderIndex != 2 {
		t.Errorf("got %+v", second)
	}
	if atomic.LoadInt32(&ts.conns) != 2 {
		t.Errorf("expected 2 connections, saw %d", ts.conns)
	}
}

func TestFeedSkipsUndecodableFrames(t *testing.T) {
	if ev, ok := decodeJSON([]byte(`{"op":"pong"}`)); ok {
		t.Errorf("frame without kind decoded: %+v", ev)
	}
	if _, ok := decodeJSON([]byte(`not json`)); ok {
		t.Error("malformed frame decoded")
	}
}
