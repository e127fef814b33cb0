// Package wsfeed adapts a venue's private websocket order stream into
// the push-event channel the reconciliation engine consumes. Frame
// decoding is venue-specific and plugged in; reconnect handling comes
// from the stream worker, with every reconnect surfaced as a
// stream-gap event so lost pushes get patched by a snapshot poll.
package wsfeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/joripage/execution-dev/pkg/exec/model"
	"github.com/joripage/execution-dev/pkg/stream"
)

// DecodeFunc turns one websocket frame into an order event. Returning
// false skips the frame (heartbeats, subscription acks, channels we
// did not ask for).
type DecodeFunc func(msg []byte) (model.OrderEvent, bool)

type Config struct {
	Venue string
	URL   string
	// Subscriptions are sent verbatim after every connect.
	Subscriptions [][]byte
	// Decode defaults to decoding frames as JSON order events.
	Decode DecodeFunc
	// Buffer is the event channel capacity, default 64.
	Buffer int
}

// Feed owns the websocket lifecycle for one venue's order stream.
type Feed struct {
	cfg    Config
	events chan model.OrderEvent
	worker *stream.Worker
	log    *zap.SugaredLogger
}

func New(cfg Config, log *zap.SugaredLogger) *Feed {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.Decode == nil {
		cfg.Decode = decodeJSON
	}
	f := &Feed{
		cfg:    cfg,
		events: make(chan model.OrderEvent, cfg.Buffer),
		log:    log.With("venue", cfg.Venue),
	}
	f.worker = stream.NewWorker(f, log)
	return f
}

func (f *Feed) Start(ctx context.Context) { f.worker.Start(ctx) }
func (f *Feed) Stop()                     { f.worker.Stop() }

// Events is the channel the reconciliation engine drains.
func (f *Feed) Events() <-chan model.OrderEvent { return f.events }

// URL implements stream.Handler.
func (f *Feed) URL() string { return f.cfg.URL }

// ID implements stream.Handler.
func (f *Feed) ID() string { return f.cfg.Venue + "-orders" }

// OnConnect sends the subscription frames.
func (f *Feed) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	for _, sub := range f.cfg.Subscriptions {
		if err := f.worker.Write(websocket.TextMessage, sub); err != nil {
			return err
		}
	}
	return nil
}

// OnMessage decodes one frame and publishes the event. The venue and
// source fields are stamped here so decoders only fill what the frame
// carries.
func (f *Feed) OnMessage(ctx context.Context, msg []byte) {
	ev, ok := f.cfg.Decode(msg)
	if !ok {
		return
	}
	ev.Venue = f.cfg.Venue
	ev.Source = model.SourcePush
	if ev.LocalTS.IsZero() {
		ev.LocalTS = time.Now()
	}
	f.publish(ev)
}

// OnGap marks that pushes may have been lost across a reconnect.
func (f *Feed) OnGap(ctx context.Context) {
	f.log.Warnw("order stream reconnected, events may have been missed")
	f.publish(model.OrderEvent{
		Venue:   f.cfg.Venue,
		Kind:    model.EventKindStreamGap,
		Source:  model.SourcePush,
		LocalTS: time.Now(),
	})
}

func (f *Feed) publish(ev model.OrderEvent) {
	select {
	case f.events <- ev:
	default:
		// a stalled consumer must not wedge the read loop; the snapshot
		// poll recovers whatever a dropped push reported
		f.log.Warnw("event buffer full, dropping push",
			"coi", ev.ClientOrderIndex, "kind", ev.Kind)
	}
}

func decodeJSON(msg []byte) (model.OrderEvent, bool) {
	var ev model.OrderEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return model.OrderEvent{}, false
	}
	if ev.Kind == "" {
		return model.OrderEvent{}, false
	}
	ev.Raw = string(msg)
	return ev, true
}
