// Package eventlog persists one append-only event log per order for
// audit and crash recovery.
package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joripage/execution-dev/pkg/exec/model"
)

// Sink receives every applied order event. Implementations must be safe
// for concurrent use.
type Sink interface {
	Append(ctx context.Context, ev model.OrderEvent) error
}

// MultiSink fans one event out to several sinks. The first error wins
// but every sink still sees the event.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, ev model.OrderEvent) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop discards events; used when persistence is disabled in config.
type Nop struct{}

func (Nop) Append(context.Context, model.OrderEvent) error { return nil }

// FileLog appends one JSON line per event to
// <dir>/<venue>/<symbol>/<coi>.log. Files stay open until a terminal
// event is written.
type FileLog struct {
	dir   string
	mu    sync.Mutex
	files map[model.OrderKey]*os.File
}

func NewFileLog(dir string) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	return &FileLog{dir: dir, files: make(map[model.OrderKey]*os.File)}, nil
}

func (l *FileLog) path(key model.OrderKey) string {
	symbol := strings.ReplaceAll(key.Symbol, string(filepath.Separator), "_")
	return filepath.Join(l.dir, key.Venue, symbol, fmt.Sprintf("%d.log", key.ClientOrderIndex))
}

func (l *FileLog) Append(_ context.Context, ev model.OrderEvent) error {
	if ev.Kind == model.EventKindStreamGap {
		return nil
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}

	key := ev.Key()
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.files[key]
	if !ok {
		p := l.path(key)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("create order log dir: %w", err)
		}
		f, err = os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open order log: %w", err)
		}
		l.files[key] = f
	}

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append order event: %w", err)
	}
	if ev.IsTerminalKind() {
		delete(l.files, key)
		return f.Close()
	}
	return nil
}

// Close closes any log files still open for live orders.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for key, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(l.files, key)
	}
	return first
}

// Recovered is one order rebuilt from its log whose last recorded event
// is non-terminal. Such orders must trigger a snapshot query on restart
// to re-attach or finalize them.
type Recovered struct {
	Key    model.OrderKey
	Events []model.OrderEvent
}

// Rebuild replays the recovered events into a fresh order aggregate.
// The first event must be the submit record carrying size and side.
func (r Recovered) Rebuild() (*model.Order, error) {
	if len(r.Events) == 0 {
		return nil, fmt.Errorf("empty event log for %s", r.Key)
	}
	first := r.Events[0]
	if first.Kind != model.EventKindSubmit || first.Size <= 0 {
		return nil, fmt.Errorf("log for %s does not start with a submit record", r.Key)
	}
	typ := first.OrderType
	if typ == "" {
		typ = model.OrderTypeLimit
	}
	o := model.NewOrder(r.Key, first.Side, typ, first.Size, first.Price)
	for _, ev := range r.Events {
		if ev.Kind == model.EventKindSubmit && o.State() != model.OrderStateNew {
			continue
		}
		// replay tolerantly: stale/duplicate lines are already-counted
		// anomalies, not recovery failures
		_ = o.ApplyEvent(ev)
	}
	return o, nil
}

// Recover scans the log directory and returns every order whose last
// event is non-terminal. One unreadable log never aborts the scan: the
// remaining logs are still recovered and the first error is reported
// alongside them.
func Recover(dir string) ([]Recovered, error) {
	var out []Recovered
	var firstErr error
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".log") {
			return nil
		}
		events, err := readLog(path)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("read %s: %w", path, err)
		}
		if len(events) == 0 || events[len(events)-1].IsTerminalKind() {
			return nil
		}
		out = append(out, Recovered{Key: events[0].Key(), Events: events})
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err == nil {
		err = firstErr
	}
	return out, err
}

// readLog parses one log file. A crash can tear the final append, so an
// unparseable line ends the usable log: the whole lines before it are
// returned and the fragment is dropped.
func readLog(path string) ([]model.OrderEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []model.OrderEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev model.OrderEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			break
		}
		events = append(events, ev)
	}
	return events, sc.Err()
}
