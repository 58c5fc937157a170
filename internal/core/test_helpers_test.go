package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/freebox-portal/freebox-server/internal/store"
	"github.com/freebox-portal/freebox-server/internal/sysinfo"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// collectEvents drains the channel until it stays quiet for a while.
func collectEvents(ch <-chan *Event) []*Event {
	var events []*Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		case <-time.After(300 * time.Millisecond):
			return events
		}
	}
}

// stubStore is an in-memory store.Store for hub tests.
type stubStore struct {
	mu       sync.Mutex
	messages []*store.ChatMessage
	nextID   int64
}

func newStubStore() *stubStore {
	return &stubStore{}
}

func (s *stubStore) AddMessage(_ context.Context, username, message, room, addr string) (*store.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m := &store.ChatMessage{
		ID:        s.nextID,
		Username:  username,
		Message:   message,
		Room:      room,
		CreatedAt: time.Now(),
		Addr:      addr,
	}
	s.messages = append(s.messages, m)
	return m, nil
}

func (s *stubStore) RecentMessages(_ context.Context, room string, limit int) ([]*store.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.ChatMessage
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if s.messages[i].Room == room {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}

func (s *stubStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *stubStore) AddFile(_ context.Context, f *store.File) (*store.File, error) { return f, nil }
func (s *stubStore) FileByID(_ context.Context, _ int64) (*store.File, error) {
	return nil, store.ErrNotFound
}
func (s *stubStore) FileByStoredName(_ context.Context, _ string) (*store.File, error) {
	return nil, store.ErrNotFound
}
func (s *stubStore) FileByHash(_ context.Context, _ string) (*store.File, error) {
	return nil, store.ErrNotFound
}
func (s *stubStore) ListFiles(_ context.Context, _, _ int) ([]*store.File, error) { return nil, nil }
func (s *stubStore) IncrementDownloads(_ context.Context, _ int64) (*store.File, error) {
	return nil, store.ErrNotFound
}
func (s *stubStore) DeleteFile(_ context.Context, _ int64) error { return nil }
func (s *stubStore) RecordVisit(_ context.Context, addr string) (*store.Visitor, error) {
	return &store.Visitor{Addr: addr, VisitCount: 1}, nil
}
func (s *stubStore) IncrementCounter(_ context.Context, _ string, _ int64) error { return nil }

func (s *stubStore) Totals(_ context.Context) (*store.Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &store.Totals{
		Counters:      map[string]int64{store.CounterMessages: int64(len(s.messages))},
		MessagesCount: int64(len(s.messages)),
	}, nil
}

func (s *stubStore) Close() error { return nil }

// stubSampler returns a fixed metrics reading.
type stubSampler struct {
	snap sysinfo.Snapshot
	err  error
}

func (s *stubSampler) Sample(_ context.Context) (sysinfo.Snapshot, error) {
	return s.snap, s.err
}

func newTestHub(t *testing.T) (*Hub, *stubStore, context.CancelFunc) {
	t.Helper()

	st := newStubStore()
	stats := NewStatsAggregator(st, &stubSampler{}, time.Now())
	hub := NewHub(st, stats, 50, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go hub.Run(ctx)

	return hub, st, cancel
}
