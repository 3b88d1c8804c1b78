package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/navigator/internal/models"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: TypeFilesUpdated, Data: map[string]string{"path": "a.md"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: files.updated") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"a.md"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishChanges_StatsThrottle(t *testing.T) {
	calls := 0
	b := NewBroker(500*time.Millisecond, func() any {
		calls++
		return map[string]int{"files": calls}
	})
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	preview := "Hello"
	// First batch should trigger stats.updated.
	b.PublishChanges([]models.ContentChange{{Path: "a.md", Preview: &preview}, {Path: "b.md", Removed: true}})
	// Second batch immediately should NOT trigger another stats.updated.
	b.PublishChanges([]models.ContentChange{{Path: "c.md", OldPath: "a.md"}})

	time.Sleep(50 * time.Millisecond)
	counts := map[string]int{}
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			typ := strings.TrimPrefix(strings.SplitN(s, "\n", 2)[0], "event: ")
			counts[typ]++
			if typ == TypeFilesUpdated && !strings.Contains(s, `"preview":"Hello"`) {
				t.Errorf("updated payload = %q", s)
			}
		default:
			break loop
		}
	}

	if counts[TypeFilesUpdated] != 1 || counts[TypeFilesRemoved] != 1 || counts[TypeFilesRenamed] != 1 {
		t.Errorf("file events = %v", counts)
	}
	if counts[TypeStatsUpdated] != 1 {
		t.Errorf("stats events = %d, want 1 (throttled)", counts[TypeStatsUpdated])
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: TypeFilesUpdated, Data: map[string]string{"path": "x.md"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: files.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: TypeFilesUpdated, Data: map[string]string{"path": "x.md"}})
	b.PublishChanges([]models.ContentChange{{Path: "x.md"}})
}

func TestSplitChangesKeepsOrder(t *testing.T) {
	events := splitChanges([]models.ContentChange{
		{Path: "a.md", TagsChanged: true, Tags: []string{"x"}},
		{Path: "b.md", Removed: true},
		{Path: "c.md", OldPath: "old.md"},
		{Path: "d.md", Removed: true},
		{Path: "e.md", TagsChanged: true, Tags: []string{}},
	})

	want := []string{TypeFilesUpdated, TypeFilesRemoved, TypeFilesRenamed, TypeFilesRemoved, TypeFilesUpdated}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("event %d type = %s, want %s", i, ev.Type, want[i])
		}
	}

	merged := splitChanges([]models.ContentChange{{Path: "a.md", Removed: true}, {Path: "b.md", Removed: true}})
	if len(merged) != 1 {
		t.Fatalf("consecutive removals = %d events, want 1", len(merged))
	}
	data := merged[0].Data.(map[string]any)
	if got := data["changes"].([]models.ContentChange); len(got) != 2 {
		t.Errorf("merged changes = %d, want 2", len(got))
	}
}
