package notify

import (
	"sync/atomic"
	"testing"

	"github.com/starford/navigator/internal/models"
)

func TestPerFileDelivery(t *testing.T) {
	b := New(nil)
	var got []models.ContentChange
	b.OnFileContentChange("a.md", func(c models.ContentChange) { got = append(got, c) })

	b.Publish([]models.ContentChange{
		{Path: "a.md", Tags: []string{}, TagsChanged: true},
		{Path: "b.md", TagsChanged: true},
	})

	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	if !got[0].TagsChanged || got[0].Tags == nil || len(got[0].Tags) != 0 {
		t.Errorf("change = %+v, want empty tags", got[0])
	}
}

func TestGlobalReceivesBatch(t *testing.T) {
	b := New(nil)
	var sizes []int
	b.OnContentChange(func(cs []models.ContentChange) { sizes = append(sizes, len(cs)) })

	b.Publish([]models.ContentChange{{Path: "a.md"}, {Path: "b.md"}})
	b.Publish(nil)

	if len(sizes) != 1 || sizes[0] != 2 {
		t.Errorf("batches = %v, want [2]", sizes)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := New(nil)
	var calls atomic.Int32
	unsub := b.OnFileContentChange("a.md", func(models.ContentChange) { calls.Add(1) })
	other := b.OnFileContentChange("a.md", func(models.ContentChange) { calls.Add(1) })

	unsub()
	unsub()
	b.Publish([]models.ContentChange{{Path: "a.md"}})
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	b.Close()
	other()
	if files, global := b.SubscriberCount(); files != 0 || global != 0 {
		t.Errorf("subscribers after close = %d/%d", files, global)
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := New(nil)
	var unsub Unsubscribe
	calls := 0
	unsub = b.OnContentChange(func([]models.ContentChange) {
		calls++
		unsub()
	})
	b.Publish([]models.ContentChange{{Path: "a.md"}})
	b.Publish([]models.ContentChange{{Path: "a.md"}})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	b := New(nil)
	b.OnFileContentChange("a.md", func(models.ContentChange) { panic("boom") })
	delivered := false
	b.OnContentChange(func([]models.ContentChange) { delivered = true })

	b.Publish([]models.ContentChange{{Path: "a.md"}})
	if !delivered {
		t.Error("global subscriber should still be called")
	}
}

func TestRenameNotifiesOldPathSubscribers(t *testing.T) {
	b := New(nil)
	var got models.ContentChange
	b.OnFileContentChange("old.md", func(c models.ContentChange) { got = c })

	b.Publish([]models.ContentChange{{Path: "new.md", OldPath: "old.md"}})
	if got.Path != "new.md" {
		t.Errorf("old-path subscriber got %+v", got)
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := New(nil)
	called := false
	b.OnContentChange(func([]models.ContentChange) { called = true })
	b.Close()
	b.Publish([]models.ContentChange{{Path: "a.md"}})
	if called {
		t.Error("closed bus delivered a change")
	}
	unsub := b.OnContentChange(func([]models.ContentChange) {})
	unsub()
}
