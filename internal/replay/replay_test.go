package replay

import (
	"testing"
	"time"

	"github.com/loquilex/sessiond/internal/events"
)

func env(text string) events.Envelope {
	return events.New(events.TypeFinalEN, map[string]any{"text": text})
}

func TestGetAfterReturnsIncreasingSeqOnly(t *testing.T) {
	b := New(5, 0)
	b.Add(1, env("a"))
	b.Add(2, env("b"))
	b.Add(3, env("c"))

	got := b.GetAfter(1)
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].Fields["text"] != "b" || got[1].Fields["text"] != "c" {
		t.Fatalf("got = %+v, want [b c]", got)
	}
}

func TestCapacityDropOldest(t *testing.T) {
	b := New(2, 0)
	b.Add(1, env("a"))
	b.Add(2, env("b"))
	b.Add(3, env("c"))

	got := b.GetAfter(0)
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2 (capacity 2)", len(got))
	}
	tel := b.Telemetry("replay")
	if tel.TotalDropped != 1 || tel.LastDropReason != "capacity" {
		t.Fatalf("telemetry = %+v, want 1 capacity drop", tel)
	}
}

func TestTTLExpiryPrunesAndDropsAreAttributed(t *testing.T) {
	b := New(5, 10*time.Millisecond)
	b.Add(1, env("a"))
	b.Add(2, env("b"))
	b.Add(3, env("c"))

	time.Sleep(15 * time.Millisecond)

	got := b.GetAfter(0)
	if len(got) != 0 {
		t.Fatalf("len(got) = %d, want 0 after TTL expiry", len(got))
	}
	tel := b.Telemetry("replay")
	if tel.TotalDropped != 3 {
		t.Fatalf("total_dropped = %d, want 3", tel.TotalDropped)
	}
	if tel.LastDropReason != "ttl_expired" {
		t.Fatalf("last_drop_reason = %q, want ttl_expired", tel.LastDropReason)
	}
}
