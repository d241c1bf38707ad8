package queue

import "testing"

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	if _, err := New[int]("q", 0); err == nil {
		t.Fatal("expected error for capacity 0")
	}
	if _, err := New[int]("q", -1); err == nil {
		t.Fatal("expected error for negative capacity")
	}
}

func TestDropOldestOnOverflow(t *testing.T) {
	q, err := New[string]("q", 2)
	if err != nil {
		t.Fatal(err)
	}
	q.Put("a")
	q.Put("b")
	q.Put("c")

	tel := q.Telemetry()
	if tel.TotalDropped != 1 {
		t.Fatalf("total_dropped = %d, want 1", tel.TotalDropped)
	}
	if tel.LastDropReason != DropCapacity {
		t.Fatalf("last_drop_reason = %q, want capacity", tel.LastDropReason)
	}

	got := q.Drain()
	want := []string{"b", "c"}
	if len(got) != len(want) {
		t.Fatalf("drain = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("drain[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSizeNeverExceedsCapacity(t *testing.T) {
	q, err := New[int]("q", 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		q.Put(i)
		if q.Size() > 3 {
			t.Fatalf("size %d exceeds capacity 3 after put(%d)", q.Size(), i)
		}
	}
}

func TestGetReturnsFrontInFIFOOrder(t *testing.T) {
	q, _ := New[int]("q", 5)
	for i := 1; i <= 3; i++ {
		q.Put(i)
	}
	for i := 1; i <= 3; i++ {
		v, ok := q.Get()
		if !ok || v != i {
			t.Fatalf("get() = (%d, %v), want (%d, true)", v, ok, i)
		}
	}
	if _, ok := q.Get(); ok {
		t.Fatal("expected empty queue to report ok=false")
	}
}

func TestDrainUpToBoundsWork(t *testing.T) {
	q, _ := New[int]("q", 50)
	for i := 0; i < 30; i++ {
		q.Put(i)
	}
	first := q.DrainUpTo(20)
	if len(first) != 20 {
		t.Fatalf("DrainUpTo(20) returned %d items, want 20", len(first))
	}
	rest := q.DrainUpTo(20)
	if len(rest) != 10 {
		t.Fatalf("DrainUpTo(20) returned %d items, want 10 remaining", len(rest))
	}
}

func TestTelemetrySnapshotResetsRecentDrops(t *testing.T) {
	q, _ := New[int]("q", 1)
	q.Put(1)
	q.Put(2) // one drop
	tel := q.Telemetry()
	if tel.RecentDrops != 1 {
		t.Fatalf("recent_drops = %d, want 1", tel.RecentDrops)
	}
	tel2 := q.Telemetry()
	if tel2.RecentDrops != 0 {
		t.Fatalf("recent_drops after second snapshot = %d, want 0", tel2.RecentDrops)
	}
	if tel2.TotalDropped != 1 {
		t.Fatalf("total_dropped should persist across snapshots, got %d", tel2.TotalDropped)
	}
}
