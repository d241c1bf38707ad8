package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/loquilex/sessiond/internal/queue"
	"github.com/loquilex/sessiond/internal/retention"
	"github.com/loquilex/sessiond/internal/storage"
)

func TestObserveQueueRecordsSizeAndDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.ObserveQueue(queue.Telemetry{
		Name:           "worker-inbox",
		Size:           3,
		RecentDrops:    2,
		LastDropReason: queue.DropCapacity,
	})

	gauge := &dto.Metric{}
	if err := m.QueueSize.WithLabelValues("worker-inbox").Write(gauge); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if gauge.GetGauge().GetValue() != 3 {
		t.Fatalf("expected queue size 3, got %v", gauge.GetGauge().GetValue())
	}

	counter := &dto.Metric{}
	if err := m.QueueDropsTotal.WithLabelValues("worker-inbox", "capacity").Write(counter); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	if counter.GetCounter().GetValue() != 2 {
		t.Fatalf("expected 2 recorded drops, got %v", counter.GetCounter().GetValue())
	}
}

func TestObserveStorageAndRetention(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.ObserveStorage("sess-1", storage.Stats{TotalCommits: 5})
	m.ObserveRetention(retention.Result{DeletedCount: 2, RemainingBytes: 1024})

	commits := &dto.Metric{}
	if err := m.StorageCommits.WithLabelValues("sess-1").Write(commits); err != nil {
		t.Fatalf("write: %v", err)
	}
	if commits.GetGauge().GetValue() != 5 {
		t.Fatalf("expected 5 commits, got %v", commits.GetGauge().GetValue())
	}

	deleted := &dto.Metric{}
	if err := m.RetentionDeleted.Write(deleted); err != nil {
		t.Fatalf("write: %v", err)
	}
	if deleted.GetCounter().GetValue() != 2 {
		t.Fatalf("expected 2 deleted files, got %v", deleted.GetCounter().GetValue())
	}
}
