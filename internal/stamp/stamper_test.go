package stamp

import (
	"testing"

	"github.com/loquilex/sessiond/internal/events"
)

func TestSeqStartsAtOneAndIncrementsByOne(t *testing.T) {
	s := New()
	var last uint64
	for i := 0; i < 5; i++ {
		e := s.Stamp(events.New(events.TypeStatus, nil))
		if i == 0 && e.Seq != 1 {
			t.Fatalf("first seq = %d, want 1", e.Seq)
		}
		if i > 0 && e.Seq != last+1 {
			t.Fatalf("seq = %d, want %d", e.Seq, last+1)
		}
		last = e.Seq
	}
}

func TestStampIsDeterministicGivenFixedCounterState(t *testing.T) {
	s1, s2 := New(), New()
	for i := 0; i < 3; i++ {
		e1 := s1.Stamp(events.New(events.TypeStatus, nil))
		e2 := s2.Stamp(events.New(events.TypeStatus, nil))
		if e1.Seq != e2.Seq {
			t.Fatalf("same counter state should produce same seq: %d vs %d", e1.Seq, e2.Seq)
		}
	}
}

func TestNextSeqDoesNotConsume(t *testing.T) {
	s := New()
	if s.NextSeq() != 1 {
		t.Fatalf("NextSeq() = %d, want 1", s.NextSeq())
	}
	s.Stamp(events.New(events.TypeStatus, nil))
	if s.NextSeq() != 2 {
		t.Fatalf("NextSeq() after one stamp = %d, want 2", s.NextSeq())
	}
}
