package records

import (
	"strconv"
	"testing"
)

func TestCounterSequencer_PerCollection(t *testing.T) {
	t.Parallel()

	s := NewCounterSequencer()
	prev := 0
	for i := 0; i < 5; i++ {
		n, err := strconv.Atoi(s.Next("docs"))
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if n <= prev {
			t.Fatalf("sequence not increasing: %d after %d", n, prev)
		}
		prev = n
	}
	if got := s.Next("folders"); got != "1" {
		t.Errorf("folders starts at %q, want 1", got)
	}
}

func TestSequencers_AreInstanceScoped(t *testing.T) {
	t.Parallel()

	a, b := NewCounterSequencer(), NewCounterSequencer()
	a.Next("docs")
	a.Next("docs")
	if got := b.Next("docs"); got != "1" {
		t.Errorf("second sequencer shares state: got %q", got)
	}

	// Identical counters on different hosts still produce distinct ids.
	idA := FormatURN("docs", "1", "a.test")
	idB := FormatURN("docs", "1", "b.test:8080")
	if idA == idB {
		t.Fatal("ids from different hosts collide")
	}
}

func TestULIDSequencer_Increasing(t *testing.T) {
	t.Parallel()

	s := NewULIDSequencer()
	prev := s.Next("docs")
	for i := 0; i < 100; i++ {
		next := s.Next("docs")
		if next <= prev {
			t.Fatalf("ulid not increasing: %s after %s", next, prev)
		}
		prev = next
	}
}

func TestParseURN(t *testing.T) {
	t.Parallel()

	u, err := ParseURN("urn:docs:42@b.test:8080")
	if err != nil {
		t.Fatalf("ParseURN: %v", err)
	}
	if u.Collection != "docs" || u.Seq != "42" || u.Host != "b.test:8080" {
		t.Errorf("ParseURN = %+v", u)
	}

	for _, bad := range []string{"", "docs:1@a", "urn:docs", "urn:docs:1", "urn::1@a", "urn:docs:@a", "urn:docs:1@"} {
		if _, err := ParseURN(bad); err == nil {
			t.Errorf("ParseURN(%q) should fail", bad)
		}
	}
}
