package records

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Sequencer produces the sequence component of record URNs. Sequences must
// be strictly increasing per collection for a given instance.
type Sequencer interface {
	Next(collection string) string
}

// CounterSequencer numbers records 1, 2, 3... per collection. The counter
// lives in the instance, so it restarts with the process; pair it with a
// store that does not outlive the process.
type CounterSequencer struct {
	mu       sync.Mutex
	counters map[string]uint64
}

func NewCounterSequencer() *CounterSequencer {
	return &CounterSequencer{counters: make(map[string]uint64)}
}

func (s *CounterSequencer) Next(collection string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[collection]++
	return strconv.FormatUint(s.counters[collection], 10)
}

// ULIDSequencer issues monotonic ULIDs, which stay increasing across
// restarts as long as the clock does.
type ULIDSequencer struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

func NewULIDSequencer() *ULIDSequencer {
	return &ULIDSequencer{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

func (s *ULIDSequencer) Next(string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String())
}

// FormatURN builds "urn:<collection>:<seq>@<host>".
func FormatURN(collection, seq, host string) string {
	return fmt.Sprintf("urn:%s:%s@%s", collection, seq, host)
}

// URN is a parsed record id.
type URN struct {
	Collection string
	Seq        string
	Host       string
}

// ParseURN splits a record id. Hosts may contain ':' (ports), so the
// sequence ends at the last '@'.
func ParseURN(id string) (URN, error) {
	rest, ok := strings.CutPrefix(id, "urn:")
	if !ok {
		return URN{}, fmt.Errorf("urn %q: missing urn: prefix", id)
	}
	collection, rest, ok := strings.Cut(rest, ":")
	if !ok || collection == "" {
		return URN{}, fmt.Errorf("urn %q: missing collection", id)
	}
	at := strings.LastIndex(rest, "@")
	if at <= 0 || at == len(rest)-1 {
		return URN{}, fmt.Errorf("urn %q: missing sequence or host", id)
	}
	return URN{Collection: collection, Seq: rest[:at], Host: rest[at+1:]}, nil
}
