package publisher

import (
	"sync"
	"time"

	"github.com/tuna-marine/n2k-router/message"
)

// FilterAction decides what a matching filter does to a message.
type FilterAction int

const (
	// Select keeps a matching message.
	Select FilterAction = iota
	// Discard drops a matching message.
	Discard
)

// Filter is one member of a FilterSet. A PGN filter with neither PGNs
// nor Sources set matches everything of its NMEA-2000-ness.
type Filter struct {
	Action FilterAction

	// PGNs/Sources, when non-empty, both must match for the filter to
	// apply (spec: "{pgn ∈ set?, source ∈ set?} (AND when both given)").
	PGNs    map[uint32]struct{}
	Sources map[uint8]struct{}

	// MinInterval, when non-zero, makes this a time-filter: the filter
	// only matches once per PGN per MinInterval.
	MinInterval time.Duration
}

func (f *Filter) matchesSets(pgn uint32, source uint8) bool {
	if len(f.PGNs) > 0 {
		if _, ok := f.PGNs[pgn]; !ok {
			return false
		}
	}
	if len(f.Sources) > 0 {
		if _, ok := f.Sources[source]; !ok {
			return false
		}
	}
	return true
}

// FilterSet partitions filters by message type and decides, per
// message, whether it is selected.
type FilterSet struct {
	// FilterSelect inverts the default outcome when no filter matches:
	// normally an unmatched message is kept, FilterSelect means an
	// unmatched message is dropped.
	FilterSelect bool

	filters  []Filter
	mu       sync.Mutex
	lastEmit map[uint64]time.Time
}

// NewFilterSet builds a FilterSet from filters, applied in order.
func NewFilterSet(filterSelect bool, filters ...Filter) *FilterSet {
	return &FilterSet{
		FilterSelect: filterSelect,
		filters:      filters,
		lastEmit:     make(map[uint64]time.Time),
	}
}

// Allows reports whether env passes this FilterSet, per spec §4.9:
// "the set returns a boolean 'message is selected by some filter'; the
// filter's own action decides whether that means keep or drop."
func (fs *FilterSet) Allows(env message.Envelope, now time.Time) bool {
	if fs == nil || len(fs.filters) == 0 {
		return true
	}

	pgnNum, hasPGN := env.PGN()
	source, _ := env.Source()

	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i := range fs.filters {
		f := &fs.filters[i]
		if hasPGN && !f.matchesSets(pgnNum, source) {
			continue
		}
		if !hasPGN && (len(f.PGNs) > 0 || len(f.Sources) > 0) {
			continue
		}
		if f.MinInterval > 0 && hasPGN {
			key := uint64(pgnNum)
			if last, ok := fs.lastEmit[key]; ok && now.Sub(last) < f.MinInterval {
				continue
			}
			fs.lastEmit[key] = now
		}

		switch f.Action {
		case Select:
			return true
		case Discard:
			return false
		}
	}

	return !fs.FilterSelect
}
