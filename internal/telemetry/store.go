// Package telemetry stores, simulates and ingests per-site telemetry samples.
package telemetry

import (
	"sort"
	"sync"

	"github.com/resident-x/go-solarsight/internal/domain"
)

// DefaultCapacity keeps 30 days of hourly samples per site.
const DefaultCapacity = 720

// Store is a bounded, time-ordered sample buffer per site.
type Store struct {
	mu       sync.RWMutex
	capacity int
	sites    map[string][]domain.TelemetrySample
}

// NewStore creates a store retaining at most capacity samples per site.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		sites:    make(map[string][]domain.TelemetrySample),
	}
}

// Append inserts samples for a site, keeping ascending timestamp order. A sample with the same timestamp as
// a retained one replaces it. The oldest samples are dropped once capacity is exceeded.
func (s *Store) Append(siteID string, samples ...domain.TelemetrySample) {
	if len(samples) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.sites[siteID]
	for _, sample := range samples {
		i := sort.Search(len(buf), func(i int) bool {
			return !buf[i].Timestamp.Before(sample.Timestamp)
		})
		switch {
		case i < len(buf) && buf[i].Timestamp.Equal(sample.Timestamp):
			buf[i] = sample
		case i == len(buf):
			buf = append(buf, sample)
		default:
			buf = append(buf, domain.TelemetrySample{})
			copy(buf[i+1:], buf[i:])
			buf[i] = sample
		}
	}

	if over := len(buf) - s.capacity; over > 0 {
		buf = append([]domain.TelemetrySample(nil), buf[over:]...)
	}
	s.sites[siteID] = buf
}

// Window returns copies of up to n of the most recent samples. n <= 0 returns everything.
func (s *Store) Window(siteID string, n int) []domain.TelemetrySample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.sites[siteID]
	if n > 0 && n < len(buf) {
		buf = buf[len(buf)-n:]
	}
	return append([]domain.TelemetrySample{}, buf...)
}

// All returns copies of every retained sample for the site.
func (s *Store) All(siteID string) []domain.TelemetrySample {
	return s.Window(siteID, 0)
}

// Latest returns the most recent sample for the site.
func (s *Store) Latest(siteID string) (domain.TelemetrySample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.sites[siteID]
	if len(buf) == 0 {
		return domain.TelemetrySample{}, false
	}
	return buf[len(buf)-1], true
}

// Len returns the number of retained samples for the site.
func (s *Store) Len(siteID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sites[siteID])
}

// Remove drops all samples of a site.
func (s *Store) Remove(siteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sites, siteID)
}
