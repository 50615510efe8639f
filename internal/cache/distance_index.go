package cache

import (
	"github.com/dpup/velonav/internal/lib/geo"
)

// DistanceIndex memoizes the distance remaining from a polyline vertex to the polyline's end.
//
// Entries are keyed by start index only, so the index is valid for exactly one polyline
// instance. Invalidate must run whenever the active polyline is replaced and before the next
// RemainingDistance call. A DistanceIndex is not safe for concurrent use; it belongs to the
// single control flow that owns the active route.
type DistanceIndex struct {
	entries map[int]float64
	stats   IndexStats
}

// IndexStats provides cache usage statistics
type IndexStats struct {
	Entries       int
	Hits          int
	Misses        int
	Invalidations int
}

// NewDistanceIndex creates an empty distance index
func NewDistanceIndex() *DistanceIndex {
	return &DistanceIndex{
		entries: make(map[int]float64),
	}
}

// RemainingDistance returns the summed great-circle distance in km from vertex fromIndex to
// the last vertex of line. A miss computes the full suffix sum once and stores it.
func (d *DistanceIndex) RemainingDistance(line geo.Polyline, fromIndex int) float64 {
	if distance, ok := d.entries[fromIndex]; ok {
		d.stats.Hits++
		return distance
	}

	d.stats.Misses++

	total := 0.0
	for i := max(fromIndex, 0); i < len(line)-1; i++ {
		total += geo.DistanceKm(line[i], line[i+1])
	}

	d.entries[fromIndex] = total
	return total
}

// Invalidate removes all entries. Call once per polyline replacement.
func (d *DistanceIndex) Invalidate() {
	d.entries = make(map[int]float64)
	d.stats.Invalidations++
}

// Len returns the number of memoized start indices
func (d *DistanceIndex) Len() int {
	return len(d.entries)
}

// Stats returns cache statistics
func (d *DistanceIndex) Stats() IndexStats {
	stats := d.stats
	stats.Entries = len(d.entries)
	return stats
}
