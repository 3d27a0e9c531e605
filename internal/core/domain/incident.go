package domain

import "fmt"

// Incident is one historical incident tied to a road-network link.
type Incident struct {
	Date      int64   `json:"date"`
	Address   string  `json:"address"`
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	LinkID    int64   `json:"link_id"`
}

// Location returns the incident's point.
func (i Incident) Location() Coordinate {
	return Coordinate{Lat: i.Latitude, Lng: i.Longitude}
}

// LinkDensity is the number of incidents grouped on one link.
type LinkDensity struct {
	LinkID int64 `json:"link_id"`
	Count  int   `json:"count"`
}

// CompareOp is the comparison applied to a link's incident count.
type CompareOp string

const (
	OpGreaterThan CompareOp = ">"
	OpEqual       CompareOp = "="
)

// DensityPredicate is a threshold condition on a link's incident count.
type DensityPredicate struct {
	Op        CompareOp
	Threshold int
}

var (
	// HighDensity selects links for the red set.
	HighDensity = DensityPredicate{Op: OpGreaterThan, Threshold: 2}
	// MediumDensity selects links for the yellow set.
	MediumDensity = DensityPredicate{Op: OpEqual, Threshold: 2}
)

// Match reports whether count satisfies the predicate.
func (p DensityPredicate) Match(count int) bool {
	switch p.Op {
	case OpGreaterThan:
		return count > p.Threshold
	case OpEqual:
		return count == p.Threshold
	default:
		return false
	}
}

// Validate rejects operators outside the supported set. Store adapters
// render Op into SQL, so it must never carry arbitrary text.
func (p DensityPredicate) Validate() error {
	switch p.Op {
	case OpGreaterThan, OpEqual:
		return nil
	default:
		return fmt.Errorf("unsupported density operator %q", string(p.Op))
	}
}

func (p DensityPredicate) String() string {
	return fmt.Sprintf("count %s %d", p.Op, p.Threshold)
}

// AvoidLinkIds is the classified result for a bounding box: Red holds links
// with more than two incidents, Yellow links with exactly two.
type AvoidLinkIds struct {
	Red    []int64 `json:"red"`
	Yellow []int64 `json:"yellow"`
}

// IncidentUpdate is emitted by the ingestion job after a store refresh.
type IncidentUpdate struct {
	Source   string `json:"source"`
	Inserted int    `json:"inserted"`
	At       int64  `json:"at"`
}
