package domain

// Coordinate represents a geographic point in decimal degrees (WGS 84).
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BoundingBox is an axis-aligned rectangle in latitude/longitude space.
// After normalization From holds the minimum corner and To the maximum.
type BoundingBox struct {
	From Coordinate `json:"from"`
	To   Coordinate `json:"to"`
}

