// Package roadnet holds the domain model shared by the store, the reconciler,
// the point-in-time resolver and the version registry.
package roadnet

import (
	"time"

	"github.com/paulmach/orb"
)

// Properties is the attribute mapping of an edge. It is compared structurally.
type Properties map[string]any

// Customer owns networks. Customers are immutable once created.
type Customer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	KeyID     string    `json:"-"`
	KeyHash   []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Network is a logical named graph owned by a customer. Its ID is stable
// across version updates.
type Network struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customer_id"`
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	UpdatedAt  time.Time `json:"upload_time"`
}

// NetworkRef is what the registry hands to the reconciler and the resolver.
type NetworkRef struct {
	ID         int64
	CustomerID int64
	Name       string
	Version    string
	UpdatedAt  time.Time
	// Created is true when the registration created the network.
	Created bool
}

// VersionRecord is one entry of a network's upload history.
type VersionRecord struct {
	NetworkID    int64     `json:"network_id"`
	Label        string    `json:"version"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Candidate is one edge of an uploaded version, already parsed and typed.
type Candidate struct {
	Properties Properties
	Geometry   orb.LineString
}

// Interval is a validity interval. A nil To means the interval is open.
type Interval struct {
	From time.Time  `json:"valid_from"`
	To   *time.Time `json:"valid_to,omitempty"`
}

// Open reports whether the interval has not been closed.
func (iv Interval) Open() bool {
	return iv.To == nil
}

// Contains reports whether t lies in the interval. Both ends are inclusive.
func (iv Interval) Contains(t time.Time) bool {
	if t.Before(iv.From) {
		return false
	}
	return iv.To == nil || !iv.To.Before(t)
}

// Edge is a stored road segment. Its structural identity is the pair
// (Properties, Geometry); PropsHash and GeomHash index that identity.
// Intervals are ordered by start and pairwise disjoint; only the last one
// may be open.
type Edge struct {
	ID         int64
	NetworkID  int64
	Properties Properties
	Geometry   orb.LineString
	PropsHash  string
	GeomHash   string
	Intervals  []Interval
}

// IsCurrent reports whether the edge belongs to the live graph.
func (e *Edge) IsCurrent() bool {
	n := len(e.Intervals)
	return n > 0 && e.Intervals[n-1].Open()
}

// ValidFrom is the instant the edge first became part of the graph.
func (e *Edge) ValidFrom() time.Time {
	if len(e.Intervals) == 0 {
		return time.Time{}
	}
	return e.Intervals[0].From
}

// ValidTo is the end of the latest interval, nil while the edge is current.
func (e *Edge) ValidTo() *time.Time {
	if len(e.Intervals) == 0 {
		return nil
	}
	return e.Intervals[len(e.Intervals)-1].To
}

// ValidAt reports whether any interval of the edge contains t.
func (e *Edge) ValidAt(t time.Time) bool {
	for _, iv := range e.Intervals {
		if iv.Contains(t) {
			return true
		}
	}
	return false
}

// Clone returns a copy whose interval slice can be mutated independently.
// Properties and geometry are immutable after insert and are shared.
func (e *Edge) Clone() *Edge {
	c := *e
	c.Intervals = make([]Interval, len(e.Intervals))
	for i, iv := range e.Intervals {
		c.Intervals[i] = iv
		if iv.To != nil {
			to := *iv.To
			c.Intervals[i].To = &to
		}
	}
	return &c
}

// EdgeSet is the result of a point-in-time query. Order is irrelevant.
type EdgeSet struct {
	NetworkID int64
	Instant   *time.Time
	Edges     []*Edge
}

// Len returns the number of edges in the set.
func (s *EdgeSet) Len() int {
	return len(s.Edges)
}
