package geometry

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// Policy decides when two line geometries denote the same road segment.
// Candidates are first narrowed to a bucket by key, then compared with Equal.
type Policy interface {
	Name() string
	// BucketKey returns the geometry part of the lookup key. An empty key
	// means the policy cannot bucket by geometry and only properties narrow
	// the search.
	BucketKey(ls orb.LineString) string
	Equal(a, b orb.LineString) bool
}

// ExactPolicy requires every vertex to coincide exactly. It is the default.
type ExactPolicy struct{}

func (ExactPolicy) Name() string { return "exact" }

func (ExactPolicy) BucketKey(ls orb.LineString) string { return GeomHash(ls) }

func (ExactPolicy) Equal(a, b orb.LineString) bool {
	return a.Equal(b)
}

// TolerancePolicy treats vertices within Epsilon degrees on both axes as
// coincident. Lines must have the same vertex count and order.
type TolerancePolicy struct {
	Epsilon float64
}

func (TolerancePolicy) Name() string { return "tolerance" }

func (TolerancePolicy) BucketKey(orb.LineString) string { return "" }

func (p TolerancePolicy) Equal(a, b orb.LineString) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i][0]-b[i][0]) > p.Epsilon || math.Abs(a[i][1]-b[i][1]) > p.Epsilon {
			return false
		}
	}
	return true
}

// NewPolicy builds a policy from its configured name.
func NewPolicy(name string, epsilon float64) (Policy, error) {
	switch strings.ToLower(name) {
	case "", "exact":
		return ExactPolicy{}, nil
	case "tolerance":
		if epsilon <= 0 || math.IsNaN(epsilon) || math.IsInf(epsilon, 0) {
			return nil, fmt.Errorf("tolerance policy needs a positive epsilon, got %g", epsilon)
		}
		return TolerancePolicy{Epsilon: epsilon}, nil
	default:
		return nil, fmt.Errorf("unknown matching policy %q", name)
	}
}
