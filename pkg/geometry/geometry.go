// Package geometry implements edge identity: line validation, content hashes
// used as lookup keys, and the equality policies the reconciler matches with.
package geometry

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// EPSG:4326 coordinate bounds.
const (
	MinLon = -180.0
	MaxLon = 180.0
	MinLat = -90.0
	MaxLat = 90.0
)

var (
	ErrTooFewVertices = errors.New("line geometry needs at least two vertices")
	ErrNonFinite      = errors.New("coordinate is not finite")
	ErrOutOfBounds    = errors.New("coordinate outside EPSG:4326 bounds")
)

// ValidateLineString checks that ls is usable as an edge geometry.
func ValidateLineString(ls orb.LineString) error {
	if len(ls) < 2 {
		return fmt.Errorf("%w: got %d", ErrTooFewVertices, len(ls))
	}
	for i, p := range ls {
		lon, lat := p.Lon(), p.Lat()
		if math.IsNaN(lon) || math.IsInf(lon, 0) || math.IsNaN(lat) || math.IsInf(lat, 0) {
			return fmt.Errorf("%w: vertex %d", ErrNonFinite, i)
		}
		if lon < MinLon || lon > MaxLon || lat < MinLat || lat > MaxLat {
			return fmt.Errorf("%w: vertex %d (%g, %g)", ErrOutOfBounds, i, lon, lat)
		}
	}
	return nil
}

// CanonicalProperties encodes props as JSON with sorted keys at every level.
// A nil mapping encodes like an empty one.
func CanonicalProperties(props map[string]any) ([]byte, error) {
	if props == nil {
		return []byte("{}"), nil
	}
	// encoding/json sorts map keys, nested maps included.
	b, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}
	return b, nil
}

// PropsHash is the hex sha256 of the canonical property encoding.
func PropsHash(props map[string]any) (string, error) {
	b, err := CanonicalProperties(props)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// GeomHash is the hex sha256 of the vertex coordinates. Negative zero hashes
// like zero so that hash equality follows coordinate equality.
func GeomHash(ls orb.LineString) string {
	h := sha256.New()
	var buf [16]byte
	for _, p := range ls {
		binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(p[0]+0))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(p[1]+0))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Identity is the content-addressed key of an edge.
type Identity struct {
	PropsHash string
	GeomHash  string
}

// IdentityOf computes the identity of a property mapping and line.
func IdentityOf(props map[string]any, ls orb.LineString) (Identity, error) {
	ph, err := PropsHash(props)
	if err != nil {
		return Identity{}, err
	}
	return Identity{PropsHash: ph, GeomHash: GeomHash(ls)}, nil
}
