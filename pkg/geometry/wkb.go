package geometry

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// MarshalWKB encodes a line as little-endian WKB for ST_GeomFromWKB.
func MarshalWKB(ls orb.LineString) ([]byte, error) {
	b, err := wkb.Marshal(ls)
	if err != nil {
		return nil, fmt.Errorf("marshal wkb: %w", err)
	}
	return b, nil
}

// UnmarshalWKB decodes the output of ST_AsBinary into a line.
func UnmarshalWKB(b []byte) (orb.LineString, error) {
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("unmarshal wkb: %w", err)
	}
	ls, ok := g.(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("unmarshal wkb: expected LineString, got %s", g.GeoJSONType())
	}
	return ls, nil
}
