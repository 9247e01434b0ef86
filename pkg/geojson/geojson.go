// Package geojson converts between GeoJSON FeatureCollections and the
// candidate and edge types of the core.
package geojson

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"

	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// MaxUploadBytes bounds the size of a decoded upload.
const MaxUploadBytes = 256 << 20

var filenamePattern = regexp.MustCompile(`^road_network_([a-zA-Z0-9_]+)_(\d+\.\d+)\.geojson$`)

// ParseFilename extracts the network name and version label from an upload
// filename of the form road_network_<name>_<version>.geojson.
func ParseFilename(filename string) (name, version string, err error) {
	m := filenamePattern.FindStringSubmatch(filename)
	if m == nil {
		return "", "", roadnet.NewError("parse filename", roadnet.ErrInvalidFilename).
			Detail("%q does not match road_network_<name>_<version>.geojson", filename).
			Err()
	}
	return m[1], m[2], nil
}

// Decode reads a FeatureCollection of LineString features into candidates,
// keeping feature order. A feature with another geometry type fails with
// roadnet.ErrInvalidCandidateEdge carrying its index.
func Decode(r io.Reader) ([]roadnet.Candidate, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read geojson: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, roadnet.NewError("decode geojson", roadnet.ErrInvalidCandidateEdge).
			Detail("upload exceeds %d bytes", MaxUploadBytes).
			Err()
	}
	return Unmarshal(data)
}

// Unmarshal is Decode over a byte slice.
func Unmarshal(data []byte) ([]roadnet.Candidate, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, roadnet.NewError("decode geojson", roadnet.ErrInvalidCandidateEdge).
			Detail("not a valid GeoJSON FeatureCollection").
			Cause(err).
			Err()
	}

	out := make([]roadnet.Candidate, len(fc.Features))
	for i, f := range fc.Features {
		ls, ok := f.Geometry.(orb.LineString)
		if !ok {
			kind := "null"
			if f.Geometry != nil {
				kind = f.Geometry.GeoJSONType()
			}
			return nil, roadnet.NewError("decode geojson", roadnet.ErrInvalidCandidateEdge).
				Candidate(i).
				Detail("geometry type %s, want LineString", kind).
				Err()
		}
		props := roadnet.Properties(f.Properties)
		if props == nil {
			props = roadnet.Properties{}
		}
		out[i] = roadnet.Candidate{Properties: props, Geometry: ls}
	}
	return out, nil
}

// FeatureCollection builds the GeoJSON view of an edge set. Features carry
// the row id.
func FeatureCollection(edges []*roadnet.Edge) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, e := range edges {
		f := geojson.NewFeature(e.Geometry)
		f.ID = e.ID
		f.Properties = geojson.Properties(e.Properties)
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		fc.Append(f)
	}
	return fc
}

// Marshal returns the FeatureCollection encoding of edges.
func Marshal(edges []*roadnet.Edge) ([]byte, error) {
	data, err := json.Marshal(FeatureCollection(edges))
	if err != nil {
		return nil, fmt.Errorf("encode geojson: %w", err)
	}
	return data, nil
}
