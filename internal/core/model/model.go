// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// Validate checks the WGS84 ranges: latitude [-90,90], longitude [-180,180].
func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return NewInvalidInput(fmt.Sprintf("latitude %.6f out of range [-90, 90]", c.Lat))
	}
	if c.Lng < -180 || c.Lng > 180 {
		return NewInvalidInput(fmt.Sprintf("longitude %.6f out of range [-180, 180]", c.Lng))
	}
	return nil
}

// LocationInput is one harvest target: exactly one of Coord or Address is set.
type LocationInput struct {
	Coord   *Coordinate
	Address string
}

func CoordInput(lat, lng float64) LocationInput {
	return LocationInput{Coord: &Coordinate{Lat: lat, Lng: lng}}
}

func AddressInput(addr string) LocationInput {
	return LocationInput{Address: addr}
}

func (l LocationInput) IsAddress() bool { return l.Coord == nil }

func (l LocationInput) String() string {
	if l.Coord != nil {
		return l.Coord.String()
	}
	return l.Address
}

// HarvestRequest is the parsed body of POST /harvest. Exactly one field is
// populated; the router rejects anything else before it reaches the service.
type HarvestRequest struct {
	Coordinates *Coordinate
	Address     string
	Route       []LocationInput
}

// PanoramaRecord describes the nearest panorama a provider returned for a
// resolved coordinate. IDs are opaque strings; provider identifiers routinely
// exceed 32-bit integer range and are never parsed numerically.
type PanoramaRecord struct {
	ID              string
	BuildID         string
	Coord           Coordinate
	HeadingRadians  float64
	ElevationMeters float64
	CapturedAt      time.Time
	DistanceMeters  float64
	SourceEncoding  string
	Provider        string
}

// Artifact is the decoded canonical image plus its assigned identity. Path is
// set by the store on save.
type Artifact struct {
	ID       string
	Bytes    []byte
	Encoding string
	Checksum string
	Path     string
}

// Checksum64 digests canonical image bytes into the "xx64:<hex>" form
// recorded in artifact metadata.
func Checksum64(b []byte) string {
	return fmt.Sprintf("xx64:%016x", xxhash.Sum64(b))
}

// HarvestResult is the outcome for one waypoint: an artifact/record pair or a
// typed failure in Err.
type HarvestResult struct {
	Input    LocationInput
	Artifact *Artifact
	Record   *PanoramaRecord
	Err      error
}

func (r HarvestResult) OK() bool { return r.Err == nil }

// MetadataRecord is the JSON shape stored alongside an artifact and returned
// under the response "metadata" map.
type MetadataRecord struct {
	ID             string     `json:"id"`
	BuildID        string     `json:"build_id"`
	Provider       string     `json:"provider"`
	Coordinates    Coordinate `json:"coordinates"`
	Heading        float64    `json:"heading"`
	Elevation      float64    `json:"elevation"`
	Date           string     `json:"date"`
	DistanceMeters float64    `json:"distance_meters"`
	SourceFormat   string     `json:"source_format"`
	OutputFormat   string     `json:"output_format"`
	Checksum       string     `json:"checksum"`
}

func NewMetadataRecord(a *Artifact, rec *PanoramaRecord) MetadataRecord {
	m := MetadataRecord{
		ID:             rec.ID,
		BuildID:        rec.BuildID,
		Provider:       rec.Provider,
		Coordinates:    rec.Coord,
		Heading:        rec.HeadingRadians,
		Elevation:      rec.ElevationMeters,
		DistanceMeters: rec.DistanceMeters,
		SourceFormat:   rec.SourceEncoding,
		OutputFormat:   a.Encoding,
		Checksum:       a.Checksum,
	}
	if !rec.CapturedAt.IsZero() {
		m.Date = rec.CapturedAt.UTC().Format(time.RFC3339)
	}
	return m
}

// WaypointError reports one failed waypoint in a route response.
type WaypointError struct {
	Index  int    `json:"index"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// HarvestResponse is the body of a successful or partially successful
// POST /harvest.
type HarvestResponse struct {
	FilePaths []string                  `json:"file_paths"`
	Metadata  map[string]MetadataRecord `json:"metadata"`
	Errors    []WaypointError           `json:"errors,omitempty"`
}
