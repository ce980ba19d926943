package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestCoordinateValidate_Ranges(t *testing.T) {
	if err := (Coordinate{Lat: 37.33264, Lng: -122.005}).Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := (Coordinate{Lat: 90, Lng: 180}).Validate(); err != nil {
		t.Fatalf("boundary values must be valid: %v", err)
	}
	if err := (Coordinate{Lat: 91, Lng: 0}).Validate(); KindOf(err) != KindInvalidInput {
		t.Fatalf("expected invalid_input for latitude 91, got %v", err)
	}
	if err := (Coordinate{Lat: 0, Lng: -180.1}).Validate(); KindOf(err) != KindInvalidInput {
		t.Fatalf("expected invalid_input for longitude -180.1, got %v", err)
	}
}

func TestKindOf_TypedAndWrapped(t *testing.T) {
	f := NewNoCoverage(50)
	if KindOf(f) != KindNoCoverage {
		t.Fatalf("got %s want %s", KindOf(f), KindNoCoverage)
	}

	wrapped := fmt.Errorf("waypoint 2: %w", f)
	if KindOf(wrapped) != KindNoCoverage {
		t.Fatalf("kind must survive %%w wrapping, got %s", KindOf(wrapped))
	}

	if KindOf(context.DeadlineExceeded) != KindTimeout {
		t.Fatalf("deadline exceeded must map to timeout")
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatalf("untyped errors must map to internal")
	}
}

func TestNoCoverageDetail_NamesRadius(t *testing.T) {
	f := NewNoCoverage(50)
	if !strings.Contains(f.Detail, "50 meters") {
		t.Fatalf("detail must reference the radius: %q", f.Detail)
	}
	if f.Detail != "No panoramas found within 50 meters of the location" {
		t.Fatalf("unexpected detail: %q", f.Detail)
	}
}

func TestFailureUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	f := NewProviderUnavailable("lookaround", cause)
	if !errors.Is(f, cause) {
		t.Fatal("wrapped cause must be reachable via errors.Is")
	}
	if !strings.Contains(f.Error(), "lookaround") {
		t.Fatalf("error text must name the provider: %q", f.Error())
	}
}

func TestChecksum64_ShapeAndDeterminism(t *testing.T) {
	a := Checksum64([]byte("panorama bytes"))
	b := Checksum64([]byte("panorama bytes"))
	if a != b {
		t.Fatalf("checksum not deterministic: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "xx64:") || len(a) != len("xx64:")+16 {
		t.Fatalf("unexpected checksum shape: %s", a)
	}
	if Checksum64([]byte("other")) == a {
		t.Fatal("different bytes must not collide in test inputs")
	}
}

func TestNewMetadataRecord_Fields(t *testing.T) {
	captured := time.Date(2023, 6, 14, 18, 2, 9, 0, time.UTC)
	rec := &PanoramaRecord{
		ID:              "10243860188544370938",
		BuildID:         "2303119785",
		Coord:           Coordinate{Lat: 37.33264, Lng: -122.005001},
		HeadingRadians:  4.13517,
		ElevationMeters: 23.71,
		CapturedAt:      captured,
		DistanceMeters:  12.07,
		SourceEncoding:  "heic",
		Provider:        "lookaround",
	}
	art := &Artifact{ID: "2Q1xyz", Encoding: "jpg", Checksum: "xx64:0000000000000001"}

	m := NewMetadataRecord(art, rec)
	if m.ID != rec.ID || m.BuildID != rec.BuildID {
		t.Fatalf("identifier fields lost: %+v", m)
	}
	if m.Date != "2023-06-14T18:02:09Z" {
		t.Fatalf("date must be RFC3339 UTC, got %q", m.Date)
	}
	if m.SourceFormat != "heic" || m.OutputFormat != "jpg" {
		t.Fatalf("format fields wrong: %+v", m)
	}
	if m.DistanceMeters != 12.07 {
		t.Fatalf("distance lost: %v", m.DistanceMeters)
	}
}

func TestLocationInput_Union(t *testing.T) {
	c := CoordInput(1, 2)
	if c.IsAddress() {
		t.Fatal("coordinate input misclassified as address")
	}
	a := AddressInput("1 Infinite Loop, Cupertino")
	if !a.IsAddress() {
		t.Fatal("address input misclassified as coordinate")
	}
	if a.String() != "1 Infinite Loop, Cupertino" {
		t.Fatalf("address String() = %q", a.String())
	}
}
