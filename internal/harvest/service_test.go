package harvest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/videoforge/image-harvest/internal/core/model"
	"github.com/videoforge/image-harvest/internal/events/kafka"
)

type svcFetchStub struct {
	res model.HarvestResult
}

func (s svcFetchStub) Fetch(_ context.Context, in model.LocationInput) model.HarvestResult {
	res := s.res
	res.Input = in
	return res
}

type svcRouteStub struct {
	results []model.HarvestResult
	got     []model.LocationInput
}

func (s *svcRouteStub) FetchRoute(_ context.Context, route []model.LocationInput) []model.HarvestResult {
	s.got = route
	return s.results
}

type sinkStub struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (s *sinkStub) Publish(ev kafka.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func okResult(i int) model.HarvestResult {
	return model.HarvestResult{
		Artifact: &model.Artifact{
			ID:       fmt.Sprintf("art-%d", i),
			Encoding: "jpg",
			Checksum: fmt.Sprintf("xx64:%016x", i),
			Path:     fmt.Sprintf("/out/art-%d.jpg", i),
		},
		Record: &model.PanoramaRecord{
			ID:             fmt.Sprintf("pano-%d", i),
			Provider:       "lookaround",
			Coord:          model.Coordinate{Lat: 37.33264, Lng: -122.005},
			SourceEncoding: "heic",
		},
	}
}

func TestHarvest_RequiresExactlyOneField(t *testing.T) {
	svc := NewService(svcFetchStub{}, &svcRouteStub{}, nil, discardLogger())

	cases := []model.HarvestRequest{
		{},
		{Coordinates: &model.Coordinate{Lat: 1, Lng: 2}, Address: "somewhere"},
		{Address: "somewhere", Route: []model.LocationInput{model.AddressInput("x")}},
	}
	for i, req := range cases {
		_, err := svc.Harvest(context.Background(), req)
		if model.KindOf(err) != model.KindInvalidInput {
			t.Fatalf("case %d: expected invalid_input, got %v", i, err)
		}
		if model.DetailOf(err) != "Must provide either coordinates, address, or route" {
			t.Fatalf("case %d: detail = %q", i, model.DetailOf(err))
		}
	}
}

func TestHarvest_SingleCoordinate(t *testing.T) {
	sink := &sinkStub{}
	svc := NewService(svcFetchStub{res: okResult(0)}, &svcRouteStub{}, sink, discardLogger())

	resp, err := svc.Harvest(context.Background(), model.HarvestRequest{
		Coordinates: &model.Coordinate{Lat: 37.33264, Lng: -122.005},
	})
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if len(resp.FilePaths) != 1 || resp.FilePaths[0] != "/out/art-0.jpg" {
		t.Fatalf("file_paths = %v", resp.FilePaths)
	}
	md, ok := resp.Metadata["/out/art-0.jpg"]
	if !ok {
		t.Fatal("metadata not keyed by stored path")
	}
	if md.ID != "pano-0" || md.Provider != "lookaround" || md.OutputFormat != "jpg" {
		t.Fatalf("metadata = %+v", md)
	}
	if len(resp.Errors) != 0 {
		t.Fatalf("errors = %+v", resp.Errors)
	}

	if len(sink.events) != 1 {
		t.Fatalf("published %d events", len(sink.events))
	}
	ev := sink.events[0]
	if ev.ArtifactID != "art-0" || ev.Path != "/out/art-0.jpg" || ev.Provider != "lookaround" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Lat != 37.33264 || ev.Lng != -122.005 || ev.TS.IsZero() {
		t.Fatalf("event coords/ts = %+v", ev)
	}
}

func TestHarvest_SingleAddress(t *testing.T) {
	svc := NewService(svcFetchStub{res: okResult(0)}, &svcRouteStub{}, nil, discardLogger())

	resp, err := svc.Harvest(context.Background(), model.HarvestRequest{Address: "1 Apple Park Way"})
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if len(resp.FilePaths) != 1 {
		t.Fatalf("file_paths = %v", resp.FilePaths)
	}
}

func TestHarvest_SingleFailureReturnsTypedError(t *testing.T) {
	sink := &sinkStub{}
	svc := NewService(svcFetchStub{res: model.HarvestResult{Err: model.NewNoCoverage(50)}},
		&svcRouteStub{}, sink, discardLogger())

	_, err := svc.Harvest(context.Background(), model.HarvestRequest{
		Coordinates: &model.Coordinate{Lat: 1, Lng: 2},
	})
	if model.KindOf(err) != model.KindNoCoverage {
		t.Fatalf("expected no_coverage, got %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("events published for a failed harvest: %d", len(sink.events))
	}
}

func TestHarvest_RouteMiddleFailure(t *testing.T) {
	sink := &sinkStub{}
	routes := &svcRouteStub{results: []model.HarvestResult{
		okResult(0),
		{Err: model.NewNoCoverage(50)},
		okResult(2),
	}}
	svc := NewService(svcFetchStub{}, routes, sink, discardLogger())

	route := []model.LocationInput{
		model.CoordInput(1, 1),
		model.CoordInput(2, 2),
		model.CoordInput(3, 3),
	}
	resp, err := svc.Harvest(context.Background(), model.HarvestRequest{Route: route})
	if err != nil {
		t.Fatalf("route with partial failure must not error: %v", err)
	}
	if len(routes.got) != 3 {
		t.Fatalf("orchestrator saw %d waypoints", len(routes.got))
	}

	want := []string{"/out/art-0.jpg", "/out/art-2.jpg"}
	if len(resp.FilePaths) != 2 || resp.FilePaths[0] != want[0] || resp.FilePaths[1] != want[1] {
		t.Fatalf("file_paths = %v", resp.FilePaths)
	}
	if len(resp.Metadata) != 2 {
		t.Fatalf("metadata has %d entries", len(resp.Metadata))
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("errors = %+v", resp.Errors)
	}
	we := resp.Errors[0]
	if we.Index != 1 || we.Kind != "no_coverage" {
		t.Fatalf("waypoint error = %+v", we)
	}
	if we.Detail != "No panoramas found within 50 meters of the location" {
		t.Fatalf("detail = %q", we.Detail)
	}

	if len(sink.events) != 2 {
		t.Fatalf("published %d events, want 2", len(sink.events))
	}
}

func TestHarvest_NilEventSink(t *testing.T) {
	svc := NewService(svcFetchStub{res: okResult(0)}, &svcRouteStub{}, nil, discardLogger())
	if _, err := svc.Harvest(context.Background(), model.HarvestRequest{
		Coordinates: &model.Coordinate{Lat: 1, Lng: 2},
	}); err != nil {
		t.Fatalf("Harvest with nil sink: %v", err)
	}
}
