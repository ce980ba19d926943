package harvest

import (
	"context"
	"log/slog"
	"time"

	"github.com/videoforge/image-harvest/internal/core/model"
	"github.com/videoforge/image-harvest/internal/events/kafka"
)

// RouteFetcher is what the service runs a multi-waypoint request through.
type RouteFetcher interface {
	FetchRoute(ctx context.Context, route []model.LocationInput) []model.HarvestResult
}

// EventSink receives one completion event per stored artifact.
type EventSink interface {
	Publish(ev kafka.Event)
}

// Service is the externally callable harvest entry point.
type Service struct {
	fetcher WaypointFetcher
	routes  RouteFetcher
	events  EventSink
	logger  *slog.Logger
}

// NewService wires the single-waypoint and route paths. events may be nil
// when completion events are not configured.
func NewService(fetcher WaypointFetcher, routes RouteFetcher, events EventSink, logger *slog.Logger) *Service {
	return &Service{fetcher: fetcher, routes: routes, events: events, logger: logger}
}

// Harvest validates the request shape and runs the fetch. A single-location
// failure comes back as the typed error; route failures are reported per
// waypoint inside the response.
func (s *Service) Harvest(ctx context.Context, req model.HarvestRequest) (*model.HarvestResponse, error) {
	populated := 0
	if req.Coordinates != nil {
		populated++
	}
	if req.Address != "" {
		populated++
	}
	if len(req.Route) > 0 {
		populated++
	}
	if populated != 1 {
		return nil, model.NewInvalidInput("Must provide either coordinates, address, or route")
	}

	var results []model.HarvestResult
	switch {
	case req.Coordinates != nil:
		res := s.fetcher.Fetch(ctx, model.LocationInput{Coord: req.Coordinates})
		if res.Err != nil {
			return nil, res.Err
		}
		results = []model.HarvestResult{res}
	case req.Address != "":
		res := s.fetcher.Fetch(ctx, model.AddressInput(req.Address))
		if res.Err != nil {
			return nil, res.Err
		}
		results = []model.HarvestResult{res}
	default:
		results = s.routes.FetchRoute(ctx, req.Route)
	}

	resp := assemble(results)
	s.publish(results)

	s.logger.Info("harvest finished",
		"waypoints", len(results),
		"stored", len(resp.FilePaths),
		"failed", len(resp.Errors))
	return resp, nil
}

// assemble folds per-waypoint results into the response body, keeping
// waypoint order for paths and indexing errors by waypoint position.
func assemble(results []model.HarvestResult) *model.HarvestResponse {
	resp := &model.HarvestResponse{
		FilePaths: make([]string, 0, len(results)),
		Metadata:  make(map[string]model.MetadataRecord, len(results)),
	}
	for i, r := range results {
		if r.Err != nil {
			resp.Errors = append(resp.Errors, model.WaypointError{
				Index:  i,
				Kind:   string(model.KindOf(r.Err)),
				Detail: model.DetailOf(r.Err),
			})
			continue
		}
		resp.FilePaths = append(resp.FilePaths, r.Artifact.Path)
		resp.Metadata[r.Artifact.Path] = model.NewMetadataRecord(r.Artifact, r.Record)
	}
	return resp
}

func (s *Service) publish(results []model.HarvestResult) {
	if s.events == nil {
		return
	}
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		s.events.Publish(kafka.Event{
			ArtifactID: r.Artifact.ID,
			Path:       r.Artifact.Path,
			Provider:   r.Record.Provider,
			Lat:        r.Record.Coord.Lat,
			Lng:        r.Record.Coord.Lng,
			Checksum:   r.Artifact.Checksum,
			TS:         time.Now().UTC(),
		})
	}
}
