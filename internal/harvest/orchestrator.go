package harvest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/videoforge/image-harvest/internal/core/model"
	mylog "github.com/videoforge/image-harvest/internal/logger"
)

// WaypointFetcher is what the orchestrator runs per route element.
type WaypointFetcher interface {
	Fetch(ctx context.Context, in model.LocationInput) model.HarvestResult
}

// Orchestrator fans a route out over a bounded worker pool. Waypoints are
// independent: one failing never cancels another, and output order always
// matches input order regardless of completion order.
type Orchestrator struct {
	fetcher WaypointFetcher
	workers int
	logger  *slog.Logger
}

func NewOrchestrator(f WaypointFetcher, workers int, logger *slog.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{fetcher: f, workers: workers, logger: logger}
}

type job struct {
	index int
	input model.LocationInput
}

type indexed struct {
	index  int
	result model.HarvestResult
}

// FetchRoute returns one result per waypoint, in waypoint order. On caller
// cancellation, in-flight waypoints finish with whatever their deadline
// produced and unstarted ones report a timeout failure.
func (o *Orchestrator) FetchRoute(ctx context.Context, route []model.LocationInput) []model.HarvestResult {
	results := make([]model.HarvestResult, len(route))
	for i, in := range route {
		results[i] = model.HarvestResult{Input: in, Err: model.NewTimeout(ctx.Err())}
	}
	if len(route) == 0 {
		return results
	}

	jobs := make(chan job, len(route))
	out := make(chan indexed, len(route))

	var wg sync.WaitGroup
	wg.Add(o.workers)
	for range o.workers {
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				wpCtx := mylog.WithWaypoint(ctx, j.index)
				out <- indexed{j.index, o.fetcher.Fetch(wpCtx, j.input)}
			}
		}()
	}

	for i, in := range route {
		jobs <- job{index: i, input: in}
	}
	close(jobs)
	wg.Wait()
	close(out)

	done := 0
	for r := range out {
		results[r.index] = r.result
		done++
	}
	if done < len(route) {
		o.logger.Warn("route abandoned before completion",
			"waypoints", len(route), "finished", done)
	}
	return results
}
