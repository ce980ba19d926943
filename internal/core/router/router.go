// Package router parses POST /harvest bodies and maps failure kinds to HTTP
// statuses. Parsing is purely structural: coordinate ranges and address
// semantics are validated downstream so that route waypoints fail
// independently instead of aborting the whole request.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/videoforge/image-harvest/internal/core/model"
	"github.com/videoforge/image-harvest/internal/core/observability"
)

// invalidBodyDetail is returned for anything that cannot be mapped to one of
// the three accepted request shapes.
const invalidBodyDetail = "Must provide either coordinates, address, or route"

// maxBodyBytes bounds how much of a request body is read. Route requests are
// small; anything near this limit is garbage.
const maxBodyBytes = 1 << 20

// HarvestService runs a validated harvest request end to end.
type HarvestService interface {
	Harvest(ctx context.Context, req model.HarvestRequest) (*model.HarvestResponse, error)
}

// HandleHarvest validates the request body, calls the service, and renders
// the response. Failures are rendered as {"detail": ...} with the status
// derived from the failure kind.
func HandleHarvest(logger *slog.Logger, svc HarvestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		req, err := ParseHarvestRequest(r)
		if err != nil {
			writeFailure(sw, err)
			observability.ObserveHTTP(r.Method, "/harvest", sw.code, time.Since(start).Seconds())
			return
		}

		resp, err := svc.Harvest(r.Context(), req)
		if err != nil {
			if StatusFor(model.KindOf(err)) >= http.StatusInternalServerError {
				logger.Error("harvest failed", "kind", string(model.KindOf(err)), "err", err)
			}
			writeFailure(sw, err)
			observability.ObserveHTTP(r.Method, "/harvest", sw.code, time.Since(start).Seconds())
			return
		}

		writeJSON(sw, http.StatusOK, resp)
		observability.ObserveHTTP(r.Method, "/harvest", sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// StatusFor maps a failure kind to its HTTP status.
func StatusFor(kind model.Kind) int {
	switch kind {
	case model.KindInvalidInput:
		return http.StatusBadRequest
	case model.KindAddressNotFound, model.KindNoCoverage:
		return http.StatusNotFound
	case model.KindGeocodingUnavailable, model.KindProviderUnavailable,
		model.KindProviderProtocol, model.KindFetchFailed:
		return http.StatusBadGateway
	case model.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type failureBody struct {
	Detail string `json:"detail"`
}

func writeFailure(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(model.KindOf(err)), failureBody{Detail: model.DetailOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// harvestBody is the wire shape of POST /harvest. Route elements stay raw
// because each is either a coordinates object or a bare address string.
type harvestBody struct {
	Coordinates *model.Coordinate `json:"coordinates"`
	Address     string            `json:"address"`
	Route       []json.RawMessage `json:"route"`
}

// ParseHarvestRequest decodes one of the three accepted body shapes. Exactly
// one of coordinates, address, or route must be populated; malformed JSON and
// empty bodies map to the same invalid_input detail.
func ParseHarvestRequest(r *http.Request) (model.HarvestRequest, error) {
	var body harvestBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		return model.HarvestRequest{}, model.NewInvalidInput(invalidBodyDetail)
	}

	populated := 0
	out := model.HarvestRequest{}

	if body.Coordinates != nil {
		out.Coordinates = body.Coordinates
		populated++
	}
	if addr := strings.TrimSpace(body.Address); addr != "" {
		out.Address = addr
		populated++
	}
	if len(body.Route) > 0 {
		route := make([]model.LocationInput, 0, len(body.Route))
		for i, raw := range body.Route {
			in, err := parseWaypoint(i, raw)
			if err != nil {
				return model.HarvestRequest{}, err
			}
			route = append(route, in)
		}
		out.Route = route
		populated++
	}

	if populated != 1 {
		return model.HarvestRequest{}, model.NewInvalidInput(invalidBodyDetail)
	}
	return out, nil
}

// parseWaypoint maps one route element to the location union. Objects become
// coordinates, strings become addresses; anything else is a shape error.
func parseWaypoint(i int, raw json.RawMessage) (model.LocationInput, error) {
	el := bytes.TrimSpace(raw)
	if len(el) == 0 {
		return model.LocationInput{}, model.NewInvalidInput(fmt.Sprintf("route[%d]: empty element", i))
	}
	switch el[0] {
	case '{':
		var c model.Coordinate
		if err := json.Unmarshal(el, &c); err != nil {
			return model.LocationInput{}, model.NewInvalidInput(fmt.Sprintf("route[%d]: expected a {\"lat\",\"lng\"} object", i))
		}
		return model.LocationInput{Coord: &c}, nil
	case '"':
		var s string
		if err := json.Unmarshal(el, &s); err != nil || strings.TrimSpace(s) == "" {
			return model.LocationInput{}, model.NewInvalidInput(fmt.Sprintf("route[%d]: address must be a non-empty string", i))
		}
		return model.AddressInput(strings.TrimSpace(s)), nil
	default:
		return model.LocationInput{}, model.NewInvalidInput(fmt.Sprintf("route[%d]: expected a coordinates object or an address string", i))
	}
}
