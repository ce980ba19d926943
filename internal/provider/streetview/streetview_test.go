package streetview

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/videoforge/image-harvest/internal/core/config"
	"github.com/videoforge/image-harvest/internal/core/model"
	"github.com/videoforge/image-harvest/internal/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.StreetviewCfg{URL: srv.URL, APIKey: "test-key"}, fastPolicy(), srv.Client(), discardLogger())
}

func TestFindNearestPanorama_OK(t *testing.T) {
	var gotQuery url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/streetview/metadata" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{
			"status": "OK",
			"pano_id": "pano-abc123",
			"location": {"lat": 37.33275, "lng": -122.00510},
			"date": "2023-06",
			"heading": 90.0,
			"copyright": "test"
		}`))
	})

	rec, err := c.FindNearestPanorama(context.Background(), model.Coordinate{Lat: 37.33264, Lng: -122.00510}, 50)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rec.ID != "pano-abc123" {
		t.Fatalf("id = %q", rec.ID)
	}
	if rec.Coord.Lat != 37.33275 || rec.Coord.Lng != -122.00510 {
		t.Fatalf("coord = %+v", rec.Coord)
	}
	if math.Abs(rec.HeadingRadians-math.Pi/2) > 1e-9 {
		t.Fatalf("heading = %v want π/2", rec.HeadingRadians)
	}
	if want := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC); !rec.CapturedAt.Equal(want) {
		t.Fatalf("captured at %v want %v", rec.CapturedAt, want)
	}
	if rec.DistanceMeters < 11 || rec.DistanceMeters > 14 {
		t.Fatalf("distance = %v want roughly 12m", rec.DistanceMeters)
	}
	if rec.SourceEncoding != "jpeg" || rec.Provider != "streetview" {
		t.Fatalf("record tags wrong: %+v", rec)
	}

	if gotQuery.Get("source") != "outdoor" {
		t.Errorf("source = %q", gotQuery.Get("source"))
	}
	if gotQuery.Get("radius") != "50" {
		t.Errorf("radius = %q", gotQuery.Get("radius"))
	}
	if gotQuery.Get("key") != "test-key" {
		t.Errorf("key = %q", gotQuery.Get("key"))
	}
	if gotQuery.Get("location") == "" {
		t.Error("location param missing")
	}
}

func TestFindNearestPanorama_MissingHeadingDefaultsToZero(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK","pano_id":"p1","location":{"lat":1,"lng":2},"date":"2020-01"}`))
	})

	rec, err := c.FindNearestPanorama(context.Background(), model.Coordinate{Lat: 1, Lng: 2}, 50)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rec.HeadingRadians != 0 {
		t.Fatalf("heading = %v want 0", rec.HeadingRadians)
	}
}

func TestFindNearestPanorama_ZeroResults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS"}`))
	})

	_, err := c.FindNearestPanorama(context.Background(), model.Coordinate{Lat: 1, Lng: 2}, 50)
	if model.KindOf(err) != model.KindNoCoverage {
		t.Fatalf("expected no_coverage, got %v", err)
	}
	if model.DetailOf(err) != "No panoramas found within 50 meters of the location" {
		t.Fatalf("unexpected detail: %q", model.DetailOf(err))
	}
}

func TestFindNearestPanorama_UnexpectedStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"REQUEST_DENIED"}`))
	})

	_, err := c.FindNearestPanorama(context.Background(), model.Coordinate{Lat: 1, Lng: 2}, 50)
	if model.KindOf(err) != model.KindProviderProtocol {
		t.Fatalf("expected provider_protocol, got %v", err)
	}
}

func TestFindNearestPanorama_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream sad", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":"OK","pano_id":"p1","location":{"lat":1,"lng":2}}`))
	})

	rec, err := c.FindNearestPanorama(context.Background(), model.Coordinate{Lat: 1, Lng: 2}, 50)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rec.ID != "p1" {
		t.Fatalf("id = %q", rec.ID)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("got %d calls want 3", got)
	}
}

func TestFindNearestPanorama_UnavailableAfterRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	_, err := c.FindNearestPanorama(context.Background(), model.Coordinate{Lat: 1, Lng: 2}, 50)
	if model.KindOf(err) != model.KindProviderUnavailable {
		t.Fatalf("expected provider_unavailable, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("got %d calls want 3", got)
	}
}

func TestFetchRawImage_SendsOrientationParams(t *testing.T) {
	var gotQuery url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/streetview" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte("jpeg-bytes"))
	})

	rec := &model.PanoramaRecord{ID: "pano-1", HeadingRadians: math.Pi / 2}
	b, enc, err := c.FetchRawImage(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if string(b) != "jpeg-bytes" || enc != "jpeg" {
		t.Fatalf("got %q %q", b, enc)
	}
	if gotQuery.Get("pano") != "pano-1" {
		t.Errorf("pano = %q", gotQuery.Get("pano"))
	}
	if gotQuery.Get("size") != "640x640" || gotQuery.Get("fov") != "120" {
		t.Errorf("size/fov = %q/%q", gotQuery.Get("size"), gotQuery.Get("fov"))
	}
	if gotQuery.Get("heading") != "90.0" {
		t.Errorf("heading = %q want 90.0", gotQuery.Get("heading"))
	}
	if gotQuery.Get("key") != "test-key" {
		t.Errorf("key = %q", gotQuery.Get("key"))
	}
}

func TestFetchRawImage_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, _, err := c.FetchRawImage(context.Background(), &model.PanoramaRecord{ID: "p1"})
	if model.KindOf(err) != model.KindFetchFailed {
		t.Fatalf("expected fetch_failed, got %v", err)
	}
}
