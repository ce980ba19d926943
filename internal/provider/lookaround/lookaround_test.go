package lookaround

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
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

type upstream struct {
	t  *testing.T
	mu sync.Mutex

	tiles      map[tileCoord][]byte
	rawTile    []byte // returned verbatim for any tile when set
	tileStatus int
	tileCalls  int

	face         []byte
	faceStatus   int
	facePath     string
	sessionCalls int
}

func newClientAgainst(t *testing.T, u *upstream) *Client {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.sessionCalls++
		u.mu.Unlock()
		_, _ = w.Write([]byte(`{"session_token":"tok123"}`))
	})
	mux.HandleFunc("/api/tile", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Session-Token"); got != "tok123" {
			u.t.Errorf("tile request carried session token %q", got)
		}
		u.mu.Lock()
		u.tileCalls++
		status := u.tileStatus
		raw := u.rawTile
		tiles := u.tiles
		u.mu.Unlock()

		if status != 0 {
			http.Error(w, "tile error", status)
			return
		}
		if raw != nil {
			_, _ = w.Write(raw)
			return
		}
		x, _ := strconv.Atoi(r.URL.Query().Get("x"))
		y, _ := strconv.Atoi(r.URL.Query().Get("y"))
		if b, ok := tiles[tileCoord{x, y}]; ok {
			_, _ = w.Write(b)
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/api/pano/", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.facePath = r.URL.Path
		status := u.faceStatus
		face := u.face
		u.mu.Unlock()

		if status != 0 {
			http.Error(w, "face error", status)
			return
		}
		_, _ = w.Write(face)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.LookaroundCfg{AuthURL: srv.URL, TileURL: srv.URL, FaceZoom: 2}
	return New(cfg, fastPolicy(), srv.Client(), discardLogger())
}

// panoAt encodes p positioned at (lat, lng) inside that point's tile and
// returns the tile coordinate plus the encoded tile entry.
func panoAt(t *testing.T, lat, lng float64, p tilePano) (tileCoord, []byte) {
	t.Helper()
	x, y := wgs84ToTile(lat, lng, coverageZoom)
	nwLat, nwLng := tileNW(x, y, coverageZoom)
	p.latOffE7 = int64(math.Round((nwLat - lat) * 1e7))
	p.lngOffE7 = int64(math.Round((lng - nwLng) * 1e7))
	return tileCoord{x, y}, appendPano(nil, p)
}

// tileCenter returns a point deep inside a tile so selectTiles yields exactly
// one tile.
func tileCenter(t *testing.T) (float64, float64) {
	t.Helper()
	_, _, nwLat, nwLng, seLat, seLng := tileBounds(t, 37.33264, -122.005)
	return (nwLat + seLat) / 2, (nwLng + seLng) / 2
}

// meters of latitude per degree on the 6371 km sphere
const metersPerLatDegree = 111194.9266

func TestFindNearestPanorama_PicksClosest(t *testing.T) {
	reqLat, reqLng := tileCenter(t)

	tc, near := panoAt(t, reqLat+12.07/metersPerLatDegree, reqLng, tilePano{
		id:         10243860188544370938,
		buildID:    2303119785,
		headingMR:  1000,
		elevCM:     2371,
		capturedMS: 1686765729000,
	})
	_, far := panoAt(t, reqLat+40.0/metersPerLatDegree, reqLng, tilePano{id: 2, buildID: 1})

	u := &upstream{t: t, tiles: map[tileCoord][]byte{tc: append(near, far...)}}
	c := newClientAgainst(t, u)

	rec, err := c.FindNearestPanorama(context.Background(), model.Coordinate{Lat: reqLat, Lng: reqLng}, 50)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rec.ID != "10243860188544370938" {
		t.Fatalf("nearest pano id = %s", rec.ID)
	}
	if rec.BuildID != "2303119785" {
		t.Fatalf("build id = %s", rec.BuildID)
	}
	if math.Abs(rec.DistanceMeters-12.07) > 0.05 {
		t.Fatalf("distance = %v want ~12.07", rec.DistanceMeters)
	}
	if math.Abs(rec.HeadingRadians-(2*math.Pi-1.0)) > 1e-9 {
		t.Fatalf("native ccw heading 1.0 must become %v cw, got %v", 2*math.Pi-1.0, rec.HeadingRadians)
	}
	if rec.HeadingRadians < 0 || rec.HeadingRadians >= 2*math.Pi {
		t.Fatalf("heading %v outside [0, 2π)", rec.HeadingRadians)
	}
	if rec.ElevationMeters != 23.71 {
		t.Fatalf("elevation = %v want 23.71", rec.ElevationMeters)
	}
	if want := time.Date(2023, 6, 14, 18, 2, 9, 0, time.UTC); !rec.CapturedAt.Equal(want) {
		t.Fatalf("captured at %v want %v", rec.CapturedAt, want)
	}
	if rec.SourceEncoding != "heic" || rec.Provider != "lookaround" {
		t.Fatalf("record tags wrong: %+v", rec)
	}
}

func TestFindNearestPanorama_BeyondRadius(t *testing.T) {
	reqLat, reqLng := tileCenter(t)
	tc, pano := panoAt(t, reqLat+60.0/metersPerLatDegree, reqLng, tilePano{id: 3})

	u := &upstream{t: t, tiles: map[tileCoord][]byte{tc: pano}}
	c := newClientAgainst(t, u)

	_, err := c.FindNearestPanorama(context.Background(), model.Coordinate{Lat: reqLat, Lng: reqLng}, 50)
	if model.KindOf(err) != model.KindNoCoverage {
		t.Fatalf("expected no_coverage, got %v", err)
	}
	if model.DetailOf(err) != "No panoramas found within 50 meters of the location" {
		t.Fatalf("unexpected detail: %q", model.DetailOf(err))
	}
}

func TestFindNearestPanorama_NoCoverageTiles(t *testing.T) {
	reqLat, reqLng := tileCenter(t)
	u := &upstream{t: t, tiles: map[tileCoord][]byte{}}
	c := newClientAgainst(t, u)

	_, err := c.FindNearestPanorama(context.Background(), model.Coordinate{Lat: reqLat, Lng: reqLng}, 50)
	if model.KindOf(err) != model.KindNoCoverage {
		t.Fatalf("expected no_coverage, got %v", err)
	}
	if model.DetailOf(err) != "No coverage tiles found at this location" {
		t.Fatalf("unexpected detail: %q", model.DetailOf(err))
	}
}

func TestFindNearestPanorama_GarbageTileIsProtocolError(t *testing.T) {
	reqLat, reqLng := tileCenter(t)
	u := &upstream{t: t, rawTile: []byte{0xff, 0xff, 0xff}}
	c := newClientAgainst(t, u)

	_, err := c.FindNearestPanorama(context.Background(), model.Coordinate{Lat: reqLat, Lng: reqLng}, 50)
	if model.KindOf(err) != model.KindProviderProtocol {
		t.Fatalf("expected provider_protocol, got %v", err)
	}
}

func TestFindNearestPanorama_UpstreamDownAfterRetries(t *testing.T) {
	reqLat, reqLng := tileCenter(t)
	u := &upstream{t: t, tileStatus: http.StatusServiceUnavailable}
	c := newClientAgainst(t, u)

	_, err := c.FindNearestPanorama(context.Background(), model.Coordinate{Lat: reqLat, Lng: reqLng}, 50)
	if model.KindOf(err) != model.KindProviderUnavailable {
		t.Fatalf("expected provider_unavailable, got %v", err)
	}
	if u.tileCalls != 3 {
		t.Fatalf("got %d tile attempts want 3", u.tileCalls)
	}
}

func TestSessionToken_CachedAcrossCalls(t *testing.T) {
	reqLat, reqLng := tileCenter(t)
	u := &upstream{t: t, tiles: map[tileCoord][]byte{}}
	c := newClientAgainst(t, u)

	for range 2 {
		_, _ = c.FindNearestPanorama(context.Background(), model.Coordinate{Lat: reqLat, Lng: reqLng}, 50)
	}
	if u.sessionCalls != 1 {
		t.Fatalf("session fetched %d times, want 1", u.sessionCalls)
	}
}

func TestFetchRawImage_ReturnsHEIC(t *testing.T) {
	u := &upstream{t: t, face: []byte("heic-face-bytes")}
	c := newClientAgainst(t, u)

	rec := &model.PanoramaRecord{ID: "123", BuildID: "456"}
	b, enc, err := c.FetchRawImage(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if string(b) != "heic-face-bytes" {
		t.Fatalf("got body %q", b)
	}
	if enc != "heic" {
		t.Fatalf("encoding = %q want heic", enc)
	}
	if u.facePath != "/api/pano/123/456/0" {
		t.Fatalf("face path = %q", u.facePath)
	}
}

func TestFetchRawImage_NotFound(t *testing.T) {
	u := &upstream{t: t, faceStatus: http.StatusNotFound}
	c := newClientAgainst(t, u)

	_, _, err := c.FetchRawImage(context.Background(), &model.PanoramaRecord{ID: "9", BuildID: "1"})
	if model.KindOf(err) != model.KindFetchFailed {
		t.Fatalf("expected fetch_failed, got %v", err)
	}
}

func TestFetchRawImage_EmptyBodyIsProtocolError(t *testing.T) {
	u := &upstream{t: t, face: nil}
	c := newClientAgainst(t, u)

	_, _, err := c.FetchRawImage(context.Background(), &model.PanoramaRecord{ID: "9", BuildID: "1"})
	if model.KindOf(err) != model.KindProviderProtocol {
		t.Fatalf("expected provider_protocol, got %v", err)
	}
}
