// Package lookaround implements the imagery capability against an internal
// tiled coverage API. The protocol is reverse-engineered: a short-lived
// session token gates access, coverage is enumerated via protobuf tiles at a
// fixed zoom, and panorama faces are served as HEIC.
package lookaround

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/videoforge/image-harvest/internal/core/config"
	"github.com/videoforge/image-harvest/internal/core/model"
	"github.com/videoforge/image-harvest/internal/core/observability"
	"github.com/videoforge/image-harvest/internal/geo"
	"github.com/videoforge/image-harvest/internal/retry"
)

const (
	Name           = "lookaround"
	sourceEncoding = "heic"

	// face 0 is the forward-facing capture; tiles and faces cap out well
	// under these bounds in practice.
	maxTileBytes = 4 << 20
	maxFaceBytes = 32 << 20
)

type Client struct {
	authURL  string
	tileURL  string
	faceZoom int
	client   *http.Client
	policy   retry.Policy
	logger   *slog.Logger

	mu    sync.Mutex
	token string
}

func New(cfg config.LookaroundCfg, policy retry.Policy, httpc *http.Client, logger *slog.Logger) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	faceZoom := cfg.FaceZoom
	if faceZoom < 0 {
		faceZoom = 0
	}
	return &Client{
		authURL:  strings.TrimRight(cfg.AuthURL, "/"),
		tileURL:  strings.TrimRight(cfg.TileURL, "/"),
		faceZoom: faceZoom,
		client:   httpc,
		policy:   policy,
		logger:   logger,
	}
}

func (c *Client) Name() string { return Name }

// FindNearestPanorama queries the adaptive tile set around at and returns the
// closest panorama, or a no_coverage failure when nothing lies within
// radiusMeters.
func (c *Client) FindNearestPanorama(ctx context.Context, at model.Coordinate, radiusMeters float64) (*model.PanoramaRecord, error) {
	token, err := c.sessionToken(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		observability.ObserveProvider(Name, "find_nearest", time.Since(start).Seconds())
	}()

	var best *model.PanoramaRecord
	for _, tc := range selectTiles(at.Lat, at.Lng, coverageZoom) {
		panos, err := c.fetchTile(ctx, tc, token)
		if err != nil {
			return nil, err
		}

		nwLat, nwLng := tileNW(tc.x, tc.y, coverageZoom)
		for _, p := range panos {
			rec := p.record(nwLat, nwLng)
			rec.DistanceMeters = geo.Haversine(at.Lat, at.Lng, rec.Coord.Lat, rec.Coord.Lng)
			if best == nil || rec.DistanceMeters < best.DistanceMeters {
				best = &rec
			}
		}
	}

	if best == nil {
		return nil, model.NewNoCoverageDetail("No coverage tiles found at this location")
	}
	if best.DistanceMeters > radiusMeters {
		return nil, model.NewNoCoverage(radiusMeters)
	}
	return best, nil
}

// FetchRawImage downloads the forward face of rec at the configured zoom.
func (c *Client) FetchRawImage(ctx context.Context, rec *model.PanoramaRecord) ([]byte, string, error) {
	token, err := c.sessionToken(ctx)
	if err != nil {
		return nil, "", err
	}

	start := time.Now()
	defer func() {
		observability.ObserveProvider(Name, "fetch_image", time.Since(start).Seconds())
	}()

	u := fmt.Sprintf("%s/api/pano/%s/%s/0?zoom=%d", c.tileURL, rec.ID, rec.BuildID, c.faceZoom)

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("X-Session-Token", token)

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("pano %s face: %w", rec.ID, err)
		}
		defer c.closeBody(resp)

		if resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("pano %s face status=%d", rec.ID, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return retry.Permanent(model.NewFetchFailed(Name,
				fmt.Errorf("pano %s face status=%d body=%q", rec.ID, resp.StatusCode, strings.TrimSpace(string(b)))))
		}

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxFaceBytes))
		if err != nil {
			return fmt.Errorf("pano %s face read: %w", rec.ID, err)
		}
		body = b
		return nil
	}

	if err := retry.Do(ctx, c.policy, op); err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		var f *model.Failure
		if errors.As(err, &f) {
			return nil, "", f
		}
		return nil, "", model.NewFetchFailed(Name, err)
	}
	if len(body) == 0 {
		return nil, "", model.NewProviderProtocol(Name, fmt.Errorf("pano %s face: empty body", rec.ID))
	}
	return body, sourceEncoding, nil
}

// fetchTile downloads and parses one coverage tile. Absent tiles (404/204)
// are empty, not errors.
func (c *Client) fetchTile(ctx context.Context, tc tileCoord, token string) ([]tilePano, error) {
	u := fmt.Sprintf("%s/api/tile?z=%d&x=%d&y=%d", c.tileURL, coverageZoom, tc.x, tc.y)

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("X-Session-Token", token)

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("tile %d/%d fetch: %w", tc.x, tc.y, err)
		}
		defer c.closeBody(resp)

		switch {
		case resp.StatusCode == http.StatusOK:
			b, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
			if err != nil {
				return fmt.Errorf("tile %d/%d read: %w", tc.x, tc.y, err)
			}
			body = b
			return nil
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
			body = nil
			return nil
		case resp.StatusCode >= 500:
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("tile %d/%d status=%d", tc.x, tc.y, resp.StatusCode)
		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return retry.Permanent(model.NewProviderProtocol(Name,
				fmt.Errorf("tile %d/%d status=%d body=%q", tc.x, tc.y, resp.StatusCode, strings.TrimSpace(string(b)))))
		}
	}

	if err := retry.Do(ctx, c.policy, op); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var f *model.Failure
		if errors.As(err, &f) {
			return nil, f
		}
		return nil, model.NewProviderUnavailable(Name, err)
	}
	if len(body) == 0 {
		return nil, nil
	}

	panos, err := parseTile(body)
	if err != nil {
		return nil, model.NewProviderProtocol(Name, err)
	}
	return panos, nil
}

// sessionToken returns the cached token, authenticating on first use. The
// token lives for the process lifetime; a failed exchange is retried on the
// next call.
func (c *Client) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	var out struct {
		SessionToken string `json:"session_token"`
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.authURL+"/session", nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("session: %w", err)
		}
		defer c.closeBody(resp)

		if resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("session status=%d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return retry.Permanent(fmt.Errorf("session status=%d body=%q", resp.StatusCode, strings.TrimSpace(string(b))))
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return retry.Permanent(model.NewProviderProtocol(Name, fmt.Errorf("session decode: %w", err)))
		}
		return nil
	}

	if err := retry.Do(ctx, c.policy, op); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var f *model.Failure
		if errors.As(err, &f) {
			return "", f
		}
		return "", model.NewProviderUnavailable(Name, err)
	}
	if out.SessionToken == "" {
		return "", model.NewProviderProtocol(Name, fmt.Errorf("session response missing token"))
	}
	c.token = out.SessionToken
	return c.token, nil
}

func (c *Client) closeBody(resp *http.Response) {
	if cerr := resp.Body.Close(); cerr != nil {
		c.logger.Warn("close response body", "err", cerr)
	}
}

// record positions p inside its tile and converts the native heading, which
// runs counter-clockwise from north, to the canonical clockwise convention.
func (p tilePano) record(nwLat, nwLng float64) model.PanoramaRecord {
	native := float64(p.headingMR) / 1000.0
	rec := model.PanoramaRecord{
		ID:              strconv.FormatUint(p.id, 10),
		BuildID:         strconv.FormatUint(p.buildID, 10),
		Coord: model.Coordinate{
			Lat: nwLat - float64(p.latOffE7)*1e-7,
			Lng: nwLng + float64(p.lngOffE7)*1e-7,
		},
		HeadingRadians:  geo.NormalizeHeading(2*math.Pi - native),
		ElevationMeters: float64(p.elevCM) / 100.0,
		SourceEncoding:  sourceEncoding,
		Provider:        Name,
	}
	if p.capturedMS > 0 {
		rec.CapturedAt = time.UnixMilli(int64(p.capturedMS)).UTC()
	}
	return rec
}
