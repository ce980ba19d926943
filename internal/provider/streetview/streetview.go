// Package streetview implements the imagery capability against a documented
// public metadata+image API. The metadata endpoint does its own radius
// filtering and hands back JPEG-encoded panorama crops.
package streetview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/videoforge/image-harvest/internal/core/config"
	"github.com/videoforge/image-harvest/internal/core/model"
	"github.com/videoforge/image-harvest/internal/core/observability"
	"github.com/videoforge/image-harvest/internal/geo"
	"github.com/videoforge/image-harvest/internal/retry"
)

const (
	Name           = "streetview"
	sourceEncoding = "jpeg"

	imageSize = "640x640"
	imageFOV  = "120"

	maxImageBytes = 16 << 20
)

// metadata is the wire shape of the metadata endpoint. Heading is optional;
// most panoramas omit it.
type metadata struct {
	Status   string `json:"status"`
	PanoID   string `json:"pano_id"`
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Date    string   `json:"date"`
	Heading *float64 `json:"heading"`
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	policy  retry.Policy
	logger  *slog.Logger
}

func New(cfg config.StreetviewCfg, policy retry.Policy, httpc *http.Client, logger *slog.Logger) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  httpc,
		policy:  policy,
		logger:  logger,
	}
}

func (c *Client) Name() string { return Name }

// FindNearestPanorama asks the metadata endpoint for the nearest outdoor
// panorama. ZERO_RESULTS means the source answered and has nothing in range;
// any other non-OK status is a protocol fault, not absence of coverage.
func (c *Client) FindNearestPanorama(ctx context.Context, at model.Coordinate, radiusMeters float64) (*model.PanoramaRecord, error) {
	start := time.Now()
	defer func() {
		observability.ObserveProvider(Name, "find_nearest", time.Since(start).Seconds())
	}()

	q := url.Values{}
	q.Set("location", fmt.Sprintf("%f,%f", at.Lat, at.Lng))
	q.Set("radius", strconv.Itoa(int(radiusMeters)))
	q.Set("source", "outdoor")
	q.Set("key", c.apiKey)

	var md metadata
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/streetview/metadata?"+q.Encode(), nil)
		if err != nil {
			return retry.Permanent(err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("metadata fetch: %w", err)
		}
		defer c.closeBody(resp)

		if resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("metadata status=%d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return retry.Permanent(model.NewProviderProtocol(Name,
				fmt.Errorf("metadata status=%d body=%q", resp.StatusCode, strings.TrimSpace(string(b)))))
		}
		if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
			return retry.Permanent(model.NewProviderProtocol(Name, fmt.Errorf("metadata decode: %w", err)))
		}
		return nil
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

	switch md.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, model.NewNoCoverage(radiusMeters)
	default:
		return nil, model.NewProviderProtocol(Name, fmt.Errorf("metadata status %q", md.Status))
	}
	if md.PanoID == "" {
		return nil, model.NewProviderProtocol(Name, fmt.Errorf("metadata response missing pano_id"))
	}

	rec := &model.PanoramaRecord{
		ID:             md.PanoID,
		Coord:          model.Coordinate{Lat: md.Location.Lat, Lng: md.Location.Lng},
		SourceEncoding: sourceEncoding,
		Provider:       Name,
	}
	rec.DistanceMeters = geo.Haversine(at.Lat, at.Lng, rec.Coord.Lat, rec.Coord.Lng)
	if md.Heading != nil {
		rec.HeadingRadians = geo.HeadingFromDegrees(*md.Heading)
	}
	if md.Date != "" {
		ts, err := time.Parse("2006-01", md.Date)
		if err != nil {
			c.logger.Warn("unparseable capture date", "date", md.Date, "err", err)
		} else {
			rec.CapturedAt = ts.UTC()
		}
	}
	return rec, nil
}

// FetchRawImage downloads a JPEG crop of rec oriented along its recorded
// heading.
func (c *Client) FetchRawImage(ctx context.Context, rec *model.PanoramaRecord) ([]byte, string, error) {
	start := time.Now()
	defer func() {
		observability.ObserveProvider(Name, "fetch_image", time.Since(start).Seconds())
	}()

	headingDeg := rec.HeadingRadians * 180 / math.Pi
	q := url.Values{}
	q.Set("pano", rec.ID)
	q.Set("size", imageSize)
	q.Set("fov", imageFOV)
	q.Set("heading", strconv.FormatFloat(headingDeg, 'f', 1, 64))
	q.Set("key", c.apiKey)

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/streetview?"+q.Encode(), nil)
		if err != nil {
			return retry.Permanent(err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("pano %s image: %w", rec.ID, err)
		}
		defer c.closeBody(resp)

		if resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("pano %s image status=%d", rec.ID, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return retry.Permanent(model.NewFetchFailed(Name,
				fmt.Errorf("pano %s image status=%d body=%q", rec.ID, resp.StatusCode, strings.TrimSpace(string(b)))))
		}

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
		if err != nil {
			return fmt.Errorf("pano %s image read: %w", rec.ID, err)
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
		return nil, "", model.NewProviderProtocol(Name, fmt.Errorf("pano %s image: empty body", rec.ID))
	}
	return body, sourceEncoding, nil
}

func (c *Client) closeBody(resp *http.Response) {
	if cerr := resp.Body.Close(); cerr != nil {
		c.logger.Warn("close response body", "err", cerr)
	}
}
