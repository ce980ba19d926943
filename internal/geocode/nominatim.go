package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/videoforge/image-harvest/internal/core/config"
	"github.com/videoforge/image-harvest/internal/core/model"
	"github.com/videoforge/image-harvest/internal/retry"
)

// nominatimResult is the wire shape of one /search element. Nominatim encodes
// coordinates as strings.
type nominatimResult struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
}

// Nominatim is a Geocoder backed by a Nominatim-style HTTP endpoint. Every
// request carries the configured User-Agent and passes the politeness
// limiter, both required by the public endpoint's usage policy.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *limiter
	policy    retry.Policy
	logger    *slog.Logger
}

func NewNominatim(cfg config.GeocoderCfg, policy retry.Policy, client *http.Client, logger *slog.Logger) *Nominatim {
	if client == nil {
		client = http.DefaultClient
	}
	return &Nominatim{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		userAgent: cfg.UserAgent,
		client:    client,
		limiter:   newLimiter(cfg.RPS),
		policy:    policy,
		logger:    logger,
	}
}

func (n *Nominatim) Search(ctx context.Context, address string) ([]Result, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "5")

	var raw []nominatimResult
	if err := n.get(ctx, n.baseURL+"/search?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(raw))
	for _, r := range raw {
		lat, latErr := strconv.ParseFloat(r.Lat, 64)
		lng, lngErr := strconv.ParseFloat(r.Lon, 64)
		if latErr != nil || lngErr != nil {
			return nil, model.NewGeocodingUnavailable(
				fmt.Errorf("nominatim returned non-numeric coordinates %q,%q", r.Lat, r.Lon))
		}
		out = append(out, Result{
			Coord:       model.Coordinate{Lat: lat, Lng: lng},
			DisplayName: r.DisplayName,
			Importance:  r.Importance,
		})
	}
	return out, nil
}

func (n *Nominatim) Reverse(ctx context.Context, coord model.Coordinate) (string, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(coord.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(coord.Lng, 'f', -1, 64))
	q.Set("format", "json")

	var raw struct {
		DisplayName string `json:"display_name"`
	}
	if err := n.get(ctx, n.baseURL+"/reverse?"+q.Encode(), &raw); err != nil {
		return "", err
	}
	return raw.DisplayName, nil
}

// get fetches rawURL into dst. 5xx and transport errors are retried under the
// policy; 4xx and malformed bodies are permanent. Retry exhaustion surfaces
// as GeocodingUnavailable.
func (n *Nominatim) get(ctx context.Context, rawURL string, dst any) error {
	op := func() error {
		if err := n.limiter.wait(ctx); err != nil {
			return retry.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("User-Agent", n.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return fmt.Errorf("nominatim GET: %w", err)
		}
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				n.logger.Warn("close response body", "err", cerr)
			}
		}()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			return fmt.Errorf("nominatim status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			return retry.Permanent(fmt.Errorf("nominatim status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
		}
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return retry.Permanent(fmt.Errorf("nominatim decode: %w", err))
		}
		return nil
	}

	if err := retry.Do(ctx, n.policy, op); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return model.NewGeocodingUnavailable(err)
	}
	return nil
}

// limiter spaces requests to the configured per-second budget. The public
// Nominatim endpoint allows one request per second per application.
type limiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

func newLimiter(rps float64) *limiter {
	if rps <= 0 {
		return &limiter{}
	}
	return &limiter{interval: time.Duration(float64(time.Second) / rps)}
}

func (l *limiter) wait(ctx context.Context) error {
	if l.interval <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	at := l.next
	if at.Before(now) {
		at = now
	}
	l.next = at.Add(l.interval)
	l.mu.Unlock()

	d := time.Until(at)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
