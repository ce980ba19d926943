package lookaround

import (
	"math"

	"github.com/videoforge/image-harvest/internal/geo"
)

// Coverage is addressed by Web-Mercator slippy tiles at a fixed zoom.
const coverageZoom = 17

// Boundary thresholds driving the adaptive tile search: points deeper than
// centerOnlyThresholdM inside their tile query only that tile; an edge or
// corner within neighborThresholdM pulls in the adjacent tiles.
const (
	centerOnlyThresholdM = 75.0
	neighborThresholdM   = 50.0
	maxTiles             = 5
)

type tileCoord struct {
	x, y int
}

func wgs84ToTile(lat, lng float64, z int) (int, int) {
	n := float64(int(1) << z)
	x := int((lng + 180.0) / 360.0 * n)

	latRad := lat * math.Pi / 180
	y := int((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n)

	last := int(n) - 1
	if x < 0 {
		x = 0
	} else if x > last {
		x = last
	}
	if y < 0 {
		y = 0
	} else if y > last {
		y = last
	}
	return x, y
}

// tileNW returns the north-west corner of tile (x, y) at zoom z.
func tileNW(x, y, z int) (lat, lng float64) {
	n := float64(int(1) << z)
	lng = float64(x)/n*360.0 - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y)/n)))
	lat = latRad * 180 / math.Pi
	return lat, lng
}

// selectTiles returns the coverage tiles to query for a point, center tile
// first. Neighbors join the set when the point sits within
// neighborThresholdM of their shared edge; a near-corner point also pulls in
// the diagonal tile.
func selectTiles(lat, lng float64, z int) []tileCoord {
	x, y := wgs84ToTile(lat, lng, z)
	nwLat, nwLng := tileNW(x, y, z)
	seLat, seLng := tileNW(x+1, y+1, z)

	dWest := geo.Haversine(lat, lng, lat, nwLng)
	dEast := geo.Haversine(lat, lng, lat, seLng)
	dNorth := geo.Haversine(lat, lng, nwLat, lng)
	dSouth := geo.Haversine(lat, lng, seLat, lng)

	if min(dWest, dEast, dNorth, dSouth) > centerOnlyThresholdM {
		return []tileCoord{{x, y}}
	}

	dx := 0
	switch {
	case dWest <= neighborThresholdM && dWest <= dEast:
		dx = -1
	case dEast <= neighborThresholdM:
		dx = 1
	}
	dy := 0
	switch {
	case dNorth <= neighborThresholdM && dNorth <= dSouth:
		dy = -1
	case dSouth <= neighborThresholdM:
		dy = 1
	}

	tiles := []tileCoord{{x, y}}
	if dx != 0 {
		tiles = append(tiles, tileCoord{x + dx, y})
	}
	if dy != 0 {
		tiles = append(tiles, tileCoord{x, y + dy})
	}
	if dx != 0 && dy != 0 {
		tiles = append(tiles, tileCoord{x + dx, y + dy})
	}

	out := tiles[:0]
	last := (1 << z) - 1
	for _, t := range tiles {
		if t.y < 0 || t.y > last {
			continue
		}
		// longitude wraps at the antimeridian
		if t.x < 0 {
			t.x += last + 1
		} else if t.x > last {
			t.x -= last + 1
		}
		out = append(out, t)
	}
	if len(out) > maxTiles {
		out = out[:maxTiles]
	}
	return out
}
