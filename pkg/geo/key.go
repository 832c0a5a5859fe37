package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// KeyPrecision is the number of decimals kept in a location key (~0.11 m).
const KeyPrecision = 6

var keyScale = math.Pow(10, KeyPrecision)

// LocationKey encodes a coordinate as "lat,lon" with a fixed number of
// decimals, so numerically equal inputs always produce the same key.
func LocationKey(lat, lon float64) string {
	return formatCoord(lat) + "," + formatCoord(lon)
}

// Key returns the location key of p.
func (p Point) Key() string {
	return LocationKey(p.Lat, p.Lon)
}

// ParseLocationKey decodes a key produced by LocationKey.
func ParseLocationKey(key string) (Point, error) {
	latStr, lonStr, ok := strings.Cut(key, ",")
	if !ok {
		return Point{}, fmt.Errorf("invalid location key %q", key)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid latitude in key %q: %w", key, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid longitude in key %q: %w", key, err)
	}
	return Point{Lat: lat, Lon: lon}, nil
}

func formatCoord(v float64) string {
	r := math.Round(v*keyScale) / keyScale
	if r == 0 {
		r = 0 // drop the sign of -0
	}
	return strconv.FormatFloat(r, 'f', KeyPrecision, 64)
}
