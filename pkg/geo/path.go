package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// LinePath returns a GeoJSON FeatureCollection holding one LineString from
// `from` to `to`. No waypoints are added: the line ignores roads and obstacles.
func LinePath(from, to Point) ([]byte, error) {
	line := orb.LineString{
		{from.Lon, from.Lat},
		{to.Lon, to.Lat},
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(line))

	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode path: %w", err)
	}
	return data, nil
}

// ParsePath decodes a path produced by LinePath into its points.
func ParsePath(data []byte) ([]Point, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode path: %w", err)
	}
	for _, f := range fc.Features {
		line, ok := f.Geometry.(orb.LineString)
		if !ok {
			continue
		}
		points := make([]Point, len(line))
		for i, p := range line {
			points[i] = Point{Lat: p.Lat(), Lon: p.Lon()}
		}
		return points, nil
	}
	return nil, fmt.Errorf("path has no LineString feature")
}

// BoundAround returns a lat/lon box that contains the circle of radiusMeters
// around center. When the circle reaches a pole the box spans every longitude.
// When it crosses the antimeridian, Min.Lon is greater than Max.Lon and the
// box covers [Min.Lon, 180] plus [-180, Max.Lon].
func BoundAround(center Point, radiusMeters float64) orb.Bound {
	angular := radiusMeters / EarthRadius
	dLat := angular * (180.0 / math.Pi)
	minLat, maxLat := center.Lat-dLat, center.Lat+dLat

	if minLat <= -90 || maxLat >= 90 {
		return orb.Bound{
			Min: orb.Point{-180, math.Max(-90, minLat)},
			Max: orb.Point{180, math.Min(90, maxLat)},
		}
	}

	// Widest longitude offset, reached where the meridians touch the circle.
	dLon := math.Asin(math.Sin(angular)/math.Cos(center.Lat*(math.Pi/180.0))) * (180.0 / math.Pi)
	if math.IsNaN(dLon) {
		return orb.Bound{Min: orb.Point{-180, minLat}, Max: orb.Point{180, maxLat}}
	}

	return orb.Bound{
		Min: orb.Point{NormalizeLon(center.Lon - dLon), minLat},
		Max: orb.Point{NormalizeLon(center.Lon + dLon), maxLat},
	}
}

// CrossesAntimeridian reports whether a box from BoundAround wraps past ±180.
func CrossesAntimeridian(b orb.Bound) bool {
	return b.Min.Lon() > b.Max.Lon()
}
