package tiles

import (
	"fmt"
	"iter"
	"math"
)

// MaxLatitude is the Web-Mercator latitude limit; tiles do not extend beyond it.
const MaxLatitude = 85.05112878

// kmPerDegree approximates one degree of latitude.
const kmPerDegree = 111.0

// Coord addresses one slippy-map tile.
type Coord struct {
	Z, X, Y int
}

func (c Coord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// Key returns the relative cache path of the tile: "{z}/{x}/{y}.{ext}".
func (c Coord) Key(ext string) string {
	return fmt.Sprintf("%d/%d/%d.%s", c.Z, c.X, c.Y, ext)
}

// Valid reports whether the indices exist at the tile's zoom level.
func (c Coord) Valid() bool {
	if c.Z < 0 || c.Z > MaxZoom {
		return false
	}
	n := 1 << c.Z
	return c.X >= 0 && c.X < n && c.Y >= 0 && c.Y < n
}

// FromLatLon projects a coordinate onto the tile grid at zoom.
// Latitude is clamped to the Mercator limits and the antimeridian maps to the
// last column, so the result is always Valid.
func FromLatLon(lat, lon float64, zoom int) Coord {
	lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
	latRad := lat * math.Pi / 180
	n := math.Exp2(float64(zoom))

	x := int(math.Floor((lon + 180) / 360 * n))
	y := int(math.Floor((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n))

	return Coord{Z: zoom, X: clamp(x, int(n)-1), Y: clamp(y, int(n)-1)}
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

// MaxZoom is the deepest zoom level the tile grid is addressed at.
const MaxZoom = 30

// RadiusInTiles converts a radius in kilometers into a half-width in tile
// units at zoom, using 2^zoom/111 tiles per kilometer and rounding up. It is
// capped at 2^zoom, beyond which the square only adds cells outside the grid.
func RadiusInTiles(zoom int, radiusKm float64) int {
	if radiusKm <= 0 || zoom < 0 || zoom > MaxZoom {
		return 0
	}
	n := math.Exp2(float64(zoom))
	r := math.Ceil(n / kmPerDegree * radiusKm)
	if r > n || math.IsNaN(r) {
		return int(n)
	}
	return int(r)
}

// Area is the square of tiles centered on Center, reaching Radius tiles in
// every direction.
//
// The square stands in for the disk of the requested radius. It ignores
// that tiles shrink in ground distance toward the poles, so it fetches more
// than needed at high latitudes and can fall short at very low zoom. Cells of
// the square beyond the grid edges are counted but never enumerated.
type Area struct {
	Center Coord
	Radius int
}

// Coverage returns the area of tiles around the tile containing (lat, lon).
func Coverage(lat, lon float64, zoom int, radiusKm float64) Area {
	return Area{
		Center: FromLatLon(lat, lon, zoom),
		Radius: RadiusInTiles(zoom, radiusKm),
	}
}

// Size is the number of cells in the square, including cells beyond the grid.
func (a Area) Size() int {
	side := 2*a.Radius + 1
	return side * side
}

// InGrid is the number of cells of the square that are real tiles.
func (a Area) InGrid() int {
	x0, x1, y0, y1, ok := a.bounds()
	if !ok {
		return 0
	}
	return (x1 - x0 + 1) * (y1 - y0 + 1)
}

// OutOfRange is the number of cells of the square beyond the grid edges.
func (a Area) OutOfRange() int {
	return a.Size() - a.InGrid()
}

// Tiles yields the real tiles of the area column by column, without
// materializing the square. Stopping the iteration early is cheap.
func (a Area) Tiles() iter.Seq[Coord] {
	return func(yield func(Coord) bool) {
		x0, x1, y0, y1, ok := a.bounds()
		if !ok {
			return
		}
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				if !yield(Coord{Z: a.Center.Z, X: x, Y: y}) {
					return
				}
			}
		}
	}
}

// bounds returns the inclusive index ranges of the square clipped to the grid.
func (a Area) bounds() (x0, x1, y0, y1 int, ok bool) {
	z := a.Center.Z
	if z < 0 || z > MaxZoom || a.Radius < 0 {
		return 0, 0, 0, 0, false
	}
	last := 1<<z - 1
	x0, x1 = max(a.Center.X-a.Radius, 0), min(a.Center.X+a.Radius, last)
	y0, y1 = max(a.Center.Y-a.Radius, 0), min(a.Center.Y+a.Radius, last)
	return x0, x1, y0, y1, x0 <= x1 && y0 <= y1
}
