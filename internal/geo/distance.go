package geo

import (
	"math"

	"github.com/sells-group/geo-catalog/internal/model"
)

// EarthRadiusMeters is the IUGG mean Earth radius.
const EarthRadiusMeters = 6371008.8

// boxEpsilon pads prefilter boxes against rounding at their edges.
const boxEpsilon = 1e-9

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Haversine returns the great-circle distance in meters between a and b on
// a sphere of EarthRadiusMeters.
func Haversine(a, b model.Point) float64 {
	lat1, lat2 := radians(a.Latitude), radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	h = math.Min(1, h)
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Around returns a box containing every point within meters of center.
// It over-covers and is meant as an index prefilter before Haversine. The
// box spans all longitudes when the circle reaches a pole, and crosses the
// antimeridian when the circle does.
func Around(center model.Point, meters float64) BBox {
	dLat := meters/EarthRadiusMeters*180/math.Pi + boxEpsilon

	south := center.Latitude - dLat
	north := center.Latitude + dLat
	if south <= -90 || north >= 90 {
		return BBox{West: -180, South: math.Max(south, -90), East: 180, North: math.Min(north, 90)}
	}

	// Longitude extremes of a spherical cap that does not contain a pole.
	sinRatio := math.Sin(meters/EarthRadiusMeters) / math.Cos(radians(center.Latitude))
	if sinRatio >= 1 {
		return BBox{West: -180, South: south, East: 180, North: north}
	}
	dLon := math.Asin(sinRatio)*180/math.Pi + boxEpsilon
	if dLon >= 180 {
		return BBox{West: -180, South: south, East: 180, North: north}
	}

	west := center.Longitude - dLon
	east := center.Longitude + dLon
	if west < -180 {
		west += 360
	}
	if east > 180 {
		east -= 360
	}
	return BBox{West: west, South: south, East: east, North: north}
}
