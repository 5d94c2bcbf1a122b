package matching

import "math"

const earthRadiusKm = 6371

// DistanceKm is the Haversine great-circle distance between a and b in km,
// rounded to one decimal place.
func DistanceKm(a, b Coordinate) float64 {
	dLat := (b.Lat - a.Lat) * (math.Pi / 180)
	dLon := (b.Lon - a.Lon) * (math.Pi / 180)
	lat1 := a.Lat * (math.Pi / 180)
	lat2 := b.Lat * (math.Pi / 180)

	// cos product first so swapping a and b gives bit-identical results
	cosProd := math.Cos(lat1) * math.Cos(lat2)
	sLat := math.Sin(dLat / 2)
	sLon := math.Sin(dLon / 2)
	h := sLat*sLat + cosProd*(sLon*sLon)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return math.Round(earthRadiusKm*c*10) / 10
}
