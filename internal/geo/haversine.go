// Package geo holds great-circle helpers.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for all distances.
const EarthRadiusKm = 6371.0

// Haversine returns the great-circle distance in kilometres between two
// points given in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// Rounding can push a marginally above 1 for antipodal points.
	a = math.Min(1, math.Max(0, a))
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

// ValidLatitude reports whether lat is a finite value in [-90, 90].
func ValidLatitude(lat float64) bool {
	return lat >= -90 && lat <= 90
}

// ValidLongitude reports whether lon is a finite value in [-180, 180].
func ValidLongitude(lon float64) bool {
	return lon >= -180 && lon <= 180
}
